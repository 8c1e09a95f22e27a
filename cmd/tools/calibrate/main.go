// Command calibrate takes repeated HC-SR04 readings and prints a summary,
// for checking the wiring and the sensor's spread against a known target.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/banshee-data/companion/internal/logscan"
	"github.com/banshee-data/companion/internal/monitoring"
	"github.com/banshee-data/companion/internal/rangefinder"
)

var (
	trigPin  = flag.String("trig", "GPIO23", "Trigger line (name or BCM number)")
	echoPin  = flag.String("echo", "GPIO24", "Echo line (name or BCM number)")
	interval = flag.Duration("interval", 100*time.Millisecond, "Delay between samples")
	samples  = flag.Int("samples", 20, "Number of samples to take")
	timeout  = flag.Duration("timeout", rangefinder.DefaultReadTimeout, "Per-edge echo timeout")
	verbose  = flag.Bool("v", false, "Log per-poll detail")
)

func main() {
	flag.Parse()
	if *samples <= 0 {
		log.Fatalf("--samples must be positive, got %d", *samples)
	}

	level := monitoring.LevelInfo
	if *verbose {
		level = monitoring.LevelDebug
	}
	rangefinder.SetLogWriters(monitoring.WritersForLevel(level, os.Stderr))

	sensor, err := rangefinder.Open(rangefinder.Config{
		Trigger: *trigPin,
		Echo:    *echoPin,
		Settle:  rangefinder.MinSettle,
	})
	if err != nil {
		log.Fatalf("failed to open sensor: %v", err)
	}
	defer func() {
		if err := sensor.Release(); err != nil {
			log.Printf("release failed: %v", err)
		}
	}()

	records := collect(sensor, *samples, *interval, *timeout, func(line string) { fmt.Println(line) })
	fmt.Println(logscan.Summarize(records))
}

// collect takes n readings and emits each as a distance record line.
func collect(sensor rangefinder.Sensor, n int, every, timeout time.Duration, emit func(string)) []logscan.Record {
	records := make([]logscan.Record, 0, n)
	for i := 0; i < n; i++ {
		if i > 0 && every > 0 {
			time.Sleep(every)
		}
		r := sensor.ReadDistance(timeout)
		emit(fmt.Sprintf("Distance: %s m", r))
		records = append(records, logscan.Record{Line: i + 1, Reading: r})
	}
	return records
}
