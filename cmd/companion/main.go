package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/companion/internal/avoidance"
	"github.com/banshee-data/companion/internal/camera"
	"github.com/banshee-data/companion/internal/config"
	"github.com/banshee-data/companion/internal/control"
	"github.com/banshee-data/companion/internal/monitoring"
	"github.com/banshee-data/companion/internal/rangefinder"
	"github.com/banshee-data/companion/internal/vehicle"
	"github.com/banshee-data/companion/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to JSON config file (defaults are built in)")
	address     = flag.String("address", "", "Vehicle address override, e.g. serial:///dev/serial0:57600 or udp://:14540")
	debugListen = flag.String("debug-listen", "", "Listen address for the /debug/ pages (disabled when empty)")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println(version.String())
		return
	}
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("failed to load config: %v", err)
		return 1
	}
	if *address != "" {
		cfg.VehicleAddress = address
	}

	out, closeLog := logOutput(cfg.GetLogDir())
	defer closeLog()
	log.SetOutput(out)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	level, err := monitoring.ParseLevel(cfg.GetLogLevel())
	if err != nil {
		log.Printf("%v, using %v", err, level)
	}
	setLogWriters(monitoring.WritersForLevel(level, out))
	log.Printf("%s starting, log level %v", version.String(), level)

	hardCtx, abort := context.WithCancel(context.Background())
	defer abort()
	shutdown := control.NewShutdown(hardCtx)

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go handleSignals(sigs, shutdown, abort)

	client := vehicle.NewClient(vehicle.NewMAVLinkDialer(vehicle.MAVLinkConfig{
		Serial: vehicle.SerialOptions{
			DataBits: cfg.GetSerialDataBits(),
			StopBits: cfg.GetSerialStopBits(),
			Parity:   cfg.GetSerialParity(),
		},
	}), vehicle.Config{StopTimeout: cfg.GetOffboardStopTimeout()})

	var cam camera.Source
	if addr := cfg.GetCameraAddr(); addr != "" {
		probe, err := camera.Open(addr)
		if err != nil {
			log.Printf("camera unavailable, continuing without it: %v", err)
		} else {
			cam = probe
		}
	}

	loop := control.New(loopConfig(cfg), control.Deps{
		Vehicle: client,
		OpenSensor: func() (rangefinder.Sensor, error) {
			return rangefinder.Open(rangefinder.Config{
				Trigger: cfg.GetTriggerPin(),
				Echo:    cfg.GetEchoPin(),
				Settle:  cfg.GetSensorSettle(),
			})
		},
		Camera: cam,
	})

	var wg sync.WaitGroup
	loopDone := make(chan struct{})
	if *debugListen != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveDebug(*debugListen, loop, loopDone)
		}()
	}

	err = loop.Run(hardCtx, shutdown)
	close(loopDone)
	wg.Wait()

	if err != nil {
		log.Printf("companion stopped with error: %v", err)
		return 1
	}
	log.Printf("Graceful shutdown complete")
	return 0
}

// handleSignals triggers a graceful shutdown on the first signal and aborts
// the in-flight manoeuvre on the second.
func handleSignals(sigs <-chan os.Signal, shutdown *control.Shutdown, abort context.CancelFunc) {
	n := 0
	for sig := range sigs {
		n++
		if n == 1 {
			log.Printf("received %v, finishing current tick (signal again to abort)", sig)
			shutdown.Trigger()
			continue
		}
		log.Printf("received %v again, aborting", sig)
		abort()
		return
	}
}

func loopConfig(cfg *config.Config) control.Config {
	return control.Config{
		Address: cfg.GetVehicleAddress(),
		Policy: avoidance.Policy{
			Threshold: cfg.GetDistanceThresholdM(),
			Command: vehicle.VelocityCommand{
				East:     cfg.GetEvasiveEastMps(),
				Duration: cfg.GetOffboardVelocityDuration(),
			},
		},
		Interval:       cfg.GetTickInterval(),
		ReadTimeout:    cfg.GetSensorTimeout(),
		ConnectTimeout: cfg.GetConnectTimeout(),
	}
}

// logOutput tees logs into dir/companion.log when dir is set and writable.
func logOutput(dir string) (io.Writer, func()) {
	if dir == "" {
		return os.Stderr, func() {}
	}
	f, err := monitoring.OpenLogFile(dir)
	if err != nil {
		log.Printf("file logging disabled: %v", err)
		return os.Stderr, func() {}
	}
	return io.MultiWriter(os.Stderr, f), func() { f.Close() }
}

func setLogWriters(w monitoring.LogWriters) {
	rangefinder.SetLogWriters(w)
	vehicle.SetLogWriters(w)
	camera.SetLogWriters(w)
	control.SetLogWriters(w)
}

func serveDebug(addr string, loop *control.Loop, done <-chan struct{}) {
	mux := http.NewServeMux()
	loop.AttachAdminRoutes(mux)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("debug server failed: %v", err)
		}
	}()
	log.Printf("debug pages on http://%s/debug/", addr)

	<-done
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("debug server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("debug server force close error: %v", err)
		}
	}
}
