package avoidance

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/banshee-data/companion/internal/rangefinder"
	"github.com/banshee-data/companion/internal/vehicle"
)

func TestDecide(t *testing.T) {
	tests := []struct {
		name      string
		reading   rangefinder.Reading
		threshold float64
		want      bool
	}{
		{"absent", rangefinder.Absent(), 1.0, false},
		{"absent huge threshold", rangefinder.Absent(), math.MaxFloat64, false},
		{"zero", rangefinder.Meters(0), 1.0, false},
		{"negative", rangefinder.Meters(-0.5), 1.0, false},
		{"just inside", rangefinder.Meters(0.99), 1.0, true},
		{"boundary", rangefinder.Meters(1.0), 1.0, false},
		{"far", rangefinder.Meters(2.0), 1.0, false},
		{"tiny positive", rangefinder.Meters(1e-9), 1.0, true},
		{"zero threshold", rangefinder.Meters(0.5), 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, ok := Decide(tt.reading, tt.threshold)
			assert.Equal(t, tt.want, ok)
			if ok {
				assert.Equal(t, DefaultCommand, cmd)
			} else {
				assert.Equal(t, vehicle.VelocityCommand{}, cmd)
			}
		})
	}
}

func TestDecide_DefaultCommand(t *testing.T) {
	cmd, ok := Decide(rangefinder.Meters(0.99), 1.0)
	assert.True(t, ok)
	assert.Equal(t, 1.0, cmd.East)
	assert.Zero(t, cmd.North)
	assert.Zero(t, cmd.Down)
	assert.Zero(t, cmd.YawDeg)
	assert.Equal(t, 1500*time.Millisecond, cmd.Duration)
}

// The command is issued iff the reading is present and 0 < d < T.
func TestDecide_Property(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 10000; i++ {
		threshold := rng.Float64()*10 - 1
		d := rng.Float64()*12 - 2
		valid := rng.Intn(4) != 0
		r := rangefinder.Reading{Meters: d, Valid: valid}

		_, ok := Decide(r, threshold)
		want := valid && d > 0 && d < threshold
		if ok != want {
			t.Fatalf("Decide(%+v, %f) = %v, want %v", r, threshold, ok, want)
		}
	}
}

func TestPolicy_Custom(t *testing.T) {
	p := Policy{
		Threshold: 2.5,
		Command:   vehicle.VelocityCommand{East: -0.8, Duration: 2 * time.Second},
	}

	cmd, ok := p.Decide(rangefinder.Meters(2.0))
	assert.True(t, ok)
	assert.Equal(t, p.Command, cmd)

	_, ok = p.Decide(rangefinder.Meters(2.5))
	assert.False(t, ok)

	_, ok = Policy{}.Decide(rangefinder.Meters(0.1))
	assert.False(t, ok, "zero policy never triggers")
}
