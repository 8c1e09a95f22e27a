package control

import (
	"time"

	"github.com/banshee-data/companion/internal/rangefinder"
)

// Stats is a snapshot of loop activity.
type Stats struct {
	State            string    `json:"state"`
	StartedAt        time.Time `json:"started_at"`
	Ticks            uint64    `json:"ticks"`
	AbsentReadings   uint64    `json:"absent_readings"`
	LastReading      string    `json:"last_reading"`
	LastReadingAt    time.Time `json:"last_reading_at"`
	Commands         uint64    `json:"commands"`
	OffboardFailures uint64    `json:"offboard_failures"`
	LastError        string    `json:"last_error,omitempty"`
}

// Stats returns a copy of the current counters. Safe for concurrent use.
func (l *Loop) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.stats
	s.State = l.state.String()
	return s
}

func (l *Loop) recordTick(r rangefinder.Reading, commanded bool) {
	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stats.Ticks++
	if !r.Valid {
		l.stats.AbsentReadings++
	}
	l.stats.LastReading = r.String()
	l.stats.LastReadingAt = now
	if commanded {
		l.stats.Commands++
	}
}

func (l *Loop) recordFailure(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stats.OffboardFailures++
	l.stats.LastError = err.Error()
}
