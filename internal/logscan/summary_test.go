package logscan

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/companion/internal/rangefinder"
)

func records(values ...float64) []Record {
	out := make([]Record, len(values))
	for i, v := range values {
		if v < 0 {
			out[i] = Record{Line: i + 1, Reading: rangefinder.Absent()}
			continue
		}
		out[i] = Record{Line: i + 1, Reading: rangefinder.Meters(v)}
	}
	return out
}

func TestSummarize(t *testing.T) {
	s := Summarize(records(1, 2, -1, 3, 4))

	assert.Equal(t, 5, s.Count)
	assert.Equal(t, 4, s.Present)
	assert.Equal(t, 1, s.Absent)
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 4.0, s.Max)
	assert.InDelta(t, 2.5, s.Mean, 1e-9)
	assert.InDelta(t, 1.2910, s.StdDev, 1e-4)
	assert.Equal(t, 2.0, s.Median)
	assert.Contains(t, s.String(), "mean 2.500 m")
}

func TestSummarize_AllAbsent(t *testing.T) {
	s := Summarize(records(-1, -1))
	assert.Equal(t, 2, s.Absent)
	assert.Zero(t, s.Present)
	assert.Equal(t, "2 readings, all None", s.String())
}

func TestSummarize_Single(t *testing.T) {
	s := Summarize(records(0.75))
	assert.Equal(t, 0.75, s.Mean)
	assert.Zero(t, s.StdDev)
}

func TestWriteHTML(t *testing.T) {
	var sb strings.Builder
	require.NoError(t, WriteHTML(&sb, records(1.2, -1, 0.8), "companion distances"))

	html := sb.String()
	assert.Contains(t, html, "companion distances")
	assert.Contains(t, html, "echarts")
}

func TestSavePNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "distances.png")
	require.NoError(t, SavePNG(path, records(1.2, -1, 0.8, 0.9), "companion distances"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	assert.Error(t, SavePNG(path, records(-1), "empty"))
}
