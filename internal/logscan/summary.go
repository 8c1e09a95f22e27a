package logscan

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Summary describes a series of distance records. Statistics cover the
// present readings only.
type Summary struct {
	Count   int
	Present int
	Absent  int
	Min     float64
	Max     float64
	Mean    float64
	StdDev  float64
	Median  float64
}

// Summarize computes a Summary over records.
func Summarize(records []Record) Summary {
	s := Summary{Count: len(records)}
	values := make([]float64, 0, len(records))
	for _, r := range records {
		if !r.Reading.Valid {
			s.Absent++
			continue
		}
		values = append(values, r.Reading.Meters)
	}
	s.Present = len(values)
	if s.Present == 0 {
		return s
	}

	sort.Float64s(values)
	s.Min, s.Max = values[0], values[len(values)-1]
	s.Mean, s.StdDev = stat.MeanStdDev(values, nil)
	if s.Present == 1 {
		s.StdDev = 0
	}
	s.Median = stat.Quantile(0.5, stat.Empirical, values, nil)
	return s
}

func (s Summary) String() string {
	if s.Present == 0 {
		return fmt.Sprintf("%d readings, all None", s.Count)
	}
	return fmt.Sprintf("%d readings (%d None): min %.3f m, max %.3f m, mean %.3f m, median %.3f m, stddev %.3f m",
		s.Count, s.Absent, s.Min, s.Max, s.Mean, s.Median, s.StdDev)
}
