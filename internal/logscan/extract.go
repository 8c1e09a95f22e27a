// Package logscan pulls distance readings back out of companion logs.
package logscan

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"

	"github.com/banshee-data/companion/internal/rangefinder"
)

// distanceRecord matches the per-tick record written by the control loop.
var distanceRecord = regexp.MustCompile(`Distance: (\d+\.\d+|None) m`)

// Record is one distance record and the log line it came from.
type Record struct {
	Line    int
	Reading rangefinder.Reading
}

// maxLineBytes bounds the line length Extract inspects. Longer lines are
// skipped; a distance record is always short.
const maxLineBytes = 1024 * 1024

// Extract scans r line by line and returns every distance record in order.
// Lines without a record, and lines longer than maxLineBytes, are skipped.
func Extract(r io.Reader) ([]Record, error) {
	var out []Record
	br := bufio.NewReaderSize(r, 64*1024)
	var buf []byte
	line := 0
	oversized := false
	for {
		part, isPrefix, err := br.ReadLine()
		if err == io.EOF {
			break
		}
		if err != nil {
			return out, fmt.Errorf("read line %d: %w", line+1, err)
		}
		if !oversized {
			if len(buf)+len(part) > maxLineBytes {
				oversized = true
				buf = buf[:0]
			} else {
				buf = append(buf, part...)
			}
		}
		if isPrefix {
			continue
		}

		line++
		if oversized {
			oversized = false
			continue
		}
		rec, ok, err := parseLine(buf, line)
		buf = buf[:0]
		if err != nil {
			return out, err
		}
		if ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func parseLine(b []byte, line int) (Record, bool, error) {
	m := distanceRecord.FindSubmatch(b)
	if m == nil {
		return Record{}, false, nil
	}
	reading := rangefinder.Absent()
	if v := string(m[1]); v != "None" {
		d, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Record{}, false, fmt.Errorf("line %d: %w", line, err)
		}
		reading = rangefinder.Meters(d)
	}
	return Record{Line: line, Reading: reading}, true, nil
}

// ExtractFile is Extract over the file at path.
func ExtractFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Extract(f)
}
