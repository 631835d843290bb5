// Package recording loads two-channel EEG recordings from tabular files.
package recording

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/gonum/floats"
)

// NominalSampleRate is used when a file does not state its rate.
const NominalSampleRate = 512.0

var (
	ErrUnsupportedFormat = errors.New("unsupported input format")
	ErrMissingColumn     = errors.New("missing column")
	ErrNonMonotonic      = errors.New("time column is not monotonically non-decreasing")
	ErrNoSamples         = errors.New("recording has no samples")
)

// Recording is an immutable two-channel recording on a shared time axis.
type Recording struct {
	Time       []float64     // seconds
	Ch1        []float64     // µV
	Ch2        []float64     // µV
	SampleRate float64       // Hz (nominal)
	StartClock time.Duration // time of day of t=0, used for axis labels
	Source     string
}

// Columns names the three columns read from tabular input. For EDF input
// Ch1 and Ch2 may be signal labels or zero-based signal indices.
type Columns struct {
	Time  string
	Ch1   string
	Ch2   string
	Sheet string // xlsx only; empty means the first sheet
}

// DefaultColumns matches the header written by the acquisition software.
var DefaultColumns = Columns{
	Time: "Time:512Hz",
	Ch1:  "Channel 1",
	Ch2:  "Channel 2",
}

// Options controls Load.
type Options struct {
	Columns    Columns
	SampleRate float64 // fallback when the file does not carry one
}

// Load reads a recording, picking the parser from the file extension.
func Load(path string, opts Options) (*Recording, error) {
	if opts.Columns == (Columns{}) {
		opts.Columns = DefaultColumns
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = NominalSampleRate
	}

	var (
		rec *Recording
		err error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		rec, err = loadCSV(path, opts)
	case ".xlsx":
		rec, err = loadXLSX(path, opts)
	case ".edf":
		rec, err = loadEDF(path, opts)
	default:
		return nil, fmt.Errorf("%s: %w %q", path, ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("error loading %s: %w", path, err)
	}

	rec.Source = path
	if rec.StartClock == 0 {
		if clock, ok := StartClockFromName(path); ok {
			rec.StartClock = clock
		}
	}
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("error loading %s: %w", path, err)
	}
	return rec, nil
}

// Validate checks the shape invariants of a recording.
func (r *Recording) Validate() error {
	if len(r.Time) == 0 {
		return ErrNoSamples
	}
	if len(r.Ch1) != len(r.Time) || len(r.Ch2) != len(r.Time) {
		return fmt.Errorf("column lengths differ: time=%d ch1=%d ch2=%d", len(r.Time), len(r.Ch1), len(r.Ch2))
	}
	for i := 1; i < len(r.Time); i++ {
		if r.Time[i] < r.Time[i-1] {
			return fmt.Errorf("row %d (t=%g after t=%g): %w", i, r.Time[i], r.Time[i-1], ErrNonMonotonic)
		}
	}
	return nil
}

// Len returns the number of samples.
func (r *Recording) Len() int { return len(r.Time) }

// Bounds returns t_min and t_max.
func (r *Recording) Bounds() (tMin, tMax float64) {
	return floats.Min(r.Time), floats.Max(r.Time)
}

// Duration returns t_max - t_min in seconds.
func (r *Recording) Duration() float64 {
	tMin, tMax := r.Bounds()
	return tMax - tMin
}

var rateHeader = regexp.MustCompile(`(?i):\s*([0-9]+(?:\.[0-9]+)?)\s*hz\s*$`)

// sampleRateFromHeader extracts N from a "Time:NHz" column header.
func sampleRateFromHeader(name string) (float64, bool) {
	m := rateHeader.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	hz, err := strconv.ParseFloat(m[1], 64)
	if err != nil || hz <= 0 {
		return 0, false
	}
	return hz, true
}

// estimateSampleRate returns 1/median(dt), or fallback when the time
// axis is too short or degenerate.
func estimateSampleRate(t []float64, fallback float64) float64 {
	if len(t) < 2 {
		return fallback
	}
	dt := make([]float64, 0, len(t)-1)
	for i := 1; i < len(t); i++ {
		if d := t[i] - t[i-1]; d > 0 {
			dt = append(dt, d)
		}
	}
	if len(dt) == 0 {
		return fallback
	}
	sort.Float64s(dt)
	med := dt[len(dt)/2]
	return math.Round(1/med*1000) / 1000
}

var clockInName = regexp.MustCompile(`\[(\d{4})\.(\d{2})\.(\d{2})-(\d{2})\.(\d{2})\.(\d{2})\]`)

// StartClockFromName parses the time of day from a file name of the form
// record-[2022.08.22-14.31.58].csv.
func StartClockFromName(path string) (time.Duration, bool) {
	m := clockInName.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return 0, false
	}
	h, _ := strconv.Atoi(m[4])
	mi, _ := strconv.Atoi(m[5])
	s, _ := strconv.Atoi(m[6])
	if h > 23 || mi > 59 || s > 59 {
		return 0, false
	}
	return time.Duration(h)*time.Hour + time.Duration(mi)*time.Minute + time.Duration(s)*time.Second, true
}

// ParseClock parses HH:MM:SS into a time of day.
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04:05", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("error parsing clock %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute + time.Duration(t.Second())*time.Second, nil
}

// table is the intermediate form shared by the csv and xlsx readers.
type table struct {
	header []string
	rows   [][]string
}

func (tb table) index(name string) (int, error) {
	for i, h := range tb.header {
		if strings.TrimSpace(h) == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w %q (have %v)", ErrMissingColumn, name, tb.header)
}

// toRecording converts string cells to a Recording. Rows whose cells are
// all empty are skipped; anything else that fails to parse is an error.
func (tb table) toRecording(opts Options) (*Recording, error) {
	ti, err := tb.index(opts.Columns.Time)
	if err != nil {
		return nil, err
	}
	c1, err := tb.index(opts.Columns.Ch1)
	if err != nil {
		return nil, err
	}
	c2, err := tb.index(opts.Columns.Ch2)
	if err != nil {
		return nil, err
	}

	rec := &Recording{
		Time: make([]float64, 0, len(tb.rows)),
		Ch1:  make([]float64, 0, len(tb.rows)),
		Ch2:  make([]float64, 0, len(tb.rows)),
	}
	for r, row := range tb.rows {
		if blank(row) {
			continue
		}
		var vals [3]float64
		for k, col := range [3]int{ti, c1, c2} {
			if col >= len(row) {
				return nil, fmt.Errorf("row %d: %w %q", r+2, ErrMissingColumn, tb.header[col])
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(row[col]), 64)
			if err != nil {
				return nil, fmt.Errorf("row %d column %q: %w", r+2, tb.header[col], err)
			}
			vals[k] = v
		}
		rec.Time = append(rec.Time, vals[0])
		rec.Ch1 = append(rec.Ch1, vals[1])
		rec.Ch2 = append(rec.Ch2, vals[2])
	}

	if hz, ok := sampleRateFromHeader(opts.Columns.Time); ok {
		rec.SampleRate = hz
	} else {
		rec.SampleRate = estimateSampleRate(rec.Time, opts.SampleRate)
	}
	return rec, nil
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
