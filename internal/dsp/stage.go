package dsp

import (
	"fmt"

	"github.com/satindergrewal/eegscope/internal/recording"
	"gonum.org/v1/gonum/floats"
)

// Filtered holds the band-passed channels of one recording. Every slice is
// aligned index-for-index with the source time axis. It is never mutated
// after Apply returns and may be shared freely.
type Filtered struct {
	Ch1  []float64
	Ch2  []float64
	Diff []float64 // filter(ch2 - ch1)
	Spec FilterSpec
}

// Len returns the number of samples.
func (f *Filtered) Len() int { return len(f.Ch1) }

// Apply designs the filter and runs it over ch1, ch2, and ch2-ch1.
// The difference is taken before filtering; with a causal filter the
// start-up transient of filter(ch2-ch1) differs slightly from
// filter(ch2)-filter(ch1), which is accepted.
func Apply(rec *recording.Recording, spec FilterSpec) (*Filtered, error) {
	if rec == nil || rec.Len() == 0 {
		return nil, ErrEmptySeries
	}
	if len(rec.Ch1) != len(rec.Ch2) {
		return nil, fmt.Errorf("channel lengths differ: %d != %d", len(rec.Ch1), len(rec.Ch2))
	}
	sos, err := Design(spec)
	if err != nil {
		return nil, err
	}

	diff := make([]float64, len(rec.Ch2))
	floats.SubTo(diff, rec.Ch2, rec.Ch1)

	out := &Filtered{Spec: spec}
	for _, c := range []struct {
		name string
		in   []float64
		dst  *[]float64
	}{
		{"channel 1", rec.Ch1, &out.Ch1},
		{"channel 2", rec.Ch2, &out.Ch2},
		{"difference", diff, &out.Diff},
	} {
		y, err := sos.Filter(c.in)
		if err != nil {
			return nil, fmt.Errorf("error filtering %s: %w", c.name, err)
		}
		*c.dst = y
	}
	return out, nil
}
