package playback

import (
	"fmt"
	"sort"

	"github.com/satindergrewal/eegscope/internal/dsp"
)

// Layout fixes the window width and vertical trace separation.
type Layout struct {
	Span   float64 // seconds visible
	Offset float64 // µV between traces
}

var DefaultLayout = Layout{Span: 30, Offset: 120}

// YRange is the fixed vertical axis range. It does not follow the data;
// outliers are clipped by the renderer.
func (l Layout) YRange() (lo, hi float64) {
	return -2*l.Offset + 40, 2*l.Offset - 40
}

// View is the visible slice of a recording for one cursor position.
// Slices are read-only; Time and Ch2 alias the source data.
type View struct {
	Start  float64   `json:"start"`
	End    float64   `json:"end"`
	YMin   float64   `json:"y_min"`
	YMax   float64   `json:"y_max"`
	Offset float64   `json:"offset"`
	Time   []float64 `json:"time"`
	Ch1    []float64 `json:"ch1"`  // shifted by +Offset
	Ch2    []float64 `json:"ch2"`  // unshifted
	Diff   []float64 `json:"diff"` // shifted by -Offset
}

// Len returns the number of visible samples.
func (v View) Len() int { return len(v.Time) }

// Empty reports whether no samples are visible.
func (v View) Empty() bool { return len(v.Time) == 0 }

// Window selects samples with cursor < time < cursor+Span. Both bounds are
// strict: a sample exactly at either edge is not shown. time must be
// non-decreasing, which lets the mask be found by binary search.
func Window(f *dsp.Filtered, time []float64, cursor float64, l Layout) (View, error) {
	if len(time) == 0 || f == nil {
		return View{}, dsp.ErrEmptySeries
	}
	if f.Len() != len(time) || len(f.Ch2) != len(time) || len(f.Diff) != len(time) {
		return View{}, fmt.Errorf("%w: time=%d filtered=%d", ErrLengthMismatch, len(time), f.Len())
	}

	end := cursor + l.Span
	yMin, yMax := l.YRange()
	v := View{Start: cursor, End: end, YMin: yMin, YMax: yMax, Offset: l.Offset}

	lo := sort.Search(len(time), func(i int) bool { return time[i] > cursor })
	hi := sort.Search(len(time), func(i int) bool { return time[i] >= end })
	if lo >= hi {
		return v, nil
	}

	v.Time = time[lo:hi:hi]
	v.Ch2 = f.Ch2[lo:hi:hi]
	v.Ch1 = make([]float64, hi-lo)
	v.Diff = make([]float64, hi-lo)
	for i := lo; i < hi; i++ {
		v.Ch1[i-lo] = f.Ch1[i] + l.Offset
		v.Diff[i-lo] = f.Diff[i] - l.Offset
	}
	return v, nil
}

// Scene binds a filtered recording to its time axis and layout.
type Scene struct {
	Time     []float64
	Filtered *dsp.Filtered
	Layout   Layout
}

// NewScene checks that time and filtered data line up.
func NewScene(time []float64, f *dsp.Filtered, l Layout) (*Scene, error) {
	if len(time) == 0 || f == nil || f.Len() == 0 {
		return nil, dsp.ErrEmptySeries
	}
	if f.Len() != len(time) {
		return nil, fmt.Errorf("%w: time=%d filtered=%d", ErrLengthMismatch, len(time), f.Len())
	}
	if !(l.Span > 0) {
		return nil, fmt.Errorf("window span must be positive, got %g", l.Span)
	}
	return &Scene{Time: time, Filtered: f, Layout: l}, nil
}

// View returns the window at cursor.
func (s *Scene) View(cursor float64) (View, error) {
	return Window(s.Filtered, s.Time, cursor, s.Layout)
}

// Bounds returns the first and last sample times.
func (s *Scene) Bounds() (tMin, tMax float64) {
	return s.Time[0], s.Time[len(s.Time)-1]
}
