package playback

import (
	"math/rand/v2"
	"testing"

	"github.com/satindergrewal/eegscope/internal/dsp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rampScene builds a recording over [0, seconds] at rate Hz whose filtered
// channels are simple functions of the sample index.
func rampScene(t *testing.T, seconds, rate int) *Scene {
	t.Helper()
	n := seconds*rate + 1
	tm := make([]float64, n)
	f := &dsp.Filtered{
		Ch1:  make([]float64, n),
		Ch2:  make([]float64, n),
		Diff: make([]float64, n),
	}
	for i := 0; i < n; i++ {
		tm[i] = float64(i) / float64(rate)
		f.Ch1[i] = 1
		f.Ch2[i] = 2
		f.Diff[i] = 3
	}
	s, err := NewScene(tm, f, DefaultLayout)
	require.NoError(t, err)
	return s
}

func TestWindowStrictBounds(t *testing.T) {
	s := rampScene(t, 100, 512)

	v, err := s.View(10)
	require.NoError(t, err)

	require.False(t, v.Empty())
	assert.Equal(t, 10.0, v.Start)
	assert.Equal(t, 40.0, v.End)
	assert.Greater(t, v.Time[0], 10.0)
	assert.Less(t, v.Time[v.Len()-1], 40.0)
	assert.Equal(t, 10.0+1.0/512, v.Time[0])
	assert.Equal(t, 40.0-1.0/512, v.Time[v.Len()-1])
	assert.Equal(t, 30*512-1, v.Len())
}

func TestWindowLayout(t *testing.T) {
	s := rampScene(t, 60, 64)

	v, err := s.View(0)
	require.NoError(t, err)

	assert.Equal(t, -200.0, v.YMin)
	assert.Equal(t, 200.0, v.YMax)
	assert.Equal(t, 120.0, v.Offset)
	for i := 0; i < v.Len(); i++ {
		require.Equal(t, 121.0, v.Ch1[i])
		require.Equal(t, 2.0, v.Ch2[i])
		require.Equal(t, -117.0, v.Diff[i])
	}

	// Layout must not leak back into the shared filtered data.
	assert.Equal(t, 1.0, s.Filtered.Ch1[10])
	assert.Equal(t, 3.0, s.Filtered.Diff[10])
}

func TestWindowTruncatedAtEnd(t *testing.T) {
	s := rampScene(t, 100, 512)
	_, tMax := s.Bounds()

	v, err := s.View(tMax - 5)
	require.NoError(t, err)

	assert.Equal(t, 5*512, v.Len())
	assert.Greater(t, v.Time[0], tMax-5)
	assert.Equal(t, tMax, v.Time[v.Len()-1])
	assert.Equal(t, tMax+25, v.End)
}

func TestWindowPastEndIsEmpty(t *testing.T) {
	s := rampScene(t, 10, 64)

	for _, cursor := range []float64{10, 11, 1e6} {
		v, err := s.View(cursor)
		require.NoError(t, err)
		assert.True(t, v.Empty(), "cursor %g", cursor)
		assert.Equal(t, cursor, v.Start)
		assert.Equal(t, cursor+30, v.End)
	}
}

func TestWindowBeforeStart(t *testing.T) {
	s := rampScene(t, 100, 10)

	v, err := s.View(-20)
	require.NoError(t, err)
	// (-20, 10): samples 0 .. 9.9
	assert.Equal(t, 100, v.Len())
	assert.Equal(t, 0.0, v.Time[0])
}

func TestWindowMatchesMask(t *testing.T) {
	s := rampScene(t, 100, 32)
	rng := rand.New(rand.NewPCG(1, 2))

	for range 500 {
		cursor := rng.Float64()*140 - 20
		if rng.IntN(4) == 0 {
			cursor = float64(rng.IntN(100)) // land exactly on sample times
		}
		v, err := s.View(cursor)
		require.NoError(t, err)

		want := 0
		for _, tm := range s.Time {
			if tm > cursor && tm < cursor+30 {
				want++
			}
		}
		require.Equal(t, want, v.Len(), "cursor %g", cursor)
		for _, tm := range v.Time {
			require.True(t, tm > cursor && tm < cursor+30, "sample %g outside (%g, %g)", tm, cursor, cursor+30)
		}
	}
}

func TestWindowErrors(t *testing.T) {
	_, err := Window(&dsp.Filtered{}, nil, 0, DefaultLayout)
	require.ErrorIs(t, err, dsp.ErrEmptySeries)

	f := &dsp.Filtered{Ch1: []float64{1}, Ch2: []float64{1}, Diff: []float64{1}}
	_, err = Window(f, []float64{0, 1}, 0, DefaultLayout)
	require.ErrorIs(t, err, ErrLengthMismatch)

	_, err = NewScene([]float64{0, 1}, f, DefaultLayout)
	require.ErrorIs(t, err, ErrLengthMismatch)

	_, err = NewScene(nil, f, DefaultLayout)
	require.ErrorIs(t, err, dsp.ErrEmptySeries)

	_, err = NewScene([]float64{0}, f, Layout{Span: 0, Offset: 120})
	require.Error(t, err)
}
