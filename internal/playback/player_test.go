package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordSink struct {
	mu     sync.Mutex
	frames []Frame
	err    error
}

func (s *recordSink) WriteFrame(_ context.Context, fr Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, fr)
	return s.err
}

func (s *recordSink) snapshot() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Frame(nil), s.frames...)
}

func (s *recordSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func startPlayer(t *testing.T, sink FrameSink) (*Player, context.CancelFunc, <-chan struct{}) {
	t.Helper()
	s := rampScene(t, 100, 8)
	tMin, tMax := s.Bounds()
	c, err := NewController(tMin, tMax, DefaultStep)
	require.NoError(t, err)

	p := NewPlayer(c, s, sink, 2*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return p, cancel, done
}

func TestPlayerAutoAdvance(t *testing.T) {
	sink := &recordSink{}
	p, _, _ := startPlayer(t, sink)

	require.Eventually(t, func() bool { return sink.count() >= 5 }, 2*time.Second, time.Millisecond)

	frames := sink.snapshot()[:5]
	assert.Equal(t, 0.0, frames[0].State.Cursor, "initial frame shows t_min")
	for i, fr := range frames {
		assert.Equal(t, i, fr.Index)
		assert.Equal(t, Auto, fr.State.Mode)
		if i > 0 {
			assert.InDelta(t, frames[i-1].State.Cursor+DefaultStep, fr.State.Cursor, 1e-9)
		}
	}

	st := p.Status()
	assert.Equal(t, 100.0, st.TMax)
	assert.Equal(t, DefaultStep, st.Step)
	assert.Equal(t, 30.0, st.Span)
}

func TestPlayerScrubHoldsCursor(t *testing.T) {
	sink := &recordSink{}
	p, _, _ := startPlayer(t, sink)

	require.Eventually(t, func() bool { return sink.count() >= 2 }, 2*time.Second, time.Millisecond)
	p.Scrub(42.3)

	require.Eventually(t, func() bool {
		return p.Status().State.Mode == Manual
	}, 2*time.Second, time.Millisecond)

	n := sink.count()
	require.Eventually(t, func() bool { return sink.count() >= n+5 }, 2*time.Second, time.Millisecond)

	frames := sink.snapshot()
	var manual []Frame
	for _, fr := range frames {
		if fr.State.Mode == Manual {
			manual = append(manual, fr)
		}
	}
	require.NotEmpty(t, manual)
	for _, fr := range manual {
		assert.Equal(t, 42.0, fr.State.Cursor)
		assert.Equal(t, 42.0, fr.View.Start)
	}
	assert.Equal(t, 42.0, p.Latest().State.Cursor)
}

func TestPlayerResume(t *testing.T) {
	sink := &recordSink{}
	p, _, _ := startPlayer(t, sink)

	p.Scrub(60)
	require.Eventually(t, func() bool {
		return p.Status().State == State{Cursor: 60, Mode: Manual}
	}, 2*time.Second, time.Millisecond)

	p.Resume()
	require.Eventually(t, func() bool {
		st := p.Status().State
		return st.Mode == Auto && st.Cursor > 60
	}, 2*time.Second, time.Millisecond)

	// Auto resumes from the held cursor, not from where the ticker would
	// have been.
	for _, fr := range sink.snapshot() {
		if fr.State.Mode == Auto && fr.State.Cursor > 60 {
			assert.Equal(t, 60.5, fr.State.Cursor)
			break
		}
	}
}

func TestPlayerSinkErrorsDoNotStopPlayback(t *testing.T) {
	sink := &recordSink{err: errors.New("viewer gone")}
	p, _, _ := startPlayer(t, sink)

	require.Eventually(t, func() bool { return sink.count() >= 3 }, 2*time.Second, time.Millisecond)
	assert.GreaterOrEqual(t, p.Status().Frames, 3)
}

func TestPlayerStopsOnCancel(t *testing.T) {
	sink := &recordSink{}
	_, cancel, done := startPlayer(t, sink)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("player did not stop")
	}
}

func TestScrubKeepsLatest(t *testing.T) {
	s := rampScene(t, 100, 8)
	c, err := NewController(0, 100, DefaultStep)
	require.NoError(t, err)
	p := NewPlayer(c, s, &recordSink{}, time.Hour)

	p.Scrub(10)
	p.Scrub(20)
	p.Scrub(30)
	assert.Equal(t, 30.0, <-p.scrubCh)

	p.Resume()
	p.Resume()
	assert.Len(t, p.resumeCh, 1)
}
