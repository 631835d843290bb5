package playback

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/satindergrewal/eegscope/internal/metrics"
)

// Player drives interactive playback: a ticker advances the cursor, user
// actions arrive on channels, and each step is rendered to the sink.
// All state changes happen on the Run goroutine.
type Player struct {
	ctrl     *Controller
	scene    *Scene
	sink     FrameSink
	interval time.Duration

	scrubCh  chan float64
	resumeCh chan struct{}

	mu     sync.RWMutex
	state  State
	frames int
	last   Frame
}

// PlayerStatus is a snapshot for status endpoints.
type PlayerStatus struct {
	State  State   `json:"state"`
	Frames int     `json:"frames"`
	TMin   float64 `json:"t_min"`
	TMax   float64 `json:"t_max"`
	Step   float64 `json:"step"`
	Span   float64 `json:"span"`
}

// NewPlayer creates an interactive player ticking every interval.
func NewPlayer(ctrl *Controller, scene *Scene, sink FrameSink, interval time.Duration) *Player {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Player{
		ctrl:     ctrl,
		scene:    scene,
		sink:     sink,
		interval: interval,
		scrubCh:  make(chan float64, 1),
		resumeCh: make(chan struct{}, 1),
		state:    ctrl.Start(),
	}
}

// Scrub asks the player to move the cursor to t and hold it. Only the most
// recent pending scrub is kept.
func (p *Player) Scrub(t float64) {
	for {
		select {
		case p.scrubCh <- t:
			return
		default:
		}
		select {
		case <-p.scrubCh:
		default:
		}
	}
}

// Resume asks the player to return to Auto.
func (p *Player) Resume() {
	select {
	case p.resumeCh <- struct{}{}:
	default:
	}
}

// Status returns the latest playback snapshot.
func (p *Player) Status() PlayerStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	tMin, tMax := p.ctrl.Bounds()
	return PlayerStatus{
		State:  p.state,
		Frames: p.frames,
		TMin:   tMin,
		TMax:   tMax,
		Step:   p.ctrl.Step(),
		Span:   p.scene.Layout.Span,
	}
}

// Latest returns the most recently rendered frame.
func (p *Player) Latest() Frame {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last
}

// Run plays until ctx is cancelled. Rendering is synchronous; a slow sink
// delays the next tick instead of overlapping with it.
func (p *Player) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.mu.RLock()
	st := p.state
	p.mu.RUnlock()

	slog.InfoContext(ctx, "playback started", "cursor", st.Cursor, "interval", p.interval, "step", p.ctrl.Step())
	p.render(ctx, st)

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "playback stopped", "cursor", st.Cursor, "frames", p.Status().Frames)
			return
		case t := <-p.scrubCh:
			prev := st.Mode
			st = p.ctrl.Scrub(st, t)
			p.noteTransition(ctx, prev, st)
			p.render(ctx, st)
		case <-p.resumeCh:
			prev := st.Mode
			st = p.ctrl.Resume(st)
			p.noteTransition(ctx, prev, st)
			p.setState(st)
		case <-ticker.C:
			st = p.ctrl.Tick(st)
			metrics.Ticks.WithLabelValues(st.Mode.String()).Inc()
			p.render(ctx, st)
		}
	}
}

func (p *Player) render(ctx context.Context, st State) {
	view, err := p.scene.View(st.Cursor)
	if err != nil {
		slog.ErrorContext(ctx, "window failed", "cursor", st.Cursor, "err", err)
		p.setState(st)
		return
	}

	p.mu.Lock()
	fr := Frame{Index: p.frames, State: st, View: view}
	p.state = st
	p.frames++
	p.last = fr
	p.mu.Unlock()

	if err := p.sink.WriteFrame(ctx, fr); err != nil {
		metrics.FrameErrors.WithLabelValues("live").Inc()
		slog.WarnContext(ctx, "frame dropped", "index", fr.Index, "err", err)
		return
	}
	metrics.FramesWritten.WithLabelValues("live").Inc()
}

func (p *Player) setState(st State) {
	p.mu.Lock()
	p.state = st
	p.mu.Unlock()
}

func (p *Player) noteTransition(ctx context.Context, prev Mode, st State) {
	if prev == st.Mode {
		return
	}
	metrics.ModeTransitions.WithLabelValues(st.Mode.String()).Inc()
	slog.DebugContext(ctx, "playback mode changed", "from", prev, "to", st.Mode, "cursor", st.Cursor)
}
