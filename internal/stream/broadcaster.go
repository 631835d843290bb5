package stream

import (
	"context"
	"sync"

	"github.com/satindergrewal/eegscope/internal/metrics"
	"github.com/satindergrewal/eegscope/internal/playback"
)

// listenerBuffer holds under a second of frames at the default tick rate.
const listenerBuffer = 8

// Broadcaster fans out playback frames from the player to N listeners.
// It is the player's FrameSink in interactive mode.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners map[*Listener]struct{}
}

// Listener receives frames from the broadcaster.
type Listener struct {
	C    chan playback.Frame
	done chan struct{}
}

// Done is closed when the listener is unsubscribed.
func (l *Listener) Done() <-chan struct{} { return l.done }

// NewBroadcaster creates a new broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		listeners: make(map[*Listener]struct{}),
	}
}

// Subscribe registers a new listener.
func (b *Broadcaster) Subscribe() *Listener {
	l := &Listener{
		C:    make(chan playback.Frame, listenerBuffer),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.listeners[l] = struct{}{}
	b.mu.Unlock()
	return l
}

// Unsubscribe removes a listener and signals it to stop.
func (b *Broadcaster) Unsubscribe(l *Listener) {
	b.mu.Lock()
	_, ok := b.listeners[l]
	delete(b.listeners, l)
	b.mu.Unlock()
	if ok {
		close(l.done)
	}
}

// ListenerCount returns the number of active listeners.
func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// WriteFrame delivers fr to every listener. Slow listeners get frames
// dropped rather than blocking playback.
func (b *Broadcaster) WriteFrame(ctx context.Context, fr playback.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for l := range b.listeners {
		select {
		case l.C <- fr:
		default:
			metrics.FrameErrors.WithLabelValues("broadcast").Inc()
		}
	}
	return nil
}
