// Package playback owns the time cursor of an EEG visualization: which
// 30 s window of the filtered recording is visible, and how that window
// moves under auto-advance, user scrubbing, and frame-exact export.
package playback

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	DefaultTickInterval = 100 * time.Millisecond
	DefaultStep         = 0.5 // seconds of cursor per Auto tick
	DefaultScrubStep    = 1.0 // scrub positions snap to whole seconds
)

var ErrLengthMismatch = errors.New("time axis and filtered channels differ in length")

// Mode is the playback mode.
type Mode int

const (
	Auto Mode = iota
	Manual
)

func (m Mode) String() string {
	switch m {
	case Auto:
		return "auto"
	case Manual:
		return "manual"
	}
	return "unknown"
}

// MarshalText lets Mode appear as a string in JSON status payloads.
func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Mode) UnmarshalText(b []byte) error {
	switch string(b) {
	case "auto":
		*m = Auto
	case "manual":
		*m = Manual
	default:
		return fmt.Errorf("unknown playback mode %q", b)
	}
	return nil
}

// State is the complete mutable playback state. It is a value: whoever
// drives playback holds it and threads it through the Controller.
type State struct {
	Cursor float64 `json:"cursor"`
	Mode   Mode    `json:"mode"`
}

// Frame is one rendered step of playback.
type Frame struct {
	Index int
	State State
	View  View
}

// FrameSink consumes frames in order. The interactive broadcaster and the
// video encoder both implement it.
type FrameSink interface {
	WriteFrame(ctx context.Context, fr Frame) error
}

// FrameSinkFunc adapts a function to FrameSink.
type FrameSinkFunc func(ctx context.Context, fr Frame) error

func (f FrameSinkFunc) WriteFrame(ctx context.Context, fr Frame) error { return f(ctx, fr) }
