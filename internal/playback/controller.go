package playback

import (
	"fmt"
	"math"
)

// Controller holds the fixed parameters of the Auto/Manual state machine.
// It keeps no mutable state of its own; every operation takes a State and
// returns the next one.
type Controller struct {
	tMin, tMax float64
	step       float64
	scrubStep  float64
}

type ControllerOption func(*Controller)

// WithScrubStep snaps scrubbed cursors to tMin + k*step. Zero disables
// snapping.
func WithScrubStep(step float64) ControllerOption {
	return func(c *Controller) {
		c.scrubStep = step
	}
}

// NewController creates a controller over [tMin, tMax] advancing step
// seconds per Auto tick.
func NewController(tMin, tMax, step float64, opts ...ControllerOption) (*Controller, error) {
	if math.IsNaN(tMin) || math.IsNaN(tMax) || math.IsInf(tMin, 0) || math.IsInf(tMax, 0) {
		return nil, fmt.Errorf("invalid time bounds [%g, %g]", tMin, tMax)
	}
	if tMax < tMin {
		return nil, fmt.Errorf("invalid time bounds: t_max %g < t_min %g", tMax, tMin)
	}
	if !(step > 0) || math.IsInf(step, 0) {
		return nil, fmt.Errorf("invalid step %g: must be positive", step)
	}
	c := &Controller{tMin: tMin, tMax: tMax, step: step, scrubStep: DefaultScrubStep}
	for _, opt := range opts {
		opt(c)
	}
	if c.scrubStep < 0 || math.IsNaN(c.scrubStep) {
		return nil, fmt.Errorf("invalid scrub step %g", c.scrubStep)
	}
	return c, nil
}

// Bounds returns t_min and t_max.
func (c *Controller) Bounds() (tMin, tMax float64) { return c.tMin, c.tMax }

// Step returns the cursor advance per Auto tick.
func (c *Controller) Step() float64 { return c.step }

// Start is the state at the beginning of playback.
func (c *Controller) Start() State {
	return State{Cursor: c.tMin, Mode: Auto}
}

// Tick advances the cursor by one step in Auto mode, wrapping within
// [t_min, t_max). Manual leaves the state untouched.
func (c *Controller) Tick(s State) State {
	if s.Mode != Auto {
		return s
	}
	span := c.tMax - c.tMin
	if span <= 0 {
		s.Cursor = c.tMin
		return s
	}
	pos := math.Mod(s.Cursor-c.tMin+c.step, span)
	if pos < 0 {
		pos += span
	}
	s.Cursor = c.clamp(c.tMin + pos)
	return s
}

// Scrub places the cursor at t and holds it there (Manual). A NaN position
// pauses at the current cursor without snapping it.
func (c *Controller) Scrub(s State, t float64) State {
	if math.IsNaN(t) {
		return State{Cursor: s.Cursor, Mode: Manual}
	}
	if c.scrubStep > 0 && !math.IsInf(t, 0) {
		t = c.tMin + math.Round((t-c.tMin)/c.scrubStep)*c.scrubStep
	}
	return State{Cursor: c.clamp(t), Mode: Manual}
}

// Resume returns to Auto from the current cursor.
func (c *Controller) Resume(s State) State {
	s.Mode = Auto
	return s
}

func (c *Controller) clamp(t float64) float64 {
	return math.Max(c.tMin, math.Min(c.tMax, t))
}
