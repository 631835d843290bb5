package playback

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/satindergrewal/eegscope/internal/metrics"
)

// Plan fixes the frame budget of an export.
type Plan struct {
	TickInterval time.Duration
	FPS          float64
	TotalFrames  int
	Capped       bool // true when the duration cap shortened the export
}

// PlanExport computes fps = 1000/tick_ms and
// total = floor((tMax - tMin) * fps). A positive durationCap (seconds)
// limits total to floor(durationCap * fps).
func PlanExport(tMin, tMax float64, tick time.Duration, durationCap float64) (Plan, error) {
	if tick <= 0 {
		return Plan{}, fmt.Errorf("invalid tick interval %v", tick)
	}
	if tMax < tMin {
		return Plan{}, fmt.Errorf("invalid time bounds: t_max %g < t_min %g", tMax, tMin)
	}
	if durationCap < 0 || math.IsNaN(durationCap) {
		return Plan{}, fmt.Errorf("invalid duration cap %g", durationCap)
	}

	fps := float64(time.Second) / float64(tick)
	p := Plan{
		TickInterval: tick,
		FPS:          fps,
		TotalFrames:  int(math.Floor((tMax - tMin) * fps)),
	}
	if durationCap > 0 {
		if capped := int(math.Floor(durationCap * fps)); capped < p.TotalFrames {
			p.TotalFrames = capped
			p.Capped = true
		}
	}
	return p, nil
}

// Duration is the playing time of the planned video.
func (p Plan) Duration() time.Duration {
	return time.Duration(p.TotalFrames) * p.TickInterval
}

// Result summarises a finished export.
type Result struct {
	Frames  int
	Elapsed time.Duration
}

// Export renders plan.TotalFrames frames without a user present: playback
// starts in Auto and stays there, each iteration advances exactly one tick,
// and frames reach the sink in order with no gaps. The first sink error
// aborts the export.
func Export(ctx context.Context, ctrl *Controller, scene *Scene, plan Plan, sink FrameSink) (Result, error) {
	start := time.Now()
	st := ctrl.Start()

	slog.InfoContext(ctx, "export started", "frames", plan.TotalFrames, "fps", plan.FPS, "capped", plan.Capped)

	for i := 0; i < plan.TotalFrames; i++ {
		if err := ctx.Err(); err != nil {
			return Result{Frames: i, Elapsed: time.Since(start)}, fmt.Errorf("export cancelled at frame %d/%d: %w", i, plan.TotalFrames, err)
		}

		st = ctrl.Tick(st)
		view, err := scene.View(st.Cursor)
		if err != nil {
			return Result{Frames: i, Elapsed: time.Since(start)}, fmt.Errorf("error windowing frame %d: %w", i, err)
		}
		if err := sink.WriteFrame(ctx, Frame{Index: i, State: st, View: view}); err != nil {
			metrics.FrameErrors.WithLabelValues("export").Inc()
			return Result{Frames: i, Elapsed: time.Since(start)}, fmt.Errorf("error writing frame %d/%d: %w", i, plan.TotalFrames, err)
		}
		metrics.ExportFrames.Inc()
		metrics.FramesWritten.WithLabelValues("export").Inc()

		if plan.TotalFrames >= 10 && (i+1)%(plan.TotalFrames/10) == 0 {
			slog.DebugContext(ctx, "export progress", "frame", i+1, "of", plan.TotalFrames, "cursor", st.Cursor)
		}
	}

	res := Result{Frames: plan.TotalFrames, Elapsed: time.Since(start)}
	metrics.ExportDuration.Observe(res.Elapsed.Seconds())
	slog.InfoContext(ctx, "export finished", "frames", res.Frames, "elapsed", res.Elapsed)
	return res, nil
}
