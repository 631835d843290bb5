// Package metrics holds the Prometheus collectors for playback and export.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	Ticks = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "eegscope_ticks_total", Help: "Playback ticks by mode"},
		[]string{"mode"},
	)
	ModeTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "eegscope_mode_transitions_total", Help: "Playback mode changes by target mode"},
		[]string{"to"},
	)
	FramesWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "eegscope_frames_written_total", Help: "Frames handed to a sink"},
		[]string{"sink"},
	)
	FrameErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "eegscope_frame_errors_total", Help: "Frames a sink failed to accept"},
		[]string{"sink"},
	)
	RenderDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "eegscope_frame_render_seconds",
			Help:    "Time to rasterize one window",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		},
	)
	ExportFrames = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "eegscope_export_frames_total", Help: "Frames sent to the video encoder"},
	)
	ExportDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "eegscope_export_duration_seconds",
			Help:    "Wall time of complete exports",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)
	Viewers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "eegscope_viewers", Help: "Connected live viewers by transport"},
		[]string{"transport"},
	)
)

// Register adds every collector to reg.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		Ticks, ModeTransitions, FramesWritten, FrameErrors,
		RenderDuration, ExportFrames, ExportDuration, Viewers,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
