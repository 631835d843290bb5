package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/satindergrewal/eegscope/internal/config"
	"github.com/satindergrewal/eegscope/internal/dsp"
	"github.com/satindergrewal/eegscope/internal/encoder"
	"github.com/satindergrewal/eegscope/internal/metrics"
	"github.com/satindergrewal/eegscope/internal/playback"
	"github.com/satindergrewal/eegscope/internal/publish"
	"github.com/satindergrewal/eegscope/internal/recording"
	"github.com/satindergrewal/eegscope/internal/render"
	"github.com/satindergrewal/eegscope/internal/server"
	"github.com/satindergrewal/eegscope/internal/stream"
	"github.com/spf13/pflag"
)

const usage = `usage: eegscope <command> [flags] [recording]

commands:
  play    filter the recording and serve interactive playback over HTTP
  export  render every frame of auto playback to a video file
  info    print what would be played or exported

run "eegscope <command> --help" for flags`

// stageError tags a failure with the pipeline stage it came from.
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return e.stage + ": " + e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

func stage(name string, err error) error {
	if err == nil {
		return nil
	}
	return &stageError{stage: name, err: err}
}

func main() {
	if len(os.Args) < 2 || strings.HasPrefix(os.Args[1], "-") {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	cmd := os.Args[1]

	cfg, err := config.Load(cmd, os.Args[2:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		slog.Error("eegscope failed", "stage", "config", "err", err)
		os.Exit(1)
	}

	level, _ := cfg.SlogLevel()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch cmd {
	case "play":
		err = runPlay(ctx, cfg, level == slog.LevelDebug)
	case "export":
		err = runExport(ctx, cfg)
	case "info":
		err = runInfo(ctx, cfg)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s\n", cmd, usage)
		os.Exit(2)
	}

	if err != nil {
		var se *stageError
		name := "run"
		if errors.As(err, &se) {
			name = se.stage
			err = se.err
		}
		slog.Error("eegscope failed", "stage", name, "err", err)
		cancel()
		os.Exit(1)
	}
}

// session is a loaded, filtered recording ready to play.
type session struct {
	rec      *recording.Recording
	spec     dsp.FilterSpec
	scene    *playback.Scene
	ctrl     *playback.Controller
	renderer *render.Renderer
}

func prepare(ctx context.Context, cfg *config.Config) (*session, error) {
	if cfg.Input.Path == "" {
		return nil, stage("load", errors.New("no recording given (pass a path or --input)"))
	}

	rec, err := recording.Load(cfg.Input.Path, cfg.LoadOptions())
	if err != nil {
		return nil, stage("load", err)
	}
	if clock, ok := cfg.StartClock(); ok {
		rec.StartClock = clock
	}
	slog.InfoContext(ctx, "recording loaded", "source", rec.Source, "samples", rec.Len(),
		"rate", rec.SampleRate, "duration", rec.Duration())

	spec := cfg.FilterSpec(rec.SampleRate)
	filtered, err := dsp.Apply(rec, spec)
	if err != nil {
		return nil, stage("filter", err)
	}
	slog.DebugContext(ctx, "recording filtered", "filter", spec.String())

	scene, err := playback.NewScene(rec.Time, filtered, cfg.Layout())
	if err != nil {
		return nil, stage("window", err)
	}
	tMin, tMax := scene.Bounds()
	ctrl, err := playback.NewController(tMin, tMax, cfg.Playback.StepSeconds,
		playback.WithScrubStep(cfg.Playback.ScrubStepSeconds))
	if err != nil {
		return nil, stage("playback", err)
	}

	return &session{
		rec:      rec,
		spec:     spec,
		scene:    scene,
		ctrl:     ctrl,
		renderer: render.New(cfg.Render.Width, cfg.Render.Height, rec.StartClock, tMin, tMax),
	}, nil
}

func runPlay(ctx context.Context, cfg *config.Config, debug bool) error {
	s, err := prepare(ctx, cfg)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := metrics.Register(reg); err != nil {
		return stage("metrics", err)
	}

	broadcaster := stream.NewBroadcaster()
	player := playback.NewPlayer(s.ctrl, s.scene, broadcaster, cfg.TickInterval())
	go player.Run(ctx)

	srv := server.New(player, broadcaster, s.renderer, reg, debug)
	httpServer := &http.Server{Addr: cfg.Server.Addr, Handler: srv.Handler()}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down")
		srv.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			httpServer.Close()
		}
	}()

	slog.InfoContext(ctx, "eegscope live", "addr", cfg.Server.Addr)
	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return stage("serve", err)
	}
	return nil
}

func runExport(ctx context.Context, cfg *config.Config) error {
	s, err := prepare(ctx, cfg)
	if err != nil {
		return err
	}

	tMin, tMax := s.ctrl.Bounds()
	plan, err := playback.PlanExport(tMin, tMax, cfg.TickInterval(), cfg.Export.DurationCapSeconds)
	if err != nil {
		return stage("export", err)
	}

	enc := encoder.NewFFmpeg(encoder.Config{
		FFmpegPath:   cfg.Export.FFmpegPath,
		Output:       cfg.Export.OutputPath,
		Width:        s.renderer.Width,
		Height:       s.renderer.Height,
		TickInterval: plan.TickInterval,
		FrameTimeout: cfg.Export.FrameTimeout,
		HLSSegment:   cfg.HLSSegment(),
	}, s.renderer)
	if err := enc.Open(ctx); err != nil {
		return stage("encode", err)
	}

	res, err := playback.Export(ctx, s.ctrl, s.scene, plan, enc)
	if err != nil {
		enc.Abort()
		return stage("export", err)
	}
	if err := enc.Close(); err != nil {
		return stage("encode", err)
	}

	if strings.EqualFold(filepath.Ext(cfg.Export.OutputPath), ".m3u8") {
		if err := encoder.VerifyPlaylist(cfg.Export.OutputPath, plan.Duration(), 2*plan.TickInterval); err != nil {
			return stage("encode", err)
		}
	}

	slog.InfoContext(ctx, "export written", "output", cfg.Export.OutputPath, "frames", res.Frames,
		"video", plan.Duration(), "elapsed", res.Elapsed.Round(time.Millisecond))

	if cfg.Publish.Provider == "" {
		return nil
	}
	provider, err := publish.New(publish.Settings{
		Provider: cfg.Publish.Provider,
		LocalDir: cfg.Publish.LocalDir,
		Bucket:   cfg.Publish.Bucket,
		Endpoint: cfg.Publish.Endpoint,
		Region:   cfg.Publish.Region,
		KeyID:    cfg.Publish.KeyID,
		AppKey:   cfg.Publish.AppKey,
	})
	if err != nil {
		return stage("publish", err)
	}
	if _, err := publish.NewPublisher(provider, cfg.Publish.Prefix).Publish(ctx, cfg.Export.OutputPath); err != nil {
		return stage("publish", err)
	}
	return nil
}

func runInfo(ctx context.Context, cfg *config.Config) error {
	s, err := prepare(ctx, cfg)
	if err != nil {
		return err
	}
	tMin, tMax := s.ctrl.Bounds()
	plan, err := playback.PlanExport(tMin, tMax, cfg.TickInterval(), cfg.Export.DurationCapSeconds)
	if err != nil {
		return stage("export", err)
	}

	fmt.Printf("source       %s\n", s.rec.Source)
	fmt.Printf("samples      %d at %g Hz\n", s.rec.Len(), s.rec.SampleRate)
	fmt.Printf("time         %.3f .. %.3f s (%.1f s)\n", tMin, tMax, tMax-tMin)
	fmt.Printf("start clock  %s\n", render.ClockLabel(s.rec.StartClock, 0))
	fmt.Printf("filter       %s\n", s.spec)
	fmt.Printf("window       %g s, offset %g µV\n", s.scene.Layout.Span, s.scene.Layout.Offset)
	fmt.Printf("playback     step %g s every %v\n", s.ctrl.Step(), plan.TickInterval)
	fmt.Printf("export       %d frames at %g fps (%v)", plan.TotalFrames, plan.FPS, plan.Duration())
	if plan.Capped {
		fmt.Print(", capped")
	}
	fmt.Println()
	return nil
}
