package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/satindergrewal/eegscope/internal/dsp"
	"github.com/satindergrewal/eegscope/internal/playback"
	"github.com/satindergrewal/eegscope/internal/recording"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "EEGSCOPE"

// Config holds all runtime configuration. Sources in precedence order:
// flags, EEGSCOPE_* environment variables, eegscope.yaml, defaults.
type Config struct {
	Filter struct {
		LowCutoffHz  float64 `mapstructure:"low_cutoff_hz"`
		HighCutoffHz float64 `mapstructure:"high_cutoff_hz"`
		Order        int     `mapstructure:"order"`
	} `mapstructure:"filter"`
	Playback struct {
		TickIntervalMS   int     `mapstructure:"tick_interval_ms"`
		StepSeconds      float64 `mapstructure:"step_seconds"`
		ScrubStepSeconds float64 `mapstructure:"scrub_step_seconds"`
	} `mapstructure:"playback"`
	Window struct {
		SpanSeconds float64 `mapstructure:"span_seconds"`
		Offset      float64 `mapstructure:"offset"`
	} `mapstructure:"window"`
	Export struct {
		OutputPath         string        `mapstructure:"output_path"`
		DurationCapSeconds float64       `mapstructure:"duration_cap_seconds"`
		FrameTimeout       time.Duration `mapstructure:"frame_timeout"`
		FFmpegPath         string        `mapstructure:"ffmpeg_path"`
		HLSSegmentSeconds  float64       `mapstructure:"hls_segment_seconds"`
	} `mapstructure:"export"`
	Render struct {
		Width  int `mapstructure:"width"`
		Height int `mapstructure:"height"`
	} `mapstructure:"render"`
	Input struct {
		Path       string  `mapstructure:"path"`
		TimeColumn string  `mapstructure:"time_column"`
		Ch1Column  string  `mapstructure:"ch1_column"`
		Ch2Column  string  `mapstructure:"ch2_column"`
		Sheet      string  `mapstructure:"sheet"`
		SampleRate float64 `mapstructure:"sample_rate"`
		StartClock string  `mapstructure:"start_clock"`
	} `mapstructure:"input"`
	Server struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"server"`
	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
	Publish struct {
		Provider string `mapstructure:"provider"`
		LocalDir string `mapstructure:"local_dir"`
		Bucket   string `mapstructure:"bucket"`
		Prefix   string `mapstructure:"prefix"`
		Endpoint string `mapstructure:"endpoint"`
		Region   string `mapstructure:"region"`
		KeyID    string `mapstructure:"key_id"`
		AppKey   string `mapstructure:"app_key"`
	} `mapstructure:"publish"`
}

var defaults = map[string]any{
	"filter.low_cutoff_hz":           1.0,
	"filter.high_cutoff_hz":          15.0,
	"filter.order":                   4,
	"playback.tick_interval_ms":      100,
	"playback.step_seconds":          playback.DefaultStep,
	"playback.scrub_step_seconds":    playback.DefaultScrubStep,
	"window.span_seconds":            playback.DefaultLayout.Span,
	"window.offset":                  playback.DefaultLayout.Offset,
	"export.output_path":             "eeg.mp4",
	"export.duration_cap_seconds":    0.0,
	"export.frame_timeout":           "10s",
	"export.ffmpeg_path":             "ffmpeg",
	"export.hls_segment_seconds":     4.0,
	"render.width":                   1280,
	"render.height":                  720,
	"input.path":                     "",
	"input.time_column":              recording.DefaultColumns.Time,
	"input.ch1_column":               recording.DefaultColumns.Ch1,
	"input.ch2_column":               recording.DefaultColumns.Ch2,
	"input.sheet":                    "",
	"input.sample_rate":              recording.NominalSampleRate,
	"input.start_clock":              "",
	"server.addr":                    ":8080",
	"log.level":                      "info",
	"publish.provider":               "",
	"publish.local_dir":              "",
	"publish.bucket":                 "",
	"publish.prefix":                 "",
	"publish.endpoint":               "",
	"publish.region":                 "us-east-1",
	"publish.key_id":                 "",
	"publish.app_key":                "",
}

// flags maps command-line flags to config keys.
var flags = []struct {
	name, key, usage string
}{
	{"input", "input.path", "recording to play (.csv, .xlsx, .edf)"},
	{"output", "export.output_path", "export destination (.mp4, .mkv, .mov, .m3u8)"},
	{"low", "filter.low_cutoff_hz", "band-pass low cutoff in Hz"},
	{"high", "filter.high_cutoff_hz", "band-pass high cutoff in Hz"},
	{"order", "filter.order", "Butterworth prototype order"},
	{"tick-ms", "playback.tick_interval_ms", "tick interval in milliseconds"},
	{"step", "playback.step_seconds", "cursor advance per tick in seconds"},
	{"span", "window.span_seconds", "visible window in seconds"},
	{"offset", "window.offset", "vertical separation between traces in µV"},
	{"duration-cap", "export.duration_cap_seconds", "limit export length in seconds (0 = whole recording)"},
	{"width", "render.width", "frame width in pixels"},
	{"height", "render.height", "frame height in pixels"},
	{"start-clock", "input.start_clock", "time of day of t=0 (HH:MM:SS)"},
	{"addr", "server.addr", "interactive HTTP listen address"},
	{"log-level", "log.level", "debug, info, warn or error"},
	{"publish", "publish.provider", "upload the export to: local or s3"},
}

// Load parses args (without the program or subcommand name) and merges
// every configuration source. A single positional argument is taken as
// the input path.
func Load(name string, args []string) (*Config, error) {
	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}

	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	configFile := fs.String("config", "", "path to a YAML config file")
	for _, f := range flags {
		switch d := defaults[f.key].(type) {
		case int:
			fs.Int(f.name, d, f.usage)
		case float64:
			fs.Float64(f.name, d, f.usage)
		default:
			fs.String(f.name, fmt.Sprint(d), f.usage)
		}
		if err := v.BindPFlag(f.key, fs.Lookup(f.name)); err != nil {
			return nil, fmt.Errorf("failed to bind flag %s: %w", f.name, err)
		}
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 1 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args()[1:], " "))
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if *configFile != "" {
		v.SetConfigFile(*configFile)
	} else {
		v.SetConfigName("eegscope")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
		slog.Debug("no config file, using flags and environment only")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if cfg.Input.Path == "" && fs.NArg() == 1 {
		cfg.Input.Path = fs.Arg(0)
	}
	return &cfg, nil
}

// Validate rejects settings no run can use. The filter is checked later,
// once the sample rate of the recording is known.
func (c *Config) Validate() error {
	if c.Playback.TickIntervalMS <= 0 {
		return fmt.Errorf("playback.tick_interval_ms must be positive, got %d", c.Playback.TickIntervalMS)
	}
	if !(c.Playback.StepSeconds > 0) {
		return fmt.Errorf("playback.step_seconds must be positive, got %g", c.Playback.StepSeconds)
	}
	if c.Playback.ScrubStepSeconds < 0 {
		return fmt.Errorf("playback.scrub_step_seconds must not be negative, got %g", c.Playback.ScrubStepSeconds)
	}
	if !(c.Window.SpanSeconds > 0) {
		return fmt.Errorf("window.span_seconds must be positive, got %g", c.Window.SpanSeconds)
	}
	if c.Export.DurationCapSeconds < 0 {
		return fmt.Errorf("export.duration_cap_seconds must not be negative, got %g", c.Export.DurationCapSeconds)
	}
	if c.Render.Width <= 0 || c.Render.Height <= 0 || c.Render.Width%2 != 0 || c.Render.Height%2 != 0 {
		return fmt.Errorf("render size %dx%d must be positive and even", c.Render.Width, c.Render.Height)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	if c.Input.StartClock != "" {
		if _, err := recording.ParseClock(c.Input.StartClock); err != nil {
			return fmt.Errorf("input.start_clock: %w", err)
		}
	}
	switch c.Publish.Provider {
	case "", "local", "s3":
	default:
		return fmt.Errorf("unknown publish.provider %q", c.Publish.Provider)
	}
	return nil
}

// FilterSpec builds the band-pass for a recording sampled at rate Hz.
func (c *Config) FilterSpec(rate float64) dsp.FilterSpec {
	return dsp.FilterSpec{
		Order:        c.Filter.Order,
		LowHz:        c.Filter.LowCutoffHz,
		HighHz:       c.Filter.HighCutoffHz,
		SampleRateHz: rate,
	}
}

func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Playback.TickIntervalMS) * time.Millisecond
}

func (c *Config) Layout() playback.Layout {
	return playback.Layout{Span: c.Window.SpanSeconds, Offset: c.Window.Offset}
}

func (c *Config) HLSSegment() time.Duration {
	return time.Duration(c.Export.HLSSegmentSeconds * float64(time.Second))
}

// LoadOptions converts the input section for recording.Load.
func (c *Config) LoadOptions() recording.Options {
	return recording.Options{
		Columns: recording.Columns{
			Time:  c.Input.TimeColumn,
			Ch1:   c.Input.Ch1Column,
			Ch2:   c.Input.Ch2Column,
			Sheet: c.Input.Sheet,
		},
		SampleRate: c.Input.SampleRate,
	}
}

// StartClock returns the configured time of day of t=0, if any.
func (c *Config) StartClock() (time.Duration, bool) {
	if c.Input.StartClock == "" {
		return 0, false
	}
	d, err := recording.ParseClock(c.Input.StartClock)
	return d, err == nil
}

func (c *Config) SlogLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return l, nil
}
