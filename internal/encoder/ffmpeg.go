// Package encoder turns playback frames into a video file by piping raw
// RGBA frames into an ffmpeg process.
package encoder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ixugo/goddd/pkg/queue"
	"github.com/satindergrewal/eegscope/internal/playback"
)

var (
	ErrEncoderUnavailable = errors.New("video encoder unavailable")
	ErrUnsupportedOutput  = errors.New("unsupported output format")
	ErrNotOpen            = errors.New("encoder not open")
)

const DefaultFrameTimeout = 10 * time.Second

// Rasterizer draws a frame into a tightly packed RGBA image.
type Rasterizer interface {
	Frame(fr playback.Frame) (*image.RGBA, error)
}

type Config struct {
	FFmpegPath   string
	Output       string
	Width        int
	Height       int
	TickInterval time.Duration
	FrameTimeout time.Duration
	HLSSegment   time.Duration
}

// FFmpeg is a playback.FrameSink that encodes frames with ffmpeg. Output is
// written to a hidden partial file next to Config.Output and only renamed
// into place by a successful Close. HLS output is staged in a hidden
// per-run directory so segments of an earlier export stay untouched until
// the new playlist replaces it.
type FFmpeg struct {
	cfg    Config
	raster Rasterizer

	m       sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	partial string
	stage   string // hls staging directory
	frames  int
	stderr  sync.WaitGroup
	log     *queue.CirQueue[string]
}

func NewFFmpeg(cfg Config, r Rasterizer) *FFmpeg {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FrameTimeout <= 0 {
		cfg.FrameTimeout = DefaultFrameTimeout
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = playback.DefaultTickInterval
	}
	if cfg.HLSSegment <= 0 {
		cfg.HLSSegment = 4 * time.Second
	}
	return &FFmpeg{cfg: cfg, raster: r, log: queue.NewCirQueue[string](100)}
}

// container maps the output extension to an ffmpeg muxer. The partial file
// has no usable extension, so the muxer is always passed explicitly.
func container(output string) (string, error) {
	switch strings.ToLower(filepath.Ext(output)) {
	case ".mp4":
		return "mp4", nil
	case ".mkv":
		return "matroska", nil
	case ".mov":
		return "mov", nil
	case ".m3u8":
		return "hls", nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedOutput, filepath.Ext(output))
}

func framerate(tick time.Duration) string {
	if tick%time.Millisecond == 0 {
		return "1000/" + strconv.FormatInt(tick.Milliseconds(), 10)
	}
	return "1000000/" + strconv.FormatInt(tick.Microseconds(), 10)
}

// segmentPattern names HLS segments after the playlist: out.m3u8 -> out_000.ts.
// Segments land next to whatever playlist path ffmpeg writes.
func segmentPattern(output string) string {
	return strings.TrimSuffix(output, filepath.Ext(output)) + "_%03d.ts"
}

func (f *FFmpeg) buildArgs(format, partial string) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-y",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", f.cfg.Width, f.cfg.Height),
		"-framerate", framerate(f.cfg.TickInterval),
		"-i", "pipe:0",
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-preset", "veryfast",
	}
	switch format {
	case "hls":
		args = append(args,
			"-f", "hls",
			"-hls_time", strconv.FormatFloat(f.cfg.HLSSegment.Seconds(), 'f', -1, 64),
			"-hls_playlist_type", "vod",
			"-hls_segment_filename", segmentPattern(partial),
		)
	case "mp4":
		args = append(args, "-movflags", "+faststart", "-f", format)
	default:
		args = append(args, "-f", format)
	}
	return append(args, partial)
}

// Open starts ffmpeg. A missing binary is reported as ErrEncoderUnavailable.
func (f *FFmpeg) Open(ctx context.Context) error {
	f.m.Lock()
	defer f.m.Unlock()
	if f.cmd != nil {
		return fmt.Errorf("encoder already open")
	}
	if f.cfg.Width <= 0 || f.cfg.Height <= 0 {
		return fmt.Errorf("invalid resolution: %dx%d", f.cfg.Width, f.cfg.Height)
	}
	format, err := container(f.cfg.Output)
	if err != nil {
		return err
	}
	bin, err := exec.LookPath(f.cfg.FFmpegPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncoderUnavailable, err)
	}

	dir, name := filepath.Split(f.cfg.Output)
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	partial := filepath.Join(dir, "."+name+".partial-"+uuid.NewString())
	var stage string
	if format == "hls" {
		stage = partial
		if err := os.Mkdir(stage, 0o755); err != nil {
			return fmt.Errorf("failed to create staging directory: %w", err)
		}
		partial = filepath.Join(stage, name)
	}
	cleanup := func() {
		if stage != "" {
			_ = os.RemoveAll(stage)
		}
	}

	cmd := exec.CommandContext(ctx, bin, f.buildArgs(format, partial)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		cleanup()
		return fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cleanup()
		return fmt.Errorf("failed to get stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cleanup()
		return fmt.Errorf("%w: failed to start ffmpeg: %v", ErrEncoderUnavailable, err)
	}

	f.cmd, f.stdin, f.partial, f.stage, f.frames = cmd, stdin, partial, stage, 0
	f.stderr.Go(func() { f.readStderr(stderr) })

	slog.InfoContext(ctx, "encoder started", "output", f.cfg.Output, "format", format,
		"size", fmt.Sprintf("%dx%d", f.cfg.Width, f.cfg.Height), "framerate", framerate(f.cfg.TickInterval))
	return nil
}

func (f *FFmpeg) readStderr(stderr io.Reader) {
	scan := bufio.NewScanner(stderr)
	for scan.Scan() {
		f.log.Push(scan.Text())
	}
}

// Log returns the most recent ffmpeg stderr lines.
func (f *FFmpeg) Log() []string {
	return f.log.Range()
}

// WriteFrame rasterizes fr and pipes it to ffmpeg. If ffmpeg does not take
// the frame within the frame timeout the process is killed and
// ErrEncoderUnavailable returned.
func (f *FFmpeg) WriteFrame(ctx context.Context, fr playback.Frame) error {
	f.m.Lock()
	stdin, cmd := f.stdin, f.cmd
	f.m.Unlock()
	if cmd == nil {
		return ErrNotOpen
	}

	img, err := f.raster.Frame(fr)
	if err != nil {
		return fmt.Errorf("error rasterizing frame %d: %w", fr.Index, err)
	}
	if want := f.cfg.Width * f.cfg.Height * 4; len(img.Pix) != want {
		return fmt.Errorf("frame %d is %d bytes, want %d", fr.Index, len(img.Pix), want)
	}

	done := make(chan error, 1)
	go func() {
		_, err := stdin.Write(img.Pix)
		done <- err
	}()

	timer := time.NewTimer(f.cfg.FrameTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%w: write frame %d: %v%s", ErrEncoderUnavailable, fr.Index, err, f.tail())
		}
	case <-timer.C:
		_ = cmd.Process.Kill()
		return fmt.Errorf("%w: frame %d not accepted within %v", ErrEncoderUnavailable, fr.Index, f.cfg.FrameTimeout)
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		return ctx.Err()
	}

	f.m.Lock()
	f.frames++
	f.m.Unlock()
	return nil
}

// tail formats the last few stderr lines for error messages.
func (f *FFmpeg) tail() string {
	lines := f.Log()
	if len(lines) == 0 {
		return ""
	}
	if len(lines) > 5 {
		lines = lines[len(lines)-5:]
	}
	return ": " + strings.Join(lines, "; ")
}

func (f *FFmpeg) wait() error {
	f.stderr.Wait()
	return f.cmd.Wait()
}

// Close flushes ffmpeg and moves the finished file to Config.Output.
func (f *FFmpeg) Close() error {
	f.m.Lock()
	defer f.m.Unlock()
	if f.cmd == nil {
		return ErrNotOpen
	}
	defer f.reset()

	if err := f.stdin.Close(); err != nil {
		slog.Warn("failed to close encoder input", "err", err)
	}
	if err := f.wait(); err != nil {
		f.removePartial()
		return fmt.Errorf("%w: ffmpeg failed after %d frames: %w%s", ErrEncoderUnavailable, f.frames, err, f.tail())
	}
	if err := f.moveIntoPlace(); err != nil {
		f.removePartial()
		return err
	}

	slog.Info("encoder finished", "output", f.cfg.Output, "frames", f.frames)
	return nil
}

// Abort stops ffmpeg and removes everything written so far. It is safe to
// call after Close.
func (f *FFmpeg) Abort() {
	f.m.Lock()
	defer f.m.Unlock()
	if f.cmd == nil {
		return
	}
	defer f.reset()

	_ = f.stdin.Close()
	if f.cmd.Process != nil {
		_ = f.cmd.Process.Kill()
	}
	_ = f.wait()
	f.removePartial()
	slog.Warn("encoder aborted", "output", f.cfg.Output, "frames", f.frames)
}

// moveIntoPlace renames the finished output to Config.Output. Staged HLS
// segments go first and the playlist last, so the playlist never names a
// segment that is not there yet.
func (f *FFmpeg) moveIntoPlace() error {
	if f.stage != "" {
		entries, err := os.ReadDir(f.stage)
		if err != nil {
			return fmt.Errorf("failed to read staging directory: %w", err)
		}
		dir := filepath.Dir(f.cfg.Output)
		for _, e := range entries {
			src := filepath.Join(f.stage, e.Name())
			if src == f.partial {
				continue
			}
			if err := os.Rename(src, filepath.Join(dir, e.Name())); err != nil {
				return fmt.Errorf("failed to move segment %s into place: %w", e.Name(), err)
			}
		}
	}
	if err := os.Rename(f.partial, f.cfg.Output); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", f.partial, err)
	}
	if f.stage != "" {
		_ = os.Remove(f.stage)
	}
	return nil
}

func (f *FFmpeg) removePartial() {
	if f.stage != "" {
		_ = os.RemoveAll(f.stage)
		return
	}
	_ = os.Remove(f.partial)
}

func (f *FFmpeg) reset() {
	f.cmd, f.stdin, f.partial, f.stage = nil, nil, "", ""
}

// Frames reports how many frames ffmpeg has accepted since Open.
func (f *FFmpeg) Frames() int {
	f.m.Lock()
	defer f.m.Unlock()
	return f.frames
}
