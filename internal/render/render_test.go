package render

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
	"time"

	"github.com/satindergrewal/eegscope/internal/playback"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sineView(start float64) playback.View {
	n := 300
	v := playback.View{Start: start, End: start + 30, YMin: -200, YMax: 200, Offset: 120}
	for i := 1; i < n; i++ {
		t := start + float64(i)*0.1
		v.Time = append(v.Time, t)
		v.Ch1 = append(v.Ch1, 120+float64(i%20))
		v.Ch2 = append(v.Ch2, float64(i%10))
		v.Diff = append(v.Diff, -120-float64(i%7))
	}
	return v
}

func TestRenderSize(t *testing.T) {
	r := New(320, 240, 14*time.Hour, 0, 100)

	img, err := r.Render(sineView(10), playback.State{Cursor: 10})
	require.NoError(t, err)

	assert.Equal(t, image.Rect(0, 0, 320, 240), img.Bounds())
	assert.Len(t, img.Pix, r.FrameSize())
}

func TestRenderEmptyView(t *testing.T) {
	r := New(320, 240, 0, 0, 100)

	v := playback.View{Start: 120, End: 150, YMin: -200, YMax: 200, Offset: 120}
	img, err := r.Render(v, playback.State{Cursor: 120})
	require.NoError(t, err)
	assert.Equal(t, 320, img.Bounds().Dx())
}

func TestRenderSingleSample(t *testing.T) {
	r := New(320, 240, 0, 0, 100)

	v := playback.View{
		Start: 99, End: 129, YMin: -200, YMax: 200, Offset: 120,
		Time: []float64{100}, Ch1: []float64{120}, Ch2: []float64{0}, Diff: []float64{-120},
	}
	_, err := r.Frame(playback.Frame{View: v, State: playback.State{Cursor: 99}})
	require.NoError(t, err)
}

func TestRenderDefaultsSize(t *testing.T) {
	r := New(0, 0, 0, 0, 1)
	assert.Equal(t, DefaultWidth, r.Width)
	assert.Equal(t, DefaultHeight, r.Height)
}

func TestProgressBar(t *testing.T) {
	r := New(320, 240, 0, 0, 100)
	v := sineView(0)

	at := func(img *image.RGBA) color.RGBA {
		return img.RGBAAt(img.Bounds().Min.X+25, img.Bounds().Max.Y-7)
	}

	begin, err := r.Render(v, playback.State{Cursor: 0})
	require.NoError(t, err)
	assert.Equal(t, trackColor, at(begin))

	end, err := r.Render(v, playback.State{Cursor: 100})
	require.NoError(t, err)
	assert.Equal(t, barColor, at(end))
}

func TestBadgeFollowsMode(t *testing.T) {
	r := New(320, 240, 0, 0, 100)
	v := sineView(0)

	auto, err := r.Render(v, playback.State{Cursor: 5, Mode: playback.Auto})
	require.NoError(t, err)
	paused, err := r.Render(v, playback.State{Cursor: 5, Mode: playback.Manual})
	require.NoError(t, err)

	assert.NotEqual(t, auto.Pix, paused.Pix)
}

func TestClipKeepsAxisRange(t *testing.T) {
	got := clip([]float64{-500, 0, 500}, -200, 200)
	assert.Equal(t, []float64{-200, 0, 200}, got)
}

func TestTimeTicks(t *testing.T) {
	r := New(320, 240, 14*time.Hour+31*time.Minute+58*time.Second, 0, 100)

	ticks := r.timeTicks(2, 32)
	require.Len(t, ticks, 6)
	assert.Equal(t, 5.0, ticks[0].Value)
	assert.Equal(t, "14:32:03", ticks[0].Label)
	assert.Equal(t, 30.0, ticks[5].Value)
}

func TestClockLabel(t *testing.T) {
	tests := []struct {
		start  time.Duration
		offset float64
		want   string
	}{
		{14*time.Hour + 31*time.Minute + 58*time.Second, 0, "14:31:58"},
		{14*time.Hour + 31*time.Minute + 58*time.Second, 2.9, "14:32:00"},
		{0, 3725, "1:02:05"},
		{23*time.Hour + 59*time.Minute + 59*time.Second, 2, "0:00:01"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClockLabel(tt.start, tt.offset))
	}
}

func TestRGBA(t *testing.T) {
	src := image.NewNRGBA(image.Rect(5, 5, 15, 25))
	src.Set(5, 5, color.NRGBA{R: 255, A: 255})

	got := RGBA(src)
	assert.Equal(t, image.Rect(0, 0, 10, 20), got.Bounds())
	assert.Len(t, got.Pix, 10*20*4)
	assert.Equal(t, color.RGBA{R: 255, A: 255}, got.RGBAAt(0, 0))

	same := image.NewRGBA(image.Rect(0, 0, 4, 4))
	assert.Same(t, same, RGBA(same))
}

func TestEncoders(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 16, 8))

	var buf bytes.Buffer
	require.NoError(t, JPEG(&buf, img, 80))
	cfg, err := jpeg.DecodeConfig(&buf)
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Width)

	buf.Reset()
	require.NoError(t, PNG(&buf, img))
	cfg, err = png.DecodeConfig(&buf)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Height)
}
