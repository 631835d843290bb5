// Package render rasterizes playback views into video frames.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"time"

	"github.com/satindergrewal/eegscope/internal/metrics"
	"github.com/satindergrewal/eegscope/internal/playback"
	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	DefaultWidth  = 1280
	DefaultHeight = 720

	// tickEvery is the spacing of clock labels on the time axis.
	tickEvery = 5.0
	day       = 24 * 60 * 60
)

var (
	traceColor = drawing.Color{R: 102, G: 102, B: 102, A: 255}
	barColor   = color.RGBA{R: 70, G: 130, B: 180, A: 255}
	trackColor = color.RGBA{R: 220, G: 220, B: 220, A: 255}
	autoColor  = color.RGBA{R: 46, G: 139, B: 87, A: 230}
	pauseColor = color.RGBA{R: 200, G: 90, B: 40, A: 230}
)

// Renderer draws one chart per view. TMin and TMax place the progress bar;
// StartClock is the wall-clock time of t = 0.
type Renderer struct {
	Width, Height int
	StartClock    time.Duration
	TMin, TMax    float64
}

// New returns a renderer of the given size, falling back to 1280x720.
func New(width, height int, startClock time.Duration, tMin, tMax float64) *Renderer {
	if width <= 0 || height <= 0 {
		width, height = DefaultWidth, DefaultHeight
	}
	return &Renderer{Width: width, Height: height, StartClock: startClock, TMin: tMin, TMax: tMax}
}

// FrameSize is the byte size of one raw RGBA frame.
func (r *Renderer) FrameSize() int { return r.Width * r.Height * 4 }

// Frame renders a playback frame.
func (r *Renderer) Frame(fr playback.Frame) (*image.RGBA, error) {
	return r.Render(fr.View, fr.State)
}

// Render draws the three traces of v with the mode badge and progress bar
// for st. An empty view renders axes only.
func (r *Renderer) Render(v playback.View, st playback.State) (*image.RGBA, error) {
	start := time.Now()
	defer func() { metrics.RenderDuration.Observe(time.Since(start).Seconds()) }()

	ch := chart.Chart{
		Title:      "EEG Channels",
		Width:      r.Width,
		Height:     r.Height,
		Background: chart.Style{Padding: chart.Box{Top: 40, Left: 24, Right: 24, Bottom: 44}},
		XAxis: chart.XAxis{
			Name:  "TIME (HH:MM:SS)",
			Range: &chart.ContinuousRange{Min: v.Start, Max: v.End},
			Ticks: r.timeTicks(v.Start, v.End),
		},
		YAxis: chart.YAxis{
			Name:  "AMPLITUDE (µV)",
			Range: &chart.ContinuousRange{Min: v.YMin, Max: v.YMax},
			Ticks: []chart.Tick{
				{Value: -v.Offset, Label: "Difference"},
				{Value: 0, Label: "Channel 2"},
				{Value: v.Offset, Label: "Channel 1"},
			},
		},
		Series: traces(v),
	}

	var buf bytes.Buffer
	if err := ch.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("error rendering chart at %.2fs: %w", v.Start, err)
	}
	img, err := png.Decode(&buf)
	if err != nil {
		return nil, fmt.Errorf("error decoding chart: %w", err)
	}

	rgba := RGBA(img)
	r.drawProgress(rgba, st.Cursor)
	drawBadge(rgba, st.Mode)
	return rgba, nil
}

func traces(v playback.View) []chart.Series {
	if v.Empty() {
		// go-chart needs at least one series; draw the baseline in the
		// background colour so only the axes show.
		return []chart.Series{chart.ContinuousSeries{
			XValues: []float64{v.Start, v.End},
			YValues: []float64{0, 0},
			Style:   chart.Style{StrokeColor: drawing.ColorWhite, StrokeWidth: 1},
		}}
	}
	style := chart.Style{StrokeColor: traceColor, StrokeWidth: 0.8}
	series := make([]chart.Series, 0, 3)
	for _, tr := range []struct {
		name string
		ys   []float64
	}{
		{"Channel 1", v.Ch1},
		{"Channel 2", v.Ch2},
		{"Difference", v.Diff},
	} {
		xs, ys := v.Time, clip(tr.ys, v.YMin, v.YMax)
		if len(xs) == 1 {
			xs = []float64{xs[0], xs[0]}
			ys = []float64{ys[0], ys[0]}
		}
		series = append(series, chart.ContinuousSeries{Name: tr.name, XValues: xs, YValues: ys, Style: style})
	}
	return series
}

// clip limits ys to the fixed axis range so outliers stay inside the plot.
func clip(ys []float64, lo, hi float64) []float64 {
	out := make([]float64, len(ys))
	for i, y := range ys {
		out[i] = math.Max(lo, math.Min(hi, y))
	}
	return out
}

func (r *Renderer) timeTicks(start, end float64) []chart.Tick {
	var ticks []chart.Tick
	for x := math.Ceil(start/tickEvery) * tickEvery; x <= end; x += tickEvery {
		ticks = append(ticks, chart.Tick{Value: x, Label: ClockLabel(r.StartClock, x)})
	}
	return ticks
}

// ClockLabel formats the time of day of offset seconds after startClock as
// H:MM:SS.
func ClockLabel(startClock time.Duration, offset float64) string {
	s := int64(math.Floor(startClock.Seconds()+offset)) % day
	if s < 0 {
		s += day
	}
	return fmt.Sprintf("%d:%02d:%02d", s/3600, s/60%60, s%60)
}

func (r *Renderer) drawProgress(img *image.RGBA, cursor float64) {
	b := img.Bounds()
	track := image.Rect(b.Min.X+24, b.Max.Y-10, b.Max.X-24, b.Max.Y-4)
	draw.Draw(img, track, image.NewUniform(trackColor), image.Point{}, draw.Src)

	frac := 0.0
	if span := r.TMax - r.TMin; span > 0 {
		frac = math.Max(0, math.Min(1, (cursor-r.TMin)/span))
	}
	fill := track
	fill.Max.X = track.Min.X + int(math.Round(frac*float64(track.Dx())))
	draw.Draw(img, fill, image.NewUniform(barColor), image.Point{}, draw.Src)
}

func drawBadge(img *image.RGBA, m playback.Mode) {
	text, bg := "AUTO", autoColor
	if m == playback.Manual {
		text, bg = "PAUSED", pauseColor
	}

	face := basicfont.Face7x13
	dr := &font.Drawer{Dst: img, Src: image.NewUniform(color.White), Face: face}
	tw := dr.MeasureString(text).Ceil()

	pad := 5
	x := img.Bounds().Max.X - tw - 2*pad - 12
	y := img.Bounds().Min.Y + 12 + face.Metrics().Ascent.Ceil()
	rect := image.Rect(x-pad, y-face.Metrics().Ascent.Ceil()-pad, x+tw+pad, y+pad)
	draw.Draw(img, rect, image.NewUniform(bg), image.Point{}, draw.Over)

	dr.Dot = fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)}
	dr.DrawString(text)
}

// RGBA returns img as an *image.RGBA anchored at the origin, converting if
// needed. The result's Pix is tightly packed W*H*4 bytes.
func RGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) && rgba.Stride == 4*rgba.Rect.Dx() {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}

// JPEG encodes img at the given quality (1-100).
func JPEG(w io.Writer, img image.Image, quality int) error {
	return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
}

// PNG encodes img losslessly.
func PNG(w io.Writer, img image.Image) error {
	return png.Encode(w, img)
}
