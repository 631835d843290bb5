package server

import (
	"bufio"
	"context"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/satindergrewal/eegscope/internal/metrics"
	"github.com/satindergrewal/eegscope/internal/playback"
	"github.com/satindergrewal/eegscope/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePlayer struct {
	mu      sync.Mutex
	scrubs  []float64
	resumes int
	status  playback.PlayerStatus
	latest  playback.Frame
}

func (f *fakePlayer) Scrub(t float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scrubs = append(f.scrubs, t)
}

func (f *fakePlayer) Resume() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumes++
}

func (f *fakePlayer) Status() playback.PlayerStatus { return f.status }
func (f *fakePlayer) Latest() playback.Frame        { return f.latest }

type blankRaster struct{}

func (blankRaster) Frame(playback.Frame) (*image.RGBA, error) {
	return image.NewRGBA(image.Rect(0, 0, 4, 4)), nil
}

func newTestServer(t *testing.T, p *fakePlayer) (*Server, *stream.Broadcaster) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	require.NoError(t, metrics.Register(reg))
	b := stream.NewBroadcaster()
	return New(p, b, blankRaster{}, reg, true), b
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, &fakePlayer{})
	rec := do(s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestIndex(t *testing.T) {
	s, _ := newTestServer(t, &fakePlayer{})
	rec := do(s, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "/stream.mjpeg")
	assert.Contains(t, rec.Body.String(), "/api/resume")
}

func TestIndexWiresClients(t *testing.T) {
	s, _ := newTestServer(t, &fakePlayer{})
	page := do(s, http.MethodGet, "/", "").Body.String()

	// Canvas client negotiating the frames channel.
	assert.Contains(t, page, "new RTCPeerConnection()")
	assert.Contains(t, page, "fetch('/offer'")
	assert.Contains(t, page, "ev.channel.label !== 'frames'")
	for _, field := range []string{"f.ch1", "f.ch2", "f.diff", "f.y_min", "f.y_max"} {
		assert.Contains(t, page, field)
	}

	// A drag that starts on the slider must not resume on release.
	assert.Contains(t, page, "slider.addEventListener('pointerdown', () => { dragging = true; pressed = true; });")
	assert.Regexp(t, `(?s)document\.addEventListener\('click', e => \{\s*if \(pressed\) \{\s*pressed = false;\s*return;`, page)
}

func TestStatus(t *testing.T) {
	p := &fakePlayer{status: playback.PlayerStatus{
		State: playback.State{Cursor: 12.5, Mode: playback.Manual},
		TMin:  0, TMax: 100, Step: 0.5, Span: 30, Frames: 7,
	}}
	s, _ := newTestServer(t, p)

	rec := do(s, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Playback struct {
			State struct {
				Cursor float64 `json:"cursor"`
				Mode   string  `json:"mode"`
			} `json:"state"`
			TMax   float64 `json:"t_max"`
			Frames int     `json:"frames"`
		} `json:"playback"`
		Viewers map[string]int `json:"viewers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 12.5, body.Playback.State.Cursor)
	assert.Equal(t, "manual", body.Playback.State.Mode)
	assert.Equal(t, 100.0, body.Playback.TMax)
	assert.Equal(t, 7, body.Playback.Frames)
	assert.Equal(t, 0, body.Viewers["stream"])
}

func TestScrubAndResume(t *testing.T) {
	p := &fakePlayer{}
	s, _ := newTestServer(t, p)

	rec := do(s, http.MethodPost, "/api/scrub", `{"t": 42.5}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = do(s, http.MethodPost, "/api/scrub", `{"t": 0}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = do(s, http.MethodPost, "/api/scrub", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(s, http.MethodPost, "/api/scrub", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(s, http.MethodPost, "/api/resume", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	assert.Equal(t, []float64{42.5, 0}, p.scrubs)
	assert.Equal(t, 1, p.resumes)
}

func TestFramePNG(t *testing.T) {
	p := &fakePlayer{}
	s, _ := newTestServer(t, p)

	rec := do(s, http.MethodGet, "/api/frame.png", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	p.status.Frames = 1
	rec = do(s, http.MethodGet, "/api/frame.png", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "\x89PNG"))
}

func TestMetrics(t *testing.T) {
	s, _ := newTestServer(t, &fakePlayer{})
	metrics.Ticks.WithLabelValues("auto").Inc()

	rec := do(s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "eegscope_ticks_total")
}

func TestOfferRejectsBadSDP(t *testing.T) {
	s, _ := newTestServer(t, &fakePlayer{})
	rec := do(s, http.MethodPost, "/offer", "{")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEvents(t *testing.T) {
	s, b := newTestServer(t, &fakePlayer{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for i := 0; ; i++ {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = b.WriteFrame(ctx, playback.Frame{Index: i, State: playback.State{Cursor: 3, Mode: playback.Manual}})
			}
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	sc := bufio.NewScanner(resp.Body)
	var event, data string
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "event:") {
			event = strings.TrimPrefix(line, "event:")
		}
		if strings.HasPrefix(line, "data:") {
			data = strings.TrimPrefix(line, "data:")
			break
		}
	}
	assert.Equal(t, "frame", event)

	var got eventSummary
	require.NoError(t, json.Unmarshal([]byte(data), &got))
	assert.Equal(t, 3.0, got.Cursor)
	assert.Equal(t, playback.Manual, got.Mode)
}
