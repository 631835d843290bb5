// Package server exposes interactive playback over HTTP.
package server

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"time"

	_ "embed"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/satindergrewal/eegscope/internal/metrics"
	"github.com/satindergrewal/eegscope/internal/playback"
	"github.com/satindergrewal/eegscope/internal/render"
	"github.com/satindergrewal/eegscope/internal/stream"
)

//go:embed index.html
var indexHTML []byte

// Controls is the part of the player the HTTP surface drives.
type Controls interface {
	Scrub(t float64)
	Resume()
	Status() playback.PlayerStatus
	Latest() playback.Frame
}

type Server struct {
	router      *gin.Engine
	player      Controls
	broadcaster *stream.Broadcaster
	raster      stream.Rasterizer
	webrtc      *stream.WebRTCHandler
	gatherer    prometheus.Gatherer
}

func New(p Controls, b *stream.Broadcaster, r stream.Rasterizer, g prometheus.Gatherer, debug bool) *Server {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		router:      gin.New(),
		player:      p,
		broadcaster: b,
		raster:      r,
		webrtc:      stream.NewWebRTCHandler(b),
		gatherer:    g,
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type"}

	s.router.Use(gin.Recovery(), requestLogger(), cors.New(corsConfig))
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "eegscope"})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	// Long-lived streams stay outside the gzip group.
	s.router.GET("/stream.mjpeg", gin.WrapH(stream.NewMJPEGHandler(s.broadcaster, s.raster)))
	s.router.GET("/events", s.events)
	s.router.POST("/offer", gin.WrapH(s.webrtc))

	ui := s.router.Group("/", gzip.Gzip(gzip.DefaultCompression))
	{
		ui.GET("/", func(c *gin.Context) {
			c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
		})

		api := ui.Group("/api")
		api.GET("/status", s.status)
		api.POST("/scrub", s.scrub)
		api.POST("/resume", s.resume)
		api.GET("/frame.png", s.framePNG)
	}
}

// Handler returns the HTTP handler for all routes.
func (s *Server) Handler() http.Handler { return s.router }

// Close hangs up WebRTC peers.
func (s *Server) Close() { s.webrtc.Close() }

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"playback": s.player.Status(),
		"viewers": gin.H{
			"stream": s.broadcaster.ListenerCount(),
			"webrtc": s.webrtc.PeerCount(),
		},
	})
}

type scrubRequest struct {
	T *float64 `json:"t" binding:"required"`
}

func (s *Server) scrub(c *gin.Context) {
	var req scrubRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be {\"t\": seconds}"})
		return
	}
	s.player.Scrub(*req.T)
	c.JSON(http.StatusAccepted, gin.H{"ok": true, "t": *req.T})
}

func (s *Server) resume(c *gin.Context) {
	s.player.Resume()
	c.JSON(http.StatusAccepted, gin.H{"ok": true})
}

func (s *Server) framePNG(c *gin.Context) {
	fr := s.player.Latest()
	if s.player.Status().Frames == 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no frame rendered yet"})
		return
	}
	img, err := s.raster.Frame(fr)
	if err != nil {
		slog.ErrorContext(c.Request.Context(), "snapshot render failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "render failed"})
		return
	}
	var buf bytes.Buffer
	if err := render.PNG(&buf, img); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "encode failed"})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}

// eventSummary is the per-frame Server-Sent Event body.
type eventSummary struct {
	Index   int           `json:"index"`
	Cursor  float64       `json:"cursor"`
	Mode    playback.Mode `json:"mode"`
	Start   float64       `json:"start"`
	End     float64       `json:"end"`
	Samples int           `json:"samples"`
}

func (s *Server) events(c *gin.Context) {
	l := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(l)

	viewers := metrics.Viewers.WithLabelValues("sse")
	viewers.Inc()
	defer viewers.Dec()

	c.Header("Cache-Control", "no-cache")
	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-l.Done():
			return false
		case fr := <-l.C:
			c.SSEvent("frame", eventSummary{
				Index:   fr.Index,
				Cursor:  fr.State.Cursor,
				Mode:    fr.State.Mode,
				Start:   fr.View.Start,
				End:     fr.View.End,
				Samples: fr.View.Len(),
			})
			return true
		}
	})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.DebugContext(c.Request.Context(), "http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed", time.Since(start),
		)
	}
}
