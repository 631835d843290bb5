package stream

import (
	"bytes"
	"fmt"
	"image"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"

	"github.com/satindergrewal/eegscope/internal/metrics"
	"github.com/satindergrewal/eegscope/internal/playback"
	"github.com/satindergrewal/eegscope/internal/render"
)

const jpegQuality = 80

// Rasterizer draws a frame into an RGBA image.
type Rasterizer interface {
	Frame(fr playback.Frame) (*image.RGBA, error)
}

// MJPEGHandler serves the live view as a multipart JPEG stream. Each
// connection renders its own frames, so a slow viewer only drops its own.
type MJPEGHandler struct {
	broadcaster *Broadcaster
	raster      Rasterizer
}

// NewMJPEGHandler creates an MJPEG stream handler.
func NewMJPEGHandler(b *Broadcaster, r Rasterizer) *MJPEGHandler {
	return &MJPEGHandler{broadcaster: b, raster: r}
}

func (h *MJPEGHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	mw := multipart.NewWriter(w)
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mw.Boundary())
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "close")

	listener := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(listener)

	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	viewers := metrics.Viewers.WithLabelValues("mjpeg")
	viewers.Inc()
	defer viewers.Dec()

	ctx := r.Context()
	slog.InfoContext(ctx, "mjpeg viewer connected", "remote", r.RemoteAddr, "total", h.broadcaster.ListenerCount())
	defer slog.InfoContext(ctx, "mjpeg viewer disconnected", "remote", r.RemoteAddr)

	var buf bytes.Buffer
	for {
		select {
		case <-ctx.Done():
			return
		case <-listener.Done():
			return
		case fr := <-listener.C:
			img, err := h.raster.Frame(fr)
			if err != nil {
				slog.WarnContext(ctx, "mjpeg render failed", "index", fr.Index, "err", err)
				continue
			}
			buf.Reset()
			if err := render.JPEG(&buf, img, jpegQuality); err != nil {
				slog.WarnContext(ctx, "mjpeg encode failed", "index", fr.Index, "err", err)
				continue
			}
			part, err := mw.CreatePart(textproto.MIMEHeader{
				"Content-Type":   {"image/jpeg"},
				"Content-Length": {fmt.Sprint(buf.Len())},
			})
			if err != nil {
				return
			}
			if _, err := part.Write(buf.Bytes()); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
