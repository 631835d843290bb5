package stream

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/satindergrewal/eegscope/internal/metrics"
	"github.com/satindergrewal/eegscope/internal/playback"
)

const (
	dataChannelLabel = "frames"
	// maxPoints bounds each trace in a data channel message so a frame stays
	// well under the SCTP message limit.
	maxPoints = 600
)

// Payload is the JSON body of one frame on the data channel.
type Payload struct {
	Index  int       `json:"index"`
	Cursor float64   `json:"cursor"`
	Mode   string    `json:"mode"`
	Start  float64   `json:"start"`
	End    float64   `json:"end"`
	YMin   float64   `json:"y_min"`
	YMax   float64   `json:"y_max"`
	Time   []float32 `json:"time"`
	Ch1    []float32 `json:"ch1"`
	Ch2    []float32 `json:"ch2"`
	Diff   []float32 `json:"diff"`
}

// NewPayload converts fr for the wire, keeping at most maxPoints samples
// per trace by striding.
func NewPayload(fr playback.Frame) Payload {
	v := fr.View
	stride := 1
	if n := v.Len(); n > maxPoints {
		stride = (n + maxPoints - 1) / maxPoints
	}
	return Payload{
		Index:  fr.Index,
		Cursor: fr.State.Cursor,
		Mode:   fr.State.Mode.String(),
		Start:  v.Start,
		End:    v.End,
		YMin:   v.YMin,
		YMax:   v.YMax,
		Time:   decimate(v.Time, stride),
		Ch1:    decimate(v.Ch1, stride),
		Ch2:    decimate(v.Ch2, stride),
		Diff:   decimate(v.Diff, stride),
	}
}

func decimate(xs []float64, stride int) []float32 {
	out := make([]float32, 0, (len(xs)+stride-1)/stride)
	for i := 0; i < len(xs); i += stride {
		out = append(out, float32(xs[i]))
	}
	return out
}

// WebRTCHandler serves WebRTC SDP negotiation. Each peer gets a data
// channel that carries every frame as a JSON Payload.
type WebRTCHandler struct {
	broadcaster *Broadcaster
	api         *webrtc.API
	mu          sync.Mutex
	peers       []*webrtc.PeerConnection
}

// NewWebRTCHandler creates a WebRTC stream handler.
func NewWebRTCHandler(b *Broadcaster) *WebRTCHandler {
	return &WebRTCHandler{
		broadcaster: b,
		api:         webrtc.NewAPI(),
	}
}

// PeerCount returns the number of active WebRTC peers.
func (h *WebRTCHandler) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

func (h *WebRTCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
		http.Error(w, "invalid SDP offer", http.StatusBadRequest)
		return
	}

	pc, err := h.api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		http.Error(w, "create peer connection failed", http.StatusInternalServerError)
		return
	}

	ordered := false
	var retransmits uint16
	dc, err := pc.CreateDataChannel(dataChannelLabel, &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &retransmits,
	})
	if err != nil {
		pc.Close()
		http.Error(w, "create data channel failed", http.StatusInternalServerError)
		return
	}

	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		http.Error(w, "set remote description failed", http.StatusBadRequest)
		return
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		http.Error(w, "create answer failed", http.StatusInternalServerError)
		return
	}

	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		http.Error(w, "set local description failed", http.StatusInternalServerError)
		return
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	select {
	case <-gatherComplete:
	case <-r.Context().Done():
		pc.Close()
		return
	}

	h.addPeer(pc)
	slog.InfoContext(r.Context(), "webrtc peer connected", "remote", r.RemoteAddr, "total", h.PeerCount())

	closed := make(chan struct{})
	var once sync.Once
	dc.OnClose(func() { once.Do(func() { close(closed) }) })
	dc.OnOpen(func() { go h.streamToPeer(dc, closed) })

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if s == webrtc.PeerConnectionStateFailed ||
			s == webrtc.PeerConnectionStateClosed ||
			s == webrtc.PeerConnectionStateDisconnected {
			if h.removePeer(pc) {
				pc.Close()
				slog.Info("webrtc peer disconnected", "remaining", h.PeerCount())
			}
		}
	})

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(pc.LocalDescription()); err != nil {
		slog.WarnContext(r.Context(), "failed to write SDP answer", "err", err)
	}
}

// streamToPeer forwards frames until the data channel closes.
func (h *WebRTCHandler) streamToPeer(dc *webrtc.DataChannel, closed <-chan struct{}) {
	listener := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(listener)

	for {
		select {
		case <-closed:
			return
		case <-listener.Done():
			return
		case fr := <-listener.C:
			msg, err := json.Marshal(NewPayload(fr))
			if err != nil {
				slog.Warn("webrtc payload encode failed", "index", fr.Index, "err", err)
				continue
			}
			if err := dc.SendText(string(msg)); err != nil {
				return
			}
		}
	}
}

func (h *WebRTCHandler) addPeer(pc *webrtc.PeerConnection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.peers = append(h.peers, pc)
	metrics.Viewers.WithLabelValues("webrtc").Set(float64(len(h.peers)))
}

func (h *WebRTCHandler) removePeer(pc *webrtc.PeerConnection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, p := range h.peers {
		if p == pc {
			h.peers = append(h.peers[:i], h.peers[i+1:]...)
			metrics.Viewers.WithLabelValues("webrtc").Set(float64(len(h.peers)))
			return true
		}
	}
	return false
}

// Close hangs up every peer.
func (h *WebRTCHandler) Close() {
	h.mu.Lock()
	peers := h.peers
	h.peers = nil
	h.mu.Unlock()
	for _, pc := range peers {
		pc.Close()
	}
	metrics.Viewers.WithLabelValues("webrtc").Set(0)
}
