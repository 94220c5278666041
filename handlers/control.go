package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"

	"novaplayer/services/playback"
)

// ControlHandler exposes the session controller to an embedding UI over the
// local control API. Seek requests go through the debouncer so scrub bursts
// collapse to one network call.
type ControlHandler struct {
	controller *playback.Controller
	debouncer  *playback.SeekDebouncer
}

// NewControlHandler creates a control handler for the given controller.
func NewControlHandler(controller *playback.Controller, debouncer *playback.SeekDebouncer) *ControlHandler {
	return &ControlHandler{controller: controller, debouncer: debouncer}
}

// controlStatus is the JSON shape returned by GET /control/status.
type controlStatus struct {
	Status        string  `json:"status"`
	Error         string  `json:"error,omitempty"`
	SessionID     string  `json:"sessionId,omitempty"`
	PlaylistURL   string  `json:"playlistUrl,omitempty"`
	Duration      float64 `json:"duration,omitempty"`
	CurrentTime   float64 `json:"currentTime"`
	BufferEnd     float64 `json:"bufferEnd"`
	AudioTrack    int     `json:"audioTrack"`
	SubtitleTrack int     `json:"subtitleTrack"`
	Recreating    bool    `json:"recreating"`
}

// Status returns the controller's current state.
func (h *ControlHandler) Status(w http.ResponseWriter, r *http.Request) {
	st := controlStatus{
		Status:      string(h.controller.Status()),
		Error:       h.controller.LastError(),
		Duration:    h.controller.Duration(),
		CurrentTime: h.controller.CurrentTime(),
		BufferEnd:   h.controller.Times().SessionBufferEnd(),
		Recreating:  h.controller.IsRecreating(),
	}
	tracks := h.controller.Tracks()
	st.AudioTrack = tracks.Audio
	st.SubtitleTrack = tracks.Subtitle
	if sess := h.controller.CurrentSession(); sess != nil {
		st.SessionID = sess.ID
		st.PlaylistURL = sess.PlaylistURL
	}
	writeJSON(w, http.StatusOK, st)
}

// Seek schedules a debounced seek to the requested absolute time. The
// response reports whether this request reached the network or was
// superseded by a newer one.
func (h *ControlHandler) Seek(w http.ResponseWriter, r *http.Request) {
	timeStr := strings.TrimSpace(r.URL.Query().Get("time"))
	if timeStr == "" {
		http.Error(w, "missing time parameter", http.StatusBadRequest)
		return
	}
	target, err := strconv.ParseFloat(timeStr, 64)
	if err != nil || target < 0 {
		http.Error(w, "invalid time parameter", http.StatusBadRequest)
		return
	}

	applied := <-h.debouncer.Request(target)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"applied": applied,
		"target":  target,
	})
}

// AudioTrack switches the audio track, which recreates the session.
func (h *ControlHandler) AudioTrack(w http.ResponseWriter, r *http.Request) {
	index, ok := parseIndex(w, r)
	if !ok {
		return
	}
	sess := h.controller.ChangeAudioTrack(r.Context(), index, h.controller.CurrentTime())
	if sess == nil {
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"ok":    false,
			"error": h.controller.LastError(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":        true,
		"sessionId": sess.ID,
	})
}

// SubtitleTrack switches the subtitle track locally; no session recreate.
func (h *ControlHandler) SubtitleTrack(w http.ResponseWriter, r *http.Request) {
	index, ok := parseIndex(w, r)
	if !ok {
		return
	}
	h.controller.ChangeSubtitleTrack(index)
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

// Play resumes playback.
func (h *ControlHandler) Play(w http.ResponseWriter, r *http.Request) {
	h.controller.Player().Play()
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

// Pause pauses playback. The keepalive loop keeps the paused session alive
// server-side.
func (h *ControlHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.controller.Player().Pause()
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

func parseIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	idxStr := strings.TrimSpace(r.URL.Query().Get("index"))
	if idxStr == "" {
		http.Error(w, "missing index parameter", http.StatusBadRequest)
		return 0, false
	}
	index, err := strconv.Atoi(idxStr)
	if err != nil || index < -1 {
		http.Error(w, "invalid index parameter", http.StatusBadRequest)
		return 0, false
	}
	return index, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[control] failed to encode response: %v", err)
	}
}
