package control

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/e7canasta/orion-proto-recorder/internal/preview"
	"github.com/e7canasta/orion-proto-recorder/internal/recorder"
	"github.com/e7canasta/orion-proto-recorder/internal/storage"
)

// stateResponse is the /get_state payload. is_recording, recording_duration
// and disk_usage are the fields existing clients parse; the session and
// stream fields are additive.
type stateResponse struct {
	IsRecording       bool          `json:"is_recording"`
	RecordingDuration *float64      `json:"recording_duration"`
	DiskUsage         storage.Usage `json:"disk_usage"`

	SessionID string                  `json:"session_id,omitempty"`
	Directory string                  `json:"directory,omitempty"`
	Streams   []recorder.StreamStatus `json:"streams"`
}

// statusResponse is the payload for the start/stop endpoints.
type statusResponse struct {
	Status string `json:"status"`
}

// stateSnapshot assembles the full state payload from the recorder and the
// recordings filesystem.
func (s *Server) stateSnapshot() stateResponse {
	state := s.rec.SessionState()

	resp := stateResponse{
		IsRecording: state.Recording,
		SessionID:   state.SessionID,
		Directory:   state.Dir,
		Streams:     s.rec.Streams(),
	}
	if state.Recording {
		d := state.Duration
		resp.RecordingDuration = &d
	}

	usage, err := storage.Read(s.cfg.RecordingsDir)
	if err != nil {
		slog.Warn("control: disk usage unavailable", "path", s.cfg.RecordingsDir, "error", err)
	}
	resp.DiskUsage = usage

	return resp
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexPage)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.stateSnapshot())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	status, err := s.rec.StartRecording(r.Context())
	if err != nil {
		writeRecorderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: string(status)})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	status, err := s.rec.StopRecording(r.Context())
	if err != nil {
		writeRecorderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: string(status)})
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	img := preview.Render(s.rec.PreviewFrame())
	data, err := preview.EncodeJPEG(img)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode frame")
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

// writeJSON writes a JSON response body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("control: encode response failed", "error", err)
	}
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": msg,
		"code":  status,
	})
}

// writeRecorderError maps recorder error kinds to HTTP status codes.
func writeRecorderError(w http.ResponseWriter, err error) {
	switch {
	case recorder.IsInvalidState(err):
		writeJSONError(w, http.StatusConflict, err.Error())
	case recorder.IsStreamFault(err):
		writeJSONError(w, http.StatusGatewayTimeout, err.Error())
	case recorder.IsConfig(err):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	default:
		writeJSONError(w, http.StatusInternalServerError, err.Error())
	}
}
