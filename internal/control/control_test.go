package control

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/e7canasta/orion-proto-recorder/internal/enginemock"
	"github.com/e7canasta/orion-proto-recorder/internal/frame"
	"github.com/e7canasta/orion-proto-recorder/internal/recorder"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	root := t.TempDir()
	mgr, err := recorder.NewManager(recorder.ManagerConfig{
		Root: root,
		Streams: []recorder.StreamConfig{
			{Name: "front", Kind: recorder.KindColor, Format: ".avi", FPS: 30, Preview: true},
			{Name: "thermal", Kind: recorder.KindThermal, Format: ".raw", FPS: 9},
		},
		Wait: recorder.WaitConfig{
			PollInterval:    time.Millisecond,
			MaxPollInterval: 5 * time.Millisecond,
			Timeout:         250 * time.Millisecond,
		},
	}, enginemock.Factory(enginemock.Options{Width: 16, Height: 8}))
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	srv := New(Config{Addr: "127.0.0.1:0", RecordingsDir: root}, mgr)
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)
	return ts
}

func postStatus(t *testing.T, ts *httptest.Server, path string) string {
	t.Helper()
	res, err := http.Post(ts.URL+path, "application/json", nil)
	if err != nil {
		t.Fatalf("POST %s failed: %v", path, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("POST %s: expected 200, got %d", path, res.StatusCode)
	}
	var body statusResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("POST %s: decode failed: %v", path, err)
	}
	return body.Status
}

func getState(t *testing.T, ts *httptest.Server) map[string]any {
	t.Helper()
	res, err := http.Get(ts.URL + "/get_state")
	if err != nil {
		t.Fatalf("GET /get_state failed: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("GET /get_state: expected 200, got %d", res.StatusCode)
	}
	var state map[string]any
	if err := json.NewDecoder(res.Body).Decode(&state); err != nil {
		t.Fatalf("GET /get_state: decode failed: %v", err)
	}
	return state
}

func TestStateEndpointIdle(t *testing.T) {
	ts := newTestServer(t)
	state := getState(t, ts)

	if state["is_recording"] != false {
		t.Errorf("Expected is_recording false, got %v", state["is_recording"])
	}
	duration, ok := state["recording_duration"]
	if !ok {
		t.Error("Expected recording_duration key to be present")
	}
	if duration != nil {
		t.Errorf("Expected recording_duration null while idle, got %v", duration)
	}

	disk, ok := state["disk_usage"].(map[string]any)
	if !ok {
		t.Fatalf("Expected disk_usage object, got %v", state["disk_usage"])
	}
	if total, _ := disk["total"].(float64); total <= 0 {
		t.Errorf("Expected positive disk total, got %v", disk["total"])
	}
	if _, ok := disk["percent_used"]; !ok {
		t.Error("Expected percent_used in disk_usage")
	}

	streams, ok := state["streams"].([]any)
	if !ok || len(streams) != 2 {
		t.Fatalf("Expected 2 streams in state, got %v", state["streams"])
	}
	first := streams[0].(map[string]any)
	if first["state"] != "idle" {
		t.Errorf("Expected idle stream, got %v", first["state"])
	}
}

func TestStartStopRoundTrip(t *testing.T) {
	ts := newTestServer(t)

	if got := postStatus(t, ts, "/start_recording"); got != "recording started" {
		t.Fatalf("Expected 'recording started', got %q", got)
	}
	if got := postStatus(t, ts, "/start_recording"); got != "already recording" {
		t.Errorf("Expected 'already recording', got %q", got)
	}

	state := getState(t, ts)
	if state["is_recording"] != true {
		t.Errorf("Expected is_recording true, got %v", state["is_recording"])
	}
	if state["recording_duration"] == nil {
		t.Error("Expected recording_duration to be set while recording")
	}
	if state["session_id"] == nil || state["session_id"] == "" {
		t.Error("Expected session_id while recording")
	}

	if got := postStatus(t, ts, "/stop_recording"); got != "recording stopped" {
		t.Fatalf("Expected 'recording stopped', got %q", got)
	}
	if got := postStatus(t, ts, "/stop_recording"); got != "already stopped" {
		t.Errorf("Expected 'already stopped', got %q", got)
	}

	state = getState(t, ts)
	if state["is_recording"] != false {
		t.Errorf("Expected is_recording false after stop, got %v", state["is_recording"])
	}
	if state["recording_duration"] != nil {
		t.Errorf("Expected recording_duration null after stop, got %v", state["recording_duration"])
	}
}

func TestFrameEndpoint(t *testing.T) {
	ts := newTestServer(t)

	res, err := http.Get(ts.URL + "/frame")
	if err != nil {
		t.Fatalf("GET /frame failed: %v", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("Expected image/jpeg, got %q", ct)
	}
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body failed: %v", err)
	}
	if len(data) < 2 || data[0] != 0xFF || data[1] != 0xD8 {
		t.Error("Expected JPEG magic bytes at start of body")
	}
}

func TestIndexServed(t *testing.T) {
	ts := newTestServer(t)

	res, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET / failed: %v", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Expected text/html, got %q", ct)
	}
	body, _ := io.ReadAll(res.Body)
	if !strings.Contains(string(body), "start_recording") {
		t.Error("Expected index page to wire the start endpoint")
	}
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		res, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s failed: %v", path, err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Errorf("GET %s: expected 200, got %d", path, res.StatusCode)
		}
	}
}

// stubRecorder scripts the recorder surface for error mapping tests.
type stubRecorder struct {
	startErr error
	stopErr  error
}

func (s *stubRecorder) StartRecording(ctx context.Context) (recorder.Status, error) {
	if s.startErr != nil {
		return "", s.startErr
	}
	return recorder.StatusStarted, nil
}

func (s *stubRecorder) StopRecording(ctx context.Context) (recorder.Status, error) {
	if s.stopErr != nil {
		return "", s.stopErr
	}
	return recorder.StatusStopped, nil
}

func (s *stubRecorder) SessionState() recorder.SessionState { return recorder.SessionState{} }
func (s *stubRecorder) PreviewFrame() (frame.Frame, bool)   { return frame.Frame{}, false }
func (s *stubRecorder) Streams() []recorder.StreamStatus    { return nil }

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{
			name:     "invalid state maps to conflict",
			err:      &recorder.InvalidStateError{Stream: "front", Op: "set output dir", State: recorder.StateRecording},
			expected: http.StatusConflict,
		},
		{
			name:     "stream fault maps to gateway timeout",
			err:      &recorder.StreamFaultError{Op: "start", Streams: []string{"thermal"}, Timeout: time.Second},
			expected: http.StatusGatewayTimeout,
		},
		{
			name:     "unknown error maps to internal",
			err:      errors.New("engine exploded"),
			expected: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := New(Config{RecordingsDir: t.TempDir()}, &stubRecorder{startErr: tt.err})
			ts := httptest.NewServer(srv.routes())
			defer ts.Close()

			res, err := http.Post(ts.URL+"/start_recording", "application/json", nil)
			if err != nil {
				t.Fatalf("POST failed: %v", err)
			}
			defer res.Body.Close()

			if res.StatusCode != tt.expected {
				t.Errorf("Expected status %d, got %d", tt.expected, res.StatusCode)
			}
			var body map[string]any
			if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
				t.Fatalf("decode error body failed: %v", err)
			}
			if body["error"] == nil || body["error"] == "" {
				t.Error("Expected error message in body")
			}
		})
	}
}

func TestStateSocketPushesSnapshot(t *testing.T) {
	ts := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/state"
	conn, res, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	if res != nil {
		res.Body.Close()
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read snapshot failed: %v", err)
	}

	var state map[string]any
	if err := json.Unmarshal(data, &state); err != nil {
		t.Fatalf("decode snapshot failed: %v", err)
	}
	if state["is_recording"] != false {
		t.Errorf("Expected idle snapshot, got %v", state["is_recording"])
	}
}
