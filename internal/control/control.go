// Package control exposes the recorder over HTTP: a small JSON control
// surface, a live JPEG preview, a WebSocket state feed and the usual
// health and metrics endpoints. The JSON paths and keys match what the
// recorder's existing field clients already speak.
package control

import (
	"context"
	_ "embed"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/e7canasta/orion-proto-recorder/internal/frame"
	"github.com/e7canasta/orion-proto-recorder/internal/recorder"
)

//go:embed index.html
var indexPage []byte

// statePublishInterval is how often the state feed refreshes the recorder
// gauges and pushes a snapshot to WebSocket subscribers.
const statePublishInterval = time.Second

// Recorder is the slice of the session manager the control surface needs.
type Recorder interface {
	StartRecording(ctx context.Context) (recorder.Status, error)
	StopRecording(ctx context.Context) (recorder.Status, error)
	SessionState() recorder.SessionState
	PreviewFrame() (frame.Frame, bool)
	Streams() []recorder.StreamStatus
}

// Config tunes the HTTP server.
type Config struct {
	// Addr is the listen address (e.g. "0.0.0.0:5000")
	Addr string
	// RecordingsDir is the path disk usage is reported for
	RecordingsDir string
}

// Server serves the control surface for one recorder.
type Server struct {
	cfg     Config
	rec     Recorder
	hub     *stateHub
	httpSrv *http.Server
}

// New wires the router and returns a server ready to Start.
func New(cfg Config, rec Recorder) *Server {
	s := &Server{
		cfg: cfg,
		rec: rec,
		hub: newStateHub(),
	}

	s.httpSrv = &http.Server{
		Addr:    cfg.Addr,
		Handler: s.routes(),
		// Start and stop block until the whole fleet transitions, so the
		// write timeout must outlive the readiness wait.
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(metricsMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
	}))

	r.Get("/", s.handleIndex)
	r.Get("/get_state", s.handleState)
	r.Post("/start_recording", s.handleStart)
	r.Post("/stop_recording", s.handleStop)
	r.Get("/frame", s.handleFrame)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Get("/ws/state", s.handleStateSocket)

	return r
}

// Start begins serving in the background and launches the state feed.
// The returned channel receives the listener's terminal error; a clean
// Shutdown delivers nil.
func (s *Server) Start(ctx context.Context) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("control: listening", "addr", s.cfg.Addr)
		err := s.httpSrv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()
	go s.stateLoop(ctx)
	return errCh
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.closeAll()
	return s.httpSrv.Shutdown(ctx)
}

// stateLoop periodically snapshots the recorder, refreshes the gauges and
// broadcasts the snapshot to WebSocket subscribers. Running the snapshot
// here keeps metric scrapes and the feed from queueing on the session
// mutex during long transitions.
func (s *Server) stateLoop(ctx context.Context) {
	ticker := time.NewTicker(statePublishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			resp := s.stateSnapshot()
			updateRecorderMetrics(resp)
			s.hub.broadcast(resp)
		}
	}
}
