package control

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "protorec",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"path", "method", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "protorec",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"path", "method", "status"},
	)

	recordingGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "protorec",
			Subsystem: "recorder",
			Name:      "recording",
			Help:      "1 while a recording session is active",
		},
	)

	sessionSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "protorec",
			Subsystem: "recorder",
			Name:      "session_seconds",
			Help:      "Elapsed seconds of the active recording session",
		},
	)

	diskPercentUsed = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "protorec",
			Subsystem: "recorder",
			Name:      "disk_percent_used",
			Help:      "Percent of the recordings filesystem in use",
		},
	)

	framesPublished = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "protorec",
			Subsystem: "recorder",
			Name:      "frames_published",
			Help:      "Frames the stream has published to its preview slot",
		},
		[]string{"stream"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		recordingGauge,
		sessionSeconds,
		diskPercentUsed,
		framesPublished,
	)
}

// updateRecorderMetrics refreshes the recorder gauges from a state snapshot.
func updateRecorderMetrics(state stateResponse) {
	if state.IsRecording {
		recordingGauge.Set(1)
	} else {
		recordingGauge.Set(0)
	}
	if state.RecordingDuration != nil {
		sessionSeconds.Set(*state.RecordingDuration)
	} else {
		sessionSeconds.Set(0)
	}
	diskPercentUsed.Set(state.DiskUsage.PercentUsed)
	for _, st := range state.Streams {
		framesPublished.WithLabelValues(st.Name).Set(float64(st.FramesPublished))
	}
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// Hijack lets the WebSocket upgrade reach the underlying connection.
func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := sr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("control: response writer does not support hijacking")
	}
	return hj.Hijack()
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// metricsMiddleware instruments requests for Prometheus.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sr, r)

		path := routePatternOrPath(r)
		status := strconv.Itoa(sr.status)
		httpRequestsTotal.WithLabelValues(path, r.Method, status).Inc()
		httpRequestDuration.WithLabelValues(path, r.Method, status).Observe(time.Since(start).Seconds())
	})
}

// routePatternOrPath returns the chi route pattern if available, otherwise
// falls back to the URL path. This avoids high-cardinality label values.
func routePatternOrPath(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}
