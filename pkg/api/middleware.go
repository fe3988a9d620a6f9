package api

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
)

const requestIDHeader = "X-Request-ID"

type HTTPMetrics struct {
	RequestCount    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

func NewHTTPMetrics(registry *prometheus.Registry) *HTTPMetrics {
	m := &HTTPMetrics{
		RequestCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
	}
	registry.MustRegister(m.RequestCount, m.RequestDuration)
	return m
}

// statusRecorder remembers the response status. It passes Hijack through so
// the websocket upgrade still works behind the middleware.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	if r.status == 0 {
		r.status = http.StatusSwitchingProtocols
	}
	return h.Hijack()
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
			r.Header.Set(requestIDHeader, reqID)
		}
		w.Header().Set(requestIDHeader, reqID)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) observeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}

		defer func() {
			if p := recover(); p != nil {
				s.logger.Errorw("panic", "error", p, "path", r.URL.Path, "request_id", r.Header.Get(requestIDHeader))
				respondError(rec, http.StatusInternalServerError, "internal error", "")
			}

			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}
			path := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tmpl, err := route.GetPathTemplate(); err == nil {
					path = tmpl
				}
			}
			latency := time.Since(start)

			s.logger.Debugw("request",
				"method", r.Method,
				"path", path,
				"status", status,
				"latency", latency,
				"request_id", r.Header.Get(requestIDHeader),
			)
			if s.metrics != nil {
				code := strconv.Itoa(status)
				s.metrics.RequestCount.WithLabelValues(r.Method, path, code).Inc()
				s.metrics.RequestDuration.WithLabelValues(r.Method, path, code).Observe(latency.Seconds())
			}
		}()

		next.ServeHTTP(rec, r)
	})
}
