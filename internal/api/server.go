// Package api exposes the engine's inbound HTTP surface: the signed
// draft-validation webhook, health probes, metrics and the order event
// stream. Everything else in the system is outbound.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"vendorsync/internal/engine"
	"vendorsync/internal/mapping"
	"vendorsync/internal/metrics"
	"vendorsync/internal/webhooks"
)

type Server struct {
	Engine *engine.Engine
	Auth   *webhooks.Authenticator
	Broker engine.Broker
	Maps   mapping.Store
	Log    *zap.Logger
}

func NewServer(e *engine.Engine, auth *webhooks.Authenticator, broker engine.Broker, maps mapping.Store, log *zap.Logger) *Server {
	return &Server{Engine: e, Auth: auth, Broker: broker, Maps: maps, Log: log}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/webhooks/draft-validate/", s.DraftValidateHandler)
	mux.HandleFunc("/v1/orders/events/stream", s.EventStreamHandler)
	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/readyz", s.ReadyHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	return s.logMiddleware(mux)
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	// Readiness hinges on the mapping backend: without it every order would
	// be deferred.
	if _, err := s.Maps.MigrationApplied(ctx, "readyz-probe"); err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "mapping backend unavailable", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.HTTPRequests.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rec.status)).Inc()
		s.Log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("took", time.Since(start)))
	})
}
