// Package server exposes the hub over HTTP: chat sessions, async tasks,
// quota introspection, the endpoint catalog, and operational routes.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/raeldev/apihub/internal/auth"
	"github.com/raeldev/apihub/internal/catalog"
	"github.com/raeldev/apihub/internal/chat"
	"github.com/raeldev/apihub/internal/fault"
	"github.com/raeldev/apihub/internal/quota"
	"github.com/raeldev/apihub/internal/task"
	"github.com/raeldev/apihub/internal/telemetry"
)

// Server is the hub HTTP server.
type Server struct {
	registry *chat.Registry
	tracker  *task.Tracker
	counter  *quota.Counter
	manifest *catalog.Manifest
	metrics  *telemetry.Metrics
	limiter  *auth.RateLimiter
	logger   *slog.Logger

	mux          *http.ServeMux
	server       *http.Server
	ownerKey     string
	readTimeout  time.Duration
	writeTimeout time.Duration
	startTime    time.Time
}

// ServerOption configures the Server.
type ServerOption func(*Server)

// WithOwnerKey sets the credential for admin routes.
func WithOwnerKey(key string) ServerOption {
	return func(s *Server) { s.ownerKey = key }
}

// WithRateLimiter enables per-client request limiting.
func WithRateLimiter(rl *auth.RateLimiter) ServerOption {
	return func(s *Server) { s.limiter = rl }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *telemetry.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithTimeouts sets the listener's read and write timeouts. The write
// timeout must cover the slowest upstream round trip a handler waits on.
func WithTimeouts(read, write time.Duration) ServerOption {
	return func(s *Server) {
		s.readTimeout = read
		s.writeTimeout = write
	}
}

// NewServer creates a hub server wired to its collaborators.
func NewServer(registry *chat.Registry, tracker *task.Tracker, counter *quota.Counter, manifest *catalog.Manifest, opts ...ServerOption) *Server {
	s := &Server{
		registry:  registry,
		tracker:   tracker,
		counter:   counter,
		manifest:  manifest,
		metrics:   telemetry.NewMetrics(),
		logger:    slog.Default(),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.HandleFunc("GET /v1/endpoints", s.handleEndpoints)
	mux.HandleFunc("GET /v1/overview", s.handleOverview)
	mux.HandleFunc("POST /v1/chat", s.handleChat)
	mux.HandleFunc("GET /v1/chat/models", s.handleModels)
	mux.HandleFunc("GET /v1/chat/sessions", s.handleListSessions)
	mux.HandleFunc("GET /v1/chat/sessions/{id}", s.handleSessionInfo)
	mux.HandleFunc("DELETE /v1/chat/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("POST /v1/tasks", s.handleSubmitTask)
	mux.HandleFunc("GET /v1/tasks", s.handleQueueStatus)
	mux.HandleFunc("GET /v1/tasks/{id}", s.handleTaskStatus)
	mux.HandleFunc("GET /v1/quota/{identifier}", s.handleQuotaStatus)
	mux.Handle("POST /v1/quota/reset",
		auth.AdminMiddleware(s.ownerKey, s.limiter)(http.HandlerFunc(s.handleQuotaReset)))

	s.mux = mux
	return s
}

// Handler returns the full middleware chain for use with httptest or a
// custom listener.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	if s.limiter != nil {
		h = s.limiter.Middleware(auth.ClientIPKeyFunc)(h)
	}
	return s.observe(h)
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(addr string) error {
	s.server = s.httpServer(addr)
	s.logger.Info("hub server starting", "addr", addr,
		"models", len(s.registry.AvailableModels()))
	return s.server.ListenAndServe()
}

func (s *Server) httpServer(addr string) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// observe wraps the handler with request logging and metrics. Gauges are
// refreshed per scrape-worthy event rather than on a timer.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := telemetry.WithCorrelationID(r.Context(), r.Header.Get("X-Correlation-ID"))
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r.WithContext(ctx))

		elapsed := time.Since(start)
		route := r.Method + " " + r.URL.Path
		s.metrics.RecordRequest(route, fmt.Sprintf("%d", sw.status), elapsed.Seconds())
		s.metrics.SetActiveSessions(s.registry.ActiveSessionCount())
		qs := s.tracker.GetQueueStatus()
		s.metrics.SetTaskCounts(qs.Pending, qs.Processing, qs.Completed, qs.Failed)

		telemetry.RequestLogger(s.logger, ctx, route).Info("request handled",
			"status", sw.status, "duration_ms", elapsed.Milliseconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "healthy",
		"uptime":          time.Since(s.startTime).String(),
		"active_sessions": s.registry.ActiveSessionCount(),
		"version":         s.manifest.Version,
	})
}

func (s *Server) handleEndpoints(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.manifest)
}

func (s *Server) handleOverview(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.manifest.BuildOverview(time.Since(s.startTime)))
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message   string `json:"message"`
		Model     string `json:"model,omitempty"`
		SessionID string `json:"session_id,omitempty"`
		Direct    bool   `json:"direct,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "invalid_parameter", "message is required")
		return
	}

	var reply *chat.Reply
	var err error
	switch {
	case req.SessionID != "":
		reply, err = s.registry.ContinueChat(r.Context(), req.Message, req.SessionID)
	case req.Direct:
		reply, err = s.registry.DirectChat(r.Context(), req.Message, chat.ChatOptions{Model: req.Model})
	default:
		reply, err = s.registry.ChatWithGreeting(r.Context(), req.Message, chat.ChatOptions{Model: req.Model})
	}
	if err != nil {
		s.writeFault(w, err)
		return
	}

	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleModels(w http.ResponseWriter, _ *http.Request) {
	names := s.registry.AvailableModels()
	models := make([]map[string]any, len(names))
	for i, name := range names {
		id, _ := s.registry.ModelID(name)
		models[i] = map[string]any{
			"name":        name,
			"id":          id,
			"description": fmt.Sprintf("Chat with model %s", name),
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"models":       models,
		"default":      chat.DefaultModel,
		"total_models": len(models),
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	sessions := s.registry.ListSessions()
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions":       sessions,
		"total_sessions": len(sessions),
	})
}

func (s *Server) handleSessionInfo(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	age, ok := s.registry.SessionAge(sessionID)
	if !ok {
		writeError(w, http.StatusNotFound, "session_not_found",
			fmt.Sprintf("Session %q not found or expired", sessionID))
		return
	}
	count, _ := s.registry.MessagesCount(sessionID)
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":    sessionID,
		"age_seconds":   age,
		"message_count": count,
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if !s.registry.EndSession(sessionID) {
		writeError(w, http.StatusNotFound, "session_not_found",
			fmt.Sprintf("Session %q not found", sessionID))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL        string `json:"url"`
		Identifier string `json:"identifier"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	receipt, err := s.tracker.Submit(req.URL, req.Identifier, ownerKeyFrom(r))
	if err != nil {
		s.writeFault(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, receipt)
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.tracker.GetQueueStatus())
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.tracker.GetStatus(r.PathValue("id"))
	if err != nil {
		s.writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleQuotaStatus(w http.ResponseWriter, r *http.Request) {
	identifier := r.PathValue("identifier")
	status := s.counter.GetStatus(identifier)
	writeJSON(w, http.StatusOK, map[string]any{
		"identifier": identifier,
		"quota":      status,
	})
}

func (s *Server) handleQuotaReset(w http.ResponseWriter, _ *http.Request) {
	cleared := s.counter.ResetAll()
	s.logger.Info("quota counters reset", "cleared", cleared)
	writeJSON(w, http.StatusOK, map[string]any{
		"reset":   true,
		"cleared": cleared,
	})
}

// ownerKeyFrom extracts the owner credential from the request. The header
// wins over the query parameter.
func ownerKeyFrom(r *http.Request) string {
	if key := r.Header.Get("X-Owner-Key"); key != "" {
		return key
	}
	return r.URL.Query().Get("owner_key")
}

// writeFault maps a typed fault onto an HTTP status and JSON body.
func (s *Server) writeFault(w http.ResponseWriter, err error) {
	kind := fault.KindOf(err)
	status := statusFor(kind)

	if kind == fault.KindDailyLimitExceeded {
		s.metrics.RecordQuotaRejection()
	}
	switch kind {
	case fault.KindAuthExpired, fault.KindUpstreamUnavailable,
		fault.KindUpstreamInvalidResponse, fault.KindNonceNotFound:
		s.metrics.RecordUpstreamFailure(string(kind))
	}

	body := map[string]any{
		"error":   string(kind),
		"message": err.Error(),
	}
	if body["error"] == "" {
		body["error"] = "internal_error"
	}
	for k, v := range fault.MetaOf(err) {
		body[k] = v
	}
	writeJSON(w, status, body)
}

func statusFor(kind fault.Kind) int {
	switch kind {
	case fault.KindInvalidModel, fault.KindInvalidParameter:
		return http.StatusBadRequest
	case fault.KindSessionNotFound, fault.KindTaskNotFound:
		return http.StatusNotFound
	case fault.KindDailyLimitExceeded:
		return http.StatusTooManyRequests
	case fault.KindAuthExpired, fault.KindNonceNotFound,
		fault.KindUpstreamInvalidResponse, fault.KindUpstreamUnavailable,
		fault.KindProcessingFailed:
		return http.StatusBadGateway
	case fault.KindProcessingTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"error":   code,
		"message": message,
	})
}
