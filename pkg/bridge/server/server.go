// Package server exposes the bridge over HTTP: submission and polling of
// requests, queue and session introspection, Prometheus metrics and a
// websocket event stream.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/AnkleBreaker-Studio/unity-mcp-plugin-sub003/internal/observability"
	"github.com/AnkleBreaker-Studio/unity-mcp-plugin-sub003/pkg/bridge/archive"
	"github.com/AnkleBreaker-Studio/unity-mcp-plugin-sub003/pkg/bridge/command"
	"github.com/AnkleBreaker-Studio/unity-mcp-plugin-sub003/pkg/bridge/queue"
	"github.com/AnkleBreaker-Studio/unity-mcp-plugin-sub003/pkg/bridge/session"
)

// Options configures the HTTP server.
type Options struct {
	Host               string
	Port               int
	RateLimitPerMinute int
}

// Server is the bridge's transport front-end.
type Server struct {
	options     Options
	server      *http.Server
	scheduler   *queue.Scheduler
	tracker     *session.Tracker
	registry    *command.Registry
	store       *archive.Store
	hub         *EventHub
	rateLimiter *RateLimiter
	logger      zerolog.Logger
	startTime   time.Time

	shutdownMu     sync.RWMutex
	isShuttingDown bool
	inFlightReqs   sync.WaitGroup
}

// New creates a server. The archive store may be nil when archiving is
// disabled.
func New(options Options, scheduler *queue.Scheduler, tracker *session.Tracker, registry *command.Registry, store *archive.Store, logger zerolog.Logger) (*Server, error) {
	if scheduler == nil {
		return nil, fmt.Errorf("scheduler is required")
	}
	if tracker == nil {
		return nil, fmt.Errorf("session tracker is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("command registry is required")
	}
	if options.Host == "" {
		options.Host = "127.0.0.1"
	}
	if options.Port == 0 {
		options.Port = 8760
	}
	if options.RateLimitPerMinute == 0 {
		options.RateLimitPerMinute = 600
	}

	return &Server{
		options:     options,
		scheduler:   scheduler,
		tracker:     tracker,
		registry:    registry,
		store:       store,
		hub:         NewEventHub(logger),
		rateLimiter: NewRateLimiter(options.RateLimitPerMinute),
		logger:      logger.With().Str("component", "server").Logger(),
		startTime:   time.Now(),
	}, nil
}

// Hub exposes the event hub so the daemon can broadcast drain results.
func (s *Server) Hub() *EventHub {
	return s.hub
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /requests", s.guard(s.handleSubmit))
	mux.HandleFunc("GET /requests/{id}", s.guard(s.handlePoll))
	mux.HandleFunc("DELETE /requests/{id}", s.guard(s.handleCancel))
	mux.HandleFunc("GET /queue", s.guard(s.handleQueue))
	mux.HandleFunc("GET /sessions", s.guard(s.handleSessions))
	mux.HandleFunc("GET /commands", s.guard(s.handleCommands))
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", observability.MetricsHandler())
	mux.Handle("GET /events", s.hub)

	return mux
}

// Start runs the server until Stop is called. It blocks.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.options.Host, s.options.Port),
		Handler: s.Handler(),
	}

	s.logger.Info().
		Str("host", s.options.Host).
		Int("port", s.options.Port).
		Msg("Starting bridge server")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start bridge server: %w", err)
	}
	return nil
}

// Stop drains in-flight requests and shuts the listener down.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down bridge server")

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	s.rateLimiter.Stop()
	s.hub.CloseAll()

	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown bridge server: %w", err)
	}

	s.logger.Info().Msg("Bridge server stopped")
	return nil
}

// guard applies the shutdown check, in-flight tracking and rate limiting
// shared by the API routes.
func (s *Server) guard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.shutdownMu.RLock()
		if s.isShuttingDown {
			s.shutdownMu.RUnlock()
			http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
			return
		}
		s.shutdownMu.RUnlock()

		s.inFlightReqs.Add(1)
		defer s.inFlightReqs.Done()

		ip := clientIP(r)
		if !s.rateLimiter.Allow(ip) {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", s.rateLimiter.RetryAfter(ip)))
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}

		next(w, r)
	}
}

type submitRequest struct {
	SessionID string                 `json:"session_id"`
	Kind      string                 `json:"kind"`
	Payload   map[string]interface{} `json:"payload"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var body submitRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req, err := s.scheduler.Submit(body.SessionID, queue.Kind(body.Kind), body.Payload)
	if err != nil {
		switch {
		case errors.Is(err, queue.ErrQueueFull):
			writeError(w, http.StatusTooManyRequests, "queue is at capacity, retry later")
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"id":         req.ID,
		"session_id": req.SessionID,
		"status":     req.Status,
	})
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	info, err := s.scheduler.Poll(id)
	if err == nil {
		writeJSON(w, http.StatusOK, info)
		return
	}
	if !errors.Is(err, queue.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Already retrieved or swept; the archive may still have it.
	if s.store != nil {
		if resp, aerr := s.store.Get(id); aerr == nil {
			writeJSON(w, http.StatusOK, queue.StatusInfo{
				ID:       id,
				Status:   resp.Status,
				Response: resp,
			})
			return
		}
	}

	writeError(w, http.StatusNotFound, "request not found")
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	switch err := s.scheduler.Cancel(id); {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, queue.ErrNotFound):
		writeError(w, http.StatusNotFound, "request not found")
	case errors.Is(err, queue.ErrNotCancellable):
		writeError(w, http.StatusConflict, "request already dispatched")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.scheduler.Snapshot())
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": s.tracker.List(),
	})
}

func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"commands": s.registry.List(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"uptime":    time.Since(s.startTime).Seconds(),
		"pending":   s.scheduler.PendingCount(),
		"sessions":  s.tracker.Count(),
		"clients":   s.hub.ClientCount(),
		"timestamp": time.Now().UnixMilli(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}
