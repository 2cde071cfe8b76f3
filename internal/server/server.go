// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/keocheung/AnnaTranslator/internal/commands"
	"github.com/keocheung/AnnaTranslator/internal/events"
	"github.com/keocheung/AnnaTranslator/internal/ingest"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultPort is the default port for the HTTP listener.
	DefaultPort = 17889

	// MaxRequestBodySize is the default body limit (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024
)

// Body formats accepted by POST /submit.
const (
	SubmitAuto = "auto"
	SubmitRaw  = "raw"
	SubmitJSON = "json"
)

// ============================================================================
// SERVER
// ============================================================================

// Processor rewrites and broadcasts ingested text. *ingest.Pipeline implements it.
type Processor interface {
	Process(ctx context.Context, source ingest.Source, raw string) (string, error)
}

// Server is the loopback HTTP listener: the text ingress routes plus the
// command and event surface for the host UI.
type Server struct {
	port     int
	router   *http.ServeMux
	server   *http.Server
	stopping bool

	pipeline Processor
	emitter  events.Emitter
	logger   *zap.Logger
	started  time.Time

	commands     *commands.Registry
	events       http.Handler
	metrics      http.Handler
	limiter      *RateLimiter
	cors         *CORSConfig
	submitFormat string
	maxBody      int64
	version      string
	healthInfo   func(*HealthResponse)

	openAICompat atomic.Bool

	errMu   sync.Mutex
	lastErr *events.ServerFailure

	mu sync.RWMutex
}

// NewServer creates a Server on the given port. If port is 0, DefaultPort is
// used. emitter receives http_server_failed; logger may be nil.
func NewServer(port int, pipeline Processor, emitter events.Emitter, logger *zap.Logger) *Server {
	if port == 0 {
		port = DefaultPort
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		port:         port,
		router:       http.NewServeMux(),
		pipeline:     pipeline,
		emitter:      emitter,
		logger:       logger.Named("server"),
		started:      time.Now(),
		cors:         DefaultCORSConfig(),
		submitFormat: SubmitAuto,
		maxBody:      MaxRequestBodySize,
		version:      "dev",
	}

	s.setupRoutes()
	return s
}

// WithCommands exposes reg under /api/commands.
func (s *Server) WithCommands(reg *commands.Registry) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = reg
	return s
}

// WithEvents serves h (the websocket event stream) at /events.
func (s *Server) WithEvents(h http.Handler) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = h
	return s
}

// WithHealthInfo sets fn to fill the daemon-level fields of GET /health.
func (s *Server) WithHealthInfo(fn func(*HealthResponse)) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthInfo = fn
	return s
}

// WithMetrics serves h (Prometheus exposition) at /metrics.
func (s *Server) WithMetrics(h http.Handler) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = h
	return s
}

// WithRateLimit enables per-client rate limiting; 0 disables it.
func (s *Server) WithRateLimit(perMinute int) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	if perMinute <= 0 {
		s.limiter = nil
		return s
	}
	s.limiter = NewRateLimiter(perMinute)
	return s
}

// WithCORS replaces the CORS configuration.
func (s *Server) WithCORS(config *CORSConfig) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cors = config
	return s
}

// WithSubmitFormat sets how /submit bodies are read: SubmitAuto, SubmitRaw or
// SubmitJSON. Unknown values fall back to SubmitAuto.
func (s *Server) WithSubmitFormat(format string) *Server {
	switch format {
	case SubmitRaw, SubmitJSON:
	default:
		format = SubmitAuto
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitFormat = format
	return s
}

// WithMaxBodyBytes sets the request body limit.
func (s *Server) WithMaxBodyBytes(n int64) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > 0 {
		s.maxBody = n
	}
	return s
}

// WithVersion sets the version reported by /health.
func (s *Server) WithVersion(v string) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version = v
	return s
}

// Port returns the server port.
func (s *Server) Port() int {
	return s.port
}

// Addr returns the loopback listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("127.0.0.1:%d", s.port)
}

// SetOpenAICompatibleInput gates POST /v1/chat/completions.
func (s *Server) SetOpenAICompatibleInput(on bool) {
	if s.openAICompat.Swap(on) != on {
		s.logger.Info("OPENAI_COMPAT_TOGGLED", zap.Bool("enabled", on))
	}
}

// OpenAICompatibleInput reports whether the chat-completions route accepts text.
func (s *Server) OpenAICompatibleInput() bool {
	return s.openAICompat.Load()
}

// LastError returns the most recent bind failure, or nil.
func (s *Server) LastError() *events.ServerFailure {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.lastErr == nil {
		return nil
	}
	failure := *s.lastErr
	return &failure
}

// ============================================================================
// ROUTES
// ============================================================================

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	// Text ingress
	s.router.HandleFunc("POST /submit", s.handleSubmit)
	s.router.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)

	// Host UI surface
	s.router.HandleFunc("GET /api/commands", s.handleListCommands)
	s.router.HandleFunc("POST /api/commands/{name}", s.handleCommand)
	s.router.HandleFunc("GET /events", s.handleEvents)

	// Health and metrics
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /metrics", s.handleMetrics)
}

// Handler returns the router wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	s.mu.RLock()
	limiter, cors := s.limiter, s.cors
	s.mu.RUnlock()

	middlewares := []func(http.Handler) http.Handler{
		RecoveryMiddleware(s.logger),
		SecurityHeadersMiddleware(),
		CORSMiddleware(cors),
		LoggingMiddleware(s.logger),
	}
	if limiter != nil {
		middlewares = append(middlewares, RateLimitMiddleware(limiter, s.logger))
	}
	return Chain(middlewares...)(s.router)
}

// ============================================================================
// SUBMIT HANDLER
// ============================================================================

// SubmitRequest is the JSON form of a /submit body.
type SubmitRequest struct {
	Text *string `json:"text"`
}

// SubmitResponse reports the text that was broadcast.
type SubmitResponse struct {
	Status string `json:"status"`
	Text   string `json:"text"`
}

// handleSubmit handles POST /submit. The body is forwarded as-is, including
// when it is empty.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	s.mu.RLock()
	format := s.submitFormat
	s.mu.RUnlock()

	text, err := decodeSubmit(format, body)
	if err != nil {
		s.logger.Warn("SUBMIT_BAD_REQUEST", zap.Error(err))
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.logger.Info("SUBMIT_RECEIVED", zap.Int("len", len(text)))
	processed, err := s.pipeline.Process(r.Context(), ingest.SourceHTTP, text)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to deliver text")
		return
	}

	s.writeJSON(w, http.StatusOK, SubmitResponse{Status: "ok", Text: processed})
}

// decodeSubmit extracts the text from a /submit body.
func decodeSubmit(format string, body []byte) (string, error) {
	if !utf8.Valid(body) {
		return "", errors.New("body must be UTF-8 text")
	}
	switch format {
	case SubmitRaw:
		return string(body), nil
	case SubmitJSON:
		var req SubmitRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return "", fmt.Errorf("body must be a JSON object: %w", err)
		}
		if req.Text == nil {
			return "", errors.New(`body must have a "text" string field`)
		}
		return *req.Text, nil
	default:
		if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && trimmed[0] == '{' {
			var req SubmitRequest
			if json.Unmarshal(trimmed, &req) == nil && req.Text != nil {
				return *req.Text, nil
			}
		}
		return string(body), nil
	}
}

// ============================================================================
// CHAT COMPLETIONS HANDLER
// ============================================================================

// handleChatCompletions handles POST /v1/chat/completions. It only harvests
// the last user message; the response is always 404 so the calling tool does
// not wait for a completion.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	defer s.writeError(w, http.StatusNotFound, "not found")

	if !s.OpenAICompatibleInput() {
		return
	}

	s.mu.RLock()
	limit := s.maxBody
	s.mu.RUnlock()

	var req ChatCompletionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit)).Decode(&req); err != nil {
		s.logger.Warn("OPENAI_BAD_REQUEST", zap.Error(err))
		return
	}

	text, ok := LastUserText(req.Messages)
	if !ok {
		s.logger.Warn("OPENAI_NO_USER_MESSAGE", zap.Int("messages", len(req.Messages)))
		return
	}

	s.logger.Info("OPENAI_INPUT_RECEIVED", zap.Int("len", len(text)))
	// Emission failures are logged by the pipeline and do not change the status.
	_, _ = s.pipeline.Process(r.Context(), ingest.SourceOpenAI, text)
}

// ============================================================================
// COMMAND HANDLERS
// ============================================================================

// CommandResponse wraps a command result.
type CommandResponse struct {
	Result any `json:"result"`
}

// CommandListResponse lists the callable commands.
type CommandListResponse struct {
	Commands []commands.Info `json:"commands"`
}

// handleListCommands handles GET /api/commands.
func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	reg := s.registry()
	if reg == nil {
		s.writeError(w, http.StatusNotFound, "commands not configured")
		return
	}
	s.writeJSON(w, http.StatusOK, CommandListResponse{Commands: reg.List()})
}

// handleCommand handles POST /api/commands/{name}.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	reg := s.registry()
	if reg == nil {
		s.writeError(w, http.StatusNotFound, "commands not configured")
		return
	}

	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	result, err := reg.Invoke(r.Context(), r.PathValue("name"), body)
	switch {
	case errors.Is(err, commands.ErrUnknownCommand):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, commands.ErrInvalidArgs):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	default:
		s.writeJSON(w, http.StatusOK, CommandResponse{Result: result})
	}
}

func (s *Server) registry() *commands.Registry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.commands
}

// ============================================================================
// EVENTS, HEALTH AND METRICS
// ============================================================================

// handleEvents handles GET /events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	h := s.events
	s.mu.RUnlock()

	if h == nil {
		s.writeError(w, http.StatusNotFound, "event stream not configured")
		return
	}
	h.ServeHTTP(w, r)
}

// handleMetrics handles GET /metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	h := s.metrics
	s.mu.RUnlock()

	if h == nil {
		s.writeError(w, http.StatusNotFound, "metrics disabled")
		return
	}
	h.ServeHTTP(w, r)
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status                string `json:"status"`
	Version               string `json:"version"`
	UptimeSeconds         int64  `json:"uptime_seconds"`
	OpenAICompatibleInput bool   `json:"openai_compatible_input"`
	SubmitFormat          string `json:"submit_format"`

	// Filled by WithHealthInfo.
	Rules            int    `json:"rules"`
	EventSubscribers int    `json:"event_subscribers"`
	ClipboardWatch   bool   `json:"clipboard_watch"`
	ClipboardLast    string `json:"clipboard_last,omitempty"`
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	health := HealthResponse{
		Status:                "ok",
		Version:               s.version,
		UptimeSeconds:         int64(time.Since(s.started).Seconds()),
		OpenAICompatibleInput: s.OpenAICompatibleInput(),
		SubmitFormat:          s.submitFormat,
	}
	info := s.healthInfo
	s.mu.RUnlock()

	if info != nil {
		info(&health)
	}

	s.writeJSON(w, http.StatusOK, health)
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start binds the loopback address and serves until Shutdown. A bind failure
// is recorded (see LastError), broadcast as http_server_failed and returned.
// A clean Shutdown returns nil.
func (s *Server) Start() error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Listen binds the loopback address. Failures are recorded and broadcast.
func (s *Server) Listen() (net.Listener, error) {
	addr := s.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.recordFailure(err)
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return ln, nil
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return ln.Close()
	}
	s.server = srv
	version := s.version
	s.mu.Unlock()

	s.logger.Info("SERVER_START", zap.String("addr", ln.Addr().String()), zap.String("version", version))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server. A Serve that has not started
// yet returns immediately once Shutdown was called.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.stopping = true
	srv := s.server
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	s.logger.Info("SERVER_SHUTDOWN")
	return srv.Shutdown(ctx)
}

// recordFailure stores a bind failure and tells the UI about it.
func (s *Server) recordFailure(err error) {
	failure := events.ServerFailure{Port: s.port, Message: err.Error()}

	s.errMu.Lock()
	s.lastErr = &failure
	s.errMu.Unlock()

	s.logger.Error("SERVER_BIND_FAILED", zap.Int("port", s.port), zap.Error(err))
	if emitErr := s.emitter.Emit(events.HTTPServerFailed, failure); emitErr != nil {
		s.logger.Error("EMIT_FAILED", zap.String("event", events.HTTPServerFailed), zap.Error(emitErr))
	}
}

// ============================================================================
// HELPERS
// ============================================================================

// readBody reads the whole body up to the configured limit. On failure it
// writes the error response and returns false.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	s.mu.RLock()
	limit := s.maxBody
	s.mu.RUnlock()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds maximum size of %d bytes", limit))
			return nil, false
		}
		s.writeError(w, http.StatusBadRequest, "could not read request body")
		return nil, false
	}
	return body, true
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("WRITE_RESPONSE_FAILED", zap.Error(err))
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	errType := "invalid_request_error"
	if status >= http.StatusInternalServerError {
		errType = "server_error"
	}
	s.writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    errType,
			"code":    status,
		},
	})
}
