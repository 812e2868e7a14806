package api

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"ridequeue/internal/config"
	"ridequeue/internal/domain"
	"ridequeue/internal/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	headerRequestID = "X-Request-ID"
	maxBodyBytes    = 1 << 20
)

// HTTPServer exposes the queue API to sales, drivers, desktop terminals and
// the payment subsystem.
type HTTPServer struct {
	cfg    config.APIConfig
	svc    domain.QueueService
	tasks  domain.SyncTaskLister
	auth   *HTTPAuth
	actors actorResolver
	hub    *Hub
	server *http.Server
	now    func() time.Time
	logger zerolog.Logger
}

// NewHTTPServer builds the router. hub may be nil, which disables the live
// feed; tasks may be nil, which disables the mirror task listing.
func NewHTTPServer(cfg config.APIConfig, svc domain.QueueService, tasks domain.SyncTaskLister, hub *Hub, logger *zerolog.Logger) *HTTPServer {
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "http").Logger()
	}

	srv := &HTTPServer{
		cfg:    cfg,
		svc:    svc,
		tasks:  tasks,
		auth:   NewHTTPAuth(cfg),
		actors: actorResolver{jwtSecret: cfg.Auth.JWTSecret},
		hub:    hub,
		now:    time.Now,
		logger: base,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", srv.handleHealth)
	mux.HandleFunc("GET /readyz", srv.handleReady)

	srv.handle(mux, "GET /api/v1/queue", PermQueueRead, srv.handleQueue)
	srv.handle(mux, "GET /api/v1/queue/next", PermQueueRead, srv.handleNext)
	srv.handle(mux, "GET /api/v1/queue/export.xlsx", PermQueueRead, srv.handleExport)
	srv.handle(mux, "GET /api/v1/queue/ws", PermQueueRead, srv.handleWS)
	srv.handle(mux, "GET /api/v1/entries/{id}", PermQueueRead, srv.handleGetEntry)

	srv.handle(mux, "POST /api/v1/admissions", PermQueueAdmit, srv.handleAdmission)
	srv.handle(mux, "POST /api/v1/entries/{id}/start", PermQueueDrive, srv.handleStartRide)
	srv.handle(mux, "POST /api/v1/entries/{id}/complete", PermQueueDrive, srv.handleCompleteRide)
	srv.handle(mux, "POST /api/v1/entries/{id}/remove", PermQueueWrite, srv.handleRemoveCustomer)
	srv.handle(mux, "POST /api/v1/queue/reorder", PermQueueWrite, srv.handleReorder)
	srv.handle(mux, "POST /api/v1/queue/recalculate", PermQueueWrite, srv.handleRecalculate)

	srv.handle(mux, "POST /api/v1/sync/desktop", PermQueueSync, srv.handleSyncDesktop)
	srv.handle(mux, "GET /api/v1/sync/desktop/{terminal}", PermQueueSync, srv.handleSyncState)
	srv.handle(mux, "DELETE /api/v1/sync/desktop/{terminal}", PermQueueSync, srv.handleResetSyncState)

	srv.handle(mux, "GET /api/v1/mirror/tasks", PermQueueWrite, srv.handleMirrorTasks)

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.loggingMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	return srv
}

func (s *HTTPServer) handle(mux *http.ServeMux, pattern, permission string, h http.HandlerFunc) {
	endpoint := pattern
	mux.Handle(pattern, s.auth.Require(permission, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		metrics.IncHTTP(endpoint)
		h(w, r)
	})))
}

// Handler returns the root handler with middleware applied.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// HTTPAuth provides API-key auth and per-key rate limiting for HTTP endpoints.
type HTTPAuth struct {
	cfg     config.APIConfig
	clients map[string]config.APIClientKey
	limiter *rateLimiter
}

func NewHTTPAuth(cfg config.APIConfig) *HTTPAuth {
	return &HTTPAuth{
		cfg:     cfg,
		clients: indexAPIKeys(cfg.Auth.APIKeys),
		limiter: newRateLimiter(cfg.RateLimit),
	}
}

var errPermissionDenied = errors.New("permission denied")

// Require wraps next with the API key check for permission and rate limiting.
func (a *HTTPAuth) Require(permission string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.cfg.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		if a.cfg.Auth.Enabled {
			if err := a.checkAuth(r, permission); err != nil {
				statusCode := http.StatusUnauthorized
				if errors.Is(err, errPermissionDenied) {
					statusCode = http.StatusForbidden
				}
				writeError(w, statusCode, err.Error())
				return
			}
		}

		if !a.limiter.allow(a.clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *HTTPAuth) checkAuth(r *http.Request, permission string) error {
	apiKey := strings.TrimSpace(r.Header.Get(headerName(a.cfg.Auth.HeaderAPIKey, apiKeyHeaderDefault)))
	extra := strings.TrimSpace(r.Header.Get(headerName(a.cfg.Auth.HeaderExtra, apiExtraHeaderDefault)))
	if apiKey == "" || extra == "" {
		return errors.New("missing api key headers")
	}

	client, ok := a.clients[apiKey]
	if !ok {
		return errors.New("invalid api key")
	}
	if subtle.ConstantTimeCompare([]byte(client.Extra), []byte(extra)) != 1 {
		return errors.New("invalid extra header")
	}
	if !hasPermission(client, permission) {
		return errPermissionDenied
	}
	return nil
}

func (a *HTTPAuth) clientKey(r *http.Request) string {
	if apiKey := strings.TrimSpace(r.Header.Get(headerName(a.cfg.Auth.HeaderAPIKey, apiKeyHeaderDefault))); apiKey != "" {
		return apiKey
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := strings.TrimSpace(r.Header.Get(headerRequestID))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(headerRequestID, requestID)

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error().Interface("panic", rec).Str("request_id", requestID).Msg("http handler panic")
				if !recorder.wroteHeader {
					writeError(recorder, http.StatusInternalServerError, "internal error")
				}
			}
			s.logger.Info().
				Str("request_id", requestID).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", recorder.status).
				Dur("duration", time.Since(start)).
				Msg("http request")
		}()

		next.ServeHTTP(recorder, r)
	})
}

// writeServiceError maps queue errors to HTTP statuses.
func (s *HTTPServer) writeServiceError(w http.ResponseWriter, err error) {
	var setErr *domain.ReorderSetError
	switch {
	case errors.As(err, &setErr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":     err.Error(),
			"missing":   nonNil(setErr.Missing),
			"extra":     nonNil(setErr.Extra),
			"duplicate": nonNil(setErr.Duplicate),
		})
	case errors.Is(err, domain.ErrEntryNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrDuplicateAdmission),
		errors.Is(err, domain.ErrInvalidStateTransition),
		errors.Is(err, domain.ErrNotAtHeadOfQueue):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrConcurrencyConflict):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, errUnauthenticated):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		s.logger.Error().Err(err).Msg("queue operation failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", domain.ErrInvalidArgument)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.wroteHeader = true
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijacking not supported")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
