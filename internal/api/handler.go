// Package api exposes the debug controller over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/therealutkarshpriyadarshi/logdebug/internal/debug"
	"github.com/therealutkarshpriyadarshi/logdebug/internal/health"
	"github.com/therealutkarshpriyadarshi/logdebug/internal/logging"
	"github.com/therealutkarshpriyadarshi/logdebug/internal/metrics"
	"github.com/therealutkarshpriyadarshi/logdebug/internal/profiling"
)

// SessionHeader names the session when the body or query does not
const SessionHeader = "X-Debug-Session"

// Config holds HTTP API configuration
type Config struct {
	Controller *debug.Controller
	Health     *health.Checker
	Metrics    *metrics.Collector
	Logger     *logging.Logger

	// MetricsPath serves the Prometheus registry (default: "/metrics")
	MetricsPath string
	// MaxBodySize caps request bodies in bytes (default: 10MB)
	MaxBodySize int64
	// RateLimit is requests per second per client on /api routes (0 disables)
	RateLimit int
	// Compress gzips responses for clients that accept it
	Compress bool
	// Profiling mounts pprof and runtime stats under /debug
	Profiling profiling.Config
	// Sessions reports the live session count for /debug/stats
	Sessions func() int
}

// Handler routes API, health and metrics requests
type Handler struct {
	config     Config
	controller *debug.Controller
	metrics    *metrics.Collector
	logger     *logging.Logger
	limiters   *clientLimiters
	handler    http.Handler
}

// NewHandler builds the HTTP handler
func NewHandler(cfg Config) (*Handler, error) {
	if cfg.Controller == nil {
		return nil, fmt.Errorf("controller is required")
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = 10 * 1024 * 1024
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}

	h := &Handler{
		config:     cfg,
		controller: cfg.Controller,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger.WithComponent("api"),
	}
	if cfg.RateLimit > 0 {
		h.limiters = newClientLimiters(cfg.RateLimit, 10*time.Minute)
	}

	mux := http.NewServeMux()
	h.api(mux, "POST /api/debug/parse", h.handleParse)
	h.api(mux, "POST /api/debug/transform", h.handleTransform)
	h.api(mux, "GET /api/debug/record", h.handleRecord)
	h.api(mux, "POST /api/debug/session", h.handleNewSession)
	h.api(mux, "DELETE /api/debug/session", h.handleResetSession)
	h.api(mux, "POST /api/debug/knowledge/query", h.handleKnowledgeQuery)
	h.api(mux, "GET /api/version", h.handleVersion)

	if cfg.Health != nil {
		mux.HandleFunc("GET /health", cfg.Health.HTTPHandler())
		mux.HandleFunc("GET /health/live", cfg.Health.LivenessHandler())
		mux.HandleFunc("GET /health/ready", cfg.Health.ReadinessHandler())
		mux.HandleFunc("GET /health/{component}", cfg.Health.ComponentHandler())
	}
	if cfg.Metrics != nil {
		mux.Handle("GET "+cfg.MetricsPath, promhttp.HandlerFor(
			cfg.Metrics.Registry(),
			promhttp.HandlerOpts{
				EnableOpenMetrics: true,
			},
		))
	}

	profiling.Register(mux, cfg.Profiling, cfg.Sessions, h.logger)

	var handler http.Handler = mux
	if cfg.Compress {
		handler = gzhttp.GzipHandler(handler)
	}
	h.handler = h.instrument(h.recoverer(handler))

	return h, nil
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.handler.ServeHTTP(w, r)
}

// api registers a debug API route behind the per-client rate limit
func (h *Handler) api(mux *http.ServeMux, pattern string, fn http.HandlerFunc) {
	mux.Handle(pattern, h.rateLimit(fn))
}

type parseBody struct {
	SessionID    string `json:"session_id"`
	ConnectionID *int   `json:"connection_id"`
	Rules        string `json:"rules"`
	Logs         string `json:"logs"`
	Encoding     string `json:"encoding"`
}

type transformBody struct {
	SessionID    string `json:"session_id"`
	ConnectionID *int   `json:"connection_id"`
	OML          string `json:"oml"`
	Encoding     string `json:"encoding"`
}

type knowledgeQueryBody struct {
	ConnectionID int    `json:"connection_id"`
	Table        string `json:"table"`
	SQL          string `json:"sql"`
}

type errorBody struct {
	Success bool        `json:"success"`
	Error   errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) handleParse(w http.ResponseWriter, r *http.Request) {
	var body parseBody
	if !h.decode(w, r, &body) {
		return
	}

	view, err := h.controller.Parse(r.Context(), sessionKey(r, body.SessionID), debug.ParseRequest{
		Rules:    body.Rules,
		Logs:     body.Logs,
		Encoding: body.Encoding,
	})
	if err != nil {
		h.writeDebugError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleTransform(w http.ResponseWriter, r *http.Request) {
	var body transformBody
	if !h.decode(w, r, &body) {
		return
	}

	view, err := h.controller.Transform(r.Context(), sessionKey(r, body.SessionID), debug.TransformRequest{
		OML:      body.OML,
		Encoding: body.Encoding,
	})
	if err != nil {
		h.writeDebugError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleRecord(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	view, err := h.controller.Current(r.Context(), sessionKey(r, query.Get("session_id")), query.Get("encoding"))
	if err != nil {
		h.writeDebugError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleNewSession(w http.ResponseWriter, r *http.Request) {
	key, err := h.controller.NewSession(r.Context())
	if err != nil {
		h.writeDebugError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": key})
}

func (h *Handler) handleResetSession(w http.ResponseWriter, r *http.Request) {
	if _, err := h.controller.Reset(r.Context(), sessionKey(r, r.URL.Query().Get("session_id"))); err != nil {
		h.writeDebugError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleKnowledgeQuery(w http.ResponseWriter, r *http.Request) {
	var body knowledgeQueryBody
	if !h.decode(w, r, &body) {
		return
	}

	err := h.controller.KnowledgeQuery(r.Context(), debug.KnowledgeQueryRequest{
		ConnectionID: body.ConnectionID,
		Table:        body.Table,
		SQL:          body.SQL,
	})
	h.writeDebugError(w, err)
}

func (h *Handler) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.controller.Version())
}

// decode reads a JSON body into v, answering the request itself on failure
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxBodySize)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, string(debug.KindInvalidRequest),
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return false
		}
		writeError(w, http.StatusBadRequest, string(debug.KindInvalidRequest), "malformed request body: "+err.Error())
		return false
	}
	return true
}

func (h *Handler) writeDebugError(w http.ResponseWriter, err error) {
	kind := debug.KindOf(err)
	writeError(w, kind.HTTPStatus(), string(kind), debug.ClientMessage(err))
}

// sessionKey picks the session named by the request body or query, then
// the session header. The controller maps an empty key to the default.
func sessionKey(r *http.Request, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	return r.Header.Get(SessionHeader)
}

func writeError(w http.ResponseWriter, code int, errCode, message string) {
	writeJSON(w, code, errorBody{
		Success: false,
		Error:   errorDetail{Code: errCode, Message: message},
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.Encode(v)
}
