// Package httpmcp is the HTTP/MCP transport of spec §6.1: it exposes the
// gateway's five MCP tools over plain HTTP instead of the stdio transport
// most MCP clients default to, plus a health probe and an admin dashboard.
//
// Grounded on original_source/snowflake_mcp_server/transports/http_server.py
// (route layout: /health, /status, /mcp/tools, /mcp/tools/call) and the
// teacher's server/server.go for the request-scoped logging and lifecycle
// conventions, reworked here onto a chi router since the teacher's own
// transport is AMQP-only and has no HTTP counterpart to generalize from
// directly.
package httpmcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snowgate-io/snowgate-mcp/internal/config"
	"github.com/snowgate-io/snowgate-mcp/internal/errs"
	"github.com/snowgate-io/snowgate-mcp/internal/gateway"
	"github.com/snowgate-io/snowgate-mcp/internal/obslog"
	"github.com/snowgate-io/snowgate-mcp/internal/tools"
)

// Server wires the gateway to an HTTP handler. It holds no warehouse state
// of its own; every tool call and health probe delegates straight to the
// gateway it was built with.
type Server struct {
	gw     *gateway.Gateway
	admin  *AdminAuth
	cfg    config.HTTP
	logger zerolog.Logger
}

// New builds the HTTP transport for gw using cfg's CORS/size/timeout
// settings and sec's admin authentication settings.
func New(gw *gateway.Gateway, cfg config.HTTP, sec config.Security, logger zerolog.Logger) *Server {
	return &Server{
		gw:     gw,
		admin:  NewAdminAuth(sec),
		cfg:    cfg,
		logger: logger.With().Str("component", "httpmcp").Logger(),
	}
}

// Handler builds the complete router: CORS, request correlation, recovery,
// the public MCP surface, and the admin-gated surface.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.correlationMiddleware)
	r.Use(middleware.Timeout(s.cfg.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.corsOrigins(),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Client-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/mcp/tools", s.handleListTools)
	r.Post("/mcp/tools/call", s.handleToolCall)

	r.Post("/admin/token", s.handleAdminToken)
	r.Group(func(r chi.Router) {
		r.Use(s.admin.Middleware)
		r.Get("/admin/dashboard", s.handleAdminDashboard)
	})

	return r
}

func (s *Server) corsOrigins() []string {
	if len(s.cfg.CORSOrigins) == 0 {
		return []string{"*"}
	}
	return s.cfg.CORSOrigins
}

// correlationMiddleware threads a request id (reusing chi's, if present)
// and the caller-supplied client id into context so every downstream log
// line and gateway call carries both (spec §9's ambient request state,
// surfaced here at the transport boundary).
func (s *Server) correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := middleware.GetReqID(r.Context())
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := obslog.WithCorrelation(r.Context(), obslog.Correlation{
			RequestID: requestID,
			ClientID:  clientIDFromRequest(r),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func clientIDFromRequest(r *http.Request) string {
	if id := r.Header.Get("X-Client-Id"); id != "" {
		return id
	}
	return r.URL.Query().Get("client_id")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.gw.CheckWarehouseHealth(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.gw.Stats())
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tools": tools.Names()})
}

// toolCallRequest is the POST /mcp/tools/call body, matching
// http_server.py's MCPCall model (method + params).
type toolCallRequest struct {
	Method string         `json:"method"`
	Params map[string]any `json:"params"`
}

func (s *Server) handleToolCall(w http.ResponseWriter, r *http.Request) {
	var req toolCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	handler, ok := tools.Registry[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown tool: "+req.Method)
		return
	}

	clientID := clientIDFromRequest(r)
	args := tools.Args(req.Params)
	records, err := handler(r.Context(), s.gw, clientID, args)
	if err != nil {
		status, body := toolErrorResponse(err)
		writeJSON(w, status, body)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"content": records})
}

func toolErrorResponse(err error) (int, map[string]any) {
	status := http.StatusInternalServerError
	var e *errs.Error
	if errors.As(err, &e) {
		switch e.Kind {
		case errs.KindAccessDenied, errs.KindAuth:
			status = http.StatusForbidden
		case errs.KindRateLimit, errs.KindQuotaExceeded:
			status = http.StatusTooManyRequests
		case errs.KindCircuitOpen, errs.KindPoolExhausted:
			status = http.StatusServiceUnavailable
		case errs.KindSQLInjectionRisk:
			status = http.StatusBadRequest
		case errs.KindTimeout, errs.KindCancelled:
			status = http.StatusGatewayTimeout
		}
		return status, map[string]any{"error": map[string]any{"kind": string(e.Kind), "message": e.Error()}}
	}
	return status, map[string]any{"error": map[string]any{"message": err.Error()}}
}

// adminTokenRequest is the POST /admin/token body: the raw admin API key.
type adminTokenRequest struct {
	APIKey string `json:"api_key"`
}

func (s *Server) handleAdminToken(w http.ResponseWriter, r *http.Request) {
	var req adminTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	token, err := s.admin.Exchange(r.RemoteAddr, req.APIKey)
	if err != nil {
		s.logger.Warn().Str("remote", r.RemoteAddr).Str("key_fingerprint", fingerprint(req.APIKey)).Msg("admin token exchange rejected")
		writeError(w, http.StatusUnauthorized, "invalid admin API key")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "expires_in_seconds": int(adminTokenTTL.Seconds())})
}

func (s *Server) handleAdminDashboard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.gw.Stats())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": map[string]any{"message": message}})
}

