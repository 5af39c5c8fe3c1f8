// Package handler exposes the cart service over REST and MCP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"portal-cart/internal/gateway"
	"portal-cart/internal/manager"
	"portal-cart/internal/model"
	"portal-cart/internal/session"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	registry *manager.Registry
	gw       gateway.Gateway
	logger   *slog.Logger
}

// New creates a Handler serving the carts in registry. gw answers reads of
// shared carts, which belong to no session.
func New(registry *manager.Registry, gw gateway.Gateway, logger *slog.Logger) *Handler {
	return &Handler{
		registry: registry,
		gw:       gw,
		logger:   logger,
	}
}

// RegisterRoutes registers all HTTP routes with the given ServeMux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Active cart of the calling session
	mux.HandleFunc("GET /cart", h.handleGetCart)
	mux.HandleFunc("PATCH /cart", h.handleUpdateSettings)
	mux.HandleFunc("POST /cart/elements", h.handleAddElements)
	mux.HandleFunc("DELETE /cart/elements", h.handleRemoveElements)
	mux.HandleFunc("POST /cart/clear", h.handleClear)
	mux.HandleFunc("POST /cart/reload", h.handleReload)
	mux.HandleFunc("POST /cart/facets", h.handleFacets)
	mux.HandleFunc("GET /cart/drift", h.handleDrift)
	mux.HandleFunc("DELETE /cart/alert", h.handleDismissAlert)

	// File views
	mux.HandleFunc("POST /cart/file-views", h.handleAddFileView)
	mux.HandleFunc("DELETE /cart/file-views/{title}", h.handleRemoveFileView)
	mux.HandleFunc("POST /cart/file-views/{title}/files", h.handleAddToFileView)
	mux.HandleFunc("DELETE /cart/file-views/{title}/files", h.handleRemoveFromFileView)

	// Saved carts
	mux.HandleFunc("POST /carts", h.handleCreateCart)
	mux.HandleFunc("POST /cart/switch", h.handleSwitchCart)
	mux.HandleFunc("POST /cart/delete", h.handleDeleteCart)
	mux.HandleFunc("GET /shared", h.handleShared)

	// MCP transport
	mux.Handle("/mcp", h.NewMCPHandler())

	// Infrastructure
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
}

// manager returns the cart manager of the request's session.
func (h *Handler) manager(r *http.Request) (*manager.Manager, error) {
	s, ok := session.FromContext(r.Context())
	if !ok {
		return nil, model.NewValidationError("session", session.Header+" header required")
	}
	return h.registry.Get(r.Context(), s)
}

// === Response Helpers ===

// writeJSON sends a JSON response with the given status code.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeError sends an error response. Typed errors keep their code and
// message; anything else becomes a 500 without details.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var cartErr *model.Error
	switch {
	case errors.As(err, &cartErr):
	case errors.Is(err, manager.ErrClosed):
		h.writeJSON(w, http.StatusServiceUnavailable, errorResponse{
			Error: errorBody{Code: "UNAVAILABLE", Message: "service is shutting down"},
		})
		return
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		cartErr = model.NewNetworkError("request", 0, err)
	default:
		h.logger.Error("internal error", slog.String("error", err.Error()))
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error: errorBody{Code: "INTERNAL_ERROR", Message: "an internal error occurred"},
		})
		return
	}

	h.writeJSON(w, cartErr.HTTPStatus(), errorResponse{
		Error: errorBody{
			Code:    cartErr.Code,
			Message: cartErr.Message,
		},
	})
}

// errorResponse is the JSON structure for error responses.
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MaxRequestBodySize limits JSON request bodies to 1MB.
const MaxRequestBodySize = 1 << 20

// decodeJSON reads JSON from request body into v.
func decodeJSON(r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, MaxRequestBodySize)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return model.NewValidationError("body", "invalid JSON")
	}
	return nil
}

// handleHealth returns a simple health check response.
// GET /health, GET /healthz
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Sessions: h.registry.Len()})
}

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}
