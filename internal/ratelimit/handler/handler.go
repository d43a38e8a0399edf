// Package handler exposes operator endpoints for the per-client request limiter.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	dErrors "glaze/pkg/domain-errors"
	"glaze/pkg/platform/httputil"
	"glaze/pkg/platform/privacy"
	"glaze/pkg/requestcontext"
)

const maxAdminBodyBytes = 4 << 10

// Limiter is implemented by requestlimit.Service.
type Limiter interface {
	Reset(ctx context.Context, clientID string) error
}

type resetRequest struct {
	ClientID string `json:"clientId"`
}

type resetResponse struct {
	Success  bool   `json:"success"`
	ClientID string `json:"clientId"`
}

type Handler struct {
	limiter Limiter
	logger  *slog.Logger
}

func New(limiter Limiter, logger *slog.Logger) *Handler {
	return &Handler{limiter: limiter, logger: logger}
}

// RegisterAdmin mounts the admin routes. Callers wrap r with admin auth.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Post("/admin/rate-limit/reset", h.HandleReset)
}

// HandleReset clears the request window and burst state for one client.
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req resetRequest
	if err := httputil.DecodeJSON(w, r, maxAdminBodyBytes, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	clientID := strings.TrimSpace(req.ClientID)
	if clientID == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "clientId is required."))
		return
	}

	if err := h.limiter.Reset(ctx, clientID); err != nil {
		h.logger.ErrorContext(ctx, "rate limit reset failed",
			"request_id", requestcontext.RequestID(ctx),
			"ip_prefix", privacy.AnonymizeIP(clientID),
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to reset rate limit"))
		return
	}

	h.logger.InfoContext(ctx, "rate limit reset",
		"request_id", requestcontext.RequestID(ctx),
		"ip_prefix", privacy.AnonymizeIP(clientID),
	)
	httputil.WriteJSON(w, http.StatusOK, resetResponse{Success: true, ClientID: clientID})
}
