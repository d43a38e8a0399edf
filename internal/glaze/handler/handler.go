package handler

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"glaze/internal/admission"
	"glaze/internal/glaze"
	"glaze/internal/ratelimit/models"
	dErrors "glaze/pkg/domain-errors"
	"glaze/pkg/platform/httputil"
	"glaze/pkg/requestcontext"
)

// Service is implemented by glaze.Service.
type Service interface {
	GlazeProfile(ctx context.Context, handle string) (*glaze.Response, error)
	GlazeCode(ctx context.Context, code string) (*glaze.Response, error)
}

// Admitter is implemented by admission.Gatekeeper.
type Admitter interface {
	Screen(ctx context.Context, req admission.Request) admission.Decision
	Admit(ctx context.Context, req admission.Request) admission.Decision
}

// Budget is implemented by tokenbudget.Service.
type Budget interface {
	Usage(ctx context.Context, limit int64) models.TokenUsage
	Reset(ctx context.Context) error
}

type profileRequest struct {
	Username string `json:"username"`
	Honeypot string `json:"honeypot"`
}

type codeRequest struct {
	Code     string `json:"code"`
	Honeypot string `json:"honeypot"`
}

type resetRequest struct {
	Secret string `json:"secret"`
}

type resetResponse struct {
	Success bool `json:"success"`
}

// Config holds the handler limits.
type Config struct {
	MaxBodyBytes   int64
	MaxDailyTokens int64
	ResetSecret    string
}

type Handler struct {
	service Service
	gate    Admitter
	budget  Budget
	cfg     Config
	logger  *slog.Logger
}

func New(service Service, gate Admitter, budget Budget, cfg Config, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		gate:    gate,
		budget:  budget,
		cfg:     cfg,
		logger:  logger,
	}
}

// Register mounts the public glaze routes.
func (h *Handler) Register(r chi.Router) {
	r.Post("/glaze-profile", h.handleGlazeProfile)
	r.Post("/glaze-code", h.handleGlazeCode)
	r.Get("/tokens", h.handleTokens)
	r.Post("/reset-tokens", h.handleResetTokens)
}

func (h *Handler) admissionRequest(r *http.Request, kind admission.Kind, honeypot string) admission.Request {
	ctx := r.Context()
	return admission.Request{
		Kind:      kind,
		Origin:    r.Header.Get("Origin"),
		Referer:   r.Header.Get("Referer"),
		UserAgent: requestcontext.UserAgent(ctx),
		ClientID:  requestcontext.ClientIP(ctx),
		Honeypot:  honeypot,
	}
}

// decode reads the body under the size cap. An oversized body is rejected
// at once; any other decode failure is only reported to callers that pass
// the origin and user-agent screen.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, kind admission.Kind, dst any, honeypot func() string) (admission.Request, bool) {
	err := httputil.DecodeJSON(w, r, h.cfg.MaxBodyBytes, dst)
	if err != nil && httputil.IsBodyTooLarge(err) {
		httputil.WriteError(w, err)
		return admission.Request{}, false
	}
	req := h.admissionRequest(r, kind, honeypot())
	if d := h.gate.Screen(r.Context(), req); !d.Allowed {
		h.writeDecision(w, d)
		return admission.Request{}, false
	}
	if err != nil {
		httputil.WriteError(w, err)
		return admission.Request{}, false
	}
	return req, true
}

// admit writes the response for any decision other than a plain pass and
// reports whether the request may continue.
func (h *Handler) admit(w http.ResponseWriter, r *http.Request, req admission.Request) bool {
	return h.writeDecision(w, h.gate.Admit(r.Context(), req))
}

func (h *Handler) writeDecision(w http.ResponseWriter, d admission.Decision) bool {
	if d.Honeypot {
		httputil.WriteJSON(w, http.StatusOK, glaze.HoneypotResponse())
		return false
	}
	if !d.Allowed {
		if secs := d.RetryAfterSeconds(); secs > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
		httputil.WriteJSON(w, d.Status, httputil.ErrorResponse{Error: d.Reason})
		return false
	}
	return true
}

func (h *Handler) handleGlazeProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body profileRequest
	req, ok := h.decode(w, r, admission.KindProfile, &body, func() string { return body.Honeypot })
	if !ok {
		return
	}
	req.Username = strings.TrimSpace(body.Username)
	if !h.admit(w, r, req) {
		return
	}

	resp, err := h.service.GlazeProfile(ctx, req.Username)
	if err != nil {
		h.logFailure(ctx, "glaze profile failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGlazeCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body codeRequest
	req, ok := h.decode(w, r, admission.KindCode, &body, func() string { return body.Honeypot })
	if !ok {
		return
	}
	req.Code = body.Code
	if !h.admit(w, r, req) {
		return
	}

	resp, err := h.service.GlazeCode(ctx, body.Code)
	if err != nil {
		h.logFailure(ctx, "glaze code failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleTokens(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.budget.Usage(r.Context(), h.cfg.MaxDailyTokens))
}

func (h *Handler) handleResetTokens(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.cfg.ResetSecret == "" {
		h.logger.ErrorContext(ctx, "token reset requested but no secret is configured",
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "reset not configured"))
		return
	}

	var body resetRequest
	if err := httputil.DecodeJSON(w, r, h.cfg.MaxBodyBytes, &body); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if subtle.ConstantTimeCompare([]byte(body.Secret), []byte(h.cfg.ResetSecret)) != 1 {
		h.logger.WarnContext(ctx, "token reset rejected",
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "Unauthorized."))
		return
	}

	if err := h.budget.Reset(ctx); err != nil {
		h.logFailure(ctx, "token reset failed", err)
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "daily token counter reset",
		"request_id", requestcontext.RequestID(ctx),
	)
	httputil.WriteJSON(w, http.StatusOK, resetResponse{Success: true})
}

func (h *Handler) logFailure(ctx context.Context, msg string, err error) {
	level := slog.LevelError
	if dErrors.HasCode(err, dErrors.CodeNotFound) {
		level = slog.LevelInfo
	}
	h.logger.Log(ctx, level, msg,
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
}
