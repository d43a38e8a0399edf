// Package admission decides whether a glaze request may reach the upstream
// services. Checks run in a fixed order and stop at the first failure:
// origin, user agent, honeypot, input validation, per-client rate limit,
// then the global token budget. The body size ceiling is enforced while
// decoding, before any of these run.
package admission

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"glaze/internal/ratelimit/metrics"
	"glaze/internal/ratelimit/models"
	"glaze/pkg/platform/privacy"
	"glaze/pkg/requestcontext"
)

// Kind names the endpoint being admitted.
type Kind string

const (
	KindProfile Kind = "profile"
	KindCode    Kind = "code"
)

const forbiddenMessage = "Forbidden"

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,24}$`)

// Automation signatures rejected in every environment.
var denyAgents = []string{
	"curl", "wget", "python-requests", "httpie", "postman", "go-http-client",
	"scrapy", "bot", "spider", "crawler", "headless", "selenium", "puppeteer",
	"playwright", "phantomjs", "axios", "node-fetch", "okhttp", "java/",
	"libwww", "perl",
}

// Browser signatures one of which is required in production.
var allowAgents = []string{"mozilla", "chrome", "safari", "firefox", "edg", "opera"}

// RateLimiter is implemented by requestlimit.Service.
type RateLimiter interface {
	CheckAndConsume(ctx context.Context, clientID string) models.AdmissionDecision
}

// BudgetChecker is implemented by tokenbudget.Service.
type BudgetChecker interface {
	CheckBudget(ctx context.Context, estimate, limit int64) models.AdmissionDecision
}

// Estimator returns the expected token cost of serving req.
type Estimator func(req Request) int64

// Request is the admission view of one inbound call.
type Request struct {
	Kind      Kind
	Origin    string
	Referer   string
	UserAgent string
	ClientID  string
	Honeypot  string
	Username  string
	Code      string
}

// Decision extends the shared admission decision with the honeypot outcome,
// which must be answered with a decoy success rather than an error.
type Decision struct {
	models.AdmissionDecision
	Honeypot bool
}

// Config holds the admission limits.
type Config struct {
	Production        bool
	AllowedOrigins    []string
	MaxDailyTokens    int64
	PreflightEstimate int64
	MaxCodeChars      int
}

type Gatekeeper struct {
	cfg       Config
	origins   map[string]struct{}
	limiter   RateLimiter
	budget    BudgetChecker
	estimator Estimator
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

type Option func(*Gatekeeper)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gatekeeper) {
		g.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gatekeeper) {
		g.metrics = m
	}
}

// WithEstimator raises the pre-flight estimate to a per-request figure when
// that exceeds the fixed conservative estimate.
func WithEstimator(e Estimator) Option {
	return func(g *Gatekeeper) {
		g.estimator = e
	}
}

func New(cfg Config, limiter RateLimiter, budget BudgetChecker, opts ...Option) (*Gatekeeper, error) {
	if limiter == nil {
		return nil, errors.New("rate limiter is required")
	}
	if budget == nil {
		return nil, errors.New("budget checker is required")
	}
	if cfg.MaxCodeChars <= 0 {
		cfg.MaxCodeChars = 20000
	}

	g := &Gatekeeper{
		cfg:     cfg,
		origins: make(map[string]struct{}, len(cfg.AllowedOrigins)),
		limiter: limiter,
		budget:  budget,
		logger:  slog.Default(),
	}
	for _, o := range cfg.AllowedOrigins {
		g.origins[normalizeOrigin(o)] = struct{}{}
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Screen runs only the caller checks, origin and user agent. They do not
// depend on the request body, so a handler can run them before reporting a
// malformed body.
func (g *Gatekeeper) Screen(ctx context.Context, req Request) Decision {
	if g.cfg.Production && !g.originAllowed(req.Origin, req.Referer) {
		return g.deny(ctx, req, models.OutcomeForbidden, "origin",
			models.Deny(http.StatusForbidden, forbiddenMessage, 0))
	}
	if !g.agentAllowed(req.UserAgent) {
		return g.deny(ctx, req, models.OutcomeForbidden, "user_agent",
			models.Deny(http.StatusForbidden, forbiddenMessage, 0))
	}
	return Decision{AdmissionDecision: models.Allow()}
}

// Admit runs the checks in order and returns the first failing decision.
func (g *Gatekeeper) Admit(ctx context.Context, req Request) Decision {
	if d := g.Screen(ctx, req); !d.Allowed {
		return d
	}

	if strings.TrimSpace(req.Honeypot) != "" {
		g.metrics.RecordAdmission(models.OutcomeHoneypot)
		g.log(ctx, req, "honeypot")
		return Decision{
			AdmissionDecision: models.AdmissionDecision{Status: http.StatusOK, Reason: "honeypot"},
			Honeypot:          true,
		}
	}

	if msg := g.validate(req); msg != "" {
		return g.deny(ctx, req, models.OutcomeInvalid, "validation",
			models.Deny(http.StatusBadRequest, msg, 0))
	}

	if d := g.limiter.CheckAndConsume(ctx, req.ClientID); !d.Allowed {
		return g.deny(ctx, req, models.OutcomeRateLimited, "rate_limit", d)
	}

	if d := g.budget.CheckBudget(ctx, g.estimate(req), g.cfg.MaxDailyTokens); !d.Allowed {
		return g.deny(ctx, req, models.OutcomeBudgetDenied, "token_budget", d)
	}

	g.metrics.RecordAdmission(models.OutcomeAllowed)
	return Decision{AdmissionDecision: models.Allow()}
}

func (g *Gatekeeper) deny(ctx context.Context, req Request, outcome, check string, d models.AdmissionDecision) Decision {
	g.metrics.RecordAdmission(outcome)
	g.log(ctx, req, check)
	return Decision{AdmissionDecision: d}
}

func (g *Gatekeeper) log(ctx context.Context, req Request, check string) {
	g.logger.InfoContext(ctx, "request not admitted",
		"request_id", requestcontext.RequestID(ctx),
		"check", check,
		"kind", req.Kind,
		"ip_prefix", privacy.AnonymizeIP(req.ClientID),
	)
}

func (g *Gatekeeper) estimate(req Request) int64 {
	est := g.cfg.PreflightEstimate
	if g.estimator != nil {
		if e := g.estimator(req); e > est {
			est = e
		}
	}
	return est
}

// originAllowed accepts a request whose Origin, or failing that whose
// Referer, is on the allow-list.
func (g *Gatekeeper) originAllowed(origin, referer string) bool {
	if origin != "" {
		_, ok := g.origins[normalizeOrigin(origin)]
		return ok
	}
	if referer == "" {
		return false
	}
	u, err := url.Parse(referer)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}
	_, ok := g.origins[normalizeOrigin(u.Scheme+"://"+u.Host)]
	return ok
}

func normalizeOrigin(o string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(o)), "/")
}

func (g *Gatekeeper) agentAllowed(ua string) bool {
	ua = strings.ToLower(strings.TrimSpace(ua))
	if ua == "" {
		return false
	}
	for _, sig := range denyAgents {
		if strings.Contains(ua, sig) {
			return false
		}
	}
	if !g.cfg.Production {
		return true
	}
	for _, sig := range allowAgents {
		if strings.Contains(ua, sig) {
			return true
		}
	}
	return false
}

// validate returns a user-facing message for the first invalid field.
func (g *Gatekeeper) validate(req Request) string {
	switch req.Kind {
	case KindProfile:
		if !usernamePattern.MatchString(strings.TrimSpace(req.Username)) {
			return "Please enter a valid Codeforces handle (3-24 letters, digits, '_', '.' or '-')."
		}
	case KindCode:
		if strings.TrimSpace(req.Code) == "" {
			return "Please paste some code to glaze."
		}
		if utf8.RuneCountInString(req.Code) > g.cfg.MaxCodeChars {
			return "Code is too long."
		}
		for _, r := range req.Code {
			if unicode.IsControl(r) && r != '\t' && r != '\n' && r != '\r' {
				return "Code contains unsupported control characters."
			}
		}
	default:
		return "Unsupported request."
	}
	return ""
}
