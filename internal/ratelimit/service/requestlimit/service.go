package requestlimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"glaze/internal/ratelimit/metrics"
	"glaze/internal/ratelimit/models"
	"glaze/internal/ratelimit/ports"
	"glaze/pkg/platform/privacy"
	"glaze/pkg/requestcontext"
)

// Store is the counter store the daily window is kept in.
type Store interface {
	ports.Store
	ports.Incrementer
}

// BurstLimiter guards against short bursts ahead of the daily window.
type BurstLimiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
	Reset(ctx context.Context, key string) error
}

const burstMessage = "Too many requests. Please slow down."

type Service struct {
	store   Store
	burst   BurstLimiter
	max     int
	window  time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithLimit sets the number of requests allowed per window.
func WithLimit(maxRequests int, window time.Duration) Option {
	return func(s *Service) {
		s.max = maxRequests
		s.window = window
	}
}

// WithBurstLimit enables the short-burst guard.
func WithBurstLimit(b BurstLimiter) Option {
	return func(s *Service) {
		s.burst = b
	}
}

func New(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("rate limit store is required")
	}

	svc := &Service{
		store:  store,
		max:    4,
		window: 24 * time.Hour,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(svc)
	}

	if svc.max <= 0 {
		return nil, errors.New("max requests per window must be positive")
	}
	if svc.window < time.Second {
		return nil, errors.New("window must be at least one second")
	}

	return svc, nil
}

// CheckAndConsume counts one request for clientID in the current
// epoch-aligned window and decides whether it may proceed. Store failures
// allow the request; the global token budget still bounds cost.
func (s *Service) CheckAndConsume(ctx context.Context, clientID string) models.AdmissionDecision {
	now := requestcontext.Now(ctx)

	if s.burst != nil {
		allowed, retryAfter, err := s.burst.Allow(ctx, models.BurstKey(clientID))
		switch {
		case err != nil:
			s.failOpen(ctx, "burst", clientID, err)
		case !allowed:
			s.metrics.RecordAdmission(models.OutcomeBurstLimited)
			return models.Deny(http.StatusTooManyRequests, burstMessage, retryAfter)
		}
	}

	idx := models.WindowIndex(now, s.window)
	key := models.IPWindowKey(clientID, idx)

	count, err := s.store.IncrBy(ctx, key, 1, s.window)
	if err != nil {
		s.failOpen(ctx, "window", clientID, err)
		return models.Allow()
	}
	if count <= int64(s.max) {
		return models.Allow()
	}

	remaining := models.WindowEnd(idx, s.window).Sub(now)
	ports.LogEvent(ctx, s.logger, slog.LevelInfo, "rate_limit_exceeded",
		"ip_prefix", privacy.AnonymizeIP(clientID),
		"count", count,
		"limit", s.max,
	)
	return models.Deny(http.StatusTooManyRequests, DeniedMessage(remaining), remaining)
}

// DeniedMessage renders the daily-limit message for the time left in a window.
func DeniedMessage(remaining time.Duration) string {
	return fmt.Sprintf("Daily limit reached. Try again in about %d hour(s).", HoursUntilReset(remaining))
}

// HoursUntilReset rounds remaining up to whole hours, never below one.
func HoursUntilReset(remaining time.Duration) int {
	h := int(math.Ceil(remaining.Hours()))
	if h < 1 {
		return 1
	}
	return h
}

func (s *Service) failOpen(ctx context.Context, stage, clientID string, err error) {
	s.metrics.RecordAdmission(models.OutcomeStoreFailOpen)
	ports.LogEvent(ctx, s.logger, slog.LevelWarn, "rate_limit_fail_open",
		"stage", stage,
		"ip_prefix", privacy.AnonymizeIP(clientID),
		"error", err,
	)
}

// Reset clears the current window record and burst state for clientID.
func (s *Service) Reset(ctx context.Context, clientID string) error {
	idx := models.WindowIndex(requestcontext.Now(ctx), s.window)
	if err := s.store.Delete(ctx, models.IPWindowKey(clientID, idx)); err != nil {
		return fmt.Errorf("reset window for %s: %w", clientID, err)
	}
	if s.burst != nil {
		if err := s.burst.Reset(ctx, models.BurstKey(clientID)); err != nil {
			return fmt.Errorf("reset burst for %s: %w", clientID, err)
		}
	}
	ports.LogEvent(ctx, s.logger, slog.LevelInfo, "rate_limit_reset", "ip_prefix", privacy.AnonymizeIP(clientID))
	return nil
}
