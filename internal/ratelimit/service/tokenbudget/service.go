// Package tokenbudget tracks the global "tokens used today" counter.
//
// Reads fail soft: a counter that cannot be read is reported as zero and the
// failure is logged. Writes fail loud: an increment whose result cannot be
// verified returns ErrConsistency instead of a silently wrong total.
package tokenbudget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/avast/retry-go/v5"

	"glaze/internal/ratelimit/metrics"
	"glaze/internal/ratelimit/models"
	"glaze/internal/ratelimit/ports"
	"glaze/internal/ratelimit/store/snapshot"
	dErrors "glaze/pkg/domain-errors"
	"glaze/pkg/platform/sentinel"
	"glaze/pkg/requestcontext"
)

// ErrConsistency is returned when an increment could not be verified after
// all write attempts.
var ErrConsistency = errors.New("token counter write could not be verified")

var errMismatch = errors.New("counter read back a different value")

const (
	defaultReadAttempts  = 3
	defaultWriteAttempts = 3
	defaultBackoff       = 20 * time.Millisecond

	// counterTTL keeps a day bucket alive past its day so late readers still see it.
	counterTTL = 48 * time.Hour

	budgetExhaustedMessage = "Daily token budget exhausted. Please try again tomorrow."
)

type Store = ports.Store

type Service struct {
	store         Store
	incr          ports.Incrementer
	cache         *snapshot.Cache
	logger        *slog.Logger
	metrics       *metrics.Metrics
	readAttempts  uint
	writeAttempts uint
	backoff       time.Duration
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

// WithCache replaces the default snapshot cache.
func WithCache(c *snapshot.Cache) Option {
	return func(s *Service) {
		s.cache = c
	}
}

// WithAttempts sets the read and write retry budgets.
func WithAttempts(read, write uint) Option {
	return func(s *Service) {
		if read > 0 {
			s.readAttempts = read
		}
		if write > 0 {
			s.writeAttempts = write
		}
	}
}

// WithBackoff sets the base delay between retries. Zero retries immediately.
func WithBackoff(d time.Duration) Option {
	return func(s *Service) {
		s.backoff = d
	}
}

// WithoutAtomicIncrement forces the read-modify-write-verify path even when
// the store supports IncrBy.
func WithoutAtomicIncrement() Option {
	return func(s *Service) {
		s.incr = nil
	}
}

func New(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("token store is required")
	}

	svc := &Service{
		store:         store,
		cache:         snapshot.New(5 * time.Second),
		logger:        slog.Default(),
		readAttempts:  defaultReadAttempts,
		writeAttempts: defaultWriteAttempts,
		backoff:       defaultBackoff,
	}
	if incr, ok := store.(ports.Incrementer); ok {
		svc.incr = incr
	}

	for _, opt := range opts {
		opt(svc)
	}

	return svc, nil
}

func (s *Service) key(ctx context.Context) string {
	return models.DayKey(requestcontext.Now(ctx))
}

func (s *Service) retryOptions(ctx context.Context, attempts uint) []retry.Option {
	return []retry.Option{
		retry.Attempts(attempts),
		retry.Delay(s.backoff),
		retry.DelayType(retry.BackOffDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	}
}

// GetUsed returns today's token usage. It never fails: when the counter
// cannot be read after all attempts it logs a warning and returns zero.
func (s *Service) GetUsed(ctx context.Context) int64 {
	key := s.key(ctx)
	if snap, ok := s.cache.Get(key); ok {
		return snap.Value
	}

	used, err := s.readVerified(ctx, key)
	if err != nil {
		s.metrics.IncrementReadFailures()
		ports.LogEvent(ctx, s.logger, slog.LevelWarn, "token_counter_read_failed",
			"key", key,
			"error", err,
		)
		return 0
	}

	s.cache.Put(key, used)
	s.metrics.SetTokensUsed(used)
	return used
}

// readVerified reads the counter from the store, initialising an absent key
// to zero. Non-integer values and unreadable keys are retried.
func (s *Service) readVerified(ctx context.Context, key string) (int64, error) {
	return retry.NewWithData[int64](s.retryOptions(ctx, s.readAttempts)...).Do(func() (int64, error) {
		raw, err := s.store.Get(ctx, key)
		if errors.Is(err, sentinel.ErrNotFound) {
			if _, err := s.store.SetNX(ctx, key, "0", counterTTL); err != nil {
				return 0, err
			}
			raw, err = s.store.Get(ctx, key)
		}
		if err != nil {
			return 0, err
		}
		return parseCounter(raw)
	})
}

func parseCounter(raw string) (int64, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("counter value %q: %w", raw, sentinel.ErrInvalidState)
	}
	return n, nil
}

// Increment adds amount to today's usage and returns the new total.
// A non-positive amount changes nothing and returns the current total.
func (s *Service) Increment(ctx context.Context, amount int64) (int64, error) {
	if amount <= 0 {
		return s.GetUsed(ctx), nil
	}
	key := s.key(ctx)

	var (
		total int64
		err   error
	)
	if s.incr != nil {
		total, err = s.incr.IncrBy(ctx, key, amount, counterTTL)
		if err != nil {
			s.cache.Invalidate(key)
			return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record token usage")
		}
	} else {
		total, err = s.incrementVerified(ctx, key, amount)
		if err != nil {
			s.cache.Invalidate(key)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return 0, dErrors.Wrap(ctxErr, dErrors.CodeInternal, "token usage update cancelled")
			}
			s.metrics.IncrementConsistencyFailures()
			ports.LogEvent(ctx, s.logger, slog.LevelError, "token_counter_inconsistent",
				"key", key,
				"amount", amount,
				"attempts", s.writeAttempts,
				"error", err,
			)
			return 0, dErrors.Wrap(fmt.Errorf("%w: %w", ErrConsistency, err),
				dErrors.CodeConsistency, "token usage could not be recorded")
		}
	}

	s.cache.Put(key, total)
	s.metrics.AddTokensConsumed(amount)
	s.metrics.SetTokensUsed(total)
	return total, nil
}

// incrementVerified runs read, write current+amount, re-read until the
// re-read matches. Reads bypass the snapshot so each cycle starts from the
// store.
func (s *Service) incrementVerified(ctx context.Context, key string, amount int64) (int64, error) {
	return retry.NewWithData[int64](s.retryOptions(ctx, s.writeAttempts)...).Do(func() (int64, error) {
		current, err := s.readVerified(ctx, key)
		if err != nil {
			return 0, err
		}
		want := current + amount
		if err := s.store.Set(ctx, key, strconv.FormatInt(want, 10), counterTTL); err != nil {
			return 0, err
		}
		raw, err := s.store.Get(ctx, key)
		if err != nil {
			return 0, err
		}
		got, err := parseCounter(raw)
		if err != nil {
			return 0, err
		}
		if got != want {
			return 0, fmt.Errorf("%w: wrote %d, read %d", errMismatch, want, got)
		}
		return want, nil
	})
}

// CheckBudget denies when used+estimate would exceed limit. Reaching the
// limit exactly is allowed. It does not change the counter.
func (s *Service) CheckBudget(ctx context.Context, estimate, limit int64) models.AdmissionDecision {
	used := s.GetUsed(ctx)
	if used+estimate > limit {
		ports.LogEvent(ctx, s.logger, slog.LevelInfo, "token_budget_exceeded",
			"used", used,
			"estimate", estimate,
			"limit", limit,
		)
		return models.Deny(http.StatusTooManyRequests, budgetExhaustedMessage, untilNextDay(requestcontext.Now(ctx)))
	}
	return models.Allow()
}

func untilNextDay(now time.Time) time.Duration {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	return next.Sub(now)
}

// Reset clears today's counter.
func (s *Service) Reset(ctx context.Context) error {
	key := s.key(ctx)
	s.cache.Invalidate(key)
	if err := s.store.Delete(ctx, key); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to reset token counter")
	}
	s.metrics.SetTokensUsed(0)
	ports.LogEvent(ctx, s.logger, slog.LevelInfo, "token_counter_reset", "key", key)
	return nil
}

// Reconcile drops the snapshot and resynchronises it from the store. An
// absent counter is initialised to zero; a corrupt one is overwritten with zero.
func (s *Service) Reconcile(ctx context.Context) error {
	key := s.key(ctx)
	s.cache.Invalidate(key)

	raw, err := s.store.Get(ctx, key)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		created, err := s.store.SetNX(ctx, key, "0", counterTTL)
		if err != nil {
			return fmt.Errorf("initialise counter: %w", err)
		}
		if !created {
			// Another writer got there first; take its value.
			v, err := s.readVerified(ctx, key)
			if err != nil {
				return fmt.Errorf("read counter: %w", err)
			}
			s.remember(key, v)
			return nil
		}
		s.remember(key, 0)
		return nil
	case err != nil:
		return fmt.Errorf("read counter: %w", err)
	}

	v, perr := parseCounter(raw)
	if perr != nil {
		ports.LogEvent(ctx, s.logger, slog.LevelWarn, "token_counter_repaired",
			"key", key,
			"value", raw,
		)
		if err := s.store.Set(ctx, key, "0", counterTTL); err != nil {
			return fmt.Errorf("repair counter: %w", err)
		}
		v = 0
	}
	s.remember(key, v)
	return nil
}

func (s *Service) remember(key string, v int64) {
	s.cache.Put(key, v)
	s.metrics.SetTokensUsed(v)
}

// Usage returns the usage view for GET /tokens.
func (s *Service) Usage(ctx context.Context, limit int64) models.TokenUsage {
	return models.NewTokenUsage(s.GetUsed(ctx), limit, requestcontext.Now(ctx))
}

// Ping reports whether the backing store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	if p, ok := s.store.(ports.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
