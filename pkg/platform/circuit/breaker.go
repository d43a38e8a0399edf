// Package circuit wraps sony/gobreaker for upstream HTTP clients.
package circuit

import (
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"

	"glaze/pkg/platform/sentinel"
)

// ErrOpen is returned without calling the upstream while the breaker is open.
var ErrOpen = fmt.Errorf("circuit open: %w", sentinel.ErrUnavailable)

type State string

const (
	StateClosed   State = "closed"
	StateHalfOpen State = "half-open"
	StateOpen     State = "open"
)

type config struct {
	failureThreshold uint32
	successThreshold uint32
	openTimeout      time.Duration
	ignore           func(error) bool
	onStateChange    func(name string, from, to State)
}

type Option func(*config)

// WithFailureThreshold sets the consecutive failures that open the breaker.
func WithFailureThreshold(n uint32) Option {
	return func(c *config) {
		c.failureThreshold = n
	}
}

// WithSuccessThreshold sets the half-open probes that must succeed to close it.
func WithSuccessThreshold(n uint32) Option {
	return func(c *config) {
		c.successThreshold = n
	}
}

// WithOpenTimeout sets how long the breaker stays open before probing.
func WithOpenTimeout(d time.Duration) Option {
	return func(c *config) {
		c.openTimeout = d
	}
}

// WithIgnoredErrors marks errors that do not count as upstream failures,
// such as a not-found answer.
func WithIgnoredErrors(ignore func(error) bool) Option {
	return func(c *config) {
		c.ignore = ignore
	}
}

func WithStateChange(fn func(name string, from, to State)) Option {
	return func(c *config) {
		c.onStateChange = fn
	}
}

type Breaker[T any] struct {
	name string
	cb   *gobreaker.CircuitBreaker[T]
}

func New[T any](name string, opts ...Option) *Breaker[T] {
	cfg := config{
		failureThreshold: 5,
		successThreshold: 1,
		openTimeout:      30 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.successThreshold,
		Timeout:     cfg.openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.failureThreshold
		},
	}
	if cfg.ignore != nil {
		st.IsSuccessful = func(err error) bool {
			return err == nil || cfg.ignore(err)
		}
	}
	if cfg.onStateChange != nil {
		st.OnStateChange = func(name string, from, to gobreaker.State) {
			cfg.onStateChange(name, convert(from), convert(to))
		}
	}

	return &Breaker[T]{name: name, cb: gobreaker.NewCircuitBreaker[T](st)}
}

// Execute runs fn unless the breaker is open.
func (b *Breaker[T]) Execute(fn func() (T, error)) (T, error) {
	v, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		var zero T
		return zero, fmt.Errorf("%s: %w", b.name, ErrOpen)
	}
	return v, err
}

func (b *Breaker[T]) Name() string {
	return b.name
}

func (b *Breaker[T]) State() State {
	return convert(b.cb.State())
}

func (b *Breaker[T]) IsOpen() bool {
	return b.cb.State() == gobreaker.StateOpen
}

func convert(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}
