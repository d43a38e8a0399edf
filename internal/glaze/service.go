// Package glaze turns a Codeforces profile or a code snippet into praise.
package glaze

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"glaze/internal/codeforces"
	"glaze/internal/completion"
	"glaze/internal/platform/metrics"
	dErrors "glaze/pkg/domain-errors"
	"glaze/pkg/platform/sentinel"
	"glaze/pkg/requestcontext"
)

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks

// ProfileSource is implemented by codeforces.Client.
type ProfileSource interface {
	UserInfo(ctx context.Context, handle string) (*codeforces.User, error)
	Submissions(ctx context.Context, handle string) ([]codeforces.Submission, error)
}

// Completer is implemented by completion.Client.
type Completer interface {
	Complete(ctx context.Context, messages []completion.Message) (*completion.Result, error)
}

// TokenCounter is implemented by tokenbudget.Service.
type TokenCounter interface {
	Increment(ctx context.Context, amount int64) (int64, error)
}

// UserData is the profile summary returned alongside a profile glaze.
type UserData struct {
	codeforces.User
	Stats codeforces.Stats `json:"stats"`
}

// Response is the body of a successful glaze.
type Response struct {
	Glaze      string    `json:"glaze"`
	UserData   *UserData `json:"userData"`
	TokensUsed int64     `json:"tokensUsed"`
}

// HoneypotResponse is the decoy body returned to filled honeypots.
func HoneypotResponse() *Response {
	return &Response{Glaze: "You're absolutely crushing it. Keep going!"}
}

type Service struct {
	profiles  ProfileSource
	completer Completer
	counter   TokenCounter
	estimator *completion.Estimator
	maxTokens int64
	logger    *slog.Logger
	metrics   *metrics.Metrics
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

// WithEstimator enables prompt-size estimates for the budget pre-flight.
// maxTokens is the completion length requested per call.
func WithEstimator(e *completion.Estimator, maxTokens int) Option {
	return func(s *Service) {
		s.estimator = e
		s.maxTokens = int64(maxTokens)
	}
}

func New(profiles ProfileSource, completer Completer, counter TokenCounter, opts ...Option) (*Service, error) {
	if profiles == nil {
		return nil, errors.New("profile source is required")
	}
	if completer == nil {
		return nil, errors.New("completer is required")
	}
	if counter == nil {
		return nil, errors.New("token counter is required")
	}
	s := &Service{
		profiles:  profiles,
		completer: completer,
		counter:   counter,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// GlazeProfile fetches handle's profile and history concurrently, then
// generates praise and records the tokens it cost.
func (s *Service) GlazeProfile(ctx context.Context, handle string) (*Response, error) {
	var (
		user *codeforces.User
		subs []codeforces.Submission
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		user, err = s.profiles.UserInfo(gctx, handle)
		return err
	})
	g.Go(func() error {
		var err error
		subs, err = s.profiles.Submissions(gctx, handle)
		return err
	})
	if err := g.Wait(); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "Codeforces user not found.")
		}
		s.logger.ErrorContext(ctx, "codeforces fetch failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		return nil, dErrors.Wrap(err, dErrors.CodeUpstream, "failed to fetch Codeforces profile")
	}

	stats := codeforces.ComputeStats(subs)
	text, tokens, err := s.complete(ctx, "profile", profileMessages(user, stats))
	if err != nil {
		return nil, err
	}
	return &Response{
		Glaze:      text,
		UserData:   &UserData{User: *user, Stats: stats},
		TokensUsed: tokens,
	}, nil
}

// GlazeCode generates praise for a code snippet.
func (s *Service) GlazeCode(ctx context.Context, code string) (*Response, error) {
	text, tokens, err := s.complete(ctx, "code", codeMessages(code))
	if err != nil {
		return nil, err
	}
	return &Response{Glaze: text, TokensUsed: tokens}, nil
}

// complete calls the provider and adds the reported usage to the daily
// counter. A counter write that cannot be verified fails the request.
func (s *Service) complete(ctx context.Context, kind string, messages []completion.Message) (string, int64, error) {
	res, err := s.completer.Complete(ctx, messages)
	if res != nil {
		// Billed usage is recorded even when the completion itself failed.
		s.metrics.ObserveCompletionTokens(kind, res.TotalTokens)
		if rerr := s.record(ctx, res.TotalTokens); rerr != nil && err == nil {
			return "", 0, rerr
		}
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "completion failed",
			"request_id", requestcontext.RequestID(ctx),
			"kind", kind,
			"error", err,
		)
		return "", 0, dErrors.Wrap(err, dErrors.CodeUpstream, "failed to generate glaze")
	}
	return res.Text, res.TotalTokens, nil
}

func (s *Service) record(ctx context.Context, tokens int64) error {
	if _, err := s.counter.Increment(ctx, tokens); err != nil {
		s.logger.ErrorContext(ctx, "failed to record token usage",
			"request_id", requestcontext.RequestID(ctx),
			"tokens", tokens,
			"error", err,
		)
		if _, ok := dErrors.As(err); ok {
			return err
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record token usage")
	}
	return nil
}

// EstimateProfile returns the expected token cost of a profile glaze, or 0
// when no estimator is configured.
func (s *Service) EstimateProfile() int64 {
	if s.estimator == nil {
		return 0
	}
	return s.estimator.CountMessages([]completion.Message{{Role: "system", Content: profileSystemPrompt}}) +
		profileSkeletonTokens + s.maxTokens
}

// EstimateCode returns the expected token cost of glazing code, or 0 when
// no estimator is configured.
func (s *Service) EstimateCode(code string) int64 {
	if s.estimator == nil {
		return 0
	}
	return s.estimator.CountMessages(codeMessages(code)) + s.maxTokens
}
