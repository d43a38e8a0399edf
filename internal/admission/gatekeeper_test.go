package admission

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"glaze/internal/ratelimit/metrics"
	"glaze/internal/ratelimit/models"
)

const browserUA = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 Chrome/126.0 Safari/537.36"

type stubLimiter struct {
	calls    int
	decision models.AdmissionDecision
}

func (l *stubLimiter) CheckAndConsume(context.Context, string) models.AdmissionDecision {
	l.calls++
	return l.decision
}

type stubBudget struct {
	calls     int
	estimates []int64
	decision  models.AdmissionDecision
}

func (b *stubBudget) CheckBudget(_ context.Context, estimate, _ int64) models.AdmissionDecision {
	b.calls++
	b.estimates = append(b.estimates, estimate)
	return b.decision
}

type GatekeeperSuite struct {
	suite.Suite
	limiter *stubLimiter
	budget  *stubBudget
	metrics *metrics.Metrics
	cfg     Config
}

func TestGatekeeperSuite(t *testing.T) {
	suite.Run(t, new(GatekeeperSuite))
}

func (s *GatekeeperSuite) SetupTest() {
	s.limiter = &stubLimiter{decision: models.Allow()}
	s.budget = &stubBudget{decision: models.Allow()}
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.cfg = Config{
		Production:        true,
		AllowedOrigins:    []string{"https://glaze.example/"},
		MaxDailyTokens:    2_000_000,
		PreflightEstimate: 2500,
		MaxCodeChars:      100,
	}
}

func (s *GatekeeperSuite) gatekeeper(opts ...Option) *Gatekeeper {
	g, err := New(s.cfg, s.limiter, s.budget, append([]Option{WithMetrics(s.metrics)}, opts...)...)
	s.Require().NoError(err)
	return g
}

func (s *GatekeeperSuite) validProfile() Request {
	return Request{
		Kind:      KindProfile,
		Origin:    "https://glaze.example",
		UserAgent: browserUA,
		ClientID:  "203.0.113.7",
		Username:  "tourist",
	}
}

func (s *GatekeeperSuite) admit(g *Gatekeeper, req Request) Decision {
	return g.Admit(context.Background(), req)
}

func (s *GatekeeperSuite) TestNew() {
	_, err := New(s.cfg, nil, s.budget)
	s.ErrorContains(err, "rate limiter is required")
	_, err = New(s.cfg, s.limiter, nil)
	s.ErrorContains(err, "budget checker is required")
}

func (s *GatekeeperSuite) TestAllChecksPass() {
	d := s.admit(s.gatekeeper(), s.validProfile())

	s.True(d.Allowed)
	s.False(d.Honeypot)
	s.Equal(1, s.limiter.calls)
	s.Equal([]int64{2500}, s.budget.estimates)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Admissions.WithLabelValues(models.OutcomeAllowed)))
}

func (s *GatekeeperSuite) TestOrigin() {
	g := s.gatekeeper()

	s.Run("missing origin and referer forbidden in production", func() {
		req := s.validProfile()
		req.Origin = ""
		d := s.admit(g, req)
		s.Equal(403, d.Status)
		s.Equal("Forbidden", d.Reason)
	})

	s.Run("foreign origin forbidden", func() {
		req := s.validProfile()
		req.Origin = "https://evil.example"
		s.Equal(403, s.admit(g, req).Status)
	})

	s.Run("referer accepted when origin absent", func() {
		req := s.validProfile()
		req.Origin = ""
		req.Referer = "https://GLAZE.example/some/page?x=1"
		s.True(s.admit(g, req).Allowed)
	})

	s.Run("skipped outside production", func() {
		s.cfg.Production = false
		req := s.validProfile()
		req.Origin = "https://evil.example"
		s.True(s.admit(s.gatekeeper(), req).Allowed)
	})
}

func (s *GatekeeperSuite) TestScreenChecksCallerOnly() {
	g := s.gatekeeper()

	s.Run("passes an invalid body from an allowed caller", func() {
		req := s.validProfile()
		req.Username = "!"
		req.Honeypot = "filled"
		s.True(g.Screen(context.Background(), req).Allowed)
	})

	s.Run("rejects a foreign origin", func() {
		req := s.validProfile()
		req.Origin = "https://evil.example"
		s.Equal(403, g.Screen(context.Background(), req).Status)
	})

	s.Run("rejects automation agents", func() {
		req := s.validProfile()
		req.UserAgent = "python-requests/2.31"
		s.Equal(403, g.Screen(context.Background(), req).Status)
	})

	s.Zero(s.limiter.calls, "screening consumes no allowance")
	s.Zero(s.budget.calls)
}

func (s *GatekeeperSuite) TestUserAgent() {
	cases := []struct {
		name       string
		ua         string
		production bool
		allowed    bool
	}{
		{"empty", "", false, false},
		{"curl", "curl/8.4.0", false, false},
		{"python", "python-requests/2.31", false, false},
		{"headless chrome", "Mozilla/5.0 HeadlessChrome/120.0", true, false},
		{"googlebot", "Mozilla/5.0 (compatible; Googlebot/2.1)", true, false},
		{"browser in production", browserUA, true, true},
		{"custom client in production", "GlazeApp/1.0", true, false},
		{"custom client in development", "GlazeApp/1.0", false, true},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			s.cfg.Production = tc.production
			req := s.validProfile()
			req.UserAgent = tc.ua
			d := s.admit(s.gatekeeper(), req)
			s.Equal(tc.allowed, d.Allowed)
			if !tc.allowed {
				s.Equal(403, d.Status)
				s.Equal("Forbidden", d.Reason)
			}
		})
	}
}

func (s *GatekeeperSuite) TestHoneypot() {
	s.Run("filled honeypot short-circuits with decoy success", func() {
		req := s.validProfile()
		req.Honeypot = "http://spam.example"
		d := s.admit(s.gatekeeper(), req)

		s.True(d.Honeypot)
		s.False(d.Allowed)
		s.Equal(200, d.Status)
		s.Zero(s.limiter.calls, "no rate limit consumed")
		s.Zero(s.budget.calls)
	})

	s.Run("user agent is checked before honeypot", func() {
		req := s.validProfile()
		req.Honeypot = "x"
		req.UserAgent = "curl/8"
		d := s.admit(s.gatekeeper(), req)
		s.False(d.Honeypot)
		s.Equal(403, d.Status)
	})
}

func (s *GatekeeperSuite) TestValidation() {
	g := s.gatekeeper()

	cases := []struct {
		name string
		req  func(Request) Request
	}{
		{"short username", func(r Request) Request { r.Username = "ab"; return r }},
		{"long username", func(r Request) Request { r.Username = strings.Repeat("a", 25); return r }},
		{"bad username chars", func(r Request) Request { r.Username = "tour ist"; return r }},
		{"empty code", func(r Request) Request { r.Kind = KindCode; r.Code = " \n "; return r }},
		{"long code", func(r Request) Request { r.Kind = KindCode; r.Code = strings.Repeat("x", 101); return r }},
		{"control chars", func(r Request) Request { r.Kind = KindCode; r.Code = "int x;\x00"; return r }},
		{"unknown kind", func(r Request) Request { r.Kind = "other"; return r }},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			d := s.admit(g, tc.req(s.validProfile()))
			s.False(d.Allowed)
			s.Equal(400, d.Status)
			s.NotEmpty(d.Reason)
		})
	}
	s.Zero(s.limiter.calls, "invalid input never consumes rate limit")

	s.Run("code with tabs and newlines accepted", func() {
		req := s.validProfile()
		req.Kind = KindCode
		req.Code = "int main() {\r\n\treturn 0;\n}"
		s.True(s.admit(g, req).Allowed)
	})

	s.Run("code length counts characters not bytes", func() {
		req := s.validProfile()
		req.Kind = KindCode
		req.Code = strings.Repeat("é", 100)
		s.True(s.admit(g, req).Allowed)
	})
}

func (s *GatekeeperSuite) TestRateLimitDenial() {
	s.limiter.decision = models.Deny(429, "Daily limit reached. Try again in about 3 hour(s).", 3*time.Hour)

	d := s.admit(s.gatekeeper(), s.validProfile())

	s.Equal(429, d.Status)
	s.Contains(d.Reason, "hour")
	s.Equal(3*time.Hour, d.RetryAfter)
	s.Zero(s.budget.calls, "budget not consulted after rate denial")
}

func (s *GatekeeperSuite) TestBudgetPreflight() {
	s.Run("denial passes through", func() {
		s.budget.decision = models.Deny(429, "Daily token budget exhausted. Please try again tomorrow.", time.Hour)
		d := s.admit(s.gatekeeper(), s.validProfile())
		s.Equal(429, d.Status)
		s.Equal(1.0, testutil.ToFloat64(s.metrics.Admissions.WithLabelValues(models.OutcomeBudgetDenied)))
	})

	s.Run("estimator raises the estimate", func() {
		s.budget = &stubBudget{decision: models.Allow()}
		g := s.gatekeeper(WithEstimator(func(Request) int64 { return 4000 }))
		s.admit(g, s.validProfile())
		s.Equal([]int64{4000}, s.budget.estimates)
	})

	s.Run("estimator never lowers the estimate", func() {
		s.budget = &stubBudget{decision: models.Allow()}
		g := s.gatekeeper(WithEstimator(func(Request) int64 { return 900 }))
		s.admit(g, s.validProfile())
		s.Equal([]int64{2500}, s.budget.estimates)
	})
}
