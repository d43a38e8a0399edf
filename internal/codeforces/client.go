// Package codeforces fetches public profile data from the Codeforces API.
package codeforces

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"glaze/internal/platform/config"
	"glaze/internal/platform/metrics"
	"glaze/pkg/platform/circuit"
	"glaze/pkg/platform/sentinel"
)

const (
	upstreamName = "codeforces"
	maxBodyBytes = 16 << 20
)

type Client struct {
	baseURL         string
	http            *http.Client
	throttle        *rate.Limiter
	breaker         *circuit.Breaker[[]byte]
	cache           *ristretto.Cache[string, []byte]
	cacheTTL        time.Duration
	submissionLimit int
	pageSize        int
	logger          *slog.Logger
	metrics         *metrics.Metrics
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.http = h
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// New builds a client from cfg. Calls are spaced PageDelay apart and
// successful responses are cached for ProfileCacheTTL.
func New(cfg config.CodeforcesConfig, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("codeforces base URL is required")
	}
	if cfg.PageSize <= 0 {
		return nil, errors.New("codeforces page size must be positive")
	}

	limit := rate.Inf
	if cfg.PageDelay > 0 {
		limit = rate.Every(cfg.PageDelay)
	}

	c := &Client{
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		http:            &http.Client{Timeout: cfg.Timeout},
		throttle:        rate.NewLimiter(limit, 1),
		cacheTTL:        cfg.ProfileCacheTTL,
		submissionLimit: cfg.SubmissionLimit,
		pageSize:        cfg.PageSize,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.breaker = circuit.New[[]byte](upstreamName,
		circuit.WithIgnoredErrors(func(err error) bool { return errors.Is(err, sentinel.ErrNotFound) }),
		circuit.WithStateChange(func(name string, from, to circuit.State) {
			c.logger.Warn("circuit breaker state change", "upstream", name, "from", from, "to", to)
		}),
	)

	if c.cacheTTL > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
			NumCounters: 10_000,
			MaxCost:     64 << 20,
			BufferItems: 64,
		})
		if err != nil {
			return nil, fmt.Errorf("create codeforces cache: %w", err)
		}
		c.cache = cache
	}
	return c, nil
}

// Close releases the response cache.
func (c *Client) Close() {
	if c.cache != nil {
		c.cache.Close()
	}
}

// UserInfo returns the public profile for handle, or an error wrapping
// sentinel.ErrNotFound when no such user exists.
func (c *Client) UserInfo(ctx context.Context, handle string) (*User, error) {
	body, err := c.get(ctx, "user.info", url.Values{"handles": {handle}})
	if err != nil {
		return nil, err
	}
	u := gjson.GetBytes(body, "result.0")
	if !u.Exists() {
		return nil, fmt.Errorf("user %s: %w", handle, sentinel.ErrNotFound)
	}
	return &User{
		Handle:        u.Get("handle").String(),
		Rating:        int(u.Get("rating").Int()),
		MaxRating:     int(u.Get("maxRating").Int()),
		Rank:          u.Get("rank").String(),
		MaxRank:       u.Get("maxRank").String(),
		Contribution:  int(u.Get("contribution").Int()),
		FriendOfCount: int(u.Get("friendOfCount").Int()),
		RegisteredAt:  time.Unix(u.Get("registrationTimeSeconds").Int(), 0).UTC(),
	}, nil
}

// Submissions returns up to the configured number of most recent
// submissions, fetched page by page.
func (c *Client) Submissions(ctx context.Context, handle string) ([]Submission, error) {
	out := make([]Submission, 0, min(c.pageSize, c.submissionLimit))
	for from := 1; len(out) < c.submissionLimit; {
		count := min(c.pageSize, c.submissionLimit-len(out))
		body, err := c.get(ctx, "user.status", url.Values{
			"handle": {handle},
			"from":   {strconv.Itoa(from)},
			"count":  {strconv.Itoa(count)},
		})
		if err != nil {
			return nil, err
		}
		page := parseSubmissions(body)
		out = append(out, page...)
		if len(page) < count {
			break
		}
		from += len(page)
	}
	return out, nil
}

func parseSubmissions(body []byte) []Submission {
	results := gjson.GetBytes(body, "result").Array()
	subs := make([]Submission, 0, len(results))
	for _, r := range results {
		p := r.Get("problem")
		tags := p.Get("tags").Array()
		problem := Problem{
			ContestID: int(p.Get("contestId").Int()),
			Index:     p.Get("index").String(),
			Name:      p.Get("name").String(),
			Rating:    int(p.Get("rating").Int()),
			Tags:      make([]string, 0, len(tags)),
		}
		for _, t := range tags {
			problem.Tags = append(problem.Tags, t.String())
		}
		subs = append(subs, Submission{
			ID:        r.Get("id").Int(),
			CreatedAt: time.Unix(r.Get("creationTimeSeconds").Int(), 0).UTC(),
			Verdict:   r.Get("verdict").String(),
			Language:  r.Get("programmingLanguage").String(),
			Problem:   problem,
		})
	}
	return subs
}

func (c *Client) get(ctx context.Context, method string, query url.Values) ([]byte, error) {
	endpoint := c.baseURL + "/" + method + "?" + query.Encode()
	if c.cache != nil {
		if body, ok := c.cache.Get(endpoint); ok {
			return body, nil
		}
	}

	if err := c.throttle.Wait(ctx); err != nil {
		return nil, fmt.Errorf("codeforces throttle: %w", err)
	}

	start := time.Now()
	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.do(ctx, endpoint)
	})
	c.metrics.ObserveUpstream(upstreamName, method, time.Since(start), err)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		c.cache.SetWithTTL(endpoint, body, int64(len(body)), c.cacheTTL)
		c.cache.Wait()
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build codeforces request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("codeforces request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read codeforces response: %w", err)
	}

	status := gjson.GetBytes(body, "status").String()
	if status == "OK" && resp.StatusCode == http.StatusOK {
		return body, nil
	}

	comment := gjson.GetBytes(body, "comment").String()
	if strings.Contains(strings.ToLower(comment), "not found") {
		return nil, fmt.Errorf("codeforces: %s: %w", comment, sentinel.ErrNotFound)
	}
	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("codeforces status %d: %w", resp.StatusCode, sentinel.ErrUnavailable)
	}
	if comment == "" {
		comment = "unexpected response"
	}
	return nil, fmt.Errorf("codeforces status %d: %s", resp.StatusCode, comment)
}
