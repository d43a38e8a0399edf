package requestlimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"glaze/internal/ratelimit/models"
	"glaze/internal/ratelimit/store/kv"
	"glaze/pkg/requestcontext"
)

type failingStore struct {
	*kv.MemoryStore
}

func (failingStore) IncrBy(context.Context, string, int64, time.Duration) (int64, error) {
	return 0, errors.New("connection reset")
}

type failingBurst struct{}

func (failingBurst) Allow(context.Context, string) (bool, time.Duration, error) {
	return false, 0, errors.New("timeout")
}
func (failingBurst) Reset(context.Context, string) error { return nil }

type RequestLimitSuite struct {
	suite.Suite
	store     *kv.MemoryStore
	service   *Service
	windowIdx int64
	start     time.Time
}

func TestRequestLimitSuite(t *testing.T) {
	suite.Run(t, new(RequestLimitSuite))
}

func (s *RequestLimitSuite) SetupTest() {
	s.store = kv.NewMemoryStore()
	var err error
	s.service, err = New(s.store, WithLimit(4, 24*time.Hour))
	s.Require().NoError(err)

	// Start of an epoch-aligned day window.
	s.start = time.Unix(20_000*86400, 0)
	s.windowIdx = 20_000
}

func (s *RequestLimitSuite) at(d time.Duration) context.Context {
	return requestcontext.WithTime(context.Background(), s.start.Add(d))
}

func (s *RequestLimitSuite) TestNew() {
	s.Run("nil store returns error", func() {
		_, err := New(nil)
		s.ErrorContains(err, "rate limit store is required")
	})

	s.Run("non-positive limit rejected", func() {
		_, err := New(s.store, WithLimit(0, time.Hour))
		s.Error(err)
	})
}

func (s *RequestLimitSuite) TestAllowsExactlyMax() {
	ctx := s.at(time.Hour)
	for i := range 4 {
		d := s.service.CheckAndConsume(ctx, "203.0.113.7")
		s.True(d.Allowed, "request %d", i+1)
	}

	d := s.service.CheckAndConsume(ctx, "203.0.113.7")
	s.False(d.Allowed)
	s.Equal(429, d.Status)
	s.Equal("Daily limit reached. Try again in about 23 hour(s).", d.Reason)
	s.Equal(23*time.Hour, d.RetryAfter)

	s.True(s.service.CheckAndConsume(ctx, "198.51.100.1").Allowed, "clients are independent")
}

func (s *RequestLimitSuite) TestWindowRecordHasExpiry() {
	ctx := s.at(0)
	s.service.CheckAndConsume(ctx, "c")

	v, err := s.store.Get(ctx, models.IPWindowKey("c", s.windowIdx))
	s.Require().NoError(err)
	s.Equal("1", v)
}

func (s *RequestLimitSuite) TestNewWindowStartsFresh() {
	for range 5 {
		s.service.CheckAndConsume(s.at(time.Hour), "c")
	}
	s.False(s.service.CheckAndConsume(s.at(23*time.Hour), "c").Allowed)
	s.True(s.service.CheckAndConsume(s.at(24*time.Hour), "c").Allowed)
}

func (s *RequestLimitSuite) TestHourEstimateDecreasesMonotonically() {
	for range 4 {
		s.service.CheckAndConsume(s.at(0), "c")
	}

	last := 25
	for elapsed := time.Duration(0); elapsed < 24*time.Hour; elapsed += 37 * time.Minute {
		d := s.service.CheckAndConsume(s.at(elapsed), "c")
		s.Require().False(d.Allowed)
		h := HoursUntilReset(d.RetryAfter)
		s.LessOrEqual(h, last, "at %s", elapsed)
		s.GreaterOrEqual(h, 1)
		s.Contains(d.Reason, "hour(s)")
		last = h
	}
	s.Equal(1, last)
}

func (s *RequestLimitSuite) TestHoursUntilReset() {
	s.Equal(1, HoursUntilReset(0))
	s.Equal(1, HoursUntilReset(10*time.Minute))
	s.Equal(2, HoursUntilReset(61*time.Minute))
	s.Equal(24, HoursUntilReset(24*time.Hour))
}

func (s *RequestLimitSuite) TestStoreErrorFailsOpen() {
	svc, err := New(failingStore{kv.NewMemoryStore()}, WithLimit(1, time.Hour))
	s.Require().NoError(err)
	for range 3 {
		s.True(svc.CheckAndConsume(s.at(0), "c").Allowed)
	}
}

func (s *RequestLimitSuite) TestReset() {
	ctx := s.at(time.Hour)
	for range 5 {
		s.service.CheckAndConsume(ctx, "c")
	}
	s.Require().NoError(s.service.Reset(ctx, "c"))
	s.True(s.service.CheckAndConsume(ctx, "c").Allowed)
}

func (s *RequestLimitSuite) TestLocalBurstLimit() {
	svc, err := New(s.store, WithLimit(100, 24*time.Hour), WithBurstLimit(NewLocalBurstLimiter(2)))
	s.Require().NoError(err)
	ctx := s.at(0)

	s.True(svc.CheckAndConsume(ctx, "c").Allowed)
	s.True(svc.CheckAndConsume(ctx, "c").Allowed)
	d := svc.CheckAndConsume(ctx, "c")
	s.False(d.Allowed)
	s.Equal(burstMessage, d.Reason)
	s.Positive(d.RetryAfter)

	s.Require().NoError(svc.Reset(ctx, "c"))
	s.True(svc.CheckAndConsume(ctx, "c").Allowed)
}

func (s *RequestLimitSuite) TestRedisBurstLimit() {
	mr, err := miniredis.Run()
	s.Require().NoError(err)
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	svc, err := New(kv.NewRedisStore(rdb), WithLimit(100, 24*time.Hour),
		WithBurstLimit(NewRedisBurstLimiter(rdb, 1)))
	s.Require().NoError(err)
	ctx := s.at(0)

	s.True(svc.CheckAndConsume(ctx, "c").Allowed)
	d := svc.CheckAndConsume(ctx, "c")
	s.False(d.Allowed)
	s.Equal(429, d.Status)
}

func (s *RequestLimitSuite) TestBurstErrorFailsOpen() {
	svc, err := New(s.store, WithBurstLimit(failingBurst{}))
	s.Require().NoError(err)
	s.True(svc.CheckAndConsume(s.at(0), "c").Allowed)
}
