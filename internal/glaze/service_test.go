package glaze

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"glaze/internal/codeforces"
	"glaze/internal/completion"
	"glaze/internal/glaze/mocks"
	"glaze/internal/ratelimit/service/tokenbudget"
	dErrors "glaze/pkg/domain-errors"
	"glaze/pkg/platform/sentinel"
)

type GlazeServiceSuite struct {
	suite.Suite
	ctx       context.Context
	profiles  *mocks.MockProfileSource
	completer *mocks.MockCompleter
	counter   *mocks.MockTokenCounter
	service   *Service
}

func TestGlazeServiceSuite(t *testing.T) {
	suite.Run(t, new(GlazeServiceSuite))
}

func (s *GlazeServiceSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.ctx = context.Background()
	s.profiles = mocks.NewMockProfileSource(ctrl)
	s.completer = mocks.NewMockCompleter(ctrl)
	s.counter = mocks.NewMockTokenCounter(ctrl)

	var err error
	s.service, err = New(s.profiles, s.completer, s.counter)
	s.Require().NoError(err)
}

func (s *GlazeServiceSuite) tourist() *codeforces.User {
	return &codeforces.User{
		Handle:       "tourist",
		Rating:       3800,
		MaxRating:    4009,
		Rank:         "legendary grandmaster",
		MaxRank:      "legendary grandmaster",
		RegisteredAt: time.Date(2010, 2, 12, 0, 0, 0, 0, time.UTC),
	}
}

func (s *GlazeServiceSuite) TestNew() {
	_, err := New(nil, s.completer, s.counter)
	s.ErrorContains(err, "profile source is required")
	_, err = New(s.profiles, nil, s.counter)
	s.ErrorContains(err, "completer is required")
	_, err = New(s.profiles, s.completer, nil)
	s.ErrorContains(err, "token counter is required")
}

func (s *GlazeServiceSuite) TestGlazeProfile() {
	subs := []codeforces.Submission{
		{Verdict: "OK", Language: "C++17", Problem: codeforces.Problem{ContestID: 1, Index: "A", Rating: 800, Tags: []string{"math"}}},
		{Verdict: "WRONG_ANSWER", Language: "C++17", Problem: codeforces.Problem{ContestID: 1, Index: "B"}},
	}
	s.profiles.EXPECT().UserInfo(gomock.Any(), "tourist").Return(s.tourist(), nil)
	s.profiles.EXPECT().Submissions(gomock.Any(), "tourist").Return(subs, nil)
	s.completer.EXPECT().Complete(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, msgs []completion.Message) (*completion.Result, error) {
			s.Require().Len(msgs, 2)
			s.Contains(msgs[1].Content, "Handle: tourist")
			s.Contains(msgs[1].Content, "Rating: 3800 (max 4009)")
			s.Contains(msgs[1].Content, "accepted 1 (50.0%)")
			s.Contains(msgs[1].Content, "C++17 (2)")
			return &completion.Result{Text: "GOAT.", TotalTokens: 321}, nil
		})
	s.counter.EXPECT().Increment(gomock.Any(), int64(321)).Return(int64(1321), nil)

	resp, err := s.service.GlazeProfile(s.ctx, "tourist")
	s.Require().NoError(err)

	s.Equal("GOAT.", resp.Glaze)
	s.Equal(int64(321), resp.TokensUsed)
	s.Require().NotNil(resp.UserData)
	s.Equal("tourist", resp.UserData.Handle)
	s.Equal(2, resp.UserData.Stats.TotalSubmissions)
}

func (s *GlazeServiceSuite) TestGlazeProfileNotFound() {
	s.profiles.EXPECT().UserInfo(gomock.Any(), "ghost").
		Return(nil, fmt.Errorf("user ghost: %w", sentinel.ErrNotFound))
	s.profiles.EXPECT().Submissions(gomock.Any(), "ghost").
		Return(nil, fmt.Errorf("handle ghost: %w", sentinel.ErrNotFound)).AnyTimes()

	_, err := s.service.GlazeProfile(s.ctx, "ghost")

	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *GlazeServiceSuite) TestGlazeProfileUpstreamFailure() {
	s.profiles.EXPECT().UserInfo(gomock.Any(), "tourist").Return(s.tourist(), nil).AnyTimes()
	s.profiles.EXPECT().Submissions(gomock.Any(), "tourist").Return(nil, sentinel.ErrUnavailable)

	_, err := s.service.GlazeProfile(s.ctx, "tourist")

	s.True(dErrors.HasCode(err, dErrors.CodeUpstream))
}

func (s *GlazeServiceSuite) TestGlazeCode() {
	code := "int main() { return 0; }"
	s.completer.EXPECT().Complete(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, msgs []completion.Message) (*completion.Result, error) {
			s.True(strings.HasSuffix(msgs[1].Content, code))
			return &completion.Result{Text: "Elegant.", TotalTokens: 90}, nil
		})
	s.counter.EXPECT().Increment(gomock.Any(), int64(90)).Return(int64(90), nil)

	resp, err := s.service.GlazeCode(s.ctx, code)
	s.Require().NoError(err)
	s.Equal("Elegant.", resp.Glaze)
	s.Nil(resp.UserData)
	s.Equal(int64(90), resp.TokensUsed)
}

func (s *GlazeServiceSuite) TestCompletionFailureRecordsNothing() {
	s.completer.EXPECT().Complete(gomock.Any(), gomock.Any()).Return(nil, errors.New("boom"))

	_, err := s.service.GlazeCode(s.ctx, "x")

	s.True(dErrors.HasCode(err, dErrors.CodeUpstream))
}

func (s *GlazeServiceSuite) TestEmptyCompletionStillRecordsUsage() {
	s.completer.EXPECT().Complete(gomock.Any(), gomock.Any()).
		Return(&completion.Result{TotalTokens: 1500}, completion.ErrEmptyCompletion)
	s.counter.EXPECT().Increment(gomock.Any(), int64(1500)).Return(int64(1500), nil).Times(1)

	resp, err := s.service.GlazeCode(s.ctx, "x")

	s.Nil(resp)
	s.ErrorIs(err, completion.ErrEmptyCompletion)
	s.True(dErrors.HasCode(err, dErrors.CodeUpstream))
}

func (s *GlazeServiceSuite) TestEmptyCompletionReportsUpstreamEvenIfRecordFails() {
	s.completer.EXPECT().Complete(gomock.Any(), gomock.Any()).
		Return(&completion.Result{TotalTokens: 20}, completion.ErrEmptyCompletion)
	s.counter.EXPECT().Increment(gomock.Any(), int64(20)).Return(int64(0), errors.New("store down"))

	_, err := s.service.GlazeCode(s.ctx, "x")

	s.True(dErrors.HasCode(err, dErrors.CodeUpstream))
}

func (s *GlazeServiceSuite) TestConsistencyErrorSurfaces() {
	s.completer.EXPECT().Complete(gomock.Any(), gomock.Any()).Return(&completion.Result{Text: "ok", TotalTokens: 10}, nil)
	s.counter.EXPECT().Increment(gomock.Any(), int64(10)).Return(int64(0),
		dErrors.Wrap(tokenbudget.ErrConsistency, dErrors.CodeConsistency, "token usage could not be recorded"))

	_, err := s.service.GlazeCode(s.ctx, "x")

	s.ErrorIs(err, tokenbudget.ErrConsistency)
	s.True(dErrors.HasCode(err, dErrors.CodeConsistency))
}

func (s *GlazeServiceSuite) TestEstimates() {
	s.Zero(s.service.EstimateCode("x"), "no estimator configured")

	est, err := completion.NewEstimator()
	s.Require().NoError(err)
	svc, err := New(s.profiles, s.completer, s.counter, WithEstimator(est, 800))
	s.Require().NoError(err)

	short := svc.EstimateCode("x")
	long := svc.EstimateCode(strings.Repeat("for (int i = 0; i < n; ++i) sum += a[i];\n", 300))
	s.Greater(short, int64(800))
	s.Greater(long, short+2000)
	s.Greater(svc.EstimateProfile(), int64(800+profileSkeletonTokens))
}
