package models

import "time"

// TokenUsage is the body of GET /tokens.
type TokenUsage struct {
	TotalTokensToday int64     `json:"totalTokensToday"`
	MaxDailyTokens   int64     `json:"maxDailyTokens"`
	RemainingTokens  int64     `json:"remainingTokens"`
	PercentageUsed   float64   `json:"percentageUsed"`
	Timestamp        time.Time `json:"timestamp"`
}

// NewTokenUsage derives the usage view from a counter reading.
// Remaining never goes negative; percentage is rounded to two decimals.
func NewTokenUsage(used, limit int64, now time.Time) TokenUsage {
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	var pct float64
	if limit > 0 {
		pct = float64(int64(float64(used)*10000/float64(limit)+0.5)) / 100
	}
	return TokenUsage{
		TotalTokensToday: used,
		MaxDailyTokens:   limit,
		RemainingTokens:  remaining,
		PercentageUsed:   pct,
		Timestamp:        now.UTC(),
	}
}
