package models

import (
	"net/http"
	"time"
)

// AdmissionDecision is the outcome of one admission check. It is never persisted.
type AdmissionDecision struct {
	Allowed    bool
	Reason     string
	Status     int
	RetryAfter time.Duration
}

// Allow returns a passing decision.
func Allow() AdmissionDecision {
	return AdmissionDecision{Allowed: true, Status: http.StatusOK}
}

// Deny returns a rejecting decision with a user-facing reason.
func Deny(status int, reason string, retryAfter time.Duration) AdmissionDecision {
	return AdmissionDecision{Status: status, Reason: reason, RetryAfter: retryAfter}
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds for the Retry-After header.
func (d AdmissionDecision) RetryAfterSeconds() int {
	if d.RetryAfter <= 0 {
		return 0
	}
	secs := int(d.RetryAfter / time.Second)
	if d.RetryAfter%time.Second != 0 {
		secs++
	}
	return secs
}

// CounterSnapshot is a cached reading of the daily token counter.
type CounterSnapshot struct {
	Value     int64
	Timestamp time.Time
}

// Outcome labels for admission metrics.
const (
	OutcomeAllowed       = "allowed"
	OutcomeForbidden     = "forbidden"
	OutcomeHoneypot      = "honeypot"
	OutcomeInvalid       = "invalid"
	OutcomeRateLimited   = "rate_limited"
	OutcomeBurstLimited  = "burst_limited"
	OutcomeBudgetDenied  = "budget_exceeded"
	OutcomeStoreFailOpen = "fail_open"
)
