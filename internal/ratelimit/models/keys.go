package models

import (
	"strconv"
	"strings"
	"time"
)

// Key prefixes for records in the shared store.
const (
	KeyPrefixTokens = "glaze:tokens:used"
	KeyPrefixIP     = "glaze:ratelimit:ip"
	KeyPrefixBurst  = "glaze:ratelimit:burst"
)

// SanitizeKeySegment escapes delimiter characters in key segments so that a
// client identifier containing ':' cannot address a neighbouring record.
//
// Example: "::1" becomes "__1".
func SanitizeKeySegment(s string) string {
	return strings.ReplaceAll(s, ":", "_")
}

// DayKey returns the token counter key for the UTC day containing t.
func DayKey(t time.Time) string {
	return KeyPrefixTokens + ":" + t.UTC().Format(time.DateOnly)
}

// WindowIndex returns the epoch-aligned fixed window containing t.
func WindowIndex(t time.Time, window time.Duration) int64 {
	secs := int64(window / time.Second)
	if secs <= 0 {
		secs = 1
	}
	return t.Unix() / secs
}

// WindowEnd returns the instant the window with the given index closes.
func WindowEnd(index int64, window time.Duration) time.Time {
	secs := int64(window / time.Second)
	if secs <= 0 {
		secs = 1
	}
	return time.Unix((index+1)*secs, 0)
}

// IPWindowKey returns the rate record key for a client in a window.
func IPWindowKey(clientID string, index int64) string {
	return KeyPrefixIP + ":" + SanitizeKeySegment(clientID) + ":" + strconv.FormatInt(index, 10)
}

// BurstKey returns the burst limiter key for a client.
func BurstKey(clientID string) string {
	return KeyPrefixBurst + ":" + SanitizeKeySegment(clientID)
}
