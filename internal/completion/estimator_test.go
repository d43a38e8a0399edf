package completion

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimator(t *testing.T) {
	est, err := NewEstimator()
	require.NoError(t, err)

	assert.Equal(t, int64(2), est.Count("hello world"))
	assert.Equal(t, int64(0), est.Count(""))

	short := est.CountMessages([]Message{{Role: "user", Content: "hi"}})
	long := est.CountMessages([]Message{{Role: "user", Content: strings.Repeat("int main() { return 0; }\n", 200)}})
	assert.Greater(t, long, short)
	assert.Greater(t, short, int64(replyPriming+tokensPerMessage))
}

func TestNilEstimatorApproximates(t *testing.T) {
	var est *Estimator
	assert.Equal(t, int64(3), est.Count("12345678"))
}
