package xapi

import (
	"context"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func headers(limit, remaining, reset string) http.Header {
	h := http.Header{}
	if limit != "" {
		h.Set("x-rate-limit-limit", limit)
	}
	if remaining != "" {
		h.Set("x-rate-limit-remaining", remaining)
	}
	if reset != "" {
		h.Set("x-rate-limit-reset", reset)
	}
	return h
}

func TestCapture_ParsesHeadersIntoInfo(t *testing.T) {
	r := NewRateLimitRegistry()
	r.Capture("mentions", headers("75", "74", "1700000000"))

	info, ok := r.Info("mentions")
	require.True(t, ok)
	assert.Equal(t, 75, info.Limit)
	assert.Equal(t, 74, info.Remaining)
	assert.Equal(t, int64(1700000000), info.ResetUnix)
}

func TestCapture_IgnoresResponsesWithNoRateLimitHeaders(t *testing.T) {
	r := NewRateLimitRegistry()
	r.Capture("mentions", http.Header{})

	_, ok := r.Info("mentions")
	assert.False(t, ok)
}

func TestMaybeSleep_ReturnsImmediatelyWhenNoInfoYet(t *testing.T) {
	r := NewRateLimitRegistry()
	err := r.MaybeSleep(context.Background(), "mentions", 2)
	assert.NoError(t, err)
}

func TestMaybeSleep_ReturnsImmediatelyWhenRemainingAboveThreshold(t *testing.T) {
	r := NewRateLimitRegistry()
	r.Capture("mentions", headers("75", "10", "1700000000"))
	err := r.MaybeSleep(context.Background(), "mentions", 2)
	assert.NoError(t, err)
}

func TestMaybeSleep_BlocksUntilResetPlus5WhenBelowThreshold(t *testing.T) {
	r := NewRateLimitRegistry()
	// reset+5s lands ~100ms in the future; unix-second truncation can only
	// move it earlier, so the actual wait is somewhere in [0, ~100ms].
	reset := time.Now().Add(100*time.Millisecond - 5*time.Second).Unix()
	r.Capture("mentions", headers("75", "1", strconv.FormatInt(reset, 10)))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err := r.MaybeSleep(ctx, "mentions", 2)
	assert.NoError(t, err)
}

func TestMaybeSleep_RespectsContextCancellation(t *testing.T) {
	r := NewRateLimitRegistry()
	farFuture := time.Now().Add(time.Hour).Unix()
	r.Capture("mentions", headers("75", "1", strconv.FormatInt(farFuture, 10)))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := r.MaybeSleep(ctx, "mentions", 2)
	assert.ErrorIs(t, err, context.Canceled)
}
