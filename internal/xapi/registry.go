package xapi

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"crybb-mentions-bot/internal/model"
)

// RateLimitRegistry captures and enforces per-endpoint rate-limit quotas
// parsed from the x-rate-limit-{limit,remaining,reset} response headers,
// per spec.md §4.2. It is shared across the scheduler loop and in-flight
// pipelines and guarded by a single mutex (§5).
type RateLimitRegistry struct {
	mu    sync.Mutex
	infos map[string]model.RateLimitInfo
	now   func() time.Time
}

// NewRateLimitRegistry returns an empty registry.
func NewRateLimitRegistry() *RateLimitRegistry {
	return &RateLimitRegistry{infos: make(map[string]model.RateLimitInfo), now: time.Now}
}

// Capture parses the rate-limit headers of resp and records them under
// endpoint. Called for every response regardless of success.
func (r *RateLimitRegistry) Capture(endpoint string, h http.Header) {
	limit, okL := atoi(h.Get("x-rate-limit-limit"))
	remaining, okR := atoi(h.Get("x-rate-limit-remaining"))
	reset, okReset := atoi(h.Get("x-rate-limit-reset"))
	if !okL && !okR && !okReset {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	info := r.infos[endpoint]
	if okL {
		info.Limit = limit
	}
	if okR {
		info.Remaining = remaining
	}
	if okReset {
		info.ResetUnix = int64(reset)
	}
	info.LastSeen = r.now()
	r.infos[endpoint] = info
}

// Info returns the last-known rate-limit snapshot for endpoint.
func (r *RateLimitRegistry) Info(endpoint string) (model.RateLimitInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.infos[endpoint]
	return info, ok
}

// MaybeSleep blocks the caller until reset+5s if the registry shows
// remaining < minRemaining for endpoint, per spec.md §4.2. It returns
// early if ctx is canceled.
func (r *RateLimitRegistry) MaybeSleep(ctx context.Context, endpoint string, minRemaining int) error {
	info, ok := r.Info(endpoint)
	if !ok || info.Remaining >= minRemaining {
		return nil
	}
	return r.sleepUntilResetPlus5(ctx, info.ResetUnix)
}

func (r *RateLimitRegistry) sleepUntilResetPlus5(ctx context.Context, resetUnix int64) error {
	target := time.Unix(resetUnix, 0).Add(5 * time.Second)
	d := time.Until(target)
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func atoi(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}
