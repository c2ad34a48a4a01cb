// Package metrics exposes the monotonic counters from spec.md §6 as
// Prometheus collectors. The core only increments them; the
// health/metrics HTTP surface that scrapes them is an external
// collaborator (spec.md §1) and is not built here.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Counters is the observability surface named in spec.md §6.
type Counters struct {
	Processed         prometheus.Counter
	RepliesSent       prometheus.Counter
	AIFail            prometheus.Counter
	PostFail          prometheus.Counter
	RateLimitedIn     prometheus.Counter
	RateLimitedOut    prometheus.Counter
	SkipAbsentTarget  prometheus.Counter

	lastMentionUnix atomic.Int64
}

// New registers and returns a fresh Counters set on reg.
func New(reg prometheus.Registerer) *Counters {
	c := &Counters{
		Processed:        newCounter("crybb_processed_total", "Mentions marked processed."),
		RepliesSent:      newCounter("crybb_replies_sent_total", "Replies posted successfully."),
		AIFail:           newCounter("crybb_ai_fail_total", "Mentions that took the text-only fallback path (image transform failure or another unexpected error)."),
		PostFail:         newCounter("crybb_post_fail_total", "Terminally failed media uploads or reply posts."),
		RateLimitedIn:    newCounter("crybb_rate_limited_in_total", "Mentions skipped by the incoming per-author limiter."),
		RateLimitedOut:   newCounter("crybb_rate_limited_out_total", "Mentions refused by the outgoing per-target limiter."),
		SkipAbsentTarget: newCounter("crybb_skip_absent_target_total", "Mentions skipped because the target user was absent."),
	}
	reg.MustRegister(c.Processed, c.RepliesSent, c.AIFail, c.PostFail, c.RateLimitedIn, c.RateLimitedOut, c.SkipAbsentTarget)
	return c
}

func newCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
}

// SetLastMentionTime records the unix timestamp of the most recently
// observed mention's created_at.
func (c *Counters) SetLastMentionTime(unix int64) {
	c.lastMentionUnix.Store(unix)
}

// LastMentionTime returns the last recorded value, or 0 if none yet.
func (c *Counters) LastMentionTime() int64 {
	return c.lastMentionUnix.Load()
}
