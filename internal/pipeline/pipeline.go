// Package pipeline implements the per-mention reply dispatch pipeline
// from spec.md §4.8: incoming limiter, target resolution, outgoing
// limiter, bounded-concurrency image transform, media upload, reply
// post, and the ledger write that retires the mention.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/semaphore"

	"crybb-mentions-bot/internal/batch"
	"crybb-mentions-bot/internal/ledger"
	"crybb-mentions-bot/internal/logctx"
	"crybb-mentions-bot/internal/metrics"
	"crybb-mentions-bot/internal/model"
	"crybb-mentions-bot/internal/ratelimit"
	"crybb-mentions-bot/internal/target"
	"crybb-mentions-bot/internal/xerr"
)

// Poster is the subset of xapi.Client the pipeline needs for step 6/7.
type Poster interface {
	MediaUpload(ctx context.Context, imageBytes []byte, mimeType string) (string, error)
	PostReply(ctx context.Context, inReplyToID, text, mediaID string) (string, error)
}

// Pipeline wires together everything §4.8 needs to process one mention.
type Pipeline struct {
	BotHandle    string
	StyleURL     string
	ReplyBody    func(target string) string
	FallbackBody string

	Incoming *ratelimit.Limiter // per-author, whitelist bypass
	Outgoing *ratelimit.Limiter // per-target, no bypass

	Transformer Transformer
	Poster      Poster
	Ledger      *ledger.Ledger
	Counters    *metrics.Counters
	Slots       *semaphore.Weighted

	log *logctx.Logger
}

// New builds a Pipeline. slots bounds concurrent transform+upload+post
// work to AI_MAX_CONCURRENCY.
func New(botHandle, styleURL string, replyBody func(string) string, fallbackBody string,
	incoming, outgoing *ratelimit.Limiter, transformer Transformer, poster Poster,
	led *ledger.Ledger, counters *metrics.Counters, maxConcurrency int64) *Pipeline {
	return &Pipeline{
		BotHandle:    botHandle,
		StyleURL:     styleURL,
		ReplyBody:    replyBody,
		FallbackBody: fallbackBody,
		Incoming:     incoming,
		Outgoing:     outgoing,
		Transformer:  transformer,
		Poster:       poster,
		Ledger:       led,
		Counters:     counters,
		Slots:        semaphore.NewWeighted(maxConcurrency),
		log:          logctx.New("pipeline"),
	}
}

// Process runs the eight steps of spec.md §4.8 for a single mention.
// Callers (the scheduler) are responsible for the in-flight set and for
// never dispatching the same mention to two pipelines concurrently.
func (p *Pipeline) Process(ctx context.Context, m model.Mention, bctx *batch.Context, authorUsername string) error {
	// Step 1: incoming limiter. Bucketed by author id (stable across
	// handle changes), whitelisted by author handle (how operators
	// configure WHITELIST_HANDLES).
	if !p.Incoming.AllowKeyed(m.AuthorID, authorUsername) {
		p.Counters.RateLimitedIn.Inc()
		return nil // not marked processed; retried by a later poll
	}

	// Step 2: resolve target, resolve target user, normalize pfp.
	targetUsername := target.Extract(m.Entities, p.BotHandle, authorUsername)
	targetUser, err := bctx.ResolveUser(ctx, targetUsername)
	if err != nil {
		if isAbsentTarget(err) {
			p.Counters.SkipAbsentTarget.Inc()
			return p.markProcessed(m.ID)
		}
		return p.fallbackAndMark(ctx, m, err)
	}
	pfpURL := target.NormalizeProfileImageURL(targetUser.ProfileImageURL)
	if pfpURL == "" {
		p.Counters.SkipAbsentTarget.Inc()
		return p.markProcessed(m.ID)
	}

	// Step 3: outgoing limiter. Rejection is a terminal refusal per
	// spec.md §9's Open-Questions decision: mark processed, no retry.
	if !p.Outgoing.Allow(targetUsername) {
		p.Counters.RateLimitedOut.Inc()
		return p.markProcessed(m.ID)
	}

	// Step 4: bounded pipeline slot.
	if err := p.Slots.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.Slots.Release(1)

	// Step 5: image transform, with text-only fallback on exhaustion.
	imageBytes, terr := p.Transformer.Transform(ctx, p.StyleURL, pfpURL)
	if terr != nil {
		p.Counters.AIFail.Inc()
		if _, postErr := p.Poster.PostReply(ctx, m.ID, p.FallbackBody, ""); postErr != nil {
			p.log.Printf("text-only fallback post failed for mention %s: %v", m.ID, postErr)
		}
		return p.markProcessed(m.ID)
	}

	// Step 6: upload media. A rate-limit response has already been slept
	// out by the HTTP client; retry exactly once before giving up.
	mediaID, uerr := p.Poster.MediaUpload(ctx, imageBytes, "image/jpeg")
	if isRateLimited(uerr) {
		mediaID, uerr = p.Poster.MediaUpload(ctx, imageBytes, "image/jpeg")
	}
	if uerr != nil {
		p.Counters.PostFail.Inc()
		return fmt.Errorf("%w: %v", xerr.ErrPostFailure, uerr) // left unprocessed, retried later
	}

	// Step 7: post reply, same one-retry-on-rate-limit treatment.
	_, perr := p.Poster.PostReply(ctx, m.ID, p.ReplyBody(targetUsername), mediaID)
	if isRateLimited(perr) {
		_, perr = p.Poster.PostReply(ctx, m.ID, p.ReplyBody(targetUsername), mediaID)
	}
	if perr != nil {
		p.Counters.PostFail.Inc()
		return fmt.Errorf("%w: %v", xerr.ErrPostFailure, perr) // left unprocessed, retried later
	}

	// Step 8: mark processed.
	if err := p.markProcessed(m.ID); err != nil {
		return err
	}
	p.Counters.RepliesSent.Inc()
	return nil
}

// fallbackAndMark handles "any other exception": log, attempt the
// text-only fallback, mark processed, per spec.md §4.8/§7.
func (p *Pipeline) fallbackAndMark(ctx context.Context, m model.Mention, cause error) error {
	p.log.Printf("mention %s: unexpected error, falling back to text-only: %v", m.ID, cause)
	if _, err := p.Poster.PostReply(ctx, m.ID, p.FallbackBody, ""); err != nil {
		p.log.Printf("text-only fallback post failed for mention %s: %v", m.ID, err)
	}
	p.Counters.AIFail.Inc()
	return p.markProcessed(m.ID)
}

func (p *Pipeline) markProcessed(id string) error {
	if err := p.Ledger.MarkProcessed(id); err != nil {
		return fmt.Errorf("%w: %v", xerr.ErrLedgerWrite, err)
	}
	p.Counters.Processed.Inc()
	return nil
}

func isAbsentTarget(err error) bool {
	return errors.Is(err, xerr.ErrAbsentTarget)
}

// isRateLimited reports whether err is the client's typed rate-limit
// outcome. The client has already blocked until reset+5s by the time
// this is observed, per spec.md §4.2; the pipeline's job is only to
// decide whether to retry (spec.md §4.8's "the pipeline retries once").
func isRateLimited(err error) bool {
	return errors.Is(err, xerr.ErrRateLimited)
}
