// Package scheduler drives the single-threaded awake/quiet polling loop
// from spec.md §4.1: one mentions fetch per iteration, in-order dispatch
// to the reply pipeline, contiguous high-watermark advancement, and a
// randomized inter-iteration sleep.
package scheduler

import (
	"context"
	"errors"
	"math/big"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"crybb-mentions-bot/internal/batch"
	"crybb-mentions-bot/internal/ledger"
	"crybb-mentions-bot/internal/logctx"
	"crybb-mentions-bot/internal/model"
	"crybb-mentions-bot/internal/pipeline"
	"crybb-mentions-bot/internal/quietactivity"
	"crybb-mentions-bot/internal/xapi"
	"crybb-mentions-bot/internal/xerr"
)

// quietAfterEmptyIterations is how many consecutive mention-free
// iterations flip the cadence to quiet mode, per spec.md §4.1's
// "mentions found in the last N iterations" predicate.
const quietAfterEmptyIterations = 3

// MentionsSource is the subset of xapi.Client the scheduler drives
// directly; modeled as an interface so tests can fake it. It embeds
// batch.UserFetcher because BatchContext's cold-path lookup (§4.3 step
// 4) needs the same credentialed client.
type MentionsSource interface {
	batch.UserFetcher
	BotIdentity(ctx context.Context) (id, username string, err error)
	GetMentions(ctx context.Context, botUserID, sinceID string) (xapi.MentionsBatch, error)
}

// Cadence holds the awake/quiet sleep bounds from spec.md §4.1.
type Cadence struct {
	AwakeMin, AwakeMax     time.Duration
	SleeperMin, SleeperMax time.Duration
}

// Scheduler is the polling event loop.
type Scheduler struct {
	Source   MentionsSource
	Ledger   *ledger.Ledger
	Pipeline *pipeline.Pipeline
	Cache    *batch.Cache
	Cadence  Cadence
	Quiet    *quietactivity.Activity // optional, may be nil

	log *logctx.Logger

	mu                   sync.Mutex
	inFlight             map[string]struct{}
	emptyIterationStreak int

	rand *rand.Rand
}

// New builds a Scheduler.
func New(source MentionsSource, led *ledger.Ledger, pl *pipeline.Pipeline, cache *batch.Cache, cadence Cadence, quiet *quietactivity.Activity) *Scheduler {
	return &Scheduler{
		Source:   source,
		Ledger:   led,
		Pipeline: pl,
		Cache:    cache,
		Cadence:  cadence,
		Quiet:    quiet,
		log:      logctx.New("scheduler"),
		inFlight: make(map[string]struct{}),
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run drives the event loop until ctx is canceled. Cancellation
// interrupts any sleep at the next safe point; an in-flight iteration's
// reply pipelines are allowed to finish before Run returns.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		batchLog := s.log.WithBatch()
		foundMentions, err := s.iterate(ctx, batchLog)
		if err != nil && ctx.Err() == nil {
			batchLog.Printf("iteration error: %v", err)
		}

		if foundMentions {
			s.emptyIterationStreak = 0
		} else {
			s.emptyIterationStreak++
		}

		if s.quiet() && s.Quiet != nil {
			if botID, _, idErr := s.Source.BotIdentity(ctx); idErr == nil {
				s.Quiet.Run(ctx, botID)
			}
		}

		if err := s.sleep(ctx); err != nil {
			return
		}
	}
}

func (s *Scheduler) quiet() bool {
	return s.emptyIterationStreak >= quietAfterEmptyIterations
}

func (s *Scheduler) sleep(ctx context.Context) error {
	lo, hi := s.Cadence.AwakeMin, s.Cadence.AwakeMax
	if s.quiet() {
		lo, hi = s.Cadence.SleeperMin, s.Cadence.SleeperMax
	}
	d := randomDuration(s.rand, lo, hi)

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func randomDuration(r *rand.Rand, lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(r.Int63n(int64(hi-lo)))
}

// iterate runs one batch: fetch, build context, dispatch in ascending id
// order, advance the high-watermark. It returns whether any mentions
// were found, for the cadence predicate.
func (s *Scheduler) iterate(ctx context.Context, log *logctx.Logger) (bool, error) {
	botID, _, err := s.Source.BotIdentity(ctx)
	if err != nil {
		return false, err
	}

	sinceID := s.Ledger.ReadSinceID()

	var batchResp xapi.MentionsBatch
	for attempt := 0; attempt < 2; attempt++ {
		batchResp, err = s.Source.GetMentions(ctx, botID, sinceID)
		if err == nil {
			break
		}
		var rl *xerr.RateLimitedError
		if errors.As(err, &rl) {
			// The client already blocked until reset+5s inside Call;
			// this is the caller's one allowed retry, per spec.md §4.2.
			log.Printf("mentions endpoint rate limited, retrying after enforced sleep")
			continue
		}
		return false, err
	}
	if err != nil {
		return false, err
	}

	if len(batchResp.Mentions) == 0 {
		return false, nil
	}

	sort.Slice(batchResp.Mentions, func(i, j int) bool {
		return compareIDs(batchResp.Mentions[i].ID, batchResp.Mentions[j].ID) < 0
	})

	if newest := batchResp.Mentions[len(batchResp.Mentions)-1]; s.Pipeline.Counters != nil {
		s.Pipeline.Counters.SetLastMentionTime(newest.CreatedAt.Unix())
	}

	bctx := batch.NewContext(batchResp.Users, s.Cache, s.Source)

	var wg sync.WaitGroup
	var ledgerFailed atomic.Bool
	for _, m := range batchResp.Mentions {
		if s.Ledger.IsProcessed(m.ID) {
			continue
		}
		if !s.claim(m.ID) {
			continue
		}

		authorUsername := authorUsernameFor(m, batchResp.Users)

		wg.Add(1)
		go func(m model.Mention) {
			defer wg.Done()
			defer s.release(m.ID)
			if err := s.Pipeline.Process(ctx, m, bctx, authorUsername); err != nil {
				log.Printf("mention %s: %v", m.ID, err)
				if errors.Is(err, xerr.ErrLedgerWrite) {
					ledgerFailed.Store(true)
				}
			}
		}(m)
	}
	wg.Wait()

	// A ledger write failure aborts the batch without advancing the
	// high-watermark.
	if ledgerFailed.Load() {
		return true, xerr.ErrLedgerWrite
	}

	ids := make([]string, len(batchResp.Mentions))
	for i, m := range batchResp.Mentions {
		ids[i] = m.ID
	}
	if _, err := s.Ledger.AdvanceHighWatermark(ids); err != nil {
		return true, err
	}

	return true, nil
}

func authorUsernameFor(m model.Mention, users map[string]model.User) string {
	for _, u := range users {
		if u.ID == m.AuthorID {
			return u.Username
		}
	}
	return m.AuthorID
}

func (s *Scheduler) claim(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inFlight[id]; ok {
		return false
	}
	s.inFlight[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, id)
}

func compareIDs(a, b string) int {
	ai, aok := new(big.Int).SetString(a, 10)
	bi, bok := new(big.Int).SetString(b, 10)
	if !aok || !bok {
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		default:
			return 0
		}
	}
	return ai.Cmp(bi)
}
