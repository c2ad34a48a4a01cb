// Package quietactivity implements the optional companion task from
// spec.md §4.9: during quiet cadence, re-post the bot's own well-liked
// recent posts. Fire-and-forget; failures never affect mention
// processing.
package quietactivity

import (
	"context"
	"sync"

	"crybb-mentions-bot/internal/logctx"
	"crybb-mentions-bot/internal/model"
)

// TimelineReposter is the subset of xapi.Client this task needs.
type TimelineReposter interface {
	GetOwnTweets(ctx context.Context, botUserID string) ([]model.OwnPost, error)
	Repost(ctx context.Context, id string) error
}

// Activity tracks which of the bot's own posts have already been
// re-posted this session. The set is process-local and intentionally
// not persisted across restarts (spec.md §4.9/§9).
type Activity struct {
	mu       sync.Mutex
	reposted map[string]struct{}

	client    TimelineReposter
	threshold int
	log       *logctx.Logger
}

// New returns an Activity with the given like-count threshold
// (RT_LIKE_THRESHOLD).
func New(client TimelineReposter, threshold int) *Activity {
	return &Activity{
		reposted:  make(map[string]struct{}),
		client:    client,
		threshold: threshold,
		log:       logctx.New("quietactivity"),
	}
}

// Run fetches the bot's own recent posts and re-posts every one at or
// above the like threshold that hasn't been re-posted this session.
func (a *Activity) Run(ctx context.Context, botUserID string) {
	posts, err := a.client.GetOwnTweets(ctx, botUserID)
	if err != nil {
		a.log.Printf("fetch own timeline failed: %v", err)
		return
	}

	for _, post := range posts {
		if post.Likes < a.threshold {
			continue
		}
		a.mu.Lock()
		_, already := a.reposted[post.ID]
		if !already {
			a.reposted[post.ID] = struct{}{}
		}
		a.mu.Unlock()
		if already {
			continue
		}

		if err := a.client.Repost(ctx, post.ID); err != nil {
			a.log.Printf("repost %s failed: %v", post.ID, err)
			a.mu.Lock()
			delete(a.reposted, post.ID)
			a.mu.Unlock()
			continue
		}
		a.log.Printf("reposted %s (%d likes)", post.ID, post.Likes)
	}
}
