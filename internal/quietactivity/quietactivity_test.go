package quietactivity

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crybb-mentions-bot/internal/model"
)

type fakeReposter struct {
	posts       []model.OwnPost
	fetchErr    error
	repostCalls []string
	repostErr   error
}

func (f *fakeReposter) GetOwnTweets(ctx context.Context, botUserID string) ([]model.OwnPost, error) {
	return f.posts, f.fetchErr
}

func (f *fakeReposter) Repost(ctx context.Context, id string) error {
	f.repostCalls = append(f.repostCalls, id)
	return f.repostErr
}

func TestRun_RepostsPostsAtOrAboveThreshold(t *testing.T) {
	client := &fakeReposter{posts: []model.OwnPost{
		{ID: "1", Likes: 20},
		{ID: "2", Likes: 5},
		{ID: "3", Likes: 10},
	}}
	a := New(client, 10)
	a.Run(context.Background(), "bot-1")

	assert.ElementsMatch(t, []string{"1", "3"}, client.repostCalls)
}

func TestRun_DoesNotRepostTheSamePostTwice(t *testing.T) {
	client := &fakeReposter{posts: []model.OwnPost{{ID: "1", Likes: 20}}}
	a := New(client, 10)

	a.Run(context.Background(), "bot-1")
	a.Run(context.Background(), "bot-1")

	require.Len(t, client.repostCalls, 1)
}

func TestRun_SurvivesFetchError(t *testing.T) {
	client := &fakeReposter{fetchErr: errors.New("network down")}
	a := New(client, 10)
	assert.NotPanics(t, func() { a.Run(context.Background(), "bot-1") })
}

func TestRun_ContinuesAfterARepostFailure(t *testing.T) {
	client := &fakeReposter{
		posts:     []model.OwnPost{{ID: "1", Likes: 20}, {ID: "2", Likes: 30}},
		repostErr: errors.New("boom"),
	}
	a := New(client, 10)
	a.Run(context.Background(), "bot-1")
	assert.Len(t, client.repostCalls, 2)
}
