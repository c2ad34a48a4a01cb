package batch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crybb-mentions-bot/internal/model"
)

type fakeFetcher struct {
	calls int
	users map[string]model.User
}

func (f *fakeFetcher) GetUserByUsername(ctx context.Context, username string) (model.User, error) {
	f.calls++
	u, ok := f.users["alice"]
	_ = username
	if !ok {
		return model.User{}, assert.AnError
	}
	return u, nil
}

func TestResolveUser_PrefersSnapshotOverNetwork(t *testing.T) {
	fetcher := &fakeFetcher{users: map[string]model.User{"alice": {Username: "alice"}}}
	snapshot := map[string]model.User{"alice": {Username: "alice", ID: "1"}}
	bc := NewContext(snapshot, NewCache(), fetcher)

	u, err := bc.ResolveUser(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "1", u.ID)
	assert.Equal(t, 0, fetcher.calls, "snapshot hit should never touch the network")
}

func TestResolveUser_ColdLookupGoesToNetworkThenCaches(t *testing.T) {
	fetcher := &fakeFetcher{users: map[string]model.User{"alice": {Username: "alice", ID: "9"}}}
	cache := NewCache()
	bc := NewContext(map[string]model.User{}, cache, fetcher)

	u, err := bc.ResolveUser(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "9", u.ID)
	assert.Equal(t, 1, fetcher.calls)

	// Second resolve within the same batch context hits the overlay, not the network.
	_, err = bc.ResolveUser(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, fetcher.calls, "overlay hit should not re-fetch")
}

func TestResolveUser_SharedCacheAvoidsRefetchAcrossContexts(t *testing.T) {
	fetcher := &fakeFetcher{users: map[string]model.User{"alice": {Username: "alice", ID: "9"}}}
	cache := NewCache()

	first := NewContext(map[string]model.User{}, cache, fetcher)
	_, err := first.ResolveUser(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, fetcher.calls)

	second := NewContext(map[string]model.User{}, cache, fetcher)
	_, err = second.ResolveUser(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, fetcher.calls, "a fresh context should still hit the shared TTL cache")
}

func TestResolveUser_PropagatesFetcherError(t *testing.T) {
	fetcher := &fakeFetcher{users: map[string]model.User{}}
	bc := NewContext(map[string]model.User{}, NewCache(), fetcher)

	_, err := bc.ResolveUser(context.Background(), "ghost")
	assert.Error(t, err)
}
