package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crybb-mentions-bot/internal/batch"
	"crybb-mentions-bot/internal/ledger"
	"crybb-mentions-bot/internal/metrics"
	"crybb-mentions-bot/internal/model"
	"crybb-mentions-bot/internal/pipeline"
	"crybb-mentions-bot/internal/ratelimit"
	"crybb-mentions-bot/internal/xapi"
	"crybb-mentions-bot/internal/xerr"

	"github.com/prometheus/client_golang/prometheus"
)

type fakeSource struct {
	mentionsCalls int
	batches       []xapi.MentionsBatch
	errs          []error
}

func (f *fakeSource) BotIdentity(ctx context.Context) (string, string, error) {
	return "bot-1", "crybbmaker", nil
}

func (f *fakeSource) GetMentions(ctx context.Context, botUserID, sinceID string) (xapi.MentionsBatch, error) {
	i := f.mentionsCalls
	f.mentionsCalls++
	if i < len(f.errs) && f.errs[i] != nil {
		return xapi.MentionsBatch{}, f.errs[i]
	}
	if i < len(f.batches) {
		return f.batches[i], nil
	}
	return xapi.MentionsBatch{}, nil
}

func (f *fakeSource) GetUserByUsername(ctx context.Context, username string) (model.User, error) {
	return model.User{}, xerr.ErrAbsentTarget
}

func TestIterate_EmptyBatchReportsNoMentionsFound(t *testing.T) {
	source := &fakeSource{}
	led, err := ledger.Open(t.TempDir())
	require.NoError(t, err)
	counters := metrics.New(prometheus.NewRegistry())
	pl := pipeline.New("crybbmaker", "https://style.example/img.jpg",
		func(target string) string { return target }, "fallback",
		ratelimit.New(100), ratelimit.New(100), nil, noopPoster{}, led, counters, 2)
	s := New(source, led, pl, batch.NewCache(), Cadence{}, nil)

	found, err := s.iterate(context.Background(), s.log)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestIterate_RetriesOnceOnRateLimitedMentionsFetch(t *testing.T) {
	source := &fakeSource{
		errs: []error{&xerr.RateLimitedError{Endpoint: "mentions", ResetAt: time.Now().Unix()}},
		batches: []xapi.MentionsBatch{
			{}, // consumed by the failed first attempt's slot in errs
			{Mentions: nil, Users: map[string]model.User{}},
		},
	}
	led, err := ledger.Open(t.TempDir())
	require.NoError(t, err)
	counters := metrics.New(prometheus.NewRegistry())
	pl := pipeline.New("crybbmaker", "https://style.example/img.jpg",
		func(target string) string { return target }, "fallback",
		ratelimit.New(100), ratelimit.New(100), nil, noopPoster{}, led, counters, 2)
	s := New(source, led, pl, batch.NewCache(), Cadence{}, nil)

	_, err = s.iterate(context.Background(), s.log)
	require.NoError(t, err)
	assert.Equal(t, 2, source.mentionsCalls, "exactly one retry after the 429")
}

func TestCompareIDs_NumericOrdering(t *testing.T) {
	assert.Equal(t, -1, compareIDs("9", "10"))
	assert.Equal(t, 1, compareIDs("10", "9"))
}

type noopPoster struct{}

func (noopPoster) MediaUpload(ctx context.Context, imageBytes []byte, mimeType string) (string, error) {
	return "", nil
}
func (noopPoster) PostReply(ctx context.Context, inReplyToID, text, mediaID string) (string, error) {
	return "", nil
}
