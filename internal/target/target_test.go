package target

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"crybb-mentions-bot/internal/model"
)

func ents(pairs ...[2]any) []model.MentionEntity {
	out := make([]model.MentionEntity, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, model.MentionEntity{Username: p[0].(string), Start: p[1].(int)})
	}
	return out
}

func TestExtract_NextEntityAfterBot(t *testing.T) {
	e := ents([2]any{"crybbmaker", 0}, [2]any{"alice", 12})
	got := Extract(e, "crybbmaker", "bob")
	assert.Equal(t, "alice", got)
}

func TestExtract_BotMentionedTwiceFallsThroughToNonBotNonAuthor(t *testing.T) {
	e := ents([2]any{"crybbmaker", 0}, [2]any{"crybbmaker", 20}, [2]any{"carol", 40})
	got := Extract(e, "crybbmaker", "bob")
	assert.Equal(t, "carol", got)
}

func TestExtract_BotIsLastEntityFallsThroughToAuthorExclusion(t *testing.T) {
	e := ents([2]any{"dave", 0}, [2]any{"crybbmaker", 20})
	got := Extract(e, "crybbmaker", "bob")
	assert.Equal(t, "dave", got)
}

func TestExtract_OnlyBotAndAuthorMentionedFallsBackToAuthor(t *testing.T) {
	e := ents([2]any{"crybbmaker", 0}, [2]any{"bob", 20})
	got := Extract(e, "crybbmaker", "bob")
	assert.Equal(t, "bob", got)
}

func TestExtract_NoEntitiesFallsBackToAuthor(t *testing.T) {
	got := Extract(nil, "crybbmaker", "bob")
	assert.Equal(t, "bob", got)
}

func TestExtract_IsCaseInsensitiveOnBotHandle(t *testing.T) {
	e := ents([2]any{"CrybbMaker", 0}, [2]any{"alice", 12})
	got := Extract(e, "@crybbmaker", "bob")
	assert.Equal(t, "alice", got)
}

func TestExtract_UnorderedEntitiesAreSortedByStart(t *testing.T) {
	e := ents([2]any{"alice", 12}, [2]any{"crybbmaker", 0})
	got := Extract(e, "crybbmaker", "bob")
	assert.Equal(t, "alice", got)
}

func TestExtract_IsDeterministic(t *testing.T) {
	e := ents([2]any{"crybbmaker", 0}, [2]any{"alice", 12})
	first := Extract(e, "crybbmaker", "bob")
	second := Extract(e, "crybbmaker", "bob")
	assert.Equal(t, first, second)
}

func TestNormalizeProfileImageURL(t *testing.T) {
	cases := map[string]string{
		"https://pbs.example.com/profile_images/1/avatar_normal.jpg":  "https://pbs.example.com/profile_images/1/avatar_400x400.jpg",
		"https://pbs.example.com/profile_images/1/avatar_bigger.png":  "https://pbs.example.com/profile_images/1/avatar_400x400.png",
		"https://pbs.example.com/profile_images/1/avatar_mini.jpg":    "https://pbs.example.com/profile_images/1/avatar_400x400.jpg",
		"https://pbs.example.com/profile_images/1/avatar_400x400.jpg": "https://pbs.example.com/profile_images/1/avatar_400x400.jpg",
		"https://pbs.example.com/profile_images/1/avatar.jpg":         "https://pbs.example.com/profile_images/1/avatar.jpg",
		"": "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeProfileImageURL(in), "input: %s", in)
	}
}
