// Package target implements the pure, deterministic target-selection
// algorithm (spec.md §4.4) and profile-image URL normalization (§4.5).
package target

import (
	"regexp"
	"strings"

	"crybb-mentions-bot/internal/model"
)

// Extract picks the reply target username from a mention's ordered
// entity list, per spec.md §4.4. It never mutates its inputs and always
// returns the same answer for the same (entities, botHandle, authorHandle).
func Extract(entities []model.MentionEntity, botHandle, authorHandle string) string {
	bot := strings.ToLower(strings.TrimPrefix(botHandle, "@"))
	author := strings.ToLower(strings.TrimPrefix(authorHandle, "@"))

	// Entities are assumed ordered by Start; re-sort defensively so ties
	// are broken by textual position regardless of caller-supplied order.
	ents := make([]model.MentionEntity, len(entities))
	copy(ents, entities)
	for i := 1; i < len(ents); i++ {
		for j := i; j > 0 && ents[j].Start < ents[j-1].Start; j-- {
			ents[j], ents[j-1] = ents[j-1], ents[j]
		}
	}

	botIdx := -1
	for i, e := range ents {
		if strings.ToLower(e.Username) == bot {
			botIdx = i
			break
		}
	}

	if botIdx >= 0 && botIdx+1 < len(ents) {
		next := ents[botIdx+1]
		if strings.ToLower(next.Username) != bot {
			return next.Username
		}
	}

	for _, e := range ents {
		lu := strings.ToLower(e.Username)
		if lu != bot && lu != author {
			return e.Username
		}
	}

	return authorHandle
}

var pfpSizeRe = regexp.MustCompile(`^(.*)_(normal|bigger|mini|400x400)(\.[A-Za-z0-9]+)$`)

// NormalizeProfileImageURL substitutes the size token in a profile-image
// URL for 400x400, per spec.md §4.5. URLs that don't match the expected
// shape pass through unchanged.
func NormalizeProfileImageURL(url string) string {
	m := pfpSizeRe.FindStringSubmatch(url)
	if m == nil {
		return url
	}
	return m[1] + "_400x400" + m[3]
}
