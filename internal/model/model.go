// Package model holds the data types from spec.md §3, shared across every
// component of the mention-processing engine.
package model

import "time"

// MentionEntity is one {username, start, end} tuple in a mention's
// ordered entities list, in textual order of appearance.
type MentionEntity struct {
	Username string
	Start    int
	End      int
}

// Mention is an immutable record describing one incoming post.
type Mention struct {
	ID        string // opaque, monotonically increasing lexicographically as big-integers
	AuthorID  string
	CreatedAt time.Time
	Text      string
	Entities  []MentionEntity // ordered by Start
}

// User is {id, username, display_name, profile_image_url}. Username
// comparisons elsewhere are case-insensitive; the original case is kept
// here.
type User struct {
	ID              string
	Username        string
	DisplayName     string
	ProfileImageURL string
}

// RateLimitInfo is the per-endpoint snapshot captured from the
// x-rate-limit-* response headers.
type RateLimitInfo struct {
	Limit     int
	Remaining int
	ResetUnix int64
	LastSeen  time.Time
}

// OwnPost is one of the bot's own recent posts, used by the quiet-period
// activity (spec.md §4.9).
type OwnPost struct {
	ID    string
	Likes int
}
