package xapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"crybb-mentions-bot/internal/model"
	"crybb-mentions-bot/internal/xerr"
)

const (
	EndpointMentions    = "users/mentions"
	EndpointByUsername  = "users/by/username"
	EndpointTweets      = "tweets"
	EndpointMediaUpload = "media/upload"
	EndpointRetweet     = "statuses/retweet"
	EndpointUsersMe     = "users/me"
	EndpointOwnTweets   = "users/tweets"
)

type apiEnvelope[T any] struct {
	Data T `json:"data"`
}

type userPayload struct {
	ID              string `json:"id"`
	Username        string `json:"username"`
	Name            string `json:"name"`
	ProfileImageURL string `json:"profile_image_url"`
}

// identityCache caches the bot's own identity after first fetch and
// refreshes it lazily once it is older than 1h, per spec.md §6's "cached 1h" note
// (supplemented from original_source/src/x_v2.py's get_me()).
type identityCache struct {
	mu        sync.Mutex
	id, user  string
	fetchedAt time.Time
}

// BotIdentity returns the bot's own {id, username}, caching it for 1h.
func (c *Client) BotIdentity(ctx context.Context) (id, username string, err error) {
	c.identity.mu.Lock()
	stale := c.identity.fetchedAt.IsZero() || time.Since(c.identity.fetchedAt) > time.Hour
	id, username = c.identity.id, c.identity.user
	c.identity.mu.Unlock()
	if !stale {
		return id, username, nil
	}

	var env apiEnvelope[userPayload]
	reqURL := fmt.Sprintf("%s/users/me?user.fields=id,username,name", c.BaseURL)
	if err := c.Call(ctx, Bearer, EndpointUsersMe, http.MethodGet, reqURL, nil, &env); err != nil {
		return id, username, err
	}

	c.identity.mu.Lock()
	c.identity.id, c.identity.user = env.Data.ID, env.Data.Username
	c.identity.fetchedAt = time.Now()
	c.identity.mu.Unlock()
	return env.Data.ID, env.Data.Username, nil
}

// GetUserByUsername fetches a single user by handle. A 404 maps to
// xerr.ErrAbsentTarget per spec.md §4.3 step 5.
func (c *Client) GetUserByUsername(ctx context.Context, username string) (model.User, error) {
	reqURL := fmt.Sprintf("%s/users/by/username/%s?user.fields=id,username,name,profile_image_url",
		c.BaseURL, url.PathEscape(username))

	var env apiEnvelope[userPayload]
	err := c.Call(ctx, Bearer, EndpointByUsername, http.MethodGet, reqURL, nil, &env)
	if err != nil {
		var cse *xerr.ClientStatusError
		if asClientStatus(err, &cse) && cse.Status == http.StatusNotFound {
			return model.User{}, xerr.ErrAbsentTarget
		}
		return model.User{}, err
	}
	return model.User{
		ID:              env.Data.ID,
		Username:        env.Data.Username,
		DisplayName:     env.Data.Name,
		ProfileImageURL: env.Data.ProfileImageURL,
	}, nil
}

type tweetPayload struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	AuthorID  string `json:"author_id"`
	CreatedAt string `json:"created_at"`
	Entities  struct {
		Mentions []struct {
			Username string `json:"username"`
			Start    int    `json:"start"`
			End      int    `json:"end"`
		} `json:"mentions"`
	} `json:"entities"`
}

type mentionsResponse struct {
	Data     []tweetPayload `json:"data"`
	Includes struct {
		Users []userPayload `json:"users"`
	} `json:"includes"`
}

// MentionsBatch is one page of the mentions endpoint: the mentions
// themselves plus the expansions block (spec.md §3 BatchSnapshot
// source, §4.3).
type MentionsBatch struct {
	Mentions []model.Mention
	Users    map[string]model.User // lowercased username -> User
}

// GetMentions fetches up to 10 mentions newer than sinceID, with the
// expansions from spec.md §6's endpoint row.
func (c *Client) GetMentions(ctx context.Context, botUserID, sinceID string) (MentionsBatch, error) {
	q := url.Values{}
	q.Set("max_results", "10")
	q.Set("expansions", "author_id,entities.mentions.username")
	q.Set("user.fields", "id,username,name,profile_image_url")
	q.Set("tweet.fields", "created_at,entities,author_id")
	if sinceID != "" {
		q.Set("since_id", sinceID)
	}
	reqURL := fmt.Sprintf("%s/users/%s/mentions?%s", c.BaseURL, botUserID, q.Encode())

	var resp mentionsResponse
	if err := c.Call(ctx, Bearer, EndpointMentions, http.MethodGet, reqURL, nil, &resp); err != nil {
		return MentionsBatch{}, err
	}

	batch := MentionsBatch{Users: make(map[string]model.User, len(resp.Includes.Users))}
	for _, u := range resp.Includes.Users {
		batch.Users[strings.ToLower(u.Username)] = model.User{
			ID:              u.ID,
			Username:        u.Username,
			DisplayName:     u.Name,
			ProfileImageURL: u.ProfileImageURL,
		}
	}

	for _, t := range resp.Data {
		ents := make([]model.MentionEntity, 0, len(t.Entities.Mentions))
		for _, m := range t.Entities.Mentions {
			ents = append(ents, model.MentionEntity{Username: m.Username, Start: m.Start, End: m.End})
		}
		createdAt, _ := time.Parse(time.RFC3339, t.CreatedAt)
		batch.Mentions = append(batch.Mentions, model.Mention{
			ID:        t.ID,
			AuthorID:  t.AuthorID,
			CreatedAt: createdAt,
			Text:      t.Text,
			Entities:  ents,
		})
	}
	return batch, nil
}

type ownTweetPayload struct {
	ID            string `json:"id"`
	PublicMetrics struct {
		LikeCount int `json:"like_count"`
	} `json:"public_metrics"`
}

type ownTweetsResponse struct {
	Data []ownTweetPayload `json:"data"`
}

// GetOwnTweets fetches the bot's own recent posts with like counts, used
// by the quiet-period activity (spec.md §4.9).
func (c *Client) GetOwnTweets(ctx context.Context, botUserID string) ([]model.OwnPost, error) {
	reqURL := fmt.Sprintf("%s/users/%s/tweets?tweet.fields=public_metrics", c.BaseURL, botUserID)
	var resp ownTweetsResponse
	if err := c.Call(ctx, Bearer, EndpointOwnTweets, http.MethodGet, reqURL, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]model.OwnPost, 0, len(resp.Data))
	for _, t := range resp.Data {
		out = append(out, model.OwnPost{ID: t.ID, Likes: t.PublicMetrics.LikeCount})
	}
	return out, nil
}

// MediaUpload uploads image bytes via the v1.1 multipart endpoint using
// the user-context credential, returning a media id.
func (c *Client) MediaUpload(ctx context.Context, imageBytes []byte, mimeType string) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("media", "crybb.jpg")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(imageBytes); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	const reqURL = "https://upload.twitter.com/1.1/media/upload.json"

	var out struct {
		MediaIDString string `json:"media_id_string"`
	}
	err = c.callMultipart(ctx, EndpointMediaUpload, reqURL, w.FormDataContentType(), buf.Bytes(), &out)
	if err != nil {
		return "", err
	}
	if out.MediaIDString == "" {
		return "", fmt.Errorf("%w: media upload returned no media_id_string", xerr.ErrPostFailure)
	}
	return out.MediaIDString, nil
}

// PostReply creates a reply post in-thread to inReplyToID with body text
// and an optional single attached media id.
func (c *Client) PostReply(ctx context.Context, inReplyToID, text, mediaID string) (string, error) {
	body := map[string]any{
		"text": text,
		"reply": map[string]any{
			"in_reply_to_tweet_id": inReplyToID,
		},
	}
	if mediaID != "" {
		body["media"] = map[string]any{"media_ids": []string{mediaID}}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	var env apiEnvelope[struct {
		ID string `json:"id"`
	}]
	reqURL := fmt.Sprintf("%s/tweets", c.BaseURL)
	if err := c.Call(ctx, UserContext, EndpointTweets, http.MethodPost, reqURL, bytes.NewReader(payload), &env); err != nil {
		return "", err
	}
	return env.Data.ID, nil
}

// Repost re-posts id using the v1.1 retweet endpoint (spec.md §4.9).
func (c *Client) Repost(ctx context.Context, id string) error {
	reqURL := fmt.Sprintf("https://api.twitter.com/1.1/statuses/retweet/%s.json", url.PathEscape(id))
	return c.Call(ctx, UserContext, EndpointRetweet, http.MethodPost, reqURL, nil, nil)
}

// HeadCheck issues an HTTP HEAD against url, used to validate image URLs
// per spec.md §4.8 step 5 and §7's BadStyleUrl/BadTargetUrl kinds.
func (c *Client) HeadCheck(ctx context.Context, rawURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", xerr.ErrTransientNetwork, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return &xerr.ClientStatusError{Endpoint: rawURL, Status: resp.StatusCode}
	}
	return nil
}

func asClientStatus(err error, target **xerr.ClientStatusError) bool {
	cse, ok := err.(*xerr.ClientStatusError)
	if !ok {
		return false
	}
	*target = cse
	return true
}
