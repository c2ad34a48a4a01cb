// Package xapi wraps every call to the microblog API: credential
// attachment, rate-limit header capture, and the retry/backoff/429
// policy from spec.md §4.2.
package xapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/dghubble/oauth1"
	"github.com/hashicorp/go-retryablehttp"

	"crybb-mentions-bot/internal/logctx"
	"crybb-mentions-bot/internal/xerr"
)

// Credential identifies which of the two disjoint credential classes a
// call should use.
type Credential int

const (
	// Bearer is app-level auth for read endpoints.
	Bearer Credential = iota
	// UserContext is signed OAuth1 auth for write endpoints.
	UserContext
)

// Client wraps every call to the microblog API.
type Client struct {
	BaseURL  string
	Registry *RateLimitRegistry

	bearerToken string
	bearerHTTP  *retryablehttp.Client
	userHTTP    *retryablehttp.Client
	log         *logctx.Logger
	identity    identityCache
}

// Credentials bundles the two credential classes' secrets.
type Credentials struct {
	BearerToken  string
	APIKey       string
	APISecret    string
	AccessToken  string
	AccessSecret string
}

// NewClient builds a Client with both credential classes wired: bearer
// for reads, OAuth1-signed (github.com/dghubble/oauth1) for writes.
func NewClient(baseURL string, creds Credentials) *Client {
	bearer := retryablehttp.NewClient()
	bearer.Logger = nil
	bearer.RetryMax = 3
	bearer.RetryWaitMin = 500 * time.Millisecond
	bearer.RetryWaitMax = 2 * time.Second
	bearer.CheckRetry = checkRetry
	bearer.Backoff = backoffWithJitter

	oauthCfg := oauth1.NewConfig(creds.APIKey, creds.APISecret)
	oauthTok := oauth1.NewToken(creds.AccessToken, creds.AccessSecret)
	signedHTTP := oauthCfg.Client(context.Background(), oauthTok)

	user := retryablehttp.NewClient()
	user.Logger = nil
	user.RetryMax = 3
	user.RetryWaitMin = 500 * time.Millisecond
	user.RetryWaitMax = 2 * time.Second
	user.CheckRetry = checkRetry
	user.Backoff = backoffWithJitter
	user.HTTPClient = signedHTTP

	return &Client{
		BaseURL:     baseURL,
		Registry:    NewRateLimitRegistry(),
		bearerToken: creds.BearerToken,
		bearerHTTP:  bearer,
		userHTTP:    user,
		log:         logctx.New("xapi"),
	}
}

// checkRetry retries only on network errors and 5xx. 429 and other 4xx
// are returned as-is so Call can apply spec.md's distinct handling.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return true, nil
	}
	if resp.StatusCode >= 500 {
		return true, nil
	}
	return false, nil
}

// backoffWithJitter implements the 0.5s -> 1s -> 2s exponential backoff
// with ±20% jitter from spec.md §4.2.
func backoffWithJitter(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
	base := min * time.Duration(1<<uint(attemptNum))
	if base > max {
		base = max
	}
	jitter := 1 + (rand.Float64()*0.4 - 0.2) // [0.8, 1.2)
	d := time.Duration(float64(base) * jitter)
	if d > max+max/5 {
		d = max + max/5
	}
	return d
}

// Call executes an HTTP request against endpoint using the given
// credential class, captures rate-limit headers on every response, and
// applies the 429/5xx/4xx handling from spec.md §4.2. On success the
// response body is JSON-decoded into out (if non-nil).
func (c *Client) Call(ctx context.Context, cred Credential, endpoint, method, url string, body io.Reader, out any) error {
	if err := c.Registry.MaybeSleep(ctx, endpoint, 2); err != nil {
		return err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("xapi: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := c.bearerHTTP
	if cred == Bearer {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	} else {
		client = c.userHTTP
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", xerr.ErrTransientNetwork, err)
	}
	defer resp.Body.Close()

	if err := c.checkResponse(ctx, endpoint, resp); err != nil {
		return err
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("xapi: decode %s response: %w", endpoint, err)
		}
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return nil
}

// checkResponse captures rate-limit headers and applies the 429/4xx
// handling shared by Call and callMultipart. On return with a nil error,
// resp.Body is still open and unread.
func (c *Client) checkResponse(ctx context.Context, endpoint string, resp *http.Response) error {
	c.Registry.Capture(endpoint, resp.Header)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		info, _ := c.Registry.Info(endpoint)
		rerr := &xerr.RateLimitedError{Endpoint: endpoint, ResetAt: info.ResetUnix}
		if slErr := c.Registry.sleepUntilResetPlus5(ctx, info.ResetUnix); slErr != nil {
			return slErr
		}
		return rerr
	case resp.StatusCode >= 400:
		b, _ := io.ReadAll(resp.Body)
		return &xerr.ClientStatusError{Endpoint: endpoint, Status: resp.StatusCode, Body: string(b)}
	}
	return nil
}

// callMultipart is Call's counterpart for multipart/form-data bodies
// (media upload), always signed with the user-context credential.
func (c *Client) callMultipart(ctx context.Context, endpoint, url, contentType string, body []byte, out any) error {
	if err := c.Registry.MaybeSleep(ctx, endpoint, 2); err != nil {
		return err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return fmt.Errorf("xapi: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.userHTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", xerr.ErrTransientNetwork, err)
	}
	defer resp.Body.Close()

	if err := c.checkResponse(ctx, endpoint, resp); err != nil {
		return err
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// RawBytes performs a GET against url with no credential attached and
// returns the raw response body. Used for profile-image downloads, which
// are unauthenticated CDN fetches.
func (c *Client) RawBytes(ctx context.Context, url string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.bearerHTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerr.ErrTransientNetwork, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, &xerr.ClientStatusError{Endpoint: url, Status: resp.StatusCode}
	}
	return io.ReadAll(resp.Body)
}
