package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"crybb-mentions-bot/internal/xerr"
)

// Transformer produces a single rendered image from a style URL and a
// target profile-image URL, per spec.md §4.8 step 5 / §6's
// image-transform service contract.
type Transformer interface {
	Transform(ctx context.Context, styleURL, targetURL string) ([]byte, error)
}

// AITransformer talks to the external image-transformation service: an
// HTTP POST with an ordered input_images array returning a job id to
// poll, or an immediate image URL. Grounded on
// original_source/src/ai/nano_banana_client.py's submit/poll/download
// loop, generalized to the service-agnostic contract in spec.md §6.
type AITransformer struct {
	URL            string
	Token          string
	Prompt         string
	MaxAttempts    int
	Timeout        time.Duration
	PollInterval   time.Duration
	httpClient     *retryablehttp.Client
}

// NewAITransformer builds an AITransformer using a retrying HTTP client
// in the same style as internal/xapi's credential clients.
func NewAITransformer(url, token, prompt string, maxAttempts int, timeout, pollInterval time.Duration) *AITransformer {
	c := retryablehttp.NewClient()
	c.Logger = nil
	c.RetryMax = 3
	return &AITransformer{
		URL: url, Token: token, Prompt: prompt,
		MaxAttempts: maxAttempts, Timeout: timeout, PollInterval: pollInterval,
		httpClient: c,
	}
}

type jobCreated struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Output any    `json:"output"`
}

// Transform runs the submit/poll/download loop, making up to MaxAttempts
// attempts in total; any failed attempt (network error, service error,
// failed job or timeout) is retried, per spec.md §4.8 step 5.
func (t *AITransformer) Transform(ctx context.Context, styleURL, targetURL string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < t.MaxAttempts; attempt++ {
		img, err := t.attempt(ctx, styleURL, targetURL)
		if err == nil {
			return img, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", xerr.ErrTransformFailure, lastErr)
}

func (t *AITransformer) attempt(ctx context.Context, styleURL, targetURL string) ([]byte, error) {
	job, err := t.submit(ctx, styleURL, targetURL)
	if err != nil {
		return nil, err
	}

	if outputURL, ok := immediateOutput(job); ok {
		return t.download(ctx, outputURL)
	}

	deadline := time.Now().Add(t.Timeout)
	for {
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("transform job %s timed out after %s", job.ID, t.Timeout)
		}
		status, err := t.poll(ctx, job.ID)
		if err != nil {
			return nil, err
		}
		switch status.Status {
		case "succeeded":
			outputURL, ok := immediateOutput(status)
			if !ok {
				return nil, fmt.Errorf("transform job %s succeeded with no output", job.ID)
			}
			return t.download(ctx, outputURL)
		case "failed", "canceled":
			return nil, fmt.Errorf("transform job %s %s", job.ID, status.Status)
		}

		timer := time.NewTimer(t.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func immediateOutput(job jobCreated) (string, bool) {
	switch v := job.Output.(type) {
	case string:
		if v != "" {
			return v, true
		}
	case []any:
		if len(v) > 0 {
			if s, ok := v[0].(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}

func (t *AITransformer) submit(ctx context.Context, styleURL, targetURL string) (jobCreated, error) {
	payload, _ := json.Marshal(map[string]any{
		"input_images": []string{styleURL, targetURL},
		"prompt":       t.Prompt,
	})
	var out jobCreated
	err := t.do(ctx, http.MethodPost, t.URL, payload, &out)
	return out, err
}

func (t *AITransformer) poll(ctx context.Context, jobID string) (jobCreated, error) {
	var out jobCreated
	err := t.do(ctx, http.MethodGet, t.URL+"/"+jobID, nil, &out)
	return out, err
}

func (t *AITransformer) do(ctx context.Context, method, url string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Token "+t.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", xerr.ErrTransientNetwork, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("transform service error %d: %s", resp.StatusCode, string(b))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (t *AITransformer) download(ctx context.Context, url string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerr.ErrTransientNetwork, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download output: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
