package pipeline

import "context"

// BytesFetcher fetches raw bytes from a URL. Satisfied by
// *xapi.Client.RawBytes.
type BytesFetcher interface {
	RawBytes(ctx context.Context, url string) ([]byte, error)
}

// PlaceholderTransformer is the IMAGE_PIPELINE=placeholder path:
// fetch the target's own profile image and return it unmodified, with
// no external transform call at all. Grounded on
// original_source/src/pipeline/orchestrator.py's render_placeholder_bytes,
// minus the PIL contrast/saturation touch-up (the static placeholder
// image renderer is an external collaborator per spec.md §1).
type PlaceholderTransformer struct {
	Fetcher BytesFetcher
}

// Transform ignores styleURL entirely and returns targetURL's bytes.
func (t *PlaceholderTransformer) Transform(ctx context.Context, styleURL, targetURL string) ([]byte, error) {
	return t.Fetcher.RawBytes(ctx, targetURL)
}
