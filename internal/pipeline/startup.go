package pipeline

import (
	"context"
	"fmt"

	"crybb-mentions-bot/internal/xerr"
)

// HeadChecker performs an HTTP HEAD validation. Satisfied by
// *xapi.Client.HeadCheck.
type HeadChecker interface {
	HeadCheck(ctx context.Context, url string) error
}

// ValidateStyleURL is run once at startup (spec.md §4.8 step 5) before
// the scheduler begins polling. A failure here is fatal for the
// process, since the style URL never varies at runtime.
func ValidateStyleURL(ctx context.Context, checker HeadChecker, styleURL string) error {
	if err := checker.HeadCheck(ctx, styleURL); err != nil {
		return fmt.Errorf("%w: %v", xerr.ErrBadStyleURL, err)
	}
	return nil
}
