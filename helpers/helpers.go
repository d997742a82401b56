package helpers

import (
	"context"
	"time"

	"github.com/jpillora/backoff"
)

// NewBackoff returns an exponential backoff with jitter between min and max.
func NewBackoff(min, max time.Duration) *backoff.Backoff {
	return &backoff.Backoff{
		Min:    min,
		Max:    max,
		Factor: 2,
		Jitter: true,
	}
}

// Sleep waits for d or until ctx is done. Returns false if ctx is done.
func Sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
