package ai

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// throttle enforces a minimum interval between calls to one provider.
type throttle struct {
	limiter *rate.Limiter
}

func newThrottle(interval time.Duration) *throttle {
	if interval <= 0 {
		return &throttle{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &throttle{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

func (t *throttle) wait(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}
