package notifier

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimited spaces out sends to protect the downstream channel.
type RateLimited struct {
	next    TextNotifier
	limiter *rate.Limiter
}

// NewRateLimited allows perMinute sends per minute with a burst of the same size.
// perMinute <= 0 disables limiting.
func NewRateLimited(next TextNotifier, perMinute int) TextNotifier {
	if perMinute <= 0 {
		return next
	}
	every := time.Minute / time.Duration(perMinute)
	return &RateLimited{next: next, limiter: rate.NewLimiter(rate.Every(every), perMinute)}
}

func (r *RateLimited) SendText(ctx context.Context, text string) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	return r.next.SendText(ctx, text)
}
