package notify

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttled drops repeats of the same notification arriving faster than the
// configured interval. Each category+message+collection has its own limiter.
type Throttled struct {
	next     Notifier
	interval time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewThrottled wraps next. A non-positive interval disables throttling.
func NewThrottled(next Notifier, interval time.Duration) *Throttled {
	return &Throttled{
		next:     next,
		interval: interval,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (t *Throttled) Notify(ctx context.Context, n Notification) {
	if t.interval <= 0 || t.limiter(n).Allow() {
		t.next.Notify(ctx, n)
	}
}

func (t *Throttled) limiter(n Notification) *rate.Limiter {
	key := string(n.Category) + "\x00" + n.Collection + "\x00" + n.Message

	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Every(t.interval), 1)
		t.limiters[key] = l
	}
	return l
}
