// Package memory is an in-process pubsub.Broker. Delivery is synchronous:
// Publish returns after every matching handler has run.
package memory

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/syntrixbase/bizdata/internal/pubsub"
)

type subscription struct {
	id      uint64
	pattern string
	handler pubsub.Handler
}

// Broker routes messages between handlers in the same process.
type Broker struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscription
	nextID uint64
	closed atomic.Bool
	logger *slog.Logger
}

var _ pubsub.Broker = (*Broker)(nil)

func New(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		subs:   make(map[uint64]*subscription),
		logger: logger.With("component", "pubsub-memory"),
	}
}

// Publish delivers to matching handlers in subscription order. A panicking
// handler is logged and does not stop delivery to the others.
func (b *Broker) Publish(ctx context.Context, subject string, data []byte) error {
	if b.closed.Load() {
		return pubsub.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkSubject(subject, false); err != nil {
		return err
	}

	b.mu.RLock()
	matched := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if matchSubject(sub.pattern, subject) {
			matched = append(matched, sub)
		}
	}
	b.mu.RUnlock()
	sort.Slice(matched, func(i, j int) bool { return matched[i].id < matched[j].id })

	msg := pubsub.Message{Subject: subject, Data: data, Timestamp: time.Now()}
	for _, sub := range matched {
		b.deliver(sub, msg)
	}
	return nil
}

func (b *Broker) deliver(sub *subscription, msg pubsub.Message) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Handler panicked", "pattern", sub.pattern, "subject", msg.Subject, "panic", r)
		}
	}()
	sub.handler(msg)
}

func (b *Broker) Subscribe(pattern string, handler pubsub.Handler) (pubsub.Subscription, error) {
	if b.closed.Load() {
		return nil, pubsub.ErrClosed
	}
	if err := checkSubject(pattern, true); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs[id] = &subscription{id: id, pattern: pattern, handler: handler}

	var once sync.Once
	return pubsub.SubscriptionFunc(func() error {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
		return nil
	}), nil
}

// Subscribers returns the number of live subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Broker) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	b.mu.Lock()
	b.subs = make(map[uint64]*subscription)
	b.mu.Unlock()
	return nil
}
