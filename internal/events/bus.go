// Package events publishes entity change and connectivity notifications so
// views can refresh after writes made anywhere in the process (or, with the
// NATS broker, in sibling processes).
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/syntrixbase/bizdata/internal/pubsub"
	"github.com/syntrixbase/bizdata/pkg/model"
)

const DefaultPrefix = "bizdata"

var ErrInvalidEntity = errors.New("invalid entity name")

// Action names the mutation carried by a Change.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	// ActionSync is published after pending local writes were replayed.
	ActionSync Action = "sync"
)

type Change struct {
	Entity    string         `json:"entity"`
	Action    Action         `json:"action"`
	ID        string         `json:"id,omitempty"`
	Payload   model.Document `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

type Options struct {
	Prefix string
	Logger *slog.Logger
	now    func() time.Time
}

// Bus encodes typed events onto a pubsub.Broker.
type Bus struct {
	broker pubsub.Broker
	prefix string
	logger *slog.Logger
	now    func() time.Time
}

func New(broker pubsub.Broker, opts Options) *Bus {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.now == nil {
		opts.now = time.Now
	}
	return &Bus{
		broker: broker,
		prefix: opts.Prefix,
		logger: opts.Logger.With("component", "events"),
		now:    opts.now,
	}
}

// Subject returns the subject changes of entity are published on.
func (b *Bus) Subject(entity string) string {
	return b.prefix + "." + entity + "-updated"
}

func (b *Bus) statusSubject(s Status) string {
	return b.prefix + ".status." + string(s)
}

func validEntity(entity string) error {
	if entity == "" || strings.ContainsAny(entity, ".*> \t\r\n") {
		return fmt.Errorf("%w: %q", ErrInvalidEntity, entity)
	}
	return nil
}

// Publish stamps c and sends it on the entity subject.
func (b *Bus) Publish(ctx context.Context, c Change) error {
	if err := validEntity(c.Entity); err != nil {
		return err
	}
	if c.Timestamp.IsZero() {
		c.Timestamp = b.now()
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode change: %w", err)
	}
	return b.broker.Publish(ctx, b.Subject(c.Entity), data)
}

// PublishStatus announces a connectivity transition.
func (b *Bus) PublishStatus(ctx context.Context, s Status) error {
	return b.broker.Publish(ctx, b.statusSubject(s), []byte(s))
}

// Subscribe calls fn for every change of entity. The returned function
// removes the subscription and is safe to call more than once.
func (b *Bus) Subscribe(entity string, fn func(Change)) (func(), error) {
	if err := validEntity(entity); err != nil {
		return nil, err
	}
	return b.subscribe(b.Subject(entity), fn)
}

// SubscribeAll calls fn for changes of every entity.
func (b *Bus) SubscribeAll(fn func(Change)) (func(), error) {
	return b.subscribe(b.prefix+".*", fn)
}

func (b *Bus) subscribe(subject string, fn func(Change)) (func(), error) {
	sub, err := b.broker.Subscribe(subject, func(msg pubsub.Message) {
		var c Change
		if err := json.Unmarshal(msg.Data, &c); err != nil {
			b.logger.Warn("Dropping malformed change event", "subject", msg.Subject, "error", err)
			return
		}
		fn(c)
	})
	if err != nil {
		return nil, err
	}
	return b.dispose(sub), nil
}

// OnStatus calls fn for online and offline transitions.
func (b *Bus) OnStatus(fn func(Status)) (func(), error) {
	sub, err := b.broker.Subscribe(b.prefix+".status.*", func(msg pubsub.Message) {
		switch s := Status(msg.Data); s {
		case StatusOnline, StatusOffline:
			fn(s)
		default:
			b.logger.Warn("Dropping unknown status event", "subject", msg.Subject)
		}
	})
	if err != nil {
		return nil, err
	}
	return b.dispose(sub), nil
}

func (b *Bus) dispose(sub pubsub.Subscription) func() {
	return func() {
		if err := sub.Unsubscribe(); err != nil {
			b.logger.Warn("Unsubscribe failed", "error", err)
		}
	}
}

func (b *Bus) Close() error {
	return b.broker.Close()
}
