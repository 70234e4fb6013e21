// Package pubsub defines the subject-based transport behind the change bus.
package pubsub

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("broker closed")

// ErrInvalidSubject is returned for malformed subjects and patterns.
var ErrInvalidSubject = errors.New("invalid subject")

// Message is one delivery on a subject.
type Message struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
}

// Handler receives messages for a subscription. Handlers must not block for
// long: the in-memory broker calls them on the publisher's goroutine.
type Handler func(msg Message)

// Subscription is returned by Subscribe.
type Subscription interface {
	Unsubscribe() error
}

// Broker publishes to subjects and delivers to subscribers whose pattern
// matches. Patterns use NATS wildcards: "*" matches one token and ">" matches
// one or more trailing tokens.
type Broker interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Subscribe(pattern string, handler Handler) (Subscription, error)
	Close() error
}

// SubscriptionFunc adapts a function to Subscription.
type SubscriptionFunc func() error

func (f SubscriptionFunc) Unsubscribe() error { return f() }
