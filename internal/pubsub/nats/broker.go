// Package nats carries change events over core NATS so several processes
// sharing a backend see each other's writes.
package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/syntrixbase/bizdata/internal/pubsub"
)

// natsConnection abstracts *nats.Conn for testing.
type natsConnection interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
	FlushWithContext(ctx context.Context) error
	Drain() error
	Close()
}

// natsConnectFunc is injectable for testing.
type natsConnectFunc func(url string, opts ...nats.Option) (natsConnection, error)

var defaultNatsConnect natsConnectFunc = func(url string, opts ...nats.Option) (natsConnection, error) {
	return nats.Connect(url, opts...)
}

// unsubscriber is satisfied by *nats.Subscription.
type unsubscriber interface {
	Unsubscribe() error
}

type Options struct {
	URL           string
	Name          string
	ReconnectWait time.Duration
	// FlushOnPublish waits for the server to acknowledge each publish.
	FlushOnPublish bool
	Logger         *slog.Logger
}

// Broker implements pubsub.Broker on a single NATS connection.
type Broker struct {
	opts   Options
	logger *slog.Logger

	mu     sync.Mutex
	nc     natsConnection
	subs   map[unsubscriber]struct{}
	closed bool

	natsConnect natsConnectFunc
}

var _ pubsub.Broker = (*Broker)(nil)

func New(opts Options) *Broker {
	if opts.Name == "" {
		opts.Name = "bizdata"
	}
	if opts.ReconnectWait <= 0 {
		opts.ReconnectWait = 2 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		opts:        opts,
		logger:      logger.With("component", "pubsub-nats"),
		subs:        make(map[unsubscriber]struct{}),
		natsConnect: defaultNatsConnect,
	}
}

// Connect dials the server. The client reconnects on its own afterwards.
func (b *Broker) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	connectFn := b.natsConnect
	if connectFn == nil {
		connectFn = defaultNatsConnect
	}

	nc, err := connectFn(b.opts.URL,
		nats.Name(b.opts.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(b.opts.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				b.logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			b.logger.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", b.opts.URL, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		nc.Close()
		return pubsub.ErrClosed
	}
	b.nc = nc
	b.logger.Info("Connected to NATS", "url", b.opts.URL)
	return nil
}

func (b *Broker) conn() (natsConnection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, pubsub.ErrClosed
	}
	if b.nc == nil {
		return nil, errors.New("NATS not connected")
	}
	return b.nc, nil
}

func (b *Broker) Publish(ctx context.Context, subject string, data []byte) error {
	nc, err := b.conn()
	if err != nil {
		return err
	}
	if err := nc.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	if b.opts.FlushOnPublish {
		return nc.FlushWithContext(ctx)
	}
	return nil
}

// Subscribe runs handler on the NATS client's delivery goroutine.
func (b *Broker) Subscribe(pattern string, handler pubsub.Handler) (pubsub.Subscription, error) {
	nc, err := b.conn()
	if err != nil {
		return nil, err
	}

	sub, err := nc.Subscribe(pattern, func(m *nats.Msg) {
		handler(pubsub.Message{Subject: m.Subject, Data: m.Data, Timestamp: time.Now()})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", pattern, err)
	}
	return b.track(sub), nil
}

func (b *Broker) track(sub unsubscriber) pubsub.Subscription {
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return pubsub.SubscriptionFunc(func() error {
		var err error
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, sub)
			b.mu.Unlock()
			err = sub.Unsubscribe()
		})
		return err
	})
}

// Close drains the connection so in-flight messages are handled.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	nc := b.nc
	b.nc = nil
	b.subs = make(map[unsubscriber]struct{})
	b.mu.Unlock()

	if nc == nil {
		return nil
	}
	if err := nc.Drain(); err != nil {
		b.logger.Warn("NATS drain failed", "error", err)
		nc.Close()
	}
	return nil
}
