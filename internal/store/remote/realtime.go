package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/schema"
	"github.com/gorilla/websocket"

	"github.com/syntrixbase/bizdata/internal/netstatus"
	"github.com/syntrixbase/bizdata/internal/store"
	"github.com/syntrixbase/bizdata/pkg/model"
)

// Message types
const (
	TypeAuth           = "auth"
	TypeAuthAck        = "auth_ack"
	TypeSubscribe      = "subscribe"
	TypeSubscribeAck   = "subscribe_ack"
	TypeUnsubscribe    = "unsubscribe"
	TypeUnsubscribeAck = "unsubscribe_ack"
	TypeEvent          = "event"
	TypeSnapshot       = "snapshot"
	TypeError          = "error"
)

const handshakeTimeout = 10 * time.Second

// BaseMessage is the envelope for all messages
type BaseMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type AuthPayload struct {
	Token string `json:"token"`
}

type SubscribePayload struct {
	Query        model.Query `json:"query"`
	IncludeData  bool        `json:"includeData"`
	SendSnapshot bool        `json:"sendSnapshot"`
}

type UnsubscribePayload struct {
	ID string `json:"id"`
}

// EventPayload (Server -> Client)
type EventPayload struct {
	SubID string      `json:"subId"`
	Delta PublicEvent `json:"delta"`
}

type PublicEvent struct {
	Type      string         `json:"type"`
	Document  model.Document `json:"document,omitempty"`
	ID        string         `json:"id"`
	Timestamp int64          `json:"timestamp"`
}

// SnapshotPayload (Server -> Client)
type SnapshotPayload struct {
	SubID     string           `json:"subId"`
	Documents []model.Document `json:"documents"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// streamParams go on the websocket URL.
type streamParams struct {
	Collection string `schema:"collection"`
	Client     string `schema:"client,omitempty"`
}

var paramEncoder = schema.NewEncoder()

func mustMarshal(v interface{}) json.RawMessage {
	raw, _ := json.Marshal(v)
	return raw
}

// remoteError turns a server error payload into a classified error.
func remoteError(p ErrorPayload) error {
	msg := p.Code + ": " + p.Message
	switch strings.ToLower(p.Code) {
	case "permission_denied", "unauthorized", "forbidden":
		return fmt.Errorf("%w: %s", model.ErrPermissionDenied, msg)
	case "unavailable":
		return &netstatus.NetworkError{Op: "subscribe", Kind: "unavailable", Err: errors.New(msg)}
	case "bad_request", "invalid_query":
		return fmt.Errorf("%w: %s", model.ErrInvalidQuery, msg)
	}
	return errors.New(msg)
}

type subscription struct {
	client  *Client
	id      string
	path    string
	query   model.Query
	conn    *websocket.Conn
	onNext  func([]model.Document)
	onError func(error)

	ctx     context.Context
	cancel  context.CancelFunc
	closed  atomic.Bool
	writeMu sync.Mutex
}

// Subscribe opens a websocket, authenticates and subscribes. Snapshots are
// delivered as they arrive; an incremental event triggers a fresh query so
// every delivery is the full result.
func (c *Client) Subscribe(ctx context.Context, collectionPath string, q model.Query, onNext func([]model.Document), onError func(error)) (store.Unsubscribe, error) {
	if c.offline.Load() {
		return nil, netstatus.Unavailable("subscribe")
	}
	token, err := c.bearer()
	if err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	q.Collection = collectionPath

	params := url.Values{}
	if err := paramEncoder.Encode(streamParams{Collection: collectionPath, Client: c.clientID}, params); err != nil {
		return nil, fmt.Errorf("failed to encode stream params: %w", err)
	}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.realtimeURL+"?"+params.Encode(), header)
	if err != nil {
		if resp != nil && resp.StatusCode >= 300 {
			return nil, statusError("subscribe", resp, nil)
		}
		return nil, transportError(ctx, "subscribe", err)
	}

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &subscription{
		client:  c,
		id:      uuid.NewString(),
		path:    collectionPath,
		query:   q,
		conn:    conn,
		onNext:  onNext,
		onError: onError,
		ctx:     subCtx,
		cancel:  cancel,
	}

	pending, err := sub.handshake(ctx, token)
	if err != nil {
		cancel()
		conn.Close()
		return nil, err
	}

	c.subsMu.Lock()
	c.subs[sub] = struct{}{}
	c.subsMu.Unlock()

	go sub.run(pending)
	return sub.close, nil
}

// handshake authenticates and subscribes. Snapshots that arrive before the
// acknowledgement are returned so run can deliver them first.
func (s *subscription) handshake(ctx context.Context, token string) ([]BaseMessage, error) {
	deadline := time.Now().Add(handshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = s.conn.SetReadDeadline(deadline)
	defer s.conn.SetReadDeadline(time.Time{})

	if token != "" {
		if err := s.write(BaseMessage{ID: "auth-" + s.id, Type: TypeAuth, Payload: mustMarshal(AuthPayload{Token: token})}); err != nil {
			return nil, transportError(ctx, "subscribe", err)
		}
		if _, err := s.await(ctx, TypeAuthAck); err != nil {
			return nil, err
		}
	}

	payload := SubscribePayload{Query: s.query, IncludeData: true, SendSnapshot: true}
	if err := s.write(BaseMessage{ID: s.id, Type: TypeSubscribe, Payload: mustMarshal(payload)}); err != nil {
		return nil, transportError(ctx, "subscribe", err)
	}
	return s.await(ctx, TypeSubscribeAck)
}

func (s *subscription) await(ctx context.Context, want string) ([]BaseMessage, error) {
	var early []BaseMessage
	for {
		var msg BaseMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			return nil, transportError(ctx, "subscribe", err)
		}
		switch msg.Type {
		case want:
			return early, nil
		case TypeError:
			var p ErrorPayload
			_ = json.Unmarshal(msg.Payload, &p)
			return nil, remoteError(p)
		case TypeSnapshot, TypeEvent:
			early = append(early, msg)
		}
	}
}

func (s *subscription) write(msg BaseMessage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(msg)
}

func (s *subscription) run(pending []BaseMessage) {
	for _, msg := range pending {
		s.handle(msg)
	}
	for {
		var msg BaseMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			s.fail(&netstatus.NetworkError{Op: "subscribe", Kind: "unavailable", Err: err})
			return
		}
		s.handle(msg)
	}
}

func (s *subscription) handle(msg BaseMessage) {
	if s.closed.Load() {
		return
	}
	switch msg.Type {
	case TypeSnapshot:
		var p SnapshotPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			s.client.logger.Warn("Dropping malformed snapshot", "path", s.path, "error", err)
			return
		}
		if p.Documents == nil {
			p.Documents = []model.Document{}
		}
		s.onNext(p.Documents)

	case TypeEvent:
		docs, err := s.client.GetDocuments(s.ctx, s.path, s.query)
		if s.closed.Load() {
			return
		}
		if err != nil {
			s.onError(err)
			return
		}
		s.onNext(docs)

	case TypeError:
		var p ErrorPayload
		_ = json.Unmarshal(msg.Payload, &p)
		s.onError(remoteError(p))
	}
}

// fail reports err once and tears the connection down.
func (s *subscription) fail(err error) {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.teardown()
	s.onError(err)
}

func (s *subscription) close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.writeMu.Lock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = s.conn.WriteJSON(BaseMessage{Type: TypeUnsubscribe, Payload: mustMarshal(UnsubscribePayload{ID: s.id})})
	s.writeMu.Unlock()
	s.teardown()
}

func (s *subscription) teardown() {
	s.cancel()
	s.conn.Close()
	s.client.subsMu.Lock()
	delete(s.client.subs, s)
	s.client.subsMu.Unlock()
}
