// Package remote implements store.Store against a document server over HTTP,
// with realtime subscriptions on a websocket.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/syntrixbase/bizdata/internal/netstatus"
	"github.com/syntrixbase/bizdata/internal/store"
	"github.com/syntrixbase/bizdata/pkg/model"
)

type Options struct {
	BaseURL string
	// RealtimeURL defaults to BaseURL with a ws scheme and /realtime/ws path.
	RealtimeURL string
	Token       string
	// ClientID is sent with realtime connections so the server can tell
	// sessions apart in its logs.
	ClientID   string
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	Logger     *slog.Logger

	now func() time.Time
}

// Client talks to the document server.
type Client struct {
	baseURL     string
	realtimeURL string
	clientID    string
	httpClient  *http.Client
	dialer      *websocket.Dialer
	logger      *slog.Logger
	now         func() time.Time

	tokenMu sync.RWMutex
	token   string

	offline atomic.Bool
	subsMu  sync.Mutex
	subs    map[*subscription]struct{}
}

var _ store.Store = (*Client)(nil)

// New creates a client.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("baseURL is required")
	}
	baseURL := strings.TrimSuffix(opts.BaseURL, "/")
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid URL scheme: %s (must be http or https)", u.Scheme)
	}

	realtimeURL := opts.RealtimeURL
	if realtimeURL == "" {
		realtimeURL = "ws" + strings.TrimPrefix(baseURL, "http") + "/realtime/ws"
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.now
	if now == nil {
		now = time.Now
	}

	return &Client{
		baseURL:     baseURL,
		realtimeURL: realtimeURL,
		clientID:    opts.ClientID,
		httpClient:  httpClient,
		dialer:      dialer,
		logger:      logger.With("component", "remote-store"),
		now:         now,
		token:       opts.Token,
		subs:        make(map[*subscription]struct{}),
	}, nil
}

// SetToken replaces the bearer token used by later requests.
func (c *Client) SetToken(token string) {
	c.tokenMu.Lock()
	c.token = token
	c.tokenMu.Unlock()
}

func (c *Client) bearer() (string, error) {
	c.tokenMu.RLock()
	token := c.token
	c.tokenMu.RUnlock()
	if err := checkToken(token, c.now()); err != nil {
		return "", err
	}
	return token, nil
}

func (c *Client) documentURL(collectionPath, id string) string {
	return fmt.Sprintf("%s/api/v1/%s/%s", c.baseURL, collectionPath, url.PathEscape(id))
}

type queryResponse struct {
	Documents []model.Document `json:"documents"`
}

func (c *Client) GetDocuments(ctx context.Context, collectionPath string, q model.Query) ([]model.Document, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	q.Collection = collectionPath

	var result queryResponse
	if err := c.doRequest(ctx, "get", http.MethodPost, c.baseURL+"/api/v1/query", q, &result); err != nil {
		return nil, err
	}
	if result.Documents == nil {
		result.Documents = []model.Document{}
	}
	return result.Documents, nil
}

type writeRequest struct {
	Doc model.Document `json:"doc"`
}

func (c *Client) SetDocument(ctx context.Context, collectionPath, id string, data model.Document) error {
	if !model.CheckDocumentID(id) {
		return fmt.Errorf("%w: invalid id %q", model.ErrInvalidQuery, id)
	}
	doc := data.Clone()
	if doc == nil {
		doc = model.Document{}
	}
	model.StripProtectedFields(doc)
	doc.SetID(id)
	return c.doRequest(ctx, "set", http.MethodPut, c.documentURL(collectionPath, id), writeRequest{Doc: doc}, nil)
}

func (c *Client) UpdateDocument(ctx context.Context, collectionPath, id string, data model.Document) error {
	doc := data.Clone()
	if doc == nil {
		doc = model.Document{}
	}
	model.StripProtectedFields(doc)
	delete(doc, "id")
	return c.doRequest(ctx, "update", http.MethodPatch, c.documentURL(collectionPath, id), writeRequest{Doc: doc}, nil)
}

// DeleteDocument removes a document. Deleting a missing document succeeds.
func (c *Client) DeleteDocument(ctx context.Context, collectionPath, id string) error {
	err := c.doRequest(ctx, "delete", http.MethodDelete, c.documentURL(collectionPath, id), nil, nil)
	if errors.Is(err, model.ErrNotFound) {
		return nil
	}
	return err
}

// EnableNetwork checks the server's health endpoint before resuming.
func (c *Client) EnableNetwork(ctx context.Context) error {
	c.offline.Store(false)
	if err := c.doRequest(ctx, "enable network", http.MethodGet, c.baseURL+"/health", nil, nil); err != nil {
		c.offline.Store(true)
		return err
	}
	return nil
}

// DisableNetwork fails every call as unavailable and drops realtime
// connections until EnableNetwork succeeds.
func (c *Client) DisableNetwork(ctx context.Context) error {
	c.offline.Store(true)
	for _, sub := range c.liveSubscriptions() {
		sub.fail(netstatus.Unavailable("subscribe"))
	}
	return nil
}

func (c *Client) Close(ctx context.Context) error {
	for _, sub := range c.liveSubscriptions() {
		sub.close()
	}
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) liveSubscriptions() []*subscription {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	out := make([]*subscription, 0, len(c.subs))
	for sub := range c.subs {
		out = append(out, sub)
	}
	return out
}

// doRequest performs an HTTP request with the given method, URL, and body.
func (c *Client) doRequest(ctx context.Context, op, method, urlStr string, body interface{}, result interface{}) error {
	if c.offline.Load() {
		return netstatus.Unavailable(op)
	}
	token, err := c.bearer()
	if err != nil {
		return err
	}

	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, urlStr, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(ctx, op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportError(ctx, op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(op, resp, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w, body: %s", err, string(respBody))
		}
	}
	return nil
}
