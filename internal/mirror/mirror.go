package mirror

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/syntrixbase/bizdata/pkg/model"
)

// ErrCorrupt is returned when a stored value cannot be decoded.
var ErrCorrupt = errors.New("mirror: corrupt entry")

// PendingTag marks writes waiting to be replayed against the remote store.
const PendingTag = "pending-sync"

// Action is the kind of mutation.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// PendingWrite is a local mutation the remote store has not confirmed.
type PendingWrite struct {
	Seq      int64          `json:"seq"`
	Action   Action         `json:"action"`
	ID       string         `json:"id"`
	Data     model.Document `json:"data,omitempty"`
	Tag      string         `json:"tag"`
	QueuedAt int64          `json:"queuedAt"`
}

// Options configures a mirror.
type Options struct {
	Logger *slog.Logger

	now func() time.Time
}

// Mirror is the local copy of one entity collection.
type Mirror struct {
	kv     KV
	entity string
	logger *slog.Logger
	now    func() time.Time
	mu     sync.Mutex
}

// New creates a mirror of entity over kv.
func New(kv KV, entity string, opts Options) *Mirror {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.now
	if now == nil {
		now = time.Now
	}
	return &Mirror{
		kv:     kv,
		entity: entity,
		logger: logger.With("component", "mirror", "entity", entity),
		now:    now,
	}
}

func (m *Mirror) Entity() string        { return m.entity }
func (m *Mirror) DataKey() string       { return m.entity + "_data" }
func (m *Mirror) LastUpdateKey() string { return m.entity + "_last_update" }
func (m *Mirror) PendingKey() string    { return m.entity + "_pending" }

// Load returns the mirrored documents. ok is false when nothing was ever
// mirrored.
func (m *Mirror) Load() (docs []model.Document, ok bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load()
}

func (m *Mirror) load() ([]model.Document, bool, error) {
	raw, ok, err := m.kv.Get(m.DataKey())
	if err != nil || !ok {
		return nil, false, err
	}
	var docs []model.Document
	if err := json.Unmarshal([]byte(raw), &docs); err != nil {
		return nil, false, fmt.Errorf("%w: %s: %v", ErrCorrupt, m.DataKey(), err)
	}
	return docs, true, nil
}

// Save replaces the mirrored documents and stamps the update time.
func (m *Mirror) Save(docs []model.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.save(docs)
}

func (m *Mirror) save(docs []model.Document) error {
	if docs == nil {
		docs = []model.Document{}
	}
	raw, err := json.Marshal(docs)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", m.DataKey(), err)
	}
	if err := m.kv.Set(m.DataKey(), string(raw)); err != nil {
		return err
	}
	return m.kv.Set(m.LastUpdateKey(), strconv.FormatInt(m.now().UnixMilli(), 10))
}

// Apply mirrors one mutation. A corrupt data entry is replaced.
func (m *Mirror) Apply(action Action, id string, data model.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	docs, _, err := m.load()
	if errors.Is(err, ErrCorrupt) {
		m.logger.Warn("discarding corrupt mirror entry", "error", err)
	} else if err != nil {
		return err
	}
	return m.save(ApplyTo(docs, action, id, data))
}

// LastUpdate returns when the mirror was last written.
func (m *Mirror) LastUpdate() (time.Time, bool, error) {
	raw, ok, err := m.kv.Get(m.LastUpdateKey())
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: %s: %v", ErrCorrupt, m.LastUpdateKey(), err)
	}
	return time.UnixMilli(ms), true, nil
}

// Pending returns queued writes in queue order.
func (m *Mirror) Pending() ([]PendingWrite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending()
}

func (m *Mirror) pending() ([]PendingWrite, error) {
	raw, ok, err := m.kv.Get(m.PendingKey())
	if err != nil || !ok {
		return nil, err
	}
	var out []PendingWrite
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, m.PendingKey(), err)
	}
	return out, nil
}

func (m *Mirror) savePending(list []PendingWrite) error {
	if len(list) == 0 {
		return m.kv.Delete(m.PendingKey())
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", m.PendingKey(), err)
	}
	return m.kv.Set(m.PendingKey(), string(raw))
}

// Enqueue appends a write to the pending queue and returns it as stored.
func (m *Mirror) Enqueue(action Action, id string, data model.Document) (PendingWrite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	list, err := m.pending()
	if err != nil {
		return PendingWrite{}, err
	}
	var seq int64 = 1
	if n := len(list); n > 0 {
		seq = list[n-1].Seq + 1
	}
	w := PendingWrite{
		Seq:      seq,
		Action:   action,
		ID:       id,
		Data:     data.Clone(),
		Tag:      PendingTag,
		QueuedAt: m.now().UnixMilli(),
	}
	if err := m.savePending(append(list, w)); err != nil {
		return PendingWrite{}, err
	}
	return w, nil
}

// Dequeue removes the write with the given sequence number.
func (m *Mirror) Dequeue(seq int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	list, err := m.pending()
	if err != nil {
		return err
	}
	out := list[:0]
	for _, w := range list {
		if w.Seq != seq {
			out = append(out, w)
		}
	}
	return m.savePending(out)
}

// ApplyTo returns docs with one mutation applied. Creating an existing id
// replaces it; updating a missing id inserts it.
func ApplyTo(docs []model.Document, action Action, id string, data model.Document) []model.Document {
	out := make([]model.Document, 0, len(docs)+1)
	found := false
	for _, d := range docs {
		if d.GetID() != id {
			out = append(out, d)
			continue
		}
		found = true
		switch action {
		case ActionCreate:
			out = append(out, withID(data, id))
		case ActionUpdate:
			out = append(out, withID(d.Merge(data), id))
		case ActionDelete:
		}
	}
	if !found && action != ActionDelete {
		out = append(out, withID(data, id))
	}
	return out
}

// Overlay applies pending writes on top of docs in queue order.
func Overlay(docs []model.Document, pending []PendingWrite) []model.Document {
	out := docs
	for _, w := range pending {
		out = ApplyTo(out, w.Action, w.ID, w.Data)
	}
	return out
}

func withID(data model.Document, id string) model.Document {
	d := data.Clone()
	if d == nil {
		d = model.Document{}
	}
	d.SetID(id)
	return d
}
