// Package notify delivers user-facing notifications about data access.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/syntrixbase/bizdata/pkg/model"
)

// Level is the severity shown to the user.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Category groups notifications so a front-end can pick the wording.
type Category string

const (
	CategoryOffline      Category = "offline"
	CategoryReconnecting Category = "reconnecting"
	CategoryReconnected  Category = "reconnected"
	CategorySuspended    Category = "suspended"
	CategoryBadRequest   Category = "bad-request"
	CategoryGeneric      Category = "generic"
	CategoryPermission   Category = "permission"
	CategorySavedLocally Category = "saved-locally"
)

// Notification is one message for the user.
type Notification struct {
	Level      Level
	Category   Category
	Message    string
	Collection string
}

// Notifier receives notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// statusBadRequest matches a standalone 400 status, not 400ms or port 14000.
var statusBadRequest = regexp.MustCompile(`\b400\b`)

// CategorizeFetchError picks the warning category for a failed network fetch
// from the error chain and text.
func CategorizeFetchError(err error) Category {
	if err == nil {
		return CategoryGeneric
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "suspend"):
		return CategorySuspended
	case errors.Is(err, model.ErrInvalidQuery),
		strings.Contains(msg, "bad request"),
		statusBadRequest.MatchString(msg):
		return CategoryBadRequest
	default:
		return CategoryGeneric
	}
}

// FetchWarning builds the warning shown when a collection could not be read.
func FetchWarning(collection string, err error) Notification {
	cat := CategorizeFetchError(err)
	var msg string
	switch cat {
	case CategorySuspended:
		msg = "Le service de données est suspendu. Les données affichées peuvent être obsolètes."
	case CategoryBadRequest:
		msg = "Requête invalide vers le serveur. Réessayez plus tard."
	default:
		msg = "Problème de connexion. Les données seront rechargées automatiquement."
	}
	return Notification{Level: LevelWarning, Category: cat, Message: msg, Collection: collection}
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Notify(context.Context, Notification) {}

// LogNotifier writes notifications to a structured logger.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier logging through logger.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With("component", "notify")}
}

func (l *LogNotifier) Notify(ctx context.Context, n Notification) {
	level := slog.LevelInfo
	switch n.Level {
	case LevelWarning:
		level = slog.LevelWarn
	case LevelError:
		level = slog.LevelError
	}
	l.logger.Log(ctx, level, n.Message,
		"category", string(n.Category),
		"collection", n.Collection,
	)
}

// Recorder keeps every notification in memory.
type Recorder struct {
	mu    sync.Mutex
	items []Notification
}

func (r *Recorder) Notify(_ context.Context, n Notification) {
	r.mu.Lock()
	r.items = append(r.items, n)
	r.mu.Unlock()
}

// All returns a copy of the recorded notifications.
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.items...)
}

// Count returns how many notifications of category c were recorded.
func (r *Recorder) Count(c Category) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, item := range r.items {
		if item.Category == c {
			n++
		}
	}
	return n
}

// Levels returns how many notifications of level l were recorded.
func (r *Recorder) Levels(l Level) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, item := range r.items {
		if item.Level == l {
			n++
		}
	}
	return n
}

// Multi fans a notification out to several notifiers.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) {
	for _, target := range m {
		target.Notify(ctx, n)
	}
}
