package notifier

import (
	"context"
	"time"
)

// Config controls how notifications are raised.
type Config struct {
	// AppName is the application label shown by the notification daemon.
	AppName string
	// Expire is the display timeout. 0 leaves it to the daemon.
	Expire time.Duration
	// HistorySize bounds the in-memory history.
	HistorySize int
}

const (
	DefaultAppName     = "CUB3D"
	DefaultHistorySize = 50
)

// Notification is what a backend renders.
type Notification struct {
	AppName string
	Title   string
	Body    string
	Icon    string
	Expire  time.Duration
}

// Backend performs the local side effect.
type Backend interface {
	Name() string
	// Show displays n and returns a backend-specific id.
	Show(ctx context.Context, n Notification) (uint32, error)
}

// HistoryItem is one delivery attempt kept for /status.
type HistoryItem struct {
	At     time.Time `json:"at"`
	Rule   string    `json:"rule"`
	AppID  string    `json:"app_id"`
	Title  string    `json:"title"`
	Body   string    `json:"body"`
	ID     uint32    `json:"id,omitempty"`
	Error  string    `json:"error,omitempty"`
	TookMS int64     `json:"took_ms"`
}

// NotificationEvent is emitted on the event bus after every delivery attempt.
// Keep it small; Data may be logged/serialized by subscribers.
type NotificationEvent struct {
	Backend string    `json:"backend"`
	Rule    string    `json:"rule"`
	AppID   string    `json:"app_id"`
	Title   string    `json:"title,omitempty"`
	Body    string    `json:"body,omitempty"`
	ID      uint32    `json:"id,omitempty"`
	At      time.Time `json:"at"`
	Error   string    `json:"error,omitempty"`
}
