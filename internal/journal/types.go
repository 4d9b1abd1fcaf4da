package journal

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("journal disabled")

const (
	DriverNone   = "none"
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

// Config configures the journal. An empty Driver or "none" disables it.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Record is one notification attempt.
type Record struct {
	At    time.Time `json:"at"`
	Rule  string    `json:"rule"`
	AppID string    `json:"app_id"`
	Title string    `json:"title,omitempty"`
	Body  string    `json:"body,omitempty"`
	OK    bool      `json:"ok"`
	Error string    `json:"error,omitempty"`
}

type Store interface {
	Append(ctx context.Context, r Record) error
	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]Record, error)
	Close() error
}
