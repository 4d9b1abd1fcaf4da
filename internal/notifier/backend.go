package notifier

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	logx "cub3dnotify/pkg/logx"
)

const (
	DriverDBus = "dbus"
	DriverLog  = "log"
	DriverNone = "none"
)

// OpenBackend returns the backend for driver. It returns (nil, nil) for
// "none". An empty driver selects dbus.
func OpenBackend(driver string, log logx.Logger) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverDBus:
		return NewDBusBackend(), nil
	case DriverLog:
		return NewLogBackend(log), nil
	case DriverNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %q", errNoBackend, driver)
	}
}

// LogBackend writes notifications to the log instead of the desktop.
type LogBackend struct {
	log logx.Logger
	seq atomic.Uint32
}

func NewLogBackend(log logx.Logger) *LogBackend {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LogBackend{log: log}
}

func (b *LogBackend) Name() string { return DriverLog }

func (b *LogBackend) Show(ctx context.Context, n Notification) (uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	id := b.seq.Add(1)
	b.log.Info("desktop notification",
		logx.String("app", n.AppName),
		logx.String("title", n.Title),
		logx.String("body", n.Body),
		logx.String("icon", n.Icon),
		logx.Uint64("id", uint64(id)),
	)
	return id, nil
}
