package notifier

import (
	"context"
	"fmt"
	"math"

	"github.com/godbus/dbus/v5"
)

const (
	dbusDest   = "org.freedesktop.Notifications"
	dbusPath   = dbus.ObjectPath("/org/freedesktop/Notifications")
	dbusNotify = "org.freedesktop.Notifications.Notify"
)

// DBusBackend talks to the freedesktop notification daemon on the session bus.
//
// A private connection is opened per notification and closed right after,
// so no bus handle outlives a call.
type DBusBackend struct {
	connect func(ctx context.Context) (*dbus.Conn, error)
}

func NewDBusBackend() *DBusBackend {
	return &DBusBackend{connect: func(ctx context.Context) (*dbus.Conn, error) {
		return dbus.ConnectSessionBus(dbus.WithContext(ctx))
	}}
}

func (b *DBusBackend) Name() string { return DriverDBus }

func (b *DBusBackend) Show(ctx context.Context, n Notification) (uint32, error) {
	conn, err := b.connect(ctx)
	if err != nil {
		return 0, fmt.Errorf("connect session bus: %w", err)
	}
	defer conn.Close()

	call := conn.Object(dbusDest, dbusPath).CallWithContext(ctx, dbusNotify, 0, notifyArgs(n)...)
	if call.Err != nil {
		return 0, fmt.Errorf("%s: %w", dbusNotify, call.Err)
	}
	var id uint32
	if err := call.Store(&id); err != nil {
		return 0, fmt.Errorf("%s reply: %w", dbusNotify, err)
	}
	return id, nil
}

// notifyArgs builds the Notify argument list:
// app_name, replaces_id, app_icon, summary, body, actions, hints, expire_timeout.
func notifyArgs(n Notification) []any {
	expire := int32(-1)
	if n.Expire > 0 {
		expire = int32(min(n.Expire.Milliseconds(), math.MaxInt32))
	}
	return []any{
		n.AppName,
		uint32(0),
		n.Icon,
		n.Title,
		n.Body,
		[]string{},
		map[string]dbus.Variant{},
		expire,
	}
}
