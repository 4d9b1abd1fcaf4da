// Package notifier raises local desktop notifications.
//
// Service is the sink the stream loop hands resolved requests to. Delivery is
// synchronous and happens exactly once per request: there is no queue, no
// retry and no rate limit. A failed delivery is returned to the caller, which
// logs it and moves on.
//
// # Backends
//
// The actual side effect is delegated to a Backend:
//   - "dbus": org.freedesktop.Notifications on the session bus
//   - "log": writes the notification as a log line (headless hosts)
//   - "none": notifications are dropped
//
// # History
//
// For debugging and operator visibility, the service keeps a small in-memory
// history of recently raised notifications.
package notifier
