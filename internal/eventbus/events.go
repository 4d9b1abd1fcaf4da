package eventbus

// Event types published by the push pipeline.
const (
	StreamConnected     = "stream.connected"
	StreamConnectFailed = "stream.connect_failed"
	StreamTerminated    = "stream.terminated"

	EnvelopeRejected = "envelope.rejected"

	NotificationShown  = "notification.shown"
	NotificationFailed = "notification.failed"
)

// Matches reports whether e.Type is one of types. An empty list matches all.
func Matches(e Event, types ...string) bool {
	if len(types) == 0 {
		return true
	}
	for _, t := range types {
		if e.Type == t {
			return true
		}
	}
	return false
}
