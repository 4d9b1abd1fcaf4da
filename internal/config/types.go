package config

// Config is the on-disk configuration (JSON or YAML).
//
// Every section is optional; zero values are replaced by defaults when the
// app maps them to runtime configs. Durations are Go duration strings.
type Config struct {
	Stream  StreamConfig  `json:"stream"`
	Notify  NotifyConfig  `json:"notify"`
	Logging LoggingConfig `json:"logging"`
	Journal JournalConfig `json:"journal"`
	Debug   DebugConfig   `json:"debug,omitempty"`
}

// StreamConfig points the agent at the push service.
//
// Example:
//
//	"stream": { "url": "wss://cbns.cub3d.pw/poll/123456" }
type StreamConfig struct {
	URL string `json:"url"`
	// HandshakeTimeout bounds the websocket opening handshake. Default "10s".
	HandshakeTimeout string `json:"handshake_timeout,omitempty"`
	// ReadLimit caps a single message in bytes. 0 keeps the default (1 MiB).
	ReadLimit int64 `json:"read_limit,omitempty"`
}

// NotifyConfig controls how notifications are shown on this host.
type NotifyConfig struct {
	// Driver is "dbus" (default), "log" or "none".
	Driver  string `json:"driver,omitempty"`
	AppName string `json:"app_name,omitempty"` // default "CUB3D"
	Icon    string `json:"icon,omitempty"`     // default "firefox"
	// ExpireTimeout is passed to the notification daemon. "0s" lets it decide.
	ExpireTimeout string `json:"expire_timeout,omitempty"`
	HistorySize   int    `json:"history_size,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// JournalConfig controls the optional notification journal.
//
// Example:
//
//	"journal": { "driver": "sqlite", "path": "./cub3dnotify.db" }
type JournalConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// DebugConfig controls the optional debug HTTP server.
//
// Security note:
//   - Prefer binding to localhost (default "127.0.0.1:6061").
//   - A non-loopback address needs a token or an explicit allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // bearer token (never logged)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// WriteTimeout defaults to 0 (disabled) so /debug/pprof/profile works.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
