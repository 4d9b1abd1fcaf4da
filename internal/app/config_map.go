package app

import (
	"fmt"
	"strings"
	"time"

	"cub3dnotify/internal/config"
	"cub3dnotify/internal/journal"
	"cub3dnotify/internal/notifier"
	"cub3dnotify/internal/observability/debug"
	"cub3dnotify/internal/transport/websocket"
	logx "cub3dnotify/pkg/logx"
)

const (
	DefaultStreamURL   = "wss://cbns.cub3d.pw/poll/123456"
	DefaultDirectIcon  = "firefox"
	defaultHandshake   = 10 * time.Second
	defaultReadLimit   = 64 << 20
	defaultBusyTimeout = time.Second
)

type streamConfig struct {
	URL        string
	DirectIcon string
	Dial       websocket.Config
}

// The map* functions validate and convert the file config into component
// configs. They never start anything, so the validator can reuse them.

func mapStreamConfig(cfg *config.Config) (streamConfig, error) {
	sc := cfg.Stream
	out := streamConfig{
		URL:        strings.TrimSpace(sc.URL),
		DirectIcon: strings.TrimSpace(cfg.Notify.Icon),
	}
	if out.URL == "" {
		out.URL = DefaultStreamURL
	}
	if out.DirectIcon == "" {
		out.DirectIcon = DefaultDirectIcon
	}
	if err := websocket.ValidateURL(out.URL); err != nil {
		return out, fmt.Errorf("stream.url: %w", err)
	}

	hs, err := config.ParseDurationOrDefault("stream.handshake_timeout", sc.HandshakeTimeout, defaultHandshake)
	if err != nil {
		return out, err
	}
	if sc.ReadLimit < 0 {
		return out, fmt.Errorf("stream.read_limit must be >= 0")
	}
	limit := sc.ReadLimit
	if limit == 0 {
		limit = defaultReadLimit
	}
	out.Dial = websocket.Config{HandshakeTimeout: hs, ReadLimit: limit}
	return out, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, string, error) {
	nc := cfg.Notify
	driver := strings.ToLower(strings.TrimSpace(nc.Driver))
	switch driver {
	case "":
		driver = notifier.DriverDBus
	case notifier.DriverDBus, notifier.DriverLog, notifier.DriverNone:
	default:
		return notifier.Config{}, "", fmt.Errorf("unknown notify.driver: %s", nc.Driver)
	}

	expire, err := config.ParseDurationField("notify.expire_timeout", nc.ExpireTimeout)
	if err != nil {
		return notifier.Config{}, "", err
	}
	if nc.HistorySize < 0 {
		return notifier.Config{}, "", fmt.Errorf("notify.history_size must be >= 0")
	}
	appName := strings.TrimSpace(nc.AppName)
	if appName == "" {
		appName = notifier.DefaultAppName
	}
	return notifier.Config{AppName: appName, Expire: expire, HistorySize: nc.HistorySize}, driver, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	level := strings.TrimSpace(lc.Level)
	if level == "" {
		level = "INFO"
	}
	console := lc.Console
	if !lc.Console && !lc.File.Enabled {
		// Nothing configured: keep console output so the agent is not silent.
		console = true
	}
	return logx.Config{
		Level:   level,
		Console: console,
		File:    logx.FileConfig{Enabled: lc.File.Enabled, Path: strings.TrimSpace(lc.File.Path)},
	}
}

func mapJournalConfig(cfg *config.Config) (journal.Config, bool, error) {
	jc := cfg.Journal
	driver := strings.ToLower(strings.TrimSpace(jc.Driver))
	if driver == "" || driver == journal.DriverNone {
		return journal.Config{}, false, nil
	}
	path := strings.TrimSpace(jc.Path)

	switch driver {
	case journal.DriverFile:
		if path == "" {
			path = "./cub3dnotify_journal.jsonl"
		}
		return journal.Config{Driver: journal.DriverFile, Path: path}, true, nil
	case journal.DriverSQLite, "sqlite3":
		if path == "" {
			return journal.Config{}, false, fmt.Errorf("journal.path is required when journal.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("journal.busy_timeout", jc.BusyTimeout, defaultBusyTimeout)
		if err != nil {
			return journal.Config{}, false, err
		}
		return journal.Config{Driver: journal.DriverSQLite, Path: path, BusyTimeout: busy}, true, nil
	default:
		return journal.Config{}, false, fmt.Errorf("unknown journal.driver: %s", jc.Driver)
	}
}

func mapDebugConfig(cfg *config.Config) (debug.Config, error) {
	dc := cfg.Debug
	out := debug.Config{
		Enabled:       dc.Enabled,
		Addr:          strings.TrimSpace(dc.Addr),
		Token:         strings.TrimSpace(dc.Token),
		AllowInsecure: dc.AllowInsecure,
	}
	if out.Addr == "" {
		out.Addr = debug.DefaultAddr
	}

	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("debug.read_timeout", dc.ReadTimeout, 5*time.Second); err != nil {
		return out, err
	}
	if out.WriteTimeout, err = config.ParseDurationField("debug.write_timeout", dc.WriteTimeout); err != nil {
		return out, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("debug.idle_timeout", dc.IdleTimeout, 120*time.Second); err != nil {
		return out, err
	}
	return out, nil
}

// validateConfig runs every mapper; it backs the hot-reload validator.
func validateConfig(cfg *config.Config) error {
	if _, err := mapStreamConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapJournalConfig(cfg); err != nil {
		return err
	}
	if _, err := mapDebugConfig(cfg); err != nil {
		return err
	}
	return nil
}
