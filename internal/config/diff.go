package config

import (
	"strings"

	logx "cub3dnotify/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// structured fields for logging. Tokens are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	o, n := oldCfg.Stream, newCfg.Stream
	if trim(o.URL) != trim(n.URL) || trim(o.HandshakeTimeout) != trim(n.HandshakeTimeout) || o.ReadLimit != n.ReadLimit {
		changed = append(changed, "stream")
		attrs = append(attrs,
			logx.String("stream.url", trim(n.URL)),
			logx.String("stream.handshake_timeout", trim(n.HandshakeTimeout)),
		)
	}

	if oldCfg.Notify != newCfg.Notify {
		changed = append(changed, "notify")
		attrs = append(attrs,
			logx.String("notify.driver", trim(newCfg.Notify.Driver)),
			logx.String("notify.app_name", trim(newCfg.Notify.AppName)),
		)
	}

	if oldCfg.Logging.Level != newCfg.Logging.Level ||
		oldCfg.Logging.Console != newCfg.Logging.Console ||
		oldCfg.Logging.File.Enabled != newCfg.Logging.File.Enabled ||
		trim(oldCfg.Logging.File.Path) != trim(newCfg.Logging.File.Path) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Journal != newCfg.Journal {
		changed = append(changed, "journal")
		attrs = append(attrs,
			logx.String("journal.driver", trim(newCfg.Journal.Driver)),
			logx.String("journal.path", trim(newCfg.Journal.Path)),
		)
	}

	od, nd := oldCfg.Debug, newCfg.Debug
	if od.Enabled != nd.Enabled ||
		trim(od.Addr) != trim(nd.Addr) ||
		od.AllowInsecure != nd.AllowInsecure ||
		trim(od.ReadTimeout) != trim(nd.ReadTimeout) ||
		trim(od.WriteTimeout) != trim(nd.WriteTimeout) ||
		trim(od.IdleTimeout) != trim(nd.IdleTimeout) ||
		trim(od.Token) != trim(nd.Token) {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", nd.Enabled),
			logx.String("debug.addr", trim(nd.Addr)),
			logx.Bool("debug.token_set", trim(nd.Token) != ""),
			logx.Bool("debug.allow_insecure", nd.AllowInsecure),
		)
	}

	return changed, attrs
}

// RestartRequired lists the sections whose changes only take effect after a
// restart. Within notify, only the driver and the direct-rule icon are
// fixed at startup; app_name, expire_timeout and history_size apply live.
func RestartRequired(oldCfg, newCfg *Config) []string {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var out []string
	if oldCfg.Stream != newCfg.Stream {
		out = append(out, "stream")
	}
	o, n := oldCfg.Notify, newCfg.Notify
	if !strings.EqualFold(trim(o.Driver), trim(n.Driver)) || trim(o.Icon) != trim(n.Icon) {
		out = append(out, "notify")
	}
	if oldCfg.Journal != newCfg.Journal {
		out = append(out, "journal")
	}
	return out
}

func trim(s string) string { return strings.TrimSpace(s) }
