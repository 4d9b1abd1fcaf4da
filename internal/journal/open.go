package journal

import (
	"fmt"
	"strings"

	logx "cub3dnotify/pkg/logx"
)

// Open initializes the configured store.
// It returns (nil, nil) if the journal is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == DriverNone {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case DriverFile:
		return openFile(cfg, log)
	case DriverSQLite, "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("unknown journal driver: %s", driver)
	}
}
