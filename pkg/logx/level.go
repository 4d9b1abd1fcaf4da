package logx

import (
	"strings"

	"github.com/rs/zerolog"
)

type Level = zerolog.Level

const (
	LevelTrace = zerolog.TraceLevel
	LevelDebug = zerolog.DebugLevel
	LevelInfo  = zerolog.InfoLevel
	LevelWarn  = zerolog.WarnLevel
	LevelError = zerolog.ErrorLevel
)

var levelNames = map[string]Level{
	"TRACE":   LevelTrace,
	"DEBUG":   LevelDebug,
	"INFO":    LevelInfo,
	"WARN":    LevelWarn,
	"WARNING": LevelWarn,
	"ERROR":   LevelError,
}

// ParseLevel maps a config value to a level, case-insensitively.
// Unknown or empty input is INFO.
func ParseLevel(s string) Level {
	if lvl, ok := levelNames[strings.ToUpper(strings.TrimSpace(s))]; ok {
		return lvl
	}
	return LevelInfo
}
