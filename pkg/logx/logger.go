package logx

import (
	"io"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/rs/zerolog"
)

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

func init() {
	zerolog.TimeFieldFormat = timeFormat
	zerolog.ErrorFieldName = "err"
}

// source yields the zerolog logger a Logger writes through.
type source interface {
	current() *zerolog.Logger
}

type fixed struct{ zl zerolog.Logger }

func (f *fixed) current() *zerolog.Logger { return &f.zl }

// Logger is a structured logger carrying a set of bound fields.
type Logger struct {
	src    source
	fields []Field
}

// Nop discards everything. It is distinct from the zero Logger only in that
// IsZero reports false.
func Nop() Logger { return Logger{src: &fixed{zl: zerolog.Nop()}} }

// NewWriter logs JSON lines to w, bypassing any Service.
func NewWriter(w io.Writer, level string) Logger {
	zl := zerolog.New(w).Level(ParseLevel(level)).With().Timestamp().Logger()
	return Logger{src: &fixed{zl: zl}}
}

// IsZero reports whether l was never initialised; callers use it to pick a default.
func (l Logger) IsZero() bool { return l.src == nil && len(l.fields) == 0 }

func (l Logger) zl() *zerolog.Logger {
	if l.src == nil {
		return nil
	}
	return l.src.current()
}

// Enabled reports whether a message at level would be written.
func (l Logger) Enabled(level Level) bool {
	zl := l.zl()
	return zl != nil && level >= zl.GetLevel() && level >= zerolog.GlobalLevel()
}

// With returns a logger that adds fields to every message.
func (l Logger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	bound := make([]Field, 0, len(l.fields)+len(fields))
	bound = append(bound, l.fields...)
	l.fields = append(bound, fields...)
	return l
}

func (l Logger) Trace(msg string, fields ...Field) { l.write(LevelTrace, msg, fields) }
func (l Logger) Debug(msg string, fields ...Field) { l.write(LevelDebug, msg, fields) }
func (l Logger) Info(msg string, fields ...Field)  { l.write(LevelInfo, msg, fields) }
func (l Logger) Warn(msg string, fields ...Field)  { l.write(LevelWarn, msg, fields) }
func (l Logger) Error(msg string, fields ...Field) { l.write(LevelError, msg, fields) }

// write is called from exactly one frame below the public methods; the
// caller skip depends on that.
func (l Logger) write(level Level, msg string, fields []Field) {
	zl := l.zl()
	if zl == nil {
		return
	}
	e := zl.WithLevel(level)
	if e == nil {
		return
	}
	if _, file, line, ok := runtime.Caller(2); ok {
		e.Str(zerolog.CallerFieldName, filepath.Base(file)+":"+strconv.Itoa(line))
	}
	apply(e, l.fields)
	apply(e, fields)
	e.Msg(msg)
}

func apply(e *zerolog.Event, fields []Field) {
	for _, f := range fields {
		if f != nil {
			f(e)
		}
	}
}
