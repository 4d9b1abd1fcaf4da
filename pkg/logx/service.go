package logx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// DefaultFilePath is used when file logging is enabled without a path.
const DefaultFilePath = "./cub3dnotify.log"

type Config struct {
	Level   string
	Console bool
	File    FileConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// Service owns the process-wide sinks. Apply rebuilds them; loggers handed out
// by the Service pick up the new sinks on their next write.
type Service struct {
	mu   sync.Mutex
	cfg  Config
	file *os.File

	active atomic.Pointer[zerolog.Logger]
}

// New applies cfg and returns the Service with its root Logger.
func New(cfg Config) (*Service, Logger) {
	s := &Service{}
	s.Apply(cfg)
	return s, s.Logger()
}

func (s *Service) current() *zerolog.Logger { return s.active.Load() }

func (s *Service) Logger() Logger { return Logger{src: s} }

// Config returns the last applied config.
func (s *Service) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Apply swaps level and sinks. A file that cannot be opened is reported on
// stderr and skipped; console output is used if no sink remains.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, consoleSink(os.Stdout))
	}

	var file *os.File
	if cfg.File.Enabled {
		f, err := openLogFile(cfg.File.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logx: %v\n", err)
		} else {
			file = f
			sinks = append(sinks, zerolog.SyncWriter(f))
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, consoleSink(os.Stdout))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(sinks...)).
		Level(ParseLevel(cfg.Level)).
		With().Timestamp().Logger()
	s.active.Store(&zl)

	// Swap first so no new write lands on the old file after it closes.
	if s.file != nil {
		_ = s.file.Close()
	}
	s.file = file
	s.cfg = cfg
}

// Close releases the log file. Later writes go to the remaining sinks.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func openLogFile(path string) (*os.File, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = DefaultFilePath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir %q: %w", dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %q: %w", path, err)
	}
	return f, nil
}

// consoleSink renders human-readable lines, colored only on a terminal.
func consoleSink(f *os.File) io.Writer {
	return zerolog.ConsoleWriter{
		Out:        f,
		TimeFormat: timeFormat,
		NoColor:    !isatty.IsTerminal(f.Fd()),
		FormatCaller: func(i any) string {
			s, _ := i.(string)
			return s
		},
	}
}
