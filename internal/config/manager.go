package config

import (
	"context"
	"strings"
	"sync"
	"time"

	logx "cub3dnotify/pkg/logx"
)

const validateTimeout = 5 * time.Second

// Validator vets a reloaded config before it is committed.
type Validator func(ctx context.Context, cfg *Config) error

// ConfigManager holds the current config and republishes it when the file
// changes. An empty path means no file: Load yields defaults and Watch
// returns at once.
type ConfigManager struct {
	path string
	log  logx.Logger

	mu        sync.RWMutex
	cfg       *Config
	sum       uint64
	validator Validator

	subsMu sync.Mutex
	subs   map[chan *Config]struct{}
}

func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{
		path: strings.TrimSpace(path),
		log:  logx.Nop(),
		subs: map[chan *Config]struct{}{},
	}
}

func (m *ConfigManager) Path() string { return m.path }

// SetLogger must be called before Watch.
func (m *ConfigManager) SetLogger(log logx.Logger) {
	if log.IsZero() {
		log = logx.Nop()
	}
	m.log = log
}

func (m *ConfigManager) SetValidator(fn Validator) {
	m.mu.Lock()
	m.validator = fn
	m.mu.Unlock()
}

// Parse reads the file without committing it.
func (m *ConfigManager) Parse() (*Config, error) {
	if m.path == "" {
		return &Config{}, nil
	}
	return ReadFile(m.path)
}

// Load parses and commits the file.
func (m *ConfigManager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.Commit(cfg)
	return cfg, nil
}

func (m *ConfigManager) Commit(cfg *Config) {
	sum := fingerprint(cfg)
	m.mu.Lock()
	m.cfg, m.sum = cfg, sum
	m.mu.Unlock()
}

func (m *ConfigManager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Subscribe returns a channel that receives each committed reload. A slow
// subscriber only ever sees the newest config.
func (m *ConfigManager) Subscribe(buffer int) chan *Config {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan *Config, buffer)
	m.subsMu.Lock()
	m.subs[ch] = struct{}{}
	m.subsMu.Unlock()
	return ch
}

func (m *ConfigManager) Unsubscribe(ch chan *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	if _, ok := m.subs[ch]; ok {
		delete(m.subs, ch)
		close(ch)
	}
}

func (m *ConfigManager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for ch := range m.subs {
		for {
			select {
			case ch <- cfg:
			default:
				// Full: discard the oldest pending config and retry.
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// reload re-reads the file and publishes it if the content changed and the
// validator accepts it.
func (m *ConfigManager) reload(ctx context.Context) {
	log := m.log.With(logx.String("path", m.path))

	cfg, err := m.Parse()
	if err != nil {
		log.Warn("config parse failed", logx.Err(err))
		return
	}

	m.mu.RLock()
	prev, validate := m.sum, m.validator
	m.mu.RUnlock()
	if sum := fingerprint(cfg); sum != 0 && sum == prev {
		log.Debug("config unchanged")
		return
	}

	if validate != nil {
		vctx, cancel := context.WithTimeout(ctx, validateTimeout)
		err := validate(vctx, cfg)
		cancel()
		if err != nil {
			log.Warn("config rejected", logx.Err(err))
			return
		}
	}

	m.Commit(cfg)
	m.publish(cfg)
	log.Debug("config published")
}
