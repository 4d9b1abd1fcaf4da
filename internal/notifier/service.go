package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cub3dnotify/internal/envelope"
	"cub3dnotify/internal/eventbus"
	logx "cub3dnotify/pkg/logx"
)

// Service is the notification sink. It is safe for concurrent use, although
// the stream loop only ever calls it from one goroutine.
type Service struct {
	mu  sync.Mutex
	cfg Config

	log     logx.Logger
	backend Backend // nil when notifications are disabled
	bus     eventbus.Bus

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, backend Backend, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{backend: backend, log: log, bus: bus}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool { return s.backend != nil }

// Backend returns the backend name ("none" when disabled).
func (s *Service) Backend() string {
	if s.backend == nil {
		return DriverNone
	}
	return s.backend.Name()
}

// Apply swaps the app name, expiry and history size for later requests.
// A smaller history size trims the history at once.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	limit := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	if over := len(s.history) - limit; over > 0 {
		s.history = append([]HistoryItem(nil), s.history[over:]...)
	}
	s.hmu.Unlock()
}

// Config returns the config in effect, defaults filled in.
func (s *Service) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.AppName == "" {
		cfg.AppName = DefaultAppName
	}
	if cfg.Expire < 0 {
		cfg.Expire = 0
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	s.cfg = cfg
}

// Notify raises one notification for req. Absent title/body render as empty
// strings.
func (s *Service) Notify(ctx context.Context, req envelope.Request) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.backend == nil {
		s.log.Debug("notifications disabled; dropping request", logx.String("rule", string(req.Rule)))
		return nil
	}

	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	n := Notification{
		AppName: cfg.AppName,
		Title:   req.TitleText(),
		Body:    req.BodyText(),
		Icon:    req.Icon,
		Expire:  cfg.Expire,
	}

	start := time.Now()
	id, err := s.backend.Show(ctx, n)
	took := time.Since(start)

	item := HistoryItem{
		At:     start,
		Rule:   string(req.Rule),
		AppID:  req.TargetAppID,
		Title:  n.Title,
		Body:   n.Body,
		ID:     id,
		TookMS: took.Milliseconds(),
	}
	ev := NotificationEvent{
		Backend: s.backend.Name(),
		Rule:    item.Rule,
		AppID:   item.AppID,
		Title:   n.Title,
		Body:    n.Body,
		ID:      id,
		At:      start,
	}
	if err != nil {
		item.Error = err.Error()
		ev.Error = err.Error()
	}
	s.record(item, cfg.HistorySize)

	if err != nil {
		s.publish(eventbus.NotificationFailed, ev)
		return fmt.Errorf("notify via %s: %w", s.backend.Name(), err)
	}
	s.publish(eventbus.NotificationShown, ev)
	s.log.Info("notification sent successfully",
		logx.String("rule", item.Rule),
		logx.Uint64("id", uint64(id)),
		logx.Duration("took", took),
	)
	return nil
}

func (s *Service) publish(typ string, ev NotificationEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}

func (s *Service) record(it HistoryItem, limit int) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, it)
	if over := len(s.history) - limit; over > 0 {
		s.history = append([]HistoryItem(nil), s.history[over:]...)
	}
}

// History returns recent deliveries, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

// Close releases backend resources, if any.
func (s *Service) Close() error {
	if c, ok := s.backend.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

var errNoBackend = errors.New("notifier: unknown driver")
