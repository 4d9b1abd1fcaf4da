// Package debug serves the agent's optional operator endpoints: liveness,
// a JSON status document, Prometheus metrics and pprof.
package debug

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	rtsup "cub3dnotify/internal/runtime/supervisor"
	logx "cub3dnotify/pkg/logx"
)

const DefaultAddr = "127.0.0.1:6061"

const shutdownGrace = 2 * time.Second

var errInsecureBind = errors.New("debug: non-loopback addr requires a token or allow_insecure")

// Config controls the server. A non-loopback Addr is refused unless Token
// is set or AllowInsecure is true.
type Config struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

func (c Config) addr() string {
	if a := strings.TrimSpace(c.Addr); a != "" {
		return a
	}
	return DefaultAddr
}

// StatusFunc builds the /status document. It must be safe for concurrent use.
type StatusFunc func(ctx context.Context) any

type Service struct {
	log      logx.Logger
	status   StatusFunc
	gatherer prometheus.Gatherer

	// lifecycle serializes Start, Stop and Reconfigure.
	lifecycle sync.Mutex

	mu  sync.Mutex
	cfg Config
	run *instance
}

// instance is one listening server.
type instance struct {
	ln  net.Listener
	srv *http.Server
	sup *rtsup.Supervisor
}

// New creates a stopped service. gatherer may be nil (no /metrics).
func New(cfg Config, log logx.Logger, status StatusFunc, gatherer prometheus.Gatherer) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log, status: status, gatherer: gatherer}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Addr returns the bound address, or "" when not listening.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return ""
	}
	return s.run.ln.Addr().String()
}

// Reconfigure stores cfg and starts, stops or restarts the server to match.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	prev, running := s.cfg, s.run != nil
	s.cfg = cfg
	s.mu.Unlock()

	if running && (!cfg.Enabled || prev != cfg) {
		s.stop(ctx)
		running = false
	}
	if cfg.Enabled && !running {
		if err := s.start(ctx); err != nil {
			s.log.Error("debug server not started", logx.String("addr", cfg.addr()), logx.Err(err))
		}
	}
}

// Start listens on the configured address and serves in the background.
// It is a no-op when disabled or already running. The listener is bound
// before Start returns.
func (s *Service) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	err := s.start(ctx)
	if err != nil {
		s.log.Error("debug server not started", logx.Err(err))
	}
	return err
}

func (s *Service) start(ctx context.Context) error {
	s.mu.Lock()
	cfg, running := s.cfg, s.run != nil
	s.mu.Unlock()
	if running || !cfg.Enabled {
		return nil
	}

	addr := cfg.addr()
	if cfg.Token == "" && !isLoopbackAddr(addr) {
		if !cfg.AllowInsecure {
			return errInsecureBind
		}
		s.log.Warn("debug server exposed without a token", logx.String("addr", addr))
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("debug listen %s: %w", addr, err)
	}

	run := &instance{
		ln: ln,
		srv: &http.Server{
			Handler:      s.routes(cfg.Token),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		sup: rtsup.New(context.WithoutCancel(ctx), rtsup.WithLogger(s.log)),
	}
	s.mu.Lock()
	s.run = run
	s.mu.Unlock()

	run.sup.Go("debug.serve", func(c context.Context) error {
		err := run.srv.Serve(run.ln)
		if errors.Is(err, http.ErrServerClosed) || c.Err() != nil {
			return nil
		}
		return err
	})
	s.log.Info("debug server started",
		logx.String("addr", ln.Addr().String()),
		logx.Bool("token_set", cfg.Token != ""),
	)
	return nil
}

// Stop shuts the server down, waiting at most until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	s.stop(ctx)
}

func (s *Service) stop(ctx context.Context) {
	s.mu.Lock()
	run := s.run
	s.run = nil
	s.mu.Unlock()
	if run == nil {
		return
	}

	sctx, cancel := context.WithTimeout(ctx, shutdownGrace)
	defer cancel()
	if err := run.srv.Shutdown(sctx); err != nil {
		_ = run.srv.Close()
	}
	_ = run.sup.Stop(sctx)
	s.log.Info("debug server stopped")
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	switch host = strings.TrimSpace(host); {
	case host == "":
		return false
	case strings.EqualFold(host, "localhost"):
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
