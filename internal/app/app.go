package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"cub3dnotify/internal/config"
	"cub3dnotify/internal/eventbus"
	"cub3dnotify/internal/journal"
	"cub3dnotify/internal/notifier"
	"cub3dnotify/internal/observability/debug"
	"cub3dnotify/internal/observability/metrics"
	"cub3dnotify/internal/pipeline"
	"cub3dnotify/internal/runtime/supervisor"
	"cub3dnotify/internal/transport"
	"cub3dnotify/internal/transport/websocket"
	logx "cub3dnotify/pkg/logx"
	"cub3dnotify/pkg/systemd"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log     logx.Logger
	logs    *logx.Service
	bus     eventbus.Bus
	metrics *metrics.Metrics
	store   journal.Store
	rec     *journal.Recorder

	notif  *notifier.Service
	loop   *pipeline.Loop
	debug  *debug.Service
	stream streamConfig

	startedAt time.Time

	loopOnce sync.Once
	loopDone chan struct{}
	loopErr  error
}

// Options override pieces of the wiring. Zero values use the config.
type Options struct {
	// Dialer replaces the websocket dialer.
	Dialer transport.Dialer
	// Backend replaces the notification backend chosen by notify.driver.
	Backend notifier.Backend
}

func New(cfgPath string) (*App, error) {
	return NewWithOptions(cfgPath, Options{})
}

func NewWithOptions(cfgPath string, opts Options) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	stream, err := mapStreamConfig(cfg)
	if err != nil {
		return nil, err
	}
	ncfg, driver, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	jcfg, journalOn, err := mapJournalConfig(cfg)
	if err != nil {
		return nil, err
	}
	dcfg, err := mapDebugConfig(cfg)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	bus := eventbus.New()
	m := metrics.New()

	backend := opts.Backend
	if backend == nil {
		backend, err = notifier.OpenBackend(driver, log.With(logx.String("comp", "notifier.log")))
		if err != nil {
			logSvc.Close()
			return nil, err
		}
	}
	notif := notifier.New(ncfg, backend, log.With(logx.String("comp", "notifier")), bus)

	var store journal.Store
	if journalOn {
		store, err = journal.Open(jcfg, log.With(logx.String("comp", "journal")))
		if err != nil {
			logSvc.Close()
			return nil, err
		}
		log.Info("journal enabled", logx.String("driver", jcfg.Driver), logx.String("path", jcfg.Path))
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.NewDialer(stream.Dial, log.With(logx.String("comp", "websocket")))
	}
	loop := pipeline.New(pipeline.Config{URL: stream.URL, DirectIcon: stream.DirectIcon},
		dialer, notif, log.With(logx.String("comp", "stream")), bus, m)

	a := &App{
		cfgm:     cfgm,
		log:      log.With(logx.String("comp", "app")),
		logs:     logSvc,
		bus:      bus,
		metrics:  m,
		store:    store,
		notif:    notif,
		loop:     loop,
		stream:   stream,
		loopDone: make(chan struct{}),
	}
	a.debug = debug.New(dcfg, log.With(logx.String("comp", "debug")), a.statusDoc, m.Registry)
	if store != nil {
		a.rec = journal.NewRecorder(bus, store, log.With(logx.String("comp", "journal")))
	}
	return a, nil
}

// LoopDone is closed once the connection loop has ended for any reason.
func (a *App) LoopDone() <-chan struct{} { return a.loopDone }

// LoopErr is the loop's result; valid after LoopDone is closed.
func (a *App) LoopErr() error {
	select {
	case <-a.loopDone:
		return a.loopErr
	default:
		return nil
	}
}

func (a *App) finishLoop(err error) {
	a.loopOnce.Do(func() {
		a.loopErr = err
		close(a.loopDone)
	})
}

// Notifier exposes the notification service (history, backend name).
func (a *App) Notifier() *notifier.Service { return a.notif }

func (a *App) Start(ctx context.Context) error {
	a.startedAt = time.Now()
	// A terminal stream is logged, never fatal: the agent stays up until signalled.
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(false))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error { return validateConfig(cfg) })

	if a.rec != nil {
		a.sup.Go0("journal.record", a.rec.Run)
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	if a.debug.Enabled() {
		a.debug.Start(a.sup.Context())
	}

	a.sup.Go("stream.loop", func(c context.Context) error {
		err := a.loop.Run(c)
		a.finishLoop(err)
		switch {
		case errors.Is(err, context.Canceled):
			return nil
		case pipeline.IsTerminal(err):
			a.log.Warn("stream loop ended; waiting for shutdown signal", logx.Err(err))
			_, _ = systemd.Status("stream ended: " + err.Error())
		}
		return err
	})

	if _, err := systemd.Ready(); err != nil {
		a.log.Debug("sd_notify ready failed", logx.Err(err))
	}
	a.log.Info("app started",
		logx.String("url", a.stream.URL),
		logx.String("notifier", a.notif.Backend()),
		logx.Bool("journal", a.store != nil),
	)
	return nil
}

func (a *App) reloadLoop(c context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(c, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(c context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(mapLogConfig(newCfg))

	if dcfg, err := mapDebugConfig(newCfg); err != nil {
		a.log.Warn("invalid debug config; keeping previous", logx.Err(err))
	} else {
		a.debug.Reconfigure(c, dcfg)
	}

	if ncfg, _, err := mapNotifierConfig(newCfg); err != nil {
		a.log.Warn("invalid notify config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
	}

	if restart := config.RestartRequired(oldCfg, newCfg); len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(restart, ",")))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Status is the /status document.
type Status struct {
	StartedAt  time.Time              `json:"started_at"`
	Uptime     string                 `json:"uptime"`
	URL        string                 `json:"url"`
	Stream     pipeline.Stats         `json:"stream"`
	LoopError  string                 `json:"loop_error,omitempty"`
	Notifier   string                 `json:"notifier"`
	Recent     []notifier.HistoryItem `json:"recent"`
	Journal    []journal.Record       `json:"journal,omitempty"`
	Supervisor supervisor.Snapshot    `json:"supervisor"`

	// EventsDropped counts bus deliveries lost to full subscriber buffers.
	EventsDropped uint64 `json:"events_dropped"`
}

func (a *App) Status(ctx context.Context) Status {
	st := Status{
		StartedAt:  a.startedAt,
		Uptime:     time.Since(a.startedAt).Truncate(time.Second).String(),
		URL:        a.stream.URL,
		Stream:     a.loop.Stats(),
		Notifier:   a.notif.Backend(),
		Recent:     a.notif.History(),
		Supervisor: a.sup.Snapshot(),

		EventsDropped: a.bus.Dropped(),
	}
	if err := a.LoopErr(); err != nil {
		st.LoopError = err.Error()
	}
	if a.store != nil {
		if recs, err := a.store.Recent(ctx, 20); err == nil {
			st.Journal = recs
		}
	}
	return st
}

func (a *App) statusDoc(ctx context.Context) any { return a.Status(ctx) }

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping()

	a.sup.Cancel()

	a.step(ctx, "debug", time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error {
		// Wait reports the first goroutine error (usually the stream's end); only a
		// timeout matters here.
		if err := a.sup.Wait(c); c.Err() != nil {
			return err
		}
		return nil
	})
	a.step(ctx, "notifier", time.Second, func(context.Context) error { return a.notif.Close() })
	a.step(ctx, "journal", time.Second, func(context.Context) error {
		if a.store == nil {
			return nil
		}
		return a.store.Close()
	})

	a.log.Info("stopped")
	a.logs.Close()
	return nil
}

// step runs one shutdown step with an upper bound so a stuck component
// cannot stall the whole stop. It never extends the caller's deadline.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}
