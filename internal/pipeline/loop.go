package pipeline

import (
	"context"
	"errors"
	"sync/atomic"

	"cub3dnotify/internal/envelope"
	"cub3dnotify/internal/eventbus"
	"cub3dnotify/internal/observability/metrics"
	"cub3dnotify/internal/transport"
	logx "cub3dnotify/pkg/logx"
)

// State of the connection loop.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateReading
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateReading:
		return "reading"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Sink displays one resolved notification.
type Sink interface {
	Notify(ctx context.Context, req envelope.Request) error
}

type Config struct {
	// URL is the ws:// or wss:// endpoint.
	URL string
	// DirectIcon is attached to direct-shape notifications.
	DirectIcon string
}

// Stats are best-effort counters for status output.
type Stats struct {
	State        string `json:"state"`
	TextFrames   uint64 `json:"text_frames"`
	BinaryFrames uint64 `json:"binary_frames"`
	PingFrames   uint64 `json:"ping_frames"`
	PongFrames   uint64 `json:"pong_frames"`
	CloseFrames  uint64 `json:"close_frames"`
	Decoded      uint64 `json:"decoded"`
	DecodeErrors uint64 `json:"decode_errors"`
	Notified     uint64 `json:"notified"`
	SinkFailures uint64 `json:"sink_failures"`
}

type Loop struct {
	cfg    Config
	dialer transport.Dialer
	sink   Sink
	log    logx.Logger
	bus    eventbus.Bus
	m      *metrics.Metrics

	state atomic.Int32

	texts, binaries, pings, pongs, closes atomic.Uint64
	decoded, decodeErrs                   atomic.Uint64
	notified, sinkFailures                atomic.Uint64
}

func New(cfg Config, dialer transport.Dialer, sink Sink, log logx.Logger, bus eventbus.Bus, m *metrics.Metrics) *Loop {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Loop{cfg: cfg, dialer: dialer, sink: sink, log: log, bus: bus, m: m}
}

func (l *Loop) State() State { return State(l.state.Load()) }

func (l *Loop) Stats() Stats {
	return Stats{
		State:        l.State().String(),
		TextFrames:   l.texts.Load(),
		BinaryFrames: l.binaries.Load(),
		PingFrames:   l.pings.Load(),
		PongFrames:   l.pongs.Load(),
		CloseFrames:  l.closes.Load(),
		Decoded:      l.decoded.Load(),
		DecodeErrors: l.decodeErrs.Load(),
		Notified:     l.notified.Load(),
		SinkFailures: l.sinkFailures.Load(),
	}
}

func (l *Loop) setState(s State) {
	l.state.Store(int32(s))
	l.m.StreamState(int(s))
}

// Run connects and processes frames until the stream ends.
//
// It returns a *ConnectError if the connection could not be established, a
// *TerminatedError when the server closes or a read fails, and ctx.Err() when
// ctx is cancelled while waiting for a frame. Run never retries.
func (l *Loop) Run(ctx context.Context) error {
	l.setState(StateConnecting)
	l.log.Info("connecting", logx.String("url", l.cfg.URL))

	src, err := l.dialer.Dial(ctx, l.cfg.URL)
	l.m.Connect(err)
	if err != nil {
		l.setState(StateTerminated)
		l.log.Error("stream connect failed", logx.String("url", l.cfg.URL), logx.Err(err))
		l.publish(eventbus.StreamConnectFailed, err.Error())
		return &ConnectError{URL: l.cfg.URL, Err: err}
	}
	defer func() { _ = src.Close() }()

	l.setState(StateReading)
	l.log.Info("socket connected", logx.String("url", l.cfg.URL))
	l.publish(eventbus.StreamConnected, l.cfg.URL)

	err = l.read(ctx, src)
	l.setState(StateTerminated)
	l.publish(eventbus.StreamTerminated, err.Error())
	return err
}

func (l *Loop) read(ctx context.Context, src transport.Source) error {
	for {
		f, err := src.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.log.Info("stream loop cancelled")
				return ctx.Err()
			}
			l.log.Error("stream read failed", logx.Err(err))
			return &TerminatedError{Reason: ReasonReadError, Err: err}
		}
		if err := l.handleFrame(ctx, f); err != nil {
			return err
		}
	}
}

// handleFrame processes one frame and returns a non-nil error only when the
// frame ends the stream.
func (l *Loop) handleFrame(ctx context.Context, f transport.Frame) error {
	l.m.Frame(f.Kind.String())
	switch f.Kind {
	case transport.FrameText:
		l.texts.Add(1)
		l.dispatch(ctx, string(f.Data))
	case transport.FrameBinary:
		l.binaries.Add(1)
	case transport.FramePing:
		l.pings.Add(1)
	case transport.FramePong:
		l.pongs.Add(1)
		l.log.Debug("got server pong")
	case transport.FrameClose:
		l.closes.Add(1)
		l.log.Info("server disconnected", logx.Int("code", f.CloseCode), logx.String("reason", f.CloseText))
		return &TerminatedError{Reason: ReasonClosed, CloseCode: f.CloseCode, CloseText: f.CloseText, Err: ErrClosed}
	default:
		l.log.Debug("ignoring frame", logx.String("kind", f.Kind.String()))
	}
	return nil
}

func (l *Loop) dispatch(ctx context.Context, raw string) {
	l.log.Debug("got text msg", logx.Int("bytes", len(raw)))

	env, err := envelope.Decode(raw)
	if err != nil {
		l.decodeErrs.Add(1)
		l.m.DecodeError()
		l.log.Warn("dropping malformed envelope", logx.Err(err))
		l.publish(eventbus.EnvelopeRejected, err.Error())
		return
	}
	l.decoded.Add(1)
	l.log.Debug("got notification data",
		logx.String("target_app_id", env.TargetAppID),
		logx.Bool("has_message", env.Message != nil),
		logx.Int("payload_entries", len(env.DataPayload)),
	)

	for _, req := range envelope.Resolve(env, envelope.ResolveOptions{DirectIcon: l.cfg.DirectIcon}) {
		err := l.sink.Notify(ctx, req)
		l.m.Notification(string(req.Rule), err)
		if err != nil {
			l.sinkFailures.Add(1)
			l.log.Warn("notification failed", logx.String("rule", string(req.Rule)), logx.Err(err))
			continue
		}
		l.notified.Add(1)
	}
}

func (l *Loop) publish(typ string, data any) {
	if l.bus == nil {
		return
	}
	l.bus.Publish(eventbus.Event{Type: typ, Data: data})
}

// IsTerminal reports whether err is one of the loop's normal terminal
// conditions (as opposed to shutdown).
func IsTerminal(err error) bool {
	var ce *ConnectError
	var te *TerminatedError
	return errors.As(err, &ce) || errors.As(err, &te)
}
