// Package websocket implements transport.Dialer on top of gorilla/websocket.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"cub3dnotify/internal/transport"
	logx "cub3dnotify/pkg/logx"
)

const defaultWriteTimeout = 5 * time.Second

// Config controls how connections are established.
type Config struct {
	// HandshakeTimeout bounds the opening handshake. 0 means no limit.
	HandshakeTimeout time.Duration
	// ReadLimit caps a single message size in bytes. 0 means no limit.
	ReadLimit int64
	// WriteTimeout bounds control replies (pong, close).
	WriteTimeout time.Duration
	// Header is sent with the opening handshake.
	Header http.Header
}

type Dialer struct {
	cfg Config
	log logx.Logger
}

func NewDialer(cfg Config, log logx.Logger) *Dialer {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	return &Dialer{cfg: cfg, log: log}
}

// ValidateURL checks that raw is an absolute ws:// or wss:// URL.
func ValidateURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid stream url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "ws", "wss":
	default:
		return fmt.Errorf("invalid stream url %q: scheme must be ws or wss", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid stream url %q: missing host", raw)
	}
	return nil
}

func (d *Dialer) Dial(ctx context.Context, rawURL string) (transport.Source, error) {
	if err := ValidateURL(rawURL); err != nil {
		return nil, err
	}
	wd := ws.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.cfg.HandshakeTimeout,
	}
	c, resp, err := wd.DialContext(ctx, strings.TrimSpace(rawURL), d.cfg.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if d.cfg.ReadLimit > 0 {
		c.SetReadLimit(d.cfg.ReadLimit)
	}
	d.log.Debug("websocket connected", logx.String("remote", c.RemoteAddr().String()))
	return newConn(c, d.cfg.WriteTimeout), nil
}

type result struct {
	f   transport.Frame
	err error
}

var errStopped = errors.New("websocket: source stopped")

// conn owns the read side of one websocket connection.
//
// A single reader goroutine pulls messages and hands them over an unbuffered
// channel, so frames (control frames included) reach Next in arrival order and
// at most one frame is in flight.
type conn struct {
	ws           *ws.Conn
	writeTimeout time.Duration

	results   chan result
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func newConn(c *ws.Conn, writeTimeout time.Duration) *conn {
	cn := &conn{
		ws:           c,
		writeTimeout: writeTimeout,
		results:      make(chan result),
		done:         make(chan struct{}),
	}

	c.SetPingHandler(func(data string) error {
		err := c.WriteControl(ws.PongMessage, []byte(data), time.Now().Add(cn.writeTimeout))
		if err != nil && !errors.Is(err, ws.ErrCloseSent) {
			return err
		}
		if !cn.emit(result{f: transport.Frame{Kind: transport.FramePing, Data: []byte(data)}}) {
			return errStopped
		}
		return nil
	})
	c.SetPongHandler(func(data string) error {
		if !cn.emit(result{f: transport.Frame{Kind: transport.FramePong, Data: []byte(data)}}) {
			return errStopped
		}
		return nil
	})

	go cn.readLoop()
	return cn
}

func (c *conn) readLoop() {
	defer close(c.results)
	for {
		typ, data, err := c.ws.ReadMessage()
		if err != nil {
			if errors.Is(err, errStopped) {
				return
			}
			// 1006 is synthesized locally when the peer vanished without a
			// close frame; report it as a read error.
			var ce *ws.CloseError
			if errors.As(err, &ce) && ce.Code != ws.CloseAbnormalClosure {
				c.emit(result{f: transport.Frame{Kind: transport.FrameClose, CloseCode: ce.Code, CloseText: ce.Text}})
				return
			}
			c.emit(result{err: err})
			return
		}
		var kind transport.FrameKind
		switch typ {
		case ws.TextMessage:
			kind = transport.FrameText
		case ws.BinaryMessage:
			kind = transport.FrameBinary
		default:
			continue
		}
		if !c.emit(result{f: transport.Frame{Kind: kind, Data: data}}) {
			return
		}
	}
}

func (c *conn) emit(r result) bool {
	select {
	case c.results <- r:
		return true
	case <-c.done:
		return false
	}
}

func (c *conn) Next(ctx context.Context) (transport.Frame, error) {
	select {
	case <-c.done:
		return transport.Frame{}, transport.ErrSourceClosed
	default:
	}
	select {
	case <-ctx.Done():
		return transport.Frame{}, ctx.Err()
	case <-c.done:
		return transport.Frame{}, transport.ErrSourceClosed
	case r, ok := <-c.results:
		if !ok {
			return transport.Frame{}, transport.ErrSourceClosed
		}
		return r.f, r.err
	}
}

// Close sends a normal-closure frame (best-effort) and tears the connection down.
func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		msg := ws.FormatCloseMessage(ws.CloseNormalClosure, "")
		_ = c.ws.WriteControl(ws.CloseMessage, msg, time.Now().Add(c.writeTimeout))
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}
