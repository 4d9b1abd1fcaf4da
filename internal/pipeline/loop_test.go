package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"

	"cub3dnotify/internal/envelope"
	"cub3dnotify/internal/eventbus"
	"cub3dnotify/internal/observability/metrics"
	"cub3dnotify/internal/transport"
	"cub3dnotify/internal/transport/websocket"
	logx "cub3dnotify/pkg/logx"
)

// ---- fakes ----

type fakeSource struct {
	mu     sync.Mutex
	frames []transport.Frame
	// end is returned once frames are exhausted; nil blocks until ctx is done.
	end    error
	closed bool
}

func (s *fakeSource) Next(ctx context.Context) (transport.Frame, error) {
	s.mu.Lock()
	if len(s.frames) > 0 {
		f := s.frames[0]
		s.frames = s.frames[1:]
		s.mu.Unlock()
		return f, nil
	}
	end := s.end
	s.mu.Unlock()
	if end != nil {
		return transport.Frame{}, end
	}
	<-ctx.Done()
	return transport.Frame{}, ctx.Err()
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSource) remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

type fakeDialer struct {
	src  *fakeSource
	err  error
	urls []string
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (transport.Source, error) {
	d.urls = append(d.urls, url)
	if d.err != nil {
		return nil, d.err
	}
	return d.src, nil
}

type recordingSink struct {
	mu   sync.Mutex
	reqs []envelope.Request
	// failOn makes the n-th call (0-based) fail.
	failOn map[int]error
}

func (s *recordingSink) Notify(ctx context.Context, req envelope.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.reqs)
	s.reqs = append(s.reqs, req)
	return s.failOn[n]
}

func (s *recordingSink) calls() []envelope.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]envelope.Request(nil), s.reqs...)
}

func text(s string) transport.Frame {
	return transport.Frame{Kind: transport.FrameText, Data: []byte(s)}
}

func closeFrame() transport.Frame {
	return transport.Frame{Kind: transport.FrameClose, CloseCode: 1000, CloseText: "bye"}
}

func runLoop(t *testing.T, frames []transport.Frame, sink Sink) (*Loop, *fakeSource, error) {
	t.Helper()
	src := &fakeSource{frames: frames, end: transport.ErrSourceClosed}
	l := New(Config{URL: "wss://push.test/poll/1", DirectIcon: "firefox"}, &fakeDialer{src: src}, sink, logx.Nop(), nil, metrics.New())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := l.Run(ctx)
	return l, src, err
}

func title(r envelope.Request) string { return r.TitleText() }

// ---- tests ----

func TestMalformedInputNeverNotifies(t *testing.T) {
	sink := &recordingSink{}
	l, _, err := runLoop(t, []transport.Frame{
		text("not valid json {{{"),
		text(""),
		text(`{"message":{"title":"T","content":"B"}}`),
		text(`{"targetAppID":"cub3d.notify","dataPayload":"oops"}`),
		text(`[{"targetAppID":"x"}]`),
		closeFrame(),
	}, sink)

	var te *TerminatedError
	if !errors.As(err, &te) || te.Reason != ReasonClosed {
		t.Fatalf("expected close termination, got %v", err)
	}
	if got := len(sink.calls()); got != 0 {
		t.Fatalf("sink called %d times for malformed input", got)
	}
	st := l.Stats()
	if st.DecodeErrors != 5 || st.Decoded != 0 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestDirectRuleThroughLoop(t *testing.T) {
	sink := &recordingSink{}
	_, _, _ = runLoop(t, []transport.Frame{
		text(`{"targetAppID":"x","message":{"title":"T","content":"B"}}`),
		closeFrame(),
	}, sink)

	calls := sink.calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(calls))
	}
	if calls[0].Rule != envelope.RuleDirect || calls[0].TitleText() != "T" || calls[0].BodyText() != "B" {
		t.Fatalf("unexpected request %+v", calls[0])
	}
	if calls[0].Icon != "firefox" {
		t.Fatalf("direct icon=%q", calls[0].Icon)
	}
}

func TestKeyedRuleThroughLoop(t *testing.T) {
	sink := &recordingSink{}
	_, _, _ = runLoop(t, []transport.Frame{
		text(`{"targetAppID":"cub3d.notify","dataPayload":[{"key":"title","value":"T2"},{"key":"body","value":"B2"}]}`),
		text(`{"targetAppID":"cub3d.notify","dataPayload":[{"key":"other","value":"x"}]}`),
		closeFrame(),
	}, sink)

	calls := sink.calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(calls))
	}
	if calls[0].TitleText() != "T2" || calls[0].BodyText() != "B2" {
		t.Fatalf("unexpected keyed request %+v", calls[0])
	}
	if calls[1].Title != nil || calls[1].Body != nil {
		t.Fatalf("missing keys must yield an empty request, got %+v", calls[1])
	}
}

func TestBothRulesAndFrameOrder(t *testing.T) {
	sink := &recordingSink{}
	_, _, _ = runLoop(t, []transport.Frame{
		text(`{"targetAppID":"cub3d.notify","message":{"title":"D1","content":"b"},"dataPayload":[{"key":"title","value":"K1"}]}`),
		text(`{"targetAppID":"x","message":{"title":"D2","content":"b"}}`),
		closeFrame(),
	}, sink)

	var got []string
	for _, r := range sink.calls() {
		got = append(got, string(r.Rule)+":"+title(r))
	}
	want := "direct:D1,keyed:K1,direct:D2"
	if strings.Join(got, ",") != want {
		t.Fatalf("order=%v want %s", got, want)
	}
}

func TestNonTextFramesAreNoops(t *testing.T) {
	sink := &recordingSink{}
	l, _, err := runLoop(t, []transport.Frame{
		{Kind: transport.FrameBinary, Data: []byte(`{"targetAppID":"x","message":{"title":"T","content":"B"}}`)},
		{Kind: transport.FramePing, Data: []byte("p")},
		{Kind: transport.FramePong, Data: []byte("p")},
		{Kind: transport.FrameKind(99)},
		closeFrame(),
	}, sink)
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if len(sink.calls()) != 0 {
		t.Fatalf("non-text frames must not notify")
	}
	st := l.Stats()
	if st.Decoded != 0 || st.DecodeErrors != 0 {
		t.Fatalf("non-text frames must not reach the decoder: %+v", st)
	}
	if st.BinaryFrames != 1 || st.PingFrames != 1 || st.PongFrames != 1 || st.CloseFrames != 1 {
		t.Fatalf("frame counters=%+v", st)
	}
}

func TestCloseIsTerminal(t *testing.T) {
	sink := &recordingSink{}
	l, src, err := runLoop(t, []transport.Frame{
		text(`{"targetAppID":"x","message":{"title":"before","content":""}}`),
		closeFrame(),
		text(`{"targetAppID":"x","message":{"title":"after","content":""}}`),
		{Kind: transport.FramePing},
	}, sink)

	var te *TerminatedError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TerminatedError, got %T %v", err, err)
	}
	if te.Reason != ReasonClosed || te.CloseCode != 1000 || te.CloseText != "bye" {
		t.Fatalf("unexpected termination %+v", te)
	}
	if !IsTerminal(err) {
		t.Fatalf("close must be terminal")
	}
	calls := sink.calls()
	if len(calls) != 1 || title(calls[0]) != "before" {
		t.Fatalf("frames after close were processed: %+v", calls)
	}
	if src.remaining() != 2 {
		t.Fatalf("loop kept reading after close; remaining=%d", src.remaining())
	}
	if l.State() != StateTerminated {
		t.Fatalf("state=%s", l.State())
	}
	if !src.closed {
		t.Fatalf("source must be closed when the loop ends")
	}
}

func TestSinkFailureIsNonFatal(t *testing.T) {
	sink := &recordingSink{failOn: map[int]error{0: errors.New("daemon down")}}
	l, _, err := runLoop(t, []transport.Frame{
		text(`{"targetAppID":"cub3d.notify","message":{"title":"A","content":""},"dataPayload":[{"key":"title","value":"B"}]}`),
		text(`{"targetAppID":"x","message":{"title":"C","content":""}}`),
		closeFrame(),
	}, sink)
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	var got []string
	for _, r := range sink.calls() {
		got = append(got, title(r))
	}
	if strings.Join(got, ",") != "A,B,C" {
		t.Fatalf("calls=%v", got)
	}
	st := l.Stats()
	if st.SinkFailures != 1 || st.Notified != 2 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestConnectFailureIsTerminal(t *testing.T) {
	sink := &recordingSink{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	d := &fakeDialer{err: errors.New("connection refused")}
	l := New(Config{URL: "wss://push.test/poll/1"}, d, sink, logx.Nop(), bus, nil)
	err := l.Run(context.Background())

	var ce *ConnectError
	if !errors.As(err, &ce) || ce.URL != "wss://push.test/poll/1" {
		t.Fatalf("expected *ConnectError, got %v", err)
	}
	if len(d.urls) != 1 {
		t.Fatalf("connect must not be retried; attempts=%d", len(d.urls))
	}
	if l.State() != StateTerminated {
		t.Fatalf("state=%s", l.State())
	}
	e := <-events
	if e.Type != eventbus.StreamConnectFailed {
		t.Fatalf("event=%q", e.Type)
	}
}

func TestReadErrorIsTerminal(t *testing.T) {
	boom := errors.New("connection reset by peer")
	src := &fakeSource{frames: []transport.Frame{text(`{"targetAppID":"x"}`)}, end: boom}
	l := New(Config{URL: "wss://push.test/poll/1"}, &fakeDialer{src: src}, &recordingSink{}, logx.Nop(), nil, nil)

	err := l.Run(context.Background())
	var te *TerminatedError
	if !errors.As(err, &te) || te.Reason != ReasonReadError || !errors.Is(err, boom) {
		t.Fatalf("expected read error termination, got %v", err)
	}
	if l.Stats().Decoded != 1 {
		t.Fatalf("frame before the error must be processed")
	}
}

func TestCancellationAtSuspensionPoint(t *testing.T) {
	src := &fakeSource{}
	l := New(Config{URL: "wss://push.test/poll/1"}, &fakeDialer{src: src}, &recordingSink{}, logx.Nop(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for l.State() != StateReading {
		if time.Now().After(deadline) {
			t.Fatalf("loop never reached reading state")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		if IsTerminal(err) {
			t.Fatalf("cancellation is not a terminal stream condition")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("loop did not stop on cancel")
	}
}

func TestLoopPublishesLifecycleEvents(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	src := &fakeSource{frames: []transport.Frame{text("garbage"), closeFrame()}}
	l := New(Config{URL: "wss://push.test/poll/1"}, &fakeDialer{src: src}, &recordingSink{}, logx.Nop(), bus, nil)
	_ = l.Run(context.Background())

	var types []string
	for len(events) > 0 {
		types = append(types, (<-events).Type)
	}
	want := []string{eventbus.StreamConnected, eventbus.EnvelopeRejected, eventbus.StreamTerminated}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Fatalf("events=%v want %v", types, want)
	}
}

func TestEndToEndOverWebsocket(t *testing.T) {
	up := ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/poll/123456" {
			http.NotFound(w, r)
			return
		}
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		_ = c.WriteMessage(ws.TextMessage, []byte(`{"targetAppID":"x","message":{"title":"hello","content":"world"}}`))
		_ = c.WriteControl(ws.PingMessage, nil, time.Now().Add(time.Second))
		_ = c.WriteMessage(ws.BinaryMessage, []byte{0xff})
		_ = c.WriteMessage(ws.TextMessage, []byte(`{"targetAppID":"cub3d.notify","dataPayload":[{"key":"body","value":"keyed"}]}`))
		_ = c.WriteControl(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseGoingAway, "restart"), time.Now().Add(time.Second))
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/poll/123456"
	sink := &recordingSink{}
	l := New(Config{URL: url}, websocket.NewDialer(websocket.Config{HandshakeTimeout: time.Second}, logx.Nop()), sink, logx.Nop(), nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := l.Run(ctx)

	var te *TerminatedError
	if !errors.As(err, &te) || te.CloseCode != ws.CloseGoingAway || te.CloseText != "restart" {
		t.Fatalf("expected going-away close, got %v", err)
	}
	calls := sink.calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(calls))
	}
	if calls[0].TitleText() != "hello" || calls[1].BodyText() != "keyed" || calls[1].Title != nil {
		t.Fatalf("unexpected requests %+v", calls)
	}
	st := l.Stats()
	if st.PingFrames != 1 || st.BinaryFrames != 1 || st.TextFrames != 2 {
		t.Fatalf("stats=%+v", st)
	}
}
