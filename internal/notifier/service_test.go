package notifier

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"

	"cub3dnotify/internal/envelope"
	"cub3dnotify/internal/eventbus"
	logx "cub3dnotify/pkg/logx"
)

type fakeBackend struct {
	shown []Notification
	err   error
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Show(ctx context.Context, n Notification) (uint32, error) {
	f.shown = append(f.shown, n)
	if f.err != nil {
		return 0, f.err
	}
	return uint32(len(f.shown)), nil
}

func str(s string) *string { return &s }

func TestNotifyMapsRequest(t *testing.T) {
	fb := &fakeBackend{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	s := New(Config{Expire: 3 * time.Second}, fb, logx.Nop(), bus)
	req := envelope.Request{Rule: envelope.RuleDirect, TargetAppID: "x", Title: str("T"), Body: str("B"), Icon: "firefox"}
	if err := s.Notify(context.Background(), req); err != nil {
		t.Fatalf("notify: %v", err)
	}

	if len(fb.shown) != 1 {
		t.Fatalf("expected 1 show, got %d", len(fb.shown))
	}
	got := fb.shown[0]
	want := Notification{AppName: DefaultAppName, Title: "T", Body: "B", Icon: "firefox", Expire: 3 * time.Second}
	if got != want {
		t.Fatalf("got %+v want %+v", got, want)
	}

	select {
	case e := <-events:
		if e.Type != eventbus.NotificationShown {
			t.Fatalf("event type=%q", e.Type)
		}
		ev := e.Data.(NotificationEvent)
		if ev.Rule != "direct" || ev.AppID != "x" || ev.ID != 1 || ev.Backend != "fake" {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("no event published")
	}
}

func TestNotifyAbsentFieldsRenderEmpty(t *testing.T) {
	fb := &fakeBackend{}
	s := New(Config{AppName: "custom"}, fb, logx.Nop(), nil)
	if err := s.Notify(context.Background(), envelope.Request{Rule: envelope.RuleKeyed}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if got := fb.shown[0]; got.Title != "" || got.Body != "" || got.AppName != "custom" || got.Icon != "" {
		t.Fatalf("unexpected notification %+v", got)
	}
}

func TestNotifyFailureIsReturnedAndRecorded(t *testing.T) {
	boom := errors.New("no notification daemon")
	fb := &fakeBackend{err: boom}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	s := New(Config{}, fb, logx.Nop(), bus)
	err := s.Notify(context.Background(), envelope.Request{Rule: envelope.RuleDirect, Title: str("T")})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped backend error, got %v", err)
	}
	h := s.History()
	if len(h) != 1 || h[0].Error == "" {
		t.Fatalf("failure not recorded: %+v", h)
	}
	e := <-events
	if e.Type != eventbus.NotificationFailed {
		t.Fatalf("event type=%q", e.Type)
	}
}

func TestHistoryIsBounded(t *testing.T) {
	fb := &fakeBackend{}
	s := New(Config{HistorySize: 3}, fb, logx.Nop(), nil)
	for i := 0; i < 5; i++ {
		_ = s.Notify(context.Background(), envelope.Request{Rule: envelope.RuleKeyed, Title: str(string(rune('a' + i)))})
	}
	h := s.History()
	if len(h) != 3 {
		t.Fatalf("history len=%d", len(h))
	}
	if h[0].Title != "c" || h[2].Title != "e" {
		t.Fatalf("unexpected history order: %+v", h)
	}
}

func TestDisabledServiceDrops(t *testing.T) {
	s := New(Config{}, nil, logx.Nop(), nil)
	if s.Enabled() || s.Backend() != DriverNone {
		t.Fatalf("expected disabled service")
	}
	if err := s.Notify(context.Background(), envelope.Request{Rule: envelope.RuleDirect}); err != nil {
		t.Fatalf("disabled notify must not fail: %v", err)
	}
	if len(s.History()) != 0 {
		t.Fatalf("disabled service must not record history")
	}
}

func TestOpenBackend(t *testing.T) {
	cases := map[string]string{"": DriverDBus, "DBus": DriverDBus, "log": DriverLog}
	for in, want := range cases {
		b, err := OpenBackend(in, logx.Nop())
		if err != nil || b == nil || b.Name() != want {
			t.Fatalf("OpenBackend(%q)=%v,%v", in, b, err)
		}
	}
	if b, err := OpenBackend("none", logx.Nop()); b != nil || err != nil {
		t.Fatalf("none should disable: %v %v", b, err)
	}
	if _, err := OpenBackend("growl", logx.Nop()); !errors.Is(err, errNoBackend) {
		t.Fatalf("expected errNoBackend, got %v", err)
	}
}

func TestLogBackendIDs(t *testing.T) {
	b := NewLogBackend(logx.Nop())
	id1, _ := b.Show(context.Background(), Notification{Title: "a"})
	id2, _ := b.Show(context.Background(), Notification{Title: "b"})
	if id1 != 1 || id2 != 2 {
		t.Fatalf("ids=%d,%d", id1, id2)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.Show(ctx, Notification{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
}

func TestApplyChangesLaterRequests(t *testing.T) {
	fb := &fakeBackend{}
	s := New(Config{HistorySize: 5}, fb, logx.Nop(), nil)
	req := envelope.Request{Rule: envelope.RuleKeyed, TargetAppID: envelope.KeyedSelector}
	for i := 0; i < 4; i++ {
		if err := s.Notify(context.Background(), req); err != nil {
			t.Fatalf("notify: %v", err)
		}
	}

	s.Apply(Config{AppName: "Other", Expire: 2 * time.Second, HistorySize: 2})
	if got := len(s.History()); got != 2 {
		t.Fatalf("history not trimmed: %d", got)
	}
	if err := s.Notify(context.Background(), req); err != nil {
		t.Fatalf("notify: %v", err)
	}
	last := fb.shown[len(fb.shown)-1]
	if last.AppName != "Other" || last.Expire != 2*time.Second {
		t.Fatalf("notification=%+v", last)
	}
	if cfg := s.Config(); cfg.HistorySize != 2 || cfg.AppName != "Other" {
		t.Fatalf("config=%+v", cfg)
	}
}

func TestNotifyArgs(t *testing.T) {
	args := notifyArgs(Notification{AppName: "CUB3D", Title: "T", Body: "B", Icon: "firefox", Expire: 1500 * time.Millisecond})
	if len(args) != 8 {
		t.Fatalf("Notify takes 8 args, got %d", len(args))
	}
	if args[0] != "CUB3D" || args[1] != uint32(0) || args[2] != "firefox" || args[3] != "T" || args[4] != "B" {
		t.Fatalf("unexpected args %#v", args)
	}
	if _, ok := args[6].(map[string]dbus.Variant); !ok {
		t.Fatalf("hints must be a{sv}, got %T", args[6])
	}
	if args[7] != int32(1500) {
		t.Fatalf("expire=%v", args[7])
	}
	if notifyArgs(Notification{})[7] != int32(-1) {
		t.Fatalf("zero expire must defer to the daemon")
	}
	if got := notifyArgs(Notification{Expire: 30 * 24 * time.Hour})[7]; got != int32(math.MaxInt32) {
		t.Fatalf("long expire must clamp, got %v", got)
	}
}

func TestDBusConnectFailure(t *testing.T) {
	b := &DBusBackend{connect: func(context.Context) (*dbus.Conn, error) {
		return nil, errors.New("no session bus")
	}}
	if _, err := b.Show(context.Background(), Notification{}); err == nil {
		t.Fatalf("expected connect error")
	}
}
