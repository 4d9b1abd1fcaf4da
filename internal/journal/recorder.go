package journal

import (
	"context"
	"time"

	"cub3dnotify/internal/eventbus"
	"cub3dnotify/internal/notifier"
	logx "cub3dnotify/pkg/logx"
)

// Recorder appends notification events from the bus to a Store.
type Recorder struct {
	st    Store
	log   logx.Logger
	ch    <-chan eventbus.Event
	unsub func()
}

// NewRecorder subscribes immediately so events published before Run starts
// are buffered rather than missed.
func NewRecorder(bus eventbus.Bus, st Store, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	ch, unsub := bus.Subscribe(64, eventbus.NotificationShown, eventbus.NotificationFailed)
	return &Recorder{st: st, log: log, ch: ch, unsub: unsub}
}

// Run appends events until ctx is done. It never blocks the publisher;
// events are dropped if the store falls behind.
func (r *Recorder) Run(ctx context.Context) {
	defer r.unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-r.ch:
			if !ok {
				return
			}
			rec, ok := recordFromEvent(e)
			if !ok {
				continue
			}
			actx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err := r.st.Append(actx, rec)
			cancel()
			if err != nil {
				r.log.Warn("journal append failed", logx.Err(err))
			}
		}
	}
}

func recordFromEvent(e eventbus.Event) (Record, bool) {
	if !eventbus.Matches(e, eventbus.NotificationShown, eventbus.NotificationFailed) {
		return Record{}, false
	}
	ev, ok := e.Data.(notifier.NotificationEvent)
	if !ok {
		return Record{}, false
	}
	at := ev.At
	if at.IsZero() {
		at = e.Time
	}
	return Record{
		At:    at,
		Rule:  ev.Rule,
		AppID: ev.AppID,
		Title: ev.Title,
		Body:  ev.Body,
		OK:    e.Type == eventbus.NotificationShown,
		Error: ev.Error,
	}, true
}
