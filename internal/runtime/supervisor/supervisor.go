// Package supervisor runs the agent's named background goroutines under one
// cancellable context, recovering panics and keeping per-name run stats for
// /status. Nothing is restarted: a goroutine that returns stays stopped.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"time"

	logx "cub3dnotify/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log         logx.Logger
	cancelOnErr bool

	wg       sync.WaitGroup
	waitOnce sync.Once
	idle     chan struct{}

	mu       sync.Mutex
	firstErr error
	started  uint64
	tasks    map[string]*TaskStats
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError makes the first recorded error cancel the shared context.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

// Counters summarise all goroutines ever started.
type Counters struct {
	Active  int64  `json:"active"`
	Started uint64 `json:"started"`
}

// TaskStats aggregates runs of goroutines sharing a name.
type TaskStats struct {
	Name        string        `json:"name"`
	Active      int64         `json:"active"`
	Started     uint64        `json:"started"`
	Panics      uint64        `json:"panics"`
	LastStartAt time.Time     `json:"last_start_at"`
	LastStopAt  time.Time     `json:"last_stop_at,omitempty"`
	LastErr     string        `json:"last_err,omitempty"`
	LastPanic   string        `json:"last_panic,omitempty"`
	LastRuntime time.Duration `json:"last_runtime"`
}

type Snapshot struct {
	Counters   Counters    `json:"counters"`
	FirstError string      `json:"first_error,omitempty"`
	Tasks      []TaskStats `json:"tasks"`
}

// panicError carries a recovered panic value.
type panicError struct {
	name  string
	value any
}

func (p *panicError) Error() string { return fmt.Sprintf("panic in %s: %v", p.name, p.value) }

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		idle:   make(chan struct{}),
		tasks:  map[string]*TaskStats{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the shared context without waiting.
func (s *Supervisor) Cancel() { s.cancel() }

// Err returns the first error recorded by any goroutine.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstErr
}

func (s *Supervisor) Counters() Counters {
	if s == nil {
		return Counters{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countersLocked()
}

func (s *Supervisor) countersLocked() Counters {
	c := Counters{Started: s.started}
	for _, t := range s.tasks {
		c.Active += t.Active
	}
	return c
}

// Snapshot lists running tasks first, then by name.
func (s *Supervisor) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.mu.Lock()
	snap := Snapshot{Counters: s.countersLocked(), Tasks: make([]TaskStats, 0, len(s.tasks))}
	if s.firstErr != nil {
		snap.FirstError = s.firstErr.Error()
	}
	for _, t := range s.tasks {
		snap.Tasks = append(snap.Tasks, *t)
	}
	s.mu.Unlock()

	slices.SortFunc(snap.Tasks, func(a, b TaskStats) int {
		if a.Active != b.Active {
			return int(b.Active - a.Active)
		}
		return strings.Compare(a.Name, b.Name)
	})
	return snap
}

// Go runs fn in a named goroutine bound to the supervisor context.
// Returning context.Canceled is a clean stop; any other error or a panic is
// recorded under name.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.wg.Add(1)
	begin := s.begin(name)
	go func() {
		defer s.wg.Done()
		s.log.Debug("goroutine started", logx.String("name", name))

		err := s.call(name, fn)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		s.end(name, begin, err)
		s.log.Debug("goroutine stopped", logx.String("name", name))
	}()
}

// Go0 is Go for functions that cannot fail.
func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

func (s *Supervisor) call(name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("goroutine panicked",
				logx.String("name", name),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
			err = &panicError{name: name, value: r}
		}
	}()
	return fn(s.ctx)
}

func (s *Supervisor) begin(name string) time.Time {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tasks[name]
	if t == nil {
		t = &TaskStats{Name: name}
		s.tasks[name] = t
	}
	s.started++
	t.Started++
	t.Active++
	t.LastStartAt = now
	return now
}

func (s *Supervisor) end(name string, begin time.Time, err error) {
	now := time.Now()
	s.mu.Lock()
	t := s.tasks[name]
	t.Active--
	t.LastStopAt = now
	t.LastRuntime = now.Sub(begin)

	var pe *panicError
	switch {
	case errors.As(err, &pe):
		t.Panics++
		t.LastPanic = fmt.Sprint(pe.value)
		t.LastErr = err.Error()
	case err != nil:
		err = fmt.Errorf("%s: %w", name, err)
		t.LastErr = err.Error()
	}
	if err != nil && s.firstErr == nil {
		s.firstErr = err
	}
	s.mu.Unlock()

	if err != nil && s.cancelOnErr {
		s.cancel()
	}
}

// Stop cancels the shared context and waits for every goroutine.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every goroutine has returned or ctx is done, and then
// reports the first recorded error.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.waitOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.idle)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.idle:
		return s.Err()
	}
}
