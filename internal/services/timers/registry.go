// Package timers maintains one recurring daily timer per reminder id on a
// single cron runner. Arming the same id again replaces the previous timer,
// and a cancelled id is guaranteed not to fire after Cancel returns.
package timers

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"remindbot/pkg/daytime"
	logx "remindbot/pkg/logx"
)

// Config controls the timer registry.
type Config struct {
	Timezone string // IANA TZ, e.g. "Asia/Jakarta"; empty means time.Local
}

type entry struct {
	at      daytime.Time
	entryID cron.EntryID

	// cancelled gates the armed callback. cron removal is applied on the
	// runner goroutine, so a job already dispatched can still run after
	// Remove; the gate makes Cancel's guarantee hold regardless.
	cancelled atomic.Bool
}

type Registry struct {
	mu sync.Mutex

	log logx.Logger
	loc *time.Location

	parser  cron.Parser
	c       *cron.Cron
	entries map[int64]*entry

	started bool
}

func New(cfg Config, log logx.Logger) (*Registry, error) {
	loc := time.Local
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
		}
		loc = l
	}
	r := &Registry{
		log:     log,
		loc:     loc,
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		entries: map[int64]*entry{},
	}
	r.c = cron.New(
		cron.WithParser(r.parser),
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLog{log})),
	)
	return r, nil
}

// Start begins dispatching armed timers. Timers may be created before or
// after Start.
func (r *Registry) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	r.c.Start()
}

// Stop halts dispatch and waits for in-flight fires to finish, or for ctx.
func (r *Registry) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = false
	stop := r.c.Stop()
	r.mu.Unlock()

	select {
	case <-stop.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Create arms a daily timer for id at the given time of day. An existing
// timer for the same id is cancelled first.
func (r *Registry) Create(id int64, at daytime.Time, fire func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.entries[id]; ok {
		old.cancelled.Store(true)
		r.c.Remove(old.entryID)
		delete(r.entries, id)
	}

	e := &entry{at: at}
	spec := fmt.Sprintf("%d %d * * *", at.Minute(), at.Hour())
	eid, err := r.c.AddFunc(spec, r.jobFor(e, id, fire))
	if err != nil {
		return fmt.Errorf("arm timer %d: %w", id, err)
	}
	e.entryID = eid
	r.entries[id] = e
	return nil
}

// Cancel disarms the timer for id. It reports whether a timer existed.
// After Cancel returns the id will not fire again, and cancelling an
// unknown id is a no-op.
func (r *Registry) Cancel(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return false
	}
	e.cancelled.Store(true)
	r.c.Remove(e.entryID)
	delete(r.entries, id)
	return true
}

// Has reports whether id currently has an armed timer.
func (r *Registry) Has(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[id]
	return ok
}

// Len returns the number of armed timers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// NextFire returns the next scheduled fire time for id, if armed and the
// runner is started.
func (r *Registry) NextFire(id int64) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return time.Time{}, false
	}
	next := r.c.Entry(e.entryID).Next
	if next.IsZero() {
		return time.Time{}, false
	}
	return next, true
}

func (r *Registry) jobFor(e *entry, id int64, fire func()) func() {
	return func() {
		if e.cancelled.Load() {
			return
		}
		r.log.Debug("timer fired", logx.Int64("id", id), logx.String("at", e.at.String()))
		fire()
	}
}

// cronLog routes cron runner output (panic recovery) into our logger.
type cronLog struct {
	log logx.Logger
}

func (l cronLog) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, logx.Any("kv", keysAndValues))
}

func (l cronLog) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, logx.Err(err), logx.Any("kv", keysAndValues))
}
