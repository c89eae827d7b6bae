// Package reminders implements the daily reminder scheduler: it keeps the
// persistent store and the armed timers in step and routes fires to the
// notifier.
package reminders

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"remindbot/internal/storage"
	"remindbot/pkg/daytime"
	logx "remindbot/pkg/logx"
)

// ErrPartiallyScheduled marks a reminder that was persisted but whose timer
// could not be armed. It will recover on the next restart.
var ErrPartiallyScheduled = errors.New("reminder stored but not scheduled")

// Reminder is the service-level view of a stored record, with the time of
// day parsed.
type Reminder struct {
	ID        int64
	Recipient int64
	At        daytime.Time
	Text      string
}

// Notifier delivers a reminder text to a recipient chat.
type Notifier interface {
	Send(ctx context.Context, recipient int64, text string) error
}

// TimerRegistry arms and disarms recurring daily timers keyed by id.
type TimerRegistry interface {
	Create(id int64, at daytime.Time, fire func()) error
	Cancel(id int64) bool
}

type Service struct {
	store    storage.Store
	timers   TimerRegistry
	notifier Notifier
	log      logx.Logger

	mu      sync.Mutex
	runCtx  context.Context
	cancel  context.CancelFunc
	started bool
}

func New(store storage.Store, timers TimerRegistry, notifier Notifier, log logx.Logger) *Service {
	return &Service{store: store, timers: timers, notifier: notifier, log: log}
}

// Start loads every stored reminder and arms its timer. Records whose time
// of day no longer parses are skipped with a warning so one corrupt row
// cannot take the whole service down. A store read failure is fatal.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.runCtx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	records, err := s.store.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("load reminders: %w", err)
	}

	armed, skipped := 0, 0
	for _, rec := range records {
		at, err := daytime.Parse(rec.TimeOfDay)
		if err != nil {
			skipped++
			s.log.Warn("skipping reminder with bad time of day",
				logx.Int64("id", rec.ID), logx.String("time_of_day", rec.TimeOfDay), logx.Err(err))
			continue
		}
		if err := s.arm(rec.ID, rec.Recipient, at, rec.Text); err != nil {
			skipped++
			s.log.Warn("skipping reminder that failed to arm", logx.Int64("id", rec.ID), logx.Err(err))
			continue
		}
		armed++
	}
	s.log.Info("reminders loaded", logx.Int("armed", armed), logx.Int("skipped", skipped))
	return nil
}

// Stop disarms fire dispatch. Timer shutdown itself belongs to the registry
// owner.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	s.started = false
	s.cancel()
	return nil
}

// Add persists a reminder and arms its timer. The raw time must be HH:MM;
// the stored form is the canonical zero-padded rendering. If the store write
// succeeds but arming fails, the record is kept and ErrPartiallyScheduled
// is returned.
func (s *Service) Add(ctx context.Context, recipient int64, raw string, text string) (Reminder, error) {
	at, err := daytime.Parse(raw)
	if err != nil {
		return Reminder{}, err
	}

	id, err := s.store.Insert(ctx, recipient, at.String(), text)
	if err != nil {
		return Reminder{}, fmt.Errorf("store reminder: %w", err)
	}

	r := Reminder{ID: id, Recipient: recipient, At: at, Text: text}
	if err := s.arm(id, recipient, at, text); err != nil {
		s.log.Error("reminder stored but timer not armed", logx.Int64("id", id), logx.Err(err))
		return r, fmt.Errorf("%w: %v", ErrPartiallyScheduled, err)
	}
	return r, nil
}

// Remove disarms and deletes the reminder. It reports whether the id
// existed for that recipient, so one chat cannot delete another chat's
// reminders by guessing ids. The timer is cancelled before the store
// delete so the id cannot fire while half-removed, and cancellation of an
// unknown id is harmless.
func (s *Service) Remove(ctx context.Context, recipient int64, id int64) (bool, error) {
	owned, err := s.store.ListByRecipient(ctx, recipient)
	if err != nil {
		return false, fmt.Errorf("check reminder owner: %w", err)
	}
	found := false
	for _, rec := range owned {
		if rec.ID == id {
			found = true
			break
		}
	}
	if !found {
		return false, nil
	}

	s.timers.Cancel(id)
	ok, err := s.store.Delete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("delete reminder: %w", err)
	}
	return ok, nil
}

// List returns the recipient's reminders ordered by time of day, ties by id.
func (s *Service) List(ctx context.Context, recipient int64) ([]Reminder, error) {
	records, err := s.store.ListByRecipient(ctx, recipient)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	out := make([]Reminder, 0, len(records))
	for _, rec := range records {
		at, err := daytime.Parse(rec.TimeOfDay)
		if err != nil {
			s.log.Warn("listing reminder with bad time of day",
				logx.Int64("id", rec.ID), logx.String("time_of_day", rec.TimeOfDay))
			continue
		}
		out = append(out, Reminder{ID: rec.ID, Recipient: rec.Recipient, At: at, Text: rec.Text})
	}
	return out, nil
}

func (s *Service) arm(id int64, recipient int64, at daytime.Time, text string) error {
	return s.timers.Create(id, at, func() {
		s.fire(id, recipient, text)
	})
}

// fire runs on the timer goroutine. Delivery failures are logged and
// dropped; the reminder stays armed for the next day either way.
func (s *Service) fire(id int64, recipient int64, text string) {
	s.mu.Lock()
	ctx := s.runCtx
	started := s.started
	s.mu.Unlock()
	if !started || ctx == nil {
		return
	}

	if err := s.notifier.Send(ctx, recipient, "🔔 Reminder: "+text); err != nil {
		s.log.Error("reminder delivery failed",
			logx.Int64("id", id), logx.Int64("chat_id", recipient), logx.Err(err))
		return
	}
	s.log.Info("reminder delivered", logx.Int64("id", id), logx.Int64("chat_id", recipient))
}
