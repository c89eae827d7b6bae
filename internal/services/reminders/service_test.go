package reminders

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"remindbot/internal/storage"
	"remindbot/pkg/daytime"
	"remindbot/pkg/logx"
)

type fakeTimers struct {
	mu        sync.Mutex
	fires     map[int64]func()
	ats       map[int64]daytime.Time
	createErr error
	cancelled []int64
}

func newFakeTimers() *fakeTimers {
	return &fakeTimers{fires: map[int64]func(){}, ats: map[int64]daytime.Time{}}
}

func (f *fakeTimers) Create(id int64, at daytime.Time, fire func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.fires[id] = fire
	f.ats[id] = at
	return nil
}

func (f *fakeTimers) Cancel(id int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
	if _, ok := f.fires[id]; !ok {
		return false
	}
	delete(f.fires, id)
	delete(f.ats, id)
	return true
}

func (f *fakeTimers) fireNow(id int64) bool {
	f.mu.Lock()
	fire, ok := f.fires[id]
	f.mu.Unlock()
	if !ok {
		return false
	}
	fire()
	return true
}

func (f *fakeTimers) armed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fires)
}

type fakeNotifier struct {
	mu    sync.Mutex
	sends []delivery
	err   error
}

type delivery struct {
	recipient int64
	text      string
}

func (f *fakeNotifier) Send(ctx context.Context, recipient int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sends = append(f.sends, delivery{recipient: recipient, text: text})
	return nil
}

func (f *fakeNotifier) sent() []delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]delivery(nil), f.sends...)
}

func newTestService(t *testing.T) (*Service, storage.Store, *fakeTimers, *fakeNotifier) {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "memory"}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	timers := newFakeTimers()
	notifier := &fakeNotifier{}
	svc := New(st, timers, notifier, logx.Nop())
	return svc, st, timers, notifier
}

func TestAddListRemove(t *testing.T) {
	t.Parallel()
	svc, _, timers, _ := newTestService(t)
	ctx := context.Background()

	r1, err := svc.Add(ctx, 42, "8:30", "Buy milk")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if r1.At.String() != "08:30" {
		t.Fatalf("At = %s, want canonical 08:30", r1.At)
	}
	r2, err := svc.Add(ctx, 42, "07:00", "Stretch")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if r2.ID == r1.ID {
		t.Fatalf("duplicate id %d", r1.ID)
	}
	if timers.armed() != 2 {
		t.Fatalf("armed = %d, want 2", timers.armed())
	}

	list, err := svc.List(ctx, 42)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].ID != r2.ID || list[1].ID != r1.ID {
		t.Fatalf("list order: %+v", list)
	}

	ok, err := svc.Remove(ctx, 42, r1.ID)
	if err != nil || !ok {
		t.Fatalf("Remove = (%v, %v), want (true, nil)", ok, err)
	}
	ok, err = svc.Remove(ctx, 42, r1.ID)
	if err != nil || ok {
		t.Fatalf("second Remove = (%v, %v), want (false, nil)", ok, err)
	}
	if timers.armed() != 1 {
		t.Fatalf("armed = %d, want 1", timers.armed())
	}
}

func TestRemoveScopedToRecipient(t *testing.T) {
	t.Parallel()
	svc, _, timers, _ := newTestService(t)
	ctx := context.Background()

	r, err := svc.Add(ctx, 42, "08:30", "Buy milk")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	ok, err := svc.Remove(ctx, 7, r.ID)
	if err != nil || ok {
		t.Fatalf("foreign Remove = (%v, %v), want (false, nil)", ok, err)
	}
	if timers.armed() != 1 {
		t.Fatal("foreign Remove disarmed the timer")
	}

	ok, err = svc.Remove(ctx, 42, r.ID)
	if err != nil || !ok {
		t.Fatalf("owner Remove = (%v, %v), want (true, nil)", ok, err)
	}
}

func TestAddRejectsBadTime(t *testing.T) {
	t.Parallel()
	svc, st, timers, _ := newTestService(t)
	ctx := context.Background()

	for _, raw := range []string{"", "25:00", "8:60", "noon", "8.30"} {
		if _, err := svc.Add(ctx, 42, raw, "x"); !errors.Is(err, daytime.ErrInvalidFormat) {
			t.Fatalf("Add(%q) err = %v, want ErrInvalidFormat", raw, err)
		}
	}
	all, err := st.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(all) != 0 || timers.armed() != 0 {
		t.Fatalf("rejected adds left state: %d records, %d timers", len(all), timers.armed())
	}
}

func TestAddPartialSchedule(t *testing.T) {
	t.Parallel()
	svc, st, timers, _ := newTestService(t)
	ctx := context.Background()

	timers.createErr = errors.New("runner gone")
	r, err := svc.Add(ctx, 42, "08:30", "Buy milk")
	if !errors.Is(err, ErrPartiallyScheduled) {
		t.Fatalf("Add err = %v, want ErrPartiallyScheduled", err)
	}
	if r.ID == 0 {
		t.Fatal("partially scheduled reminder should carry its id")
	}

	// The record must survive so a restart can arm it.
	all, err := st.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(all) != 1 || all[0].ID != r.ID {
		t.Fatalf("stored state: %+v", all)
	}
}

func TestStartArmsStoredAndSkipsCorrupt(t *testing.T) {
	t.Parallel()
	svc, st, timers, notifier := newTestService(t)
	ctx := context.Background()

	id1, _ := st.Insert(ctx, 42, "08:30", "Buy milk")
	id2, _ := st.Insert(ctx, 7, "21:00", "Lights off")
	corrupt, _ := st.Insert(ctx, 42, "26:99", "broken row")

	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer svc.Stop(ctx)

	if timers.armed() != 2 {
		t.Fatalf("armed = %d, want 2", timers.armed())
	}
	if timers.fireNow(corrupt) {
		t.Fatal("corrupt record got a timer")
	}

	if !timers.fireNow(id1) {
		t.Fatalf("no timer for %d", id1)
	}
	if !timers.fireNow(id2) {
		t.Fatalf("no timer for %d", id2)
	}
	got := notifier.sent()
	if len(got) != 2 || got[0] != (delivery{42, "🔔 Reminder: Buy milk"}) || got[1] != (delivery{7, "🔔 Reminder: Lights off"}) {
		t.Fatalf("deliveries: %+v", got)
	}
}

func TestFireBeforeStartIsDropped(t *testing.T) {
	t.Parallel()
	svc, _, timers, notifier := newTestService(t)
	ctx := context.Background()

	r, err := svc.Add(ctx, 42, "08:30", "Buy milk")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	timers.fireNow(r.ID)
	if len(notifier.sent()) != 0 {
		t.Fatal("fire delivered before Start")
	}

	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer svc.Stop(ctx)
	timers.fireNow(r.ID)
	if len(notifier.sent()) != 1 {
		t.Fatal("fire not delivered after Start")
	}
}

func TestDeliveryFailureDoesNotDisarm(t *testing.T) {
	t.Parallel()
	svc, _, timers, notifier := newTestService(t)
	ctx := context.Background()

	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer svc.Stop(ctx)

	r, err := svc.Add(ctx, 42, "08:30", "Buy milk")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	notifier.err = errors.New("telegram: 429")
	timers.fireNow(r.ID)

	// Still armed and deliverable once the transport recovers.
	notifier.err = nil
	if !timers.fireNow(r.ID) {
		t.Fatal("timer disarmed after delivery failure")
	}
	if len(notifier.sent()) != 1 {
		t.Fatalf("sends = %d, want 1", len(notifier.sent()))
	}
}

// The full lifecycle against the durable default driver: add, list, remove,
// then a simulated restart re-arming what survived.
func TestLifecycleSQLite(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reminders.db")

	st, err := storage.Open(storage.Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	timers := newFakeTimers()
	svc := New(st, timers, &fakeNotifier{}, logx.Nop())

	r1, err := svc.Add(ctx, 42, "08:30", "Buy milk")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if r1.ID != 1 {
		t.Fatalf("first id = %d, want 1", r1.ID)
	}
	r2, err := svc.Add(ctx, 42, "21:00", "Lights off")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	list, err := svc.List(ctx, 42)
	if err != nil || len(list) != 2 {
		t.Fatalf("List = (%v, %v), want 2 reminders", list, err)
	}

	if ok, err := svc.Remove(ctx, 42, r1.ID); err != nil || !ok {
		t.Fatalf("Remove = (%v, %v)", ok, err)
	}
	list, err = svc.List(ctx, 42)
	if err != nil || len(list) != 1 || list[0].ID != r2.ID {
		t.Fatalf("List after remove = (%v, %v)", list, err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Restart: a fresh store and service over the same file must arm only
	// the surviving reminder.
	st2, err := storage.Open(storage.Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	t.Cleanup(func() { _ = st2.Close() })
	timers2 := newFakeTimers()
	svc2 := New(st2, timers2, &fakeNotifier{}, logx.Nop())
	if err := svc2.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer svc2.Stop(ctx)
	if timers2.armed() != 1 {
		t.Fatalf("armed after restart = %d, want 1", timers2.armed())
	}
	if timers2.fireNow(r1.ID) {
		t.Fatal("removed reminder was re-armed")
	}
	if !timers2.fireNow(r2.ID) {
		t.Fatal("surviving reminder not re-armed")
	}
}

func TestStopGatesFires(t *testing.T) {
	t.Parallel()
	svc, _, timers, notifier := newTestService(t)
	ctx := context.Background()

	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	r, err := svc.Add(ctx, 42, "08:30", "Buy milk")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := svc.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	timers.fireNow(r.ID)
	if len(notifier.sent()) != 0 {
		t.Fatal("fire delivered after Stop")
	}
}
