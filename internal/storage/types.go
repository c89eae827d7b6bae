package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrClosed = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default, durable)
//   - "file": dependency-free file backend (jsonl journal + snapshot)
//   - "memory": in-memory only; reminders do NOT survive restart
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Reminder is one persisted recurring daily notification request.
//
// TimeOfDay is kept as the raw persisted "HH:MM" string; callers parse it
// with daytime.Parse so that a corrupted value in one record can be skipped
// without failing a whole listing.
type Reminder struct {
	ID        int64
	Recipient int64
	TimeOfDay string
	Text      string
}

// Store is the reminder persistence API.
//
// Implementations must be safe for concurrent use, and every call must
// reflect the latest durable state (no caching layer).
type Store interface {
	// Insert durably persists a new record and returns its fresh unique id.
	// Ids are assigned monotonically and never reused after deletion.
	Insert(ctx context.Context, recipient int64, timeOfDay string, text string) (int64, error)

	// Delete removes the record and reports whether it existed.
	Delete(ctx context.Context, id int64) (bool, error)

	// ListByRecipient returns the recipient's reminders ordered by time of
	// day ascending, ties broken by id ascending. The ordering is stable
	// across calls with no intervening mutation.
	ListByRecipient(ctx context.Context, recipient int64) ([]Reminder, error)

	// ListAll returns every record; used only for startup re-materialization.
	ListAll(ctx context.Context) ([]Reminder, error)

	Close() error
}
