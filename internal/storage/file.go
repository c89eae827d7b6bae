package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"remindbot/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.snapshot.json (full state: next id + live records)
//   - <prefix>.journal.jsonl (append-only insert/delete ops)
//
// The journal is replayed over the snapshot on open and compacted into a
// fresh snapshot every compactEvery writes. A record is durable once its
// journal line is written and synced.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journalFile  *os.File

	nextID  int64
	records map[int64]Reminder

	writes int
}

const compactEvery = 512

type journalOp struct {
	Op     string   `json:"op"` // "insert" | "delete"
	Record Reminder `json:"record"`
}

type snapshot struct {
	NextID  int64      `json:"next_id"`
	Records []Reminder `json:"records"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(filepath.Base(path)))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	st := &fileStore{
		log:          log,
		snapshotPath: snapPath,
		nextID:       1,
		records:      map[int64]Reminder{},
	}
	_ = st.loadSnapshot(snapPath)
	if err := st.replayJournal(journalPath); err != nil {
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	st.journalFile = jf
	return st, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return nil
	}
	// Final compact so the snapshot alone carries the state.
	if err := s.compactLocked(); err != nil {
		s.log.Debug("final compact failed", logx.Err(err))
	}
	err := s.journalFile.Close()
	s.journalFile = nil
	return err
}

func (s *fileStore) Insert(ctx context.Context, recipient int64, timeOfDay string, text string) (int64, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return 0, ErrClosed
	}

	r := Reminder{ID: s.nextID, Recipient: recipient, TimeOfDay: timeOfDay, Text: text}
	if err := s.appendLocked(journalOp{Op: "insert", Record: r}); err != nil {
		return 0, err
	}
	// Commit in-memory state only after the journal write succeeded.
	s.nextID++
	s.records[r.ID] = r
	return r.ID, nil
}

func (s *fileStore) Delete(ctx context.Context, id int64) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return false, ErrClosed
	}
	if _, ok := s.records[id]; !ok {
		return false, nil
	}
	if err := s.appendLocked(journalOp{Op: "delete", Record: Reminder{ID: id}}); err != nil {
		return false, err
	}
	delete(s.records, id)
	return true, nil
}

func (s *fileStore) ListByRecipient(ctx context.Context, recipient int64) ([]Reminder, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return nil, ErrClosed
	}
	var out []Reminder
	for _, r := range s.records {
		if r.Recipient == recipient {
			out = append(out, r)
		}
	}
	sortReminders(out)
	return out, nil
}

func (s *fileStore) ListAll(ctx context.Context) ([]Reminder, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return nil, ErrClosed
	}
	out := make([]Reminder, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	return out, nil
}

// sortReminders orders by time of day ascending, ties broken by id.
// Canonical zero-padded HH:MM compares correctly as a string.
func sortReminders(rs []Reminder) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].TimeOfDay != rs[j].TimeOfDay {
			return rs[i].TimeOfDay < rs[j].TimeOfDay
		}
		return rs[i].ID < rs[j].ID
	})
}

func (s *fileStore) appendLocked(op journalOp) error {
	enc := json.NewEncoder(s.journalFile)
	if err := enc.Encode(op); err != nil {
		return err
	}
	if err := s.journalFile.Sync(); err != nil {
		return err
	}
	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	snap := snapshot{NextID: s.nextID, Records: make([]Reminder, 0, len(s.records))}
	for _, r := range s.records {
		snap.Records = append(snap.Records, r)
	}
	sort.Slice(snap.Records, func(i, j int) bool { return snap.Records[i].ID < snap.Records[j].ID })

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, 2)
	return err
}

func (s *fileStore) loadSnapshot(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap snapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	if snap.NextID > 0 {
		s.nextID = snap.NextID
	}
	for _, r := range snap.Records {
		s.records[r.ID] = r
	}
	return nil
}

func (s *fileStore) replayJournal(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var op journalOp
		if err := json.Unmarshal(sc.Bytes(), &op); err != nil {
			// Tolerate a torn tail line from a crash mid-append.
			continue
		}
		switch op.Op {
		case "insert":
			s.records[op.Record.ID] = op.Record
			if op.Record.ID >= s.nextID {
				s.nextID = op.Record.ID + 1
			}
		case "delete":
			delete(s.records, op.Record.ID)
		}
	}
	return sc.Err()
}
