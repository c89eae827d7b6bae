package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"remindbot/pkg/logx"
)

func openDriver(t *testing.T, driver string) Store {
	t.Helper()
	cfg := Config{Driver: driver, Path: filepath.Join(t.TempDir(), "reminders.db")}
	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open(%s): %v", driver, err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestStoreContract(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"memory", "file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			st := openDriver(t, driver)
			ctx := context.Background()

			id1, err := st.Insert(ctx, 42, "08:30", "Buy milk")
			if err != nil {
				t.Fatalf("Insert: %v", err)
			}
			id2, err := st.Insert(ctx, 42, "07:00", "Stretch")
			if err != nil {
				t.Fatalf("Insert: %v", err)
			}
			if id2 <= id1 {
				t.Fatalf("ids not monotonic: %d then %d", id1, id2)
			}
			if _, err := st.Insert(ctx, 7, "09:00", "Other chat"); err != nil {
				t.Fatalf("Insert: %v", err)
			}

			// Ordered by time of day, not insertion.
			list, err := st.ListByRecipient(ctx, 42)
			if err != nil {
				t.Fatalf("ListByRecipient: %v", err)
			}
			if len(list) != 2 {
				t.Fatalf("len = %d, want 2", len(list))
			}
			if list[0].ID != id2 || list[1].ID != id1 {
				t.Fatalf("order = [%d %d], want [%d %d]", list[0].ID, list[1].ID, id2, id1)
			}
			if list[1].Text != "Buy milk" || list[1].TimeOfDay != "08:30" {
				t.Fatalf("record mismatch: %+v", list[1])
			}

			// Stable across repeated calls with no mutation.
			again, err := st.ListByRecipient(ctx, 42)
			if err != nil {
				t.Fatalf("ListByRecipient: %v", err)
			}
			for i := range list {
				if again[i].ID != list[i].ID {
					t.Fatalf("ordering unstable at %d", i)
				}
			}

			all, err := st.ListAll(ctx)
			if err != nil {
				t.Fatalf("ListAll: %v", err)
			}
			if len(all) != 3 {
				t.Fatalf("ListAll len = %d, want 3", len(all))
			}

			ok, err := st.Delete(ctx, id1)
			if err != nil || !ok {
				t.Fatalf("Delete = (%v, %v), want (true, nil)", ok, err)
			}
			ok, err = st.Delete(ctx, id1)
			if err != nil || ok {
				t.Fatalf("second Delete = (%v, %v), want (false, nil)", ok, err)
			}

			list, err = st.ListByRecipient(ctx, 42)
			if err != nil {
				t.Fatalf("ListByRecipient: %v", err)
			}
			if len(list) != 1 || list[0].ID != id2 {
				t.Fatalf("after delete: %+v", list)
			}
		})
	}
}

func TestStoreTieBreakByID(t *testing.T) {
	t.Parallel()
	st := openDriver(t, "memory")
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 3; i++ {
		id, err := st.Insert(ctx, 1, "10:00", fmt.Sprintf("r%d", i))
		if err != nil {
			t.Fatalf("Insert: %v", err)
		}
		ids = append(ids, id)
	}
	list, err := st.ListByRecipient(ctx, 1)
	if err != nil {
		t.Fatalf("ListByRecipient: %v", err)
	}
	for i, r := range list {
		if r.ID != ids[i] {
			t.Fatalf("tie order[%d] = %d, want %d", i, r.ID, ids[i])
		}
	}
}

func TestStoreConcurrentDistinctIDs(t *testing.T) {
	t.Parallel()
	st := openDriver(t, "file")
	ctx := context.Background()

	const n = 16
	ids := make([]int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := st.Insert(ctx, int64(i), "12:00", "concurrent")
			if err != nil {
				t.Errorf("Insert: %v", err)
				return
			}
			ids[i] = id
		}()
	}
	wg.Wait()

	seen := map[int64]bool{}
	for _, id := range ids {
		if id == 0 || seen[id] {
			t.Fatalf("duplicate or missing id: %v", ids)
		}
		seen[id] = true
	}

	// Remove half concurrently; net state must match.
	wg = sync.WaitGroup{}
	for i := 0; i < n; i += 2 {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := st.Delete(ctx, ids[i]); err != nil || !ok {
				t.Errorf("Delete(%d) = (%v, %v)", ids[i], ok, err)
			}
		}()
	}
	wg.Wait()

	all, err := st.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(all) != n/2 {
		t.Fatalf("len = %d, want %d", len(all), n/2)
	}
}

func TestFileStoreRecoversAfterReopen(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfg := Config{Driver: "file", Path: filepath.Join(dir, "reminders.db")}
	ctx := context.Background()

	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	id1, _ := st.Insert(ctx, 42, "08:30", "Buy milk")
	id2, _ := st.Insert(ctx, 42, "21:00", "Lights off")
	if _, err := st.Delete(ctx, id1); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st, err = Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()

	all, err := st.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(all) != 1 || all[0].ID != id2 || all[0].Text != "Lights off" {
		t.Fatalf("recovered state: %+v", all)
	}

	// Deleted ids are never reused.
	id3, err := st.Insert(ctx, 42, "06:00", "New")
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if id3 <= id2 {
		t.Fatalf("id reuse: %d after %d", id3, id2)
	}
}
