package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.etcd.io/bbolt"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "devices.db"), nil)
}

func TestLoadMissingStore(t *testing.T) {
	store := newTestStore(t)
	got, err := store.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty registry, got %v", got)
	}
	if _, err := os.Stat(store.Path()); !os.IsNotExist(err) {
		t.Fatalf("load should not create the store file")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	if err := store.Save(context.Background(), []string{"10.0.0.5:5555"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Save(context.Background(), []string{"10.0.0.5:5555"}); err != nil {
		t.Fatalf("second save: %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 || got[0] != "10.0.0.5:5555" {
		t.Fatalf("expected exactly one endpoint, got %v", got)
	}
}

func TestSaveKeepsEarlierEndpoints(t *testing.T) {
	store := newTestStore(t)
	if err := store.Save(context.Background(), []string{"10.0.0.5:5555"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Save(context.Background(), []string{"10.0.0.9:5555"}); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Reopen through a fresh handle to check durability.
	got, err := NewStore(store.Path(), nil).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []string{"10.0.0.5:5555", "10.0.0.9:5555"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("slot %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestSaveOrdersSlotsNumerically(t *testing.T) {
	store := newTestStore(t)
	var eps []string
	for i := 1; i <= 12; i++ {
		eps = append(eps, fmt.Sprintf("192.168.1.%d:5555", i))
	}
	if err := store.Save(context.Background(), eps); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != len(eps) {
		t.Fatalf("expected %d endpoints, got %d", len(eps), len(got))
	}
	for i := range eps {
		if got[i] != eps[i] {
			t.Fatalf("slot %d: expected %s, got %s", i, eps[i], got[i])
		}
	}
}

func TestSaveWritesSlotKeys(t *testing.T) {
	store := newTestStore(t)
	if err := store.Save(context.Background(), []string{"10.0.0.1:5555", "", "10.0.0.2:5555", "10.0.0.1:5555"}); err != nil {
		t.Fatalf("save: %v", err)
	}

	db, err := bbolt.Open(store.Path(), 0o600, &bbolt.Options{Timeout: time.Second, ReadOnly: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	err = db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketDevices))
		if bucket == nil {
			t.Fatalf("expected %s bucket", bucketDevices)
		}
		if v := string(bucket.Get([]byte("device_0"))); v != "10.0.0.1:5555" {
			t.Fatalf("device_0: got %q", v)
		}
		if v := string(bucket.Get([]byte("device_1"))); v != "10.0.0.2:5555" {
			t.Fatalf("device_1: got %q", v)
		}
		if v := bucket.Get([]byte("device_2")); v != nil {
			t.Fatalf("unexpected device_2: %q", v)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestAdd(t *testing.T) {
	store := newTestStore(t)
	added, err := store.Add(context.Background(), "10.0.0.7:5555")
	if err != nil || !added {
		t.Fatalf("expected new endpoint, got %v (%v)", added, err)
	}
	added, err = store.Add(context.Background(), "10.0.0.7:5555")
	if err != nil || added {
		t.Fatalf("expected duplicate to be ignored, got %v (%v)", added, err)
	}
}

func TestLoadCorruptStore(t *testing.T) {
	store := newTestStore(t)
	if err := os.WriteFile(store.Path(), []byte("not a bolt database"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := store.Load()
	if err != nil {
		t.Fatalf("expected corrupt store to read as empty, got %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty registry, got %v", got)
	}
}

func TestSaveFailureSurfaces(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	store := NewStore(filepath.Join(blocker, "devices.db"), nil)
	if err := store.Save(context.Background(), []string{"10.0.0.1:5555"}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestConcurrentSavesAcrossHandles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.db")
	const writers = 40

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ep := fmt.Sprintf("10.0.0.%d:5555", i+1)
			errs <- NewStore(path, nil).Save(context.Background(), []string{ep})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	got, err := NewStore(path, nil).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != writers {
		t.Fatalf("expected %d endpoints, got %d: %v", writers, len(got), got)
	}
	seen := make(map[string]bool, len(got))
	for _, ep := range got {
		seen[ep] = true
	}
	for i := 1; i <= writers; i++ {
		if ep := fmt.Sprintf("10.0.0.%d:5555", i); !seen[ep] {
			t.Fatalf("missing %s", ep)
		}
	}
}

// holdFileLock opens the registry file directly, the way another process would.
func holdFileLock(t *testing.T, path string) *bbolt.DB {
	t.Helper()
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return db
}

func TestSaveWaitsForFileLock(t *testing.T) {
	store := newTestStore(t)
	db := holdFileLock(t, store.Path())
	go func() {
		time.Sleep(1500 * time.Millisecond)
		db.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Save(ctx, []string{"10.0.0.3:5555"}); err != nil {
		t.Fatalf("save should wait for the lock: %v", err)
	}
	got, err := store.Load()
	if err != nil || len(got) != 1 || got[0] != "10.0.0.3:5555" {
		t.Fatalf("unexpected registry %v (%v)", got, err)
	}
}

func TestSaveGivesUpAtDeadline(t *testing.T) {
	store := newTestStore(t)
	db := holdFileLock(t, store.Path())
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 600*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := store.Save(ctx, []string{"10.0.0.3:5555"})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("save ignored its deadline: %s", elapsed)
	}
}

func TestParseSlot(t *testing.T) {
	if n, ok := parseSlot("device_12"); !ok || n != 12 {
		t.Fatalf("expected slot 12, got %d %v", n, ok)
	}
	for _, key := range []string{"device_", "device_x", "host_1", "device_-1"} {
		if _, ok := parseSlot(key); ok {
			t.Fatalf("%q should not parse", key)
		}
	}
}
