package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.etcd.io/bbolt"
	bolterrors "go.etcd.io/bbolt/errors"
	"go.uber.org/zap"
)

const (
	bucketDevices = "ADB_Devices"
	slotPrefix    = "device_"
)

// DefaultWriteWait bounds how long a write waits for the file lock when the
// caller's context has no deadline.
const DefaultWriteWait = 30 * time.Second

// lockAttempt is how long each bbolt open waits on the file lock before the
// context is checked again.
const lockAttempt = 250 * time.Millisecond

// ErrUnavailable is returned when the registry cannot be written.
var ErrUnavailable = errors.New("device registry unavailable")

// pathLocks holds one lock per registry file, shared by every Store in the
// process. bbolt's file lock covers other processes.
var pathLocks sync.Map

func lockFor(path string) chan struct{} {
	key := filepath.Clean(path)
	if abs, err := filepath.Abs(key); err == nil {
		key = abs
	}
	lock, _ := pathLocks.LoadOrStore(key, make(chan struct{}, 1))
	return lock.(chan struct{})
}

// Store persists discovered debug-bridge endpoints in a bbolt file. Endpoints
// live in slots device_0, device_1, ... in the order they were first seen.
type Store struct {
	path   string
	logger *zap.Logger
	lock   chan struct{}
}

// NewStore returns a store backed by the file at path. The file is created on the first write.
func NewStore(path string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{path: path, logger: logger, lock: lockFor(path)}
}

// Path returns the backing file.
func (s *Store) Path() string {
	return s.path
}

// Load returns every known endpoint ordered by slot. A missing or unreadable
// store is treated as empty.
func (s *Store) Load() ([]string, error) {
	s.lock <- struct{}{}
	defer func() { <-s.lock }()

	if _, err := os.Stat(s.path); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	db, err := bbolt.Open(s.path, 0o600, &bbolt.Options{Timeout: time.Second, ReadOnly: true})
	if err != nil {
		s.logger.Warn("Device registry unreadable, treating as empty", zap.String("path", s.path), zap.Error(err))
		return nil, nil
	}
	defer db.Close()

	var slots []slot
	err = db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketDevices))
		if bucket == nil {
			return nil
		}
		slots = readSlots(bucket, s.logger)
		return nil
	})
	if err != nil {
		s.logger.Warn("Device registry unreadable, treating as empty", zap.String("path", s.path), zap.Error(err))
		return nil, nil
	}
	return endpoints(slots), nil
}

// Save merges endpoints into the store. Endpoints already present keep their
// slot; new ones are appended after the highest slot. Nothing is removed.
// Concurrent writers wait their turn until ctx is done.
func (s *Store) Save(ctx context.Context, eps []string) error {
	_, err := s.merge(ctx, eps)
	return err
}

// Add stores a single endpoint and reports whether it was new.
func (s *Store) Add(ctx context.Context, endpoint string) (bool, error) {
	added, err := s.merge(ctx, []string{endpoint})
	if err != nil {
		return false, err
	}
	return added > 0, nil
}

func (s *Store) merge(ctx context.Context, eps []string) (int, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultWriteWait)
		defer cancel()
	}

	select {
	case s.lock <- struct{}{}:
	case <-ctx.Done():
		return 0, fmt.Errorf("%w: waiting for %s: %v", ErrUnavailable, s.path, ctx.Err())
	}
	defer func() { <-s.lock }()

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	db, err := s.openWritable(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: open %s: %v", ErrUnavailable, s.path, err)
	}
	defer db.Close()

	added := 0
	err = db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(bucketDevices))
		if err != nil {
			return err
		}

		existing := readSlots(bucket, s.logger)
		known := make(map[string]struct{}, len(existing))
		next := 0
		for _, sl := range existing {
			known[sl.endpoint] = struct{}{}
			if sl.index >= next {
				next = sl.index + 1
			}
		}

		for _, ep := range eps {
			ep = strings.TrimSpace(ep)
			if ep == "" {
				continue
			}
			if _, dup := known[ep]; dup {
				continue
			}
			if err := bucket.Put([]byte(slotKey(next)), []byte(ep)); err != nil {
				return err
			}
			known[ep] = struct{}{}
			next++
			added++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: write %s: %v", ErrUnavailable, s.path, err)
	}

	s.logger.Debug("Device registry updated",
		zap.String("path", s.path),
		zap.Int("offered", len(eps)),
		zap.Int("added", added),
	)
	return added, nil
}

// openWritable opens the file for writing, retrying while another process
// holds the lock.
func (s *Store) openWritable(ctx context.Context) (*bbolt.DB, error) {
	for {
		db, err := bbolt.Open(s.path, 0o600, &bbolt.Options{Timeout: lockAttempt})
		if !errors.Is(err, bolterrors.ErrTimeout) {
			return db, err
		}
		s.logger.Debug("Device registry locked, waiting", zap.String("path", s.path))
		if ctx.Err() != nil {
			return nil, err
		}
	}
}

type slot struct {
	index    int
	endpoint string
}

func slotKey(index int) string {
	return slotPrefix + strconv.Itoa(index)
}

func parseSlot(key string) (int, bool) {
	suffix, ok := strings.CutPrefix(key, slotPrefix)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(suffix)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// readSlots returns the bucket's slots in numeric order. bbolt iterates keys
// bytewise, which would put device_10 before device_2.
func readSlots(bucket *bbolt.Bucket, logger *zap.Logger) []slot {
	var slots []slot
	_ = bucket.ForEach(func(k, v []byte) error {
		index, ok := parseSlot(string(k))
		if !ok {
			logger.Debug("Skipping unrecognised registry key", zap.ByteString("key", k))
			return nil
		}
		slots = append(slots, slot{index: index, endpoint: string(v)})
		return nil
	})
	sort.Slice(slots, func(i, j int) bool { return slots[i].index < slots[j].index })
	return slots
}

func endpoints(slots []slot) []string {
	seen := make(map[string]struct{}, len(slots))
	out := make([]string, 0, len(slots))
	for _, sl := range slots {
		if _, dup := seen[sl.endpoint]; dup {
			continue
		}
		seen[sl.endpoint] = struct{}{}
		out = append(out, sl.endpoint)
	}
	return out
}
