// Package tempdir owns the process wide scratch directory. Every scratch file
// is borrowed through a callback and removed when the callback returns.
package tempdir

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// Prefix names every scratch root so leftovers can be found after a crash.
const Prefix = "romsort-"

const lockName = ".lock"

type root struct {
	dir  string
	lock *flock.Flock
}

var (
	mu      sync.Mutex
	current *root
)

// Init creates the scratch root under base (os.TempDir() when empty). It is a
// no-op when a root already exists.
func Init(ctx context.Context, base string) (string, error) {
	mu.Lock()
	defer mu.Unlock()
	if current != nil {
		return current.dir, nil
	}
	if base == "" {
		base = os.TempDir()
	}
	dir := filepath.Join(base, Prefix+uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create temp root %s: %w", dir, err)
	}
	lock := flock.New(filepath.Join(dir, lockName))
	ok, err := lock.TryLock()
	if err != nil || !ok {
		_ = os.RemoveAll(dir)
		return "", fmt.Errorf("lock temp root %s: %w", dir, err)
	}
	current = &root{dir: dir, lock: lock}
	logutil.GetLogger(ctx).Debug("temp root created", zap.String("dir", dir))
	return dir, nil
}

// Dir returns the scratch root, creating it on first use.
func Dir() (string, error) {
	mu.Lock()
	r := current
	mu.Unlock()
	if r != nil {
		return r.dir, nil
	}
	return Init(context.Background(), "")
}

// Cleanup removes the scratch root. Safe to call more than once.
func Cleanup(ctx context.Context) {
	mu.Lock()
	defer mu.Unlock()
	if current == nil {
		return
	}
	_ = current.lock.Unlock()
	if err := os.RemoveAll(current.dir); err != nil {
		logutil.GetLogger(ctx).Warn("remove temp root failed", zap.String("dir", current.dir), zap.Error(err))
	}
	current = nil
}

// SweepStale removes scratch roots left behind by runs that are no longer
// alive. A root whose lock is still held belongs to a live run and is kept.
func SweepStale(ctx context.Context, base string) int {
	if base == "" {
		base = os.TempDir()
	}
	entries, err := os.ReadDir(base)
	if err != nil {
		return 0
	}
	mu.Lock()
	own := ""
	if current != nil {
		own = current.dir
	}
	mu.Unlock()

	removed := 0
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), Prefix) {
			continue
		}
		dir := filepath.Join(base, e.Name())
		if dir == own {
			continue
		}
		lock := flock.New(filepath.Join(dir, lockName))
		ok, err := lock.TryLock()
		if err != nil || !ok {
			continue
		}
		_ = lock.Unlock()
		if err := os.RemoveAll(dir); err != nil {
			logutil.GetLogger(ctx).Warn("remove stale temp root failed", zap.String("dir", dir), zap.Error(err))
			continue
		}
		logutil.GetLogger(ctx).Info("removed stale temp root", zap.String("dir", dir))
		removed++
	}
	return removed
}

// Borrow hands fn a fresh scratch path and removes it on every exit path.
// The file itself is not created.
func Borrow(pattern string, fn func(path string) error) error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	name := uuid.NewString()
	if pattern != "" {
		name += "-" + filepath.Base(pattern)
	}
	path := filepath.Join(dir, name)
	defer os.Remove(path)
	return fn(path)
}
