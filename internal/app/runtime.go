package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/romsort/internal/db"
	"github.com/xxxsen/romsort/internal/tempdir"
	"go.uber.org/zap"
)

// ErrFailures marks a run that finished but had per file failures.
var ErrFailures = errors.New("one or more files failed")

// LockName is the file that keeps concurrent runs off one output tree.
const LockName = ".romsort.lock"

// runtimeEnv holds the process wide resources of one run.
type runtimeEnv struct {
	closeDB func() error
}

// setupRuntime sweeps stale scratch roots, creates this run's root and
// opens the in-memory checksum memo.
func setupRuntime(ctx context.Context) (*runtimeEnv, error) {
	if n := tempdir.SweepStale(ctx, ""); n > 0 {
		logutil.GetLogger(ctx).Info("stale temp dirs removed", zap.Int("count", n))
	}
	if _, err := tempdir.Init(ctx, ""); err != nil {
		return nil, err
	}
	sqlDB, err := db.OpenMemory(ctx)
	if err != nil {
		tempdir.Cleanup(ctx)
		return nil, err
	}
	db.SetDefault(sqlDB)
	return &runtimeEnv{closeDB: sqlDB.Close}, nil
}

func (e *runtimeEnv) close(ctx context.Context) {
	if e == nil {
		return
	}
	db.SetDefault(nil)
	if err := e.closeDB(); err != nil {
		logutil.GetLogger(ctx).Debug("close memo db failed", zap.Error(err))
	}
	tempdir.Cleanup(ctx)
}

// lockOutput takes the output tree lock without waiting.
func lockOutput(root string) (*flock.Flock, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create output root %s: %w", root, err)
	}
	lock := flock.New(filepath.Join(root, LockName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock output root %s: %w", root, err)
	}
	if !ok {
		return nil, fmt.Errorf("output root %s is in use by another run", root)
	}
	return lock, nil
}

func unlockOutput(ctx context.Context, lock *flock.Flock) {
	if lock == nil {
		return
	}
	if err := lock.Unlock(); err != nil {
		logutil.GetLogger(ctx).Debug("unlock output failed", zap.Error(err))
	}
	_ = os.Remove(lock.Path())
}
