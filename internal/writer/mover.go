package writer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/romsort/internal/archive"
	"github.com/xxxsen/romsort/internal/plan"
	"go.uber.org/zap"
)

// EntryLister returns the entries of an archive listed earlier in the run.
type EntryLister interface {
	ArchiveEntries(path string) ([]string, bool)
}

// MoveTracker remembers which move sources were consumed across every
// catalog of a run.
type MoveTracker struct {
	used    map[string]map[string]bool
	failed  map[string]bool
	targets map[string]bool
	lister  EntryLister
}

// NewMoveTracker builds a tracker. lister may be nil, archives are then
// listed again before removal.
func NewMoveTracker(lister EntryLister) *MoveTracker {
	return &MoveTracker{
		used:    make(map[string]map[string]bool),
		failed:  make(map[string]bool),
		targets: make(map[string]bool),
		lister:  lister,
	}
}

// Track records the result of one plan.
func (m *MoveTracker) Track(pl *plan.Plan, res *Result) {
	for _, t := range pl.Targets() {
		m.targets[absPath(t)] = true
	}
	for _, e := range res.Succeeded() {
		if !e.MoveSource {
			continue
		}
		p := absPath(e.Source.Path)
		if m.used[p] == nil {
			m.used[p] = make(map[string]bool)
		}
		m.used[p][e.Source.EntryPath] = true
	}
	for e := range res.Failed {
		if e.MoveSource {
			m.failed[absPath(e.Source.Path)] = true
		}
	}
}

// RemoveSources deletes every source that was written at least once and
// never failed. Archives go only when all their entries were consumed, and
// no path that is also a target is touched. It returns the removed paths.
func (m *MoveTracker) RemoveSources(ctx context.Context) []string {
	logger := logutil.GetLogger(ctx)
	paths := make([]string, 0, len(m.used))
	for p := range m.used {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var removed []string
	for _, p := range paths {
		if m.failed[p] || m.targets[p] {
			continue
		}
		if !m.fullyConsumed(ctx, p) {
			logger.Debug("archive partly used, keep", zap.String("path", p))
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			logger.Warn("remove moved source failed", zap.String("path", p), zap.Error(err))
			continue
		}
		logger.Info("moved source removed", zap.String("path", p))
		removed = append(removed, p)
	}
	return removed
}

func (m *MoveTracker) fullyConsumed(ctx context.Context, p string) bool {
	used := m.used[p]
	if used[""] {
		return true
	}
	names, err := m.archiveEntries(ctx, p)
	if err != nil {
		return false
	}
	for _, name := range names {
		if !used[name] {
			return false
		}
	}
	return true
}

func (m *MoveTracker) archiveEntries(ctx context.Context, p string) ([]string, error) {
	if m.lister != nil {
		if names, ok := m.lister.ArchiveEntries(p); ok {
			return names, nil
		}
	}
	a, ok := archive.New(p)
	if !ok {
		return nil, fmt.Errorf("%s is not an archive", p)
	}
	entries, err := a.Entries(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Path)
	}
	return names, nil
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}
