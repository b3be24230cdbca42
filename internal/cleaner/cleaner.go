// Package cleaner removes files from the output tree that no plan wrote.
package cleaner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Cleaner deletes stale files below one or more output roots.
type Cleaner struct {
	dryRun  bool
	keep    map[string]bool
	removed []string
	freed   int64
}

func New(dryRun bool) *Cleaner {
	return &Cleaner{dryRun: dryRun, keep: make(map[string]bool)}
}

// Keep protects a path from removal.
func (c *Cleaner) Keep(paths ...string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		c.keep[abs(p)] = true
	}
}

// Removed lists the deleted (or, in dry run, deletable) files.
func (c *Cleaner) Removed() []string {
	return c.removed
}

// Clean walks every root, removes unprotected files and prunes the
// directories left empty.
func (c *Cleaner) Clean(ctx context.Context, roots []string) error {
	var errs error
	for _, root := range uniqueRoots(roots) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if root == filepath.Dir(root) {
			return fmt.Errorf("refusing to clean filesystem root %s", root)
		}
		if err := c.cleanRoot(ctx, root); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	logutil.GetLogger(ctx).Info("clean finished", zap.Int("removed", len(c.removed)),
		zap.String("freed", humanize.Bytes(uint64(c.freed))), zap.Bool("dry_run", c.dryRun))
	return errs
}

func (c *Cleaner) cleanRoot(ctx context.Context, root string) error {
	logger := logutil.GetLogger(ctx)
	var (
		errs error
		dirs []string
	)
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if p != root {
				dirs = append(dirs, p)
			}
			return nil
		}
		if c.keep[p] {
			return nil
		}
		info, ierr := d.Info()
		if c.dryRun {
			logger.Info("would remove stale file", zap.String("path", p))
		} else if rerr := os.Remove(p); rerr != nil {
			logger.Warn("remove stale file failed", zap.String("path", p), zap.Error(rerr))
			errs = multierr.Append(errs, rerr)
			return nil
		} else {
			logger.Debug("stale file removed", zap.String("path", p))
		}
		if ierr == nil {
			c.freed += info.Size()
		}
		c.removed = append(c.removed, p)
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk output root %s: %w", root, err)
	}
	if !c.dryRun {
		pruneEmpty(dirs)
	}
	return errs
}

// pruneEmpty removes empty directories deepest first. Non-empty ones fail
// to remove and are left in place.
func pruneEmpty(dirs []string) {
	sort.Slice(dirs, func(i, j int) bool {
		return strings.Count(dirs[i], string(filepath.Separator)) > strings.Count(dirs[j], string(filepath.Separator))
	})
	for _, d := range dirs {
		entries, err := os.ReadDir(d)
		if err == nil && len(entries) == 0 {
			_ = os.Remove(d)
		}
	}
}

// uniqueRoots drops roots nested inside another root.
func uniqueRoots(roots []string) []string {
	abss := make([]string, 0, len(roots))
	for _, r := range roots {
		abss = append(abss, abs(r))
	}
	sort.Strings(abss)
	var out []string
	for _, r := range abss {
		nested := false
		for _, o := range out {
			if r == o || strings.HasPrefix(r, o+string(filepath.Separator)) {
				nested = true
				break
			}
		}
		if !nested {
			out = append(out, r)
		}
	}
	return out
}

func abs(p string) string {
	if a, err := filepath.Abs(p); err == nil {
		return a
	}
	return filepath.Clean(p)
}
