package scan

import (
	"context"
	"os"
	"sort"
	"sync"

	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/romsort/internal/archive"
	"github.com/xxxsen/romsort/internal/patch"
	"github.com/xxxsen/romsort/internal/progress"
	"github.com/xxxsen/romsort/internal/romfile"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const StagePatches = "patches"

// PatchScanner parses patch files, plain or inside archives.
type PatchScanner struct {
	threads int
	bus     *progress.Bus
}

func NewPatchScanner(threads int, bus *progress.Bus) *PatchScanner {
	if threads <= 0 {
		threads = 1
	}
	return &PatchScanner{threads: threads, bus: bus}
}

// Scan returns every patch that parsed, ordered by location.
func (s *PatchScanner) Scan(ctx context.Context, paths []Path) ([]*patch.Patch, error) {
	logger := logutil.GetLogger(ctx)
	s.bus.Start(StagePatches, len(paths))
	defer s.bus.Finish(StagePatches)

	var (
		mu      sync.Mutex
		patches []*patch.Patch
	)
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.threads)
	for _, p := range paths {
		p := p
		if ctx.Err() != nil {
			break
		}
		eg.Go(func() error {
			defer s.bus.Add(StagePatches, p.Path)
			files, err := patchFiles(ctx, p)
			if err != nil {
				logger.Warn("scan patch input failed, skip", zap.String("path", p.Path), zap.Error(err))
				return nil
			}
			for _, f := range files {
				pt, err := patch.FromFile(ctx, f)
				if err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					logger.Warn("parse patch failed, skip", zap.String("patch", f.String()), zap.Error(err))
					continue
				}
				mu.Lock()
				patches = append(patches, pt)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(patches, func(i, j int) bool {
		return patches[i].File.String() < patches[j].File.String()
	})
	logger.Info("patch scan finished", zap.Int("patches", len(patches)))
	return patches, nil
}

func patchFiles(ctx context.Context, p Path) ([]*romfile.File, error) {
	st, err := os.Stat(p.Path)
	if err != nil {
		return nil, err
	}
	a, ok := archive.New(p.Path)
	if !ok {
		if _, ok := patch.DetectFormat(p.Path); !ok {
			return nil, nil
		}
		return []*romfile.File{{Path: p.Path, Size: st.Size(), ModTime: st.ModTime(), InputRoot: p.InputRoot}}, nil
	}
	entries, err := a.Entries(ctx)
	if err != nil {
		return nil, err
	}
	var out []*romfile.File
	for _, e := range entries {
		if _, ok := patch.DetectFormat(e.Path); !ok {
			continue
		}
		out = append(out, &romfile.File{Path: p.Path, Archive: a, EntryPath: e.Path, Size: e.Size,
			CRC32: e.CRC32, ModTime: st.ModTime(), InputRoot: p.InputRoot})
	}
	return out, nil
}
