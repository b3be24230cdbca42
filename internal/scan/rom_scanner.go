package scan

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/romsort/internal/archive"
	"github.com/xxxsen/romsort/internal/db"
	"github.com/xxxsen/romsort/internal/progress"
	"github.com/xxxsen/romsort/internal/romfile"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const StageScan = "scan"

// ROMScanner hashes plain files and archive entries.
type ROMScanner struct {
	threads        int
	outputRoot     string
	keepDuplicates bool
	memo           CRCMemo
	bus            *progress.Bus

	mu       sync.Mutex
	listings map[string][]string
}

type ROMScannerOption func(s *ROMScanner)

func WithOutputRoot(root string) ROMScannerOption {
	return func(s *ROMScanner) { s.outputRoot = root }
}

// WithKeepDuplicates returns every location instead of one per content hash.
func WithKeepDuplicates(keep bool) ROMScannerOption {
	return func(s *ROMScanner) { s.keepDuplicates = keep }
}

func WithMemo(m CRCMemo) ROMScannerOption {
	return func(s *ROMScanner) { s.memo = m }
}

func WithProgress(bus *progress.Bus) ROMScannerOption {
	return func(s *ROMScanner) { s.bus = bus }
}

func NewROMScanner(threads int, opts ...ROMScannerOption) *ROMScanner {
	if threads <= 0 {
		threads = 1
	}
	s := &ROMScanner{threads: threads, memo: nopMemo{}, listings: make(map[string][]string)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan hashes every path. Unreadable files and broken archives are logged
// and left out; the aggregated error is returned next to the files found.
func (s *ROMScanner) Scan(ctx context.Context, paths []Path) ([]*romfile.File, error) {
	logger := logutil.GetLogger(ctx)
	s.bus.Start(StageScan, len(paths))
	defer s.bus.Finish(StageScan)

	var (
		mu     sync.Mutex
		files  []*romfile.File
		failed error
	)
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.threads)
	for _, p := range paths {
		p := p
		if ctx.Err() != nil {
			break
		}
		eg.Go(func() error {
			defer s.bus.Add(StageScan, p.Path)
			found, err := s.scanPath(ctx, p)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.Warn("scan input failed, skip", zap.String("path", p.Path), zap.Error(err))
				failed = multierr.Append(failed, err)
				return nil
			}
			files = append(files, found...)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	sortFiles(files, s.outputRoot)
	if !s.keepDuplicates {
		files = Dedupe(files, s.outputRoot)
	}
	logger.Info("scan finished", zap.Int("files", len(files)), zap.Int("failures", len(multierr.Errors(failed))))
	return files, failed
}

func (s *ROMScanner) scanPath(ctx context.Context, p Path) ([]*romfile.File, error) {
	st, err := os.Stat(p.Path)
	if err != nil {
		return nil, err
	}
	if a, ok := archive.New(p.Path); ok {
		return s.scanArchive(ctx, a, p, st)
	}
	f := &romfile.File{Path: p.Path, Size: st.Size(), ModTime: st.ModTime(), InputRoot: p.InputRoot}
	if err := s.hash(ctx, f, st.ModTime().UnixNano()); err != nil {
		return nil, err
	}
	return []*romfile.File{f}, nil
}

func (s *ROMScanner) scanArchive(ctx context.Context, a *archive.Archive, p Path, st os.FileInfo) ([]*romfile.File, error) {
	entries, err := a.Entries(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Path)
	}
	s.mu.Lock()
	s.listings[absPath(p.Path)] = names
	s.mu.Unlock()

	out := make([]*romfile.File, 0, len(entries))
	for _, e := range entries {
		f := &romfile.File{
			Path:      p.Path,
			Archive:   a,
			EntryPath: e.Path,
			Size:      e.Size,
			CRC32:     e.CRC32,
			ModTime:   st.ModTime(),
			InputRoot: p.InputRoot,
		}
		if f.CRC32 == "" {
			if err := s.hash(ctx, f, st.ModTime().UnixNano()); err != nil {
				return nil, err
			}
		}
		out = append(out, f)
	}
	return out, nil
}

// ArchiveEntries returns every entry of an archive listed by Scan, including
// entries later dropped as duplicates.
func (s *ROMScanner) ArchiveEntries(path string) ([]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names, ok := s.listings[absPath(path)]
	return names, ok
}

// hash streams the content through CRC32 unless the memo already knows it.
func (s *ROMScanner) hash(ctx context.Context, f *romfile.File, modTime int64) error {
	location := f.String()
	if m, ok, err := s.memo.Lookup(ctx, location, modTime, f.Size); err == nil && ok {
		f.CRC32 = m.CRC32
		return nil
	}
	rc, err := f.Open(ctx)
	if err != nil {
		return err
	}
	defer rc.Close()
	crc, n, err := romfile.Hash(rc)
	if err != nil {
		return err
	}
	f.CRC32, f.Size = crc, n
	if err := s.memo.Upsert(ctx, location, &db.CRCMemo{ModTime: modTime, Size: n, CRC32: crc}); err != nil {
		logutil.GetLogger(ctx).Debug("remember crc failed", zap.String("file", location), zap.Error(err))
	}
	return nil
}

// preferred orders files for duplicate resolution: inside the output root,
// then plain files, then archive priority, then path.
func preferred(a, b *romfile.File, outputRoot string) bool {
	ia, ib := within(a.Path, outputRoot), within(b.Path, outputRoot)
	if ia != ib {
		return ia
	}
	pa, pb := !a.IsArchiveEntry(), !b.IsArchiveEntry()
	if pa != pb {
		return pa
	}
	if !pa && a.Archive.Format != b.Archive.Format {
		return a.Archive.Format.Priority() < b.Archive.Format.Priority()
	}
	return a.String() < b.String()
}

func sortFiles(files []*romfile.File, outputRoot string) {
	sort.SliceStable(files, func(i, j int) bool {
		return preferred(files[i], files[j], outputRoot)
	})
}

func within(p, root string) bool {
	if root == "" {
		return false
	}
	absP, err := filepath.Abs(p)
	if err != nil {
		return false
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absRoot, absP)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Dedupe keeps the most preferred file per crc32,size. The result keeps
// the preference order of the input.
func Dedupe(files []*romfile.File, outputRoot string) []*romfile.File {
	sorted := append([]*romfile.File(nil), files...)
	sortFiles(sorted, outputRoot)
	seen := make(map[string]bool, len(sorted))
	out := sorted[:0]
	for _, f := range sorted {
		key := f.HashKey()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, f)
	}
	return out
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}
