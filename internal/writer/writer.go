// Package writer materializes a plan on disk.
package writer

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/romsort/internal/db"
	"github.com/xxxsen/romsort/internal/model"
	"github.com/xxxsen/romsort/internal/plan"
	"github.com/xxxsen/romsort/internal/progress"
	"github.com/xxxsen/romsort/internal/romfile"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const StageWrite = "write"

// ErrCRCMismatch is returned when written bytes don't hash to the planned CRC.
var ErrCRCMismatch = errors.New("crc mismatch")

// Result records the outcome of every entry of a plan.
type Result struct {
	mu        sync.Mutex
	Written   []*plan.Entry
	Unchanged []*plan.Entry
	Failed    map[*plan.Entry]error
}

func (r *Result) ok(e *plan.Entry, changed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if changed {
		r.Written = append(r.Written, e)
		return
	}
	r.Unchanged = append(r.Unchanged, e)
}

func (r *Result) fail(e *plan.Entry, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Failed[e] = err
}

// Succeeded lists written and unchanged entries.
func (r *Result) Succeeded() []*plan.Entry {
	out := make([]*plan.Entry, 0, len(r.Written)+len(r.Unchanged))
	out = append(out, r.Written...)
	return append(out, r.Unchanged...)
}

// CRCMemo remembers checksums of files already read during the run.
type CRCMemo interface {
	Lookup(ctx context.Context, location string, modTime, size int64) (*db.CRCMemo, bool, error)
	Upsert(ctx context.Context, location string, m *db.CRCMemo) error
}

// Writer executes copy, move and zip entries with bounded parallelism.
type Writer struct {
	threads int
	test    bool
	bus     *progress.Bus
	memo    CRCMemo
}

type Option func(w *Writer)

// WithMemo lets target checks reuse checksums computed earlier in the run,
// and records the checksum of every file written.
func WithMemo(m CRCMemo) Option {
	return func(w *Writer) { w.memo = m }
}

func New(threads int, test bool, bus *progress.Bus, opts ...Option) *Writer {
	if threads <= 0 {
		threads = 1
	}
	w := &Writer{threads: threads, test: test, bus: bus}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write runs every entry of the plan. Per entry failures are collected in
// the result and returned together; they never stop other entries.
func (w *Writer) Write(ctx context.Context, pl *plan.Plan) (*Result, error) {
	logger := logutil.GetLogger(ctx).With(zap.String("dat", pl.Catalog.DisplayName()))
	res := &Result{Failed: make(map[*plan.Entry]error)}

	var files []*plan.Entry
	for _, e := range pl.Entries {
		if e.Action != plan.ActionZip {
			files = append(files, e)
		}
	}
	archives, groups := pl.Archives()
	w.bus.Start(StageWrite, len(files)+len(archives))
	defer w.bus.Finish(StageWrite)

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(w.threads)
	for _, e := range files {
		e := e
		if gctx.Err() != nil {
			break
		}
		eg.Go(func() error {
			defer w.bus.Add(StageWrite, e.Target)
			changed, err := w.writeFile(gctx, e)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logger.Warn("write failed", zap.String("target", e.Target), zap.String("source", e.Source.String()), zap.Error(err))
				res.fail(e, err)
				return nil
			}
			res.ok(e, changed)
			return nil
		})
	}
	for _, target := range archives {
		target, entries := target, groups[target]
		if gctx.Err() != nil {
			break
		}
		eg.Go(func() error {
			defer w.bus.Add(StageWrite, target)
			changed, err := w.writeZip(gctx, target, entries)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logger.Warn("write zip failed", zap.String("target", target), zap.Error(err))
				for _, e := range entries {
					res.fail(e, err)
				}
				return nil
			}
			for _, e := range entries {
				res.ok(e, changed)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return res, err
	}

	var failed error
	for _, e := range pl.Entries {
		if err, ok := res.Failed[e]; ok {
			failed = multierr.Append(failed, fmt.Errorf("%s: %w", e.Key(), err))
		}
	}
	logger.Info("plan written", zap.Int("written", len(res.Written)), zap.Int("unchanged", len(res.Unchanged)),
		zap.Int("failed", len(res.Failed)))
	return res, failed
}

// writeFile copies one entry to its target through a temp file in the
// target directory. It reports false when the target already held the
// expected content.
func (w *Writer) writeFile(ctx context.Context, e *plan.Entry) (bool, error) {
	if crc, err := w.targetCRC(ctx, e.Target); err == nil && crc == e.ExpectedCRC {
		logutil.GetLogger(ctx).Debug("target already up to date", zap.String("target", e.Target))
		return false, nil
	}
	dir := filepath.Dir(e.Target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("create output dir: %w", err)
	}
	tmp := tempName(dir)
	crc, err := w.writeTemp(ctx, e, tmp)
	if err != nil {
		_ = os.Remove(tmp)
		return false, err
	}
	if err := os.Rename(tmp, e.Target); err != nil {
		_ = os.Remove(tmp)
		return false, fmt.Errorf("rename into place: %w", err)
	}
	w.remember(ctx, e.Target, crc)
	return true, nil
}

// writeTemp returns the checksum of the bytes written, re-read from disk
// when testing.
func (w *Writer) writeTemp(ctx context.Context, e *plan.Entry, tmp string) (string, error) {
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	h := crc32.NewIEEE()
	err = withContent(ctx, e, func(r io.Reader) error {
		_, err := io.Copy(io.MultiWriter(out, h), r)
		return err
	})
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("write %s: %w", e.Source, err)
	}
	if !w.test {
		return model.FormatCRC(h.Sum32()), nil
	}
	crc, _, err := romfile.HashFile(tmp)
	if err != nil {
		return "", fmt.Errorf("read back: %w", err)
	}
	return crc, checkCRC(crc, e.ExpectedCRC)
}

// targetCRC hashes an existing target unless the memo still knows it.
func (w *Writer) targetCRC(ctx context.Context, path string) (string, error) {
	st, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if !st.Mode().IsRegular() {
		return "", fmt.Errorf("%s is not a regular file", path)
	}
	if w.memo != nil {
		if m, ok, err := w.memo.Lookup(ctx, path, st.ModTime().UnixNano(), st.Size()); err == nil && ok {
			return m.CRC32, nil
		}
	}
	crc, _, err := romfile.HashFile(path)
	if err != nil {
		return "", err
	}
	w.remember(ctx, path, crc)
	return crc, nil
}

func (w *Writer) remember(ctx context.Context, path, crc string) {
	if w.memo == nil {
		return
	}
	st, err := os.Stat(path)
	if err != nil {
		return
	}
	m := &db.CRCMemo{ModTime: st.ModTime().UnixNano(), Size: st.Size(), CRC32: crc}
	if err := w.memo.Upsert(ctx, path, m); err != nil {
		logutil.GetLogger(ctx).Debug("remember crc failed", zap.String("file", path), zap.Error(err))
	}
}

func checkCRC(got, want string) error {
	if want == "" || got == model.NormalizeCRC(want) {
		return nil
	}
	return fmt.Errorf("%w: got %s, want %s", ErrCRCMismatch, got, want)
}

// withContent streams the bytes an entry should hold: the source past its
// header when matched headerless, with the patch applied when there is one.
func withContent(ctx context.Context, e *plan.Entry, fn func(r io.Reader) error) error {
	if e.Patch != nil {
		return e.Patch.ApplyFile(ctx, e.Source, e.Headerless, func(p string) error {
			f, err := os.Open(p)
			if err != nil {
				return err
			}
			defer f.Close()
			return fn(f)
		})
	}
	var (
		rc  io.ReadCloser
		err error
	)
	if e.Headerless {
		rc, err = e.Source.OpenHeaderless(ctx)
	} else {
		rc, err = e.Source.Open(ctx)
	}
	if err != nil {
		return err
	}
	defer rc.Close()
	return fn(rc)
}

func tempName(dir string) string {
	return filepath.Join(dir, ".romsort-"+uuid.NewString()+".tmp")
}
