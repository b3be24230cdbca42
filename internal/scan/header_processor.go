package scan

import (
	"context"
	"fmt"

	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/romsort/internal/db"
	"github.com/xxxsen/romsort/internal/header"
	"github.com/xxxsen/romsort/internal/progress"
	"github.com/xxxsen/romsort/internal/romfile"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const StageHeaders = "headers"

// HeaderProcessor detects copier headers on files whose extension is
// known to carry one and records the checksum of the bytes after it.
type HeaderProcessor struct {
	threads int
	memo    CRCMemo
	bus     *progress.Bus
}

func NewHeaderProcessor(threads int, memo CRCMemo, bus *progress.Bus) *HeaderProcessor {
	if threads <= 0 {
		threads = 1
	}
	if memo == nil {
		memo = nopMemo{}
	}
	return &HeaderProcessor{threads: threads, memo: memo, bus: bus}
}

// Process updates files in place. Failures leave the file without a
// headerless checksum.
func (h *HeaderProcessor) Process(ctx context.Context, files []*romfile.File) error {
	var todo []*romfile.File
	for _, f := range files {
		if len(header.ForExtension(f.Ext())) > 0 {
			todo = append(todo, f)
		}
	}
	h.bus.Start(StageHeaders, len(todo))
	defer h.bus.Finish(StageHeaders)

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(h.threads)
	for _, f := range todo {
		f := f
		if ctx.Err() != nil {
			break
		}
		eg.Go(func() error {
			defer h.bus.Add(StageHeaders, f.String())
			if err := h.ProcessFile(ctx, f); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logutil.GetLogger(ctx).Warn("detect header failed", zap.String("file", f.String()), zap.Error(err))
			}
			return nil
		})
	}
	return eg.Wait()
}

// ProcessFile detects the header of a single file.
func (h *HeaderProcessor) ProcessFile(ctx context.Context, f *romfile.File) error {
	candidates := header.ForExtension(f.Ext())
	if len(candidates) == 0 {
		return nil
	}
	location := f.String()
	modTime := f.ModTime.UnixNano()
	m, ok, err := h.memo.Lookup(ctx, location, modTime, f.Size)
	if err != nil || !ok {
		m = nil
	}
	if m != nil && m.HeaderChecked {
		if m.HeaderName == "" {
			return nil
		}
		if hdr, found := header.Lookup(m.HeaderName); found {
			f.Header, f.HeaderlessSize, f.HeaderlessCRC32 = hdr, m.HeaderlessSize, m.HeaderlessCRC32
			return nil
		}
	}
	if f.CRC32 == "" && m != nil {
		f.CRC32 = m.CRC32
	}

	rc, err := f.Open(ctx)
	if err != nil {
		return err
	}
	hdr, err := header.Detect(rc, candidates)
	rc.Close()
	if err != nil {
		return err
	}
	if hdr == nil {
		h.remember(ctx, location, &db.CRCMemo{ModTime: modTime, Size: f.Size, CRC32: f.CRC32, HeaderChecked: true})
		return nil
	}

	rc, err = f.Open(ctx)
	if err != nil {
		return err
	}
	defer rc.Close()
	body, err := hdr.SkipReader(rc)
	if err != nil {
		return err
	}
	crc, n, err := romfile.Hash(body)
	if err != nil {
		return fmt.Errorf("hash headerless %s: %w", location, err)
	}
	f.Header, f.HeaderlessSize, f.HeaderlessCRC32 = hdr, n, crc
	logutil.GetLogger(ctx).Debug("header detected", zap.String("file", location),
		zap.String("header", hdr.Name), zap.String("headerless_crc", crc))

	h.remember(ctx, location, &db.CRCMemo{ModTime: modTime, Size: f.Size, CRC32: f.CRC32,
		HeaderChecked: true, HeaderName: hdr.Name, HeaderlessSize: n, HeaderlessCRC32: crc})
	return nil
}

func (h *HeaderProcessor) remember(ctx context.Context, location string, m *db.CRCMemo) {
	if m.CRC32 == "" {
		return
	}
	if err := h.memo.Upsert(ctx, location, m); err != nil {
		logutil.GetLogger(ctx).Debug("remember header failed", zap.String("file", location), zap.Error(err))
	}
}
