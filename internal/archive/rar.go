package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/javi11/rarlist"
	"github.com/nwaples/rardecode"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type rarFS struct{}

func (rarFS) Stat(p string) (fs.FileInfo, error) { return os.Stat(p) }
func (rarFS) Open(p string) (fs.File, error)     { return os.Open(p) }

// rarEntries lists a rar archive from its block headers. Archives the
// header indexer cannot read are listed by walking them with the decoder.
func rarEntries(ctx context.Context, path string) ([]Entry, error) {
	entries, err := rarHeaderEntries(path)
	if err == nil {
		return entries, nil
	}
	logutil.GetLogger(ctx).Debug("rar header index failed, falling back to decoder",
		zap.String("path", path), zap.Error(err))
	return rarDecoderEntries(ctx, path)
}

func rarHeaderEntries(path string) ([]Entry, error) {
	vols, err := rarlist.DiscoverVolumes(path)
	if err != nil {
		return nil, err
	}
	idx, err := rarlist.IndexVolumes(rarFS{}, vols)
	if err != nil {
		return nil, err
	}
	files := rarlist.AggregateFiles(idx)
	entries := make([]Entry, 0, len(files))
	for _, f := range files {
		if f.AnyEncrypted {
			return nil, fmt.Errorf("%s: %w", f.Name, rarlist.ErrPasswordProtected)
		}
		name := normalizeEntryName(f.Name)
		if strings.HasSuffix(name, "/") {
			continue
		}
		entries = append(entries, Entry{Path: name, Size: f.TotalUnpackedSize})
	}
	return entries, nil
}

func rarDecoderEntries(ctx context.Context, path string) ([]Entry, error) {
	rr, err := rardecode.OpenReader(path, "")
	if err != nil {
		return nil, err
	}
	defer rr.Close()

	var entries []Entry
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hdr, err := rr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if hdr.IsDir {
			continue
		}
		entries = append(entries, Entry{Path: normalizeEntryName(hdr.Name), Size: hdr.UnPackedSize})
	}
	return entries, nil
}

func rarOpen(path, entryPath string) (io.ReadCloser, error) {
	rr, err := rardecode.OpenReader(path, "")
	if err != nil {
		return nil, err
	}
	for {
		hdr, err := rr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			rr.Close()
			return nil, err
		}
		if !hdr.IsDir && normalizeEntryName(hdr.Name) == entryPath {
			return &readCloser{Reader: rr, closers: []io.Closer{rr}}, nil
		}
	}
	rr.Close()
	return nil, fmt.Errorf("entry not found: %w", os.ErrNotExist)
}
