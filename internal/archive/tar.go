package archive

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ulikunitz/xz"
)

// openTar returns a tar reader over the (possibly compressed) archive.
func openTar(path string) (*tar.Reader, []io.Closer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	closers := []io.Closer{f}
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("open gzip stream: %w", err)
		}
		closers = append([]io.Closer{gz}, closers...)
		return tar.NewReader(gz), closers, nil
	case strings.HasSuffix(lower, ".tar.xz"), strings.HasSuffix(lower, ".txz"):
		xr, err := xz.NewReader(f)
		if err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("open xz stream: %w", err)
		}
		return tar.NewReader(xr), closers, nil
	}
	return tar.NewReader(f), closers, nil
}

func closeAll(closers []io.Closer) {
	for _, c := range closers {
		_ = c.Close()
	}
}

// tarEntries reads headers only; tar stores no checksum of the payload so
// entry CRCs are left for the caller to stream.
func tarEntries(ctx context.Context, path string) ([]Entry, error) {
	tr, closers, err := openTar(path)
	if err != nil {
		return nil, err
	}
	defer closeAll(closers)

	var entries []Entry
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		entries = append(entries, Entry{
			Path: normalizeEntryName(hdr.Name),
			Size: hdr.Size,
		})
	}
	return entries, nil
}

func tarOpen(path, entryPath string) (io.ReadCloser, error) {
	tr, closers, err := openTar(path)
	if err != nil {
		return nil, err
	}
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			closeAll(closers)
			return nil, err
		}
		if normalizeEntryName(hdr.Name) == entryPath {
			return &readCloser{Reader: tr, closers: closers}, nil
		}
	}
	closeAll(closers)
	return nil, fmt.Errorf("entry not found: %w", os.ErrNotExist)
}
