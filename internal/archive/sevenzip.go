package archive

import (
	"fmt"
	"io"
	"os"

	"github.com/bodgit/sevenzip"
)

// sevenZipEntries lists names and sizes. The header CRC is not exposed so
// 7z entries are hashed from their content like every non-zip container.
func sevenZipEntries(path string) ([]Entry, error) {
	r, err := sevenzip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	entries := make([]Entry, 0, len(r.File))
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		entries = append(entries, Entry{
			Path: normalizeEntryName(f.Name),
			Size: int64(f.UncompressedSize),
		})
	}
	return entries, nil
}

func sevenZipOpen(path, entryPath string) (io.ReadCloser, error) {
	r, err := sevenzip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	for _, f := range r.File {
		if f.FileInfo().IsDir() || normalizeEntryName(f.Name) != entryPath {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			r.Close()
			return nil, err
		}
		return &readCloser{Reader: rc, closers: []io.Closer{rc, r}}, nil
	}
	r.Close()
	return nil, fmt.Errorf("entry not found: %w", os.ErrNotExist)
}
