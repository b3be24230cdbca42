package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"strings"
)

func zipEntries(path string) ([]Entry, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	entries := make([]Entry, 0, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
			continue
		}
		entries = append(entries, Entry{
			Path:  normalizeEntryName(f.Name),
			Size:  int64(f.UncompressedSize64),
			CRC32: fmt.Sprintf("%08x", f.CRC32),
		})
	}
	return entries, nil
}

func zipOpen(path, entryPath string) (io.ReadCloser, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	for _, f := range zr.File {
		if normalizeEntryName(f.Name) != entryPath {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			zr.Close()
			return nil, err
		}
		return &readCloser{Reader: rc, closers: []io.Closer{rc, zr}}, nil
	}
	zr.Close()
	return nil, fmt.Errorf("entry not found: %w", os.ErrNotExist)
}

// ZipCRCs returns the directory CRC of every file in a zip archive keyed by entry name.
func ZipCRCs(path string) (map[string]string, error) {
	entries, err := zipEntries(path)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		out[e.Path] = e.CRC32
	}
	return out, nil
}
