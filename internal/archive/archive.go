// Package archive lists and streams entries of zip, tar, rar and 7z containers.
package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xxxsen/romsort/internal/tempdir"
)

// Format is the container family of an archive.
type Format int

const (
	FormatZip Format = iota + 1
	FormatTar
	FormatRar
	FormatSevenZip
)

func (f Format) String() string {
	switch f {
	case FormatZip:
		return "zip"
	case FormatTar:
		return "tar"
	case FormatRar:
		return "rar"
	case FormatSevenZip:
		return "7z"
	}
	return "unknown"
}

// Priority ranks formats for duplicate resolution; lower wins.
func (f Format) Priority() int {
	return int(f)
}

// Entry is one file stored in an archive.
type Entry struct {
	Path string
	Size int64
	// CRC32 is only set when the container directory stores a checksum that can be trusted.
	CRC32 string
}

// Archive is a container over a filesystem file.
type Archive struct {
	Path   string
	Format Format
}

var suffixes = []struct {
	suffix string
	format Format
}{
	{".tar.gz", FormatTar},
	{".tar.xz", FormatTar},
	{".tgz", FormatTar},
	{".txz", FormatTar},
	{".tar", FormatTar},
	{".zip", FormatZip},
	{".rar", FormatRar},
	{".7z", FormatSevenZip},
}

// Detect maps a file name to an archive format by its extension.
func Detect(path string) (Format, bool) {
	lower := strings.ToLower(path)
	for _, s := range suffixes {
		if strings.HasSuffix(lower, s.suffix) {
			return s.format, true
		}
	}
	return 0, false
}

// New wraps path when its extension belongs to a known archive format.
func New(path string) (*Archive, bool) {
	f, ok := Detect(path)
	if !ok {
		return nil, false
	}
	return &Archive{Path: path, Format: f}, true
}

// Entries lists the archive's files without extracting them.
func (a *Archive) Entries(ctx context.Context) ([]Entry, error) {
	var (
		entries []Entry
		err     error
	)
	switch a.Format {
	case FormatZip:
		entries, err = zipEntries(a.Path)
	case FormatTar:
		entries, err = tarEntries(ctx, a.Path)
	case FormatRar:
		entries, err = rarEntries(ctx, a.Path)
	case FormatSevenZip:
		entries, err = sevenZipEntries(a.Path)
	default:
		err = fmt.Errorf("unsupported archive format %d", a.Format)
	}
	if err != nil {
		return nil, fmt.Errorf("list %s archive %s: %w", a.Format, a.Path, err)
	}
	return entries, nil
}

// Open streams the content of a single entry. The caller must close it.
func (a *Archive) Open(entryPath string) (io.ReadCloser, error) {
	var (
		rc  io.ReadCloser
		err error
	)
	switch a.Format {
	case FormatZip:
		rc, err = zipOpen(a.Path, entryPath)
	case FormatTar:
		rc, err = tarOpen(a.Path, entryPath)
	case FormatRar:
		rc, err = rarOpen(a.Path, entryPath)
	case FormatSevenZip:
		rc, err = sevenZipOpen(a.Path, entryPath)
	default:
		err = fmt.Errorf("unsupported archive format %d", a.Format)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s|%s: %w", a.Path, entryPath, err)
	}
	return rc, nil
}

// Extract writes one entry to a scratch file that lives for the duration of fn.
func (a *Archive) Extract(ctx context.Context, entryPath string, fn func(path string) error) error {
	return tempdir.Borrow(filepath.Base(entryPath), func(tmp string) error {
		rc, err := a.Open(entryPath)
		if err != nil {
			return err
		}
		out, err := os.Create(tmp)
		if err != nil {
			rc.Close()
			return fmt.Errorf("create scratch file: %w", err)
		}
		_, err = io.Copy(out, NewContextReader(ctx, rc))
		rc.Close()
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("extract %s|%s: %w", a.Path, entryPath, err)
		}
		return fn(tmp)
	})
}

// ContextReader stops a long read once its context is cancelled.
type ContextReader struct {
	ctx context.Context
	io.ReadCloser
}

// NewContextReader wraps rc so reads fail with the context's error.
func NewContextReader(ctx context.Context, rc io.ReadCloser) *ContextReader {
	return &ContextReader{ctx: ctx, ReadCloser: rc}
}

func (c *ContextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.ReadCloser.Read(p)
}

// readCloser closes the entry stream and the archive that owns it.
type readCloser struct {
	io.Reader
	closers []io.Closer
}

func (r *readCloser) Close() error {
	var first error
	for _, c := range r.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func normalizeEntryName(name string) string {
	name = filepath.ToSlash(name)
	return strings.TrimPrefix(name, "./")
}

// TrimExt removes a known archive suffix from a file name.
func TrimExt(name string) string {
	lower := strings.ToLower(name)
	for _, s := range suffixes {
		if strings.HasSuffix(lower, s.suffix) {
			return name[:len(name)-len(s.suffix)]
		}
	}
	return name
}
