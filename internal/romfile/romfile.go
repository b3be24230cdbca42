// Package romfile models an input file that is either a plain file on disk
// or an entry inside an archive.
package romfile

import (
	"context"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/xxxsen/romsort/internal/archive"
	"github.com/xxxsen/romsort/internal/header"
	"github.com/xxxsen/romsort/internal/model"
)

// File is a hashable byte stream. Archive is nil for plain files.
type File struct {
	Path      string
	Archive   *archive.Archive
	EntryPath string
	Size      int64
	CRC32     string
	ModTime   time.Time

	Header          *header.Header
	HeaderlessSize  int64
	HeaderlessCRC32 string

	// InputRoot is the non-glob base of the pattern that produced the file.
	InputRoot string
}

func (f *File) IsArchiveEntry() bool {
	return f.Archive != nil
}

func (f *File) String() string {
	if f.IsArchiveEntry() {
		return f.Path + "|" + f.EntryPath
	}
	return f.Path
}

// HashKey identifies the content of the file.
func (f *File) HashKey() string {
	return HashKey(f.CRC32, f.Size)
}

// HeaderlessHashKey is empty when no header was detected.
func (f *File) HeaderlessHashKey() string {
	if f.Header == nil || f.HeaderlessCRC32 == "" {
		return ""
	}
	return HashKey(f.HeaderlessCRC32, f.HeaderlessSize)
}

// HashKey joins a checksum and size into an index key.
func HashKey(crc string, size int64) string {
	return fmt.Sprintf("%s,%d", model.NormalizeCRC(crc), size)
}

// Name is the file name without any directory.
func (f *File) Name() string {
	if f.IsArchiveEntry() {
		return path.Base(f.EntryPath)
	}
	return filepath.Base(f.Path)
}

// Ext is the lowercase extension of Name, including the dot.
func (f *File) Ext() string {
	return strings.ToLower(filepath.Ext(f.Name()))
}

// Dir is the filesystem directory holding the file or its archive.
func (f *File) Dir() string {
	return filepath.Dir(f.Path)
}

// RelDir is Dir relative to InputRoot, or "" when outside of it.
func (f *File) RelDir() string {
	if f.InputRoot == "" {
		return ""
	}
	rel, err := filepath.Rel(f.InputRoot, f.Dir())
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return ""
	}
	return rel
}

// Open streams the full content of the file.
func (f *File) Open(ctx context.Context) (io.ReadCloser, error) {
	var (
		rc  io.ReadCloser
		err error
	)
	if f.IsArchiveEntry() {
		rc, err = f.Archive.Open(f.EntryPath)
	} else {
		rc, err = os.Open(f.Path)
	}
	if err != nil {
		return nil, err
	}
	return archive.NewContextReader(ctx, rc), nil
}

// OpenHeaderless streams the content after the detected header, or the full
// content when there is none.
func (f *File) OpenHeaderless(ctx context.Context) (io.ReadCloser, error) {
	rc, err := f.Open(ctx)
	if err != nil || f.Header == nil {
		return rc, err
	}
	if _, err := f.Header.SkipReader(rc); err != nil {
		rc.Close()
		return nil, fmt.Errorf("open %s headerless: %w", f, err)
	}
	return rc, nil
}

// Extract gives fn a filesystem path holding the content. Plain files are
// passed through; archive entries are extracted to a scratch file that is
// removed when fn returns.
func (f *File) Extract(ctx context.Context, fn func(path string) error) error {
	if !f.IsArchiveEntry() {
		return fn(f.Path)
	}
	return f.Archive.Extract(ctx, f.EntryPath, fn)
}

// Hash streams the content and returns its CRC32 and length.
func Hash(r io.Reader) (string, int64, error) {
	h := crc32.NewIEEE()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", 0, err
	}
	return model.FormatCRC(h.Sum32()), n, nil
}

// HashFile computes the CRC32 of a plain file.
func HashFile(p string) (string, int64, error) {
	fp, err := os.Open(p)
	if err != nil {
		return "", 0, err
	}
	defer fp.Close()
	return Hash(fp)
}
