// Package patch parses and applies binary ROM patches.
package patch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/xxxsen/romsort/internal/model"
	"github.com/xxxsen/romsort/internal/romfile"
	"github.com/xxxsen/romsort/internal/tempdir"
)

var (
	ErrMalformed   = errors.New("malformed patch")
	ErrUnsupported = errors.New("unsupported patch")
	ErrNoCRC       = errors.New("couldn't parse CRC")
)

// Format is a patch file family.
type Format int

const (
	FormatIPS Format = iota + 1
	FormatUPS
	FormatBPS
	FormatPPF
	FormatAPS
	FormatNinja
	FormatDPS
	FormatVCDiff
)

func (f Format) String() string {
	switch f {
	case FormatIPS:
		return "IPS"
	case FormatUPS:
		return "UPS"
	case FormatBPS:
		return "BPS"
	case FormatPPF:
		return "PPF"
	case FormatAPS:
		return "APS"
	case FormatNinja:
		return "NINJA"
	case FormatDPS:
		return "DPS"
	case FormatVCDiff:
		return "VCDIFF"
	}
	return "unknown"
}

var extensionFormats = map[string]Format{
	".ips":    FormatIPS,
	".ips32":  FormatIPS,
	".ups":    FormatUPS,
	".bps":    FormatBPS,
	".ppf":    FormatPPF,
	".aps":    FormatAPS,
	".rup":    FormatNinja,
	".dps":    FormatDPS,
	".vcdiff": FormatVCDiff,
	".xdelta": FormatVCDiff,
}

// inPlace patches modify a scratch copy of the source.
type inPlaceFunc func(data []byte, target *os.File) error

// rebuild patches produce a new target from random access to the source.
type rebuildFunc func(data []byte, source io.ReaderAt, sourceSize int64) ([]byte, error)

type applier struct {
	inPlace inPlaceFunc
	rebuild rebuildFunc
}

var appliers = map[Format]applier{
	FormatIPS:    {inPlace: applyIPS},
	FormatUPS:    {inPlace: applyUPS},
	FormatPPF:    {inPlace: applyPPF},
	FormatAPS:    {inPlace: applyAPS},
	FormatNinja:  {inPlace: applyNinja},
	FormatBPS:    {rebuild: applyBPS},
	FormatDPS:    {rebuild: applyDPS},
	FormatVCDiff: {rebuild: applyVCDiff},
}

// DetectFormat maps a patch file name to its format.
func DetectFormat(name string) (Format, bool) {
	f, ok := extensionFormats[strings.ToLower(filepath.Ext(name))]
	return f, ok
}

var (
	crcPrefixRegex = regexp.MustCompile(`(?i)^([a-f0-9]{8})[^a-z0-9]`)
	crcSuffixRegex = regexp.MustCompile(`(?i)[^a-z0-9]([a-f0-9]{8})$`)
)

func baseName(p string) string {
	base := filepath.Base(filepath.ToSlash(p))
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ParseCRC extracts the source CRC32 encoded in a patch file name.
func ParseCRC(p string) (string, error) {
	base := baseName(p)
	if m := crcPrefixRegex.FindStringSubmatch(base); m != nil {
		return strings.ToLower(m[1]), nil
	}
	if m := crcSuffixRegex.FindStringSubmatch(base); m != nil {
		return strings.ToLower(m[1]), nil
	}
	return "", fmt.Errorf("%w from patch file name: %s", ErrNoCRC, p)
}

// Descriptor is the patch file name with its CRC token removed.
func Descriptor(p string) string {
	base := baseName(p)
	name := crcPrefixRegex.ReplaceAllString(base, "")
	name = crcSuffixRegex.ReplaceAllString(name, "")
	name = strings.TrimSpace(name)
	if name == "" {
		return base
	}
	return name
}

// Patch is a parsed patch file.
type Patch struct {
	File      *romfile.File
	Format    Format
	CRCBefore string
	// CRCAfter is empty until known from a trailer or a trial application.
	CRCAfter  string
	SizeAfter int64
	Name      string
}

// FromFile loads a patch and resolves its source and, when the format
// declares it, target checksum.
func FromFile(ctx context.Context, f *romfile.File) (*Patch, error) {
	format, ok := DetectFormat(f.Name())
	if !ok {
		return nil, fmt.Errorf("%w: unknown patch extension %s", ErrUnsupported, f.Ext())
	}
	p := &Patch{File: f, Format: format, Name: Descriptor(f.Name())}
	crc, crcErr := ParseCRC(f.Name())
	p.CRCBefore = crc

	if format == FormatUPS || format == FormatBPS {
		data, err := p.load(ctx)
		if err != nil {
			return nil, err
		}
		src, dst, _, err := trailerCRCs(data)
		if err != nil {
			return nil, fmt.Errorf("read %s trailer %s: %w", format, f, err)
		}
		var size uint64
		if format == FormatUPS {
			_, size, err = upsSizes(data)
		} else {
			size, err = bpsTargetSize(data)
		}
		if err != nil {
			return nil, fmt.Errorf("read %s header %s: %w", format, f, err)
		}
		p.CRCAfter = model.FormatCRC(dst)
		p.SizeAfter = int64(size)
		if crcErr != nil {
			p.CRCBefore = model.FormatCRC(src)
			crcErr = nil
		}
	}
	if crcErr != nil {
		return nil, crcErr
	}
	return p, nil
}

// FromPath loads a standalone patch file. A file name without a CRC token
// is accepted; CRCBefore is then empty.
func FromPath(ctx context.Context, path string) (*Patch, error) {
	f := &romfile.File{Path: path}
	p, err := FromFile(ctx, f)
	if errors.Is(err, ErrNoCRC) {
		format, _ := DetectFormat(f.Name())
		return &Patch{File: f, Format: format, Name: Descriptor(f.Name())}, nil
	}
	return p, err
}

func (p *Patch) String() string {
	return p.File.String()
}

func (p *Patch) load(ctx context.Context) ([]byte, error) {
	rc, err := p.File.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open patch %s: %w", p.File, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read patch %s: %w", p.File, err)
	}
	return data, nil
}

// Apply writes source with the patch applied to a scratch file and passes
// its path to fn. The scratch file is removed when fn returns.
func (p *Patch) Apply(ctx context.Context, source io.Reader, fn func(path string) error) error {
	ap, data, err := p.prepare(ctx)
	if err != nil {
		return err
	}
	return tempdir.Borrow("patch-source", func(srcPath string) error {
		if err := writeScratch(srcPath, source); err != nil {
			return fmt.Errorf("stage patch source: %w", err)
		}
		if ap.inPlace != nil {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := applyInPlace(ap.inPlace, data, srcPath); err != nil {
				return fmt.Errorf("apply %s patch %s: %w", p.Format, p.File, err)
			}
			return fn(srcPath)
		}
		return p.rebuild(ctx, ap.rebuild, data, srcPath, fn)
	})
}

// ApplyFile is Apply with f as the source, past its header when headerless
// is set. Formats that rebuild from random access read the file where it
// is, or from a single extraction for archive entries.
func (p *Patch) ApplyFile(ctx context.Context, f *romfile.File, headerless bool, fn func(path string) error) error {
	ap, ok := appliers[p.Format]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupported, p.Format)
	}
	if ap.rebuild == nil || (headerless && f.Header != nil) {
		var (
			rc  io.ReadCloser
			err error
		)
		if headerless {
			rc, err = f.OpenHeaderless(ctx)
		} else {
			rc, err = f.Open(ctx)
		}
		if err != nil {
			return err
		}
		defer rc.Close()
		return p.Apply(ctx, rc, fn)
	}
	_, data, err := p.prepare(ctx)
	if err != nil {
		return err
	}
	return f.Extract(ctx, func(srcPath string) error {
		return p.rebuild(ctx, ap.rebuild, data, srcPath, fn)
	})
}

func (p *Patch) prepare(ctx context.Context) (applier, []byte, error) {
	ap, ok := appliers[p.Format]
	if !ok {
		return applier{}, nil, fmt.Errorf("%w: %s", ErrUnsupported, p.Format)
	}
	data, err := p.load(ctx)
	if err != nil {
		return applier{}, nil, err
	}
	return ap, data, nil
}

func (p *Patch) rebuild(ctx context.Context, build rebuildFunc, data []byte, srcPath string, fn func(path string) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	out, err := applyRebuild(build, data, srcPath)
	if err != nil {
		return fmt.Errorf("apply %s patch %s: %w", p.Format, p.File, err)
	}
	return tempdir.Borrow("patch-target", func(dstPath string) error {
		if err := os.WriteFile(dstPath, out, 0o644); err != nil {
			return fmt.Errorf("write patched scratch: %w", err)
		}
		return fn(dstPath)
	})
}

// ComputeTarget fills CRCAfter and SizeAfter by applying the patch to f.
func (p *Patch) ComputeTarget(ctx context.Context, f *romfile.File, headerless bool) error {
	return p.ApplyFile(ctx, f, headerless, func(path string) error {
		crc, size, err := romfile.HashFile(path)
		if err != nil {
			return err
		}
		p.CRCAfter, p.SizeAfter = crc, size
		return nil
	})
}

func writeScratch(path string, r io.Reader) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func applyInPlace(fn inPlaceFunc, data []byte, path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	if err := fn(data, f); err != nil {
		f.Close()
		return err
	}
	after, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	if limit := targetLimit(st.Size(), len(data)); after.Size() > limit {
		f.Close()
		return fmt.Errorf("%w: patched size %d exceeds limit %d", ErrMalformed, after.Size(), limit)
	}
	return f.Close()
}

func applyRebuild(fn rebuildFunc, data []byte, path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return fn(data, f, st.Size())
}
