// Package dat loads reference catalogs from Logiqx XML, MAME XML,
// ClrMamePro text and SMDB files, plain or inside archives.
package dat

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/romsort/internal/archive"
	"github.com/xxxsen/romsort/internal/model"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrNoValidDats is returned when catalogs were requested but none parsed.
var ErrNoValidDats = errors.New("no valid dat files")

// Format is a catalog file syntax.
type Format int

const (
	FormatUnknown Format = iota
	FormatXML
	FormatCMPro
	FormatSMDB
)

func (f Format) String() string {
	switch f {
	case FormatXML:
		return "xml"
	case FormatCMPro:
		return "cmpro"
	case FormatSMDB:
		return "smdb"
	}
	return "unknown"
}

const sniffSize = 4096

var cmproStartRegex = regexp.MustCompile(`(?m)^\s*(clrmamepro|game|machine|resource)\s*\(`)

// Sniff guesses the catalog syntax from the leading bytes of a file.
func Sniff(head []byte) Format {
	head = bytes.TrimPrefix(head, []byte("\xef\xbb\xbf"))
	trimmed := bytes.TrimSpace(head)
	switch {
	case bytes.HasPrefix(trimmed, []byte("<")):
		return FormatXML
	case cmproStartRegex.Match(trimmed):
		return FormatCMPro
	}
	line := trimmed
	if i := bytes.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	if smdbLineRegex.Match(bytes.TrimRight(line, "\r")) {
		return FormatSMDB
	}
	return FormatUnknown
}

// Parse sniffs and decodes one catalog. name is used when the content
// carries no catalog name.
func Parse(r io.Reader, name string) (*model.Catalog, error) {
	br := bufio.NewReaderSize(r, sniffSize)
	head, err := br.Peek(sniffSize)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, err
	}
	var cat *model.Catalog
	switch Sniff(head) {
	case FormatXML:
		cat, err = NewXMLParser().Parse(br)
	case FormatCMPro:
		cat, err = NewCMProParser().Parse(br)
	case FormatSMDB:
		cat, err = NewSMDBParser().Parse(br, name)
	default:
		return nil, fmt.Errorf("unrecognized dat format")
	}
	if err != nil {
		return nil, err
	}
	if cat.Name == "" {
		cat.Name = name
	}
	if cat.Description == "" {
		cat.Description = cat.Name
	}
	return cat, nil
}

// ParseFile opens and parses a catalog file.
func ParseFile(path string) (*model.Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dat %s: %w", path, err)
	}
	defer f.Close()
	cat, err := Parse(f, catalogNameFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("parse dat %s: %w", path, err)
	}
	return cat, nil
}

func catalogNameFromPath(p string) string {
	base := filepath.Base(filepath.ToSlash(p))
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Loader parses catalog files with bounded parallelism.
type Loader struct {
	threads int
}

func NewLoader(threads int) *Loader {
	if threads <= 0 {
		threads = 1
	}
	return &Loader{threads: threads}
}

// Load parses every path, skipping the ones that fail. Catalog order follows
// path order; catalogs inside one archive follow entry order.
func (l *Loader) Load(ctx context.Context, paths []string) ([]*model.Catalog, error) {
	logger := logutil.GetLogger(ctx)
	results := make([][]*model.Catalog, len(paths))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(l.threads)
	for i, p := range paths {
		i, p := i, p
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			cats, err := l.loadPath(ctx, p)
			if err != nil {
				logger.Warn("parse dat failed, skip", zap.String("path", p), zap.Error(err))
				return nil
			}
			results[i] = cats
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	var out []*model.Catalog
	for _, cats := range results {
		for _, c := range cats {
			for _, name := range c.UnresolvedParents() {
				logger.Warn("clone references an unknown parent, treat as parent",
					zap.String("dat", c.DisplayName()), zap.String("game", name))
			}
			logger.Info("dat loaded", zap.String("dat", c.DisplayName()),
				zap.Int("games", len(c.Games)), zap.Int("parents", len(c.Parents())))
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return nil, ErrNoValidDats
	}
	return out, nil
}

func (l *Loader) loadPath(ctx context.Context, p string) ([]*model.Catalog, error) {
	a, ok := archive.New(p)
	if !ok {
		cat, err := ParseFile(p)
		if err != nil {
			return nil, err
		}
		return []*model.Catalog{cat}, nil
	}
	entries, err := a.Entries(ctx)
	if err != nil {
		return nil, err
	}
	var cats []*model.Catalog
	for _, e := range entries {
		cat, err := parseEntry(a, e.Path)
		if err != nil {
			logutil.GetLogger(ctx).Warn("parse dat entry failed, skip",
				zap.String("archive", p), zap.String("entry", e.Path), zap.Error(err))
			continue
		}
		cats = append(cats, cat)
	}
	if len(cats) == 0 {
		return nil, fmt.Errorf("archive %s holds no valid dat", p)
	}
	return cats, nil
}

func parseEntry(a *archive.Archive, entryPath string) (*model.Catalog, error) {
	rc, err := a.Open(entryPath)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return Parse(rc, catalogNameFromPath(entryPath))
}
