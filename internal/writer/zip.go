package writer

import (
	"archive/zip"
	"context"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/romsort/internal/archive"
	"github.com/xxxsen/romsort/internal/model"
	"github.com/xxxsen/romsort/internal/plan"
	"go.uber.org/zap"
)

// writeZip builds one archive from its entries. An existing archive that
// holds exactly the expected entries is left alone.
func (w *Writer) writeZip(ctx context.Context, target string, entries []*plan.Entry) (bool, error) {
	want := make(map[string]string, len(entries))
	for _, e := range entries {
		want[e.EntryName] = e.ExpectedCRC
	}
	if have, err := archive.ZipCRCs(target); err == nil && sameCRCs(have, want) {
		logutil.GetLogger(ctx).Debug("archive already up to date", zap.String("target", target))
		return false, nil
	}

	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("create output dir: %w", err)
	}
	tmp := tempName(dir)
	if err := w.writeZipTemp(ctx, tmp, entries); err != nil {
		_ = os.Remove(tmp)
		return false, err
	}
	if w.test {
		if err := verifyZip(tmp, want); err != nil {
			_ = os.Remove(tmp)
			return false, err
		}
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return false, fmt.Errorf("rename into place: %w", err)
	}
	return true, nil
}

func (w *Writer) writeZipTemp(ctx context.Context, tmp string, entries []*plan.Entry) error {
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create temp archive: %w", err)
	}
	zw := zip.NewWriter(out)
	ordered := append([]*plan.Entry(nil), entries...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].EntryName < ordered[j].EntryName })
	for _, e := range ordered {
		err = withContent(ctx, e, func(r io.Reader) error {
			fw, err := zw.CreateHeader(&zip.FileHeader{Name: e.EntryName, Method: zip.Deflate})
			if err != nil {
				return err
			}
			_, err = io.Copy(fw, r)
			return err
		})
		if err != nil {
			zw.Close()
			out.Close()
			return fmt.Errorf("add %s from %s: %w", e.EntryName, e.Source, err)
		}
	}
	if err := zw.Close(); err != nil {
		out.Close()
		return fmt.Errorf("finish archive: %w", err)
	}
	return out.Close()
}

// verifyZip rehashes every entry by streaming it rather than trusting the
// directory CRC that was just written.
func verifyZip(path string, want map[string]string) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("read back: %w", err)
	}
	defer zr.Close()
	seen := 0
	for _, f := range zr.File {
		expected, ok := want[f.Name]
		if !ok {
			return fmt.Errorf("unexpected entry %s", f.Name)
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("read back %s: %w", f.Name, err)
		}
		h := crc32.NewIEEE()
		_, err = io.Copy(h, rc)
		rc.Close()
		if err != nil {
			return fmt.Errorf("read back %s: %w", f.Name, err)
		}
		if err := checkCRC(model.FormatCRC(h.Sum32()), expected); err != nil {
			return fmt.Errorf("%s: %w", f.Name, err)
		}
		seen++
	}
	if seen != len(want) {
		return fmt.Errorf("archive holds %d entries, want %d", seen, len(want))
	}
	return nil
}

func sameCRCs(have, want map[string]string) bool {
	if len(have) != len(want) {
		return false
	}
	for name, crc := range want {
		if have[name] != model.NormalizeCRC(crc) {
			return false
		}
	}
	return true
}
