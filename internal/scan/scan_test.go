package scan

import (
	"archive/zip"
	"bytes"
	"context"
	"hash/crc32"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xxxsen/romsort/internal/config"
	"github.com/xxxsen/romsort/internal/db"
	"github.com/xxxsen/romsort/internal/model"
	"github.com/xxxsen/romsort/internal/romfile"
)

func crcOf(data []byte) string {
	return model.FormatCRC(crc32.ChecksumIEEE(data))
}

func writeFile(t *testing.T, p string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, data, 0o644))
}

func writeZip(t *testing.T, p string, files map[string][]byte) {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, data := range files {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	writeFile(t, p, buf.Bytes())
}

func TestExpandPaths(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "roms", "a.rom"), []byte("a"))
	writeFile(t, filepath.Join(dir, "roms", "sub", "b.rom"), []byte("b"))
	writeFile(t, filepath.Join(dir, "roms", "sub", "c.txt"), []byte("c"))

	paths, err := ExpandPaths([]string{filepath.Join(dir, "roms")})
	require.NoError(t, err)
	require.Len(t, paths, 3)
	for _, p := range paths {
		assert.Equal(t, filepath.Join(dir, "roms"), p.InputRoot)
	}

	paths, err = ExpandPaths([]string{filepath.Join(dir, "roms", "**", "*.rom")})
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.Equal(t, filepath.Join(dir, "roms", "a.rom"), paths[0].Path)
	assert.Equal(t, filepath.Join(dir, "roms"), paths[1].InputRoot)

	// Overlapping patterns are deduplicated.
	paths, err = ExpandPaths([]string{filepath.Join(dir, "roms"), filepath.Join(dir, "roms", "a.rom")})
	require.NoError(t, err)
	assert.Len(t, paths, 3)

	_, err = ExpandPaths([]string{filepath.Join(dir, "missing", "*.rom")})
	require.Error(t, err)
	assert.True(t, config.IsError(err))
	assert.Contains(t, err.Error(), "path doesn't exist")
}

func TestScanPrefersPlainFiles(t *testing.T) {
	dir := t.TempDir()
	one := []byte("one one one")
	two := []byte("two")
	writeFile(t, filepath.Join(dir, "one.rom"), one)
	writeZip(t, filepath.Join(dir, "pack.zip"), map[string][]byte{"one.rom": one, "two.rom": two})

	paths, err := ExpandPaths([]string{dir})
	require.NoError(t, err)

	files, err := NewROMScanner(2).Scan(context.Background(), paths)
	require.NoError(t, err)
	require.Len(t, files, 2)
	byCRC := map[string]*romfile.File{}
	for _, f := range files {
		byCRC[f.CRC32] = f
	}
	require.Contains(t, byCRC, crcOf(one))
	assert.False(t, byCRC[crcOf(one)].IsArchiveEntry())
	require.Contains(t, byCRC, crcOf(two))
	assert.Equal(t, "two.rom", byCRC[crcOf(two)].EntryPath)

	all, err := NewROMScanner(2, WithKeepDuplicates(true)).Scan(context.Background(), paths)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestScanPrefersOutputRoot(t *testing.T) {
	dir := t.TempDir()
	data := []byte("same")
	writeFile(t, filepath.Join(dir, "in", "a.rom"), data)
	writeFile(t, filepath.Join(dir, "out", "z.rom"), data)
	paths, err := ExpandPaths([]string{dir})
	require.NoError(t, err)

	files, err := NewROMScanner(1, WithOutputRoot(filepath.Join(dir, "out"))).Scan(context.Background(), paths)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, filepath.Join(dir, "out", "z.rom"), files[0].Path)
}

func TestScanReportsBrokenArchive(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "ok.rom"), []byte("ok"))
	writeFile(t, filepath.Join(dir, "broken.zip"), []byte("not a zip"))
	paths, err := ExpandPaths([]string{dir})
	require.NoError(t, err)

	files, err := NewROMScanner(2).Scan(context.Background(), paths)
	require.Error(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, crcOf([]byte("ok")), files[0].CRC32)
}

type countingMemo struct {
	CRCMemo
	mu      sync.Mutex
	lookups int
	hits    int
}

func (c *countingMemo) Lookup(ctx context.Context, location string, modTime, size int64) (*db.CRCMemo, bool, error) {
	m, ok, err := c.CRCMemo.Lookup(ctx, location, modTime, size)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lookups++
	if ok {
		c.hits++
	}
	return m, ok, err
}

func newCountingMemo(t *testing.T) *countingMemo {
	t.Helper()
	sqlDB, err := db.OpenMemory(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return &countingMemo{CRCMemo: db.NewCRCMemoDao(sqlDB)}
}

func TestScanUsesMemo(t *testing.T) {
	ctx := context.Background()
	memo := newCountingMemo(t)

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.rom"), []byte("memo me"))
	paths, err := ExpandPaths([]string{dir})
	require.NoError(t, err)

	_, err = NewROMScanner(1, WithMemo(memo)).Scan(ctx, paths)
	require.NoError(t, err)
	assert.Equal(t, 0, memo.hits)

	files, err := NewROMScanner(1, WithMemo(memo)).Scan(ctx, paths)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, crcOf([]byte("memo me")), files[0].CRC32)
	assert.Equal(t, 2, memo.lookups)
	assert.Equal(t, 1, memo.hits)
}

func TestHeaderProcessorReusesMemo(t *testing.T) {
	ctx := context.Background()
	memo := newCountingMemo(t)

	dir := t.TempDir()
	body := bytes.Repeat([]byte{0x42}, 64)
	writeFile(t, filepath.Join(dir, "game.nes"), append(append([]byte("NES\x1a"), make([]byte, 12)...), body...))
	writeFile(t, filepath.Join(dir, "plain.nes"), body)
	paths, err := ExpandPaths([]string{dir})
	require.NoError(t, err)
	files, err := NewROMScanner(1, WithMemo(memo)).Scan(ctx, paths)
	require.NoError(t, err)
	require.Len(t, files, 2)

	hp := NewHeaderProcessor(1, memo, nil)
	require.NoError(t, hp.Process(ctx, files))
	// the scanner rows are found but detection still runs once
	assert.Equal(t, 2, memo.hits)

	// with the files gone, only remembered results can answer
	for _, f := range files {
		require.NoError(t, os.Remove(f.Path))
	}
	for _, f := range files {
		again := &romfile.File{Path: f.Path, Size: f.Size, CRC32: f.CRC32, ModTime: f.ModTime}
		require.NoError(t, hp.ProcessFile(ctx, again))
		if filepath.Base(f.Path) == "game.nes" {
			require.NotNil(t, again.Header)
			assert.Equal(t, "iNES", again.Header.Name)
			assert.Equal(t, crcOf(body), again.HeaderlessCRC32)
			assert.Equal(t, int64(64), again.HeaderlessSize)
			continue
		}
		assert.Nil(t, again.Header)
	}
	assert.Equal(t, 4, memo.hits)
}

func TestHeaderProcessor(t *testing.T) {
	dir := t.TempDir()
	body := bytes.Repeat([]byte{0x42}, 64)
	rom := append(append([]byte("NES\x1a"), make([]byte, 12)...), body...)
	writeFile(t, filepath.Join(dir, "game.nes"), rom)
	writeFile(t, filepath.Join(dir, "color_test.nintendoentertainmentsystem"), rom)

	paths, err := ExpandPaths([]string{dir})
	require.NoError(t, err)
	files, err := NewROMScanner(1, WithKeepDuplicates(true)).Scan(context.Background(), paths)
	require.NoError(t, err)
	require.Len(t, files, 2)

	require.NoError(t, NewHeaderProcessor(2, nil, nil).Process(context.Background(), files))
	for _, f := range files {
		if f.Ext() == ".nes" {
			require.NotNil(t, f.Header)
			assert.Equal(t, "iNES", f.Header.Name)
			assert.Equal(t, crcOf(body), f.HeaderlessCRC32)
			assert.Equal(t, int64(64), f.HeaderlessSize)
			continue
		}
		assert.Nil(t, f.Header)
		assert.Equal(t, crcOf(rom), f.CRC32)
	}
}

func TestIndex(t *testing.T) {
	a := &romfile.File{Path: "/in/a.nes", Size: 80, CRC32: "0000abcd", HeaderlessSize: 64, HeaderlessCRC32: "1234"}
	b := &romfile.File{Path: "/in/b.rom", Size: 10, CRC32: "0000ABCD"}
	idx := NewIndex([]*romfile.File{a, b}, "")

	assert.Len(t, idx.Find("abcd", 0), 2)
	assert.Equal(t, []*romfile.File{b}, idx.Find("0000abcd", 10))
	assert.Empty(t, idx.Find("ffffffff", 0))
	// Headerless lookups only see files with a detected header.
	assert.Empty(t, idx.FindHeaderless("00001234", 64))
	assert.Len(t, idx.Files(), 2)
}

func TestPatchScanner(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "abcd1234 Fix.ips"), []byte("PATCHEOF"))
	writeFile(t, filepath.Join(dir, "no crc.ips"), []byte("PATCHEOF"))
	writeFile(t, filepath.Join(dir, "readme.txt"), []byte("hi"))
	writeZip(t, filepath.Join(dir, "more.zip"), map[string][]byte{"Hack_0badf00d.ips": []byte("PATCHEOF")})

	paths, err := ExpandPaths([]string{dir})
	require.NoError(t, err)
	patches, err := NewPatchScanner(2, nil).Scan(context.Background(), paths)
	require.NoError(t, err)
	require.Len(t, patches, 2)
	assert.Equal(t, "abcd1234", patches[0].CRCBefore)
	assert.Equal(t, "Fix", patches[0].Name)
	assert.Equal(t, "0badf00d", patches[1].CRCBefore)
	assert.True(t, patches[1].File.IsArchiveEntry())
}
