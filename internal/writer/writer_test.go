package writer

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
	"github.com/xxxsen/romsort/internal/archive"
	"github.com/xxxsen/romsort/internal/db"
	"github.com/xxxsen/romsort/internal/header"
	"github.com/xxxsen/romsort/internal/model"
	"github.com/xxxsen/romsort/internal/patch"
	"github.com/xxxsen/romsort/internal/plan"
	"github.com/xxxsen/romsort/internal/romfile"
	"github.com/xxxsen/romsort/internal/tempdir"
)

func TestMain(m *testing.M) {
	ctx := context.Background()
	base, err := os.MkdirTemp("", "writer-test")
	if err != nil {
		panic(err)
	}
	if _, err := tempdir.Init(ctx, base); err != nil {
		panic(err)
	}
	code := m.Run()
	tempdir.Cleanup(ctx)
	os.RemoveAll(base)
	os.Exit(code)
}

func crcOf(data []byte) string {
	return model.FormatCRC(crc32.ChecksumIEEE(data))
}

func source(t *testing.T, dir, name string, data []byte) *romfile.File {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return &romfile.File{Path: p, Size: int64(len(data)), CRC32: crcOf(data)}
}

func newPlan(entries ...*plan.Entry) *plan.Plan {
	return &plan.Plan{Catalog: model.NewCatalog(model.Header{Name: "Test"}, nil), Entries: entries}
}

func leftovers(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, ".romsort-*.tmp"))
	require.NoError(t, err)
	return matches
}

func TestCopyAndSkipUnchanged(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	data := []byte("fizzbuzz!")
	src := source(t, in, "Fizzbuzz.rom", data)
	e := &plan.Entry{Target: filepath.Join(out, "One", "Fizzbuzz.rom"), Action: plan.ActionCopy,
		Source: src, ExpectedCRC: crcOf(data), ExpectedSize: int64(len(data))}

	w := New(2, true, nil)
	res, err := w.Write(context.Background(), newPlan(e))
	require.NoError(t, err)
	assert.Len(t, res.Written, 1)
	got, err := os.ReadFile(e.Target)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	res, err = w.Write(context.Background(), newPlan(e))
	require.NoError(t, err)
	assert.Empty(t, res.Written)
	assert.Len(t, res.Unchanged, 1)
	assert.Empty(t, leftovers(t, filepath.Dir(e.Target)))
}

func TestCopyHeaderlessPatched(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	ines, _ := header.Lookup("iNES")
	body := []byte("AAAAAAAAAA")
	src := source(t, in, "game.nes", append(append([]byte("NES\x1a"), make([]byte, 12)...), body...))
	src.Header = ines

	patchPath := filepath.Join(in, crcOf(body)+" Fixed.ips")
	require.NoError(t, os.WriteFile(patchPath, []byte("PATCH\x00\x00\x01\x00\x03BCDEOF"), 0o644))
	p, err := patch.FromFile(context.Background(), &romfile.File{Path: patchPath})
	require.NoError(t, err)

	want := []byte("ABCDAAAAAA")
	e := &plan.Entry{Target: filepath.Join(out, "Fixed.nes"), Action: plan.ActionCopy, Source: src,
		Patch: p, Headerless: true, ExpectedCRC: crcOf(want)}
	_, err = New(1, true, nil).Write(context.Background(), newPlan(e))
	require.NoError(t, err)
	got, err := os.ReadFile(e.Target)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestTestFailsOnMismatch(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	src := source(t, in, "a.rom", []byte("actual"))
	bad := &plan.Entry{Target: filepath.Join(out, "a.rom"), Action: plan.ActionCopy, Source: src, ExpectedCRC: "deadbeef"}
	good := &plan.Entry{Target: filepath.Join(out, "b.rom"), Action: plan.ActionCopy, Source: src, ExpectedCRC: src.CRC32}

	res, err := New(2, true, nil).Write(context.Background(), newPlan(bad, good))
	require.Error(t, err)
	assert.ErrorIs(t, res.Failed[bad], ErrCRCMismatch)
	assert.Len(t, res.Written, 1)
	_, statErr := os.Stat(bad.Target)
	assert.True(t, os.IsNotExist(statErr))
	assert.Empty(t, leftovers(t, out))
}

func TestZip(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	one := source(t, in, "One.rom", []byte("one"))
	three := source(t, in, "Three.rom", []byte("three"))
	target := filepath.Join(out, "One Three.zip")
	entries := []*plan.Entry{
		{Target: target, EntryName: "One.rom", Action: plan.ActionZip, Source: one, ExpectedCRC: one.CRC32},
		{Target: target, EntryName: "Three.rom", Action: plan.ActionZip, Source: three, ExpectedCRC: three.CRC32},
	}
	w := New(2, true, nil)
	res, err := w.Write(context.Background(), newPlan(entries...))
	require.NoError(t, err)
	assert.Len(t, res.Written, 2)

	crcs, err := archive.ZipCRCs(target)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"One.rom": one.CRC32, "Three.rom": three.CRC32}, crcs)

	res, err = w.Write(context.Background(), newPlan(entries...))
	require.NoError(t, err)
	assert.Len(t, res.Unchanged, 2)

	// An archive with an extra entry is rebuilt.
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range []string{"One.rom", "Three.rom", "junk.txt"} {
		fw, err := zw.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(name))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(target, buf.Bytes(), 0o644))
	res, err = w.Write(context.Background(), newPlan(entries...))
	require.NoError(t, err)
	assert.Len(t, res.Written, 2)
	crcs, err = archive.ZipCRCs(target)
	require.NoError(t, err)
	assert.Len(t, crcs, 2)
}

func TestMoveTracker(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	plain := source(t, in, "plain.rom", []byte("plain"))
	failing := source(t, in, "failing.rom", []byte("failing"))

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range []string{"a.rom", "b.rom"} {
		fw, err := zw.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(name))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	zipPath := filepath.Join(in, "pack.zip")
	require.NoError(t, os.WriteFile(zipPath, buf.Bytes(), 0o644))
	a, _ := archive.New(zipPath)
	entryA := &romfile.File{Path: zipPath, Archive: a, EntryPath: "a.rom", CRC32: crcOf([]byte("a.rom"))}

	entries := []*plan.Entry{
		{Target: filepath.Join(out, "plain.rom"), Action: plan.ActionMove, MoveSource: true, Source: plain, ExpectedCRC: plain.CRC32},
		{Target: filepath.Join(out, "failing.rom"), Action: plan.ActionMove, MoveSource: true, Source: failing, ExpectedCRC: "00000000"},
		{Target: filepath.Join(out, "a.rom"), Action: plan.ActionMove, MoveSource: true, Source: entryA, ExpectedCRC: entryA.CRC32},
		{Target: plain.Path, Action: plan.ActionMove, MoveSource: true, Source: failing, ExpectedCRC: failing.CRC32},
	}
	pl := newPlan(entries[:3]...)
	res, err := New(2, true, nil).Write(context.Background(), pl)
	require.Error(t, err)

	tracker := NewMoveTracker(nil)
	tracker.Track(pl, res)
	removed := tracker.RemoveSources(context.Background())
	assert.Equal(t, []string{absPath(plain.Path)}, removed)
	assert.FileExists(t, failing.Path)
	assert.FileExists(t, zipPath)

	// A source that is also a target is kept.
	tracker = NewMoveTracker(nil)
	pl = newPlan(entries[3])
	tracker.Track(pl, &Result{Unchanged: []*plan.Entry{entries[3]}, Failed: map[*plan.Entry]error{}})
	keep := &plan.Plan{Catalog: pl.Catalog, Entries: []*plan.Entry{{Target: failing.Path}}}
	tracker.Track(keep, &Result{Failed: map[*plan.Entry]error{}})
	assert.Empty(t, tracker.RemoveSources(context.Background()))
	assert.FileExists(t, failing.Path)
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

func TestWriterReusesRememberedTargetCRC(t *testing.T) {
	ctx := context.Background()
	sqlDB, err := db.OpenMemory(ctx)
	require.NoError(t, err)
	defer sqlDB.Close()
	memo := &countingMemo{CRCMemo: db.NewCRCMemoDao(sqlDB)}

	in, out := t.TempDir(), t.TempDir()
	data := []byte("remembered")
	src := source(t, in, "game.rom", data)
	e := &plan.Entry{Target: filepath.Join(out, "Game.rom"), Action: plan.ActionCopy, Source: src, ExpectedCRC: src.CRC32}
	w := New(1, false, nil, WithMemo(memo))

	res, err := w.Write(ctx, newPlan(e))
	require.NoError(t, err)
	assert.Len(t, res.Written, 1)
	assert.Equal(t, 0, memo.lookups)

	// the written checksum is remembered, so the second check reads nothing
	res, err = w.Write(ctx, newPlan(e))
	require.NoError(t, err)
	assert.Len(t, res.Unchanged, 1)
	assert.Equal(t, 1, memo.lookups)
	assert.Equal(t, 1, memo.hits)

	// a target of a different size misses and is rewritten
	require.NoError(t, os.WriteFile(e.Target, []byte("something else"), 0o644))
	res, err = w.Write(ctx, newPlan(e))
	require.NoError(t, err)
	assert.Len(t, res.Written, 1)
	assert.Equal(t, 2, memo.lookups)
	assert.Equal(t, 1, memo.hits)
	got, err := os.ReadFile(e.Target)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

type fixedLister map[string][]string

func (l fixedLister) ArchiveEntries(path string) ([]string, bool) {
	names, ok := l[path]
	return names, ok
}

func TestMoveTrackerUsesScannedListing(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range []string{"a.rom", "b.rom"} {
		fw, err := zw.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(name))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	zipPath := filepath.Join(in, "pack.zip")
	require.NoError(t, os.WriteFile(zipPath, buf.Bytes(), 0o644))
	a, _ := archive.New(zipPath)
	entryA := &romfile.File{Path: zipPath, Archive: a, EntryPath: "a.rom", CRC32: crcOf([]byte("a.rom"))}
	e := &plan.Entry{Target: filepath.Join(out, "a.rom"), Action: plan.ActionMove, MoveSource: true, Source: entryA, ExpectedCRC: entryA.CRC32}
	pl := newPlan(e)
	res := &Result{Written: []*plan.Entry{e}, Failed: map[*plan.Entry]error{}}

	// listing the archive again finds b.rom unused
	tracker := NewMoveTracker(fixedLister{})
	tracker.Track(pl, res)
	assert.Empty(t, tracker.RemoveSources(context.Background()))
	assert.FileExists(t, zipPath)

	// the scanned listing is trusted without reopening the archive
	tracker = NewMoveTracker(fixedLister{absPath(zipPath): {"a.rom"}})
	tracker.Track(pl, res)
	assert.Equal(t, []string{absPath(zipPath)}, tracker.RemoveSources(context.Background()))
	assert.NoFileExists(t, zipPath)
}
