package patch

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xxxsen/romsort/internal/archive"
	"github.com/xxxsen/romsort/internal/model"
	"github.com/xxxsen/romsort/internal/romfile"
	"github.com/xxxsen/romsort/internal/tempdir"
)

func TestMain(m *testing.M) {
	ctx := context.Background()
	base, err := os.MkdirTemp("", "patch-test")
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

func writePatch(t *testing.T, name string, data []byte) *Patch {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, data, 0o644))
	pt, err := FromFile(context.Background(), &romfile.File{Path: p})
	require.NoError(t, err)
	return pt
}

func applyString(t *testing.T, p *Patch, source string) string {
	t.Helper()
	var out []byte
	err := p.Apply(context.Background(), strings.NewReader(source), func(path string) error {
		var err error
		out, err = os.ReadFile(path)
		return err
	})
	require.NoError(t, err)
	return string(out)
}

func TestParseCRC(t *testing.T) {
	valid := map[string]string{
		"ABCD1234-Foo.ips":           "abcd1234",
		"Fizz/bcde2345_Buzz.ips":     "bcde2345",
		"One/Two/cdef3456 Three.ips": "cdef3456",
		"Lorem+9876FEDC.ips":         "9876fedc",
		"Ipsum#8765edcb.ips":         "8765edcb",
		"Dolor 7654dcba.ips":         "7654dcba",
	}
	for name, want := range valid {
		got, err := ParseCRC(name)
		if err != nil {
			t.Fatalf("parse %s: %v", name, err)
		}
		assert.Equal(t, want, got, name)
	}
	for _, name := range []string{"foo.ips", "fizz/buzz.ips", "ABCDEFGH Blazgo.ips", "ABCD12345 Bangarang.ips", "Bepzinky 1234567.ips"} {
		_, err := ParseCRC(name)
		if err == nil || !strings.Contains(err.Error(), "couldn't parse CRC") {
			t.Fatalf("expected parse failure for %s, got %v", name, err)
		}
	}
	assert.Equal(t, "Foo", Descriptor("ABCD1234-Foo.ips"))
	assert.Equal(t, "Lorem", Descriptor("Lorem+9876FEDC.ips"))
	assert.Equal(t, "Three", Descriptor("One/Two/cdef3456 Three.ips"))
}

func TestFromFileRequiresCRC(t *testing.T) {
	p := filepath.Join(t.TempDir(), "nocrc.ips")
	require.NoError(t, os.WriteFile(p, []byte("PATCHEOF"), 0o644))
	_, err := FromFile(context.Background(), &romfile.File{Path: p})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "couldn't parse CRC")
}

func TestApplyIPS(t *testing.T) {
	cases := []struct {
		base, patch, want string
	}{
		{"AAAAAAAAAA", "PATCH\x00\x00\x01\x00\x03BCDEOF", "ABCDAAAAAA"},
		{"AAAAAAAAAA", "PATCH\x00\x00\x01\x00\x09BCDEFGHIJEOF", "ABCDEFGHIJ"},
		{"AAAAAAAAAAAAAAAAAAAA", "PATCH\x00\x00\x01\x00\x05BCDEF\x00\x00\x10\x00\x00\x00\x04EEOF", "ABCDEFAAAAAAAAAAEEEE"},
		{"AAAAAAAAAA", "IPS32\x00\x00\x00\x01\x00\x03BCDEEOF", "ABCDAAAAAA"},
		{"AAAAAAAAAA", "IPS32\x00\x00\x00\x01\x00\x09BCDEFGHIJEEOF", "ABCDEFGHIJ"},
		{"AAAAAAAAAAAAAAAAAAAA", "IPS32\x00\x00\x00\x01\x00\x05BCDEF\x00\x00\x00\x10\x00\x00\x00\x04EEEOF", "ABCDEFAAAAAAAAAAEEEE"},
		{"AAAAAAAAAA", "PATCH\x00\x00\x01\x00\x01BEOF\x00\x00\x04", "ABAA"},
	}
	for i, c := range cases {
		p := writePatch(t, "00000000 patch.ips", []byte(c.patch))
		got := applyString(t, p, c.base)
		if got != c.want {
			t.Fatalf("case %d: got %q, want %q", i, got, c.want)
		}
	}
}

func TestApplyIPSMalformed(t *testing.T) {
	p := writePatch(t, "00000000 broken.ips", []byte("PATCH\x00\x00\x01\x00\x09BC"))
	err := p.Apply(context.Background(), strings.NewReader("AAAA"), func(string) error {
		t.Fatalf("callback must not run for a broken patch")
		return nil
	})
	assert.ErrorIs(t, err, ErrMalformed)
}

func writeVLV(b *bytes.Buffer, v uint64) {
	for {
		x := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			b.WriteByte(0x80 | x)
			return
		}
		b.WriteByte(x)
		v--
	}
}

func appendTrailer(b *bytes.Buffer, src, dst []byte) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], crc32.ChecksumIEEE(src))
	b.Write(tmp[:])
	binary.LittleEndian.PutUint32(tmp[:], crc32.ChecksumIEEE(dst))
	b.Write(tmp[:])
	binary.LittleEndian.PutUint32(tmp[:], crc32.ChecksumIEEE(b.Bytes()))
	b.Write(tmp[:])
	return b.Bytes()
}

func encodeUPS(src, dst []byte) []byte {
	var b bytes.Buffer
	b.WriteString("UPS1")
	writeVLV(&b, uint64(len(src)))
	writeVLV(&b, uint64(len(dst)))
	at := func(s []byte, i int) byte {
		if i < len(s) {
			return s[i]
		}
		return 0
	}
	n := len(src)
	if len(dst) > n {
		n = len(dst)
	}
	last := 0
	for i := 0; i < n; {
		if at(src, i) == at(dst, i) {
			i++
			continue
		}
		writeVLV(&b, uint64(i-last))
		for i < n && at(src, i) != at(dst, i) {
			b.WriteByte(at(src, i) ^ at(dst, i))
			i++
		}
		b.WriteByte(0)
		i++
		last = i
	}
	return appendTrailer(&b, src, dst)
}

func TestApplyUPSRoundTrip(t *testing.T) {
	src := []byte("AAAAAAAAAA")
	dst := []byte("AZAAAAYAAAXY")
	p := writePatch(t, "Translated.ups", encodeUPS(src, dst))
	assert.Equal(t, model.FormatCRC(crc32.ChecksumIEEE(src)), p.CRCBefore)
	assert.Equal(t, model.FormatCRC(crc32.ChecksumIEEE(dst)), p.CRCAfter)
	assert.Equal(t, int64(len(dst)), p.SizeAfter)
	assert.Equal(t, "Translated", p.Name)
	assert.Equal(t, string(dst), applyString(t, p, string(src)))

	shrunk := []byte("AAAB")
	p = writePatch(t, "Shrink.ups", encodeUPS(src, shrunk))
	assert.Equal(t, string(shrunk), applyString(t, p, string(src)))
}

func TestApplyBPS(t *testing.T) {
	src := []byte("ABCDEFGH")
	want := []byte("ABCDXYGHXYGH")
	var b bytes.Buffer
	b.WriteString("BPS1")
	writeVLV(&b, uint64(len(src)))
	writeVLV(&b, uint64(len(want)))
	writeVLV(&b, 0)
	writeVLV(&b, (4-1)<<2|bpsSourceRead)
	writeVLV(&b, (2-1)<<2|bpsTargetRead)
	b.WriteString("XY")
	writeVLV(&b, (2-1)<<2|bpsSourceCopy)
	writeVLV(&b, 6<<1)
	writeVLV(&b, (4-1)<<2|bpsTargetCopy)
	writeVLV(&b, 4<<1)
	data := appendTrailer(&b, src, want)

	p := writePatch(t, "Hack.bps", data)
	assert.Equal(t, model.FormatCRC(crc32.ChecksumIEEE(want)), p.CRCAfter)
	got := applyString(t, p, string(src))
	assert.Equal(t, string(want), got)
	assert.Equal(t, p.CRCAfter, model.FormatCRC(crc32.ChecksumIEEE([]byte(got))))
}

func ppfHeader(version int, extra []byte) []byte {
	var b bytes.Buffer
	b.WriteString("PPF")
	b.WriteString(string(rune('0'+version)) + "0")
	b.WriteByte(byte(version - 1))
	b.Write(make([]byte, 50))
	b.Write(extra)
	return b.Bytes()
}

func TestApplyPPF(t *testing.T) {
	// v3, no block check, undo data present
	var v3 bytes.Buffer
	v3.Write(ppfHeader(3, []byte{0, 0, 1, 0}))
	v3.Write([]byte{2, 0, 0, 0, 0, 0, 0, 0, 3})
	v3.WriteString("XYZ")
	v3.WriteString("AAA")
	v3.WriteString(ppfDizMarker + "garbage")
	p := writePatch(t, "12345678 v3.ppf", v3.Bytes())
	assert.Equal(t, "AAXYZAAAAA", applyString(t, p, "AAAAAAAAAA"))

	// v2 with the 1024 byte block check
	var v2 bytes.Buffer
	v2.Write(ppfHeader(2, append([]byte{10, 0, 0, 0}, make([]byte, 1024)...)))
	v2.Write([]byte{0, 0, 0, 0, 1})
	v2.WriteString("Q")
	p = writePatch(t, "12345678 v2.ppf", v2.Bytes())
	assert.Equal(t, "QAAAAAAAAA", applyString(t, p, "AAAAAAAAAA"))

	// v1 without extras
	var v1 bytes.Buffer
	v1.Write(ppfHeader(1, nil))
	v1.Write([]byte{9, 0, 0, 0, 1})
	v1.WriteString("Z")
	p = writePatch(t, "12345678 v1.ppf", v1.Bytes())
	assert.Equal(t, "AAAAAAAAAZ", applyString(t, p, "AAAAAAAAAA"))
}

func TestApplyAPS(t *testing.T) {
	var n64 bytes.Buffer
	n64.WriteString("APS10")
	n64.WriteByte(0)
	n64.WriteByte(0)
	n64.Write(make([]byte, 50))
	n64.Write([]byte{12, 0, 0, 0})
	n64.Write([]byte{1, 0, 0, 0, 2})
	n64.WriteString("XY")
	n64.Write([]byte{10, 0, 0, 0, 0, 'Z', 2})
	p := writePatch(t, "12345678 n64.aps", n64.Bytes())
	assert.Equal(t, "AXYAAAAAAAZZ", applyString(t, p, "AAAAAAAAAA"))

	var gba bytes.Buffer
	gba.WriteString("APS1")
	gba.Write([]byte{4, 0, 0, 0, 4, 0, 0, 0})
	gba.Write([]byte{0, 0, 0, 0, 0, 0, 0, 0})
	mask := make([]byte, apsGBABlockSize)
	mask[1] = 'A' ^ 'B'
	gba.Write(mask)
	p = writePatch(t, "12345678 gba.aps", gba.Bytes())
	assert.Equal(t, "ABAA", applyString(t, p, "AAAA"))
}

func TestApplyNinja(t *testing.T) {
	header := make([]byte, ninjaHeaderSize)
	copy(header, "NINJA2")
	var b bytes.Buffer
	b.Write(header)
	b.WriteByte(ninjaOpen)
	b.WriteByte(0)            // empty file name
	b.WriteByte(0)            // raw file type
	b.Write([]byte{1, 10})    // source size
	b.Write([]byte{1, 12})    // target size
	b.Write(make([]byte, 32)) // md5s
	b.WriteByte('A')          // append overflow
	b.Write([]byte{1, 2})     // overflow length
	b.Write([]byte{'X' ^ 0xff, 'Y' ^ 0xff})
	b.WriteByte(ninjaXOR)
	b.Write([]byte{1, 0, 1, 1, 'A' ^ 'Z'})
	b.WriteByte(ninjaTerminate)

	p := writePatch(t, "12345678 ninja.rup", b.Bytes())
	assert.Equal(t, "ZAAAAAAAAAXY", applyString(t, p, "AAAAAAAAAA"))
}

func TestApplyDPS(t *testing.T) {
	var b bytes.Buffer
	b.Write(make([]byte, dpsHeaderSize))
	b.Write([]byte{dpsModeData, 0, 0, 0, 0, 2, 0, 0, 0})
	b.WriteString("XY")
	b.Write([]byte{dpsModeCopy, 2, 0, 0, 0, 0, 0, 0, 0, 3, 0, 0, 0})
	p := writePatch(t, "12345678 fix.dps", b.Bytes())
	assert.Equal(t, "XYABC", applyString(t, p, "ABCDEFGH"))
}

func TestApplyVCDiff(t *testing.T) {
	var window bytes.Buffer
	window.WriteByte(6) // target window length
	window.WriteByte(0) // delta indicator
	window.WriteByte(2) // data length
	window.WriteByte(2) // instructions length
	window.WriteByte(1) // addresses length
	window.WriteString("XY")
	window.Write([]byte{20, 3}) // COPY 4 mode 0, ADD 2
	window.WriteByte(0)         // copy address

	var b bytes.Buffer
	b.Write([]byte{0xd6, 0xc3, 0xc4, 0x00})
	b.WriteByte(vcdAppHeader)
	b.WriteByte(2)
	b.WriteString("hi")
	b.WriteByte(vcdSource)
	b.WriteByte(10) // source segment length
	b.WriteByte(0)  // source segment position
	b.WriteByte(byte(window.Len()))
	b.Write(window.Bytes())

	p := writePatch(t, "12345678 delta.xdelta", b.Bytes())
	assert.Equal(t, FormatVCDiff, p.Format)
	assert.Equal(t, "ABCDXY", applyString(t, p, "ABCDEFGHIJ"))
}

func TestVCDiffCodeTable(t *testing.T) {
	tbl := vcdDefaultCodeTable
	assert.Equal(t, byte(vcdRun), tbl[0][0].kind)
	assert.Equal(t, vcdInstruction{kind: vcdAdd, size: 17}, tbl[18][0])
	assert.Equal(t, vcdInstruction{kind: vcdCopy, size: 4}, tbl[20][0])
	assert.Equal(t, vcdInstruction{kind: vcdCopy, size: 4, mode: 8}, tbl[255][0])
	assert.Equal(t, vcdInstruction{kind: vcdAdd, size: 1}, tbl[255][1])
}

func TestComputeTarget(t *testing.T) {
	p := writePatch(t, "00000000 Better.ips", []byte("PATCH\x00\x00\x00\x00\x01BEOF"))
	assert.Empty(t, p.CRCAfter)
	src := filepath.Join(t.TempDir(), "source.rom")
	require.NoError(t, os.WriteFile(src, []byte("AAAA"), 0o644))
	require.NoError(t, p.ComputeTarget(context.Background(), &romfile.File{Path: src}, false))
	assert.Equal(t, model.FormatCRC(crc32.ChecksumIEEE([]byte("BAAA"))), p.CRCAfter)
	assert.Equal(t, int64(4), p.SizeAfter)
}

func TestApplyFileReadsSourceInPlace(t *testing.T) {
	src := []byte("ABCDEFGH")
	dst := []byte("ABCDxyGH")
	var b bytes.Buffer
	b.WriteString("BPS1")
	writeVLV(&b, uint64(len(src)))
	writeVLV(&b, uint64(len(dst)))
	writeVLV(&b, 0)
	writeVLV(&b, 3<<2|bpsSourceRead)
	writeVLV(&b, 1<<2|bpsTargetRead)
	b.WriteString("xy")
	writeVLV(&b, 1<<2|bpsSourceRead)
	data := appendTrailer(&b, src, dst)
	p := writePatch(t, "Fix.bps", data)

	dir := t.TempDir()
	plainPath := filepath.Join(dir, "game.rom")
	require.NoError(t, os.WriteFile(plainPath, src, 0o644))
	plain := &romfile.File{Path: plainPath}

	zipPath := filepath.Join(dir, "game.zip")
	var zb bytes.Buffer
	zw := zip.NewWriter(&zb)
	fw, err := zw.Create("game.rom")
	require.NoError(t, err)
	_, err = fw.Write(src)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(zipPath, zb.Bytes(), 0o644))
	a, ok := archive.New(zipPath)
	require.True(t, ok)
	entry := &romfile.File{Path: zipPath, Archive: a, EntryPath: "game.rom"}

	for _, f := range []*romfile.File{plain, entry} {
		var got []byte
		require.NoError(t, p.ApplyFile(context.Background(), f, false, func(path string) error {
			var err error
			got, err = os.ReadFile(path)
			return err
		}), f.String())
		assert.Equal(t, dst, got, f.String())
	}
	raw, err := os.ReadFile(plainPath)
	require.NoError(t, err)
	assert.Equal(t, src, raw)
}

func writeVCDInt(b *bytes.Buffer, v uint64) {
	var tmp [10]byte
	i := len(tmp) - 1
	tmp[i] = byte(v & 0x7f)
	for v >>= 7; v > 0; v >>= 7 {
		i--
		tmp[i] = 0x80 | byte(v&0x7f)
	}
	b.Write(tmp[i:])
}

func vcdiffWith(window func(w *bytes.Buffer)) []byte {
	var w bytes.Buffer
	window(&w)
	var b bytes.Buffer
	b.Write([]byte{0xd6, 0xc3, 0xc4, 0x00, 0x00})
	b.WriteByte(0) // no source segment
	writeVCDInt(&b, uint64(w.Len()))
	b.Write(w.Bytes())
	return b.Bytes()
}

func TestApplyRejectsOversizedLengths(t *testing.T) {
	hugeBPS := func() []byte {
		var b bytes.Buffer
		b.WriteString("BPS1")
		writeVLV(&b, 4)
		writeVLV(&b, 4)
		writeVLV(&b, 0)
		writeVLV(&b, (1<<40)<<2|bpsSourceRead)
		b.Write(make([]byte, 12))
		return b.Bytes()
	}
	bigBPSTarget := func() []byte {
		var b bytes.Buffer
		b.WriteString("BPS1")
		writeVLV(&b, 4)
		writeVLV(&b, 1<<50)
		writeVLV(&b, 0)
		writeVLV(&b, 0<<2|bpsSourceRead)
		b.Write(make([]byte, 12))
		return b.Bytes()
	}
	dps := func(record []byte) []byte {
		return append(make([]byte, dpsHeaderSize), record...)
	}
	cases := []struct {
		name string
		data []byte
	}{
		{"Foo 12345678.bps", hugeBPS()},
		{"Big 12345678.bps", bigBPSTarget()},
		{"12345678 far.dps", dps([]byte{dpsModeData, 0xff, 0xff, 0xff, 0xff, 1, 0, 0, 0, 'X'})},
		{"12345678 copy.dps", dps([]byte{dpsModeCopy, 0, 0, 0, 0, 0, 0, 0, 0, 0xff, 0xff, 0xff, 0x7f})},
		{"12345678 len.dps", dps([]byte{dpsModeData, 0, 0, 0, 0, 0xff, 0xff, 0xff, 0xff})},
		{"12345678 window.xdelta", vcdiffWith(func(w *bytes.Buffer) {
			writeVCDInt(w, 1<<40)
		})},
		{"12345678 run.xdelta", vcdiffWith(func(w *bytes.Buffer) {
			writeVCDInt(w, 4) // target window length
			w.WriteByte(0)    // delta indicator
			writeVCDInt(w, 1) // data length
			var inst bytes.Buffer
			inst.WriteByte(0) // RUN with explicit size
			writeVCDInt(&inst, 1<<40)
			writeVCDInt(w, uint64(inst.Len()))
			writeVCDInt(w, 0) // addresses length
			w.WriteByte('Z')
			w.Write(inst.Bytes())
		})},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := writePatch(t, tc.name, tc.data)
			err := p.Apply(context.Background(), strings.NewReader("AAAA"), func(string) error {
				t.Fatalf("callback must not run for a broken patch")
				return nil
			})
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestReadFullChecksRangeFirst(t *testing.T) {
	src := strings.NewReader("ABCD")
	buf, err := readFull(src, 1, 2, 4)
	require.NoError(t, err)
	assert.Equal(t, "BC", string(buf))

	_, err = readFull(src, 0, 1<<40, 4)
	assert.ErrorIs(t, err, ErrMalformed)
	_, err = readFull(src, 5, 0, 4)
	assert.ErrorIs(t, err, ErrMalformed)
	_, err = readFull(src, 2, 1<<62, 4)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestInPlaceSizeLimit(t *testing.T) {
	var b bytes.Buffer
	b.WriteString("UPS1")
	writeVLV(&b, 4)
	writeVLV(&b, 1<<33)
	writeVLV(&b, 0)
	b.WriteString("X\x00")
	p := writePatch(t, "12345678 grow.ups", append(b.Bytes(), make([]byte, 12)...))
	err := p.Apply(context.Background(), strings.NewReader("AAAA"), func(string) error {
		t.Fatalf("callback must not run for an oversized result")
		return nil
	})
	assert.ErrorIs(t, err, ErrMalformed)
}
