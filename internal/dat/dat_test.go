package dat

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xxxsen/romsort/internal/archive"
	"github.com/xxxsen/romsort/internal/header"
	"github.com/xxxsen/romsort/internal/romfile"
)

const sampleLogiqx = `<?xml version="1.0"?>
<!DOCTYPE datafile PUBLIC "-//Logiqx//DTD ROM Management Datafile//EN" "http://www.logiqx.com/Dats/datafile.dtd">
<datafile>
	<header>
		<name>Nintendo - Game Boy</name>
		<description>Nintendo - Game Boy (20240101)</description>
		<version>20240101</version>
		<author>tester</author>
		<homepage>https://example.invalid/</homepage>
		<clrmamepro forcenodump="ignore"/>
	</header>
	<game name="Tetris (World) (Rev 1)">
		<description>Tetris (World) (Rev 1)</description>
		<release name="Tetris" region="USA" language="en"/>
		<rom name="Tetris (World) (Rev 1).gb" size="32768" crc="46DF91AD" md5="982ed5d2b12a0377eb14bcdc4123744e" status="verified"/>
	</game>
	<game name="Tetris (Japan)" cloneof="Tetris (World) (Rev 1)">
		<description>Tetris (Japan)</description>
		<rom name="Tetris (Japan).gb" size="32768" crc="63F9407D"/>
	</game>
</datafile>`

func TestXMLParser(t *testing.T) {
	cat, err := NewXMLParser().Parse(strings.NewReader(sampleLogiqx))
	if err != nil {
		t.Fatalf("expected parser to succeed, got error: %v", err)
	}
	if cat.Name != "Nintendo - Game Boy" || cat.Version != "20240101" {
		t.Fatalf("unexpected header: %+v", cat.Header)
	}
	if cat.URL != "https://example.invalid/" {
		t.Fatalf("homepage should fill url, got %q", cat.URL)
	}
	if len(cat.Games) != 2 {
		t.Fatalf("expected 2 games, got %d", len(cat.Games))
	}
	g := cat.Games[0]
	if len(g.Releases) != 1 || g.Releases[0].Region != "USA" || g.Releases[0].Language != "EN" {
		t.Fatalf("unexpected releases: %+v", g.Releases)
	}
	if len(g.ROMs) != 1 || g.ROMs[0].CRC32 != "46df91ad" || g.ROMs[0].Size != 32768 || g.ROMs[0].Status != "verified" {
		t.Fatalf("unexpected rom: %+v", g.ROMs)
	}
	if !cat.HasParentCloneInfo() || len(cat.Parents()) != 1 {
		t.Fatalf("expected one parent family, got %d", len(cat.Parents()))
	}
}

const sampleMame = `<?xml version="1.0"?>
<mame build="0.262">
	<machine name="pacman" sourcefile="pacman.cpp">
		<description>Pac-Man</description>
		<biosset name="bios1" description="BIOS 1"/>
		<rom name="pacman.6e" size="4096" crc="c1e6ab10"/>
		<driver status="good"/>
	</machine>
	<machine name="neogeo" isbios="yes">
		<description>Neo-Geo</description>
		<rom name="sp-s2.sp1" size="131072" crc="9036d879"/>
	</machine>
</mame>`

func TestXMLParserMameMachines(t *testing.T) {
	cat, err := NewXMLParser().Parse(strings.NewReader(sampleMame))
	require.NoError(t, err)
	require.Len(t, cat.Games, 2)
	assert.Equal(t, "Pac-Man", cat.Games[0].Description)
	assert.True(t, cat.Games[1].IsBios())
	assert.False(t, cat.HasParentCloneInfo())
}

const sampleCMPro = `clrmamepro (
	name "Sega - Game Gear"
	description "Sega - Game Gear"
	version 20240101
)

game (
	name "Sonic (USA)"
	description "Sonic (USA)"
	rom ( name "Sonic (USA).gg" size 262144 crc 3e31cb8c md5 00000000000000000000000000000000 )
)

game (
	name "Sonic (Japan)"
	cloneof "Sonic (USA)"
	rom ( name "Sonic (Japan).gg" size 262144 crc 1234abcd flags baddump )
)
`

func TestCMProParser(t *testing.T) {
	cat, err := NewCMProParser().Parse(strings.NewReader(sampleCMPro))
	if err != nil {
		t.Fatalf("expected parser to succeed, got error: %v", err)
	}
	if cat.Name != "Sega - Game Gear" || cat.Version != "20240101" {
		t.Fatalf("unexpected header: %+v", cat.Header)
	}
	if len(cat.Games) != 2 || cat.Games[1].CloneOf != "Sonic (USA)" {
		t.Fatalf("unexpected games: %+v", cat.Games)
	}
	if cat.Games[1].ROMs[0].Status != "baddump" || cat.Games[0].ROMs[0].Size != 262144 {
		t.Fatalf("unexpected roms: %+v %+v", cat.Games[0].ROMs, cat.Games[1].ROMs)
	}
}

func smdbLine(sha256, p, sha1, md5, crc string) string {
	return strings.Join([]string{sha256, p, sha1, md5, crc}, "\t")
}

func TestSMDBParser(t *testing.T) {
	content := smdbLine(strings.Repeat("a", 64), "Sega/Game (USA).md", strings.Repeat("b", 40), strings.Repeat("c", 32), "DEADBEEF") + "\n" +
		smdbLine(strings.Repeat("1", 64), "Sega/Other.md", strings.Repeat("2", 40), strings.Repeat("3", 32), "0badf00d") + "\t4096\n"
	cat, err := Parse(strings.NewReader(content), "Everdrive")
	require.NoError(t, err)
	assert.Equal(t, "Everdrive", cat.Name)
	require.Len(t, cat.Games, 2)
	assert.Equal(t, "Sega/Game (USA)", cat.Games[0].Name)
	assert.Equal(t, "Game (USA).md", cat.Games[0].ROMs[0].Name)
	assert.Equal(t, "deadbeef", cat.Games[0].ROMs[0].CRC32)
	assert.Equal(t, int64(4096), cat.Games[1].ROMs[0].Size)
}

func TestSniff(t *testing.T) {
	assert.Equal(t, FormatXML, Sniff([]byte("\xef\xbb\xbf<?xml version=\"1.0\"?>")))
	assert.Equal(t, FormatCMPro, Sniff([]byte("\n\nclrmamepro (\n")))
	assert.Equal(t, FormatCMPro, Sniff([]byte("game (\n name x\n)")))
	assert.Equal(t, FormatUnknown, Sniff([]byte("hello world")))
}

func TestLoaderSkipsBrokenAndReadsArchives(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "gb.dat")
	require.NoError(t, os.WriteFile(good, []byte(sampleLogiqx), 0o644))
	broken := filepath.Join(dir, "broken.dat")
	require.NoError(t, os.WriteFile(broken, []byte("not a dat"), 0o644))

	zipped := filepath.Join(dir, "dats.zip")
	out, err := os.Create(zipped)
	require.NoError(t, err)
	zw := zip.NewWriter(out)
	w, err := zw.Create("gg.dat")
	require.NoError(t, err)
	_, err = w.Write([]byte(sampleCMPro))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, out.Close())

	cats, err := NewLoader(2).Load(context.Background(), []string{good, broken, zipped})
	require.NoError(t, err)
	require.Len(t, cats, 2)
	assert.Equal(t, "Nintendo - Game Boy", cats[0].Name)
	assert.Equal(t, "Sega - Game Gear", cats[1].Name)

	_, err = NewLoader(1).Load(context.Background(), []string{broken})
	assert.ErrorIs(t, err, ErrNoValidDats)
}

func TestInfer(t *testing.T) {
	root := filepath.Join("/roms", "nes")
	ines, _ := header.Lookup("iNES")
	zipArchive := &archive.Archive{Path: filepath.Join(root, "pack.zip"), Format: archive.FormatZip}
	files := []*romfile.File{
		{Path: filepath.Join(root, "allpads.nes"), Size: 40976, CRC32: "9180a163", Header: ines,
			HeaderlessSize: 40960, HeaderlessCRC32: "6339abe6", InputRoot: root},
		{Path: zipArchive.Path, Archive: zipArchive, EntryPath: "a.rom", Size: 1, CRC32: "00000001", InputRoot: root},
		{Path: zipArchive.Path, Archive: zipArchive, EntryPath: "b.rom", Size: 2, CRC32: "00000002", InputRoot: root},
	}

	cats := Infer(files, func(ext string) bool { return ext == ".nes" })
	require.Len(t, cats, 1)
	cat := cats[0]
	assert.Equal(t, "nes", cat.Name)
	require.Len(t, cat.Games, 2)
	assert.Equal(t, "allpads", cat.Games[0].Name)
	assert.Equal(t, "6339abe6", cat.Games[0].ROMs[0].CRC32)
	assert.Equal(t, int64(40960), cat.Games[0].ROMs[0].Size)
	assert.Equal(t, "pack", cat.Games[1].Name)
	assert.Len(t, cat.Games[1].ROMs, 2)

	kept := Infer(files[:1], func(string) bool { return false })
	assert.Equal(t, "9180a163", kept[0].Games[0].ROMs[0].CRC32)
}
