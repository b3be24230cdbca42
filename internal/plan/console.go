package plan

import (
	"regexp"
	"strings"
)

// console maps a platform to its folder name on Analogue Pocket and MiSTer
// cards. An empty folder means the device has no core for it.
type console struct {
	datName    *regexp.Regexp
	extensions []string
	pocket     string
	mister     string
}

// More specific names come first: "Game Boy Advance" must win over "Game Boy".
var consoles = []console{
	{regexp.MustCompile(`(?i)Game Boy Advance`), []string{".gba", ".srl"}, "gba", "GBA"},
	{regexp.MustCompile(`(?i)Game Boy Color`), []string{".gbc"}, "gbc", "GAMEBOY"},
	{regexp.MustCompile(`(?i)Game Boy`), []string{".gb", ".sgb"}, "gb", "GAMEBOY"},
	{regexp.MustCompile(`(?i)Super Nintendo|Super Famicom|\bSNES\b`), []string{".sfc", ".smc"}, "snes", "SNES"},
	{regexp.MustCompile(`(?i)Famicom Disk System`), []string{".fds"}, "nes", "NES"},
	{regexp.MustCompile(`(?i)Nintendo Entertainment System|Famicom|\bNES\b`), []string{".nes"}, "nes", "NES"},
	{regexp.MustCompile(`(?i)Nintendo 64|\bN64\b`), []string{".n64", ".v64", ".z64"}, "", "N64"},
	{regexp.MustCompile(`(?i)Game Gear`), []string{".gg"}, "gg", "SMS"},
	{regexp.MustCompile(`(?i)Master System|Mark III`), []string{".sms"}, "sms", "SMS"},
	{regexp.MustCompile(`(?i)Mega Drive|Genesis`), []string{".md", ".gen", ".smd"}, "genesis", "Genesis"},
	{regexp.MustCompile(`(?i)SG-1000`), []string{".sg"}, "sg1000", "SG1000"},
	{regexp.MustCompile(`(?i)Atari.*2600`), []string{".a26"}, "2600", "ATARI2600"},
	{regexp.MustCompile(`(?i)Atari.*7800`), []string{".a78"}, "7800", "ATARI7800"},
	{regexp.MustCompile(`(?i)Lynx`), []string{".lnx", ".lyx"}, "lynx", "AtariLynx"},
	{regexp.MustCompile(`(?i)PC Engine|TurboGrafx`), []string{".pce"}, "pce", "TGFX16"},
	{regexp.MustCompile(`(?i)ColecoVision`), []string{".col"}, "coleco", "Coleco"},
	{regexp.MustCompile(`(?i)WonderSwan Color`), []string{".wsc"}, "wsc", "WonderSwan"},
	{regexp.MustCompile(`(?i)WonderSwan`), []string{".ws"}, "ws", "WonderSwan"},
	{regexp.MustCompile(`(?i)Neo Geo Pocket`), []string{".ngp", ".ngc"}, "ngp", "NeoGeo"},
	{regexp.MustCompile(`(?i)Intellivision`), []string{".int"}, "intv", "Intellivision"},
	{regexp.MustCompile(`(?i)Odyssey`), []string{".o2"}, "odyssey2", "Odyssey2"},
	{regexp.MustCompile(`(?i)Channel F`), []string{".chf"}, "channel_f", "ChannelF"},
	{regexp.MustCompile(`(?i)Arcadia 2001`), []string{".arc"}, "arcadia", "Arcadia"},
	{regexp.MustCompile(`(?i)Vectrex`), []string{".vec"}, "", "Vectrex"},
}

func consoleByDat(datName string) (console, bool) {
	for _, c := range consoles {
		if c.datName.MatchString(datName) {
			return c, true
		}
	}
	return console{}, false
}

func consoleByExt(ext string) (console, bool) {
	ext = strings.ToLower(ext)
	for _, c := range consoles {
		for _, e := range c.extensions {
			if e == ext {
				return c, true
			}
		}
	}
	return console{}, false
}

// pocketFolder resolves the catalog name first, then the ROM extension.
func pocketFolder(datName, ext string) string {
	if c, ok := consoleByDat(datName); ok && c.pocket != "" {
		return c.pocket
	}
	if c, ok := consoleByExt(ext); ok {
		return c.pocket
	}
	return ""
}

func misterFolder(ext string) string {
	c, _ := consoleByExt(ext)
	return c.mister
}
