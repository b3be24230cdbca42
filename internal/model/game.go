package model

import (
	"regexp"
	"strings"
)

// Game is a catalog entry made of one or more ROMs.
type Game struct {
	Name        string
	Description string
	Bios        string
	CloneOf     string
	RomOf       string
	SampleOf    string
	ROMs        []ROM
	Releases    []Release
}

var (
	biosRegex        = regexp.MustCompile(`(?i)\[BIOS\]`)
	aftermarketRegex = regexp.MustCompile(`(?i)\(Aftermarket[a-z0-9. ]*\)`)
	alphaRegex       = regexp.MustCompile(`(?i)\(Alpha[a-z0-9. ]*\)`)
	betaRegex        = regexp.MustCompile(`(?i)\(Beta[a-z0-9. ]*\)`)
	demoRegex        = regexp.MustCompile(`(?i)\(Demo[a-z0-9. -]*\)`)
	homebrewRegex    = regexp.MustCompile(`(?i)\(Homebrew[a-z0-9. ]*\)`)
	protoRegex       = regexp.MustCompile(`(?i)\(Proto[a-z0-9. ]*\)`)
	sampleRegex      = regexp.MustCompile(`(?i)\(Sample[a-z0-9. ]*\)`)
	testRegex        = regexp.MustCompile(`(?i)\(Test[a-z0-9. ]*\)`)
	unlicensedRegex  = regexp.MustCompile(`(?i)\(Unl[a-z0-9. ]*\)`)
	badRegex         = regexp.MustCompile(`(?i)\[b[0-9]*\]`)
	crackedRegex     = regexp.MustCompile(`(?i)\[c\]`)
	otherBadRegex    = regexp.MustCompile(`(?i)\[x\]`)
	verifiedRegex    = regexp.MustCompile(`\[!\]`)
	fixedRegex       = regexp.MustCompile(`(?i)\[f[0-9]*\]`)
	miaRegex         = regexp.MustCompile(`(?i)\[MIA\]`)
	overdumpRegex    = regexp.MustCompile(`(?i)\[o[0-9]*\]`)
	pendingRegex     = regexp.MustCompile(`(?i)\[!p\]`)
	piratedRegex     = regexp.MustCompile(`(?i)\(Pirate[a-z0-9. ]*\)|\[p[0-9]*\]`)
	translatedRegex  = regexp.MustCompile(`(?i)\[T[+-][^\]]+\]`)
	hackRegex        = regexp.MustCompile(`(?i)\(Hack\)|\[h[a-z0-9+]*\]`)
	trainerRegex     = regexp.MustCompile(`(?i)\[t[0-9]*\]`)
	bungRegex        = regexp.MustCompile(`(?i)\(Bung\)|\[bf\]`)
)

// Parent is the name of the game this one derives from.
func (g *Game) Parent() string {
	if g.CloneOf != "" {
		return g.CloneOf
	}
	if g.RomOf != "" {
		return g.RomOf
	}
	return g.SampleOf
}

func (g *Game) IsClone() bool  { return g.Parent() != "" }
func (g *Game) IsParent() bool { return !g.IsClone() }

func (g *Game) IsBios() bool {
	return strings.EqualFold(g.Bios, "yes") || biosRegex.MatchString(g.Name)
}

func (g *Game) IsAftermarket() bool { return aftermarketRegex.MatchString(g.Name) }
func (g *Game) IsAlpha() bool       { return alphaRegex.MatchString(g.Name) }
func (g *Game) IsBeta() bool        { return betaRegex.MatchString(g.Name) }
func (g *Game) IsDemo() bool        { return demoRegex.MatchString(g.Name) }
func (g *Game) IsHomebrew() bool    { return homebrewRegex.MatchString(g.Name) }
func (g *Game) IsPrototype() bool   { return protoRegex.MatchString(g.Name) }
func (g *Game) IsSample() bool      { return sampleRegex.MatchString(g.Name) }
func (g *Game) IsTest() bool        { return testRegex.MatchString(g.Name) }
func (g *Game) IsUnlicensed() bool  { return unlicensedRegex.MatchString(g.Name) }
func (g *Game) IsFixed() bool       { return fixedRegex.MatchString(g.Name) }
func (g *Game) IsMIA() bool         { return miaRegex.MatchString(g.Name) }
func (g *Game) IsOverdump() bool    { return overdumpRegex.MatchString(g.Name) }
func (g *Game) IsPendingDump() bool { return pendingRegex.MatchString(g.Name) }
func (g *Game) IsPirated() bool     { return piratedRegex.MatchString(g.Name) }
func (g *Game) IsTranslated() bool  { return translatedRegex.MatchString(g.Name) }
func (g *Game) IsHack() bool        { return hackRegex.MatchString(g.Name) }
func (g *Game) IsTrainer() bool     { return trainerRegex.MatchString(g.Name) }
func (g *Game) IsBung() bool        { return bungRegex.MatchString(g.Name) }

// IsVerified reports a "[!]" good dump or a game with known releases.
func (g *Game) IsVerified() bool {
	return verifiedRegex.MatchString(g.Name) || len(g.Releases) > 0
}

// IsBad reports a "[b]" dump. Cracked and "[x]" dumps count as bad unless verified.
func (g *Game) IsBad() bool {
	if badRegex.MatchString(g.Name) {
		return true
	}
	if g.IsVerified() {
		return false
	}
	return crackedRegex.MatchString(g.Name) || otherBadRegex.MatchString(g.Name)
}

// IsRetail is true when no non-retail token is present in the name.
func (g *Game) IsRetail() bool {
	return !g.IsAftermarket() &&
		!g.IsAlpha() &&
		!g.IsBad() &&
		!g.IsBeta() &&
		!g.IsDemo() &&
		!g.IsFixed() &&
		!g.IsHomebrew() &&
		!g.IsMIA() &&
		!g.IsOverdump() &&
		!g.IsPendingDump() &&
		!g.IsPirated() &&
		!g.IsPrototype() &&
		!g.IsSample() &&
		!g.IsTest() &&
		!g.IsTranslated() &&
		!g.IsUnlicensed() &&
		!g.IsHack() &&
		!g.IsTrainer() &&
		!g.IsBung()
}
