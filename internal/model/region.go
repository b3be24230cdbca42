package model

import (
	"regexp"
	"strconv"
	"strings"
)

// Region maps a catalog region code to its long name and default language.
type Region struct {
	Code     string
	Name     string
	Language string
}

var regionTable = []Region{
	{"ARG", "Argentina", "ES"},
	{"ASI", "Asia", "ZH"},
	{"AUS", "Australia", "EN"},
	{"BRA", "Brazil", "PT"},
	{"CAN", "Canada", "EN"},
	{"CHN", "China", "ZH"},
	{"DAN", "Denmark", "DA"},
	{"EUR", "Europe", "EN"},
	{"FRA", "France", "FR"},
	{"FYN", "Finland", "FI"},
	{"GER", "Germany", "DE"},
	{"GRE", "Greece", "EL"},
	{"HK", "Hong Kong", "ZH"},
	{"HOL", "Netherlands", "NL"},
	{"ITA", "Italy", "IT"},
	{"JPN", "Japan", "JA"},
	{"KOR", "Korea", "KO"},
	{"MEX", "Mexico", "ES"},
	{"NOR", "Norway", "NO"},
	{"NZ", "New Zealand", "EN"},
	{"POR", "Portugal", "PT"},
	{"RUS", "Russia", "RU"},
	{"SPA", "Spain", "ES"},
	{"SWE", "Sweden", "SV"},
	{"TAI", "Taiwan", "ZH"},
	{"UK", "United Kingdom", "EN"},
	{"UNK", "Unknown", "EN"},
	{"USA", "USA", "EN"},
	{"WORLD", "World", "EN"},
}

var (
	regionByKey     = buildRegionIndex()
	parenGroupRegex = regexp.MustCompile(`\(([^()]+)\)`)
	languageRegex   = regexp.MustCompile(`^[A-Za-z]{2}(-[A-Za-z]+)?$`)
	revNumberRegex  = regexp.MustCompile(`(?i)\(Rev\s*([0-9]+(?:\.[0-9]+)?)\)`)
	revLetterRegex  = regexp.MustCompile(`(?i)\(Rev\s*([A-Z])\)`)
	versionRegex    = regexp.MustCompile(`(?i)\(v\s*([0-9]+(?:\.[0-9]+)?)[^)]*\)`)
)

func buildRegionIndex() map[string]Region {
	m := make(map[string]Region, len(regionTable)*2)
	for _, r := range regionTable {
		m[strings.ToUpper(r.Code)] = r
		m[strings.ToUpper(r.Name)] = r
	}
	return m
}

// LookupRegion finds a region by code or long name.
func LookupRegion(key string) (Region, bool) {
	r, ok := regionByKey[strings.ToUpper(strings.TrimSpace(key))]
	return r, ok
}

func splitGroup(group string) []string {
	parts := strings.Split(group, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// Regions returns the region codes found in the first region group of the name, e.g. "(USA, Europe)".
func (g *Game) Regions() []string {
	for _, m := range parenGroupRegex.FindAllStringSubmatch(g.Name, -1) {
		parts := splitGroup(m[1])
		codes := make([]string, 0, len(parts))
		for _, p := range parts {
			r, ok := LookupRegion(p)
			if !ok {
				codes = nil
				break
			}
			codes = append(codes, r.Code)
		}
		if len(codes) > 0 {
			return codes
		}
	}
	return nil
}

// Languages returns uppercased language codes from a group like "(En,Fr,De)".
func (g *Game) Languages() []string {
	for _, m := range parenGroupRegex.FindAllStringSubmatch(g.Name, -1) {
		parts := splitGroup(m[1])
		langs := make([]string, 0, len(parts))
		for _, p := range parts {
			if !languageRegex.MatchString(p) {
				langs = nil
				break
			}
			if _, isRegion := LookupRegion(p); isRegion {
				langs = nil
				break
			}
			langs = append(langs, strings.ToUpper(p))
		}
		if len(langs) > 0 {
			return langs
		}
	}
	return nil
}

// Revision parses "(Rev 1)", "(Rev A)" or "(v1.1)". Unrevised games are 0.
func (g *Game) Revision() float64 {
	if m := revNumberRegex.FindStringSubmatch(g.Name); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			return v
		}
	}
	if m := revLetterRegex.FindStringSubmatch(g.Name); m != nil {
		return float64(strings.ToUpper(m[1])[0]-'A') + 1
	}
	if m := versionRegex.FindStringSubmatch(g.Name); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			return v
		}
	}
	return 0
}
