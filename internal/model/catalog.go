package model

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ROM describes a single file a game is made of.
type ROM struct {
	Name   string
	Size   int64
	CRC32  string
	MD5    string
	SHA1   string
	Status string
}

// Release is a regional release of a game.
type Release struct {
	Name     string
	Region   string
	Language string
}

// Header carries catalog level metadata.
type Header struct {
	Name        string
	Description string
	Version     string
	Date        string
	Author      string
	URL         string
}

// Parent is a parent/clone family. Games[0] is the representative game.
type Parent struct {
	Name  string
	Games []*Game
}

// Catalog is a parsed DAT file.
type Catalog struct {
	Header
	Games []*Game

	parents    []*Parent
	unresolved []string
}

// NewCatalog builds a catalog and groups its games into parent/clone families.
func NewCatalog(h Header, games []*Game) *Catalog {
	c := &Catalog{Header: h, Games: games}
	c.groupParents()
	return c
}

// Parents returns the parent/clone families in catalog order.
func (c *Catalog) Parents() []*Parent {
	return c.parents
}

// UnresolvedParents lists games whose parent link points to a game that is not in the catalog.
func (c *Catalog) UnresolvedParents() []string {
	return c.unresolved
}

// HasParentCloneInfo reports whether any game links to a parent.
func (c *Catalog) HasParentCloneInfo() bool {
	for _, g := range c.Games {
		if g.IsClone() {
			return true
		}
	}
	return false
}

// ShortName is the catalog name made safe for use as a path segment.
func (c *Catalog) ShortName() string {
	return SanitizeFilename(c.Name)
}

// DisplayName is used in logs and reports.
func (c *Catalog) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Description
}

func (c *Catalog) groupParents() {
	byName := make(map[string]*Game, len(c.Games))
	for _, g := range c.Games {
		if _, ok := byName[g.Name]; !ok {
			byName[g.Name] = g
		}
	}

	roots := make(map[*Game]*Game, len(c.Games))
	var resolve func(g *Game, seen map[*Game]bool) *Game
	resolve = func(g *Game, seen map[*Game]bool) *Game {
		if r, ok := roots[g]; ok {
			return r
		}
		link := g.Parent()
		parent, ok := byName[link]
		if link == "" || !ok || parent == g || seen[parent] {
			return g
		}
		seen[g] = true
		return resolve(parent, seen)
	}

	groups := make(map[*Game]*Parent)
	var order []*Game
	for _, g := range c.Games {
		if link := g.Parent(); link != "" {
			if _, ok := byName[link]; !ok {
				c.unresolved = append(c.unresolved, g.Name)
			}
		}
		root := resolve(g, map[*Game]bool{})
		roots[g] = root
		if _, ok := groups[root]; !ok {
			groups[root] = &Parent{Name: root.Name}
			order = append(order, root)
		}
	}

	// Order families by the position of their representative game.
	position := make(map[*Game]int, len(c.Games))
	for i, g := range c.Games {
		position[g] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return position[order[i]] < position[order[j]]
	})
	for _, root := range order {
		p := groups[root]
		p.Games = append(p.Games, root)
	}
	for _, g := range c.Games {
		root := roots[g]
		if root == g {
			continue
		}
		groups[root].Games = append(groups[root].Games, g)
	}
	c.parents = make([]*Parent, 0, len(order))
	for _, root := range order {
		c.parents = append(c.parents, groups[root])
	}
}

var filenameReplacer = strings.NewReplacer(
	"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
	"\"", "_", "<", "_", ">", "_", "|", "_",
)

// SanitizeFilename replaces characters that cannot appear in a path segment.
func SanitizeFilename(name string) string {
	name = norm.NFC.String(name)
	name = filenameReplacer.Replace(name)
	return strings.TrimSpace(name)
}

// NormalizeCRC lowercases and left pads a CRC32 hex string.
func NormalizeCRC(crc string) string {
	crc = strings.ToLower(strings.TrimSpace(crc))
	crc = strings.TrimPrefix(crc, "0x")
	if crc == "" {
		return ""
	}
	if len(crc) < 8 {
		crc = strings.Repeat("0", 8-len(crc)) + crc
	}
	return crc
}

// FormatCRC renders a CRC32 value the way catalogs store it.
func FormatCRC(v uint32) string {
	return fmt.Sprintf("%08x", v)
}
