package dat

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/xxxsen/romsort/internal/model"
)

// cmproEntry is either a key/value pair or a key with a nested block.
type cmproEntry struct {
	key   string
	value string
	block []cmproEntry
}

type cmproLexer struct {
	r *bufio.Reader
}

func (l *cmproLexer) next() (string, bool, error) {
	for {
		c, _, err := l.r.ReadRune()
		if err != nil {
			return "", false, err
		}
		if unicode.IsSpace(c) {
			continue
		}
		switch c {
		case '(', ')':
			return string(c), false, nil
		case '"':
			s, err := l.r.ReadString('"')
			if err != nil {
				return "", false, fmt.Errorf("unterminated string: %w", err)
			}
			return strings.TrimSuffix(s, `"`), true, nil
		}
		var sb strings.Builder
		sb.WriteRune(c)
		for {
			c, _, err := l.r.ReadRune()
			if err == io.EOF {
				return sb.String(), false, nil
			}
			if err != nil {
				return "", false, err
			}
			if unicode.IsSpace(c) || c == '(' || c == ')' {
				_ = l.r.UnreadRune()
				return sb.String(), false, nil
			}
			sb.WriteRune(c)
		}
	}
}

// parseBlock reads entries until the closing paren (or EOF at top level).
func (l *cmproLexer) parseBlock(top bool) ([]cmproEntry, error) {
	var entries []cmproEntry
	for {
		key, quoted, err := l.next()
		if err == io.EOF {
			if top {
				return entries, nil
			}
			return nil, fmt.Errorf("unexpected end of cmpro dat")
		}
		if err != nil {
			return nil, err
		}
		if key == ")" && !quoted {
			if top {
				return nil, fmt.Errorf("unbalanced ')' in cmpro dat")
			}
			return entries, nil
		}
		val, vquoted, err := l.next()
		if err != nil {
			return nil, fmt.Errorf("cmpro key %q has no value: %w", key, err)
		}
		if val == "(" && !vquoted {
			block, err := l.parseBlock(false)
			if err != nil {
				return nil, err
			}
			entries = append(entries, cmproEntry{key: key, block: block})
			continue
		}
		entries = append(entries, cmproEntry{key: key, value: val})
	}
}

// CMProParser reads ClrMamePro text catalogs.
type CMProParser struct{}

func NewCMProParser() CMProParser {
	return CMProParser{}
}

func (p CMProParser) Parse(r io.Reader) (*model.Catalog, error) {
	lex := &cmproLexer{r: bufio.NewReader(r)}
	entries, err := lex.parseBlock(true)
	if err != nil {
		return nil, fmt.Errorf("decode cmpro dat: %w", err)
	}
	var (
		hdr   model.Header
		games []*model.Game
	)
	for _, e := range entries {
		switch e.key {
		case "clrmamepro":
			for _, f := range e.block {
				if set, ok := headerFields[f.key]; ok && f.block == nil {
					set(&hdr, f.value)
				}
			}
		case "game", "machine", "resource":
			g, err := cmproGame(e)
			if err != nil {
				return nil, err
			}
			games = append(games, g)
		}
	}
	if len(games) == 0 && hdr.Name == "" {
		return nil, fmt.Errorf("decode cmpro dat: no header and no games")
	}
	return model.NewCatalog(hdr, games), nil
}

func cmproGame(e cmproEntry) (*model.Game, error) {
	g := &model.Game{}
	if e.key == "resource" {
		g.Bios = "yes"
	}
	for _, f := range e.block {
		switch {
		case f.key == "rom" && f.block != nil:
			rom := model.ROM{}
			for _, rf := range f.block {
				key := rf.key
				if key == "flags" {
					key = "status"
				}
				if set, ok := romAttrs[key]; ok {
					if err := set(&rom, rf.value); err != nil {
						return nil, fmt.Errorf("game %q: %w", g.Name, err)
					}
				}
			}
			g.ROMs = append(g.ROMs, rom)
		case f.key == "release" && f.block != nil:
			rel := model.Release{}
			for _, rf := range f.block {
				if set, ok := releaseAttrs[rf.key]; ok {
					set(&rel, rf.value)
				}
			}
			g.Releases = append(g.Releases, rel)
		case f.block == nil:
			if set, ok := gameAttrs[f.key]; ok {
				set(g, f.value)
			} else if set, ok := gameFields[f.key]; ok {
				set(g, f.value)
			}
		}
	}
	if g.Name == "" {
		return nil, fmt.Errorf("decode cmpro dat: game without a name")
	}
	return g, nil
}
