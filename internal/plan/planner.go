package plan

import (
	"context"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"github.com/mozillazg/go-pinyin"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/romsort/internal/candidate"
	"github.com/xxxsen/romsort/internal/config"
	"github.com/xxxsen/romsort/internal/model"
	"go.uber.org/zap"
)

var tokenRegex = regexp.MustCompile(`\{[a-zA-Z]+\}`)

// Planner computes output paths from the output template and directory
// modifiers.
type Planner struct {
	opts       *config.Options
	pinyinArgs pinyin.Args
}

func NewPlanner(opts *config.Options) *Planner {
	args := pinyin.NewArgs()
	args.Style = pinyin.FirstLetter
	return &Planner{opts: opts, pinyinArgs: args}
}

// Plan lays out every ROM of every surviving candidate. Families are
// visited in catalog order and candidates in rank order, so the first
// claim on a path wins.
func (p *Planner) Plan(ctx context.Context, cat *model.Catalog, families []*candidate.Family) (*Plan, error) {
	logger := logutil.GetLogger(ctx).With(zap.String("dat", cat.DisplayName()))
	pl := &Plan{Catalog: cat}
	claimed := make(map[string]*Entry)
	archiveOwner := make(map[string]*candidate.ReleaseCandidate)

	for _, fam := range families {
		for _, c := range fam.Candidates {
			entries, err := p.entries(cat, c)
			if err != nil {
				return nil, err
			}
			for _, e := range entries {
				winner, ok := claimed[e.Key()]
				if !ok && e.Action == ActionZip {
					if owner, owned := archiveOwner[e.Target]; owned && owner != c {
						winner, ok = firstEntryOf(pl.Entries, owner, e.Target), true
					}
				}
				if ok {
					logger.Warn("output path already claimed, skip", zap.String("game", c.Game.Name),
						zap.String("target", e.Key()), zap.String("winner", winner.Candidate.Game.Name))
					pl.Duplicates = append(pl.Duplicates, &Duplicate{Entry: e, Winner: winner})
					continue
				}
				claimed[e.Key()] = e
				if e.Action == ActionZip {
					archiveOwner[e.Target] = c
				}
				pl.Entries = append(pl.Entries, e)
			}
		}
	}
	logger.Debug("plan built", zap.Int("entries", len(pl.Entries)), zap.Int("duplicates", len(pl.Duplicates)))
	return pl, nil
}

func firstEntryOf(entries []*Entry, c *candidate.ReleaseCandidate, target string) *Entry {
	for _, e := range entries {
		if e.Candidate == c && e.Target == target {
			return e
		}
	}
	return nil
}

func (p *Planner) action() Action {
	switch {
	case p.opts.Has(config.CommandZip):
		return ActionZip
	case p.opts.Has(config.CommandMove):
		return ActionMove
	}
	return ActionCopy
}

func (p *Planner) entries(cat *model.Catalog, c *candidate.ReleaseCandidate) ([]*Entry, error) {
	action := p.action()
	out := make([]*Entry, 0, len(c.ROMs))
	for _, slot := range c.ROMs {
		e := &Entry{
			Action:       action,
			MoveSource:   p.opts.Has(config.CommandMove),
			Source:       slot.Input,
			Patch:        slot.Patch,
			Headerless:   slot.Headerless,
			ExpectedCRC:  model.NormalizeCRC(slot.ROM.CRC32),
			ExpectedSize: slot.ROM.Size,
			Candidate:    c,
			ROM:          slot.ROM,
		}
		target, entryName, err := p.Path(cat, c, slot)
		if err != nil {
			return nil, err
		}
		e.Target, e.EntryName = target, entryName
		out = append(out, e)
	}
	return out, nil
}

// Path computes the target of one ROM slot. In zip mode it returns the
// archive path and the entry name.
func (p *Planner) Path(cat *model.Catalog, c *candidate.ReleaseCandidate, slot candidate.ROMWithFile) (string, string, error) {
	romName := filepath.FromSlash(path.Clean(strings.ReplaceAll(slot.ROM.Name, "\\", "/")))
	gameName := model.SanitizeFilename(c.Game.Name)

	var (
		rel       string
		entryName string
	)
	switch {
	case p.action() == ActionZip:
		rel = gameName + ".zip"
		entryName = filepath.ToSlash(romName)
	case len(c.ROMs) > 1:
		rel = filepath.Join(gameName, romName)
	default:
		rel = romName
	}

	var dirs []string
	if p.opts.DirMirror {
		if d := slot.Input.RelDir(); d != "" {
			dirs = append(dirs, d)
		}
	}
	if p.opts.DirDatName && cat.Name != "" {
		dirs = append(dirs, cat.ShortName())
	}
	if p.opts.DirDatDescription && cat.Description != "" {
		dirs = append(dirs, model.SanitizeFilename(cat.Description))
	}
	if p.opts.DirLetter {
		dirs = append(dirs, p.letter(rel))
	}

	outputBase := filepath.Base(rel)
	values := p.tokens(cat, c, slot, romName, outputBase)
	root, err := expand(p.opts.Output, values)
	if err != nil {
		return "", "", err
	}
	parts := append([]string{root}, dirs...)
	parts = append(parts, rel)
	return filepath.Join(parts...), entryName, nil
}

// letter buckets a name by its first character: A-Z, # for anything else,
// or the pinyin initial of a Han character when enabled.
func (p *Planner) letter(name string) string {
	for _, r := range name {
		if p.opts.DirLetterPinyin && unicode.Is(unicode.Han, r) {
			if py := pinyin.LazyPinyin(string(r), p.pinyinArgs); len(py) > 0 && py[0] != "" {
				return strings.ToUpper(py[0][:1])
			}
		}
		up := unicode.ToUpper(r)
		if up >= 'A' && up <= 'Z' {
			return string(up)
		}
		return "#"
	}
	return "#"
}

func (p *Planner) tokens(cat *model.Catalog, c *candidate.ReleaseCandidate, slot candidate.ROMWithFile, romName, outputBase string) map[string]string {
	romBase := filepath.Base(romName)
	romExt := filepath.Ext(romBase)
	outExt := filepath.Ext(outputBase)
	values := map[string]string{
		"datName":          cat.ShortName(),
		"datDescription":   model.SanitizeFilename(cat.Description),
		"inputDirname":     slot.Input.Dir(),
		"romBasename":      romBase,
		"romName":          strings.TrimSuffix(romBase, romExt),
		"romExt":           romExt,
		"outputBasename":   outputBase,
		"outputName":       strings.TrimSuffix(outputBase, outExt),
		"outputExt":        strings.TrimPrefix(outExt, "."),
		"pocket":           pocketFolder(cat.Name, romExt),
		"mister":           misterFolder(romExt),
		"datReleaseRegion": c.Region(),
	}
	if langs := c.Languages(); len(langs) > 0 {
		values["datReleaseLanguage"] = langs[0]
	}
	return values
}

// expand substitutes every token of the template. Unknown tokens and tokens
// without a value are configuration errors.
func expand(template string, values map[string]string) (string, error) {
	var bad string
	out := tokenRegex.ReplaceAllStringFunc(template, func(tok string) string {
		v := values[strings.Trim(tok, "{}")]
		if v == "" && bad == "" {
			bad = tok
		}
		return v
	})
	if bad != "" {
		return "", config.Errorf("failed to replace output token %s in %q", bad, template)
	}
	if strings.ContainsAny(out, "{}") {
		return "", config.Errorf("failed to replace output token in %q: %s", template, out)
	}
	return filepath.Clean(filepath.FromSlash(out)), nil
}
