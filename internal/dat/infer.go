package dat

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/xxxsen/romsort/internal/archive"
	"github.com/xxxsen/romsort/internal/model"
	"github.com/xxxsen/romsort/internal/romfile"
)

// Infer builds catalogs straight from scanned files when no DAT was given:
// one catalog per input root, one game per plain file and one game per
// archive. canRemoveHeader reports whether a headered extension should be
// described by its headerless content.
func Infer(files []*romfile.File, canRemoveHeader func(ext string) bool) []*model.Catalog {
	type group struct {
		root  string
		games []*model.Game
		byKey map[string]*model.Game
	}
	var groups []*group
	byRoot := make(map[string]*group)

	for _, f := range files {
		g, ok := byRoot[f.InputRoot]
		if !ok {
			g = &group{root: f.InputRoot, byKey: make(map[string]*model.Game)}
			byRoot[f.InputRoot] = g
			groups = append(groups, g)
		}
		key, gameName := f.Path, inferredGameName(f)
		game, ok := g.byKey[key]
		if !ok {
			game = &model.Game{Name: gameName, Description: gameName}
			g.byKey[key] = game
			g.games = append(g.games, game)
		}
		game.ROMs = append(game.ROMs, inferredROM(f, canRemoveHeader))
	}

	cats := make([]*model.Catalog, 0, len(groups))
	for _, g := range groups {
		name := inferredCatalogName(g.root)
		seen := make(map[string]bool, len(g.games))
		games := make([]*model.Game, 0, len(g.games))
		for _, game := range g.games {
			if seen[game.Name] {
				continue
			}
			seen[game.Name] = true
			games = append(games, game)
		}
		cats = append(cats, model.NewCatalog(model.Header{Name: name, Description: name}, games))
	}
	return cats
}

func inferredCatalogName(root string) string {
	if root == "" || root == "." {
		return "inferred"
	}
	return filepath.Base(root)
}

func inferredGameName(f *romfile.File) string {
	if f.IsArchiveEntry() {
		return archive.TrimExt(filepath.Base(f.Path))
	}
	name := f.Name()
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func inferredROM(f *romfile.File, canRemoveHeader func(ext string) bool) model.ROM {
	name := f.Name()
	if f.IsArchiveEntry() {
		name = path.Clean(f.EntryPath)
	}
	rom := model.ROM{Name: name, Size: f.Size, CRC32: f.CRC32}
	if f.Header != nil && f.HeaderlessCRC32 != "" && canRemoveHeader != nil && canRemoveHeader(f.Ext()) {
		rom.Name = f.Header.HeaderlessName(name)
		rom.Size = f.HeaderlessSize
		rom.CRC32 = f.HeaderlessCRC32
	}
	return rom
}
