package candidate

import (
	"context"
	"path"
	"strings"

	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/romsort/internal/config"
	"github.com/xxxsen/romsort/internal/model"
	"github.com/xxxsen/romsort/internal/patch"
	"github.com/xxxsen/romsort/internal/progress"
	"github.com/xxxsen/romsort/internal/scan"
	"go.uber.org/zap"
)

const StageCandidates = "candidates"

// Result is the outcome of generating candidates for one catalog.
type Result struct {
	Families []*Family
	// Missing lists games with at least one ROM that no input satisfies.
	Missing []*model.Game
}

// Generator builds release candidates from an index of inputs and patches.
type Generator struct {
	opts    *config.Options
	index   *scan.Index
	patches map[string][]*patch.Patch
	failed  map[*patch.Patch]bool
	bus     *progress.Bus
}

func NewGenerator(opts *config.Options, index *scan.Index, patches []*patch.Patch, bus *progress.Bus) *Generator {
	byCRC := make(map[string][]*patch.Patch, len(patches))
	for _, p := range patches {
		crc := model.NormalizeCRC(p.CRCBefore)
		byCRC[crc] = append(byCRC[crc], p)
	}
	return &Generator{
		opts:    opts,
		index:   index,
		patches: byCRC,
		failed:  make(map[*patch.Patch]bool),
		bus:     bus,
	}
}

// Generate walks the catalog's families in order. Games missing a ROM are
// reported in Result.Missing and never produce a candidate.
func (g *Generator) Generate(ctx context.Context, cat *model.Catalog) (*Result, error) {
	logger := logutil.GetLogger(ctx).With(zap.String("dat", cat.DisplayName()))
	parents := cat.Parents()
	g.bus.Start(StageCandidates, len(parents))
	defer g.bus.Finish(StageCandidates)

	res := &Result{}
	total := 0
	for _, parent := range parents {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fam := &Family{Parent: parent}
		for _, game := range parent.Games {
			if len(game.ROMs) == 0 {
				continue
			}
			roms, ok := g.match(cat, game)
			if !ok {
				res.Missing = append(res.Missing, game)
				continue
			}
			for _, base := range fanOut(game, roms) {
				fam.Candidates = append(fam.Candidates, base)
				fam.Candidates = append(fam.Candidates, g.patched(ctx, base)...)
			}
		}
		total += len(fam.Candidates)
		res.Families = append(res.Families, fam)
		g.bus.Add(StageCandidates, parent.Name)
	}
	logger.Info("candidates generated", zap.Int("candidates", total), zap.Int("missing", len(res.Missing)))
	return res, nil
}

// match finds an input for every ROM of the game. Headerless matches are
// preferred when headers may be removed for the input's extension.
func (g *Generator) match(cat *model.Catalog, game *model.Game) ([]ROMWithFile, bool) {
	out := make([]ROMWithFile, 0, len(game.ROMs))
	for _, rom := range game.ROMs {
		found, ok := g.find(cat, rom)
		if !ok {
			return nil, false
		}
		out = append(out, found)
	}
	return out, true
}

func (g *Generator) find(cat *model.Catalog, rom model.ROM) (ROMWithFile, bool) {
	if rom.CRC32 == "" {
		return ROMWithFile{}, false
	}
	for _, f := range g.index.FindHeaderless(rom.CRC32, rom.Size) {
		if g.opts.CanRemoveHeader(cat.Name, f.Ext()) {
			return ROMWithFile{ROM: rom, Input: f, Headerless: true}, true
		}
	}
	if files := g.index.Find(rom.CRC32, rom.Size); len(files) > 0 {
		return ROMWithFile{ROM: rom, Input: files[0]}, true
	}
	return ROMWithFile{}, false
}

// fanOut emits one candidate per distinct release, or one without a release.
func fanOut(game *model.Game, roms []ROMWithFile) []*ReleaseCandidate {
	if len(game.Releases) == 0 {
		return []*ReleaseCandidate{{Game: game, ROMs: roms}}
	}
	seen := make(map[string]bool, len(game.Releases))
	out := make([]*ReleaseCandidate, 0, len(game.Releases))
	for i := range game.Releases {
		rel := &game.Releases[i]
		key := strings.ToUpper(rel.Region) + "|" + strings.ToUpper(rel.Language)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, &ReleaseCandidate{Game: game, Release: rel, ROMs: roms})
	}
	return out
}

// patched returns one extra candidate per (ROM slot, patch) pair whose
// source checksum matches the slot.
func (g *Generator) patched(ctx context.Context, base *ReleaseCandidate) []*ReleaseCandidate {
	var out []*ReleaseCandidate
	for i, slot := range base.ROMs {
		for _, p := range g.patches[model.NormalizeCRC(slot.ROM.CRC32)] {
			if err := g.resolveTarget(ctx, p, slot); err != nil {
				continue
			}
			out = append(out, withPatch(base, i, p))
		}
	}
	return out
}

// resolveTarget applies the patch once when its target checksum is not
// declared by the patch itself.
func (g *Generator) resolveTarget(ctx context.Context, p *patch.Patch, slot ROMWithFile) error {
	if p.CRCAfter != "" {
		return nil
	}
	if g.failed[p] {
		return patch.ErrMalformed
	}
	err := p.ComputeTarget(ctx, slot.Input, slot.Headerless)
	if err != nil {
		g.failed[p] = true
		logutil.GetLogger(ctx).Warn("apply patch failed, skip", zap.String("patch", p.String()),
			zap.String("source", slot.Input.String()), zap.Error(err))
		return err
	}
	logutil.GetLogger(ctx).Debug("patch target computed", zap.String("patch", p.String()),
		zap.String("crc", p.CRCAfter), zap.Int64("size", p.SizeAfter))
	return nil
}

func withPatch(base *ReleaseCandidate, slot int, p *patch.Patch) *ReleaseCandidate {
	orig := base.ROMs[slot]
	rom := model.ROM{
		Name:  p.Name + path.Ext(orig.ROM.Name),
		Size:  p.SizeAfter,
		CRC32: model.NormalizeCRC(p.CRCAfter),
	}
	if dir := path.Dir(orig.ROM.Name); dir != "." {
		rom.Name = path.Join(dir, rom.Name)
	}
	roms := append([]ROMWithFile(nil), base.ROMs...)
	roms[slot] = ROMWithFile{ROM: rom, Input: orig.Input, Patch: p, Headerless: orig.Headerless}

	game := *base.Game
	game.Name = p.Name
	game.Description = p.Name
	game.ROMs = make([]model.ROM, len(roms))
	for i, r := range roms {
		game.ROMs[i] = r.ROM
	}
	return &ReleaseCandidate{Game: &game, Release: base.Release, ROMs: roms}
}

// Describe is a short form used in logs.
func Describe(c *ReleaseCandidate) string {
	names := make([]string, 0, len(c.ROMs))
	for _, r := range c.ROMs {
		names = append(names, r.Input.String())
	}
	return c.Game.Name + " <- " + strings.Join(names, ", ")
}
