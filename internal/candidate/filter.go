package candidate

import (
	"context"
	"math"
	"sort"

	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/romsort/internal/config"
	"github.com/xxxsen/romsort/internal/model"
	"go.uber.org/zap"
)

// Filter drops, ranks and optionally trims candidates per family.
type Filter struct {
	opts *config.Options
}

func NewFilter(opts *config.Options) *Filter {
	return &Filter{opts: opts}
}

// CheckSingle fails when --single is requested for a catalog that carries
// no parent/clone information.
func CheckSingle(opts *config.Options, cat *model.Catalog) error {
	if !opts.Single || cat.HasParentCloneInfo() {
		return nil
	}
	return config.Errorf("dat %q has no parent/clone info, can't use --single", cat.DisplayName())
}

// Apply filters every family. The input families are left untouched.
func (f *Filter) Apply(ctx context.Context, families []*Family) []*Family {
	out := make([]*Family, 0, len(families))
	kept := 0
	for _, fam := range families {
		list := make([]*ReleaseCandidate, 0, len(fam.Candidates))
		for _, c := range fam.Candidates {
			if f.Keep(c) {
				list = append(list, c)
			}
		}
		sort.SliceStable(list, func(i, j int) bool {
			return f.Compare(list[i], list[j]) < 0
		})
		if f.opts.Single && len(list) > 1 {
			logutil.GetLogger(ctx).Debug("keep single candidate", zap.String("parent", fam.Parent.Name),
				zap.String("candidate", Describe(list[0])), zap.Int("dropped", len(list)-1))
			list = list[:1]
		}
		kept += len(list)
		out = append(out, &Family{Parent: fam.Parent, Candidates: list})
	}
	logutil.GetLogger(ctx).Debug("candidates filtered", zap.Int("families", len(out)), zap.Int("kept", kept))
	return out
}

// Keep reports whether a candidate survives every drop rule.
func (f *Filter) Keep(c *ReleaseCandidate) bool {
	o, g := f.opts, c.Game
	if len(o.LanguageFilter) > 0 && !anyIn(c.Languages(), o.LanguageFilter) {
		return false
	}
	if len(o.RegionFilter) > 0 {
		region := c.Region()
		if region == "" || indexOf(o.RegionFilter, region) < 0 {
			return false
		}
	}
	drops := []bool{
		o.OnlyBios && !g.IsBios(),
		o.NoBios && g.IsBios(),
		o.OnlyRetail && !g.IsRetail(),
		o.NoUnlicensed && g.IsUnlicensed(),
		o.NoDemo && g.IsDemo(),
		o.NoBeta && g.IsBeta(),
		o.NoSample && g.IsSample(),
		o.NoPrototype && g.IsPrototype(),
		o.NoTestRoms && g.IsTest(),
		o.NoAftermarket && g.IsAftermarket(),
		o.NoHomebrew && g.IsHomebrew(),
		o.NoUnverified && !g.IsVerified(),
		o.NoBad && g.IsBad(),
	}
	for _, d := range drops {
		if d {
			return false
		}
	}
	return true
}

// Compare orders candidates; negative means a is preferred. The first
// enabled preference that differs decides.
func (f *Filter) Compare(a, b *ReleaseCandidate) int {
	o := f.opts
	if o.PreferVerified {
		if d := boolRank(a.Game.IsVerified()) - boolRank(b.Game.IsVerified()); d != 0 {
			return d
		}
	}
	if o.PreferGood {
		if d := boolRank(!a.Game.IsBad()) - boolRank(!b.Game.IsBad()); d != 0 {
			return d
		}
	}
	if len(o.PreferLanguages) > 0 {
		if d := cmpInt(f.languageRank(a), f.languageRank(b)); d != 0 {
			return d
		}
	}
	if len(o.PreferRegions) > 0 {
		if d := cmpInt(f.regionRank(a), f.regionRank(b)); d != 0 {
			return d
		}
	}
	switch {
	case o.PreferRevisionNewer:
		if d := cmpFloat(b.Revision(), a.Revision()); d != 0 {
			return d
		}
	case o.PreferRevisionOlder:
		if d := cmpFloat(a.Revision(), b.Revision()); d != 0 {
			return d
		}
	}
	if o.PreferRetail {
		if d := boolRank(a.Game.IsRetail()) - boolRank(b.Game.IsRetail()); d != 0 {
			return d
		}
	}
	if o.PreferParent {
		if d := boolRank(a.Game.IsParent()) - boolRank(b.Game.IsParent()); d != 0 {
			return d
		}
	}
	return 0
}

func (f *Filter) languageRank(c *ReleaseCandidate) int {
	best := math.MaxInt
	for _, l := range c.Languages() {
		if i := indexOf(f.opts.PreferLanguages, l); i >= 0 && i < best {
			best = i
		}
	}
	return best
}

func (f *Filter) regionRank(c *ReleaseCandidate) int {
	if i := indexOf(f.opts.PreferRegions, c.Region()); i >= 0 {
		return i
	}
	return math.MaxInt
}

// boolRank maps a preferred true to 0.
func boolRank(v bool) int {
	if v {
		return 0
	}
	return 1
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func indexOf(list []string, v string) int {
	if v == "" {
		return -1
	}
	for i, x := range list {
		if x == v {
			return i
		}
	}
	return -1
}

func anyIn(values, set []string) bool {
	for _, v := range values {
		if indexOf(set, v) >= 0 {
			return true
		}
	}
	return false
}
