// Package candidate joins catalog games against indexed inputs and ranks
// the resulting release candidates per parent/clone family.
package candidate

import (
	"strings"

	"github.com/xxxsen/romsort/internal/model"
	"github.com/xxxsen/romsort/internal/patch"
	"github.com/xxxsen/romsort/internal/romfile"
)

// ROMWithFile binds a catalog ROM to the input that satisfies it. When Patch
// is set, ROM describes the patched output and Input is the patch source.
type ROMWithFile struct {
	ROM        model.ROM
	Input      *romfile.File
	Patch      *patch.Patch
	Headerless bool
}

// ReleaseCandidate is one way of producing a game for one release.
type ReleaseCandidate struct {
	Game    *model.Game
	Release *model.Release
	ROMs    []ROMWithFile
}

// Region is the release region, or the first region named in the game name.
func (c *ReleaseCandidate) Region() string {
	if c.Release != nil && c.Release.Region != "" {
		return strings.ToUpper(c.Release.Region)
	}
	if regions := c.Game.Regions(); len(regions) > 0 {
		return regions[0]
	}
	return ""
}

// Languages merges the release language with the languages in the game
// name. Without either, the region's default language is used.
func (c *ReleaseCandidate) Languages() []string {
	var langs []string
	seen := make(map[string]bool)
	add := func(l string) {
		l = strings.ToUpper(strings.TrimSpace(l))
		if l == "" || seen[l] {
			return
		}
		seen[l] = true
		langs = append(langs, l)
	}
	if c.Release != nil {
		add(c.Release.Language)
	}
	for _, l := range c.Game.Languages() {
		add(l)
	}
	if len(langs) > 0 {
		return langs
	}
	if region := c.Region(); region != "" {
		if r, ok := model.LookupRegion(region); ok {
			add(r.Language)
		}
	}
	return langs
}

func (c *ReleaseCandidate) Revision() float64 {
	return c.Game.Revision()
}

func (c *ReleaseCandidate) IsPatched() bool {
	for _, r := range c.ROMs {
		if r.Patch != nil {
			return true
		}
	}
	return false
}

// ReleaseName is the release name, falling back to the game name.
func (c *ReleaseCandidate) ReleaseName() string {
	if c.Release != nil && c.Release.Name != "" {
		return c.Release.Name
	}
	return c.Game.Name
}

// Family is the candidates of one parent/clone group in preference order.
type Family struct {
	Parent     *model.Parent
	Candidates []*ReleaseCandidate
}
