// Package plan turns chosen candidates into concrete output paths.
package plan

import (
	"github.com/xxxsen/romsort/internal/candidate"
	"github.com/xxxsen/romsort/internal/model"
	"github.com/xxxsen/romsort/internal/patch"
	"github.com/xxxsen/romsort/internal/romfile"
)

// Action is how an entry's bytes reach the target.
type Action int

const (
	ActionCopy Action = iota + 1
	ActionMove
	ActionZip
)

func (a Action) String() string {
	switch a {
	case ActionCopy:
		return "copy"
	case ActionMove:
		return "move"
	case ActionZip:
		return "zip"
	}
	return "unknown"
}

// Entry is one ROM to materialize. For zip entries Target is the archive
// path and EntryName the path inside it.
type Entry struct {
	Target    string
	EntryName string
	Action    Action
	// MoveSource marks entries whose source may be removed after a
	// successful write, which is the case for move and for zip after move.
	MoveSource bool

	Source     *romfile.File
	Patch      *patch.Patch
	Headerless bool

	ExpectedCRC  string
	ExpectedSize int64

	Candidate *candidate.ReleaseCandidate
	ROM       model.ROM
}

// Key identifies the output location of the entry.
func (e *Entry) Key() string {
	if e.EntryName != "" {
		return e.Target + "|" + e.EntryName
	}
	return e.Target
}

// Duplicate is an entry that lost a collision.
type Duplicate struct {
	Entry  *Entry
	Winner *Entry
}

// Plan is the write plan of one catalog in deterministic order.
type Plan struct {
	Catalog    *model.Catalog
	Entries    []*Entry
	Duplicates []*Duplicate
}

// Targets returns every filesystem path the plan writes, once each.
func (p *Plan) Targets() []string {
	seen := make(map[string]bool, len(p.Entries))
	out := make([]string, 0, len(p.Entries))
	for _, e := range p.Entries {
		if seen[e.Target] {
			continue
		}
		seen[e.Target] = true
		out = append(out, e.Target)
	}
	return out
}

// Archives groups zip entries by archive path, keeping plan order.
func (p *Plan) Archives() ([]string, map[string][]*Entry) {
	var order []string
	groups := make(map[string][]*Entry)
	for _, e := range p.Entries {
		if e.Action != ActionZip {
			continue
		}
		if _, ok := groups[e.Target]; !ok {
			order = append(order, e.Target)
		}
		groups[e.Target] = append(groups[e.Target], e)
	}
	return order, groups
}
