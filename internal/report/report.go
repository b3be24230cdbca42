// Package report records what happened to every catalog ROM and input.
package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/romsort/internal/candidate"
	"github.com/xxxsen/romsort/internal/model"
	"github.com/xxxsen/romsort/internal/plan"
	"github.com/xxxsen/romsort/internal/romfile"
	"github.com/xxxsen/romsort/internal/storage"
	"go.uber.org/zap"
)

// Status is the outcome of one report row.
type Status string

const (
	StatusMatched        Status = "MATCHED"
	StatusPatched        Status = "PATCHED"
	StatusMissing        Status = "MISSING"
	StatusDuplicate      Status = "DUPLICATE"
	StatusUnmatchedInput Status = "UNMATCHED_INPUT"
)

var statusOrder = []Status{StatusMatched, StatusPatched, StatusMissing, StatusDuplicate, StatusUnmatchedInput}

// Header is the CSV header row.
var Header = []string{"Status", "DAT Name", "Game Name", "ROM Name", "ROM CRC", "Found Path", "Output Path", "Patch Path"}

// Row is one (game, ROM) line of the report.
type Row struct {
	Status     Status
	DatName    string
	GameName   string
	ROMName    string
	ROMCRC     string
	FoundPath  string
	OutputPath string
	PatchPath  string
}

func (r Row) record() []string {
	return []string{string(r.Status), r.DatName, r.GameName, r.ROMName, r.ROMCRC, r.FoundPath, r.OutputPath, r.PatchPath}
}

// Report accumulates rows across catalogs and remembers which inputs
// were used by any of them.
type Report struct {
	mu   sync.Mutex
	rows []Row
	used map[string]bool
}

func New() *Report {
	return &Report{used: make(map[string]bool)}
}

func (r *Report) Rows() []Row {
	return r.rows
}

func (r *Report) add(row Row) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, row)
}

func (r *Report) markUsed(f *romfile.File) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.used[f.String()] = true
}

// AddPlan records every planned entry and every collision loser.
func (r *Report) AddPlan(pl *plan.Plan) {
	dat := pl.Catalog.DisplayName()
	for _, e := range pl.Entries {
		r.markUsed(e.Source)
		r.add(entryRow(dat, e, statusOf(e.Patch != nil)))
	}
	for _, d := range pl.Duplicates {
		r.markUsed(d.Entry.Source)
		r.add(entryRow(dat, d.Entry, StatusDuplicate))
	}
}

// AddCandidates records chosen candidates when nothing is written.
func (r *Report) AddCandidates(cat *model.Catalog, families []*candidate.Family) {
	dat := cat.DisplayName()
	for _, fam := range families {
		for _, c := range fam.Candidates {
			for _, slot := range c.ROMs {
				r.markUsed(slot.Input)
				row := Row{
					Status:    statusOf(slot.Patch != nil),
					DatName:   dat,
					GameName:  c.Game.Name,
					ROMName:   slot.ROM.Name,
					ROMCRC:    model.NormalizeCRC(slot.ROM.CRC32),
					FoundPath: slot.Input.String(),
				}
				if slot.Patch != nil {
					row.PatchPath = slot.Patch.String()
				}
				r.add(row)
			}
		}
	}
}

// AddMissing records one row per ROM of every unmatched game.
func (r *Report) AddMissing(cat *model.Catalog, games []*model.Game) {
	dat := cat.DisplayName()
	for _, g := range games {
		for _, rom := range g.ROMs {
			r.add(Row{Status: StatusMissing, DatName: dat, GameName: g.Name, ROMName: rom.Name,
				ROMCRC: model.NormalizeCRC(rom.CRC32)})
		}
	}
}

// AddUnmatched records inputs no catalog used. Call it after every catalog.
func (r *Report) AddUnmatched(files []*romfile.File) {
	for _, f := range files {
		if r.used[f.String()] {
			continue
		}
		r.add(Row{Status: StatusUnmatchedInput, ROMName: f.Name(), ROMCRC: f.CRC32, FoundPath: f.String()})
	}
}

func statusOf(patched bool) Status {
	if patched {
		return StatusPatched
	}
	return StatusMatched
}

func entryRow(dat string, e *plan.Entry, status Status) Row {
	row := Row{
		Status:     status,
		DatName:    dat,
		GameName:   e.Candidate.Game.Name,
		ROMName:    e.ROM.Name,
		ROMCRC:     e.ExpectedCRC,
		FoundPath:  e.Source.String(),
		OutputPath: e.Key(),
	}
	if e.Patch != nil {
		row.PatchPath = e.Patch.String()
	}
	return row
}

// WriteCSV writes the header and all rows.
func (r *Report) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, row := range r.rows {
		if err := cw.Write(row.record()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile writes the CSV to path through a temp file.
func (r *Report) WriteFile(ctx context.Context, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	var buf bytes.Buffer
	if err := r.WriteCSV(&buf); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write report: %w", err)
	}
	logutil.GetLogger(ctx).Info("report written", zap.String("path", path), zap.Int("rows", len(r.rows)),
		zap.String("size", humanize.Bytes(uint64(buf.Len()))))
	return nil
}

// Upload publishes the CSV under key.
func (r *Report) Upload(ctx context.Context, up storage.Uploader, key string) error {
	var buf bytes.Buffer
	if err := r.WriteCSV(&buf); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := up.Upload(ctx, key, bytes.NewReader(buf.Bytes()), int64(buf.Len()), "text/csv"); err != nil {
		return err
	}
	logutil.GetLogger(ctx).Info("report uploaded", zap.String("url", up.URL(key)))
	return nil
}

// Summary renders per catalog status counts.
func (r *Report) Summary() string {
	counts := make(map[string]map[Status]int)
	var dats []string
	for _, row := range r.rows {
		dat := row.DatName
		if dat == "" {
			dat = "-"
		}
		if counts[dat] == nil {
			counts[dat] = make(map[Status]int)
			dats = append(dats, dat)
		}
		counts[dat][row.Status]++
	}
	sort.Strings(dats)

	headers := []string{"DAT"}
	aligns := []Align{AlignLeft}
	for _, s := range statusOrder {
		headers = append(headers, string(s))
		aligns = append(aligns, AlignRight)
	}
	rows := make([][]string, 0, len(dats))
	for _, dat := range dats {
		row := []string{dat}
		for _, s := range statusOrder {
			row = append(row, humanize.Comma(int64(counts[dat][s])))
		}
		rows = append(rows, row)
	}
	return RenderTable(headers, rows, aligns)
}
