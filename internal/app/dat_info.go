package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/pflag"
	"github.com/xxxsen/romsort/internal/config"
	"github.com/xxxsen/romsort/internal/dat"
	"github.com/xxxsen/romsort/internal/model"
	"github.com/xxxsen/romsort/internal/report"
	"github.com/xxxsen/romsort/internal/scan"
)

// DatInfoCommand summarizes catalogs without touching any ROM.
type DatInfoCommand struct {
	dats    []string
	threads int
	out     io.Writer
	cats    []*model.Catalog
}

func init() {
	RegisterRunner("dat-info", func() IRunner { return NewDatInfoCommand() })
}

func NewDatInfoCommand() *DatInfoCommand {
	return &DatInfoCommand{out: os.Stdout}
}

func (c *DatInfoCommand) Name() string { return "dat-info" }

func (c *DatInfoCommand) Desc() string { return "Print game, ROM and parent counts of DAT files" }

func (c *DatInfoCommand) Init(fst *pflag.FlagSet) {
	fst.StringSliceVarP(&c.dats, "dat", "d", nil, "DAT files, archives or globs")
	fst.IntVar(&c.threads, "threads", 0, "worker count")
}

func (c *DatInfoCommand) SetOutput(w io.Writer) { c.out = w }

func (c *DatInfoCommand) PreRun(ctx context.Context) error {
	if len(c.dats) == 0 {
		return config.NewError("dat-info requires --dat")
	}
	return nil
}

func (c *DatInfoCommand) Run(ctx context.Context) error {
	paths, err := scan.ExpandPaths(c.dats)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(paths))
	for _, p := range paths {
		names = append(names, p.Path)
	}
	cats, err := dat.NewLoader(c.threads).Load(ctx, names)
	if err != nil {
		return err
	}
	c.cats = cats
	return nil
}

func (c *DatInfoCommand) PostRun(ctx context.Context) error {
	rows := make([][]string, 0, len(c.cats))
	for _, cat := range c.cats {
		roms := 0
		for _, g := range cat.Games {
			roms += len(g.ROMs)
		}
		pc := "no"
		if cat.HasParentCloneInfo() {
			pc = "yes"
		}
		rows = append(rows, []string{
			cat.DisplayName(), cat.Version,
			strconv.Itoa(len(cat.Games)), strconv.Itoa(roms), strconv.Itoa(len(cat.Parents())), pc,
		})
	}
	fmt.Fprintln(c.out, report.RenderTable(
		[]string{"DAT", "Version", "Games", "ROMs", "Parents", "Parent/Clone"},
		rows,
		[]report.Align{report.AlignLeft, report.AlignLeft, report.AlignRight, report.AlignRight, report.AlignRight, report.AlignLeft},
	))
	return nil
}

// Catalogs returns the loaded catalogs after Run.
func (c *DatInfoCommand) Catalogs() []*model.Catalog { return c.cats }
