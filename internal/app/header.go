package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
	"github.com/xxxsen/romsort/internal/config"
	"github.com/xxxsen/romsort/internal/report"
	"github.com/xxxsen/romsort/internal/romfile"
	"github.com/xxxsen/romsort/internal/scan"
)

// HeaderCommand prints the detected header and both checksums of ROMs.
type HeaderCommand struct {
	inputs  []string
	threads int
	out     io.Writer
	files   []*romfile.File
}

func init() {
	RegisterRunner("header", func() IRunner { return NewHeaderCommand() })
}

func NewHeaderCommand() *HeaderCommand {
	return &HeaderCommand{out: os.Stdout}
}

func (c *HeaderCommand) Name() string { return "header" }

func (c *HeaderCommand) Desc() string { return "Show detected headers and headerless CRCs" }

func (c *HeaderCommand) Init(fst *pflag.FlagSet) {
	fst.StringSliceVarP(&c.inputs, "input", "i", nil, "ROM files, directories, archives or globs")
	fst.IntVar(&c.threads, "threads", 0, "worker count")
}

func (c *HeaderCommand) SetOutput(w io.Writer) { c.out = w }

func (c *HeaderCommand) PreRun(ctx context.Context) error {
	if len(c.inputs) == 0 {
		return config.NewError("header requires --input")
	}
	return nil
}

func (c *HeaderCommand) Run(ctx context.Context) error {
	paths, err := scan.ExpandPaths(c.inputs)
	if err != nil {
		return err
	}
	files, err := scan.NewROMScanner(c.threads, scan.WithKeepDuplicates(true)).Scan(ctx, paths)
	if err != nil && len(files) == 0 {
		return err
	}
	hp := scan.NewHeaderProcessor(c.threads, nil, nil)
	for _, f := range files {
		if err := hp.ProcessFile(ctx, f); err != nil {
			return fmt.Errorf("detect header %s: %w", f, err)
		}
	}
	c.files = files
	return nil
}

func (c *HeaderCommand) PostRun(ctx context.Context) error {
	rows := make([][]string, 0, len(c.files))
	for _, f := range c.files {
		name, hsize, hcrc := "-", "-", "-"
		if f.Header != nil {
			name, hsize, hcrc = f.Header.Name, humanize.IBytes(uint64(f.HeaderlessSize)), f.HeaderlessCRC32
		}
		rows = append(rows, []string{f.String(), humanize.IBytes(uint64(f.Size)), f.CRC32, name, hsize, hcrc})
	}
	fmt.Fprintln(c.out, report.RenderTable(
		[]string{"File", "Size", "CRC32", "Header", "Headerless Size", "Headerless CRC32"},
		rows,
		[]report.Align{report.AlignLeft, report.AlignRight, report.AlignLeft, report.AlignLeft, report.AlignRight, report.AlignLeft},
	))
	return nil
}

// Files returns the inspected files after Run.
func (c *HeaderCommand) Files() []*romfile.File { return c.files }
