package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/pflag"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/romsort/internal/candidate"
	"github.com/xxxsen/romsort/internal/cleaner"
	"github.com/xxxsen/romsort/internal/config"
	"github.com/xxxsen/romsort/internal/dat"
	"github.com/xxxsen/romsort/internal/db"
	"github.com/xxxsen/romsort/internal/model"
	"github.com/xxxsen/romsort/internal/patch"
	"github.com/xxxsen/romsort/internal/plan"
	"github.com/xxxsen/romsort/internal/progress"
	"github.com/xxxsen/romsort/internal/report"
	"github.com/xxxsen/romsort/internal/romfile"
	"github.com/xxxsen/romsort/internal/scan"
	"github.com/xxxsen/romsort/internal/storage"
	"github.com/xxxsen/romsort/internal/writer"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// SortCommand runs the match, filter and write pipeline.
type SortCommand struct {
	opts *config.Options
	cfg  *config.Config

	out         io.Writer
	progressOut *os.File
	uploader    storage.Uploader

	report  *report.Report
	removed []string
}

func NewSortCommand() *SortCommand {
	return &SortCommand{
		opts:        &config.Options{},
		cfg:         &config.Config{},
		out:         os.Stdout,
		progressOut: os.Stderr,
	}
}

func (c *SortCommand) Name() string { return "sort" }

func (c *SortCommand) Desc() string {
	return "Match ROMs against DATs, then copy, move, zip, test, clean and report"
}

func (c *SortCommand) Options() *config.Options { return c.opts }

// SetConfig applies the config file loaded by the command line layer.
func (c *SortCommand) SetConfig(cfg *config.Config) {
	if cfg != nil {
		c.cfg = cfg
	}
}

// SetCommands parses the positional command names.
func (c *SortCommand) SetCommands(args []string) error {
	cmds, err := config.ParseCommands(args)
	if err != nil {
		return err
	}
	c.opts.Commands = cmds
	return nil
}

// SetOutput redirects the summary table and disables the terminal bars.
func (c *SortCommand) SetOutput(w io.Writer) {
	c.out = w
	c.progressOut = nil
}

// SetUploader overrides the report uploader built from the config file.
func (c *SortCommand) SetUploader(up storage.Uploader) {
	c.uploader = up
}

// Report is available after Run when the report command was requested.
func (c *SortCommand) Report() *report.Report { return c.report }

func (c *SortCommand) Init(fst *pflag.FlagSet) {
	o := c.opts
	fst.StringSliceVarP(&o.DAT, "dat", "d", nil, "DAT files, archives or globs")
	fst.StringSliceVarP(&o.Input, "input", "i", nil, "ROM files, directories, archives or globs")
	fst.StringSliceVarP(&o.Patch, "patch", "p", nil, "patch files, directories or globs")
	fst.StringVarP(&o.Output, "output", "o", "", "output path template")

	fst.BoolVar(&o.DirMirror, "dir-mirror", false, "keep the input subdirectory below the output")
	fst.BoolVar(&o.DirDatName, "dir-dat-name", false, "add a folder named after the DAT")
	fst.BoolVar(&o.DirDatDescription, "dir-dat-description", false, "add a folder named after the DAT description")
	fst.BoolVar(&o.DirLetter, "dir-letter", false, "add a folder with the first letter of the ROM name")
	fst.BoolVar(&o.DirLetterPinyin, "dir-letter-pinyin", false, "bucket Han names by their pinyin initial")

	fst.StringSliceVar(&o.RemoveHeaders, "remove-headers", nil, "remove known headers for these extensions (no value means all)")
	fst.Lookup("remove-headers").NoOptDefVal = config.AllExtensions

	fst.StringSliceVar(&o.LanguageFilter, "language-filter", nil, "only keep these languages")
	fst.StringSliceVar(&o.RegionFilter, "region-filter", nil, "only keep these regions")
	fst.BoolVar(&o.OnlyBios, "only-bios", false, "only keep BIOS files")
	fst.BoolVar(&o.NoBios, "no-bios", false, "drop BIOS files")
	fst.BoolVar(&o.OnlyRetail, "only-retail", false, "only keep retail releases")
	fst.BoolVar(&o.NoUnlicensed, "no-unlicensed", false, "drop unlicensed games")
	fst.BoolVar(&o.NoDemo, "no-demo", false, "drop demos")
	fst.BoolVar(&o.NoBeta, "no-beta", false, "drop betas")
	fst.BoolVar(&o.NoSample, "no-sample", false, "drop samples")
	fst.BoolVar(&o.NoPrototype, "no-prototype", false, "drop prototypes")
	fst.BoolVar(&o.NoTestRoms, "no-test-roms", false, "drop test ROMs")
	fst.BoolVar(&o.NoAftermarket, "no-aftermarket", false, "drop aftermarket games")
	fst.BoolVar(&o.NoHomebrew, "no-homebrew", false, "drop homebrew")
	fst.BoolVar(&o.NoUnverified, "no-unverified", false, "drop unverified dumps")
	fst.BoolVar(&o.NoBad, "no-bad", false, "drop bad dumps")

	fst.BoolVar(&o.PreferVerified, "prefer-verified", false, "prefer verified dumps")
	fst.BoolVar(&o.PreferGood, "prefer-good", false, "prefer good dumps")
	fst.StringSliceVar(&o.PreferLanguages, "prefer-languages", nil, "language preference order")
	fst.StringSliceVar(&o.PreferRegions, "prefer-regions", nil, "region preference order")
	fst.BoolVar(&o.PreferRevisionNewer, "prefer-revision-newer", false, "prefer newer revisions")
	fst.BoolVar(&o.PreferRevisionOlder, "prefer-revision-older", false, "prefer older revisions")
	fst.BoolVar(&o.PreferRetail, "prefer-retail", false, "prefer retail releases")
	fst.BoolVar(&o.PreferParent, "prefer-parent", false, "prefer parents over clones")
	fst.BoolVar(&o.Single, "single", false, "keep one game per parent/clone family")

	fst.IntVar(&o.Threads, "threads", 0, "worker count (default: logical CPUs)")
	fst.StringVar(&o.ReportOutput, "report-output", "", "report CSV path")
	fst.BoolVar(&o.CleanDryRun, "clean-dry-run", false, "log what clean would remove")
	fst.BoolVar(&o.NoProgress, "no-progress", false, "disable progress bars")
}

func (c *SortCommand) PreRun(ctx context.Context) error {
	if c.opts.Threads == 0 && c.cfg.Threads > 0 {
		c.opts.Threads = c.cfg.Threads
	}
	c.opts.Normalize()
	if err := c.opts.Validate(); err != nil {
		return err
	}
	logutil.GetLogger(ctx).Debug("sort options", zap.Any("commands", c.opts.Commands),
		zap.Strings("dat", c.opts.DAT), zap.Strings("input", c.opts.Input), zap.String("output", c.opts.Output),
		zap.Int("threads", c.opts.Threads))
	return nil
}

// Run executes the pipeline stages in order. Catalogs are handled one after
// another against a single shared index.
func (c *SortCommand) Run(ctx context.Context) (err error) {
	logger := logutil.GetLogger(ctx)
	o := c.opts
	outputRoot := config.OutputRoot(o.Output)

	env, err := setupRuntime(ctx)
	if err != nil {
		return err
	}
	defer env.close(ctx)

	var up storage.Uploader
	if o.Has(config.CommandReport) {
		if up, err = c.reportUploader(ctx); err != nil {
			return err
		}
	}

	var lock *flock.Flock
	if o.Writes() {
		if lock, err = lockOutput(outputRoot); err != nil {
			return err
		}
		defer unlockOutput(ctx, lock)
	}

	var sink progress.Sink
	if c.progressOut != nil {
		sink = progress.NewSink(ctx, c.progressOut, o.NoProgress)
	} else {
		sink = progress.NopSink()
	}
	bus := progress.NewBus(sink)
	defer bus.Close()

	// Catalog problems surface before any input is hashed.
	var cats []*model.Catalog
	if len(o.DAT) > 0 {
		if cats, err = c.loadCatalogs(ctx); err != nil {
			return err
		}
		if err := checkSingle(o, cats); err != nil {
			return err
		}
	}

	files, scanner, err := c.scanInputs(ctx, outputRoot, len(cats) == 0, bus)
	if err != nil {
		return err
	}
	patches, err := c.scanPatches(ctx, bus)
	if err != nil {
		return err
	}
	if len(o.DAT) == 0 {
		cats = dat.Infer(files, func(ext string) bool { return o.CanRemoveHeader("", ext) })
		if err := checkSingle(o, cats); err != nil {
			return err
		}
		logger.Info("dats inferred from inputs", zap.Int("dats", len(cats)))
	}

	index := scan.NewIndex(files, outputRoot)
	gen := candidate.NewGenerator(o, index, patches, bus)
	filter := candidate.NewFilter(o)
	planner := plan.NewPlanner(o)
	w := writer.New(o.Threads, o.Has(config.CommandTest), bus, writer.WithMemo(db.CRCMemoDao))
	tracker := writer.NewMoveTracker(scanner)
	clean := cleaner.New(o.CleanDryRun)
	rep := report.New()
	var failures error

	for _, cat := range cats {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := gen.Generate(ctx, cat)
		if err != nil {
			return err
		}
		families := filter.Apply(ctx, res.Families)
		if !o.Writes() {
			rep.AddCandidates(cat, families)
			rep.AddMissing(cat, res.Missing)
			continue
		}
		pl, err := planner.Plan(ctx, cat, families)
		if err != nil {
			return err
		}
		rep.AddPlan(pl)
		clean.Keep(pl.Targets()...)
		wres, werr := w.Write(ctx, pl)
		if werr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures = multierr.Append(failures, werr)
		}
		tracker.Track(pl, wres)
		rep.AddMissing(cat, res.Missing)
	}

	if o.Has(config.CommandMove) {
		c.removed = tracker.RemoveSources(ctx)
	}

	reportPath := ""
	if o.Has(config.CommandReport) {
		reportPath = c.reportPath()
	}
	if o.Has(config.CommandClean) {
		clean.Keep(reportPath, filepath.Join(outputRoot, LockName))
		if err := clean.Clean(ctx, []string{outputRoot}); err != nil {
			failures = multierr.Append(failures, err)
		}
	}
	if o.Has(config.CommandReport) {
		rep.AddUnmatched(files)
		if err := c.publishReport(ctx, rep, reportPath, up); err != nil {
			failures = multierr.Append(failures, err)
		}
	}
	c.report = rep

	if failures != nil {
		logger.Error("run finished with failures", zap.Error(failures))
		return fmt.Errorf("%w: %v", ErrFailures, failures)
	}
	return nil
}

func (c *SortCommand) PostRun(ctx context.Context) error {
	logutil.GetLogger(ctx).Info("sort finished", zap.Int("moved_sources_removed", len(c.removed)))
	return nil
}

func (c *SortCommand) loadCatalogs(ctx context.Context) ([]*model.Catalog, error) {
	paths, err := scan.ExpandPaths(c.opts.DAT)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(paths))
	for _, p := range paths {
		names = append(names, p.Path)
	}
	return dat.NewLoader(c.opts.Threads).Load(ctx, names)
}

func checkSingle(o *config.Options, cats []*model.Catalog) error {
	for _, cat := range cats {
		if err := candidate.CheckSingle(o, cat); err != nil {
			return err
		}
	}
	return nil
}

func (c *SortCommand) scanInputs(ctx context.Context, outputRoot string, keepDuplicates bool, bus *progress.Bus) ([]*romfile.File, *scan.ROMScanner, error) {
	paths, err := scan.ExpandPaths(c.opts.Input)
	if err != nil {
		return nil, nil, err
	}
	scanner := scan.NewROMScanner(c.opts.Threads,
		scan.WithOutputRoot(outputRoot),
		scan.WithKeepDuplicates(keepDuplicates),
		scan.WithMemo(db.CRCMemoDao),
		scan.WithProgress(bus),
	)
	files, err := scanner.Scan(ctx, paths)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		logutil.GetLogger(ctx).Warn("some inputs could not be scanned", zap.Error(err))
	}
	if err := scan.NewHeaderProcessor(c.opts.Threads, db.CRCMemoDao, bus).Process(ctx, files); err != nil {
		return nil, nil, err
	}
	return files, scanner, nil
}

func (c *SortCommand) scanPatches(ctx context.Context, bus *progress.Bus) ([]*patch.Patch, error) {
	if len(c.opts.Patch) == 0 {
		return nil, nil
	}
	paths, err := scan.ExpandPaths(c.opts.Patch)
	if err != nil {
		return nil, err
	}
	return scan.NewPatchScanner(c.opts.Threads, bus).Scan(ctx, paths)
}

func (c *SortCommand) reportPath() string {
	if c.opts.ReportOutput != "" {
		return c.opts.ReportOutput
	}
	return fmt.Sprintf("romsort_%s.csv", time.Now().Format("2006-01-02T15-04-05"))
}

// reportUploader resolves where the report goes and confirms the
// destination is reachable before any input is hashed.
func (c *SortCommand) reportUploader(ctx context.Context) (storage.Uploader, error) {
	up := c.uploader
	if up == nil {
		if !c.cfg.Report.S3.Enabled() {
			return nil, nil
		}
		s3c, err := storage.NewS3(ctx, c.cfg.Report.S3)
		if err != nil {
			return nil, err
		}
		up = s3c
	}
	if chk, ok := up.(storage.Checker); ok {
		if err := chk.Check(ctx); err != nil {
			return nil, fmt.Errorf("report upload destination: %w", err)
		}
	}
	return up, nil
}

func (c *SortCommand) publishReport(ctx context.Context, rep *report.Report, path string, up storage.Uploader) error {
	if err := rep.WriteFile(ctx, path); err != nil {
		return err
	}
	if c.out != nil {
		fmt.Fprintln(c.out, rep.Summary())
	}
	if up == nil {
		return nil
	}
	return rep.Upload(ctx, up, storage.Key(c.cfg.Report.KeyPrefix, filepath.Base(path)))
}
