package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/romsort/internal/config"
	"github.com/xxxsen/romsort/internal/patch"
	"github.com/xxxsen/romsort/internal/romfile"
	"github.com/xxxsen/romsort/internal/tempdir"
	"go.uber.org/zap"
)

// PatchCommand applies one patch file to one ROM.
type PatchCommand struct {
	patchPath  string
	inputPath  string
	outputPath string
	force      bool

	crcAfter string
	size     int64
}

func init() {
	RegisterRunner("patch", func() IRunner { return NewPatchCommand() })
}

func NewPatchCommand() *PatchCommand {
	return &PatchCommand{}
}

func (c *PatchCommand) Name() string { return "patch" }

func (c *PatchCommand) Desc() string { return "Apply a single patch file to a ROM" }

func (c *PatchCommand) Init(fst *pflag.FlagSet) {
	fst.StringVarP(&c.patchPath, "patch", "p", "", "patch file")
	fst.StringVarP(&c.inputPath, "input", "i", "", "source ROM")
	fst.StringVarP(&c.outputPath, "output", "o", "", "patched ROM")
	fst.BoolVar(&c.force, "force", false, "apply even when the source CRC does not match the patch")
}

func (c *PatchCommand) PreRun(ctx context.Context) error {
	if c.patchPath == "" || c.inputPath == "" || c.outputPath == "" {
		return config.NewError("patch requires --patch, --input and --output")
	}
	if _, ok := patch.DetectFormat(c.patchPath); !ok {
		return config.Errorf("unknown patch format: %s", c.patchPath)
	}
	if filepath.Clean(c.inputPath) == filepath.Clean(c.outputPath) {
		return config.NewError("--output must differ from --input")
	}
	return nil
}

func (c *PatchCommand) Run(ctx context.Context) error {
	logger := logutil.GetLogger(ctx).With(zap.String("patch", c.patchPath), zap.String("input", c.inputPath))
	if _, err := tempdir.Init(ctx, ""); err != nil {
		return err
	}
	defer tempdir.Cleanup(ctx)

	p, err := patch.FromPath(ctx, c.patchPath)
	if err != nil {
		return err
	}
	crc, _, err := romfile.HashFile(c.inputPath)
	if err != nil {
		return fmt.Errorf("hash source %s: %w", c.inputPath, err)
	}
	if p.CRCBefore != "" && p.CRCBefore != crc {
		if !c.force {
			return fmt.Errorf("source crc %s does not match patch crc %s", crc, p.CRCBefore)
		}
		logger.Warn("source crc mismatch, applying anyway", zap.String("want", p.CRCBefore), zap.String("got", crc))
	}

	if err := os.MkdirAll(filepath.Dir(c.outputPath), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	return p.ApplyFile(ctx, &romfile.File{Path: c.inputPath}, false, func(path string) error {
		gotCRC, size, err := romfile.HashFile(path)
		if err != nil {
			return err
		}
		if p.CRCAfter != "" && p.CRCAfter != gotCRC {
			return fmt.Errorf("patched crc %s does not match expected %s", gotCRC, p.CRCAfter)
		}
		if err := copyThroughTemp(path, c.outputPath); err != nil {
			return err
		}
		c.crcAfter, c.size = gotCRC, size
		return nil
	})
}

func (c *PatchCommand) PostRun(ctx context.Context) error {
	logutil.GetLogger(ctx).Info("patch applied", zap.String("output", c.outputPath),
		zap.String("crc", c.crcAfter), zap.Int64("size", c.size))
	return nil
}

// Result returns the CRC32 and size of the written ROM.
func (c *PatchCommand) Result() (string, int64) {
	return c.crcAfter, c.size
}

func copyThroughTemp(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	tmp := filepath.Join(filepath.Dir(dst), ".romsort-"+uuid.NewString()+".tmp")
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp output: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("write temp output: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename output: %w", err)
	}
	return nil
}
