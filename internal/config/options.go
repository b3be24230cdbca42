package config

import (
	"path/filepath"
	"runtime"
	"strings"
)

// Command is one of the positional pipeline commands.
type Command string

const (
	CommandCopy   Command = "copy"
	CommandMove   Command = "move"
	CommandZip    Command = "zip"
	CommandTest   Command = "test"
	CommandClean  Command = "clean"
	CommandReport Command = "report"
)

var knownCommands = map[Command]bool{
	CommandCopy: true, CommandMove: true, CommandZip: true,
	CommandTest: true, CommandClean: true, CommandReport: true,
}

// AllExtensions is the --remove-headers value used when the flag is given
// without a list.
const AllExtensions = "*"

// Options is the run configuration produced by the command line.
type Options struct {
	Commands []Command

	DAT    []string
	Input  []string
	Patch  []string
	Output string

	DirMirror         bool
	DirDatName        bool
	DirDatDescription bool
	DirLetter         bool
	DirLetterPinyin   bool

	// RemoveHeaders is nil when unset; a single empty string means every extension.
	RemoveHeaders []string

	LanguageFilter []string
	RegionFilter   []string
	OnlyBios       bool
	NoBios         bool
	OnlyRetail     bool
	NoUnlicensed   bool
	NoDemo         bool
	NoBeta         bool
	NoSample       bool
	NoPrototype    bool
	NoTestRoms     bool
	NoAftermarket  bool
	NoHomebrew     bool
	NoUnverified   bool
	NoBad          bool

	PreferVerified      bool
	PreferGood          bool
	PreferLanguages     []string
	PreferRegions       []string
	PreferRevisionNewer bool
	PreferRevisionOlder bool
	PreferRetail        bool
	PreferParent        bool
	Single              bool

	Threads      int
	Verbose      int
	ReportOutput string
	CleanDryRun  bool
	NoProgress   bool
}

// ParseCommands validates positional command names.
func ParseCommands(args []string) ([]Command, error) {
	cmds := make([]Command, 0, len(args))
	seen := make(map[Command]bool, len(args))
	for _, a := range args {
		c := Command(strings.ToLower(strings.TrimSpace(a)))
		if !knownCommands[c] {
			return nil, Errorf("unknown command %q", a)
		}
		if seen[c] {
			continue
		}
		seen[c] = true
		cmds = append(cmds, c)
	}
	return cmds, nil
}

// Has reports whether the command was requested.
func (o *Options) Has(c Command) bool {
	for _, x := range o.Commands {
		if x == c {
			return true
		}
	}
	return false
}

// Writes reports whether any command produces output files.
func (o *Options) Writes() bool {
	return o.Has(CommandCopy) || o.Has(CommandMove)
}

// Normalize fills defaults and uppercases filter values.
func (o *Options) Normalize() {
	if o.Threads <= 0 {
		o.Threads = runtime.NumCPU()
	}
	o.LanguageFilter = upperAll(o.LanguageFilter)
	o.RegionFilter = upperAll(o.RegionFilter)
	o.PreferLanguages = upperAll(o.PreferLanguages)
	o.PreferRegions = upperAll(o.PreferRegions)
	if o.RemoveHeaders != nil {
		exts := make([]string, 0, len(o.RemoveHeaders))
		for _, ext := range o.RemoveHeaders {
			ext = strings.TrimSpace(ext)
			if ext == "" || ext == AllExtensions {
				exts = []string{""}
				break
			}
			exts = append(exts, ext)
		}
		if len(exts) == 0 {
			exts = []string{""}
		}
		o.RemoveHeaders = exts
	}
}

func upperAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks option combinations. Violations are configuration errors.
func (o *Options) Validate() error {
	if len(o.Commands) == 0 {
		return NewError("at least one command is required (copy, move, zip, test, clean, report)")
	}
	if o.Has(CommandCopy) && o.Has(CommandMove) {
		return NewError("copy and move can't be used together")
	}
	for _, c := range []Command{CommandZip, CommandTest, CommandClean} {
		if o.Has(c) && !o.Writes() {
			return Errorf("%s requires copy or move", c)
		}
	}
	if len(o.Input) == 0 {
		return NewError("--input is required")
	}
	if o.Writes() && strings.TrimSpace(o.Output) == "" {
		return NewError("--output is required when writing")
	}
	if o.OnlyBios && o.NoBios {
		return NewError("--only-bios and --no-bios can't be used together")
	}
	if o.PreferRevisionNewer && o.PreferRevisionOlder {
		return NewError("--prefer-revision-newer and --prefer-revision-older can't be used together")
	}
	if o.Has(CommandClean) {
		root, err := filepath.Abs(OutputRoot(o.Output))
		if err != nil {
			return Errorf("resolve output root: %w", err)
		}
		if root == filepath.Dir(root) {
			return Errorf("refusing to clean filesystem root %s", root)
		}
	}
	return nil
}

// CanRemoveHeader reports whether headers may be stripped for files of the
// given extension when matched against the named catalog.
func (o *Options) CanRemoveHeader(catalogName, ext string) bool {
	lower := strings.ToLower(catalogName)
	if strings.Contains(lower, "(headered)") {
		return false
	}
	if strings.Contains(lower, "(headerless)") {
		return true
	}
	if o.RemoveHeaders == nil {
		return false
	}
	if len(o.RemoveHeaders) == 1 && o.RemoveHeaders[0] == "" {
		return true
	}
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	for _, e := range o.RemoveHeaders {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

// OutputRoot is the part of an output template before its first token.
func OutputRoot(template string) string {
	template = filepath.Clean(filepath.FromSlash(strings.TrimSpace(template)))
	if template == "." {
		return "."
	}
	parts := strings.Split(template, string(filepath.Separator))
	kept := make([]string, 0, len(parts))
	for i, p := range parts {
		if strings.Contains(p, "{") {
			break
		}
		if p == "" && i == 0 {
			kept = append(kept, string(filepath.Separator))
			continue
		}
		kept = append(kept, p)
	}
	if len(kept) == 0 {
		return "."
	}
	return filepath.Join(kept...)
}
