// Package scan turns input patterns into hashed files, patches and a
// lookup index.
package scan

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/xxxsen/romsort/internal/config"
)

// Path is an expanded input file and the non-glob base it came from.
type Path struct {
	Path      string
	InputRoot string
}

// ExpandPaths resolves files, directories and globs into regular files.
// Directories are walked recursively and symlinks are followed by stat.
// A pattern that matches nothing is a configuration error.
func ExpandPaths(patterns []string) ([]Path, error) {
	var out []Path
	seen := make(map[string]bool)
	add := func(p, root string) {
		p = filepath.Clean(p)
		if seen[p] {
			return
		}
		seen[p] = true
		out = append(out, Path{Path: p, InputRoot: root})
	}
	for _, pattern := range patterns {
		matched, err := expandPattern(pattern)
		if err != nil {
			return nil, err
		}
		if len(matched) == 0 {
			return nil, config.Errorf("path doesn't exist: %s", pattern)
		}
		for _, m := range matched {
			add(m.Path, m.InputRoot)
		}
	}
	return out, nil
}

func expandPattern(pattern string) ([]Path, error) {
	if st, err := os.Stat(pattern); err == nil {
		if !st.IsDir() {
			return []Path{{Path: pattern, InputRoot: filepath.Dir(pattern)}}, nil
		}
		files, err := walkDir(pattern)
		if err != nil {
			return nil, err
		}
		return withRoot(files, filepath.Clean(pattern)), nil
	}

	base, _ := doublestar.SplitPattern(filepath.ToSlash(pattern))
	root := filepath.Clean(filepath.FromSlash(base))
	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return nil, config.Errorf("bad input pattern %s: %w", pattern, err)
	}
	var files []string
	for _, m := range matches {
		st, err := os.Stat(m)
		if err != nil {
			continue
		}
		if !st.IsDir() {
			files = append(files, m)
			continue
		}
		walked, err := walkDir(m)
		if err != nil {
			return nil, err
		}
		files = append(files, walked...)
	}
	sort.Strings(files)
	return withRoot(files, root), nil
}

func withRoot(files []string, root string) []Path {
	out := make([]Path, 0, len(files))
	for _, f := range files {
		out = append(out, Path{Path: f, InputRoot: root})
	}
	return out
}

func walkDir(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrPermission) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		st, err := os.Stat(p)
		if err != nil || st.IsDir() {
			return nil
		}
		files = append(files, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
