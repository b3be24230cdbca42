package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xxxsen/romsort/internal/config"
)

func TestLogLevel(t *testing.T) {
	assert.Equal(t, "warn", logLevel(0, ""))
	assert.Equal(t, "error", logLevel(0, "error"))
	assert.Equal(t, "info", logLevel(1, "error"))
	assert.Equal(t, "debug", logLevel(3, ""))
}

func TestRootRegistersSubcommands(t *testing.T) {
	root := NewRootCommand()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"patch", "header", "dat-info"})
	assert.NotNil(t, root.Flags().Lookup("dat"))
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
	assert.Equal(t, config.AllExtensions, root.Flags().Lookup("remove-headers").NoOptDefVal)
}

func TestRootConfigErrors(t *testing.T) {
	cases := [][]string{
		{"shuffle", "--input", "x"},
		{"copy", "--no-such-flag"},
		{"copy", "move", "--input", "x", "--output", "y"},
		{"copy", "--config", filepath.Join(t.TempDir(), "missing.json")},
	}
	for _, args := range cases {
		root := NewRootCommand()
		root.SetArgs(args)
		err := root.ExecuteContext(context.Background())
		require.Error(t, err, args)
		assert.True(t, config.IsError(err), "%v: %v", args, err)
	}
}

func TestLoadConfigExplicit(t *testing.T) {
	p := filepath.Join(t.TempDir(), "romsort.toml")
	require.NoError(t, os.WriteFile(p, []byte("threads = 3\n[log]\nlevel = \"info\"\n"), 0o644))
	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Threads)
	assert.Equal(t, "info", cfg.Log.Level)
}
