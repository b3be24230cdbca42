package cli

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/romsort/internal/config"
)

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// logLevel maps the -v count; a level in the config file wins when no -v
// was given.
func logLevel(verbose int, configured string) string {
	switch {
	case verbose >= 2:
		return "debug"
	case verbose == 1:
		return "info"
	case configured != "":
		return configured
	}
	return "warn"
}

// setup loads the config file and initializes logging for one command.
func setup(flags *rootFlags) (*config.Config, error) {
	cfg, err := LoadConfig(flags.configPath)
	if err != nil {
		return nil, err
	}
	logger.Init(cfg.Log.File, logLevel(flags.verbose, cfg.Log.Level), 0, 0, 0, true)
	return cfg, nil
}
