package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/romsort/internal/app"
	"github.com/xxxsen/romsort/internal/config"
	"go.uber.org/zap"
)

type rootFlags struct {
	configPath string
	verbose    int
}

// NewRootCommand builds the command tree. The root runs the sort pipeline
// with its positional commands; registered runners become subcommands.
func NewRootCommand() *cobra.Command {
	flags := &rootFlags{}
	sorter := app.NewSortCommand()
	root := &cobra.Command{
		Use:           "romsort [copy|move|zip|test|clean|report]... [flags]",
		Short:         "Sort, patch and verify ROM collections against DAT files",
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(flags)
			if err != nil {
				return err
			}
			sorter.SetConfig(cfg)
			sorter.Options().Verbose = flags.verbose
			if err := sorter.SetCommands(args); err != nil {
				return err
			}
			return runRunner(commandContext(cmd), sorter)
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return config.Errorf("%v", err)
	})
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file (json or toml)")
	root.PersistentFlags().CountVarP(&flags.verbose, "verbose", "v", "more logging, repeatable")
	sorter.Init(root.Flags())

	for _, name := range app.RunnerList() {
		runner := app.MustResolveRunner(name)
		subcmd := &cobra.Command{
			Use:   runner.Name(),
			Short: runner.Desc(),
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if _, err := setup(flags); err != nil {
					return err
				}
				return runRunner(commandContext(cmd), runner)
			},
		}
		runner.Init(subcmd.Flags())
		root.AddCommand(subcmd)
	}
	return root
}

// Execute runs the CLI until it finishes or SIGINT/SIGTERM cancels it.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	root := NewRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		logutil.GetLogger(ctx).Error("exec cmd failed", zap.Error(err))
		return err
	}
	return nil
}

func runRunner(ctx context.Context, runner app.IRunner) error {
	if err := runner.PreRun(ctx); err != nil {
		return err
	}
	if err := runner.Run(ctx); err != nil {
		return err
	}
	return runner.PostRun(ctx)
}
