package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/bdobrica/glum/common/environment"
	"github.com/bdobrica/glum/common/version"
	"github.com/bdobrica/glum/internal/glum/observability"
)

type rootOptions struct {
	logLevel  string
	logFormat string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:          version.Name,
		Short:        "glum - persona chat relay between messaging platforms and a language model",
		Long:         "glum answers chat messages in the voice of configured personas, keeping a transcript per thread.",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			observability.Setup(opts.logLevel, opts.logFormat, cmd.ErrOrStderr())
		},
	}
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", environment.StringOr("LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", environment.StringOr("LOG_FORMAT", "text"), "log format (text, json)")

	run := newRunCmd()
	cmd.RunE = run.RunE
	cmd.Flags().AddFlagSet(run.Flags())

	cmd.AddCommand(run)
	cmd.AddCommand(newPersonasCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(version.Info())
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
