// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"os"

	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/memhier/simcore/lib/cliutil"
)

type logLevelFlag struct {
	logrus.Level
}

func (lvl *logLevelFlag) Type() string { return "loglevel" }
func (lvl *logLevelFlag) Set(str string) error {
	var err error
	lvl.Level, err = logrus.ParseLevel(str)
	return err
}

func (lvl *logLevelFlag) String() string { return lvl.Level.String() }

var _ pflag.Value = (*logLevelFlag)(nil)

var verbosity = logLevelFlag{Level: logrus.InfoLevel}

// withLogging wraps a subcommand's RunE with the dlog/dgroup plumbing
// every subcommand shares: a logrus-backed dlog.Logger at the configured
// verbosity, and a dgroup supervising the command's own "main" goroutine
// plus signal handling, mirroring cmd/btrfs-rec/main.go's subcommand
// wrapper. The simulator core itself never sees this group: it stays
// single-threaded, driven synchronously inside the "main" goroutine.
func withLogging(run func(ctx context.Context, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := logrus.New()
		logger.SetLevel(verbosity.Level)
		ctx = dlog.WithLogger(ctx, dlog.WrapLogrus(logger))

		grp := dgroup.NewGroup(ctx, dgroup.GroupConfig{
			EnableSignalHandling: true,
		})
		grp.Go("main", func(ctx context.Context) error {
			return run(ctx, cmd, args)
		})
		return grp.Wait()
	}
}

func main() {
	argparser := &cobra.Command{
		Use:   "memsim {[flags]|SUBCOMMAND}",
		Short: "Cycle-level on-chip memory hierarchy simulator core",

		Args: cliutil.WrapPositionalArgs(cliutil.OnlySubcommands),
		RunE: cliutil.RunSubcommands,

		SilenceErrors: true,
		SilenceUsage:  true,

		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	argparser.SetFlagErrorFunc(cliutil.FlagErrorFunc)
	argparser.PersistentFlags().Var(&verbosity, "verbosity", "set the log verbosity (panic|fatal|error|warn|info|debug|trace)")

	argparser.AddCommand(newRunCommand())
	argparser.AddCommand(newExplainPartitionCommand())

	if err := argparser.ExecuteContext(context.Background()); err != nil {
		dlog.Errorf(context.Background(), "memsim: %v", err)
		os.Exit(1)
	}
}
