// SPDX-License-Identifier: GPL-2.0-or-later

// Package cliutil holds the small cobra/pflag helpers cmd/memsim's command
// tree shares: positional-argument validators for "either flags or exactly
// one subcommand" commands, a bare-parent RunE, and a flag-error formatter,
// matching the shape (if not the import path) of the cliutil helpers
// cmd/btrfs-rec builds its own command tree on.
package cliutil

import (
	"fmt"

	"github.com/spf13/cobra"
)

// OnlySubcommands is a cobra.PositionalArgs that accepts a first positional
// argument naming one of cmd's subcommands and rejects anything else, for a
// parent command whose only job is dispatching to a subcommand.
func OnlySubcommands(cmd *cobra.Command, args []string) error {
	for _, sub := range cmd.Commands() {
		if sub.Name() == args[0] {
			return nil
		}
	}
	return fmt.Errorf("unknown command %q for %q", args[0], cmd.CommandPath())
}

// WrapPositionalArgs adapts a cobra.PositionalArgs so it is only consulted
// when there is at least one positional argument, letting a bare
// "cmd --flag" invocation (no args at all) fall through to cmd.RunE
// instead of being rejected by an args validator meant for subcommand
// dispatch.
func WrapPositionalArgs(f cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return nil
		}
		return f(cmd, args)
	}
}

// RunSubcommands is the RunE for a dispatch-only parent command: if
// control reaches it at all (no subcommand matched and consumed the run),
// it means the user ran the bare command with no subcommand, so it prints
// the command's help and returns whatever cmd.Help returns.
func RunSubcommands(cmd *cobra.Command, args []string) error {
	return cmd.Help()
}

// FlagErrorFunc formats a flag-parsing error consistently and marks usage
// for display, since the root command sets SilenceUsage and expects
// flag errors to print usage themselves.
func FlagErrorFunc(cmd *cobra.Command, err error) error {
	return fmt.Errorf("%s: %w\n\n%s", cmd.CommandPath(), err, cmd.UsageString())
}
