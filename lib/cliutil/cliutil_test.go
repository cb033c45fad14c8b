// SPDX-License-Identifier: GPL-2.0-or-later

package cliutil_test

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"

	"github.com/memhier/simcore/lib/cliutil"
)

func newParentWithChild() *cobra.Command {
	parent := &cobra.Command{Use: "parent"}
	parent.AddCommand(&cobra.Command{Use: "child"})
	return parent
}

func TestWrapPositionalArgsAllowsNoArgs(t *testing.T) {
	t.Parallel()
	wrapped := cliutil.WrapPositionalArgs(cliutil.OnlySubcommands)
	assert.NoError(t, wrapped(newParentWithChild(), nil))
}

func TestOnlySubcommandsAcceptsKnownChild(t *testing.T) {
	t.Parallel()
	assert.NoError(t, cliutil.OnlySubcommands(newParentWithChild(), []string{"child"}))
}

func TestOnlySubcommandsRejectsUnknownChild(t *testing.T) {
	t.Parallel()
	assert.Error(t, cliutil.OnlySubcommands(newParentWithChild(), []string{"bogus"}))
}

func TestFlagErrorFuncWrapsUnderlyingError(t *testing.T) {
	t.Parallel()
	cmd := &cobra.Command{Use: "memsim"}
	err := cliutil.FlagErrorFunc(cmd, assert.AnError)
	assert.ErrorIs(t, err, assert.AnError)
}
