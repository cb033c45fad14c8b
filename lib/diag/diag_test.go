// SPDX-License-Identifier: GPL-2.0-or-later

package diag_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/memhier/simcore/lib/diag"
)

func TestDumpIncludesLabelAndFields(t *testing.T) {
	t.Parallel()
	type sample struct {
		ID    int
		Name  string
		inner *sample
	}
	out := diag.Dump("offending request", sample{ID: 7, Name: "wb"})
	assert.True(t, strings.Contains(out, "offending request"))
	assert.True(t, strings.Contains(out, "ID"))
	assert.True(t, strings.Contains(out, "7"))
}

func TestFatalfPanicsWithDump(t *testing.T) {
	t.Parallel()
	defer func() {
		r := recover()
		assert.NotNil(t, r)
		msg, ok := r.(error)
		assert.True(t, ok)
		assert.True(t, strings.Contains(msg.Error(), "state in an impossible context"))
	}()
	diag.Fatalf("offending request", 42, "state in an impossible context")
}
