// SPDX-License-Identifier: GPL-2.0-or-later

package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/memhier/simcore/lib/reqbuf"
)

func TestClassifyMatchAllowsWBDemandOnlyWithoutHierMSHR(t *testing.T) {
	t.Parallel()
	assert.Equal(t, matchWBRequestedBack, classifyMatch(reqbuf.WB, reqbuf.DFETCH, true, false))
	assert.Equal(t, noMatch, classifyMatch(reqbuf.WB, reqbuf.DFETCH, false, false))
}

func TestClassifyMatchRefusesWBDemandUnderHierMSHR(t *testing.T) {
	t.Parallel()
	// Per spec.md's Open Question on HIER_MSHR_ON: the exclusion applies
	// even when AllowWBDemandMatch is true.
	assert.Equal(t, noMatch, classifyMatch(reqbuf.WB, reqbuf.DFETCH, true, true))
	assert.Equal(t, noMatch, classifyMatch(reqbuf.WBNoDirty, reqbuf.DSTORE, true, true))
}
