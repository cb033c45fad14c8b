// SPDX-License-Identifier: GPL-2.0-or-later

package replacement_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/memhier/simcore/lib/replacement"
)

func lines(n int) []*replacement.LineMeta {
	ret := make([]*replacement.LineMeta, n)
	for i := range ret {
		ret[i] = &replacement.LineMeta{}
	}
	return ret
}

func TestLRUInvalidWaysWinImmediately(t *testing.T) {
	t.Parallel()
	e := replacement.NewEngine(replacement.LRU, nil)
	cands := lines(4)
	for _, m := range cands {
		e.OnInsert(m, 0, false, 10)
	}
	cands[2].Valid = false
	assert.Equal(t, 2, e.Victim(cands, 20))
}

func TestLRUPrefersOldestUntouchedPrefetch(t *testing.T) {
	t.Parallel()
	e := replacement.NewEngine(replacement.LRU, nil)
	cands := lines(3)
	e.OnInsert(cands[0], 0, false, 1)
	e.OnAccess(cands[0], 50) // most-recently touched: would not be picked by pure LRU
	e.OnInsert(cands[1], 0, true, 5)
	e.OnInsert(cands[2], 0, true, 3)

	assert.Equal(t, 2, e.Victim(cands, 60), "the older of two untouched prefetches is chosen; the demand line was touched most recently")
}

func TestLRUFallsBackToOldestAccess(t *testing.T) {
	t.Parallel()
	e := replacement.NewEngine(replacement.LRU, nil)
	cands := lines(3)
	e.OnInsert(cands[0], 0, false, 1)
	e.OnInsert(cands[1], 0, false, 2)
	e.OnInsert(cands[2], 0, false, 3)
	e.OnAccess(cands[0], 100)
	e.OnAccess(cands[1], 10)
	e.OnAccess(cands[2], 200)

	assert.Equal(t, 1, e.Victim(cands, 300))
}

func TestMRUFallsBackToNewestAccess(t *testing.T) {
	t.Parallel()
	e := replacement.NewEngine(replacement.MRU, nil)
	cands := lines(3)
	e.OnInsert(cands[0], 0, false, 1)
	e.OnInsert(cands[1], 0, false, 2)
	e.OnInsert(cands[2], 0, false, 3)
	e.OnAccess(cands[0], 100)
	e.OnAccess(cands[1], 10)
	e.OnAccess(cands[2], 200)

	assert.Equal(t, 2, e.Victim(cands, 300))
}

func TestSRRIPVictimSelectionTerminates(t *testing.T) {
	t.Parallel()
	e := replacement.NewEngine(replacement.SRRIP, nil)
	cands := lines(4)
	for i, m := range cands {
		e.OnInsert(m, 0, false, uint64(i))
	}
	// No RRPV==max yet (all set to RRPVMax-1 on insert); selection must age
	// the whole set and terminate within RRPVMax rounds.
	v := e.Victim(cands, 10)
	assert.GreaterOrEqual(t, v, 0)
	assert.Less(t, v, len(cands))
	assert.Equal(t, uint8(replacement.RRPVMax), cands[v].RRPV)
}

func TestSRRIPAccessResetsRRPV(t *testing.T) {
	t.Parallel()
	e := replacement.NewEngine(replacement.SRRIP, nil)
	cands := lines(2)
	e.OnInsert(cands[0], 0, false, 0)
	e.OnInsert(cands[1], 0, false, 0)
	e.OnAccess(cands[0], 5)
	assert.Equal(t, uint8(0), cands[0].RRPV)

	// cands[1] still at RRPVMax-1; aging should pick it well before cands[0]
	// (which just got reset to 0) catches back up.
	v := e.Victim(cands, 6)
	assert.Equal(t, 1, v)
}
