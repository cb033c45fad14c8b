// SPDX-License-Identifier: GPL-2.0-or-later

package queue_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memhier/simcore/lib/queue"
	"github.com/memhier/simcore/lib/reqbuf"
)

func TestFIFOOrderIsInsertionOrder(t *testing.T) {
	t.Parallel()
	q := queue.New("t", 4, true)
	require.True(t, q.Insert(10, 0))
	require.True(t, q.Insert(11, 0))
	require.True(t, q.Insert(12, 0))
	q.SortIfDirty()
	assert.Equal(t, []int{10, 11, 12}, q.IDs())
}

func TestPriorityOrderSortsAscending(t *testing.T) {
	t.Parallel()
	q := queue.New("t", 4, false)
	require.True(t, q.Insert(10, 5))
	require.True(t, q.Insert(11, 1))
	require.True(t, q.Insert(12, 3))
	q.SortIfDirty()
	assert.Equal(t, []int{11, 12, 10}, q.IDs())
}

func TestPriorityTiesAreStableByInsertionOrder(t *testing.T) {
	t.Parallel()
	q := queue.New("t", 4, false)
	require.True(t, q.Insert(10, 5))
	require.True(t, q.Insert(11, 5))
	require.True(t, q.Insert(12, 5))
	q.SortIfDirty()
	assert.Equal(t, []int{10, 11, 12}, q.IDs())
}

func TestCapacityInvariantRejectsOverflow(t *testing.T) {
	t.Parallel()
	q := queue.New("t", 2, true)
	require.True(t, q.Insert(1, 0))
	require.True(t, q.Insert(2, 0))
	assert.False(t, q.Insert(3, 0))
}

func TestReserveCountsAgainstCapacity(t *testing.T) {
	t.Parallel()
	q := queue.New("t", 2, true)
	q.Reserve(1)
	require.True(t, q.Insert(1, 0))
	assert.False(t, q.Insert(2, 0), "entry_count + reserved must stay <= size")
}

func TestRemoveThenWalkSkipsRemovedEntries(t *testing.T) {
	t.Parallel()
	q := queue.New("t", 4, true)
	q.Insert(1, 0)
	q.Insert(2, 0)
	q.Insert(3, 0)

	var seen []int
	q.Walk(func(id int) {
		seen = append(seen, id)
		if id == 2 {
			q.Remove(3)
		}
	})
	assert.Equal(t, []int{1, 2}, seen)
	assert.False(t, q.Contains(3))
}

func TestUpdatePriorityNoOpUnderFIFO(t *testing.T) {
	t.Parallel()
	q := queue.New("t", 4, true)
	q.Insert(1, 0)
	assert.False(t, q.UpdatePriority(1, 99))
}

func TestFindKickoutVictimPrefersOldestWorsePriorityPrefetch(t *testing.T) {
	t.Parallel()
	pool := reqbuf.NewPool(reqbuf.PoolConfig{EntriesPerCore: 8, NumCores: 1})
	demand, _ := pool.Alloc(0, reqbuf.DFETCH, false)
	demand.Priority = 1
	demand.StartCycle = 5

	oldPref, _ := pool.Alloc(0, reqbuf.DPRF, false)
	oldPref.Priority = 10
	oldPref.StartCycle = 1

	newPref, _ := pool.Alloc(0, reqbuf.DPRF, false)
	newPref.Priority = 10
	newPref.StartCycle = 2

	q := queue.New("MLC", 8, false)
	q.Insert(demand.ID, demand.Priority)
	q.Insert(oldPref.ID, oldPref.Priority)
	q.Insert(newPref.ID, newPref.Priority)

	id, ok := queue.FindKickoutVictim([]*queue.Queue{q}, pool, 2, queue.ScopeAll, 0, nil)
	require.True(t, ok)
	assert.Equal(t, oldPref.ID, id)
}

func TestFindKickoutVictimIgnoresRequestsPastMemWait(t *testing.T) {
	t.Parallel()
	pool := reqbuf.NewPool(reqbuf.PoolConfig{EntriesPerCore: 8, NumCores: 1})
	pref, _ := pool.Alloc(0, reqbuf.DPRF, false)
	pref.Priority = 10
	pref.StartCycle = 1
	pref.State = reqbuf.StateMemWait

	q := queue.New("BUS_OUT", 8, false)
	q.Insert(pref.ID, pref.Priority)

	_, ok := queue.FindKickoutVictim([]*queue.Queue{q}, pool, 2, queue.ScopeAll, 0, nil)
	assert.False(t, ok)
}
