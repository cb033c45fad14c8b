// SPDX-License-Identifier: GPL-2.0-or-later

package cache_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memhier/simcore/lib/cache"
	"github.com/memhier/simcore/lib/replacement"
)

func newTestCache(t *testing.T, policy replacement.Policy) *cache.Cache[int] {
	t.Helper()
	engine := replacement.NewEngine(policy, nil)
	c, err := cache.New[int](cache.Config{
		Name:     "test",
		Capacity: 1024,
		Assoc:    4,
		LineSize: 64,
		Policy:   policy,
	}, engine)
	require.NoError(t, err)
	return c
}

func TestInsertThenAccessHits(t *testing.T) {
	t.Parallel()
	c := newTestCache(t, replacement.LRU)

	_, _, _, _ = c.Insert(0, 0x1000, false, 42, 1)
	hit, data, ca := c.Access(0, 0x1000, 2)
	assert.True(t, hit)
	assert.Equal(t, 42, data)
	assert.True(t, ca.Valid)
}

func TestInvalidateThenAccessMisses(t *testing.T) {
	t.Parallel()
	c := newTestCache(t, replacement.LRU)

	c.Insert(0, 0x2000, false, 7, 1)
	hit, _, _ := c.Invalidate(0x2000)
	require.True(t, hit)

	hit, _, _ = c.Access(0, 0x2000, 2)
	assert.False(t, hit)
}

func TestProbeDoesNotAffectFutureVictim(t *testing.T) {
	t.Parallel()
	c := newTestCache(t, replacement.LRU)

	// Fill all 4 ways of the set for 0x0.
	for i := 0; i < 4; i++ {
		addr := uint64(i) << 8 // distinct tags, same set (index 0)
		c.Insert(0, addr, false, i, uint64(i+1))
	}

	// Way 0 (tag 0) would be the LRU victim next. Probing it must not
	// change that.
	c.Probe(0)
	_, data, _ := c.PeekVictim(0, 0)
	assert.Equal(t, 0, data)
}

func TestFillIntoFullSetEvictsExactlyOneLine(t *testing.T) {
	t.Parallel()
	c := newTestCache(t, replacement.LRU)

	for i := 0; i < 4; i++ {
		addr := uint64(i) << 8
		c.Insert(0, addr, false, 100+i, uint64(i+1))
	}
	evictedValid, _, evictedData, ca := c.Insert(0, uint64(4)<<8, false, 999, 10)
	require.True(t, evictedValid)
	assert.Equal(t, 100, evictedData) // way 0 had the smallest access_cycle
	assert.True(t, ca.Valid)

	hit, data, _ := c.Access(0, uint64(4)<<8, 11)
	assert.True(t, hit)
	assert.Equal(t, 999, data)
}

func TestTrueLRUPrefersOldestPrefetchOnEviction(t *testing.T) {
	t.Parallel()
	c := newTestCache(t, replacement.LRU)

	c.Insert(0, uint64(0)<<8, false, 0, 1)
	c.Insert(0, uint64(1)<<8, true, 1, 2) // prefetch, untouched
	c.Insert(0, uint64(2)<<8, false, 2, 3)
	c.Insert(0, uint64(3)<<8, false, 3, 4)

	// Way 0 is the oldest by access_cycle, but way 1 is an
	// untouched prefetch and must be preferred as victim.
	_, data := dataAtVictim(c, 0)
	assert.Equal(t, 1, data)
}

func dataAtVictim(c *cache.Cache[int], addr uint64) (cache.Address, int) {
	data, ca := c.PeekVictim(0, addr)
	return ca, data
}

func TestPartitionRestrictsVictimToOwnedWays(t *testing.T) {
	t.Parallel()
	c := newTestCache(t, replacement.LRU)

	for i := 0; i < 4; i++ {
		c.Insert(0, uint64(i)<<8, false, i, uint64(i+1))
	}
	// Restrict proc 0 to ways {2,3} only; way 0 (globally oldest) must not
	// be selected as victim for proc 0 anymore.
	c.SetPartition(0, []int{2, 3})
	_, ca := dataAtVictim(c, 0)
	assert.Contains(t, []int{2, 3}, ca.Way)
}

func TestConfigRejectsNonPowerOfTwo(t *testing.T) {
	t.Parallel()
	_, err := cache.New[int](cache.Config{
		Name:     "bad",
		Capacity: 1000, // not a power of two
		Assoc:    4,
		LineSize: 64,
	}, replacement.NewEngine(replacement.LRU, nil))
	assert.Error(t, err)
}

func TestBankPortsOversubscriptionFails(t *testing.T) {
	t.Parallel()
	p := cache.NewBankPorts(1, 1, 1)
	assert.True(t, p.GetReadPort(0))
	assert.False(t, p.GetReadPort(0))
	p.EndCycle()
	assert.True(t, p.GetReadPort(0))
}
