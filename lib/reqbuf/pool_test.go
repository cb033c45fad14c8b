// SPDX-License-Identifier: GPL-2.0-or-later

package reqbuf_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memhier/simcore/lib/reqbuf"
)

func smallPool() *reqbuf.Pool {
	return reqbuf.NewPool(reqbuf.PoolConfig{
		EntriesPerCore: 8,
		NumCores:       1,
		PrefWatermark:  2,
		WBValve:        1,
	})
}

func TestAllocFreeRoundTrip(t *testing.T) {
	t.Parallel()
	p := smallPool()
	r, ok := p.Alloc(0, reqbuf.DFETCH, false)
	require.True(t, ok)
	assert.Equal(t, reqbuf.DFETCH, r.Type)
	assert.Equal(t, 7, p.FreeCount())

	p.Free(r.ID)
	assert.Equal(t, 8, p.FreeCount())
	require.NoError(t, p.CheckInvariant())
}

func TestPrefetchDeniedAtWatermark(t *testing.T) {
	t.Parallel()
	p := smallPool() // total 8, pref watermark 2

	// Drain until only 2 free remain.
	for i := 0; i < 6; i++ {
		_, ok := p.Alloc(0, reqbuf.DFETCH, false)
		require.True(t, ok)
	}
	require.Equal(t, 2, p.FreeCount())

	_, ok := p.Alloc(0, reqbuf.DPRF, false)
	assert.False(t, ok, "prefetch must be denied once free_slots <= PREF_WATERMARK")

	_, ok = p.Alloc(0, reqbuf.DFETCH, false)
	assert.True(t, ok, "demand requests are not subject to the prefetch watermark")
}

func TestNonWritebackDeniedAtWBValve(t *testing.T) {
	t.Parallel()
	p := smallPool() // wb valve 1

	for i := 0; i < 7; i++ {
		_, ok := p.Alloc(0, reqbuf.DFETCH, false)
		require.True(t, ok)
	}
	require.Equal(t, 1, p.FreeCount())

	_, ok := p.Alloc(0, reqbuf.DSTORE, false)
	assert.False(t, ok)

	_, ok = p.Alloc(0, reqbuf.WB, false)
	assert.True(t, ok, "write-backs are exempt from the WB valve")
}

func TestDoubleFreePanics(t *testing.T) {
	t.Parallel()
	p := smallPool()
	r, _ := p.Alloc(0, reqbuf.DFETCH, false)
	p.Free(r.ID)
	assert.Panics(t, func() { p.Free(r.ID) })
}

func TestPrivateMSHRPerCoreOccupancy(t *testing.T) {
	t.Parallel()
	p := reqbuf.NewPool(reqbuf.PoolConfig{
		EntriesPerCore: 4,
		NumCores:       2,
		PrivateMSHR:    true,
		PrefWatermark:  1,
	})
	assert.Equal(t, 8, p.Total())

	for i := 0; i < 3; i++ {
		_, ok := p.Alloc(0, reqbuf.DFETCH, false)
		require.True(t, ok)
	}
	// core 0 now has 3/4 in use; a prefetch would push it to the
	// watermark boundary and should be denied, independent of core 1's
	// occupancy.
	_, ok := p.Alloc(0, reqbuf.DPRF, false)
	assert.False(t, ok)

	_, ok = p.Alloc(1, reqbuf.DPRF, false)
	assert.True(t, ok, "core 1's occupancy is independent of core 0's")
}

func TestResetClearsStaleFieldsOnReuse(t *testing.T) {
	t.Parallel()
	p := smallPool()
	r, _ := p.Alloc(0, reqbuf.DFETCH, false)
	r.Addr = 0xdeadbeef
	r.OffPath = true
	id := r.ID
	p.Free(id)

	// Drain the rest of the free stack until id is reallocated.
	var got *reqbuf.MemReq
	for i := 0; i < 8; i++ {
		req, ok := p.Alloc(0, reqbuf.DFETCH, false)
		if !ok {
			break
		}
		if req.ID == id {
			got = req
			break
		}
	}
	require.NotNil(t, got)
	assert.Equal(t, uint64(0), got.Addr)
	assert.False(t, got.OffPath)
}
