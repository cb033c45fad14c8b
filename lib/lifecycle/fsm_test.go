// SPDX-License-Identifier: GPL-2.0-or-later

package lifecycle_test

import (
	"context"
	"testing"

	"github.com/datawire/dlib/dlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memhier/simcore/lib/cache"
	"github.com/memhier/simcore/lib/lifecycle"
	"github.com/memhier/simcore/lib/queue"
	"github.com/memhier/simcore/lib/reqbuf"
	"github.com/memhier/simcore/lib/replacement"
)

// stubDRAM accepts every request and completes it latency cycles later.
type stubDRAM struct {
	fsm     *lifecycle.FSM
	pending []*reqbuf.MemReq
	latency uint64
}

func (d *stubDRAM) Send(now uint64, req *reqbuf.MemReq) bool {
	req.RdyCycle = now + d.latency
	d.pending = append(d.pending, req)
	return true
}

func (d *stubDRAM) Tick(now uint64) {
	var remaining []*reqbuf.MemReq
	for _, req := range d.pending {
		if req.RdyCycle <= now {
			d.fsm.CompleteFromDRAM(context.Background(), req, now)
		} else {
			remaining = append(remaining, req)
		}
	}
	d.pending = remaining
}

func smallL1(t *testing.T) *cache.Cache[lifecycle.LineData] {
	t.Helper()
	eng := replacement.NewEngine(replacement.LRU, nil)
	c, err := cache.New[lifecycle.LineData](cache.Config{
		Name: "L1", Capacity: 4 * 64, Assoc: 2, LineSize: 64, Policy: replacement.LRU,
	}, eng)
	require.NoError(t, err)
	return c
}

func newMLCHarness(t *testing.T) (*lifecycle.FSM, *queue.Scheduler, *reqbuf.Pool, *stubDRAM) {
	t.Helper()
	eng := replacement.NewEngine(replacement.LRU, nil)
	mlc, err := cache.New[lifecycle.LineData](cache.Config{
		Name: "MLC", Capacity: 2 * 64, Assoc: 2, LineSize: 64, Policy: replacement.LRU,
	}, eng)
	require.NoError(t, err)
	l1 := smallL1(t)
	sched := queue.NewScheduler(queue.Config{
		MLCSize: 8, L1Size: 8, BusOutSize: 8, MLCFillSize: 8, L1FillSize: 8, CoreFillSize: 8, NumCores: 1,
	})
	pool := reqbuf.NewPool(reqbuf.PoolConfig{EntriesPerCore: 16, NumCores: 1})
	dram := &stubDRAM{latency: 2}
	cfg := lifecycle.Config{
		MLCPresent:      true,
		L1Cycles:        1,
		MLCCycles:       1,
		L1QToFSBLatency: 1,
		MemoryCycles:    2,
		PrefInsert:      replacement.InsertMRU,
	}
	fsm := lifecycle.New(cfg, pool, mlc, l1, sched, dram, nil)
	dram.fsm = fsm
	return fsm, sched, pool, dram
}

func newHarness(t *testing.T) (*lifecycle.FSM, *queue.Scheduler, *reqbuf.Pool, *stubDRAM) {
	t.Helper()
	l1 := smallL1(t)
	sched := queue.NewScheduler(queue.Config{
		MLCSize: 8, L1Size: 8, BusOutSize: 8, MLCFillSize: 8, L1FillSize: 8, CoreFillSize: 8, NumCores: 1,
	})
	pool := reqbuf.NewPool(reqbuf.PoolConfig{EntriesPerCore: 16, NumCores: 1})
	dram := &stubDRAM{latency: 2}
	cfg := lifecycle.Config{
		L1Cycles:        1,
		L1QToFSBLatency: 1,
		MemoryCycles:    2,
		PrefInsert:      replacement.InsertMRU,
	}
	fsm := lifecycle.New(cfg, pool, nil, l1, sched, dram, nil)
	dram.fsm = fsm
	return fsm, sched, pool, dram
}

func TestDemandMissFillsLineAndCompletes(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, false)
	fsm, sched, _, dram := newHarness(t)

	var done bool
	ok := fsm.Issue(ctx, lifecycle.IssueParams{
		Now: 0, ProcID: 0, Type: reqbuf.DFETCH, Addr: 0x1000, Size: 8,
		UniqueNum: 1,
		Done: func(*reqbuf.MemReq) bool { done = true; return false },
	})
	require.True(t, ok)

	var now uint64
	for now = 0; now < 10 && !done; now++ {
		fsm.ProcessCycle(ctx, now)
	}
	assert.True(t, done, "request should have completed within the cycle budget")
	assert.Equal(t, 0, sched.L1.Len())
	assert.Equal(t, 0, sched.BusOut.Len())
	_ = dram
}

func TestDemandMissFillsMLCThenCompletes(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, false)
	fsm, sched, _, _ := newMLCHarness(t)

	var done bool
	ok := fsm.Issue(ctx, lifecycle.IssueParams{
		Now: 0, ProcID: 0, Type: reqbuf.DFETCH, Addr: 0x1000, Size: 8,
		Dest:      reqbuf.DestDCache | reqbuf.DestMLC | reqbuf.DestL1,
		UniqueNum: 1,
		Done:      func(*reqbuf.MemReq) bool { done = true; return false },
	})
	require.True(t, ok)

	var now uint64
	for now = 0; now < 10 && !done; now++ {
		fsm.ProcessCycle(ctx, now)
	}
	assert.True(t, done, "request should have completed within the cycle budget, filling both MLC and L1")
	assert.Equal(t, 0, sched.MLC.Len())
	assert.Equal(t, 0, sched.L1.Len())
	assert.Equal(t, 0, sched.MLCFill.Len())
	assert.Equal(t, 0, sched.L1Fill.Len())
}

func TestCoalescingMergesSameLineRequest(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, false)
	fsm, sched, pool, _ := newHarness(t)

	ok1 := fsm.Issue(ctx, lifecycle.IssueParams{
		Now: 0, ProcID: 0, Type: reqbuf.DPRF, Addr: 0x2000, UniqueNum: 1,
	})
	require.True(t, ok1)
	require.Equal(t, 1, sched.L1.Len())

	ok2 := fsm.Issue(ctx, lifecycle.IssueParams{
		Now: 0, ProcID: 0, Type: reqbuf.DFETCH, Addr: 0x2000, UniqueNum: 2,
	})
	require.True(t, ok2)
	// The demand fetch should have coalesced into the existing prefetch's
	// buffer rather than allocating a second one.
	assert.Equal(t, 1, sched.L1.Len())

	id, ok := sched.L1.Oldest()
	require.True(t, ok)
	req := pool.Get(id)
	assert.Equal(t, reqbuf.DFETCH, req.Type, "the prefetch should have been promoted to the demand type")
	assert.Equal(t, 2, req.ReqCount)
}

func TestStallMemReqsOnlyDropsNonStallingMissWithoutFilling(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, false)
	l1 := smallL1(t)
	sched := queue.NewScheduler(queue.Config{
		MLCSize: 8, L1Size: 8, BusOutSize: 8, MLCFillSize: 8, L1FillSize: 8, CoreFillSize: 8, NumCores: 1,
	})
	pool := reqbuf.NewPool(reqbuf.PoolConfig{EntriesPerCore: 16, NumCores: 1})
	dram := &stubDRAM{latency: 2}
	cfg := lifecycle.Config{
		L1Cycles:         1,
		L1QToFSBLatency:  1,
		MemoryCycles:     2,
		PrefInsert:       replacement.InsertMRU,
		StallMemReqsOnly: true,
	}
	fsm := lifecycle.New(cfg, pool, nil, l1, sched, dram, nil)
	dram.fsm = fsm

	var done bool
	ok := fsm.Issue(ctx, lifecycle.IssueParams{
		Now: 0, ProcID: 0, Type: reqbuf.DPRF, Addr: 0x4000, Size: 8,
		UniqueNum: 1,
		Done:      func(*reqbuf.MemReq) bool { done = true; return false },
	})
	require.True(t, ok)

	fsm.ProcessCycle(ctx, 0)
	fsm.ProcessCycle(ctx, 1)

	assert.True(t, done, "a non-stalling miss should complete immediately without queueing to memory")
	assert.Equal(t, 0, sched.L1.Len())
	assert.Equal(t, 0, sched.BusOut.Len())
	assert.Equal(t, 0, sched.L1Fill.Len())
	assert.Empty(t, dram.pending, "the request should never have reached the DRAM controller")
}

func TestOffPathConfirmAnnotatesWithoutCancelling(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, false)
	fsm, sched, pool, _ := newHarness(t)

	ok := fsm.Issue(ctx, lifecycle.IssueParams{
		Now: 0, ProcID: 0, Type: reqbuf.IFETCH, Addr: 0x3000, UniqueNum: 5, OffPath: true,
	})
	require.True(t, ok)

	fsm.OffPathConfirm(10)
	require.Equal(t, 1, sched.L1.Len())
	id, _ := sched.L1.Oldest()
	assert.True(t, pool.Get(id).OffPathConfirmed)
}
