// SPDX-License-Identifier: GPL-2.0-or-later

package lifecycle

import (
	"context"

	"github.com/datawire/dlib/dlog"

	"github.com/memhier/simcore/lib/cache"
	"github.com/memhier/simcore/lib/reqbuf"
)

// ProcessCycle runs one cycle's worth of queue processing to completion, in
// the fixed downstream order of §4.5/§5: sort every queue, then MLC, then
// L1, then the bus-out/memory stage, then the fill queues, then release
// this cycle's port reservations. Promotions made while processing an
// earlier queue (a coalescing match while walking MLC) are visible to a
// later queue's pass in the same call, matching "inserts made during a
// pass are visible to subsequent passes in the same cycle".
func (f *FSM) ProcessCycle(ctx context.Context, now uint64) {
	dlog.Tracef(ctx, "lifecycle: begin cycle %d", now)
	f.sched.SortAll()

	if f.cfg.MLCPresent {
		f.processRequestQueue(ctx, f.sched.MLC, f.mlc, now, f.cfg.MLCCycles, true)
	}
	f.processRequestQueue(ctx, f.sched.L1, f.l1, now, f.cfg.L1Cycles, false)
	f.processBusOutQueue(ctx, now)
	f.dram.Tick(now)

	f.processFillQueue(ctx, f.sched.L1Fill, now, false)
	if f.cfg.MLCPresent {
		f.processFillQueue(ctx, f.sched.MLCFill, now, true)
	}
	for _, fq := range f.sched.CoreFill {
		f.processCoreFillQueue(ctx, fq, now)
	}

	f.l1.Ports().EndCycle()
	if f.cfg.MLCPresent {
		f.mlc.Ports().EndCycle()
	}
}

// processRequestQueue walks one of the MLC/L1 request queues in enqueued
// order, advancing each ready entry by exactly one FSM step (§4.4 step
// 1/2): a *_NEW entry attempts a port reservation and becomes *_WAIT; a
// *_WAIT entry performs the cache access and branches on hit/miss.
func (f *FSM) processRequestQueue(ctx context.Context, q interface{ Walk(func(int)) }, c *cache.Cache[LineData], now uint64, latency uint64, isMLC bool) {
	newState, waitState := reqbuf.StateL1New, reqbuf.StateL1Wait
	if isMLC {
		newState, waitState = reqbuf.StateMLCNew, reqbuf.StateMLCWait
	}

	q.Walk(func(id int) {
		req := f.pool.Get(id)
		if req.RdyCycle > now {
			return
		}
		switch req.State {
		case newState:
			if f.reservePort(req, c, now) {
				req.State = waitState
				req.RdyCycle = now + latency
			}
		case waitState:
			f.accessAndBranch(ctx, req, c, now, isMLC)
		default:
			f.protocolViolation(req, "request queue entry in an unexpected state")
		}
	})
}

func (f *FSM) reservePort(req *reqbuf.MemReq, c *cache.Cache[LineData], now uint64) bool {
	bank := c.BankOf(c.Index(req.Addr))
	if req.Type.IsWriteback() || req.Type == reqbuf.DSTORE {
		return c.Ports().GetWritePort(bank)
	}
	return c.Ports().GetReadPort(bank)
}

// accessAndBranch performs the cache access for a *_WAIT entry and branches
// to the hit or miss path (§4.4).
func (f *FSM) accessAndBranch(ctx context.Context, req *reqbuf.MemReq, c *cache.Cache[LineData], now uint64, isMLC bool) {
	if !isMLC && f.part != nil {
		f.part.RecordL1Access(req.ProcID, req.Addr, now)
	}
	hit, _, ca := c.Access(req.ProcID, req.Addr, now)
	if hit {
		f.onHit(ctx, req, c, ca, now, isMLC)
	} else {
		f.onMiss(ctx, req, c, now, isMLC)
	}
}

// onHit implements §4.4's hit path. isMLC selects which queue/state-machine
// level this hit occurred at; the shared L1 is where prefetcher hit/miss
// hooks fire, matching the "ul1_*" hook names.
func (f *FSM) onHit(ctx context.Context, req *reqbuf.MemReq, c *cache.Cache[LineData], ca cache.Address, now uint64, isMLC bool) {
	line := c.At(ca)
	wasPrefetchLine := line.Data.Prefetch
	if wasPrefetchLine {
		line.Data.SeenPrefetch = true
		if !isMLC && f.pref != nil {
			if req.HasFirstStalling {
				f.pref.UL1PrefHitLate(req)
			} else {
				f.pref.UL1PrefHit(req)
			}
		}
	} else if !isMLC && f.pref != nil {
		f.pref.UL1Hit(req)
	}

	if req.Type.IsWriteback() {
		writeThrough := (isMLC && f.cfg.MLCWriteThrough) || (!isMLC && f.cfg.L1WriteThrough)
		line.Dirty = line.Dirty || !writeThrough
		if writeThrough {
			f.forwardWriteback(ctx, req, now, isMLC)
			return
		}
		if isMLC {
			req.State = reqbuf.StateMLCHitDone
		} else {
			req.State = reqbuf.StateL1HitDone
		}
		f.finishRequest(ctx, req, now)
		return
	}

	if !isMLC {
		req.L1Miss = false
		req.State = reqbuf.StateL1HitDone
	} else {
		req.MLCMiss = false
		req.State = reqbuf.StateMLCHitDone
	}
	f.finishRequest(ctx, req, now)
}

// onMiss implements §4.4's miss path.
func (f *FSM) onMiss(ctx context.Context, req *reqbuf.MemReq, c *cache.Cache[LineData], now uint64, isMLC bool) {
	if isMLC {
		if !req.MLCMiss {
			req.MLCMiss = true
			req.MLCMissCycle = now
		}
	} else {
		if !req.L1Miss {
			req.L1Miss = true
			req.L1MissCycle = now
		}
		if f.pref != nil {
			f.pref.UL1Miss(req)
		}
	}
	if !req.HasFirstStalling && req.Type.Stalls() {
		req.FirstStallingCycle = now
		req.HasFirstStalling = true
	}

	if req.Type.IsWriteback() {
		f.forwardWriteback(ctx, req, now, isMLC)
		return
	}

	if isMLC {
		req.State = reqbuf.StateL1New
		req.RdyCycle = now
		f.sched.MLC.Remove(req.ID)
		req.Priority = computePriority(req.Type, req.StartCycle, f.includeAge(req.Type))
		if !f.sched.L1.Insert(req.ID, req.Priority) {
			// Queue-full is a capacity failure; retry by leaving the
			// request owned by nobody's queue is not an option, so we
			// put it back into MLC at MLC_WAIT and it will be re-attempted
			// next cycle once space frees up downstream.
			req.State = reqbuf.StateMLCWait
			f.sched.MLC.Insert(req.ID, req.Priority)
			f.capacityDenied++
		}
		return
	}

	// Under STALL_MEM_REQS_ONLY, a request that doesn't stall its core's
	// retirement is dropped here rather than chasing memory: matches
	// memory.c's mem_req_type_is_stalling guard, which frees such a miss
	// immediately instead of queueing it onto the bus-out stage.
	if f.cfg.StallMemReqsOnly && !req.Type.Stalls() {
		req.State = reqbuf.StateDropped
		f.finishRequest(ctx, req, now)
		return
	}

	// L1 miss on a read: queue onto the bus-out stage, which either applies
	// the constant memory latency or hands off to the DRAM controller.
	req.MemQueueCycle = now
	req.State = reqbuf.StateBusNew
	req.RdyCycle = now + f.cfg.L1QToFSBLatency
	f.sched.L1.Remove(req.ID)
	req.Priority = computePriority(req.Type, req.StartCycle, f.includeAge(req.Type))
	if !f.sched.BusOut.Insert(req.ID, req.Priority) {
		// Can't even get onto the bus queue; restore to L1_WAIT and retry,
		// mirroring the downstream-rejection recovery rule of §7.
		req.State = reqbuf.StateL1Wait
		req.RdyCycle = now
		f.sched.L1.Insert(req.ID, req.Priority)
		f.capacityDenied++
	}
}

// forwardWriteback synthesizes (or continues) a write-back's trip to the
// next level: an MLC write-back that misses at MLC is moved into the L1
// queue at L1_NEW; an L1 write-back that misses at L1 goes directly into the
// memory pipeline (the bus-out queue at MEM_NEW).
func (f *FSM) forwardWriteback(ctx context.Context, req *reqbuf.MemReq, now uint64, isMLC bool) {
	if isMLC {
		req.State = reqbuf.StateL1New
		req.RdyCycle = now
		f.sched.MLC.Remove(req.ID)
		f.sched.L1.Insert(req.ID, computePriority(req.Type, req.StartCycle, f.includeAge(req.Type)))
		return
	}
	req.State = reqbuf.StateMemNew
	req.RdyCycle = now
	f.sched.L1.Remove(req.ID)
	req.MemQueueCycle = now
	req.Priority = computePriority(req.Type, req.StartCycle, f.includeAge(req.Type))
	if !f.sched.BusOut.Insert(req.ID, req.Priority) {
		// Bus-out queue full: restore to L1_WAIT and retry, as onMiss does.
		req.State = reqbuf.StateL1Wait
		f.sched.L1.Insert(req.ID, req.Priority)
		f.capacityDenied++
	}
}

// processBusOutQueue advances BUS_NEW entries: under constant-latency mode
// it skips the modeled DRAM entirely and schedules completion directly;
// otherwise it hands the request to the DRAM controller, removing it from
// managed queues on acceptance (DRAM owns it until the completion
// callback) or restoring it to L1_WAIT on rejection (§7).
func (f *FSM) processBusOutQueue(ctx context.Context, now uint64) {
	f.sched.BusOut.Walk(func(id int) {
		req := f.pool.Get(id)
		if req.RdyCycle > now {
			return
		}
		switch req.State {
		case reqbuf.StateBusNew, reqbuf.StateMemNew:
			if f.cfg.ConstantMemoryLatency {
				req.State = reqbuf.StateMemWait
				req.RdyCycle = now + f.cfg.MemoryCycles
				return
			}
			req.State = reqbuf.StateMemScheduled
			if f.dram.Send(now, req) {
				req.State = reqbuf.StateMemWait
				f.sched.BusOut.Remove(req.ID)
			} else {
				req.State = reqbuf.StateL1Wait
				req.RdyCycle = now
				f.sched.BusOut.Remove(req.ID)
				f.sched.L1.Insert(req.ID, req.Priority)
			}
		case reqbuf.StateMemWait:
			f.completeFromMemory(ctx, req, now)
			f.sched.BusOut.Remove(req.ID)
		default:
			f.protocolViolation(req, "bus-out queue entry in an unexpected state")
		}
	})
}

// CompleteFromDRAM is the DRAM controller's completion callback (§6): a
// DRAM implementation invokes this once an accepted Send's request has
// been serviced, handing control of the request back to the FSM.
func (f *FSM) CompleteFromDRAM(ctx context.Context, req *reqbuf.MemReq, now uint64) {
	f.completeFromMemory(ctx, req, now)
}

func (f *FSM) completeFromMemory(ctx context.Context, req *reqbuf.MemReq, now uint64) {
	if req.Type.IsWriteback() {
		req.State = reqbuf.StateMemDone
		f.finishRequest(ctx, req, now)
		return
	}
	req.State = reqbuf.StateBusInDone
	f.beginFillL1(ctx, req, now)
}
