// SPDX-License-Identifier: GPL-2.0-or-later

package lifecycle

import (
	"context"

	"github.com/datawire/dlib/dlog"

	"github.com/memhier/simcore/lib/cache"
	"github.com/memhier/simcore/lib/replacement"
	"github.com/memhier/simcore/lib/reqbuf"
)

// beginFillL1 transitions a request that just returned from memory
// (BUS_IN_DONE) into FILL_L1 and enqueues it into the L1 fill queue.
func (f *FSM) beginFillL1(ctx context.Context, req *reqbuf.MemReq, now uint64) {
	req.State = reqbuf.StateFillL1
	req.RdyCycle = now
	req.Priority = computePriority(req.Type, req.StartCycle, f.includeAge(req.Type))
	if !f.sched.L1Fill.Insert(req.ID, req.Priority) {
		f.protocolViolation(req, "L1 fill queue rejected a just-completed memory request")
	}
}

// processFillQueue drains the L1-fill queue (isMLC false) or the MLC-fill
// queue (isMLC true): each ready entry attempts the
// victim-peek-and-writeback-then-install sequence of §4.7 against the
// matching cache level; a failure (the synthesized write-back couldn't be
// allocated or enqueued) leaves the entry in place to retry next cycle with
// a fresh victim choice, since the set's occupants may have changed.
func (f *FSM) processFillQueue(ctx context.Context, q interface{ Walk(func(int)) }, now uint64, isMLC bool) {
	c := f.l1
	wantState := reqbuf.StateFillL1
	wantStateMsg := "L1 fill queue entry not in FILL_L1"
	if isMLC {
		c = f.mlc
		wantState = reqbuf.StateFillMLC
		wantStateMsg = "MLC fill queue entry not in FILL_MLC"
	}

	q.Walk(func(id int) {
		req := f.pool.Get(id)
		if req.RdyCycle > now {
			return
		}
		if req.State != wantState {
			f.protocolViolation(req, wantStateMsg)
		}
		if !f.installLine(ctx, c, req, now, isMLC) {
			return
		}

		if isMLC {
			req.MLCMiss = false
			req.MLCMissSatisfied = true
			f.sched.MLCFill.Remove(req.ID)
			req.State = reqbuf.StateFillDone
			f.finishRequest(ctx, req, now)
			return
		}

		req.L1Miss = false
		req.L1MissSatisfied = true
		f.sched.L1Fill.Remove(req.ID)

		if f.cfg.MLCPresent && req.Dest&reqbuf.DestMLC != 0 {
			req.State = reqbuf.StateFillMLC
			req.RdyCycle = now
			req.Priority = computePriority(req.Type, req.StartCycle, f.includeAge(req.Type))
			if !f.sched.MLCFill.Insert(req.ID, req.Priority) {
				f.protocolViolation(req, "MLC fill queue rejected an L1-satisfied request")
			}
			return
		}
		req.State = reqbuf.StateFillDone
		f.finishRequest(ctx, req, now)
	})
}

// processCoreFillQueue walks the per-core fill queue, whose entries have
// already been installed in every destination cache and are only waiting to
// notify their originating op(s) at the core's local cycle boundary: it
// calls each request's Done and, unless Done asks for a retry, removes the
// entry and frees its buffer.
func (f *FSM) processCoreFillQueue(ctx context.Context, q interface{ Walk(func(int)) }, now uint64) {
	q.Walk(func(id int) {
		req := f.pool.Get(id)
		if req.RdyCycle > now {
			return
		}
		retry := false
		if req.Done != nil {
			retry = req.Done(req)
		}
		if retry {
			return
		}
		if queueRef, ok := q.(interface{ Remove(int) }); ok {
			queueRef.Remove(req.ID)
		}
		f.offPath.Delete(req.ID)
		f.pool.Free(req.ID)
	})
}

// installLine performs §4.7 step 1 and 2: peek the current victim, and if
// it is valid, dirty, and this level isn't write-through, synthesize a
// write-back addressed to the next level before overwriting the line with
// the incoming request's data. Returns false if the write-back could not
// be issued (capacity failure), in which case the caller must retry this
// fill next cycle with a fresh victim choice -- the set's occupants (and
// so the victim) may be different by then.
func (f *FSM) installLine(ctx context.Context, c *cache.Cache[LineData], req *reqbuf.MemReq, now uint64, isMLC bool) bool {
	_, ca := c.PeekVictim(req.ProcID, req.Addr)
	line := c.At(ca)
	writeThrough := (isMLC && f.cfg.MLCWriteThrough) || (!isMLC && f.cfg.L1WriteThrough)

	if line.Valid && line.Dirty && !writeThrough {
		victimAddr := c.LineAddrAt(ca)
		victimProcID := line.ProcID
		if f.pref != nil {
			if line.Data.SeenPrefetch {
				f.pref.EvictLineUsed(victimAddr)
			} else if line.Data.Prefetch {
				f.pref.EvictLineNotUsed(victimAddr)
			}
			f.pref.UL1Evict(victimProcID, victimAddr)
		}
		wbType := reqbuf.WB
		if !line.Data.SeenPrefetch && line.Data.Prefetch {
			wbType = reqbuf.WBNoDirty
		}
		ok := f.Issue(ctx, IssueParams{
			Now:    now,
			ProcID: victimProcID,
			Type:   wbType,
			Addr:   victimAddr,
			Size:   uint(c.Config().LineSize),
			Dest:   reqbuf.DestNone,
		})
		if !ok {
			return false
		}
	} else if line.Valid && f.pref != nil {
		victimAddr := c.LineAddrAt(ca)
		if line.Data.SeenPrefetch {
			f.pref.EvictLineUsed(victimAddr)
		} else if line.Data.Prefetch {
			f.pref.EvictLineNotUsed(victimAddr)
		}
		f.pref.UL1Evict(line.ProcID, victimAddr)
	}

	pos := f.insertPosition(req)
	_, _, _, newCA := c.InsertAt(req.ProcID, req.Addr, req.Type.IsPrefetch(), LineData{}, now, pos)
	fillLine := c.At(newCA)
	fillLine.Data = LineData{
		ProcID:           req.ProcID,
		Prefetch:         req.Type.IsPrefetch(),
		SeenPrefetch:     false,
		PrefetcherID:     req.Pref.PrefetcherID,
		PrefLoadPC:       req.Pref.LoadPC,
		GlobalHist:       req.Pref.GlobalHist,
		FetchedByOffpath: req.OffPath,
		FetchCycle:       now,
		L1MissLatency:    now - req.L1MissCycle,
		OnpathUseCycle:   0,
	}
	fillLine.Dirty = req.Type.IsWriteback() && req.DirtyL0
	dlog.Debugf(ctx, "lifecycle: filled addr %#x for req %d", req.Addr, req.ID)
	return true
}

func (f *FSM) insertPosition(req *reqbuf.MemReq) replacement.InsertPosition {
	if !req.Type.IsPrefetch() {
		return replacement.InsertMRU
	}
	if f.cfg.PrefInsertDynamic {
		return replacement.InsertLowQtr
	}
	return f.cfg.PrefInsert
}

// finishRequest is the common completion path once a request's State has
// been set to one of its terminal values: it leaves whichever request
// queue still held it, then either routes to the requester's core-fill
// queue (if a done_func is registered) or frees the buffer immediately.
func (f *FSM) finishRequest(ctx context.Context, req *reqbuf.MemReq, now uint64) {
	f.sched.MLC.Remove(req.ID)
	f.sched.L1.Remove(req.ID)
	f.sched.BusOut.Remove(req.ID)

	if req.Done == nil {
		f.offPath.Delete(req.ID)
		f.pool.Free(req.ID)
		return
	}
	req.RdyCycle = now
	req.Priority = computePriority(req.Type, req.StartCycle, true)
	if !f.sched.CoreFill[req.ProcID].Insert(req.ID, req.Priority) {
		f.protocolViolation(req, "core fill queue rejected a completed request")
	}
}
