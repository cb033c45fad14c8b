// SPDX-License-Identifier: GPL-2.0-or-later

package lifecycle

import (
	"context"

	"github.com/datawire/dlib/dlog"

	"github.com/memhier/simcore/lib/cache"
	"github.com/memhier/simcore/lib/containers"
	"github.com/memhier/simcore/lib/diag"
	"github.com/memhier/simcore/lib/queue"
	"github.com/memhier/simcore/lib/reqbuf"
)

// FSM drives the request lifecycle described in §4.4 over a two-level
// MLC/L1 hierarchy (MLC is optional; when cfg.MLCPresent is false, requests
// enter directly at L1). It owns no goroutines: ProcessCycle runs one
// cycle's worth of queue processing to completion and returns.
type FSM struct {
	cfg  Config
	pool *reqbuf.Pool
	mlc  *cache.Cache[LineData] // nil if !cfg.MLCPresent
	l1   *cache.Cache[LineData]
	sched *queue.Scheduler
	dram  DRAM
	pref  PrefetchObserver
	part  PartitionObserver

	// offPath tracks the ids of in-flight requests with OffPath set, so
	// OffPathConfirm doesn't have to scan every queue on every recovery
	// signal.
	offPath containers.Set[int]

	capacityDenied uint64
	protocolPanics uint64
}

// New constructs an FSM. mlc may be nil iff !cfg.MLCPresent.
func New(cfg Config, pool *reqbuf.Pool, mlc, l1 *cache.Cache[LineData], sched *queue.Scheduler, dram DRAM, pref PrefetchObserver) *FSM {
	if cfg.MLCPresent && mlc == nil {
		panic("lifecycle: New: MLCPresent is set but mlc is nil")
	}
	return &FSM{cfg: cfg, pool: pool, mlc: mlc, l1: l1, sched: sched, dram: dram, pref: pref, offPath: containers.NewSet[int]()}
}

// IssueParams is the argument bundle for the single upstream entry point of
// §6: (type, proc_id, addr, size, delay, op?, done_func?, unique_num,
// pref_info?). Dest records which cache levels should be filled on behalf
// of the requester, so a DCACHE read and an MLC write-back can share one
// entry point with different fill scopes.
type IssueParams struct {
	Now        uint64
	ProcID     int
	Type       reqbuf.Type
	Addr       uint64
	Size       uint
	Dest       reqbuf.Destination
	OpHandle   reqbuf.OpHandle
	UniqueNum  uint64
	OffPath    bool
	Done       reqbuf.DoneFunc
	Pref       *reqbuf.PrefInfo
	BWPrefetch bool
}

// Issue is the upstream entry point: it either coalesces into an existing
// in-flight request for the same line, or allocates a fresh MemReq and
// enqueues it at the first stage (MLC if present, else L1). ok is false on
// a capacity failure (buffer pool full and kick-out, if enabled, didn't
// free one, or the first queue is full); the caller must retry next cycle.
func (f *FSM) Issue(ctx context.Context, p IssueParams) (ok bool) {
	lineAddr := f.lineAddrFor(p.Addr)

	if existing, found := f.findInFlight(lineAddr); found {
		outcome := classifyMatch(existing.Type, p.Type, f.cfg.AllowWBDemandMatch, f.cfg.HierMSHROn)
		if outcome != noMatch {
			waiter := reqbuf.Waiter{Handle: p.OpHandle, UniqueNum: p.UniqueNum}
			applyMatch(existing, outcome, p.Type, p.UniqueNum, p.OffPath, waiter, p.Done)
			if existing.OffPath {
				f.offPath.Insert(existing.ID)
			} else {
				f.offPath.Delete(existing.ID)
			}
			f.repriorityAfterMatch(existing)
			dlog.Debugf(ctx, "lifecycle: coalesced req %d (%s) with incoming %s for addr %#x", existing.ID, existing.Type, p.Type, p.Addr)
			return true
		}
	}

	req, allocated := f.pool.Alloc(p.ProcID, p.Type, p.BWPrefetch)
	if !allocated {
		if f.cfg.KickoutPrefetches {
			if f.tryKickout(p) {
				req, allocated = f.pool.Alloc(p.ProcID, p.Type, p.BWPrefetch)
			}
		}
		if !allocated {
			f.capacityDenied++
			return false
		}
	}

	req.UniqueNum = p.UniqueNum
	req.Addr = p.Addr
	req.Size = p.Size
	req.Dest = p.Dest
	req.OffPath = p.OffPath
	if req.OffPath {
		f.offPath.Insert(req.ID)
	}
	req.Done = p.Done
	req.StartCycle = p.Now
	req.RdyCycle = p.Now
	req.OldestOpUniqueNum = p.UniqueNum
	req.OldestOpAddr = p.Addr
	req.ReqCount = 1
	req.Waiters = append(req.Waiters, reqbuf.Waiter{Handle: p.OpHandle, UniqueNum: p.UniqueNum})
	if p.Pref != nil {
		req.Pref = *p.Pref
	}

	firstQueue := f.sched.L1
	if f.cfg.MLCPresent {
		firstQueue = f.sched.MLC
		req.State = reqbuf.StateMLCNew
	} else {
		req.State = reqbuf.StateL1New
	}
	req.Priority = computePriority(req.Type, p.Now, f.includeAge(req.Type))

	if !firstQueue.Insert(req.ID, req.Priority) {
		f.offPath.Delete(req.ID)
		f.pool.Free(req.ID)
		f.capacityDenied++
		return false
	}
	return true
}

func (f *FSM) includeAge(t reqbuf.Type) bool {
	if t.IsPrefetch() && !f.cfg.PrioritizePrefetchesWithUnique {
		return false
	}
	return true
}

func (f *FSM) lineAddrFor(addr uint64) uint64 {
	if f.cfg.MLCPresent {
		return f.mlc.LineAddr(addr)
	}
	return f.l1.LineAddr(addr)
}

// findInFlight scans every request-stage and fill-stage queue for a
// non-terminal MemReq whose line address matches, per §4.4's coalescing
// scan. It deliberately does not index by address: the number of
// in-flight requests is small (bounded by the buffer pool), and building a
// parallel address index would duplicate state that the pool+queues
// already hold canonically.
func (f *FSM) findInFlight(lineAddr uint64) (*reqbuf.MemReq, bool) {
	for _, q := range f.sched.All() {
		for _, id := range q.IDs() {
			r := f.pool.Get(id)
			if r.State.Terminal() {
				continue
			}
			if f.lineAddrFor(r.Addr) == lineAddr {
				return r, true
			}
		}
	}
	return nil, false
}

// repriorityAfterMatch re-sorts whichever queue currently holds req if the
// match changed its priority (a promotion always can; applyMatch doesn't
// recompute Priority itself since age is frozen at whichever age was
// appropriate for the stricter caller).
func (f *FSM) repriorityAfterMatch(req *reqbuf.MemReq) {
	newPriority := computePriority(req.Type, req.StartCycle, f.includeAge(req.Type))
	if newPriority >= req.Priority {
		return
	}
	req.Priority = newPriority
	for _, q := range f.sched.All() {
		if q.UpdatePriority(req.ID, newPriority) {
			return
		}
	}
}

func (f *FSM) tryKickout(p IssueParams) bool {
	incomingPriority := computePriority(p.Type, p.Now, f.includeAge(p.Type))
	scope := queue.ScopeAll
	bankOf := func(r *reqbuf.MemReq) int { return r.L1Bank }
	if f.cfg.KickoutOldestWithinBank {
		scope = queue.ScopeBank
	}
	bank := f.l1.BankOf(f.l1.Index(p.Addr))

	id, found := queue.FindKickoutVictim([]*queue.Queue{f.sched.MLC, f.sched.L1, f.sched.BusOut}, f.pool, incomingPriority, scope, bank, bankOf)
	if !found {
		return false
	}
	victim := f.pool.Get(id)
	if f.pref != nil {
		f.pref.ReqDropProcess(victim, "kicked_out")
	}
	for _, q := range f.sched.All() {
		q.Remove(id)
	}
	f.offPath.Delete(id)
	f.pool.Free(id)
	return true
}

// OffPathConfirm implements §4.4's recovery-driven annotation: every
// in-flight off-path request whose oldest_op_unique_num predates
// recoveryUniqueNum is marked off_path_confirmed. Requests are never
// cancelled by this call. Only the off-path set is walked, not every queue,
// since on-path requests are never eligible.
func (f *FSM) OffPathConfirm(recoveryUniqueNum uint64) {
	for id := range f.offPath {
		r := f.pool.Get(id)
		if r.OldestOpUniqueNum < recoveryUniqueNum {
			r.OffPathConfirmed = true
		}
	}
}

// protocolViolation panics with a diagnostic dump, per §7's fatal error
// class for states seen in an impossible context.
func (f *FSM) protocolViolation(req *reqbuf.MemReq, msg string) {
	f.protocolPanics++
	diag.Fatalf("offending request", req, "lifecycle: protocol violation: %s", msg)
}

// CapacityDenied returns the cumulative count of Issue/kick-out capacity
// failures (§7's dedicated counters).
func (f *FSM) CapacityDenied() uint64 { return f.capacityDenied }

// SetPartitionObserver wires the UCP partitioner into every subsequent
// L1-level access. It is optional; leaving it unset just means the
// partitioner isn't fed (no partitioning decisions are made).
func (f *FSM) SetPartitionObserver(p PartitionObserver) { f.part = p }

// SetDRAM attaches the DRAM boundary after construction, for callers (the
// composition root) that must build the DRAM controller after the FSM
// since the controller itself holds a callback reference to the FSM.
func (f *FSM) SetDRAM(d DRAM) { f.dram = d }
