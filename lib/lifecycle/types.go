// SPDX-License-Identifier: GPL-2.0-or-later

// Package lifecycle drives the request lifecycle FSM of §4.4: per-cycle
// queue processing, hit/miss branching, coalescing/matching, off-path
// confirmation, fill-time installation (fill.go), and the DRAM boundary.
package lifecycle

import (
	"github.com/memhier/simcore/lib/replacement"
	"github.com/memhier/simcore/lib/reqbuf"
)

// LineData is the payload carried by an MLC or L1 cache.Cache[LineData]
// line: everything fill-time logic (§4.7) seeds on install besides the tag
// and dirty bit, which cache.Line already carries directly.
type LineData struct {
	ProcID           int
	Prefetch         bool
	SeenPrefetch     bool
	PrefetcherID     int
	PrefLoadPC       uint64
	GlobalHist       uint64
	FetchedByOffpath bool
	FetchCycle       uint64
	L1MissLatency    uint64
	OnpathUseCycle   uint64
}

// DRAM is the downstream memory-controller boundary (§6): Send hands off a
// request that has reached MEM_NEW, returning whether the controller
// accepted it; once accepted the request is owned by DRAM until it invokes
// the FSM's completion callback (FSM.CompleteFromDRAM). Tick advances the
// controller's own internal clock.
type DRAM interface {
	Send(now uint64, req *reqbuf.MemReq) bool
	Tick(now uint64)
}

// PrefetchObserver is the hook interface prefetchers implement (§6) to
// watch cache accesses and eviction outcomes. A nil *FSM.pref disables all
// hooks; callers that don't model a prefetcher may leave it unset.
type PrefetchObserver interface {
	UL1Hit(req *reqbuf.MemReq)
	UL1Miss(req *reqbuf.MemReq)
	UL1PrefHit(req *reqbuf.MemReq)
	UL1PrefHitLate(req *reqbuf.MemReq)
	UL1Evict(procID int, addr uint64)
	EvictLineUsed(addr uint64)
	EvictLineNotUsed(addr uint64)
	ReqDropProcess(req *reqbuf.MemReq, reason string)
}

// PartitionObserver is the hook interface the UCP way-partitioner (§4.6)
// implements to watch every L1-level access attempt and drive its own
// shadow caches from the same address stream, independent of how the real
// L1 is currently partitioned. A nil *FSM.part disables it.
type PartitionObserver interface {
	RecordL1Access(procID int, addr uint64, now uint64)
}

// Config is the subset of §6's recognized configuration options that the
// lifecycle FSM itself consults (geometry and replacement policy live in
// the cache/replacement configs; queue sizing lives in queue.Config).
type Config struct {
	MLCPresent      bool
	MLCWriteThrough bool
	L1WriteThrough  bool
	HierMSHROn      bool

	ConstantMemoryLatency bool
	MemoryCycles          uint64
	L1Cycles              uint64
	MLCCycles             uint64
	L1QToFSBLatency       uint64
	MLCQToL1QLatency      uint64

	StallMemReqsOnly bool

	PrioritizePrefetchesWithUnique bool
	AllowWBDemandMatch             bool

	KickoutPrefetches       bool
	KickoutOldestWithinBank bool

	// PrefInsert chooses the insertion position for prefetched lines
	// (PREF_INSERT_LRU/MIDDLE/LOWQTR/DYNACC); InsertMRU itself is the
	// "LRU" option's usual meaning here (inserted as most-recently-used,
	// i.e. given the benefit of the doubt), since a true-LRU-stack
	// "insert at LRU position" would make a just-fetched prefetch the
	// very next victim, defeating the point of prefetching it at all.
	PrefInsert replacement.InsertPosition

	// PrefInsertDynamic, when true, overrides PrefInsert for every
	// prefetch with InsertLowQtr. The choice is the same for all
	// prefetches; no per-request or per-prefetcher pollution input is
	// consulted.
	PrefInsertDynamic bool
}

// PollutionReporter describes a prefetcher framework's per-prefetcher
// pollution verdict. Nothing in the FSM consults it: PrefInsertDynamic does
// not take it into account.
type PollutionReporter interface {
	IsPolluting(prefetcherID int) bool
}

// priorityAgeBits is how many low bits of a priority value are reserved for
// age; the remaining high bits hold Mem_Req_Priority_Offset[type] (§4.5).
const priorityAgeBits = 48

const priorityAgeMask = uint64(1)<<priorityAgeBits - 1

func computePriority(t reqbuf.Type, age uint64, includeAge bool) uint64 {
	base := uint64(t) << priorityAgeBits
	if !includeAge {
		return base
	}
	return base | (age & priorityAgeMask)
}
