// SPDX-License-Identifier: GPL-2.0-or-later

package reqbuf

// PrefInfo carries the prefetcher-supplied metadata for a request that was
// issued by a prefetcher, so that observer hooks and fill-time line
// tagging can attribute the line back to its originating prefetcher.
type PrefInfo struct {
	PrefetcherID int
	Distance     int
	LoadPC       uint64
	GlobalHist   uint64
}

// DoneFunc is invoked when a request completes, to wake the originating
// op(s). A true return means the caller wants the wake-up retried later
// (e.g. the op itself isn't ready yet); false means delivery succeeded.
type DoneFunc func(*MemReq) bool

// MemReq is a single request-buffer entry: the central long-lived entity
// of the memory subsystem, uniquely owned by it from allocation to
// mem_free_reqbuf. Identity (ID) is re-used once freed; callers must treat
// a MemReq pointer as invalid after the owning Pool.Free call.
type MemReq struct {
	// Identity
	ID        int
	ProcID    int
	UniqueNum uint64
	Type      Type

	// Addressing
	Addr      uint64
	PhysAddr  uint64
	Size      uint
	MLCBank   int
	L1Bank    int
	MemBank   int
	MemChannel int

	// Lifecycle
	State    State
	Priority uint64

	// Timing
	StartCycle         uint64
	RdyCycle           uint64
	FirstStallingCycle uint64
	HasFirstStalling   bool
	MLCMissCycle       uint64
	L1MissCycle        uint64
	MemQueueCycle      uint64

	// Coalescing
	Waiters             []Waiter
	OldestOpUniqueNum   uint64
	OldestOpNum         uint64
	OldestOpAddr        uint64
	ReqCount            int
	OnpathMatchOffpath  bool
	DemandMatchPrefetch bool

	// Flags
	OffPath          bool
	OffPathConfirmed bool
	MLCMiss          bool
	MLCMissSatisfied bool
	L1Miss           bool
	L1MissSatisfied  bool
	WBRequestedBack  bool
	DirtyL0          bool
	BWPrefetch       bool
	BWPrefetchable   bool

	// Destination
	Dest Destination

	// Completion
	Done DoneFunc

	// Prefetcher info
	Pref PrefInfo

	// Hierarchical-MSHR reservation accounting
	ReservedEntryCount int
}

// reset clears a MemReq to its zero-value-ish free state, except for ID
// which is stable for the slot's lifetime. Called by Pool when a buffer
// returns to the free list, so a reused ID never leaks stale fields from
// its previous occupant (the "kicked_out=true ... clear_reqbuf" step in
// S5).
func (r *MemReq) reset() {
	id := r.ID
	*r = MemReq{ID: id, State: StateInv}
}
