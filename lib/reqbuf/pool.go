// SPDX-License-Identifier: GPL-2.0-or-later

package reqbuf

import "fmt"

// PoolConfig configures a Pool's size and admission watermarks (§4.3).
type PoolConfig struct {
	// EntriesPerCore is MEM_REQ_BUFFER_ENTRIES. Total capacity is
	// EntriesPerCore, or EntriesPerCore*NumCores if PrivateMSHR.
	EntriesPerCore int
	NumCores       int
	PrivateMSHR    bool

	// PrefWatermark denies new prefetch requests once free_slots drops to
	// or below this many buffers (global mode), or once a core's
	// occupancy + watermark would reach its private quota.
	PrefWatermark int

	// WBValve denies new non-write-back requests once free_slots drops to
	// or below this many buffers, reserving room so in-flight misses can
	// still produce write-backs.
	WBValve int

	// BWPrefWatermark additionally throttles bandwidth-heavy prefetches
	// (BWPrefetch) independently of PrefWatermark.
	BWPrefWatermark int
}

// Pool is the fixed-size MSHR-like request buffer pool: a slab of MemReq
// slots plus a free list. The original's manual slab allocator is replaced
// by a plain Go slice: allocation is "pop an index off a free stack",
// which is exactly what the slab allocator amounted to once checkpoint
// support is out of scope.
type Pool struct {
	cfg     PoolConfig
	entries []MemReq
	free    []int // stack of free slot indices

	perCoreInUse []int // only meaningful when cfg.PrivateMSHR
	generation   []uint64

	deniedCapacity int
	deniedPref     int
	deniedWB       int
}

// NewPool constructs a Pool with cfg.EntriesPerCore * (cfg.NumCores if
// PrivateMSHR else 1) slots, all initially free.
func NewPool(cfg PoolConfig) *Pool {
	total := cfg.EntriesPerCore
	if cfg.PrivateMSHR {
		total *= cfg.NumCores
	}
	p := &Pool{
		cfg:        cfg,
		entries:    make([]MemReq, total),
		free:       make([]int, total),
		generation: make([]uint64, total),
	}
	for i := range p.entries {
		p.entries[i] = MemReq{ID: i, State: StateInv}
		p.free[i] = total - 1 - i // pop order: id 0 allocated first
	}
	if cfg.PrivateMSHR {
		p.perCoreInUse = make([]int, cfg.NumCores)
	}
	return p
}

// Total returns the pool's total slot count.
func (p *Pool) Total() int { return len(p.entries) }

// FreeCount returns how many slots are currently free.
func (p *Pool) FreeCount() int { return len(p.free) }

// InUse returns how many slots are currently allocated.
func (p *Pool) InUse() int { return len(p.entries) - len(p.free) }

// DeniedCounts returns the cumulative capacity-failure counters (§7: "every
// capacity failure increments a dedicated counter").
func (p *Pool) DeniedCounts() (capacity, pref, wb int) {
	return p.deniedCapacity, p.deniedPref, p.deniedWB
}

func (p *Pool) corePoolIndex(procID int) int {
	if !p.cfg.PrivateMSHR {
		return -1
	}
	return procID
}

func (p *Pool) privateCap() int {
	return p.cfg.EntriesPerCore
}

// canAdmit applies the prefetch-watermark and write-back-valve admission
// policy described in §4.3, without mutating any state.
func (p *Pool) canAdmit(procID int, t Type, bwPrefetch bool) bool {
	free := len(p.free)
	if free == 0 {
		return false
	}

	if t.IsPrefetch() {
		if bwPrefetch && free <= p.cfg.BWPrefWatermark {
			return false
		}
		if p.cfg.PrivateMSHR {
			if p.perCoreInUse[procID]+p.cfg.PrefWatermark >= p.privateCap() {
				return false
			}
		} else if free <= p.cfg.PrefWatermark {
			return false
		}
	}

	if !t.IsWriteback() && free <= p.cfg.WBValve {
		return false
	}

	return true
}

// Alloc reserves a slot for a new request of type t issued by procID. ok is
// false on a capacity failure, which the caller may respond to by
// attempting a prefetch kick-out (lib/queue) before giving up; no state is
// mutated on failure.
func (p *Pool) Alloc(procID int, t Type, bwPrefetch bool) (req *MemReq, ok bool) {
	if len(p.free) == 0 {
		p.deniedCapacity++
		return nil, false
	}
	if !p.canAdmit(procID, t, bwPrefetch) {
		if t.IsPrefetch() {
			p.deniedPref++
		} else {
			p.deniedWB++
		}
		return nil, false
	}

	idx := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]

	r := &p.entries[idx]
	r.reset()
	r.ProcID = procID
	r.Type = t
	r.BWPrefetch = bwPrefetch

	if p.cfg.PrivateMSHR {
		p.perCoreInUse[procID]++
	}
	p.generation[idx]++
	return r, true
}

// Free returns id to the free list. It is a protocol violation (panic) to
// free a slot that is already free, or an out-of-range id, since that can
// only happen if the lifecycle FSM double-completed a request.
func (p *Pool) Free(id int) {
	if id < 0 || id >= len(p.entries) {
		panic(fmt.Errorf("reqbuf: Free: id %d out of range [0,%d)", id, len(p.entries)))
	}
	r := &p.entries[id]
	if r.State == StateInv {
		panic(fmt.Errorf("reqbuf: Free: id %d is already free (double free)", id))
	}
	if p.cfg.PrivateMSHR {
		p.perCoreInUse[r.ProcID]--
	}
	r.reset()
	p.free = append(p.free, id)
}

// Get returns a pointer to slot id for inspection/mutation by the lifecycle
// FSM. It is a protocol violation (panic) to Get a free slot.
func (p *Pool) Get(id int) *MemReq {
	if id < 0 || id >= len(p.entries) {
		panic(fmt.Errorf("reqbuf: Get: id %d out of range [0,%d)", id, len(p.entries)))
	}
	r := &p.entries[id]
	if r.State == StateInv {
		panic(fmt.Errorf("reqbuf: Get: id %d is not allocated", id))
	}
	return r
}

// Generation returns the current generation counter for slot id, for
// OpHandle-style staleness checks elsewhere.
func (p *Pool) Generation(id int) uint64 { return p.generation[id] }

// CheckInvariant verifies req_count + free_list_count == total_buffers
// (§8 invariant 2), for use in debug builds / tests. A violation is a
// protocol violation: it means a slot was neither allocated nor free, which
// cannot happen through the public API and indicates a bug in Pool itself.
func (p *Pool) CheckInvariant() error {
	if p.InUse()+p.FreeCount() != p.Total() {
		return fmt.Errorf("reqbuf: invariant violated: in_use(%d) + free(%d) != total(%d)", p.InUse(), p.FreeCount(), p.Total())
	}
	return nil
}
