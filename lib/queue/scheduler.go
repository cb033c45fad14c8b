// SPDX-License-Identifier: GPL-2.0-or-later

package queue

import "github.com/memhier/simcore/lib/reqbuf"

// Config sizes the six queues a Scheduler owns (§4.5).
type Config struct {
	MLCSize     int
	L1Size      int
	BusOutSize  int
	MLCFillSize int
	L1FillSize  int
	CoreFillSize int
	NumCores    int
	FIFO        bool // ALL_FIFO_QUEUES
	RoundRobinToL1 bool
}

// Scheduler owns the three request queues (MLC, L1, BusOut) and three fill
// queues (MLCFill, L1Fill, one CoreFill per core) that the lifecycle FSM
// drains every cycle. It does not itself run the FSM; it only holds the
// ordered queues and the kick-out search used to reclaim a buffer from an
// in-flight prefetch when a pool or queue allocation fails.
type Scheduler struct {
	MLC     *Queue
	L1      *Queue
	BusOut  *Queue
	MLCFill *Queue
	L1Fill  *Queue
	CoreFill []*Queue

	// RoundRobinToL1 records the ALL_FIFO_QUEUES-adjacent ROUND_ROBIN_TO_L1
	// config flag (the original's per-core round-robin draining of newly
	// issued requests into the L1 queue, see memory.c's
	// mem_insert_req_round_robin). Recognized for config-file
	// compatibility but not currently consulted: see DESIGN.md.
	RoundRobinToL1 bool
}

// NewScheduler constructs a Scheduler with cfg's queue sizes. Queue capacity
// of zero means "unbounded" is not supported here; callers must size every
// queue from configuration, matching the original's fixed-array queues.
func NewScheduler(cfg Config) *Scheduler {
	s := &Scheduler{
		MLC:            New("MLC", cfg.MLCSize, cfg.FIFO),
		L1:             New("L1", cfg.L1Size, cfg.FIFO),
		BusOut:         New("BUS_OUT", cfg.BusOutSize, cfg.FIFO),
		MLCFill:        New("MLC_FILL", cfg.MLCFillSize, true),
		L1Fill:         New("L1_FILL", cfg.L1FillSize, true),
		CoreFill:       make([]*Queue, cfg.NumCores),
		RoundRobinToL1: cfg.RoundRobinToL1,
	}
	for i := range s.CoreFill {
		s.CoreFill[i] = New("CORE_FILL", cfg.CoreFillSize, true)
	}
	return s
}

// All returns every queue owned by the scheduler, for bulk per-cycle
// operations such as "sort every queue before processing starts".
func (s *Scheduler) All() []*Queue {
	all := []*Queue{s.MLC, s.L1, s.BusOut, s.MLCFill, s.L1Fill}
	return append(all, s.CoreFill...)
}

// SortAll runs SortIfDirty on every queue; lifecycle.FSM.ProcessCycle calls
// this once at the top of each uncore tick, before any queue is walked.
func (s *Scheduler) SortAll() {
	for _, q := range s.All() {
		q.SortIfDirty()
	}
}

// KickoutScope selects which queues FindKickoutVictim searches.
type KickoutScope int

const (
	// ScopeBank restricts the search to requests whose MLCBank (or L1Bank,
	// chosen by the caller via bankOf) equals the target bank.
	ScopeBank KickoutScope = iota
	// ScopeAll searches every request-stage queue regardless of bank.
	ScopeAll
)

// FindKickoutVictim searches the request-stage queues (MLC, L1, BusOut --
// fill queues are never kicked out, since their requests have already
// returned from memory and are just waiting to install) for the oldest still-pending prefetch whose
// priority is strictly worse than incomingPriority, per §4.5's kick-out
// rule. bank and bankOf are only consulted when scope is ScopeBank.
// reqs.Get(id) is used to read Type/Priority/Bank/State; a request in a
// MEM_WAIT-or-later state is not a valid kick-out victim since its buffer
// is already irrevocably committed to an outstanding DRAM access.
func FindKickoutVictim(queues []*Queue, reqs *reqbuf.Pool, incomingPriority uint64, scope KickoutScope, bank int, bankOf func(*reqbuf.MemReq) int) (id int, ok bool) {
	var bestID int
	var bestStart uint64
	found := false

	for _, q := range queues {
		for _, candidate := range q.IDs() {
			r := reqs.Get(candidate)
			if !r.Type.IsPrefetch() {
				continue
			}
			if r.State >= reqbuf.StateMemWait {
				continue
			}
			if r.Priority <= incomingPriority {
				continue
			}
			if scope == ScopeBank && bankOf(r) != bank {
				continue
			}
			if !found || r.StartCycle < bestStart {
				found = true
				bestID = candidate
				bestStart = r.StartCycle
			}
		}
	}
	return bestID, found
}
