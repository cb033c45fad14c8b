// SPDX-License-Identifier: GPL-2.0-or-later

// Package replacement implements the pluggable cache replacement policy
// engine: true-LRU, MRU, random, and SRRIP, each aware of prefetched-but-
// untouched lines.
package replacement

import "fmt"

// Policy enumerates the supported replacement policies. It is a small,
// closed set of enumerators rather than an open dynamic-dispatch interface;
// the original simulator's function-pointer dispatch on repl_policy has no
// need for further extension here.
type Policy int

const (
	LRU Policy = iota
	MRU
	Random
	SRRIP
)

func (p Policy) String() string {
	switch p {
	case LRU:
		return "lru"
	case MRU:
		return "mru"
	case Random:
		return "random"
	case SRRIP:
		return "srrip"
	default:
		return fmt.Sprintf("replacement.Policy(%d)", int(p))
	}
}

// ParsePolicy maps a configuration string (as accepted by
// L1_CACHE_REPL_POLICY) onto a Policy. PARTITION is handled one layer up, by
// the partition package, which runs true-LRU underneath with a restricted
// candidate set; it is not a Policy value in its own right.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "lru", "LRU":
		return LRU, nil
	case "mru", "MRU":
		return MRU, nil
	case "random", "RANDOM":
		return Random, nil
	case "srrip", "SRRIP":
		return SRRIP, nil
	default:
		return 0, fmt.Errorf("replacement: unknown policy %q", s)
	}
}

// RRPVMax is the maximum value (and "long" re-reference prediction) of the
// 2-bit SRRIP counter.
const RRPVMax = 3

// LineMeta is the replacement metadata for a single cache way. It is
// embedded directly into the cache's per-way line struct (rather than kept
// in a separate mirrored grid) so that Valid here and the line's own valid
// bit cannot drift out of lock-step by construction; the original simulator
// kept these in two places and had to maintain the invariant by hand.
type LineMeta struct {
	Valid       bool
	Prefetch    bool // brought in by a prefetch, not yet demand-touched
	ProcID      int
	InsertCycle uint64
	AccessCycle uint64
	RRPV        uint8 // only meaningful under SRRIP
}

// OnInsert records that a line was just (re)installed.
func (e *Engine) OnInsert(m *LineMeta, procID int, isPrefetch bool, now uint64) {
	e.OnInsertAt(m, procID, isPrefetch, now, InsertMRU)
}

// InsertPosition selects where a freshly-installed line starts in the
// recency/re-reference order (§4.7 step 4), giving a prefetcher framework
// control over how aggressively a speculative line is protected from
// eviction. Under SRRIP this maps directly onto the initial RRPV; under
// LRU/MRU/Random, which have no notion of an insertion position besides
// "most recently used", it is approximated by biasing AccessCycle instead
// of inserting into a true mid-stack position (this module has no ordered
// recency stack to insert into -- see DESIGN.md).
type InsertPosition int

const (
	InsertMRU    InsertPosition = iota // inserted as if just accessed (the common case)
	InsertMiddle                       // biased towards the middle of the recency order
	InsertLowQtr                       // biased towards the back quarter (first out)
	InsertLongRe                       // SRRIP "long re-reference": evict almost immediately if not reused
)

// OnInsertAt is OnInsert with an explicit InsertPosition, used when a
// prefetch's insertion policy (PREF_INSERT_*) is not the default MRU
// position.
func (e *Engine) OnInsertAt(m *LineMeta, procID int, isPrefetch bool, now uint64, pos InsertPosition) {
	m.Valid = true
	m.ProcID = procID
	m.Prefetch = isPrefetch
	m.InsertCycle = now
	m.AccessCycle = now

	switch e.Policy {
	case SRRIP:
		switch pos {
		case InsertMiddle:
			m.RRPV = RRPVMax / 2
		case InsertLowQtr, InsertLongRe:
			m.RRPV = RRPVMax
		default:
			m.RRPV = RRPVMax - 1
		}
	case LRU, MRU:
		// Bias AccessCycle backwards in time so the line sorts as if it
		// had been installed pos "ago" rather than just now, without a
		// true ordered stack to insert into at an arbitrary rank.
		switch pos {
		case InsertMiddle:
			if now > 0 {
				m.AccessCycle = now / 2
			}
		case InsertLowQtr, InsertLongRe:
			m.AccessCycle = 0
		}
	}
}

// OnAccess records a demand or promoted-demand touch of an existing line.
func (e *Engine) OnAccess(m *LineMeta, now uint64) {
	m.AccessCycle = now
	m.Prefetch = false
	if e.Policy == SRRIP {
		m.RRPV = 0
	}
}

// OnInvalidate clears a line's replacement state. Timestamps are pushed to
// the zero value, which combined with Valid=false is enough: an invalid way
// always wins victim selection immediately, so stale timestamps on an
// invalid line are never consulted.
func (e *Engine) OnInvalidate(m *LineMeta) {
	m.Valid = false
	m.Prefetch = false
	m.InsertCycle = 0
	m.AccessCycle = 0
	m.RRPV = 0
}
