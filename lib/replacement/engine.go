// SPDX-License-Identifier: GPL-2.0-or-later

package replacement

import "math/rand"

// Engine is a stateless (beyond its RNG) victim-selection policy
// implementation. A Cache owns one Engine and hands it the candidate set
// for a given set on every insert; the candidate set may be a subset of the
// full associativity when the cache partitioner (see lib/partition) has
// restricted a core to a subrange of ways.
type Engine struct {
	Policy Policy

	// rng is only consulted by the Random policy. Tests that need
	// determinism should construct the Engine with a seeded *rand.Rand.
	rng *rand.Rand
}

// NewEngine constructs an Engine for the given policy. rng may be nil; the
// Random policy then draws from the process-global source.
func NewEngine(policy Policy, rng *rand.Rand) *Engine {
	return &Engine{Policy: policy, rng: rng}
}

// Victim selects an index (into candidates) to evict or use for an
// empty-line insert. candidates must be non-empty; it is a caller bug
// (panic) to call Victim with an empty candidate set, since every set has
// at least one way and the partitioner never assigns a core zero ways.
func (e *Engine) Victim(candidates []*LineMeta, now uint64) int {
	if len(candidates) == 0 {
		panic("replacement: Victim called with empty candidate set")
	}

	// An invalid way always wins immediately, for every policy.
	for i, m := range candidates {
		if !m.Valid {
			return i
		}
	}

	switch e.Policy {
	case LRU:
		return e.victimLRU(candidates)
	case MRU:
		return e.victimMRU(candidates)
	case Random:
		return e.victimRandom(candidates)
	case SRRIP:
		return e.victimSRRIP(candidates, now)
	default:
		panic("replacement: unknown policy")
	}
}

// victimLRU picks the way with the smallest AccessCycle, preferring the
// oldest prefetched-but-untouched way if one exists.
func (e *Engine) victimLRU(candidates []*LineMeta) int {
	if i, ok := oldestPrefetch(candidates); ok {
		return i
	}
	best := 0
	for i, m := range candidates {
		if m.AccessCycle < candidates[best].AccessCycle {
			best = i
		}
	}
	return best
}

// victimMRU mirrors victimLRU at the high end: the way with the largest
// AccessCycle, again preferring an untouched prefetch first.
func (e *Engine) victimMRU(candidates []*LineMeta) int {
	if i, ok := oldestPrefetch(candidates); ok {
		return i
	}
	best := 0
	for i, m := range candidates {
		if m.AccessCycle > candidates[best].AccessCycle {
			best = i
		}
	}
	return best
}

// oldestPrefetch returns the index of the prefetched-but-untouched line with
// the smallest InsertCycle, if any such line exists among candidates.
func oldestPrefetch(candidates []*LineMeta) (int, bool) {
	found := -1
	for i, m := range candidates {
		if !m.Prefetch {
			continue
		}
		if found == -1 || m.InsertCycle < candidates[found].InsertCycle {
			found = i
		}
	}
	return found, found != -1
}

func (e *Engine) victimRandom(candidates []*LineMeta) int {
	if e.rng != nil {
		return e.rng.Intn(len(candidates))
	}
	return rand.Intn(len(candidates))
}

// victimSRRIP implements the standard SRRIP aging search: pick an RRPV==max
// line if one exists, else age every candidate (RRPV++, capped at max) and
// retry. This always terminates within RRPVMax rounds, since at least one
// candidate's RRPV strictly increases towards max each round (invalid ways
// were already handled above).
func (e *Engine) victimSRRIP(candidates []*LineMeta, _ uint64) int {
	for round := 0; round <= RRPVMax; round++ {
		for i, m := range candidates {
			if m.RRPV >= RRPVMax {
				return i
			}
		}
		for _, m := range candidates {
			if m.RRPV < RRPVMax {
				m.RRPV++
			}
		}
	}
	// Every candidate is now at RRPVMax; take the first.
	return 0
}
