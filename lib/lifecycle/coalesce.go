// SPDX-License-Identifier: GPL-2.0-or-later

package lifecycle

import "github.com/memhier/simcore/lib/reqbuf"

// matchOutcome describes what a coalescing match does to the existing,
// already-in-flight request.
type matchOutcome int

const (
	noMatch matchOutcome = iota
	matchAsIs
	matchPromote
	matchWBRequestedBack
)

// classifyMatch applies the matching rules of §4.4: same type always
// matches; an instruction prefetch matches an incoming instruction demand
// (and is promoted); a data prefetch matches an incoming data demand of
// either flavor (and is promoted to that flavor); a write-back matches an
// incoming demand only when the FSM's config allows cross-type matching,
// in which case the write-back adopts the demand's completion instead of
// being promoted itself. Under HIER_MSHR_ON the source explicitly refuses
// WB<->non-WB matching regardless of allowWBDemand, since the private-MSHR
// reservation accounting interacts subtly with cross-type matches.
func classifyMatch(existing, incoming reqbuf.Type, allowWBDemand, hierMSHROn bool) matchOutcome {
	if existing == incoming {
		return matchAsIs
	}
	switch {
	case existing == reqbuf.IPRF && incoming == reqbuf.IFETCH:
		return matchPromote
	case existing == reqbuf.IFETCH && incoming == reqbuf.IPRF:
		return matchAsIs
	case existing == reqbuf.DPRF && (incoming == reqbuf.DFETCH || incoming == reqbuf.DSTORE):
		return matchPromote
	case existing == reqbuf.DFETCH && incoming == reqbuf.DPRF:
		return matchAsIs
	case existing == reqbuf.DSTORE && incoming == reqbuf.DPRF:
		return matchAsIs
	case existing.IsWriteback() && !incoming.IsWriteback():
		if hierMSHROn || !allowWBDemand {
			return noMatch
		}
		return matchWBRequestedBack
	default:
		return noMatch
	}
}

// applyMatch merges incoming's contribution into the existing request per
// §4.4: op lists merge, oldest_op_unique_num takes the minimum, off_path
// weakens (AND), and a promotion updates Type at most once (promotion only
// turns a prefetch type into a demand type, so a promoted request cannot
// be promoted again).
func applyMatch(existing *reqbuf.MemReq, outcome matchOutcome, incomingType reqbuf.Type, incomingUniqueNum uint64, incomingOffPath bool, waiter reqbuf.Waiter, done reqbuf.DoneFunc) {
	existing.Waiters = append(existing.Waiters, waiter)
	existing.ReqCount++
	if incomingUniqueNum < existing.OldestOpUniqueNum {
		existing.OldestOpUniqueNum = incomingUniqueNum
	}
	existing.OffPath = existing.OffPath && incomingOffPath

	switch outcome {
	case matchPromote:
		if existing.Type != incomingType {
			existing.DemandMatchPrefetch = true
			existing.Type = incomingType
		}
		if done != nil {
			existing.Done = done
		}
	case matchWBRequestedBack:
		existing.WBRequestedBack = true
		if done != nil {
			existing.Done = done
		}
	case matchAsIs:
		existing.OnpathMatchOffpath = existing.OnpathMatchOffpath || (!existing.OffPath && incomingOffPath)
	}
}
