// SPDX-License-Identifier: GPL-2.0-or-later

// Package queue implements the ordered, bounded request queues of §4.5:
// the three request queues (MLC, L1, BUS_OUT) and three fill queues
// (MLC-fill, L1-fill, per-core-fill), their FIFO/priority ordering modes,
// and the kick-out search used to reclaim a buffer from an in-flight
// prefetch.
package queue

import (
	"sort"

	"github.com/memhier/simcore/lib/containers"
)

// entry is the payload stored in the queue's LinkedList: a (reqbuf-id,
// priority) pair plus the monotonic insertion sequence used both as the
// FIFO-mode priority and as the stable tie-breaker in priority mode.
type entry struct {
	ReqID    int
	Priority uint64
	Seq      uint64
}

// Queue is an ordered bounded sequence of (reqbuf-id, priority) pairs.
// Entries are appended on Insert and kept in a doubly-linked list (giving
// O(1) removal by id, and a natural oldest-to-newest walk order); the
// priority ordering required once per cycle is applied lazily by
// SortIfDirty, which only does work if something was inserted or
// re-prioritized since the last call.
type Queue struct {
	Name     string
	size     int
	reserved int
	fifo     bool

	list    containers.LinkedList[entry]
	byID    map[int]*containers.LinkedListEntry[entry]
	nextSeq uint64
	dirty   bool
}

// New constructs a Queue with the given configured size (the invariant
// entry_count + reserved_entry_count <= size is enforced by Insert; Reserve
// only rejects a reserved count above size). fifo selects FIFO ordering (ALL_FIFO_QUEUES); otherwise the
// queue is in priority mode and the caller supplies priorities explicitly.
func New(name string, size int, fifo bool) *Queue {
	return &Queue{
		Name: name,
		size: size,
		fifo: fifo,
		byID: make(map[int]*containers.LinkedListEntry[entry]),
	}
}

func (q *Queue) Len() int      { return q.list.Len }
func (q *Queue) Size() int     { return q.size }
func (q *Queue) Reserved() int { return q.reserved }

// Reserve adjusts the reserved-slot count (used under HIER_MSHR_ON
// accounting). It is a caller bug (panic) to reserve more than the queue's
// size allows, since that would make the entry_count+reserved<=size
// invariant unsatisfiable even when empty.
func (q *Queue) Reserve(n int) {
	if n < 0 || n > q.size {
		panic("queue: Reserve: reserved count out of range")
	}
	q.reserved = n
}

// CanInsert reports whether one more entry would still satisfy
// entry_count + reserved_entry_count <= size.
func (q *Queue) CanInsert() bool {
	return q.list.Len+q.reserved < q.size
}

func (q *Queue) Contains(reqID int) bool {
	_, ok := q.byID[reqID]
	return ok
}

// Insert appends reqID with the given priority (ignored under FIFO mode,
// where the insertion sequence itself is the priority). Returns false on a
// capacity failure (§7): the queue is full and the caller must retry next
// cycle.
func (q *Queue) Insert(reqID int, priority uint64) bool {
	if !q.CanInsert() {
		return false
	}
	seq := q.nextSeq
	q.nextSeq++
	p := priority
	if q.fifo {
		p = seq
	}
	e := &containers.LinkedListEntry[entry]{Value: entry{ReqID: reqID, Priority: p, Seq: seq}}
	q.list.Store(e)
	q.byID[reqID] = e
	q.dirty = true
	return true
}

// Remove deletes reqID from the queue, if present. It is a no-op if reqID
// is not in this queue (matching mem_req may live in a different queue by
// the time a caller tries to remove it).
func (q *Queue) Remove(reqID int) {
	e, ok := q.byID[reqID]
	if !ok {
		return
	}
	q.list.Delete(e)
	delete(q.byID, reqID)
}

// UpdatePriority overwrites reqID's in-queue priority (used when
// coalescing promotes a request to a stricter caller's priority) and marks
// the queue dirty so the next SortIfDirty picks up the change. It is a
// no-op under FIFO mode, where priority is fixed at insertion order, and
// returns false if reqID is not present.
func (q *Queue) UpdatePriority(reqID int, priority uint64) bool {
	e, ok := q.byID[reqID]
	if !ok {
		return false
	}
	if q.fifo {
		return false
	}
	e.Value.Priority = priority
	q.dirty = true
	return true
}

// SortIfDirty performs the once-per-cycle lazy stable sort described in
// §4.5: if anything was inserted or re-prioritized since the last call,
// the queue's linked-list order is rebuilt to be non-decreasing by
// priority, with ties broken by original insertion sequence (stability).
func (q *Queue) SortIfDirty() {
	if !q.dirty {
		return
	}
	q.dirty = false

	entries := make([]*containers.LinkedListEntry[entry], 0, q.list.Len)
	for e := q.list.Oldest; e != nil; e = e.Newer {
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Value.Priority < entries[j].Value.Priority
	})
	for _, e := range entries {
		q.list.Delete(e)
	}
	for _, e := range entries {
		q.list.Store(e)
	}
}

// Walk visits every entry in oldest-to-newest order, snapshotting the id
// list first so that fn may safely call Remove (directly, or indirectly by
// freeing the request buffer) on the current or a later entry without
// corrupting the walk.
func (q *Queue) Walk(fn func(reqID int)) {
	ids := make([]int, 0, q.list.Len)
	for e := q.list.Oldest; e != nil; e = e.Newer {
		ids = append(ids, e.Value.ReqID)
	}
	for _, id := range ids {
		if _, ok := q.byID[id]; !ok {
			continue // removed earlier in this same pass
		}
		fn(id)
	}
}

// Oldest returns the id of the oldest (first-inserted, or — after a sort —
// highest-priority) entry.
func (q *Queue) Oldest() (int, bool) {
	if q.list.Oldest == nil {
		return 0, false
	}
	return q.list.Oldest.Value.ReqID, true
}

// IDs returns a snapshot slice of every queued id, oldest first.
func (q *Queue) IDs() []int {
	ids := make([]int, 0, q.list.Len)
	for e := q.list.Oldest; e != nil; e = e.Newer {
		ids = append(ids, e.Value.ReqID)
	}
	return ids
}
