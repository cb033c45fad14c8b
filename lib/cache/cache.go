// SPDX-License-Identifier: GPL-2.0-or-later

package cache

import (
	"fmt"

	"github.com/memhier/simcore/lib/replacement"
)

// Line is a single cache way: the tag store entry and its replacement
// metadata in one struct, so that the line's validity and the replacement
// engine's view of that validity can never drift out of lock-step (the
// mirrored-grid design this replaces required that discipline be kept by
// hand). Data is opaque to the cache; it is the generic payload carried for
// whoever instantiates this cache (an MLC/L1 line body, or nothing at all
// for a tag-only shadow cache).
type Line[T any] struct {
	replacement.LineMeta
	Dirty bool
	Tag   uint64
	Data  T
}

// Config describes a cache's fixed geometry and policy. All of Capacity,
// Assoc, and LineSize must be powers of two, and Capacity/LineSize/Assoc
// (the set count) must also be a power of two; violating this is a
// configuration error and Cache construction returns an error rather than
// panicking, per the fatal-at-init error class.
type Config struct {
	Name     string
	Capacity int // bytes
	Assoc    int
	LineSize int
	Policy   replacement.Policy
	Banks    int // 0 or 1 means "single bank"
}

// Cache is a generic set-associative tag store. MLC, the shared L1, and the
// partitioner's per-core shadow caches are each a distinct instantiation
// over whatever payload type that level wants to carry.
type Cache[T any] struct {
	cfg Config
	geo geometry

	sets   [][]Line[T]
	engine *replacement.Engine

	// partition[procID] is the set of way indices that core may victimize
	// on insert, under the UCP partitioner (§4.6). A nil/absent entry
	// means "no restriction" (every way is a candidate).
	partition map[int][]int

	ports *BankPorts
}

// New constructs a Cache. engine may be shared across multiple caches (it
// is stateless beyond an optional RNG) or private to this one.
func New[T any](cfg Config, engine *replacement.Engine) (*Cache[T], error) {
	geo, err := newGeometry(cfg.Capacity, cfg.Assoc, cfg.LineSize)
	if err != nil {
		return nil, fmt.Errorf("cache %q: %w", cfg.Name, err)
	}
	banks := cfg.Banks
	if banks < 1 {
		banks = 1
	}
	if geo.numSets%banks != 0 {
		return nil, fmt.Errorf("cache %q: bank count %d does not divide set count %d", cfg.Name, banks, geo.numSets)
	}
	sets := make([][]Line[T], geo.numSets)
	for i := range sets {
		sets[i] = make([]Line[T], cfg.Assoc)
	}
	return &Cache[T]{
		cfg:    cfg,
		geo:    geo,
		sets:   sets,
		engine: engine,
		ports:  NewBankPorts(banks, 1, 1),
	}, nil
}

func (c *Cache[T]) Config() Config   { return c.cfg }
func (c *Cache[T]) NumSets() int     { return c.geo.numSets }
func (c *Cache[T]) BankOf(set int) int {
	banks := c.cfg.Banks
	if banks < 1 {
		banks = 1
	}
	return set % banks
}

func (c *Cache[T]) Offset(addr uint64) uint64  { return c.geo.offset(addr) }
func (c *Cache[T]) Index(addr uint64) int      { return c.geo.index(addr) }
func (c *Cache[T]) Tag(addr uint64) uint64     { return c.geo.tag(addr) }
func (c *Cache[T]) LineAddr(addr uint64) uint64 { return c.geo.lineAddr(addr) }

// Ports exposes the per-bank read/write port accounting for this cache, so
// the lifecycle FSM can reserve a port before advancing a request out of a
// *_NEW state.
func (c *Cache[T]) Ports() *BankPorts { return c.ports }

// SetPartition restricts procID to only victimizing the given way indices
// on Insert. Passing a nil or empty ways slice removes any restriction.
// This is called by the UCP partitioner (§4.6) after each periodic update;
// it never affects hit detection in Access/Probe, only eviction candidate
// selection in Insert.
func (c *Cache[T]) SetPartition(procID int, ways []int) {
	if c.partition == nil {
		c.partition = make(map[int][]int)
	}
	if len(ways) == 0 {
		delete(c.partition, procID)
		return
	}
	c.partition[procID] = append([]int(nil), ways...)
}

func (c *Cache[T]) candidateWays(procID int) []int {
	if ways, ok := c.partition[procID]; ok {
		return ways
	}
	all := make([]int, c.cfg.Assoc)
	for i := range all {
		all[i] = i
	}
	return all
}

func (c *Cache[T]) search(set int, tag uint64) (way int, ok bool) {
	for w := range c.sets[set] {
		line := &c.sets[set][w]
		if line.Valid && line.Tag == tag {
			return w, true
		}
	}
	return 0, false
}

// Access searches for addr, promoting the line via the replacement engine
// on a hit (and clearing its prefetch bit, since a demand access to a line
// brought in by a prefetch means that prefetch has now been "used"). It
// never allocates on a miss.
func (c *Cache[T]) Access(procID int, addr uint64, now uint64) (hit bool, data T, ca Address) {
	set := c.geo.index(addr)
	tag := c.geo.tag(addr)
	w, ok := c.search(set, tag)
	if !ok {
		var zero T
		return false, zero, Address{}
	}
	line := &c.sets[set][w]
	c.engine.OnAccess(&line.LineMeta, now)
	return true, line.Data, Address{Valid: true, Set: set, Way: w}
}

// Probe is identical to Access but never perturbs replacement metadata: no
// promotion, no prefetch-bit clear.
func (c *Cache[T]) Probe(addr uint64) (hit bool, data T) {
	set := c.geo.index(addr)
	tag := c.geo.tag(addr)
	w, ok := c.search(set, tag)
	if !ok {
		var zero T
		return false, zero
	}
	return true, c.sets[set][w].Data
}

// AccessPosition is Access plus the hit's LRU-stack rank (0 = most
// recently used among the set's other valid ways), for the UCP
// partitioner's shadow caches (§4.6), which always run true-LRU and need
// the rank to build a hit-position histogram regardless of this cache's own
// configured Policy. position is -1 on a miss.
func (c *Cache[T]) AccessPosition(addr uint64, now uint64) (hit bool, position int) {
	set := c.geo.index(addr)
	tag := c.geo.tag(addr)
	w, ok := c.search(set, tag)
	if !ok {
		return false, -1
	}
	line := &c.sets[set][w]
	rank := 0
	for i := range c.sets[set] {
		if i == w {
			continue
		}
		other := &c.sets[set][i]
		if other.Valid && other.AccessCycle > line.AccessCycle {
			rank++
		}
	}
	c.engine.OnAccess(&line.LineMeta, now)
	return true, rank
}

// PeekVictim returns the payload of the line that would be evicted by the
// next Insert for addr's set, without mutating any state
// (get_next_repl_line in the original design). Used by the fill/write-back
// logic to decide whether a synthesized write-back is needed before the
// fill actually commits.
func (c *Cache[T]) PeekVictim(procID int, addr uint64) (data T, ca Address) {
	set := c.geo.index(addr)
	cands, idx := c.metaCandidates(set, procID)
	// Victim ages RRPVs in place under SRRIP; search over copies so the
	// peek leaves the set's metadata untouched.
	for i, m := range cands {
		cp := *m
		cands[i] = &cp
	}
	v := c.engine.Victim(cands, 0)
	way := idx[v]
	return c.sets[set][way].Data, Address{Valid: true, Set: set, Way: way}
}

func (c *Cache[T]) metaCandidates(set, procID int) ([]*replacement.LineMeta, []int) {
	ways := c.candidateWays(procID)
	cands := make([]*replacement.LineMeta, len(ways))
	for i, w := range ways {
		cands[i] = &c.sets[set][w].LineMeta
	}
	return cands, ways
}

// Insert always evicts: it picks a victim via the replacement engine
// (restricted to procID's allotted ways if the cache is partitioned),
// overwrites the line, and seeds its replacement metadata. The evicted
// line's previous valid bit, tag, and payload are returned so the caller
// can perform a write-back before the overwrite is considered final (the
// overwrite has, in fact, already happened by the time Insert returns --
// callers that need the old payload to synthesize a write-back must use
// PeekVictim first).
func (c *Cache[T]) Insert(procID int, addr uint64, isPrefetch bool, newData T, now uint64) (evictedValid bool, evictedTag uint64, evictedData T, ca Address) {
	return c.InsertAt(procID, addr, isPrefetch, newData, now, replacement.InsertMRU)
}

// InsertAt is Insert with an explicit replacement.InsertPosition, used when
// a prefetch's configured insertion policy is not the default MRU
// position.
func (c *Cache[T]) InsertAt(procID int, addr uint64, isPrefetch bool, newData T, now uint64, pos replacement.InsertPosition) (evictedValid bool, evictedTag uint64, evictedData T, ca Address) {
	set := c.geo.index(addr)
	tag := c.geo.tag(addr)
	cands, idx := c.metaCandidates(set, procID)
	v := c.engine.Victim(cands, now)
	way := idx[v]

	line := &c.sets[set][way]
	evictedValid, evictedTag, evictedData = line.Valid, line.Tag, line.Data

	line.Tag = tag
	line.Data = newData
	line.Dirty = false
	c.engine.OnInsertAt(&line.LineMeta, procID, isPrefetch, now, pos)

	return evictedValid, evictedTag, evictedData, Address{Valid: true, Set: set, Way: way}
}

// Invalidate clears the matching line (if any) and its replacement state.
func (c *Cache[T]) Invalidate(addr uint64) (hit bool, data T, ca Address) {
	set := c.geo.index(addr)
	tag := c.geo.tag(addr)
	w, ok := c.search(set, tag)
	if !ok {
		var zero T
		return false, zero, Address{}
	}
	line := &c.sets[set][w]
	data = line.Data
	c.engine.OnInvalidate(&line.LineMeta)
	var zero T
	line.Data = zero
	line.Tag = 0
	line.Dirty = false
	return true, data, Address{Valid: true, Set: set, Way: w}
}

// At returns a pointer to a specific line, for callers (the fill logic)
// that already hold an Address from a prior Access/Insert/PeekVictim and
// need to mutate the line's payload or dirty bit directly (e.g. to seed the
// fields of a freshly-installed L1 line).
func (c *Cache[T]) At(ca Address) *Line[T] {
	return &c.sets[ca.Set][ca.Way]
}

// MarkDirty sets the dirty bit on the line at ca.
func (c *Cache[T]) MarkDirty(ca Address, dirty bool) {
	c.sets[ca.Set][ca.Way].Dirty = dirty
}

// LineAddrAt reconstructs the line-aligned address of whatever line
// currently occupies ca, from its stored tag and set index. Callers that
// need a victim's address for a synthesized write-back must call this
// between PeekVictim and the matching Insert, since Insert overwrites the
// tag.
func (c *Cache[T]) LineAddrAt(ca Address) uint64 {
	return c.geo.addrFromTagSet(c.sets[ca.Set][ca.Way].Tag, ca.Set)
}
