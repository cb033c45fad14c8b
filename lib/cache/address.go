// SPDX-License-Identifier: GPL-2.0-or-later

// Package cache implements the generic set-associative cache used to
// instantiate the MLC, the shared L1, and the shadow caches used by the
// partitioner: a two-dimensional grid of lines indexed by (set, way),
// parameterized by capacity, associativity, line size, and replacement
// policy.
package cache

import (
	"fmt"
	"math/bits"
)

// Address identifies a specific line within a cache by (set, way), letting
// a caller re-access a line found by a prior Access/Insert/Invalidate
// without re-decomposing and re-searching for the address. Valid is false
// for a "no such line" result; callers must check it rather than relying on
// a sentinel Set/Way value.
type Address struct {
	Valid bool
	Set   int
	Way   int
}

// isPow2 reports whether n is a positive power of two.
func isPow2(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// log2 returns log base 2 of n, which must be an exact power of two.
func log2(n int) uint {
	return uint(bits.TrailingZeros(uint(n)))
}

// geometry is the set of derived address-decomposition constants for a
// cache configuration. It is computed once at construction and is
// immutable thereafter.
type geometry struct {
	lineSize   int
	numSets    int
	offsetBits uint
	indexBits  uint
}

func newGeometry(capacityBytes, assoc, lineSize int) (geometry, error) {
	if !isPow2(capacityBytes) || !isPow2(assoc) || !isPow2(lineSize) {
		return geometry{}, fmt.Errorf("cache: capacity (%d), associativity (%d), and line size (%d) must all be powers of two", capacityBytes, assoc, lineSize)
	}
	numSets := capacityBytes / lineSize / assoc
	if numSets < 1 || !isPow2(numSets) {
		return geometry{}, fmt.Errorf("cache: capacity/lineSize/assoc = %d is not a positive power of two (derived set count)", numSets)
	}
	return geometry{
		lineSize:   lineSize,
		numSets:    numSets,
		offsetBits: log2(lineSize),
		indexBits:  log2(numSets),
	}, nil
}

// offset returns the block-offset bits of addr: addr & (lineSize-1).
func (g geometry) offset(addr uint64) uint64 {
	return addr & uint64(g.lineSize-1)
}

// index returns the set index of addr.
func (g geometry) index(addr uint64) int {
	return int((addr >> g.offsetBits) & uint64(g.numSets-1))
}

// tag returns the tag bits of addr: everything above offset+index.
func (g geometry) tag(addr uint64) uint64 {
	return addr >> (g.offsetBits + g.indexBits)
}

// lineAddr returns the line-aligned address containing addr.
func (g geometry) lineAddr(addr uint64) uint64 {
	return addr &^ uint64(g.lineSize-1)
}

// addrFromTagSet reconstructs the line-aligned address of a line given its
// tag and set index, the inverse of tag/index. Used by fill/write-back
// logic to address a synthesized write-back at an evicted line, whose
// original request address was never stored.
func (g geometry) addrFromTagSet(tag uint64, set int) uint64 {
	return (tag << (g.offsetBits + g.indexBits)) | (uint64(set) << g.offsetBits)
}
