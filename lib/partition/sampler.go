// SPDX-License-Identifier: GPL-2.0-or-later

package partition

import (
	lru "github.com/hashicorp/golang-lru"
)

// setSampler picks the 1-in-N sampled sets for the shadow-cache replay
// cheaply, without a flat per-set bitmap: L1 set counts run into the
// hundreds of thousands for the largest configured caches, and most sets are
// only ever touched a handful of times. A bounded LRU of set-index
// decisions covers the working set of actually-hot sets and simply
// re-decides (at the cost of an extra counter tick) for the rare set that
// falls out of the LRU and comes back later.
type setSampler struct {
	stride int
	seen   *lru.Cache
	next   uint64
}

const defaultSamplerCapacity = 1 << 14

func newSetSampler(stride int) *setSampler {
	if stride < 1 {
		stride = 1
	}
	c, err := lru.New(defaultSamplerCapacity)
	if err != nil {
		// Only returns an error for a non-positive size, which
		// defaultSamplerCapacity never is.
		panic(err)
	}
	return &setSampler{stride: stride, seen: c}
}

// shouldSample reports whether set should be replayed into the shadow
// cache. Each newly observed set index is assigned the next sequence
// number and kept sampled only if that sequence number falls on the
// configured stride; the decision is cached so repeat traffic to the same
// set is consistently sampled or skipped.
func (s *setSampler) shouldSample(set int) bool {
	if s.stride <= 1 {
		return true
	}
	if v, ok := s.seen.Get(set); ok {
		return v.(bool)
	}
	s.next++
	sample := s.next%uint64(s.stride) == 0
	s.seen.Add(set, sample)
	return sample
}
