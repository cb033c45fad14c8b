// SPDX-License-Identifier: GPL-2.0-or-later

// Package partition implements the utility-based cache partitioning (UCP)
// policy of §4.6: one true-LRU shadow tag-directory cache per core, sampled
// on a 1-in-N subset of sets, feeding a per-core hit-position histogram from
// which a miss-rate curve is derived; a periodically triggered search over
// that curve (brute force or marginal-utility lookahead) picks a way
// assignment per core and pushes it into the shared L1 via SetPartition.
package partition

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/memhier/simcore/lib/cache"
	"github.com/memhier/simcore/lib/replacement"
)

// Metric selects which quantity the search minimizes (GlobalMissRate,
// MissRateSum) or maximizes (NegGmeanIPC is expressed as a value the search
// still minimizes, by negating the geometric-mean IPC estimate).
type Metric int

const (
	MetricGlobalMissRate Metric = iota
	MetricMissRateSum
	MetricNegGmeanIPC
)

// Search selects the way-assignment search algorithm.
type Search int

const (
	SearchLookahead Search = iota
	SearchBruteForce
)

// Target is the subset of cache.Cache[T] the partitioner needs: pushing a
// new way assignment. It is expressed as a narrow structural interface
// rather than importing the lifecycle package's concrete LineData payload,
// so this package has no dependency on what the real L1's line type is.
type Target interface {
	SetPartition(procID int, ways []int)
}

// Config sizes the partitioner and selects its policy knobs.
type Config struct {
	Assoc    int // the target L1's associativity; every core's way count must sum to this
	NumCores int

	// ShadowCapacity/ShadowLineSize mirror the real L1's
	// geometry; the shadow cache tracks the same number of sets (modulo
	// SampleStride) at full associativity, since the histogram needs to
	// see every possible way count from 0 to Assoc regardless of how the
	// real L1 happens to be partitioned right now.
	ShadowCapacity int
	ShadowLineSize int

	// SampleStride samples every SampleStride-th set into the shadow
	// cache (1 = sample every set). Matches L1_PART_SAMPLED_SET_RATIO.
	SampleStride int

	Trigger uint64 // cycles between partition re-evaluations (L1_PART_TRIGGER)
	Start   uint64 // cycle at which partitioning begins (L1_PART_START)

	Metric Metric
	Search Search

	// StallFrac scales a core's estimated memory-stall-cycle penalty per
	// extra miss, for MetricNegGmeanIPC's rough CPI-stack IPC estimate.
	StallFrac float64
}

// CoreSnapshot is a read-only view of one core's current partitioning
// state, for diagnostics and the explain-partition command.
type CoreSnapshot struct {
	ProcID    int
	Ways      []int
	Accesses  uint64
	HitByRank []uint64 // index i = count of hits that were the i-th most-recently-used way
	Misses    uint64
	Curve     []float64 // MissRateCurve(w) for w in [0, Assoc]
}

// Partitioner implements lifecycle.PartitionObserver.
type Partitioner struct {
	cfg    Config
	target Target

	shadow   []*cache.Cache[struct{}]
	sampler  []*setSampler
	hitRank  [][]uint64 // per core, length Assoc
	accesses []uint64
	misses   []uint64

	curWays    [][]int
	lastUpdate uint64
	rrCursor   int // round-robin tie-break cursor for the lookahead search
}

// New constructs a Partitioner and performs the initial equal-split
// assignment (each core gets Assoc/NumCores contiguous ways), matching the
// original's startup behavior before the first trigger fires.
func New(cfg Config, target Target) (*Partitioner, error) {
	if cfg.NumCores < 1 {
		return nil, fmt.Errorf("partition: NumCores must be >= 1")
	}
	if cfg.Assoc < cfg.NumCores {
		return nil, fmt.Errorf("partition: associativity %d smaller than core count %d", cfg.Assoc, cfg.NumCores)
	}
	if cfg.Assoc%cfg.NumCores != 0 {
		return nil, fmt.Errorf("partition: associativity %d not divisible by core count %d", cfg.Assoc, cfg.NumCores)
	}
	if cfg.SampleStride < 1 {
		cfg.SampleStride = 1
	}

	p := &Partitioner{cfg: cfg, target: target}
	p.shadow = make([]*cache.Cache[struct{}], cfg.NumCores)
	p.sampler = make([]*setSampler, cfg.NumCores)
	p.hitRank = make([][]uint64, cfg.NumCores)
	p.accesses = make([]uint64, cfg.NumCores)
	p.misses = make([]uint64, cfg.NumCores)
	p.curWays = make([][]int, cfg.NumCores)

	for i := 0; i < cfg.NumCores; i++ {
		eng := replacement.NewEngine(replacement.LRU, rand.New(rand.NewSource(int64(i) + 1)))
		c, err := cache.New[struct{}](cache.Config{
			Name:     fmt.Sprintf("ucp-shadow-%d", i),
			Capacity: cfg.ShadowCapacity,
			Assoc:    cfg.Assoc,
			LineSize: cfg.ShadowLineSize,
			Policy:   replacement.LRU,
		}, eng)
		if err != nil {
			return nil, fmt.Errorf("partition: shadow cache for core %d: %w", i, err)
		}
		p.shadow[i] = c
		p.sampler[i] = newSetSampler(cfg.SampleStride)
		p.hitRank[i] = make([]uint64, cfg.Assoc)
	}

	p.applyEqualSplit()
	return p, nil
}

func (p *Partitioner) applyEqualSplit() {
	per := p.cfg.Assoc / p.cfg.NumCores
	for c := 0; c < p.cfg.NumCores; c++ {
		ways := make([]int, per)
		for i := range ways {
			ways[i] = c*per + i
		}
		p.curWays[c] = ways
		p.target.SetPartition(c, ways)
	}
}

// RecordL1Access implements lifecycle.PartitionObserver: every L1-level
// access attempt, hit or miss in the real (partitioned) L1, is replayed
// against procID's full-associativity shadow cache so the histogram always
// reflects what every possible way count would have done, independent of
// the partition currently in force.
func (p *Partitioner) RecordL1Access(procID int, addr uint64, now uint64) {
	if procID < 0 || procID >= p.cfg.NumCores {
		return
	}
	shadow := p.shadow[procID]
	if p.cfg.SampleStride > 1 && !p.sampler[procID].shouldSample(shadow.Index(addr)) {
		return
	}

	p.accesses[procID]++
	hit, rank := shadow.AccessPosition(addr, now)
	if hit {
		if rank >= 0 && rank < len(p.hitRank[procID]) {
			p.hitRank[procID][rank]++
		}
	} else {
		p.misses[procID]++
		shadow.Insert(procID, addr, false, struct{}{}, now)
	}

	if now >= p.cfg.Start && now-p.lastUpdate >= p.cfg.Trigger {
		p.lastUpdate = now
		p.update()
	}
}

// missRateCurve returns, for way counts 0..Assoc, the fraction of accesses
// that would still miss a core with that many ways, derived from the
// cumulative hit-rank histogram (§4.6's stack-distance counting).
func (p *Partitioner) missRateCurve(procID int) []float64 {
	curve := make([]float64, p.cfg.Assoc+1)
	total := p.accesses[procID]
	curve[0] = 1.0
	if total == 0 {
		for w := 1; w <= p.cfg.Assoc; w++ {
			curve[w] = 1.0
		}
		return curve
	}
	var cumHits uint64
	for w := 1; w <= p.cfg.Assoc; w++ {
		cumHits += p.hitRank[procID][w-1]
		curve[w] = 1.0 - float64(cumHits)/float64(total)
	}
	return curve
}

// update re-evaluates every core's miss-rate curve and runs the configured
// search to pick a new way assignment, pushing it into the target cache.
func (p *Partitioner) update() {
	curves := make([][]float64, p.cfg.NumCores)
	for c := 0; c < p.cfg.NumCores; c++ {
		curves[c] = p.missRateCurve(c)
	}

	var assign []int
	switch p.cfg.Search {
	case SearchBruteForce:
		assign = p.bruteForce(curves)
	default:
		assign = p.lookahead(curves)
	}

	offset := 0
	for c, n := range assign {
		ways := make([]int, n)
		for i := range ways {
			ways[i] = offset + i
		}
		offset += n
		p.curWays[c] = ways
		p.target.SetPartition(c, ways)
	}
}

// lookahead implements the classic UCP marginal-utility search (Qureshi &
// Patt): start every core at one way, then repeatedly hand the next free
// way to whichever core's curve shows the largest miss-rate reduction for
// its next way, breaking ties by round-robin cursor to avoid always
// favoring the lowest-numbered core.
func (p *Partitioner) lookahead(curves [][]float64) []int {
	n := p.cfg.NumCores
	assign := make([]int, n)
	for c := range assign {
		assign[c] = 1
	}
	remaining := p.cfg.Assoc - n

	for remaining > 0 {
		best := -1
		bestGain := -1.0
		for k := 0; k < n; k++ {
			c := (p.rrCursor + k) % n
			if assign[c] >= p.cfg.Assoc {
				continue
			}
			gain := curves[c][assign[c]] - curves[c][assign[c]+1]
			if gain > bestGain {
				bestGain = gain
				best = c
			}
		}
		if best == -1 {
			break
		}
		assign[best]++
		remaining--
		p.rrCursor = (best + 1) % n
	}
	return assign
}

// bruteForce enumerates every way assignment that gives each core at least
// one way and sums to Assoc, scoring each with the configured Metric, and
// keeps the best. Cost is combinatorial in NumCores/Assoc; fine for the
// small core counts this simulator targets, explicitly not meant for
// many-core configurations (those should use SearchLookahead instead).
func (p *Partitioner) bruteForce(curves [][]float64) []int {
	n := p.cfg.NumCores
	best := make([]int, n)
	for c := range best {
		best[c] = p.cfg.Assoc / n
	}
	best[n-1] += p.cfg.Assoc % n
	bestScore := p.score(curves, best)

	cur := make([]int, n)
	var rec func(core, remaining int)
	rec = func(core, remaining int) {
		if core == n-1 {
			if remaining < 1 {
				return
			}
			cur[core] = remaining
			if s := p.score(curves, cur); s < bestScore {
				bestScore = s
				copy(best, cur)
			}
			return
		}
		maxHere := remaining - (n - core - 1) // leave at least one way per remaining core
		for w := 1; w <= maxHere; w++ {
			cur[core] = w
			rec(core+1, remaining-w)
		}
	}
	rec(0, p.cfg.Assoc)
	return best
}

func (p *Partitioner) score(curves [][]float64, assign []int) float64 {
	switch p.cfg.Metric {
	case MetricMissRateSum:
		var sum float64
		for c, w := range assign {
			sum += curves[c][w]
		}
		return sum
	case MetricNegGmeanIPC:
		gmean := 1.0
		for c, w := range assign {
			base := curves[c][p.cfg.Assoc]
			ipc := 1.0
			if base > 0 {
				ratio := curves[c][w] / base
				ipc = 1.0 / (1.0 + (ratio-1.0)*p.cfg.StallFrac)
			}
			if ipc <= 0 {
				ipc = 1e-9
			}
			gmean *= ipc
		}
		n := float64(len(assign))
		if n > 0 {
			gmean = math.Pow(gmean, 1.0/n)
		}
		return -gmean
	default: // MetricGlobalMissRate
		var misses, total float64
		for c, w := range assign {
			total += float64(p.accesses[c])
			misses += curves[c][w] * float64(p.accesses[c])
		}
		if total == 0 {
			return 0
		}
		return misses / total
	}
}

// ExplainConfig is the standalone-search input: a set of per-core
// miss-rate curves (one entry per way count, 0..Assoc) supplied directly,
// bypassing the shadow-cache access accounting entirely. This is what
// `memsim explain-partition` drives: exercising §4.6's search in isolation
// over a curve an operator already has (from a prior run's Snapshot, or
// hand-written for what-if analysis).
type ExplainConfig struct {
	Assoc     int
	Metric    Metric
	Search    Search
	StallFrac float64
	Curves    [][]float64 // Curves[core][w], w in [0, Assoc]
	Accesses  []uint64    // only consulted by MetricGlobalMissRate
}

// RunSearch runs the configured search algorithm over externally supplied
// curves and returns the resulting per-core way counts (summing to Assoc).
func RunSearch(cfg ExplainConfig) []int {
	p := &Partitioner{
		cfg: Config{
			Assoc:     cfg.Assoc,
			NumCores:  len(cfg.Curves),
			Metric:    cfg.Metric,
			StallFrac: cfg.StallFrac,
		},
		accesses: cfg.Accesses,
	}
	if p.accesses == nil {
		p.accesses = make([]uint64, len(cfg.Curves))
	}
	if cfg.Search == SearchBruteForce {
		return p.bruteForce(cfg.Curves)
	}
	return p.lookahead(cfg.Curves)
}

// Snapshot returns a read-only view of procID's current partitioning state.
func (p *Partitioner) Snapshot(procID int) CoreSnapshot {
	return CoreSnapshot{
		ProcID:    procID,
		Ways:      append([]int(nil), p.curWays[procID]...),
		Accesses:  p.accesses[procID],
		HitByRank: append([]uint64(nil), p.hitRank[procID]...),
		Misses:    p.misses[procID],
		Curve:     p.missRateCurve(procID),
	}
}
