// SPDX-License-Identifier: GPL-2.0-or-later

// Package config holds the plain Go struct of every recognized
// configuration option named in §6, its defaults, and its validation.
// There is no file-format parsing here (explicit non-goal): a Config is
// populated by the CLI layer's cobra/pflag flags or by a test fixture
// literal. Validation errors are returned, never panicked, matching §7's
// "configuration errors are fatal at init, not a protocol violation".
package config

import (
	"fmt"

	"github.com/memhier/simcore/lib/replacement"
)

// Config is the full set of recognized options. Field names track the
// original option names closely enough that a reader can cross-reference
// §6 directly.
type Config struct {
	// Geometry
	L1Size     int
	L1Assoc    int
	L1LineSize int
	L1Banks    int

	MLCPresent      bool
	MLCSize         int
	MLCAssoc        int
	MLCLineSize     int
	MLCWriteThrough bool
	L1WriteThrough  bool

	NumCores  int
	PrivateL1 bool // PRIVATE_L1: shared vs per-core L1; only "shared" (false) is implemented, see Validate

	// Replacement
	ReplPolicy string // L1_CACHE_REPL_POLICY: lru|mru|random|srrip|partition
	ReadPorts  int
	WritePorts int

	// Request buffer / MSHR
	MemReqBufferEntries int
	PrefWatermark       int
	WBValve             int
	BWPrefWatermark     int
	HierMSHROn          bool
	AllowWBDemandMatch  bool

	PrioritizePrefetchesWithUnique bool

	// Queues
	AllFIFOQueues   bool
	OrderBeyondBus  bool
	RoundRobinToL1  bool
	MLCQueueSize    int
	L1QueueSize     int
	BusOutQueueSize int
	MLCFillSize     int
	L1FillSize      int
	CoreFillSize    int

	// Kick-out
	KickoutPrefetches             bool
	KickoutOldestPrefetch         bool
	KickoutOldestPrefetchWithinBank bool

	// Prefetch insertion
	PrefInsert        string // lru|middle|lowqtr|dynacc
	PrefInsertDynamic bool

	// Partitioner
	L1PartOn      bool
	L1PartTrigger uint64
	L1PartStart   uint64
	L1PartMetric  string // global_miss_rate|miss_rate_sum|neg_gmean_ipc
	L1PartSearch  string // lookahead|brute_force
	L1PartSampledSetRatio int
	L1PartStallFrac       float64

	// Timing
	ConstantMemoryLatency bool
	MemoryCycles          uint64
	L1Cycles              uint64
	MLCCycles             uint64
	L1QToFSBLatency       uint64
	MLCQToL1QLatency      uint64
	DRAMQueueDepth        int
	DRAMChannels          int

	StallMemReqsOnly bool
}

// Default returns a single-core, MLC-absent, shared, true-LRU configuration
// sized for small unit tests: a small geometry that satisfies every
// power-of-two and divisibility invariant.
func Default() Config {
	return Config{
		L1Size:     4096,
		L1Assoc:    8,
		L1LineSize: 64,
		L1Banks:    1,

		NumCores: 1,

		ReplPolicy: "lru",
		ReadPorts:  1,
		WritePorts: 1,

		MemReqBufferEntries: 16,
		PrefWatermark:       2,
		WBValve:             2,
		BWPrefWatermark:     1,

		MLCQueueSize:    8,
		L1QueueSize:     8,
		BusOutQueueSize: 8,
		MLCFillSize:     4,
		L1FillSize:      4,
		CoreFillSize:    4,

		PrefInsert: "lru",

		L1PartTrigger:         100000,
		L1PartMetric:          "global_miss_rate",
		L1PartSearch:          "lookahead",
		L1PartSampledSetRatio: 1,
		L1PartStallFrac:       1.0,

		MemoryCycles:     200,
		L1Cycles:         20,
		MLCCycles:        5,
		L1QToFSBLatency:  5,
		MLCQToL1QLatency: 2,
		DRAMQueueDepth:   16,
		DRAMChannels:     1,
	}
}

func isPow2(n int) bool { return n > 0 && n&(n-1) == 0 }

// Validate checks every fatal-at-init precondition named in §7/§6:
// non-power-of-two geometry, unknown policy strings, and (when
// partitioning is enabled) associativity not divisible by core count.
func (c Config) Validate() error {
	if !isPow2(c.L1Size) || !isPow2(c.L1Assoc) || !isPow2(c.L1LineSize) {
		return fmt.Errorf("config: L1 size/assoc/line size must all be powers of two (got %d/%d/%d)", c.L1Size, c.L1Assoc, c.L1LineSize)
	}
	if c.MLCPresent {
		if !isPow2(c.MLCSize) || !isPow2(c.MLCAssoc) || !isPow2(c.MLCLineSize) {
			return fmt.Errorf("config: MLC size/assoc/line size must all be powers of two (got %d/%d/%d)", c.MLCSize, c.MLCAssoc, c.MLCLineSize)
		}
	}
	if c.NumCores < 1 {
		return fmt.Errorf("config: NumCores must be >= 1")
	}
	if c.PrivateL1 {
		return fmt.Errorf("config: PRIVATE_L1 is recognized but not implemented; the shared-L1 topology is the only one this core models")
	}

	if _, err := replacement.ParsePolicy(normalizePolicy(c.ReplPolicy)); err != nil && c.ReplPolicy != "partition" && c.ReplPolicy != "PARTITION" {
		return fmt.Errorf("config: %w", err)
	}

	if c.L1PartOn || c.ReplPolicy == "partition" || c.ReplPolicy == "PARTITION" {
		if c.L1Assoc%c.NumCores != 0 {
			return fmt.Errorf("config: L1 associativity %d not divisible by core count %d under partitioning", c.L1Assoc, c.NumCores)
		}
		switch c.L1PartMetric {
		case "global_miss_rate", "miss_rate_sum", "neg_gmean_ipc", "":
		default:
			return fmt.Errorf("config: unknown L1_PART_METRIC %q", c.L1PartMetric)
		}
		switch c.L1PartSearch {
		case "lookahead", "brute_force", "":
		default:
			return fmt.Errorf("config: unknown L1_PART_SEARCH %q", c.L1PartSearch)
		}
	}

	switch normalizePrefInsert(c.PrefInsert) {
	case "lru", "middle", "lowqtr", "dynacc", "":
	default:
		return fmt.Errorf("config: unknown PREF_INSERT_* option %q", c.PrefInsert)
	}

	if c.MemReqBufferEntries < 1 {
		return fmt.Errorf("config: MEM_REQ_BUFFER_ENTRIES must be >= 1")
	}
	if c.PrefWatermark < 0 || c.WBValve < 0 || c.BWPrefWatermark < 0 {
		return fmt.Errorf("config: watermark/valve values must be >= 0")
	}
	return nil
}

func normalizePolicy(s string) string {
	switch s {
	case "":
		return "lru"
	default:
		return s
	}
}

func normalizePrefInsert(s string) string {
	switch s {
	case "LRU":
		return "lru"
	case "MIDDLE":
		return "middle"
	case "LOWQTR":
		return "lowqtr"
	case "DYNACC":
		return "dynacc"
	default:
		return s
	}
}
