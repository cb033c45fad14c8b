// SPDX-License-Identifier: GPL-2.0-or-later

// Package memsys wires every component (§2) into a single tick-driven
// object: the cache geometries, the replacement engine, the request buffer
// pool, the queue scheduler, the lifecycle FSM, the DRAM boundary, the
// prefetch-observer recorder, and (when enabled) the UCP partitioner. It
// exposes the single upstream entry point of §6 and the per-cycle driver.
package memsys

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/datawire/dlib/dlog"

	"github.com/memhier/simcore/lib/cache"
	"github.com/memhier/simcore/lib/config"
	"github.com/memhier/simcore/lib/dram"
	"github.com/memhier/simcore/lib/lifecycle"
	"github.com/memhier/simcore/lib/partition"
	"github.com/memhier/simcore/lib/prefetch"
	"github.com/memhier/simcore/lib/queue"
	"github.com/memhier/simcore/lib/replacement"
	"github.com/memhier/simcore/lib/reqbuf"
)

// MemorySystem is the top-level composition root. It owns no goroutines of
// its own (§5): Tick runs exactly one cycle to completion and returns,
// matching lifecycle.FSM.ProcessCycle's own contract.
type MemorySystem struct {
	cfg config.Config

	Pool  *reqbuf.Pool
	Sched *queue.Scheduler
	FSM   *lifecycle.FSM
	DRAM  *dram.Controller
	Pref  *prefetch.Recorder
	Part  *partition.Partitioner // nil unless partitioning is enabled

	mlc *cache.Cache[lifecycle.LineData]
	l1  *cache.Cache[lifecycle.LineData]

	now uint64
}

// New validates cfg and constructs every component, wiring the observer
// hooks (prefetch, partition) into the FSM before returning. An invalid cfg
// is a configuration error (§7): returned, never panicked.
func New(ctx context.Context, cfg config.Config) (*MemorySystem, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	partitioning := cfg.L1PartOn || cfg.ReplPolicy == "partition" || cfg.ReplPolicy == "PARTITION"

	l1Policy := replacement.LRU
	if !partitioning {
		p, err := replacement.ParsePolicy(cfg.ReplPolicy)
		if err != nil {
			return nil, fmt.Errorf("memsys: %w", err)
		}
		l1Policy = p
	}
	l1Engine := replacement.NewEngine(l1Policy, rand.New(rand.NewSource(1)))
	l1, err := cache.New[lifecycle.LineData](cache.Config{
		Name:     "L1",
		Capacity: cfg.L1Size,
		Assoc:    cfg.L1Assoc,
		LineSize: cfg.L1LineSize,
		Policy:   l1Policy,
		Banks:    cfg.L1Banks,
	}, l1Engine)
	if err != nil {
		return nil, fmt.Errorf("memsys: %w", err)
	}

	var mlc *cache.Cache[lifecycle.LineData]
	if cfg.MLCPresent {
		mlcEngine := replacement.NewEngine(replacement.LRU, rand.New(rand.NewSource(2)))
		mlc, err = cache.New[lifecycle.LineData](cache.Config{
			Name:     "MLC",
			Capacity: cfg.MLCSize,
			Assoc:    cfg.MLCAssoc,
			LineSize: cfg.MLCLineSize,
			Policy:   replacement.LRU,
		}, mlcEngine)
		if err != nil {
			return nil, fmt.Errorf("memsys: %w", err)
		}
	}

	pool := reqbuf.NewPool(reqbuf.PoolConfig{
		EntriesPerCore:  cfg.MemReqBufferEntries,
		NumCores:        cfg.NumCores,
		PrivateMSHR:     cfg.HierMSHROn,
		PrefWatermark:   cfg.PrefWatermark,
		WBValve:         cfg.WBValve,
		BWPrefWatermark: cfg.BWPrefWatermark,
	})

	sched := queue.NewScheduler(queue.Config{
		MLCSize:        cfg.MLCQueueSize,
		L1Size:         cfg.L1QueueSize,
		BusOutSize:     cfg.BusOutQueueSize,
		MLCFillSize:    cfg.MLCFillSize,
		L1FillSize:     cfg.L1FillSize,
		CoreFillSize:   cfg.CoreFillSize,
		NumCores:       cfg.NumCores,
		FIFO:           cfg.AllFIFOQueues,
		RoundRobinToL1: cfg.RoundRobinToL1,
	})

	pref := prefetch.NewRecorder()

	fsmCfg := lifecycle.Config{
		MLCPresent:                     cfg.MLCPresent,
		MLCWriteThrough:                cfg.MLCWriteThrough,
		L1WriteThrough:                 cfg.L1WriteThrough,
		HierMSHROn:                     cfg.HierMSHROn,
		ConstantMemoryLatency:          cfg.ConstantMemoryLatency,
		MemoryCycles:                   cfg.MemoryCycles,
		L1Cycles:                       cfg.L1Cycles,
		MLCCycles:                      cfg.MLCCycles,
		L1QToFSBLatency:                cfg.L1QToFSBLatency,
		MLCQToL1QLatency:               cfg.MLCQToL1QLatency,
		StallMemReqsOnly:               cfg.StallMemReqsOnly,
		PrioritizePrefetchesWithUnique: cfg.PrioritizePrefetchesWithUnique,
		AllowWBDemandMatch:             cfg.AllowWBDemandMatch,
		KickoutPrefetches:              cfg.KickoutPrefetches,
		KickoutOldestWithinBank:        cfg.KickoutOldestPrefetchWithinBank,
		PrefInsert:                     parsePrefInsert(cfg.PrefInsert),
		PrefInsertDynamic:              cfg.PrefInsertDynamic,
	}

	ms := &MemorySystem{cfg: cfg, Pool: pool, Sched: sched, Pref: pref, mlc: mlc, l1: l1}

	fsm := lifecycle.New(fsmCfg, pool, mlc, l1, sched, nil, pref)
	dramCtrl := dram.New(ctx, dram.Config{
		QueueDepth: cfg.DRAMQueueDepth,
		Latency:    cfg.MemoryCycles,
		Channels:   cfg.DRAMChannels,
	}, fsm)
	fsm.SetDRAM(dramCtrl)
	ms.FSM = fsm
	ms.DRAM = dramCtrl

	if partitioning {
		part, err := partition.New(partition.Config{
			Assoc:          cfg.L1Assoc,
			NumCores:       cfg.NumCores,
			ShadowCapacity: cfg.L1Size,
			ShadowLineSize: cfg.L1LineSize,
			SampleStride:   cfg.L1PartSampledSetRatio,
			Trigger:        cfg.L1PartTrigger,
			Start:          cfg.L1PartStart,
			Metric:         parsePartMetric(cfg.L1PartMetric),
			Search:         parsePartSearch(cfg.L1PartSearch),
			StallFrac:      cfg.L1PartStallFrac,
		}, l1)
		if err != nil {
			return nil, fmt.Errorf("memsys: %w", err)
		}
		ms.Part = part
		fsm.SetPartitionObserver(part)
	}

	dlog.Infof(ctx, "memsys: constructed (L1 %d/%d/%d, %d cores, repl=%s, partitioning=%v)",
		cfg.L1Size, cfg.L1Assoc, cfg.L1LineSize, cfg.NumCores, cfg.ReplPolicy, partitioning)
	return ms, nil
}

// Issue is the single upstream entry point of §6.
func (ms *MemorySystem) Issue(ctx context.Context, p lifecycle.IssueParams) bool {
	return ms.FSM.Issue(ctx, p)
}

// OffPathConfirm implements §4.4's recovery-driven annotation pass.
func (ms *MemorySystem) OffPathConfirm(recoveryUniqueNum uint64) {
	ms.FSM.OffPathConfirm(recoveryUniqueNum)
}

// Tick runs exactly one cycle: the lifecycle FSM's full queue-processing
// pass, after which Now advances by one. Callers drive the simulation by
// calling Tick once per cycle.
func (ms *MemorySystem) Tick(ctx context.Context) {
	ms.FSM.ProcessCycle(ctx, ms.now)
	ms.now++
}

// Now returns the current cycle counter.
func (ms *MemorySystem) Now() uint64 { return ms.now }

// CheckInvariants runs the debug-build invariant checks named in §7
// (req_count + free_list_count == total_buffers); callers that want the
// check only in non-production runs should gate the call themselves.
func (ms *MemorySystem) CheckInvariants() error {
	return ms.Pool.CheckInvariant()
}

func parsePrefInsert(s string) replacement.InsertPosition {
	switch s {
	case "middle", "MIDDLE":
		return replacement.InsertMiddle
	case "lowqtr", "LOWQTR":
		return replacement.InsertLowQtr
	case "dynacc", "DYNACC":
		return replacement.InsertLongRe
	default:
		return replacement.InsertMRU
	}
}

func parsePartMetric(s string) partition.Metric {
	switch s {
	case "miss_rate_sum":
		return partition.MetricMissRateSum
	case "neg_gmean_ipc":
		return partition.MetricNegGmeanIPC
	default:
		return partition.MetricGlobalMissRate
	}
}

func parsePartSearch(s string) partition.Search {
	switch s {
	case "brute_force":
		return partition.SearchBruteForce
	default:
		return partition.SearchLookahead
	}
}
