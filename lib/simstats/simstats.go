// SPDX-License-Identifier: GPL-2.0-or-later

// Package simstats adapts the teacher's generic lib/textui.Progress[T] into
// a periodic, debounced reporter of simulator progress (cycles ticked,
// request-buffer occupancy, capacity denials, DRAM occupancy), without coupling
// the simulation core itself to any output device: memsys.MemorySystem
// never imports this package, cmd/memsim's run command does.
package simstats

import (
	"context"
	"fmt"
	"time"

	"github.com/datawire/dlib/dlog"
	"golang.org/x/text/message"

	"github.com/memhier/simcore/lib/memsys"
	"github.com/memhier/simcore/lib/textui"
)

// Snapshot is one point-in-time readout of a MemorySystem's counters. It
// satisfies textui.Stats: comparable (all fields are plain scalars) plus
// Stringer.
type Snapshot struct {
	Cycle           uint64
	PoolInUse       int
	PoolTotal       int
	CapacityDenied  uint64
	DRAMInFlight    int
}

var printer = message.NewPrinter(message.MatchLanguage("en"))

func (s Snapshot) String() string {
	return printer.Sprintf("cycle %d: mshr %d/%d in use, %d capacity denials, %d in flight at DRAM",
		s.Cycle, s.PoolInUse, s.PoolTotal, s.CapacityDenied, s.DRAMInFlight)
}

var _ textui.Stats = Snapshot{}

// Reporter periodically snapshots a MemorySystem and feeds it to a
// textui.Progress, so a long `memsim run` prints a debounced throughput
// line instead of a line per cycle.
type Reporter struct {
	prog *textui.Progress[Snapshot]
	ms   *memsys.MemorySystem
}

// NewReporter starts a background printer at the given level and interval.
// Callers must call Done when the run completes to flush the final line
// and stop the background goroutine.
func NewReporter(ctx context.Context, ms *memsys.MemorySystem, lvl dlog.LogLevel, interval time.Duration) *Reporter {
	return &Reporter{
		prog: textui.NewProgress[Snapshot](ctx, lvl, interval),
		ms:   ms,
	}
}

// Tick publishes the current snapshot. Cheap enough to call every cycle;
// Progress itself debounces identical/too-frequent lines.
func (r *Reporter) Tick() {
	r.prog.Set(Snapshot{
		Cycle:          r.ms.Now(),
		PoolInUse:      r.ms.Pool.InUse(),
		PoolTotal:      r.ms.Pool.Total(),
		CapacityDenied: r.ms.FSM.CapacityDenied(),
		DRAMInFlight:   r.ms.DRAM.InFlight(),
	})
}

// Done flushes the final line and stops the reporter's background
// goroutine.
func (r *Reporter) Done() { r.prog.Done() }

var _ fmt.Stringer = Snapshot{}
