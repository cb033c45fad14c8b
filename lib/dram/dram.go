// SPDX-License-Identifier: GPL-2.0-or-later

// Package dram implements the downstream memory-controller boundary of
// §6: a small bounded-queue, fixed-latency model sufficient to drive the
// lifecycle FSM's MEM_NEW/MEM_WAIT stage end-to-end. Full cycle-accurate
// DRAM timing (row-buffer state, bank conflicts, refresh, Ramulator-style
// modeling) is an explicit non-goal; this is the "modeled-memory mode"
// counterpart to the FSM's constant-latency shortcut.
package dram

import (
	"context"

	"github.com/memhier/simcore/lib/lifecycle"
	"github.com/memhier/simcore/lib/reqbuf"
)

// Config sizes the controller's request queue and fixed service latency.
type Config struct {
	QueueDepth int    // maximum requests the controller will hold at once
	Latency    uint64 // cycles from Send to completion callback
	Channels   int    // number of independent channels, selected by each request's MemChannel
}

// Controller is a fixed-latency DRAM model: every accepted request completes
// Latency cycles after its Send, with no serialization within a channel, and
// Send refuses once a channel's in-flight count would exceed QueueDepth.
type Controller struct {
	cfg Config
	fsm *lifecycle.FSM
	ctx context.Context

	channels []channelState
}

type channelState struct {
	inflight []*reqbuf.MemReq
}

// New constructs a Controller. fsm is the lifecycle FSM whose
// CompleteFromDRAM callback is invoked when a request's latency elapses;
// it must be wired up before the first ProcessCycle, since Controller's
// Tick calls back into it synchronously.
func New(ctx context.Context, cfg Config, fsm *lifecycle.FSM) *Controller {
	channels := cfg.Channels
	if channels < 1 {
		channels = 1
	}
	return &Controller{
		cfg:      cfg,
		fsm:      fsm,
		ctx:      ctx,
		channels: make([]channelState, channels),
	}
}

func (c *Controller) channelFor(req *reqbuf.MemReq) int {
	ch := req.MemChannel
	if ch < 0 || ch >= len(c.channels) {
		ch = 0
	}
	return ch
}

// Send implements lifecycle.DRAM: it admits req onto its channel's
// in-flight list if the channel has room, stamping a completion cycle.
func (c *Controller) Send(now uint64, req *reqbuf.MemReq) bool {
	ch := c.channelFor(req)
	cs := &c.channels[ch]
	if c.cfg.QueueDepth > 0 && len(cs.inflight) >= c.cfg.QueueDepth {
		return false
	}
	req.RdyCycle = now + c.cfg.Latency
	cs.inflight = append(cs.inflight, req)
	return true
}

// Tick implements lifecycle.DRAM: every channel completes whichever of its
// in-flight requests have reached their RdyCycle, oldest first, and calls
// back into the FSM for each.
func (c *Controller) Tick(now uint64) {
	for i := range c.channels {
		cs := &c.channels[i]
		var remaining []*reqbuf.MemReq
		for _, req := range cs.inflight {
			if req.RdyCycle <= now {
				c.fsm.CompleteFromDRAM(c.ctx, req, now)
			} else {
				remaining = append(remaining, req)
			}
		}
		cs.inflight = remaining
	}
}

// InFlight returns the total number of requests currently owned by the
// controller, across all channels, for diagnostics/testing.
func (c *Controller) InFlight() int {
	n := 0
	for _, cs := range c.channels {
		n += len(cs.inflight)
	}
	return n
}

// ChannelParity derives MemChannel from a line address the way the
// original clarified its "channel_parity" option (§9 open question):
// XOR together a low-order and a higher-order address bit range rather
// than a plain modulo, so that sequential line addresses don't all land on
// channel 0 once the low bits are consumed by a power-of-two line size and
// channel count that share factors.
func ChannelParity(lineAddr uint64, channels int, lineSizeBits uint) int {
	if channels <= 1 {
		return 0
	}
	channelBits := uint(0)
	for (1 << channelBits) < channels {
		channelBits++
	}
	low := (lineAddr >> lineSizeBits) & ((1 << channelBits) - 1)
	high := (lineAddr >> (lineSizeBits + channelBits)) & ((1 << channelBits) - 1)
	return int(low^high) % channels
}
