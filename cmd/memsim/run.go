// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/datawire/dlib/dlog"
	"github.com/spf13/cobra"

	"github.com/memhier/simcore/lib/cliutil"
	"github.com/memhier/simcore/lib/config"
	"github.com/memhier/simcore/lib/lifecycle"
	"github.com/memhier/simcore/lib/memsys"
	"github.com/memhier/simcore/lib/reqbuf"
	"github.com/memhier/simcore/lib/simstats"
)

// traceEntry is one line of a trace file: a request type, issuing core, and
// byte address. The trace format is deliberately line-oriented and
// whitespace-separated rather than a structured serialization, since
// configuration/trace *file* parsing beyond flags and literal structs is
// explicitly out of scope for anything fancier than this.
type traceEntry struct {
	Type   reqbuf.Type
	ProcID int
	Addr   uint64
}

func parseTraceType(s string) (reqbuf.Type, error) {
	switch strings.ToUpper(s) {
	case "IFETCH":
		return reqbuf.IFETCH, nil
	case "DFETCH":
		return reqbuf.DFETCH, nil
	case "DSTORE":
		return reqbuf.DSTORE, nil
	case "IPRF":
		return reqbuf.IPRF, nil
	case "DPRF":
		return reqbuf.DPRF, nil
	default:
		return 0, fmt.Errorf("unknown trace request type %q", s)
	}
}

func readTrace(path string) ([]traceEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []traceEntry
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, fmt.Errorf("trace line %d: want 3 fields (type proc_id addr), got %d", lineNo, len(fields))
		}
		typ, err := parseTraceType(fields[0])
		if err != nil {
			return nil, fmt.Errorf("trace line %d: %w", lineNo, err)
		}
		proc, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("trace line %d: proc_id: %w", lineNo, err)
		}
		addr, err := strconv.ParseUint(strings.TrimPrefix(fields[2], "0x"), 16, 64)
		if err != nil {
			return nil, fmt.Errorf("trace line %d: addr: %w", lineNo, err)
		}
		entries = append(entries, traceEntry{Type: typ, ProcID: proc, Addr: addr})
	}
	return entries, scanner.Err()
}

func newRunCommand() *cobra.Command {
	cfg := config.Default()
	var maxCycles uint64
	var progressInterval time.Duration

	cmd := &cobra.Command{
		Use:   "run TRACE_FILE",
		Short: "Drive a trace file through the memory system to completion",
		Args:  cliutil.WrapPositionalArgs(cobra.ExactArgs(1)),
	}
	cmd.Flags().IntVar(&cfg.L1Size, "l1-size", cfg.L1Size, "L1 capacity in bytes")
	cmd.Flags().IntVar(&cfg.L1Assoc, "l1-assoc", cfg.L1Assoc, "L1 associativity")
	cmd.Flags().IntVar(&cfg.L1LineSize, "l1-line-size", cfg.L1LineSize, "L1 line size in bytes")
	cmd.Flags().IntVar(&cfg.NumCores, "cores", cfg.NumCores, "number of cores issuing requests")
	cmd.Flags().StringVar(&cfg.ReplPolicy, "repl-policy", cfg.ReplPolicy, "replacement policy (lru|mru|random|srrip|partition)")
	cmd.Flags().BoolVar(&cfg.L1PartOn, "partition", cfg.L1PartOn, "enable the UCP way partitioner")
	cmd.Flags().Uint64Var(&maxCycles, "max-cycles", 10_000_000, "abort the run after this many cycles without draining")
	cmd.Flags().DurationVar(&progressInterval, "progress-interval", time.Second, "how often to print a throughput line")

	cmd.RunE = withLogging(func(ctx context.Context, cmd *cobra.Command, args []string) error {
		entries, err := readTrace(args[0])
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		ms, err := memsys.New(ctx, cfg)
		if err != nil {
			return err
		}
		reporter := simstats.NewReporter(ctx, ms, dlog.LogLevelInfo, progressInterval)
		defer reporter.Done()

		completed := 0
		next := 0
		uniqueNum := uint64(0)
		for completed < len(entries) && ms.Now() < maxCycles {
			for next < len(entries) {
				e := entries[next]
				uniqueNum++
				un := uniqueNum
				ok := ms.Issue(ctx, lifecycle.IssueParams{
					Now:       ms.Now(),
					ProcID:    e.ProcID,
					Type:      e.Type,
					Addr:      e.Addr,
					Size:      8,
					Dest:      reqbuf.DestDCache | reqbuf.DestL1,
					UniqueNum: un,
					Done: func(*reqbuf.MemReq) bool {
						completed++
						return false
					},
				})
				if !ok {
					break
				}
				next++
			}
			ms.Tick(ctx)
			reporter.Tick()
		}

		if completed < len(entries) {
			return fmt.Errorf("run: only %d/%d trace entries completed within %d cycles", completed, len(entries), maxCycles)
		}
		dlog.Infof(ctx, "run: completed %d requests in %d cycles", completed, ms.Now())
		return nil
	})
	return cmd
}
