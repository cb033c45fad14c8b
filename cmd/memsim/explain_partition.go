// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/memhier/simcore/lib/cliutil"
	"github.com/memhier/simcore/lib/partition"
)

// parseCurve parses a comma-separated miss-rate curve "1.0,0.5,0.2,..."
// (one value per way count starting at 0 ways) into a []float64.
func parseCurve(s string) ([]float64, error) {
	fields := strings.Split(s, ",")
	curve := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, fmt.Errorf("curve value %d (%q): %w", i, f, err)
		}
		curve[i] = v
	}
	return curve, nil
}

func newExplainPartitionCommand() *cobra.Command {
	var curveFlags []string
	var metricFlag, searchFlag string
	var stallFrac float64

	cmd := &cobra.Command{
		Use:   "explain-partition",
		Short: "Run the UCP way-partitioner search over supplied per-core miss-rate curves",
		Args:  cliutil.WrapPositionalArgs(cobra.NoArgs),
	}
	cmd.Flags().StringArrayVar(&curveFlags, "curve", nil,
		"a core's miss-rate curve as comma-separated values, one per way count 0..assoc (repeatable, one per core)")
	cmd.Flags().StringVar(&metricFlag, "metric", "global_miss_rate", "global_miss_rate|miss_rate_sum|neg_gmean_ipc")
	cmd.Flags().StringVar(&searchFlag, "search", "lookahead", "lookahead|brute_force")
	cmd.Flags().Float64Var(&stallFrac, "stall-frac", 1.0, "stall-cycle scaling factor for the neg_gmean_ipc metric")

	cmd.RunE = withLogging(func(ctx context.Context, cmd *cobra.Command, args []string) error {
		if len(curveFlags) < 1 {
			return fmt.Errorf("explain-partition: at least one --curve is required")
		}
		curves := make([][]float64, len(curveFlags))
		assoc := -1
		for i, s := range curveFlags {
			curve, err := parseCurve(s)
			if err != nil {
				return fmt.Errorf("explain-partition: --curve %d: %w", i, err)
			}
			if assoc == -1 {
				assoc = len(curve) - 1
			} else if len(curve)-1 != assoc {
				return fmt.Errorf("explain-partition: --curve %d has %d entries, want %d (every curve must cover the same way range)", i, len(curve), assoc+1)
			}
			curves[i] = curve
		}

		assign := partition.RunSearch(partition.ExplainConfig{
			Assoc:     assoc,
			Metric:    parseMetricFlag(metricFlag),
			Search:    parseSearchFlag(searchFlag),
			StallFrac: stallFrac,
			Curves:    curves,
		})

		offset := 0
		for core, ways := range assign {
			fmt.Fprintf(cmd.OutOrStdout(), "core %d: %d ways [%d-%d]\n", core, ways, offset, offset+ways-1)
			offset += ways
		}
		return nil
	})
	return cmd
}

func parseMetricFlag(s string) partition.Metric {
	switch s {
	case "miss_rate_sum":
		return partition.MetricMissRateSum
	case "neg_gmean_ipc":
		return partition.MetricNegGmeanIPC
	default:
		return partition.MetricGlobalMissRate
	}
}

func parseSearchFlag(s string) partition.Search {
	switch s {
	case "brute_force":
		return partition.SearchBruteForce
	default:
		return partition.SearchLookahead
	}
}
