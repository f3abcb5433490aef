// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package taint

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/awslabs/argot-taint/analysis/backward"
	"github.com/awslabs/argot-taint/analysis/dataflow"
	"github.com/awslabs/argot-taint/analysis/forward"
	"github.com/awslabs/argot-taint/analysis/reconcile"
	"github.com/awslabs/argot-taint/analysis/registry"
)

// Mode selects the engines of a run
type Mode string

const (
	// Forward runs the forward resolver only
	Forward Mode = "forward"
	// Backward runs the backward analyzer on every sink
	Backward Mode = "backward"
	// Complete runs the forward resolver, then the backward analyzer on the sinks the forward resolver reached
	Complete Mode = "complete"
)

// ParseMode returns the mode named s
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case Forward, Backward, Complete:
		return m, nil
	case "":
		return Complete, nil
	}
	return "", fmt.Errorf("unknown mode %q (expected forward, backward or complete)", s)
}

// Analyze runs the taint analysis over the state in the given mode. The result set is always returned; the error
// joins the errors accumulated by the workers of the run.
func Analyze(ctx context.Context, state *dataflow.AnalyzerState, mode Mode) (*dataflow.ResultSet, error) {
	logger := state.Logger.Named("taint")
	rs := dataflow.NewResultSet(state.RunID)
	sinks := state.Registry.Sinks()
	start := time.Now()

	switch mode {
	case Forward:
		rs.Merge(forward.NewResolver(state).ResolveAll(ctx))
	case Backward:
		rs.Merge(backward.NewAnalyzer(state).AnalyzeSinks(ctx, sinks))
	case Complete:
		fw := forward.NewResolver(state).ResolveAll(ctx)
		logger.Infof("Forward pass done (%.2f s)", time.Since(start).Seconds())
		kept := reconcile.Reconcile(fw, sinks, state.Calls)
		if reconcile.Incomplete(fw) {
			logger.Infof("Forward pass incomplete, visiting the sinks reachable from the exhausted sources backward")
		}
		logger.Debugf("%d of %d sinks reached forward", len(kept), len(sinks))
		bw := backward.NewAnalyzer(state).AnalyzeSinks(ctx, kept)
		rs.Merge(combine(state.RunID, fw, bw))
		rs.UpdateStats(func(s *dataflow.Stats) {
			s.Sinks = len(sinks)
			s.PrunedSinks = len(sinks) - len(kept)
		})
	default:
		return nil, fmt.Errorf("unknown mode %q", mode)
	}

	hits, misses := state.Facts.Stats()
	rs.UpdateStats(func(s *dataflow.Stats) {
		s.CacheHits = hits
		s.CacheMisses = misses
	})
	if n := state.Config.MaxAlarms; n > 0 {
		if dropped := rs.LimitVulnerable(n); dropped > 0 {
			logger.Warnf("%d vulnerabilities not reported (max-alarms is %d)", dropped, n)
		}
	}
	for _, row := range rs.Filter(dataflow.Vulnerable) {
		ReportFlow(logger, row)
	}
	logger.Infof("Taint analysis (%s) done in %.2f s: %d rows, %d diagnostics, verdict %s",
		mode, time.Since(start).Seconds(), len(rs.Rows()), len(rs.Diagnostics()), rs.Verdict())
	return rs, state.Errors()
}

// combine returns the rows of both engines. Backward rows found by the forward resolver are marked confirmed, and
// the forward rows they confirm are dropped, their related sources moving to the backward row.
func combine(runID string, fw, bw *dataflow.ResultSet) *dataflow.ResultSet {
	res := dataflow.NewResultSet(runID)
	fwRows, bwRows := fw.Rows(), bw.Rows()
	reconcile.Confirm(fwRows, bwRows)
	related := map[string][]registry.Record{}
	for _, row := range fwRows {
		if row.Status == dataflow.Vulnerable {
			related[row.LocKey()] = append(related[row.LocKey()], row.Related...)
		}
	}
	confirmed := map[string]bool{}
	for _, row := range bwRows {
		if row.Confirmed {
			confirmed[row.LocKey()] = true
			for _, src := range related[row.LocKey()] {
				row.AddRelated(src)
			}
		}
		res.AddRow(row)
	}
	for _, row := range fwRows {
		if row.Status == dataflow.Vulnerable && confirmed[row.LocKey()] {
			continue
		}
		res.AddRow(row)
	}
	for _, d := range fw.Diagnostics() {
		res.AddDiagnostic(d)
	}
	for _, d := range bw.Diagnostics() {
		res.AddDiagnostic(d)
	}
	fs, bs := fw.Stats(), bw.Stats()
	res.UpdateStats(func(s *dataflow.Stats) {
		s.Sources = fs.Sources
		s.ForwardStates = fs.ForwardStates
		s.BackwardStates = bs.BackwardStates
	})
	return res
}
