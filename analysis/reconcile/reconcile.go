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

// Package reconcile connects the two engines of a complete run: the sinks reached by the forward resolver are the
// only ones the backward analyzer needs to visit, and backward findings confirmed by a forward path are flagged.
package reconcile

import (
	"github.com/awslabs/argot-taint/analysis/dataflow"
	"github.com/awslabs/argot-taint/analysis/flowgraph"
	"github.com/awslabs/argot-taint/analysis/registry"
)

// pair identifies a class of sinks: a sink pattern in a file
type pair struct {
	file    string
	pattern string
}

// Reconcile returns the sinks whose (file, pattern) pair was reached by the forward resolver, as vulnerable or as
// sanitized. Pruning is only sound where the forward run explored everything: the sinks in the file of an exhausted
// source, or in a function the source's function reaches in the call graph, are always returned. With a nil call
// graph, an exhausted unit keeps every sink.
func Reconcile(forward *dataflow.ResultSet, sinks []registry.Record, calls *flowgraph.Calls) []registry.Record {
	exhausted := forward.Filter(dataflow.Exhausted)
	if len(exhausted) > 0 && calls == nil {
		return sinks
	}
	reached := reachedPairs(forward)
	var res []registry.Record
	for _, sink := range sinks {
		if reached[pair{sink.File, sink.Pattern}] || unexplored(exhausted, sink, calls) {
			res = append(res, sink)
		}
	}
	return res
}

// unexplored returns true if the sink may be reached from the source of one of the exhausted rows
func unexplored(exhausted []dataflow.Row, sink registry.Record, calls *flowgraph.Calls) bool {
	to := flowgraph.FunctionKey(sink.File, sink.Function)
	for _, row := range exhausted {
		src := row.Source
		if src.File == sink.File || calls.Reaches(flowgraph.FunctionKey(src.File, src.Function), to) {
			return true
		}
	}
	return false
}

// Incomplete returns true if some forward traversal did not conclude
func Incomplete(forward *dataflow.ResultSet) bool {
	return len(forward.Filter(dataflow.Exhausted)) > 0
}

// reachedPairs returns the (file, pattern) pairs of the sinks of the vulnerable and sanitized rows
func reachedPairs(forward *dataflow.ResultSet) map[pair]bool {
	reached := map[pair]bool{}
	for _, row := range forward.Rows() {
		if row.Status == dataflow.Vulnerable || row.Status == dataflow.Sanitized {
			reached[pair{row.Sink.File, row.Sink.Pattern}] = true
		}
	}
	return reached
}

// Confirm flags the vulnerable backward rows that a vulnerable forward row reports at the same source and sink
// locations, and returns the number of rows flagged
func Confirm(forward, backward []dataflow.Row) int {
	seen := map[string]bool{}
	for _, row := range forward {
		if row.Status == dataflow.Vulnerable {
			seen[row.LocKey()] = true
		}
	}
	n := 0
	for i := range backward {
		if backward[i].Status == dataflow.Vulnerable && seen[backward[i].LocKey()] {
			backward[i].Confirmed = true
			n++
		}
	}
	return n
}
