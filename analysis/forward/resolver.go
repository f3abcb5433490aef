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

// Package forward implements the forward flow resolver: a bounded depth-first search from each source over the
// forward data-flow edges of the graph, with callees inlined on a call-string stack and intra-procedural steps gated
// by the control-flow graph of the function.
package forward

import (
	"context"
	"fmt"
	"sync"

	"github.com/awslabs/argot-taint/analysis/accesspath"
	"github.com/awslabs/argot-taint/analysis/config"
	"github.com/awslabs/argot-taint/analysis/dataflow"
	"github.com/awslabs/argot-taint/analysis/flowgraph"
	"github.com/awslabs/argot-taint/analysis/registry"
	"golang.org/x/tools/container/intsets"
)

// Resolver runs the forward analysis of a run
type Resolver struct {
	state  *dataflow.AnalyzerState
	logger *config.LogGroup
	sinks  map[string][]registry.Record

	// reported holds the functions whose missing CFG has been reported
	reported sync.Map
}

// NewResolver returns a resolver over the state's graph, searching for the state's sinks
func NewResolver(state *dataflow.AnalyzerState) *Resolver {
	r := &Resolver{
		state:  state,
		logger: state.Logger.Named("forward"),
		sinks:  map[string][]registry.Record{},
	}
	for _, s := range state.Registry.Sinks() {
		r.sinks[s.File] = append(r.sinks[s.File], s)
	}
	return r
}

// ResolveAll runs a traversal from every source of the registry on the worker pool
func (r *Resolver) ResolveAll(ctx context.Context) *dataflow.ResultSet {
	return r.Resolve(ctx, r.state.Registry.Sources())
}

// Resolve runs a traversal from each of the sources
func (r *Resolver) Resolve(ctx context.Context, sources []registry.Record) *dataflow.ResultSet {
	rs := dataflow.NewResultSet(r.state.RunID)
	rs.UpdateStats(func(s *dataflow.Stats) {
		s.Sources = len(sources)
		s.Sinks = len(r.state.Registry.Sinks())
	})
	failed, err := dataflow.ForEach(ctx, r.state, sources, sourceKey, func(ctx context.Context, src registry.Record) {
		r.ResolveSource(ctx, src, rs)
	})
	for _, src := range failed {
		rs.AddRow(dataflow.Row{TaintPath: dataflow.TaintPath{Source: src}, Engine: dataflow.Forward,
			Status: dataflow.Exhausted})
		rs.AddDiagnostic(dataflow.Diagnostic{
			Kind:    dataflow.AnalysisFailed,
			Engine:  dataflow.Forward,
			File:    src.File,
			Line:    src.Line,
			Message: fmt.Sprintf("analysis of source %s failed", src.Name),
		})
	}
	if err != nil {
		r.state.AddError("forward", err)
		rs.AddDiagnostic(dataflow.Diagnostic{
			Kind:    dataflow.AnalysisFailed,
			Engine:  dataflow.Forward,
			Message: fmt.Sprintf("forward analysis stopped: %v", err),
		})
	}
	if n := rs.GroupRelated(); n > 0 {
		r.logger.Debugf("forward: %d rows merged into the path of a more specific source", n)
	}
	r.logger.Infof("forward: %d sources, %d rows", len(sources), len(rs.Rows()))
	return rs
}

func sourceKey(src registry.Record) string {
	return "source " + src.String()
}

// ResolveSource runs the traversal from one source and adds its rows and diagnostics to rs
func (r *Resolver) ResolveSource(ctx context.Context, src registry.Record, rs *dataflow.ResultSet) {
	seeds := r.state.SourceNodes(src)
	if len(seeds) == 0 {
		rs.AddDiagnostic(dataflow.Diagnostic{
			Kind:    dataflow.MissingData,
			Engine:  dataflow.Forward,
			File:    src.File,
			Line:    src.Line,
			Message: fmt.Sprintf("no graph node for source %s", src.Name),
		})
		return
	}
	t := &traversal{
		Resolver: r,
		ctx:      ctx,
		rows:     map[string]int{},
	}
	for _, h := range seeds {
		located, ok := r.state.LocateSource(ctx, src, h)
		if !ok {
			rs.AddDiagnostic(dataflow.Diagnostic{
				Kind:    dataflow.MissingData,
				Engine:  dataflow.Forward,
				File:    src.File,
				Message: fmt.Sprintf("cannot resolve the line of source %s at %s", src.Name, r.state.Graph.Node(h).ID),
			})
			continue
		}
		t.run(h, located)
		if t.exhausted || ctx.Err() != nil {
			break
		}
	}
	for _, row := range t.result {
		rs.AddRow(row)
	}
	for _, d := range t.diagnostics {
		rs.AddDiagnostic(d)
	}
	rs.UpdateStats(func(s *dataflow.Stats) { s.ForwardStates += int64(t.effort) })
}

// frame is a state of the search
type frame struct {
	h     flowgraph.Handle
	line  int
	depth int
	stack *dataflow.CallStack
	hops  []dataflow.Hop
	// sanitizer is the first sanitizer crossed by the path
	sanitizer *registry.Record
	// ungated is set when a step could not be checked against a control-flow graph
	ungated bool
}

type traversal struct {
	*Resolver
	ctx context.Context

	src registry.Record
	// visited[sanitized][depth bucket] are the handles already expanded at that depth
	visited [2][]*intsets.Sparse

	effort      int
	exhausted   bool
	depthHit    bool
	rows        map[string]int
	result      []dataflow.Row
	diagnostics []dataflow.Diagnostic
}

func (t *traversal) run(seed flowgraph.Handle, src registry.Record) {
	t.src = src
	t.visited = [2][]*intsets.Sparse{}
	first := t.state.FirstHop(seed, src.Line)
	start := frame{h: seed, line: src.Line, hops: []dataflow.Hop{first}}
	start.sanitizer = t.sanitizerAt(first, nil)

	stack := []frame{start}
	for len(stack) > 0 {
		if t.ctx.Err() != nil {
			return
		}
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !t.visit(cur) {
			continue
		}
		t.effort++
		if t.effort > t.state.Config.MaxEffort {
			t.exhausted = true
			t.exhaust(fmt.Sprintf("effort limit %d reached", t.state.Config.MaxEffort))
			return
		}
		t.checkSinks(cur)
		if t.state.Config.ExceedsMaxDepth(cur.depth + 1) {
			if !t.depthHit {
				t.depthHit = true
				t.exhaust(fmt.Sprintf("depth limit %d reached at %s", t.state.Config.MaxDepth,
					t.state.Graph.Node(cur.h).ID))
			}
			continue
		}
		edges := t.state.Graph.ForwardDataFlow(cur.h)
		for i := len(edges) - 1; i >= 0; i-- {
			if next, ok := t.step(cur, edges[i]); ok {
				stack = append(stack, next)
			}
		}
	}
}

// visit marks the frame's node as visited at its depth bucket, and returns false if it already was
func (t *traversal) visit(f frame) bool {
	s := 0
	if f.sanitizer != nil {
		s = 1
	}
	bucket := f.depth / max(t.state.Config.DepthBucket, 1)
	for len(t.visited[s]) <= bucket {
		t.visited[s] = append(t.visited[s], &intsets.Sparse{})
	}
	return t.visited[s][bucket].Insert(int(f.h))
}

// step returns the frame reached by following e from cur, and false when the step is not feasible
func (t *traversal) step(cur frame, e flowgraph.Edge) (frame, bool) {
	g := t.state.Graph
	from, to := g.Node(e.From), g.Node(e.To)
	line := t.state.HopLine(e)
	if e.Kind == flowgraph.ParameterBinding && to.Line > 0 {
		// positions in the callee are relative to its own body
		line = to.Line
	}
	next := frame{
		h:         e.To,
		line:      line,
		depth:     cur.depth + 1,
		stack:     cur.stack,
		sanitizer: cur.sanitizer,
		ungated:   cur.ungated,
	}
	switch e.Kind {
	case flowgraph.ParameterBinding:
		site := dataflow.EdgeCallSite(e, from)
		if site != "" {
			if dataflow.IsRecursive(cur.stack, site) {
				return frame{}, false
			}
			next.stack = dataflow.Push(cur.stack, site, 0)
		}
	case flowgraph.Return:
		site := dataflow.EdgeCallSite(e, to)
		if site != "" {
			stack, ok := dataflow.Pop(cur.stack, site)
			if !ok {
				return frame{}, false
			}
			next.stack = stack
		}
	default:
		if from.FunctionKey() == to.FunctionKey() {
			reachable, known := t.cfgReachable(from, cur.line, line)
			if !reachable {
				return frame{}, false
			}
			next.ungated = next.ungated || !known
		}
	}
	hop := t.state.NewHop(e, line)
	next.hops = append(cur.hops[:len(cur.hops):len(cur.hops)], hop)
	if next.sanitizer == nil {
		next.sanitizer = t.sanitizerAt(hop, e.Meta.Via)
	}
	return next, true
}

// cfgReachable checks that control can flow from line a to line b in the function of n. known is false when the
// function has no CFG or the lines are not covered by its blocks, in which case the step is allowed.
func (t *traversal) cfgReachable(n flowgraph.Node, a, b int) (reachable bool, known bool) {
	if a <= 0 || b <= 0 || accesspath.NormalizeScope(n.Scope) == accesspath.ModuleScope {
		return true, false
	}
	cfg, found, err := t.state.CFGs.Lookup(t.ctx, n.File, n.Scope)
	if err != nil {
		t.logger.Warnf("could not load CFG of %s: %v", n.FunctionKey(), err)
		return true, false
	}
	if !found || cfg.NumBlocks() == 0 {
		if _, loaded := t.reported.LoadOrStore(n.FunctionKey(), true); !loaded {
			t.diagnostics = append(t.diagnostics, dataflow.Diagnostic{
				Kind:    dataflow.MissingData,
				Engine:  dataflow.Forward,
				File:    n.File,
				Message: fmt.Sprintf("no CFG blocks for function %s", n.Scope),
			})
		}
		return true, false
	}
	return cfg.Reachable(a, b)
}

func (t *traversal) sanitizerAt(h dataflow.Hop, via []string) *registry.Record {
	if h.Line <= 0 && len(via) == 0 {
		return nil
	}
	if rec, ok := t.state.Registry.SanitizedHop(h.File, h.Line, h.Function, via); ok {
		return &rec
	}
	return nil
}

// checkSinks records a row for every sink referencing the frame's node
func (t *traversal) checkSinks(cur frame) {
	n := t.state.Graph.Node(cur.h)
	for _, sink := range t.sinks[n.File] {
		if !t.state.SinkMentions(sink, n) {
			continue
		}
		reachable, known := t.cfgReachable(n, cur.line, sink.Line)
		if !reachable {
			continue
		}
		sanitizer := cur.sanitizer
		if sanitizer == nil {
			if rec, ok := t.state.Registry.SanitizerAt(sink.File, sink.Line); ok {
				sanitizer = &rec
			}
		}
		confidence := dataflow.High
		if cur.ungated || !known {
			confidence = dataflow.Medium
		}
		row := dataflow.Row{
			TaintPath: dataflow.NewTaintPath(t.src, sink, cur.hops, confidence),
			Engine:    dataflow.Forward,
			Status:    dataflow.Vulnerable,
		}
		if sanitizer != nil {
			row.Status = dataflow.Sanitized
			row.Sanitizer = sanitizer
		}
		t.addRow(row)
	}
}

// addRow keeps one row per source location and sink. A vulnerable path replaces a sanitized one.
func (t *traversal) addRow(row dataflow.Row) {
	key := fmt.Sprintf("%s|%s|%s", row.Source.Loc(), row.Sink.Loc(), row.Sink.Pattern)
	i, ok := t.rows[key]
	if !ok {
		t.rows[key] = len(t.result)
		t.result = append(t.result, row)
		return
	}
	if t.result[i].Status == dataflow.Sanitized && row.Status == dataflow.Vulnerable {
		t.result[i] = row
	}
}

func (t *traversal) exhaust(msg string) {
	t.logger.Debugf("source %s: %s", t.src.Loc(), msg)
	t.result = append(t.result, dataflow.Row{
		TaintPath: dataflow.TaintPath{Source: t.src},
		Engine:    dataflow.Forward,
		Status:    dataflow.Exhausted,
	})
	t.diagnostics = append(t.diagnostics, dataflow.Diagnostic{
		Kind:    dataflow.BudgetExhausted,
		Engine:  dataflow.Forward,
		File:    t.src.File,
		Line:    t.src.Line,
		Message: msg,
	})
}
