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

// Package backward implements the context-sensitive backward analysis. Starting from each sink, a worklist follows
// the reverse data-flow edges of the graph, tracking access paths under a bounded call-string context, until it
// matches a source, and reports the strongest source found near the first match.
package backward

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/awslabs/argot-taint/analysis/accesspath"
	"github.com/awslabs/argot-taint/analysis/config"
	"github.com/awslabs/argot-taint/analysis/dataflow"
	"github.com/awslabs/argot-taint/analysis/flowgraph"
	"github.com/awslabs/argot-taint/analysis/registry"
)

// Analyzer runs the backward analysis of a run
type Analyzer struct {
	state  *dataflow.AnalyzerState
	logger *config.LogGroup

	// sources are the sources of the registry, by file
	sources map[string][]registry.Record
	// endpoints maps endpoints to their source record
	endpoints map[registry.Endpoint]registry.Record

	// malformed holds the node ids already reported as malformed
	malformed sync.Map
}

// NewAnalyzer returns an analyzer over the state's graph, matching the state's sources
func NewAnalyzer(state *dataflow.AnalyzerState) *Analyzer {
	a := &Analyzer{
		state:     state,
		logger:    state.Logger.Named("backward"),
		sources:   map[string][]registry.Record{},
		endpoints: map[registry.Endpoint]registry.Record{},
	}
	for _, src := range state.Registry.Sources() {
		if src.Endpoint != nil {
			a.endpoints[*src.Endpoint] = src
			continue
		}
		a.sources[src.File] = append(a.sources[src.File], src)
	}
	return a
}

// AnalyzeSinks analyzes each sink on the worker pool
func (a *Analyzer) AnalyzeSinks(ctx context.Context, sinks []registry.Record) *dataflow.ResultSet {
	rs := dataflow.NewResultSet(a.state.RunID)
	rs.UpdateStats(func(s *dataflow.Stats) {
		s.Sources = len(a.state.Registry.Sources())
		s.Sinks = len(sinks)
	})
	failed, err := dataflow.ForEach(ctx, a.state, sinks, sinkKey, func(ctx context.Context, sink registry.Record) {
		a.AnalyzeSink(ctx, sink, rs)
	})
	for _, sink := range failed {
		rs.AddRow(dataflow.Row{TaintPath: dataflow.TaintPath{Sink: sink}, Engine: dataflow.Backward,
			Status: dataflow.Exhausted})
		rs.AddDiagnostic(dataflow.Diagnostic{
			Kind:    dataflow.AnalysisFailed,
			Engine:  dataflow.Backward,
			File:    sink.File,
			Line:    sink.Line,
			Message: fmt.Sprintf("analysis of sink %s failed", sink.Name),
		})
	}
	if err != nil {
		a.state.AddError("backward", err)
		rs.AddDiagnostic(dataflow.Diagnostic{
			Kind:    dataflow.AnalysisFailed,
			Engine:  dataflow.Backward,
			Message: fmt.Sprintf("backward analysis stopped: %v", err),
		})
	}
	a.logger.Infof("backward: %d sinks, %d rows", len(sinks), len(rs.Rows()))
	return rs
}

func sinkKey(sink registry.Record) string {
	return "sink " + sink.String()
}

// item is an element of the worklist
type item struct {
	h     flowgraph.Handle
	ap    accesspath.AccessPath
	cs    *dataflow.CallStack
	depth int
	// hops are in backward order: the hop at the sink comes first
	hops      []dataflow.Hop
	sanitizer *registry.Record
	best      *candidate
	// since is the number of hops since the first source match
	since int
}

type visitKey struct {
	h         flowgraph.Handle
	ap        string
	cs        string
	sanitized bool
}

// candidate is a source matched by the search
type candidate struct {
	src       registry.Record
	score     int
	exact     bool
	hops      []dataflow.Hop
	sanitizer *registry.Record
}

type search struct {
	*Analyzer
	ctx  context.Context
	sink registry.Record

	visited     map[visitKey]bool
	effort      int
	stop        bool
	depthHit    bool
	rows        map[string]int
	result      []dataflow.Row
	diagnostics []dataflow.Diagnostic
}

// AnalyzeSink runs the search from one sink and adds its rows and diagnostics to rs
func (a *Analyzer) AnalyzeSink(ctx context.Context, sink registry.Record, rs *dataflow.ResultSet) {
	s := &search{
		Analyzer: a,
		ctx:      ctx,
		sink:     sink,
		visited:  map[visitKey]bool{},
		rows:     map[string]int{},
	}
	seeds := a.state.SinkNodes(sink)
	if len(seeds) == 0 {
		if a.referencesNames(sink) {
			rs.AddDiagnostic(dataflow.Diagnostic{
				Kind:    dataflow.MissingData,
				Engine:  dataflow.Backward,
				File:    sink.File,
				Line:    sink.Line,
				Message: fmt.Sprintf("no graph node for the arguments of sink %s", sink.Name),
			})
		}
		return
	}
	s.run(seeds)
	for _, row := range s.result {
		rs.AddRow(row)
	}
	for _, d := range s.diagnostics {
		rs.AddDiagnostic(d)
	}
	rs.UpdateStats(func(st *dataflow.Stats) { st.BackwardStates += int64(s.effort) })
}

// referencesNames returns true if some expression of the sink references a name. Sinks called with literals only
// cannot receive tainted data.
func (a *Analyzer) referencesNames(sink registry.Record) bool {
	lang := a.state.Lang(sink.File)
	for _, expr := range dataflow.SinkExpressions(sink) {
		if len(a.state.Parser.References(lang, expr)) > 0 {
			return true
		}
	}
	return false
}

func (s *search) run(seeds []flowgraph.Handle) {
	var queue []item
	for _, h := range seeds {
		n := s.state.Graph.Node(h)
		hop := s.state.FirstHop(h, s.sink.Line)
		it := item{h: h, ap: s.seedPath(n), hops: []dataflow.Hop{hop}}
		it.sanitizer = s.sanitizerAt(hop, nil)
		queue = append(queue, it)
	}
	for len(queue) > 0 && !s.stop {
		if s.ctx.Err() != nil {
			return
		}
		it := queue[0]
		queue = queue[1:]
		key := visitKey{h: it.h, ap: it.ap.String(), cs: it.cs.Key(), sanitized: it.sanitizer != nil}
		if s.visited[key] {
			// the branch joins an explored state
			if it.best != nil {
				s.finalize(it.best)
			}
			continue
		}
		s.visited[key] = true
		s.effort++
		if limit := s.state.Config.MaxEffort; limit > 0 && s.effort > limit {
			found := false
			for _, rest := range append(queue, it) {
				if rest.best != nil {
					s.finalize(rest.best)
					found = true
				}
			}
			// the candidates found so far are reported, but the search is still incomplete
			s.exhaust(fmt.Sprintf("effort limit %d reached", limit), !found)
			return
		}

		if c := s.matchSource(it); c != nil && (it.best == nil || c.score > it.best.score) {
			it.best = c
		}
		if it.best != nil && it.since >= s.state.Config.SourceMatchRadius {
			s.finalize(it.best)
			continue
		}
		edges := s.state.Graph.ReverseDataFlow(it.h)
		if len(edges) > 0 && s.state.Config.ExceedsBackwardMaxDepth(it.depth+1) {
			if it.best != nil {
				s.finalize(it.best)
			} else if !s.depthHit {
				s.depthHit = true
				s.exhaust(fmt.Sprintf("depth limit %d reached at %s", s.state.Config.BackwardMaxDepth,
					s.state.Graph.Node(it.h).ID), true)
			}
			continue
		}
		expanded := false
		for _, e := range edges {
			next, ok := s.step(it, e)
			if !ok {
				continue
			}
			expanded = true
			queue = append(queue, next)
		}
		if !expanded && it.best != nil {
			s.finalize(it.best)
		}
	}
}

// seedPath returns the access path tracked at a node referenced by the sink: the longest reference of the sink
// expressions extending the node's name, or the node itself
func (s *search) seedPath(n flowgraph.Node) accesspath.AccessPath {
	name := n.Name
	lang := s.state.Lang(s.sink.File)
	for _, expr := range dataflow.SinkExpressions(s.sink) {
		for _, ref := range s.state.Parser.References(lang, expr) {
			if strings.HasPrefix(ref, n.Name+".") && len(ref) > len(name) {
				name = ref
			}
		}
	}
	ap, err := accesspath.FromParts(n.File, n.Scope, name, s.state.Config.AccessPathBound)
	if err != nil {
		return s.nodePath(n)
	}
	return ap
}

// nodePath parses the id of the node. Malformed ids are reported and yield the empty path.
func (s *search) nodePath(n flowgraph.Node) accesspath.AccessPath {
	ap, err := accesspath.Parse(n.ID, s.state.Config.AccessPathBound)
	if err != nil {
		if _, loaded := s.malformed.LoadOrStore(n.ID, true); !loaded {
			s.diagnostics = append(s.diagnostics, dataflow.Diagnostic{
				Kind:    dataflow.MalformedFact,
				Engine:  dataflow.Backward,
				File:    n.File,
				Line:    n.Line,
				Message: err.Error(),
			})
		}
		return accesspath.AccessPath{}
	}
	return ap
}

// step returns the item reached by following the reverse edge e, and false when the step is not feasible in the
// item's calling context
func (s *search) step(it item, e flowgraph.Edge) (item, bool) {
	g := s.state.Graph
	from, to := g.Node(e.From), g.Node(e.To)
	next := item{
		h:         e.To,
		cs:        it.cs,
		depth:     it.depth + 1,
		sanitizer: it.sanitizer,
		best:      it.best,
	}
	if it.best != nil {
		next.since = it.since + 1
	}
	switch e.Kind.Forward() {
	case flowgraph.Return:
		// from the value receiving the call's result into the callee
		if site := dataflow.EdgeCallSite(e, from); site != "" {
			next.cs = dataflow.Push(it.cs, site, s.state.Config.CallStringLength)
		}
	case flowgraph.ParameterBinding:
		// from the callee's parameter out to the caller's argument
		if site := dataflow.EdgeCallSite(e, to); site != "" {
			cs, ok := dataflow.Pop(it.cs, site)
			if !ok {
				return item{}, false
			}
			next.cs = cs
		}
	}
	next.ap = s.carry(it.ap, from, to)
	hop := s.state.NewHop(e, s.state.HopLine(e))
	next.hops = append(it.hops[:len(it.hops):len(it.hops)], hop)
	if next.sanitizer == nil {
		next.sanitizer = s.sanitizerAt(hop, e.Meta.Via)
	}
	return next, true
}

// carry moves the fields tracked beyond the name of node from onto node to: tracking req.body.name at node req.body
// and stepping to input yields input.name
func (s *search) carry(ap accesspath.AccessPath, from, to flowgraph.Node) accesspath.AccessPath {
	next := s.nodePath(to)
	if ap.IsZero() || next.IsZero() {
		return next
	}
	cur := s.nodePath(from)
	if cur.IsZero() || !ap.HasPrefix(cur) {
		return next
	}
	for _, f := range ap.Fields()[cur.Len():] {
		next = next.Append(f)
	}
	return next
}

func (s *search) sanitizerAt(h dataflow.Hop, via []string) *registry.Record {
	if h.Line <= 0 && len(via) == 0 {
		return nil
	}
	if rec, ok := s.state.Registry.SanitizedHop(h.File, h.Line, h.Function, via); ok {
		return &rec
	}
	return nil
}

func (s *search) finalize(c *candidate) {
	if s.stop {
		return
	}
	row := dataflow.Row{
		TaintPath: dataflow.NewTaintPath(c.src, s.sink, dataflow.ReversedHops(c.hops), confidence(c)),
		Engine:    dataflow.Backward,
		Status:    dataflow.Vulnerable,
	}
	if c.sanitizer != nil {
		row.Status = dataflow.Sanitized
		row.Sanitizer = c.sanitizer
	}
	key := row.Source.Loc() + "|" + row.Source.Pattern
	if i, ok := s.rows[key]; ok {
		if s.result[i].Status == dataflow.Sanitized && row.Status == dataflow.Vulnerable {
			s.result[i] = row
		}
		return
	}
	s.rows[key] = len(s.result)
	s.result = append(s.result, row)
	if limit := s.state.Config.MaxPathsPerSink; limit > 0 && len(s.result) >= limit {
		s.logger.Debugf("sink %s: %d paths recorded, stopping", s.sink.Loc(), len(s.result))
		s.stop = true
	}
}

func confidence(c *candidate) dataflow.Score {
	switch {
	case c.score <= registry.RankParameter*2+1:
		return dataflow.Low
	case c.exact:
		return dataflow.High
	}
	return dataflow.Medium
}

// exhaust records a budget diagnostic for the sink, and an exhausted row when withRow is set
func (s *search) exhaust(msg string, withRow bool) {
	s.logger.Debugf("sink %s: %s", s.sink.Loc(), msg)
	if withRow {
		s.result = append(s.result, dataflow.Row{
			TaintPath: dataflow.TaintPath{Sink: s.sink},
			Engine:    dataflow.Backward,
			Status:    dataflow.Exhausted,
		})
	}
	s.diagnostics = append(s.diagnostics, dataflow.Diagnostic{
		Kind:    dataflow.BudgetExhausted,
		Engine:  dataflow.Backward,
		File:    s.sink.File,
		Line:    s.sink.Line,
		Message: msg,
	})
}
