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

package dataflow

import (
	"context"
	"sort"

	"github.com/awslabs/argot-taint/analysis/accesspath"
	"github.com/awslabs/argot-taint/analysis/exprparse"
	"github.com/awslabs/argot-taint/analysis/flowgraph"
	"github.com/awslabs/argot-taint/analysis/registry"
)

// NodesNamed returns the nodes of the function in the file whose name is name. When no node has exactly that name,
// nodes whose name is a prefix or an extension of name are returned. An empty function selects every node of the
// file.
func (s *AnalyzerState) NodesNamed(file, function, name string) []flowgraph.Handle {
	var candidates []flowgraph.Handle
	if function == "" {
		candidates = s.nodesByFile[file]
	} else {
		candidates = s.Graph.NodesInFunction(flowgraph.FunctionKey(file, function))
	}
	var exact, prefix []flowgraph.Handle
	for _, h := range candidates {
		n := s.Graph.Node(h)
		if n.Kind == flowgraph.KindFunction {
			continue
		}
		if n.Name == name {
			exact = append(exact, h)
		} else if exprparse.SamePath(n.Name, name) {
			prefix = append(prefix, h)
		}
	}
	if len(exact) > 0 {
		return exact
	}
	return prefix
}

// SourceNodes returns the nodes where the source's data appears. HTTP entry points are seeded at the parameters of
// their handler.
func (s *AnalyzerState) SourceNodes(src registry.Record) []flowgraph.Handle {
	if src.Endpoint != nil {
		var res []flowgraph.Handle
		for key, e := range s.HandlerScopes {
			if e != *src.Endpoint {
				continue
			}
			for _, h := range s.Graph.NodesInFunction(key) {
				if s.Graph.Node(h).Kind == flowgraph.KindParameter {
					res = append(res, h)
				}
			}
		}
		return dedupHandles(res)
	}
	if hs := s.NodesNamed(src.File, src.Function, src.Name); len(hs) > 0 || src.Function == "" {
		return hs
	}
	return s.NodesNamed(src.File, "", src.Name)
}

// SinkExpressions returns the expressions passed to the sink: its arguments, or the sink's name when it has no
// recorded argument (SQL queries, assignments to innerHTML)
func SinkExpressions(sink registry.Record) []string {
	var res []string
	for _, a := range sink.Args {
		if a != "" {
			res = append(res, a)
		}
	}
	if len(res) == 0 && sink.Name != "" {
		res = append(res, sink.Name)
	}
	return res
}

// SinkMentions returns true if the node is in the sink's scope and one of the sink's expressions references it
func (s *AnalyzerState) SinkMentions(sink registry.Record, n flowgraph.Node) bool {
	if n.File != sink.File || n.Kind == flowgraph.KindFunction {
		return false
	}
	if sink.Function != "" && accesspath.NormalizeScope(sink.Function) != accesspath.NormalizeScope(n.Scope) {
		return false
	}
	lang := s.Lang(sink.File)
	for _, expr := range SinkExpressions(sink) {
		if s.Parser.Mentions(lang, expr, n.Name) {
			return true
		}
	}
	return false
}

// SinkNodes returns the nodes referenced by the sink's expressions
func (s *AnalyzerState) SinkNodes(sink registry.Record) []flowgraph.Handle {
	var candidates []flowgraph.Handle
	if sink.Function == "" {
		candidates = s.nodesByFile[sink.File]
	} else {
		candidates = s.Graph.NodesInFunction(flowgraph.FunctionKey(sink.File, sink.Function))
	}
	var res []flowgraph.Handle
	for _, h := range candidates {
		if s.SinkMentions(sink, s.Graph.Node(h)) {
			res = append(res, h)
		}
	}
	return res
}

// SourceLine resolves the line of a node where tainted data originates. It tries, in order, the nearest assignment
// to the variable in its function, the declaration of the parameter when the node is a parameter of its function,
// and the nearest occurrence of the variable. It returns false when all fail.
func (s *AnalyzerState) SourceLine(ctx context.Context, n flowgraph.Node) (int, bool) {
	ff, err := s.Facts.FileFacts(ctx, n.File)
	if err != nil {
		return 0, false
	}
	scope := accesspath.NormalizeScope(n.Scope)
	base := exprparse.Base(n.Name)

	best := 0
	for _, a := range ff.Assignments {
		if a.Line > 0 && accesspath.NormalizeScope(a.InFunction) == scope &&
			(a.TargetVar == n.Name || a.TargetVar == base) && closer(a.Line, best, n.Line) {
			best = a.Line
		}
	}
	if best > 0 {
		return best, true
	}

	if fn, ok := ff.Function(n.Scope); ok {
		if p, ok := fn.Param(base); ok {
			if p.Line > 0 {
				return p.Line, true
			}
			if fn.Line > 0 {
				return fn.Line, true
			}
		}
	}

	for _, u := range ff.Usages {
		if u.Line > 0 && (u.InFunction == "" || accesspath.NormalizeScope(u.InFunction) == scope) &&
			exprparse.SamePath(u.VariableName, n.Name) && closer(u.Line, best, n.Line) {
			best = u.Line
		}
	}
	return best, best > 0
}

// LocateSource returns the source as seen at one of its nodes. Sources located by the facts keep their line; the
// line of entry points, and of sources without line, is resolved with SourceLine. It returns false when no line can
// be found.
func (s *AnalyzerState) LocateSource(ctx context.Context, src registry.Record, h flowgraph.Handle) (registry.Record,
	bool) {
	if src.Endpoint == nil && src.Line > 0 {
		return src, true
	}
	n := s.Graph.Node(h)
	if line, ok := s.SourceLine(ctx, n); ok {
		src.File = n.File
		src.Line = line
		return src, true
	}
	return src, src.Line > 0
}

// closer returns true if line is a better candidate than best: the closest to ref, or the first when ref is unknown
func closer(line, best, ref int) bool {
	if best == 0 {
		return true
	}
	if ref <= 0 {
		return line < best
	}
	return abs(line-ref) < abs(best-ref) || (abs(line-ref) == abs(best-ref) && line < best)
}

// HopLine returns the line of the statement inducing the edge, or the line of its target
func (s *AnalyzerState) HopLine(e flowgraph.Edge) int {
	if e.Meta.Line > 0 {
		return e.Meta.Line
	}
	return s.Graph.Node(e.To).Line
}

// NewHop returns the hop reaching the target of e
func (s *AnalyzerState) NewHop(e flowgraph.Edge, line int) Hop {
	n := s.Graph.Node(e.To)
	return Hop{Node: n.ID, Kind: e.Kind, File: n.File, Line: line, Function: functionOf(n, e.Meta)}
}

// FirstHop returns the hop of the first node of a path
func (s *AnalyzerState) FirstHop(h flowgraph.Handle, line int) Hop {
	n := s.Graph.Node(h)
	return Hop{Node: n.ID, File: n.File, Line: line, Function: functionOf(n, flowgraph.Metadata{})}
}

// EdgeCallSite returns the call site of a parameter binding or return edge, from its metadata or from the line of
// the edge in the file of caller, the node on the caller's side. It returns "" when the call is not located.
func EdgeCallSite(e flowgraph.Edge, caller flowgraph.Node) CallSite {
	if e.Meta.CallSite != "" {
		return CallSite(e.Meta.CallSite)
	}
	if e.Meta.Line > 0 {
		return NewCallSite(caller.File, e.Meta.Line)
	}
	return ""
}

func functionOf(n flowgraph.Node, meta flowgraph.Metadata) string {
	if meta.Function != "" {
		return meta.Function
	}
	if accesspath.NormalizeScope(n.Scope) == accesspath.ModuleScope {
		return ""
	}
	return n.Scope
}

func dedupHandles(hs []flowgraph.Handle) []flowgraph.Handle {
	sort.Slice(hs, func(i, j int) bool { return hs[i] < hs[j] })
	res := hs[:0]
	for i, h := range hs {
		if i == 0 || hs[i-1] != h {
			res = append(res, h)
		}
	}
	return res
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
