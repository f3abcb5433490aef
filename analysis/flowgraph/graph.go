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

// Package flowgraph implements the data-flow and call graph consumed by the taint analyses.
//
// The graph is an arena: nodes are stored in a slice and addressed by integer handles, and edges are indexed per
// kind. A graph is immutable once built and can be shared between goroutines.
//
// Every data-flow edge of kind K has a twin edge of kind K_reverse with swapped endpoints and the same metadata, so
// that backward traversals only follow reverse edges. The [Builder] maintains this invariant; graphs loaded from a
// store are checked and repaired.
package flowgraph

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/awslabs/argot-taint/analysis/accesspath"
)

// ErrUnknownNode is returned when a node id is not in the graph
var ErrUnknownNode = errors.New("unknown node")

// Handle addresses a node in a Graph
type Handle int32

// NoHandle is the handle of no node
const NoHandle Handle = -1

// ReverseSuffix is the suffix of the kind of reverse edges
const ReverseSuffix = "_reverse"

// EdgeKind is the kind of an edge
type EdgeKind string

// The forward edge kinds. Each has a reverse twin, see EdgeKind.Reverse.
const (
	// Assignment edges go from a variable read to the variable assigned
	Assignment EdgeKind = "assignment"
	// ParameterBinding edges go from a caller's argument to the callee's parameter
	ParameterBinding EdgeKind = "parameter_binding"
	// Return edges go from a callee's returned value to the caller's variable receiving it
	Return EdgeKind = "return"
	// CrossBoundary edges link values across framework boundaries (middleware, templates...)
	CrossBoundary EdgeKind = "cross_boundary"
	// Call edges go from a caller to a callee in the call graph
	Call EdgeKind = "call"
)

// Reverse returns the reverse twin of a kind. The reverse of a reverse kind is the forward kind.
func (k EdgeKind) Reverse() EdgeKind {
	if k.IsReverse() {
		return k.Forward()
	}
	return k + ReverseSuffix
}

// IsReverse returns true for reverse kinds
func (k EdgeKind) IsReverse() bool {
	return strings.HasSuffix(string(k), ReverseSuffix)
}

// Forward returns the forward kind of a kind
func (k EdgeKind) Forward() EdgeKind {
	return EdgeKind(strings.TrimSuffix(string(k), ReverseSuffix))
}

// GraphType distinguishes data-flow edges from call graph edges
type GraphType string

const (
	DataFlow  GraphType = "data_flow"
	CallGraph GraphType = "call"
)

// Node kinds
const (
	KindVariable    = "variable"
	KindParameter   = "parameter"
	KindReturnValue = "return_value"
	KindFunction    = "function"
)

// Node is a variable occurrence, a function or a call site
type Node struct {
	ID    string
	File  string
	Scope string
	Name  string
	Kind  string
	Line  int
}

// FunctionKey returns the key file::function of the function the node belongs to. For function nodes, this is the
// function itself.
func (n Node) FunctionKey() string {
	if n.Kind == KindFunction {
		return FunctionKey(n.File, n.Name)
	}
	return FunctionKey(n.File, n.Scope)
}

// FunctionKey returns the key of a function in a file
func FunctionKey(file, function string) string {
	return file + "::" + accesspath.NormalizeScope(function)
}

// Metadata is the metadata of an edge
type Metadata struct {
	// Line is the line of the statement inducing the edge
	Line int `json:"line,omitempty"`
	// Expression is the source expression, possibly truncated
	Expression string `json:"expression,omitempty"`
	// Function is the function containing the statement
	Function string `json:"function,omitempty"`
	// CallSite identifies the call of parameter_binding and return edges, as file:line
	CallSite string `json:"call_site,omitempty"`
	// Via lists the calls elided when the edge was compressed
	Via []string `json:"via,omitempty"`
}

// Equal compares two metadata
func (m Metadata) Equal(o Metadata) bool {
	if m.Line != o.Line || m.Expression != o.Expression || m.Function != o.Function || m.CallSite != o.CallSite ||
		len(m.Via) != len(o.Via) {
		return false
	}
	for i := range m.Via {
		if m.Via[i] != o.Via[i] {
			return false
		}
	}
	return true
}

// Edge is a directed edge of the graph
type Edge struct {
	From Handle
	To   Handle
	Kind EdgeKind
	Type GraphType
	Meta Metadata
}

// Graph is an immutable arena of nodes and edges
type Graph struct {
	nodes []Node
	index map[string]Handle
	edges []Edge
	// out[kind][from] are the indices in edges of the edges of kind starting at from
	out map[EdgeKind]map[Handle][]int
	// issues are the problems found while loading the graph
	issues []string
	// byFunction maps function keys to the nodes of the function
	byFunction map[string][]Handle
}

func newGraph() *Graph {
	return &Graph{index: map[string]Handle{}, out: map[EdgeKind]map[Handle][]int{}}
}

// NumNodes returns the number of nodes
func (g *Graph) NumNodes() int { return len(g.nodes) }

// NumEdges returns the number of edges, twins included
func (g *Graph) NumEdges() int { return len(g.edges) }

// Node returns the node of a handle. It panics if the handle is not in the graph.
func (g *Graph) Node(h Handle) Node {
	return g.nodes[h]
}

// Valid returns true if the handle is a node of the graph
func (g *Graph) Valid(h Handle) bool {
	return h >= 0 && int(h) < len(g.nodes)
}

// Lookup returns the handle of a node id
func (g *Graph) Lookup(id string) (Handle, bool) {
	h, ok := g.index[id]
	return h, ok
}

// MustLookup returns the handle of a node id, or an error wrapping ErrUnknownNode
func (g *Graph) MustLookup(id string) (Handle, error) {
	if h, ok := g.index[id]; ok {
		return h, nil
	}
	return NoHandle, fmt.Errorf("%w: %s", ErrUnknownNode, id)
}

// Out returns the edges of the given kinds starting at h, in kind order then insertion order
func (g *Graph) Out(h Handle, kinds ...EdgeKind) []Edge {
	var res []Edge
	for _, k := range kinds {
		for _, i := range g.out[k][h] {
			res = append(res, g.edges[i])
		}
	}
	return res
}

// ForwardDataFlow returns the forward data-flow edges starting at h
func (g *Graph) ForwardDataFlow(h Handle) []Edge {
	return g.filterOut(h, func(k EdgeKind) bool { return !k.IsReverse() && k != Call })
}

// ReverseDataFlow returns the reverse data-flow edges starting at h
func (g *Graph) ReverseDataFlow(h Handle) []Edge {
	return g.filterOut(h, func(k EdgeKind) bool { return k.IsReverse() && k.Forward() != Call })
}

func (g *Graph) filterOut(h Handle, keep func(EdgeKind) bool) []Edge {
	var res []Edge
	for _, k := range g.Kinds() {
		if keep(k) {
			for _, i := range g.out[k][h] {
				res = append(res, g.edges[i])
			}
		}
	}
	return res
}

// Kinds returns the edge kinds present in the graph, sorted
func (g *Graph) Kinds() []EdgeKind {
	ks := make([]EdgeKind, 0, len(g.out))
	for k := range g.out {
		ks = append(ks, k)
	}
	sort.Slice(ks, func(i, j int) bool { return ks[i] < ks[j] })
	return ks
}

// Edges returns all the edges of the graph
func (g *Graph) Edges() []Edge {
	return append([]Edge(nil), g.edges...)
}

// HasEdge returns true if there is an edge of the kind from a to b
func (g *Graph) HasEdge(a, b Handle, kind EdgeKind) bool {
	for _, i := range g.out[kind][a] {
		if g.edges[i].To == b {
			return true
		}
	}
	return false
}

// Issues returns the problems found when the graph was loaded (malformed metadata, repaired edges...)
func (g *Graph) Issues() []string {
	return append([]string(nil), g.issues...)
}

// NodesInFunction returns the handles of the nodes of a function, given by its key file::function
func (g *Graph) NodesInFunction(key string) []Handle {
	return append([]Handle(nil), g.byFunction[key]...)
}

// CheckReverseInvariant returns the edges whose reverse twin is missing
func (g *Graph) CheckReverseInvariant() []Edge {
	var missing []Edge
	for _, e := range g.edges {
		if e.Type == CallGraph {
			continue
		}
		if !g.HasEdge(e.To, e.From, e.Kind.Reverse()) {
			missing = append(missing, e)
		}
	}
	return missing
}

// EdgeString returns a short description of the edge
func (g *Graph) EdgeString(e Edge) string {
	return fmt.Sprintf("%s -[%s]-> %s", g.nodes[e.From].ID, e.Kind, g.nodes[e.To].ID)
}
