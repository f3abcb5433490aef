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

// Package graphutil adapts call graphs to the gonum and yourbasic graph libraries.
package graphutil

import (
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/iterator"
	"gonum.org/v1/gonum/graph/simple"
)

// CGraph is a directed graph of labelled nodes, typically the call graph between functions. It satisfies both
// yourbasic's graph.Iterator and gonum's graph.Graph.
//
// Node ids are dense: every id is in [0, Order()). A subgraph keeps the ids of the graph it was cut from.
type CGraph struct {
	order int

	// IDMap maps node ids to nodes
	IDMap map[int64]CNode

	// Keys are the ids of the nodes present in the graph, in increasing order
	Keys []int64

	// Edges[x][y] is true when there is an edge from x to y
	Edges map[int64]map[int64]bool
}

// NewCGraph returns a graph with one node per label. Node i is labelled labels[i]. succ returns the successors of
// node i; out-of-range successors are ignored.
func NewCGraph(labels []string, succ func(i int64) []int64) CGraph {
	n := int64(len(labels))
	g := CGraph{
		order: len(labels),
		IDMap: make(map[int64]CNode, n),
		Keys:  make([]int64, n),
		Edges: make(map[int64]map[int64]bool, n),
	}
	for id := int64(0); id < n; id++ {
		g.Keys[id] = id
		g.IDMap[id] = CNode{id: id, Label: labels[id]}
		g.Edges[id] = map[int64]bool{}
	}
	for id := int64(0); id < n; id++ {
		for _, w := range succ(id) {
			if w >= 0 && w < n {
				g.Edges[id][w] = true
			}
		}
	}
	return g
}

// Subgraph returns the subgraph of g induced by the nodes in include
func Subgraph(g CGraph, include []int64) CGraph {
	in := make(map[int64]bool, len(include))
	for _, id := range include {
		in[id] = true
	}
	sub := CGraph{
		order: g.order,
		IDMap: g.IDMap,
		Keys:  append([]int64(nil), include...),
		Edges: make(map[int64]map[int64]bool, len(include)),
	}
	for _, id := range include {
		sub.Edges[id] = map[int64]bool{}
		for w := range g.Edges[id] {
			if in[w] {
				sub.Edges[id][w] = true
			}
		}
	}
	return sub
}

// Successors returns the successors of v in increasing order
func (c CGraph) Successors(v int64) []int64 {
	ws := make([]int64, 0, len(c.Edges[v]))
	for w, ok := range c.Edges[v] {
		if ok {
			ws = append(ws, w)
		}
	}
	sort.Slice(ws, func(i, j int) bool { return ws[i] < ws[j] })
	return ws
}

// Order is the number of ids of the graph (yourbasic graph.Iterator)
func (c CGraph) Order() int {
	return c.order
}

// Visit calls do on the successors of v, in increasing order (yourbasic graph.Iterator)
func (c CGraph) Visit(v int, do func(w int, c int64) (skip bool)) (aborted bool) {
	for _, w := range c.Successors(int64(v)) {
		if do(int(w), 1) {
			return true
		}
	}
	return false
}

// Node returns the node with the id, or nil (gonum graph.Graph)
func (c CGraph) Node(id int64) graph.Node {
	if n, ok := c.IDMap[id]; ok {
		return n
	}
	return nil
}

// Nodes returns the nodes of the graph (gonum graph.Graph)
func (c CGraph) Nodes() graph.Nodes {
	return c.nodes(c.Keys)
}

// From returns the successors of the node (gonum graph.Graph)
func (c CGraph) From(id int64) graph.Nodes {
	return c.nodes(c.Successors(id))
}

func (c CGraph) nodes(ids []int64) graph.Nodes {
	ns := make([]graph.Node, len(ids))
	for i, id := range ids {
		ns[i] = c.IDMap[id]
	}
	return iterator.NewOrderedNodes(ns)
}

// HasEdgeBetween returns true if there is an edge between the nodes, in either direction (gonum graph.Graph)
func (c CGraph) HasEdgeBetween(xid, yid int64) bool {
	return c.Edges[xid][yid] || c.Edges[yid][xid]
}

// Edge returns the edge from u to v, or nil (gonum graph.Graph)
func (c CGraph) Edge(uid, vid int64) graph.Edge {
	if !c.Edges[uid][vid] {
		return nil
	}
	return simple.Edge{F: c.IDMap[uid], T: c.IDMap[vid]}
}

// CNode is a node of a CGraph
type CNode struct {
	id    int64
	Label string
}

// ID returns the id of the node
func (n CNode) ID() int64 {
	return n.id
}

func (n CNode) String() string {
	return n.Label
}
