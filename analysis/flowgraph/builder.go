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

package flowgraph

import (
	"fmt"

	"github.com/awslabs/argot-taint/analysis/accesspath"
)

// Builder builds a Graph. A builder must not be used after Build.
type Builder struct {
	g *Graph
}

// NewBuilder returns a builder of an empty graph
func NewBuilder() *Builder {
	return &Builder{g: newGraph()}
}

// AddNode adds a node and returns its handle. Adding a node whose id is already present returns the existing handle;
// the existing node is completed with the non-empty fields of n. Missing file, scope and name are derived from the
// id when it is of the form file::scope::name.
func (b *Builder) AddNode(n Node) Handle {
	if h, ok := b.g.index[n.ID]; ok {
		cur := &b.g.nodes[h]
		if cur.Kind == "" || (cur.Kind == KindVariable && n.Kind != "") {
			cur.Kind = n.Kind
		}
		if cur.Line == 0 {
			cur.Line = n.Line
		}
		return h
	}
	if n.File == "" || n.Name == "" {
		if ap, err := accesspath.Parse(n.ID, 0); err == nil {
			if n.File == "" {
				n.File = ap.File()
			}
			if n.Scope == "" {
				n.Scope = ap.Scope()
			}
			if n.Name == "" {
				n.Name = ap.Name()
			}
		} else {
			b.g.issues = append(b.g.issues, fmt.Sprintf("node %q: %v", n.ID, err))
			if n.Name == "" {
				n.Name = n.ID
			}
		}
	}
	n.Scope = accesspath.NormalizeScope(n.Scope)
	if n.Kind == "" {
		n.Kind = KindVariable
	}
	h := Handle(len(b.g.nodes))
	b.g.nodes = append(b.g.nodes, n)
	b.g.index[n.ID] = h
	return h
}

func (b *Builder) handle(id string) Handle {
	if h, ok := b.g.index[id]; ok {
		return h
	}
	return b.AddNode(Node{ID: id})
}

// AddEdge adds a forward edge of the kind between two node ids, and its reverse twin. Nodes are created as needed.
// Call edges belong to the call graph and have no twin. It is an error to add a reverse kind directly.
func (b *Builder) AddEdge(from, to string, kind EdgeKind, meta Metadata) error {
	if kind.IsReverse() {
		return fmt.Errorf("cannot add reverse edge %s directly", kind)
	}
	if kind == "" {
		return fmt.Errorf("edge %s -> %s has no kind", from, to)
	}
	hf, ht := b.handle(from), b.handle(to)
	if kind == Call {
		b.addRaw(Edge{From: hf, To: ht, Kind: kind, Type: CallGraph, Meta: meta})
		return nil
	}
	b.addRaw(Edge{From: hf, To: ht, Kind: kind, Type: DataFlow, Meta: meta})
	b.addRaw(Edge{From: ht, To: hf, Kind: kind.Reverse(), Type: DataFlow, Meta: meta})
	return nil
}

// AddStoredEdge adds an edge as read from a store, without its twin. Use RepairReverseEdges once all the stored
// edges are added.
func (b *Builder) AddStoredEdge(from, to string, kind EdgeKind, typ GraphType, meta Metadata) {
	if typ == "" {
		typ = DataFlow
		if kind.Forward() == Call {
			typ = CallGraph
		}
	}
	b.addRaw(Edge{From: b.handle(from), To: b.handle(to), Kind: kind, Type: typ, Meta: meta})
}

func (b *Builder) addRaw(e Edge) {
	if b.g.HasEdge(e.From, e.To, e.Kind) {
		return
	}
	byFrom, ok := b.g.out[e.Kind]
	if !ok {
		byFrom = map[Handle][]int{}
		b.g.out[e.Kind] = byFrom
	}
	byFrom[e.From] = append(byFrom[e.From], len(b.g.edges))
	b.g.edges = append(b.g.edges, e)
}

// RepairReverseEdges adds the missing twins of the data-flow edges, and returns the edges that had no twin.
func (b *Builder) RepairReverseEdges() []Edge {
	missing := b.g.CheckReverseInvariant()
	for _, e := range missing {
		b.g.issues = append(b.g.issues, fmt.Sprintf("edge %s has no %s twin", b.g.EdgeString(e), e.Kind.Reverse()))
		b.addRaw(Edge{From: e.To, To: e.From, Kind: e.Kind.Reverse(), Type: e.Type, Meta: e.Meta})
	}
	return missing
}

// AddIssue records a problem found while building the graph
func (b *Builder) AddIssue(format string, args ...any) {
	b.g.issues = append(b.g.issues, fmt.Sprintf(format, args...))
}

// Build returns the graph
func (b *Builder) Build() *Graph {
	g := b.g
	g.byFunction = map[string][]Handle{}
	for i, n := range g.nodes {
		k := n.FunctionKey()
		g.byFunction[k] = append(g.byFunction[k], Handle(i))
	}
	b.g = nil
	return g
}
