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

package graphutil

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gonum.org/v1/gonum/graph/topo"
)

// adjacency lists of a call graph, nodes 0..n-1
type adjacency map[int][]int

func cgraphOf(m adjacency) CGraph {
	labels := make([]string, len(m))
	for i := range labels {
		labels[i] = fmt.Sprintf("f%d", i)
	}
	return NewCGraph(labels, func(i int64) []int64 {
		var ws []int64
		for _, w := range m[int(i)] {
			ws = append(ws, int64(w))
		}
		return ws
	})
}

func randomCalls(size int, seed int64) adjacency {
	m := adjacency{}
	r := rand.New(rand.NewSource(seed))
	for i := 0; i < size; i++ {
		m[i] = []int{}
		for j := 0; j < 3; j++ {
			if r.Float32() < 0.6 {
				m[i] = append(m[i], r.Intn(size))
			}
		}
	}
	return m
}

func TestElementaryCycles(t *testing.T) {
	tests := []struct {
		name string
		g    adjacency
		want [][]int64
	}{
		{"acyclic", adjacency{0: {1}, 1: {2}, 2: {}}, [][]int64{}},
		{"mutual", adjacency{0: {1}, 1: {0}}, [][]int64{{0, 1, 0}}},
		{"self-loop", adjacency{0: {0, 1}, 1: {}}, [][]int64{{0, 0}}},
		{"two-cycles", adjacency{0: {1, 2}, 1: {0}, 2: {0}}, [][]int64{{0, 1, 0}, {0, 2, 0}}},
		{"nested", adjacency{0: {1}, 1: {2}, 2: {0, 1}}, [][]int64{{0, 1, 2, 0}, {1, 2, 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ElementaryCycles(cgraphOf(tt.g), 0)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("cycles mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestElementaryCyclesLimit(t *testing.T) {
	// complete graph on 5 nodes: far more than 3 cycles
	m := adjacency{}
	for i := 0; i < 5; i++ {
		for j := 0; j < 5; j++ {
			if i != j {
				m[i] = append(m[i], j)
			}
		}
	}
	if got := ElementaryCycles(cgraphOf(m), 3); len(got) != 3 {
		t.Errorf("expected 3 cycles, got %d", len(got))
	}
	if got := ElementaryCycles(cgraphOf(m), 0); len(got) <= 3 {
		t.Errorf("expected all cycles without a limit, got %d", len(got))
	}
}

func TestCyclesAreElementary(t *testing.T) {
	for i := 0; i < 20; i++ {
		m := randomCalls(8, 9137+int64(i))
		for _, c := range ElementaryCycles(cgraphOf(m), 0) {
			seen := map[int64]bool{}
			for j, v := range c[:len(c)-1] {
				if seen[v] {
					t.Fatalf("cycle %v repeats node %d", c, v)
				}
				seen[v] = true
				if !containsInt(m[int(v)], int(c[j+1])) {
					t.Fatalf("cycle %v uses missing edge %d -> %d", c, v, c[j+1])
				}
			}
			if c[0] != c[len(c)-1] {
				t.Fatalf("cycle %v is not closed", c)
			}
		}
	}
}

func TestCGraphImplementsGonum(t *testing.T) {
	g := cgraphOf(adjacency{0: {1}, 1: {2}, 2: {}, 3: {0}})
	if !topo.PathExistsIn(g, g.Node(3), g.Node(2)) {
		t.Errorf("expected a path from f3 to f2")
	}
	if topo.PathExistsIn(g, g.Node(2), g.Node(3)) {
		t.Errorf("unexpected path from f2 to f3")
	}
	if g.Node(7) != nil {
		t.Errorf("expected no node for an out-of-range id")
	}
	nodes := g.Nodes()
	n := 0
	for nodes.Next() {
		n++
	}
	if n != 4 {
		t.Errorf("expected 4 nodes, got %d", n)
	}
	sub := Subgraph(g, []int64{0, 1})
	if sub.Edge(1, 2) != nil || sub.Edge(0, 1) == nil {
		t.Errorf("subgraph kept the wrong edges")
	}
}

func containsInt(xs []int, x int) bool {
	for _, y := range xs {
		if x == y {
			return true
		}
	}
	return false
}
