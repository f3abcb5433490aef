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
	"sort"

	"github.com/yourbasic/graph"
)

// ElementaryCycles returns the elementary cycles of cg with Johnson's algorithm ("Finding All The Elementary
// Circuits of a Directed Graph", 1975), stopping once limit cycles are found; limit <= 0 means no limit.
//
// Each cycle starts and ends with its least node id. A self-loop on v is the cycle [v, v].
func ElementaryCycles(cg CGraph, limit int) [][]int64 {
	j := &johnson{limit: limit}
	for _, v := range cg.Keys {
		if cg.Edges[v][v] {
			j.record([]int64{v, v})
		}
	}
	// each round finds the cycles through the least node of a non-trivial component, then removes that node
	for from := 0; from < len(cg.Keys) && !j.full(); {
		sub := Subgraph(cg, cg.Keys[from:])
		root, ok := leastInComponent(sub)
		if !ok {
			break
		}
		j.blocked = map[int64]bool{}
		j.waiting = map[int64][]int64{}
		j.path = j.path[:0]
		j.circuit(sub, root, root)
		from = sort.Search(len(cg.Keys), func(i int) bool { return cg.Keys[i] > root })
	}
	if j.cycles == nil {
		return [][]int64{}
	}
	return j.cycles
}

// leastInComponent returns the least node that belongs to a strongly connected component of two nodes or more
func leastInComponent(g CGraph) (int64, bool) {
	least := int64(-1)
	for _, comp := range graph.StrongComponents(g) {
		if len(comp) < 2 {
			continue
		}
		for _, v := range comp {
			if least < 0 || int64(v) < least {
				least = int64(v)
			}
		}
	}
	return least, least >= 0
}

type johnson struct {
	limit   int
	cycles  [][]int64
	path    []int64
	blocked map[int64]bool
	// waiting[w] are the nodes to unblock when w is unblocked
	waiting map[int64][]int64
}

func (j *johnson) full() bool {
	return j.limit > 0 && len(j.cycles) >= j.limit
}

func (j *johnson) record(c []int64) {
	if !j.full() {
		j.cycles = append(j.cycles, c)
	}
}

func (j *johnson) unblock(u int64) {
	j.blocked[u] = false
	pending := j.waiting[u]
	delete(j.waiting, u)
	for _, w := range pending {
		if j.blocked[w] {
			j.unblock(w)
		}
	}
}

// circuit extends the current path with v and returns true if a cycle back to root was closed
func (j *johnson) circuit(g CGraph, v, root int64) bool {
	closed := false
	j.path = append(j.path, v)
	j.blocked[v] = true
	for _, w := range g.Successors(v) {
		if j.full() {
			break
		}
		switch {
		case w == v:
			// self-loops are recorded up front
		case w == root:
			c := make([]int64, len(j.path), len(j.path)+1)
			copy(c, j.path)
			j.record(append(c, root))
			closed = true
		case !j.blocked[w]:
			if j.circuit(g, w, root) {
				closed = true
			}
		}
	}
	if closed {
		j.unblock(v)
	} else {
		for _, w := range g.Successors(v) {
			if !containsID(j.waiting[w], v) {
				j.waiting[w] = append(j.waiting[w], v)
			}
		}
	}
	j.path = j.path[:len(j.path)-1]
	return closed
}

func containsID(ids []int64, x int64) bool {
	for _, y := range ids {
		if y == x {
			return true
		}
	}
	return false
}
