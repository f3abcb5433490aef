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
	"sort"

	"github.com/awslabs/argot-taint/internal/graphutil"
	ygraph "github.com/yourbasic/graph"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/topo"
	"gonum.org/v1/gonum/graph/traverse"
)

// Calls is the call graph between functions, identified by their key file::function. It is derived from the call
// edges of the graph, and from the parameter_binding and return edges, which also witness calls.
type Calls struct {
	keys  []string
	index map[string]int64
	cg    graphutil.CGraph
}

// BuildCalls computes the call graph of g
func BuildCalls(g *Graph) *Calls {
	index := map[string]int64{}
	var keys []string
	add := func(k string) {
		if _, ok := index[k]; !ok {
			index[k] = -1
			keys = append(keys, k)
		}
	}
	type pair struct{ caller, callee string }
	var pairs []pair
	for _, e := range g.edges {
		from, to := g.nodes[e.From].FunctionKey(), g.nodes[e.To].FunctionKey()
		var p pair
		switch e.Kind {
		case Call, ParameterBinding:
			p = pair{from, to}
		case Return:
			p = pair{to, from}
		default:
			continue
		}
		add(p.caller)
		add(p.callee)
		pairs = append(pairs, p)
	}
	sort.Strings(keys)
	for i, k := range keys {
		index[k] = int64(i)
	}
	succ := make(map[int64][]int64, len(keys))
	for _, p := range pairs {
		succ[index[p.caller]] = append(succ[index[p.caller]], index[p.callee])
	}
	cg := graphutil.NewCGraph(keys, func(i int64) []int64 { return succ[i] })
	return &Calls{keys: keys, index: index, cg: cg}
}

// Functions returns the keys of the functions of the call graph, sorted
func (c *Calls) Functions() []string {
	return append([]string(nil), c.keys...)
}

// Reaches returns true if there is a call chain from function a to function b. A function reaches itself.
func (c *Calls) Reaches(a, b string) bool {
	i, ok1 := c.index[a]
	j, ok2 := c.index[b]
	if !ok1 || !ok2 {
		return a == b
	}
	return topo.PathExistsIn(c.cg, c.cg.Node(i), c.cg.Node(j))
}

// ReachableFrom returns the set of functions reachable from the roots, roots included. Roots that are not in the
// call graph are still part of the result.
func (c *Calls) ReachableFrom(roots []string) map[string]bool {
	res := map[string]bool{}
	for _, r := range roots {
		res[r] = true
		i, ok := c.index[r]
		if !ok {
			continue
		}
		bf := traverse.BreadthFirst{
			Visit: func(n graph.Node) { res[c.keys[n.ID()]] = true },
		}
		bf.Walk(c.cg, c.cg.Node(i), nil)
	}
	return res
}

// RecursiveCycles returns at most limit elementary cycles of the call graph (all of them if limit <= 0), as lists of
// function keys. Each cycle starts and ends with the same function.
func (c *Calls) RecursiveCycles(limit int) [][]string {
	var res [][]string
	for _, cycle := range graphutil.ElementaryCycles(c.cg, limit) {
		names := make([]string, len(cycle))
		for i, id := range cycle {
			names[i] = c.keys[id]
		}
		res = append(res, names)
	}
	return res
}

// RecursiveFunctions returns the set of functions that are part of a recursion (mutual or direct)
func (c *Calls) RecursiveFunctions() map[string]bool {
	res := map[string]bool{}
	for _, scc := range ygraph.StrongComponents(c.cg) {
		if len(scc) == 1 && !c.cg.Edges[int64(scc[0])][int64(scc[0])] {
			continue
		}
		for _, id := range scc {
			res[c.keys[id]] = true
		}
	}
	return res
}
