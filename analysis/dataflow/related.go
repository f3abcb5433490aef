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
	"sort"

	"github.com/awslabs/argot-taint/analysis/registry"
)

// flowKey groups the rows that may report the same flow
type flowKey struct {
	engine  Engine
	status  Status
	sink    string
	pattern string
}

// GroupRelated merges the rows that report one flow from several sources: vulnerable or sanitized rows of the same
// engine, status and sink whose paths share a node. The row of the most specific source (see [registry.Rank]) is
// kept, and the sources of the others become its related sources. It returns the number of rows merged away.
func (rs *ResultSet) GroupRelated() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	var n int
	rs.rows, n = groupRelated(rs.rows)
	return n
}

func groupRelated(rows []Row) ([]Row, int) {
	groups := map[flowKey][]int{}
	for i, r := range rows {
		if r.Status != Vulnerable && r.Status != Sanitized {
			continue
		}
		k := flowKey{r.Engine, r.Status, r.Sink.Loc(), r.Sink.Pattern}
		groups[k] = append(groups[k], i)
	}
	drop := map[int]bool{}
	for _, idx := range groups {
		if len(idx) < 2 {
			continue
		}
		sort.SliceStable(idx, func(a, b int) bool { return moreSpecific(rows[idx[a]].Source, rows[idx[b]].Source) })
		var kept []int
		var nodes []map[string]bool
		for _, i := range idx {
			ns := hopNodes(rows[i].Hops)
			merged := false
			for j, k := range kept {
				if !intersects(nodes[j], ns) {
					continue
				}
				rows[k].AddRelated(rows[i].Source)
				for _, rel := range rows[i].Related {
					rows[k].AddRelated(rel)
				}
				for node := range ns {
					nodes[j][node] = true
				}
				drop[i] = true
				merged = true
				break
			}
			if !merged {
				kept = append(kept, i)
				nodes = append(nodes, ns)
			}
		}
	}
	if len(drop) == 0 {
		return rows, 0
	}
	res := make([]Row, 0, len(rows)-len(drop))
	for i, r := range rows {
		if !drop[i] {
			res = append(res, r)
		}
	}
	return res, len(drop)
}

// moreSpecific orders sources by decreasing rank, then by location
func moreSpecific(a, b registry.Record) bool {
	ra, rb := registry.Rank(a), registry.Rank(b)
	switch {
	case ra != rb:
		return ra > rb
	case a.File != b.File:
		return a.File < b.File
	case a.Line != b.Line:
		return a.Line < b.Line
	}
	return a.Pattern < b.Pattern
}

func hopNodes(hops []Hop) map[string]bool {
	res := make(map[string]bool, len(hops))
	for _, h := range hops {
		if h.Node != "" {
			res[h.Node] = true
		}
	}
	return res
}

func intersects(a, b map[string]bool) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for k := range a {
		if b[k] {
			return true
		}
	}
	return false
}
