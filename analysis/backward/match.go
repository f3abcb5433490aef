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

package backward

import (
	"github.com/awslabs/argot-taint/analysis/accesspath"
	"github.com/awslabs/argot-taint/analysis/flowgraph"
	"github.com/awslabs/argot-taint/analysis/registry"
)

// matchSource returns the best source matching the item's node, or nil. A candidate scores twice the rank of its
// source, plus one when the match is exact.
func (s *search) matchSource(it item) *candidate {
	n := s.state.Graph.Node(it.h)
	if n.Kind == flowgraph.KindFunction {
		return nil
	}
	ap := it.ap
	if ap.IsZero() {
		ap = s.nodePath(n)
	}

	var best *candidate
	consider := func(src registry.Record, exact bool) {
		located, ok := s.state.LocateSource(s.ctx, src, it.h)
		if !ok {
			return
		}
		c := &candidate{src: located, score: registry.Rank(src) * 2, exact: exact, hops: it.hops, sanitizer: it.sanitizer}
		if exact {
			c.score++
		}
		if best == nil || c.score > best.score ||
			(c.score == best.score && nearer(located.Line, best.src.Line, n.Line)) {
			best = c
		}
	}

	if !ap.IsZero() {
		for _, src := range s.sources[n.File] {
			exact, ok := s.matches(ap, src, n)
			if ok {
				consider(src, exact)
			}
		}
	}

	if n.Kind == flowgraph.KindParameter && s.state.EntryScopes[n.FunctionKey()] {
		if e, ok := s.state.HandlerScopes[n.FunctionKey()]; ok {
			if src, ok := s.endpoints[e]; ok {
				consider(src, true)
				return best
			}
		}
		consider(registry.Record{
			Pattern:  registry.CategoryParameter,
			Name:     n.Name,
			Category: registry.CategoryParameter,
			Language: s.state.Registry.Language(n.File),
			File:     n.File,
			Line:     n.Line,
			Kind:     registry.KindSource,
			Function: n.Scope,
		}, false)
	}
	return best
}

// matches compares the tracked path with the access path of the source, and returns whether the match is exact
func (s *search) matches(ap accesspath.AccessPath, src registry.Record, n flowgraph.Node) (exact bool, ok bool) {
	scope := src.Function
	if scope == "" {
		scope = n.Scope
	}
	names := []string{src.Name}
	if src.Category == registry.CategoryEnvironment && src.Pattern != src.Name {
		names = append(names, src.Pattern)
	}
	for _, name := range names {
		srcAP, err := accesspath.FromParts(n.File, scope, name, s.state.Config.AccessPathBound)
		if err != nil {
			continue
		}
		if ap.Matches(srcAP, accesspath.Exact) {
			return true, true
		}
		if ap.Matches(srcAP, accesspath.Prefix) {
			ok = true
		}
	}
	return false, ok
}

func nearer(line, best, ref int) bool {
	d := func(x int) int {
		if x < ref {
			return ref - x
		}
		return x - ref
	}
	return d(line) < d(best)
}
