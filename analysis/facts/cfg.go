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

package facts

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// maxAliasChain bounds the number of alias links followed by Canonical
const maxAliasChain = 8

// Canonical returns the original file a file was derived from, following alias links. Files without an alias are
// their own canonical file.
func Canonical(aliases map[string]string, file string) string {
	for i := 0; i < maxAliasChain; i++ {
		orig, ok := aliases[file]
		if !ok || orig == "" || orig == file {
			return file
		}
		file = orig
	}
	return file
}

// CFG is the control-flow graph of one function, addressed by its original file
type CFG struct {
	File     string
	Function string
	blocks   []CFGBlock
	succ     map[int][]int
}

// NumBlocks returns the number of blocks of the graph
func (g *CFG) NumBlocks() int {
	return len(g.blocks)
}

// BlockAt returns the innermost block containing the line
func (g *CFG) BlockAt(line int) (CFGBlock, bool) {
	var best CFGBlock
	found := false
	for _, b := range g.blocks {
		if line < b.StartLine || line > b.EndLine {
			continue
		}
		if !found || b.EndLine-b.StartLine < best.EndLine-best.StartLine {
			best = b
			found = true
		}
	}
	return best, found
}

// Reachable returns whether control can flow from line from to line to. known is false when either line is not
// covered by a block, in which case reachable is true.
func (g *CFG) Reachable(from, to int) (reachable bool, known bool) {
	src, ok1 := g.BlockAt(from)
	dst, ok2 := g.BlockAt(to)
	if !ok1 || !ok2 {
		return true, false
	}
	if src.ID == dst.ID && from <= to {
		return true, true
	}
	visited := map[int]bool{}
	queue := append([]int(nil), g.succ[src.ID]...)
	for len(queue) > 0 {
		b := queue[0]
		queue = queue[1:]
		if b == dst.ID {
			return true, true
		}
		if visited[b] {
			continue
		}
		visited[b] = true
		queue = append(queue, g.succ[b]...)
	}
	return false, true
}

// CFGIndex serves the control-flow graphs of functions under their original file. Blocks extracted from a derived
// file are re-keyed to the file it was derived from, so that a function never loses its blocks because the facts
// were extracted from another representation of the file.
//
// CFGIndex is safe for concurrent use.
type CFGIndex struct {
	store   Store
	aliases map[string]string
	derived map[string][]string

	mu    sync.Mutex
	files map[string]map[string]*CFG
}

// NewCFGIndex returns an index over the control-flow facts of the store
func NewCFGIndex(ctx context.Context, store Store) (*CFGIndex, error) {
	aliases, err := store.FileAliases(ctx)
	if err != nil {
		return nil, err
	}
	derived := map[string][]string{}
	for d := range aliases {
		orig := Canonical(aliases, d)
		if orig != d {
			derived[orig] = append(derived[orig], d)
		}
	}
	for _, ds := range derived {
		sort.Strings(ds)
	}
	return &CFGIndex{store: store, aliases: aliases, derived: derived, files: map[string]map[string]*CFG{}}, nil
}

// Canonical returns the original file of file
func (ix *CFGIndex) Canonical(file string) string {
	return Canonical(ix.aliases, file)
}

// Lookup returns the control-flow graph of the function in the file. It returns false when no block of the
// function is known. Errors other than unknown files are returned.
func (ix *CFGIndex) Lookup(ctx context.Context, file, function string) (*CFG, bool, error) {
	canonical := ix.Canonical(file)
	ix.mu.Lock()
	fns, ok := ix.files[canonical]
	ix.mu.Unlock()
	if !ok {
		var err error
		fns, err = ix.build(ctx, canonical)
		if err != nil {
			return nil, false, err
		}
		ix.mu.Lock()
		ix.files[canonical] = fns
		ix.mu.Unlock()
	}
	g, ok := fns[function]
	return g, ok, nil
}

func (ix *CFGIndex) build(ctx context.Context, canonical string) (map[string]*CFG, error) {
	fns := map[string]*CFG{}
	var edges []CFGEdge
	for _, f := range append([]string{canonical}, ix.derived[canonical]...) {
		ff, err := ix.store.FileFacts(ctx, f)
		if err != nil {
			if errors.Is(err, ErrUnknownFile) {
				continue
			}
			return nil, err
		}
		for _, b := range ff.CFGBlocks {
			blockFile := b.File
			if blockFile == "" {
				blockFile = ff.File
			}
			if Canonical(ix.aliases, blockFile) != canonical {
				continue
			}
			g := fns[b.Function]
			if g == nil {
				g = &CFG{File: canonical, Function: b.Function, succ: map[int][]int{}}
				fns[b.Function] = g
			}
			b.File = canonical
			g.blocks = append(g.blocks, b)
		}
		for _, e := range ff.CFGEdges {
			edgeFile := e.File
			if edgeFile == "" {
				edgeFile = ff.File
			}
			if Canonical(ix.aliases, edgeFile) == canonical {
				edges = append(edges, e)
			}
		}
	}
	for _, e := range edges {
		if g := fns[e.Function]; g != nil {
			g.succ[e.From] = append(g.succ[e.From], e.To)
		}
	}
	for _, g := range fns {
		sort.Slice(g.blocks, func(i, j int) bool { return g.blocks[i].StartLine < g.blocks[j].StartLine })
	}
	return fns, nil
}
