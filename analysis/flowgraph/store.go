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
	"context"
	"fmt"
	"strconv"

	"github.com/awslabs/argot-taint/analysis/facts"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Store loads the flow graph of a run
type Store interface {
	LoadGraph(ctx context.Context) (*Graph, error)
}

// storedNode is a node as stored, in the snapshot or the nodes table
type storedNode struct {
	ID       string         `json:"id"`
	File     string         `json:"file"`
	Scope    string         `json:"scope"`
	Kind     string         `json:"kind"`
	Line     any            `json:"line"`
	Metadata map[string]any `json:"metadata"`

	badMetadata bool
}

// storedEdge is an edge as stored, in the snapshot or the edges table
type storedEdge struct {
	Source    string         `json:"source"`
	Target    string         `json:"target"`
	Kind      string         `json:"kind"`
	GraphType string         `json:"graph_type"`
	Metadata  map[string]any `json:"metadata"`

	badMetadata bool
}

type storedGraph struct {
	Nodes []storedNode `json:"nodes"`
	Edges []storedEdge `json:"edges"`
}

// SnapshotStore loads the graph embedded in a fact snapshot
type SnapshotStore struct {
	raw []byte
}

// NewSnapshotStore returns a store reading the graph of the snapshot
func NewSnapshotStore(s *facts.Snapshot) *SnapshotStore {
	return &SnapshotStore{raw: s.GraphJSON()}
}

// NewJSONStore returns a store reading the graph from a JSON document with "nodes" and "edges"
func NewJSONStore(b []byte) *SnapshotStore {
	return &SnapshotStore{raw: b}
}

// LoadGraph decodes the graph. A snapshot without graph yields an empty graph.
func (s *SnapshotStore) LoadGraph(ctx context.Context) (*Graph, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var sg storedGraph
	if len(s.raw) > 0 && string(s.raw) != "null" {
		if err := json.Unmarshal(s.raw, &sg); err != nil {
			return nil, fmt.Errorf("could not decode flow graph: %w", err)
		}
	}
	return buildStored(sg.Nodes, sg.Edges), nil
}

// MemStore serves a graph already in memory
type MemStore struct {
	G *Graph
}

// LoadGraph returns the graph
func (s MemStore) LoadGraph(ctx context.Context) (*Graph, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.G, nil
}

// buildStored builds a graph from stored nodes and edges, repairing missing reverse twins. Inconsistent entries are
// recorded as graph issues.
func buildStored(nodes []storedNode, edges []storedEdge) *Graph {
	b := NewBuilder()
	for _, n := range nodes {
		if n.ID == "" {
			b.AddIssue("node without id")
			continue
		}
		if n.badMetadata {
			b.AddIssue("node %s: metadata is not an object", n.ID)
		}
		line, ok := asInt(n.Line)
		if !ok {
			b.AddIssue("node %s: bad line %v", n.ID, n.Line)
		}
		if line == 0 && n.Metadata != nil {
			line, _ = asInt(n.Metadata["line"])
		}
		b.AddNode(Node{ID: n.ID, File: n.File, Scope: n.Scope, Kind: n.Kind, Line: line})
	}
	for _, e := range edges {
		if e.Source == "" || e.Target == "" || e.Kind == "" {
			b.AddIssue("edge %q -> %q: missing endpoint or kind", e.Source, e.Target)
			continue
		}
		if e.badMetadata {
			b.AddIssue("edge %s -[%s]-> %s: metadata is not an object", e.Source, e.Kind, e.Target)
		}
		meta, problems := decodeMetadata(e.Metadata)
		for _, p := range problems {
			b.AddIssue("edge %s -[%s]-> %s: %s", e.Source, e.Kind, e.Target, p)
		}
		b.AddStoredEdge(e.Source, e.Target, EdgeKind(e.Kind), GraphType(e.GraphType), meta)
	}
	b.RepairReverseEdges()
	return b.Build()
}

// decodeMetadata reads the edge metadata leniently: lines may be numbers or numeric strings, and via may be a single
// string or a list.
func decodeMetadata(m map[string]any) (Metadata, []string) {
	var meta Metadata
	var problems []string
	if m == nil {
		return meta, nil
	}
	if v, ok := m["line"]; ok {
		if line, ok := asInt(v); ok {
			meta.Line = line
		} else {
			problems = append(problems, fmt.Sprintf("bad line %v", v))
		}
	}
	meta.Expression = asString(m["expression"])
	meta.Function = asString(m["function"])
	if meta.Function == "" {
		meta.Function = asString(m["scope"])
	}
	meta.CallSite = asString(m["call_site"])
	switch via := m["via"].(type) {
	case nil:
	case string:
		if via != "" {
			meta.Via = []string{via}
		}
	case []any:
		for _, x := range via {
			if s, ok := x.(string); ok {
				meta.Via = append(meta.Via, s)
			} else {
				problems = append(problems, fmt.Sprintf("bad via entry %v", x))
			}
		}
	default:
		problems = append(problems, fmt.Sprintf("bad via %v", via))
	}
	return meta, problems
}

func asInt(v any) (int, bool) {
	n := 0
	switch x := v.(type) {
	case nil:
		return 0, true
	case float64:
		n = int(x)
	case int:
		n = x
	case int32:
		n = int(x)
	case int64:
		n = int(x)
	case string:
		if x == "" {
			return 0, true
		}
		var err error
		if n, err = strconv.Atoi(x); err != nil {
			return 0, false
		}
	default:
		return 0, false
	}
	if n < 0 {
		return 0, false
	}
	return n, true
}

func asString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}
