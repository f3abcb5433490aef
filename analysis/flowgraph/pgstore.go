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

	"github.com/awslabs/argot-taint/analysis/facts"
	"github.com/jackc/pgx/v5"
)

const (
	sqlNodes = `
        SELECT id, COALESCE(file, ''), COALESCE(scope, ''), COALESCE(kind, ''), COALESCE(line, 0), metadata
        FROM nodes ORDER BY id;
    `
	sqlEdges = `
        SELECT source, target, kind, COALESCE(graph_type, ''), metadata FROM edges ORDER BY source, target, kind;
    `
)

// PGStore loads the flow graph from the nodes and edges tables
type PGStore struct {
	pool facts.DBPool
}

// NewPGStore returns a graph store reading from the pool
func NewPGStore(pool facts.DBPool) *PGStore {
	return &PGStore{pool: pool}
}

// LoadGraph reads all nodes and edges. Missing reverse twins are repaired and reported as graph issues.
func (s *PGStore) LoadGraph(ctx context.Context) (*Graph, error) {
	nodes, err := queryRows(ctx, s.pool, sqlNodes, func(rows pgx.Rows) (storedNode, error) {
		var n storedNode
		var line int
		var meta []byte
		if err := rows.Scan(&n.ID, &n.File, &n.Scope, &n.Kind, &line, &meta); err != nil {
			return n, err
		}
		n.Line = line
		n.Metadata, n.badMetadata = decodeJSONObject(meta)
		return n, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load graph nodes: %w", err)
	}
	edges, err := queryRows(ctx, s.pool, sqlEdges, func(rows pgx.Rows) (storedEdge, error) {
		var e storedEdge
		var meta []byte
		if err := rows.Scan(&e.Source, &e.Target, &e.Kind, &e.GraphType, &meta); err != nil {
			return e, err
		}
		e.Metadata, e.badMetadata = decodeJSONObject(meta)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load graph edges: %w", err)
	}
	return buildStored(nodes, edges), nil
}

// decodeJSONObject decodes a jsonb column. The second result is true when the column is not a JSON object.
func decodeJSONObject(b []byte) (map[string]any, bool) {
	if len(b) == 0 {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, true
	}
	return m, false
}

func queryRows[T any](ctx context.Context, pool facts.DBPool, sql string, scan func(pgx.Rows) (T, error)) ([]T, error) {
	rows, err := pool.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []T
	for rows.Next() {
		x, err := scan(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, x)
	}
	return res, rows.Err()
}
