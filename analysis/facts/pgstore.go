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
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// PGStore is a Store backed by the PostgreSQL fact database. Facts are read one file at a time; wrap the store in a
// Cache to avoid reading a file twice.
type PGStore struct {
	pool DBPool
}

// NewPGStore returns a store reading from the pool, after checking the connection
func NewPGStore(ctx context.Context, pool DBPool) (*PGStore, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping fact database: %w", err)
	}
	return &PGStore{pool: pool}, nil
}

const (
	sqlFiles = `
        SELECT DISTINCT path FROM symbols ORDER BY path;
    `
	sqlFileExists = `
        SELECT COUNT(*) FROM symbols WHERE path = $1;
    `
	sqlSymbols = `
        SELECT name, type, line, col FROM symbols WHERE path = $1 ORDER BY line, col;
    `
	sqlFunctions = `
        SELECT name, line, COALESCE(end_line, 0) FROM symbols WHERE path = $1 AND type = 'function' ORDER BY line;
    `
	sqlParams = `
        SELECT function_name, param_index, param_name, line FROM func_params WHERE file = $1 ORDER BY function_name, param_index;
    `
	sqlCallArgs = `
        SELECT line, caller_function, callee_function, COALESCE(argument_index, -1), COALESCE(argument_expr, ''),
               COALESCE(param_name, ''), COALESCE(callee_file_path, '')
        FROM function_call_args WHERE file = $1 ORDER BY line, argument_index;
    `
	sqlAssignments = `
        SELECT a.line, a.target_var, a.source_expr, a.in_function,
               COALESCE(array_agg(s.source_var_name) FILTER (WHERE s.source_var_name IS NOT NULL), '{}')
        FROM assignments a
        LEFT JOIN assignment_sources s
          ON s.assignment_file = a.file AND s.assignment_line = a.line AND s.assignment_target = a.target_var
        WHERE a.file = $1
        GROUP BY a.line, a.target_var, a.source_expr, a.in_function
        ORDER BY a.line;
    `
	sqlUsages = `
        SELECT line, variable_name, usage_type, COALESCE(in_component, '') FROM variable_usage WHERE file = $1 ORDER BY line;
    `
	sqlCFGBlocks = `
        SELECT id, file, function_name, block_type, start_line, end_line FROM cfg_blocks WHERE file = $1 ORDER BY id;
    `
	sqlCFGEdges = `
        SELECT file, function_name, source_block_id, target_block_id, edge_type FROM cfg_edges WHERE file = $1 ORDER BY id;
    `
	sqlImports = `
        SELECT line, module, COALESCE(imported_name, ''), local_name, is_namespace FROM import_specifiers WHERE file = $1 ORDER BY line;
    `
	sqlSQLQueries = `
        SELECT line_number, query_text, command, is_parameterized FROM sql_queries WHERE file_path = $1 ORDER BY line_number;
    `
	sqlNoSQLQueries = `
        SELECT line, collection, operation FROM nosql_queries WHERE file = $1 ORDER BY line;
    `
	sqlEnvAccesses = `
        SELECT line, var_name FROM env_var_usage WHERE file = $1 ORDER BY line;
    `
	sqlEndpoints = `
        SELECT file, COALESCE(line, 0), method, COALESCE(path, pattern), COALESCE(handler_function, ''), has_auth
        FROM api_endpoints ORDER BY file, line;
    `
	sqlSafeSinks = `
        SELECT sink_pattern, sink_type, COALESCE(reason, '') FROM framework_safe_sinks WHERE is_safe ORDER BY sink_pattern;
    `
	sqlValidatorUsages = `
        SELECT file_path, line, framework, COALESCE(method, ''), COALESCE(variable_name, '')
        FROM validation_framework_usage ORDER BY file_path, line;
    `
	sqlFileAliases = `
        SELECT derived_file, original_file FROM file_aliases;
    `
)

// Files implements Store
func (s *PGStore) Files(ctx context.Context) ([]string, error) {
	return queryAll(ctx, s.pool, sqlFiles, nil, func(rows pgx.Rows) (string, error) {
		var f string
		err := rows.Scan(&f)
		return f, err
	})
}

// FileFacts implements Store. Every row of function_call_args contributes a call site; rows without an argument
// index are zero-argument calls and only appear as call sites.
func (s *PGStore) FileFacts(ctx context.Context, file string) (*FileFacts, error) {
	var n int
	if err := s.pool.QueryRow(ctx, sqlFileExists, file).Scan(&n); err != nil {
		return nil, fmt.Errorf("failed to query file %s: %w", file, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFile, file)
	}
	ff := &FileFacts{File: file}
	var err error
	args := []any{file}

	if ff.Symbols, err = queryAll(ctx, s.pool, sqlSymbols, args, func(rows pgx.Rows) (Symbol, error) {
		var x Symbol
		return x, rows.Scan(&x.Name, &x.Type, &x.Line, &x.Col)
	}); err != nil {
		return nil, err
	}
	if ff.Functions, err = queryAll(ctx, s.pool, sqlFunctions, args, func(rows pgx.Rows) (Function, error) {
		var x Function
		err := rows.Scan(&x.Name, &x.Line, &x.EndLine)
		x.StartLine = x.Line
		return x, err
	}); err != nil {
		return nil, err
	}
	type namedParam struct {
		fn string
		p  Param
	}
	params, err := queryAll(ctx, s.pool, sqlParams, args, func(rows pgx.Rows) (namedParam, error) {
		var x namedParam
		return x, rows.Scan(&x.fn, &x.p.Index, &x.p.Name, &x.p.Line)
	})
	if err != nil {
		return nil, err
	}
	for _, np := range params {
		for i := range ff.Functions {
			if ff.Functions[i].Name == np.fn {
				ff.Functions[i].Params = append(ff.Functions[i].Params, np.p)
			}
		}
	}

	// a null argument index (scanned as -1) marks a call without arguments
	calls, err := queryAll(ctx, s.pool, sqlCallArgs, args, func(rows pgx.Rows) (CallArg, error) {
		var x CallArg
		return x, rows.Scan(&x.Line, &x.CallerFunction, &x.CalleeFunction, &x.ArgumentIndex,
			&x.ArgumentExpr, &x.ParamName, &x.CalleeFile)
	})
	if err != nil {
		return nil, err
	}
	seenSite := map[CallSite]bool{}
	for _, c := range calls {
		if c.ArgumentIndex >= 0 {
			ff.CallArgs = append(ff.CallArgs, c)
		}
		site := CallSite{Line: c.Line, CallerFunction: c.CallerFunction, CalleeFunction: c.CalleeFunction}
		if !seenSite[site] {
			seenSite[site] = true
			ff.CallSites = append(ff.CallSites, site)
		}
	}

	if ff.Assignments, err = queryAll(ctx, s.pool, sqlAssignments, args, func(rows pgx.Rows) (Assignment, error) {
		var x Assignment
		return x, rows.Scan(&x.Line, &x.TargetVar, &x.SourceExpr, &x.InFunction, &x.SourceVars)
	}); err != nil {
		return nil, err
	}
	if ff.Usages, err = queryAll(ctx, s.pool, sqlUsages, args, func(rows pgx.Rows) (VariableUsage, error) {
		var x VariableUsage
		return x, rows.Scan(&x.Line, &x.VariableName, &x.UsageType, &x.InFunction)
	}); err != nil {
		return nil, err
	}
	if ff.CFGBlocks, err = queryAll(ctx, s.pool, sqlCFGBlocks, args, func(rows pgx.Rows) (CFGBlock, error) {
		var x CFGBlock
		return x, rows.Scan(&x.ID, &x.File, &x.Function, &x.Kind, &x.StartLine, &x.EndLine)
	}); err != nil {
		return nil, err
	}
	if ff.CFGEdges, err = queryAll(ctx, s.pool, sqlCFGEdges, args, func(rows pgx.Rows) (CFGEdge, error) {
		var x CFGEdge
		return x, rows.Scan(&x.File, &x.Function, &x.From, &x.To, &x.Kind)
	}); err != nil {
		return nil, err
	}
	if ff.Imports, err = queryAll(ctx, s.pool, sqlImports, args, func(rows pgx.Rows) (ImportSpecifier, error) {
		var x ImportSpecifier
		return x, rows.Scan(&x.Line, &x.Module, &x.Imported, &x.Local, &x.Namespace)
	}); err != nil {
		return nil, err
	}
	if ff.SQLQueries, err = queryAll(ctx, s.pool, sqlSQLQueries, args, func(rows pgx.Rows) (SQLQuery, error) {
		var x SQLQuery
		return x, rows.Scan(&x.Line, &x.QueryText, &x.Command, &x.IsParameterized)
	}); err != nil {
		return nil, err
	}
	if ff.NoSQLQueries, err = queryAll(ctx, s.pool, sqlNoSQLQueries, args, func(rows pgx.Rows) (NoSQLQuery, error) {
		var x NoSQLQuery
		return x, rows.Scan(&x.Line, &x.Collection, &x.Operation)
	}); err != nil {
		return nil, err
	}
	if ff.EnvAccesses, err = queryAll(ctx, s.pool, sqlEnvAccesses, args, func(rows pgx.Rows) (EnvAccess, error) {
		var x EnvAccess
		return x, rows.Scan(&x.Line, &x.Key)
	}); err != nil {
		return nil, err
	}
	return ff, nil
}

// Endpoints implements Store
func (s *PGStore) Endpoints(ctx context.Context) ([]Endpoint, error) {
	return queryAll(ctx, s.pool, sqlEndpoints, nil, func(rows pgx.Rows) (Endpoint, error) {
		var x Endpoint
		return x, rows.Scan(&x.File, &x.Line, &x.Method, &x.Path, &x.Handler, &x.HasAuth)
	})
}

// SafeSinks implements Store
func (s *PGStore) SafeSinks(ctx context.Context) ([]SafeSink, error) {
	return queryAll(ctx, s.pool, sqlSafeSinks, nil, func(rows pgx.Rows) (SafeSink, error) {
		var x SafeSink
		return x, rows.Scan(&x.Pattern, &x.Kind, &x.Reason)
	})
}

// ValidatorUsages implements Store
func (s *PGStore) ValidatorUsages(ctx context.Context) ([]ValidatorUsage, error) {
	return queryAll(ctx, s.pool, sqlValidatorUsages, nil, func(rows pgx.Rows) (ValidatorUsage, error) {
		var x ValidatorUsage
		return x, rows.Scan(&x.File, &x.Line, &x.Framework, &x.Method, &x.Schema)
	})
}

// FileAliases implements Store
func (s *PGStore) FileAliases(ctx context.Context) (map[string]string, error) {
	type alias struct{ derived, original string }
	as, err := queryAll(ctx, s.pool, sqlFileAliases, nil, func(rows pgx.Rows) (alias, error) {
		var x alias
		return x, rows.Scan(&x.derived, &x.original)
	})
	if err != nil {
		return nil, err
	}
	m := make(map[string]string, len(as))
	for _, a := range as {
		m[a.derived] = a.original
	}
	return m, nil
}

// queryAll runs the query and scans every row with scan
func queryAll[T any](ctx context.Context, pool DBPool, sql string, args []any,
	scan func(pgx.Rows) (T, error)) ([]T, error) {
	rows, err := pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query facts: %w", err)
	}
	defer rows.Close()

	var res []T
	for rows.Next() {
		x, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fact row: %w", err)
		}
		res = append(res, x)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return res, nil
}
