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
	"regexp"
	"strings"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

func newTestPGStore(t *testing.T) (*PGStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	mockPool.ExpectPing()
	s, err := NewPGStore(context.Background(), mockPool)
	require.NoError(t, err)
	return s, mockPool
}

func TestNewPGStorePingError(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	pingErr := errors.New("database unavailable")
	mockPool.ExpectPing().WillReturnError(pingErr)
	_, err = NewPGStore(context.Background(), mockPool)
	assert.ErrorIs(t, err, pingErr)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPGStoreEndpoints(t *testing.T) {
	s, mockPool := newTestPGStore(t)
	defer mockPool.Close()

	rows := pgxmock.NewRows([]string{"file", "line", "method", "path", "handler_function", "has_auth"}).
		AddRow("src/app.js", 2, "POST", "/greet", "greet", false)
	mockPool.ExpectQuery(flexibleSQLMatcher(sqlEndpoints)).WillReturnRows(rows)

	eps, err := s.Endpoints(context.Background())
	require.NoError(t, err)
	require.Len(t, eps, 1)
	assert.Equal(t, Endpoint{File: "src/app.js", Line: 2, Method: "POST", Path: "/greet", Handler: "greet"}, eps[0])
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPGStoreUnknownFile(t *testing.T) {
	s, mockPool := newTestPGStore(t)
	defer mockPool.Close()

	mockPool.ExpectQuery(flexibleSQLMatcher(sqlFileExists)).WithArgs("nope.js").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))
	_, err := s.FileFacts(context.Background(), "nope.js")
	assert.ErrorIs(t, err, ErrUnknownFile)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPGStoreFileFactsZeroArgCalls(t *testing.T) {
	s, mockPool := newTestPGStore(t)
	defer mockPool.Close()
	const file = "src/app.js"

	expect := func(sql string, cols []string, rows ...[]any) {
		r := pgxmock.NewRows(cols)
		for _, row := range rows {
			r.AddRow(row...)
		}
		mockPool.ExpectQuery(flexibleSQLMatcher(sql)).WithArgs(file).WillReturnRows(r)
	}
	expect(sqlFileExists, []string{"count"}, []any{3})
	expect(sqlSymbols, []string{"name", "type", "line", "col"}, []any{"req.body.name", "property", 3, 15})
	expect(sqlFunctions, []string{"name", "line", "end_line"}, []any{"greet", 2, 6})
	expect(sqlParams, []string{"function_name", "param_index", "param_name", "line"},
		[]any{"greet", 0, "req", 2}, []any{"greet", 1, "response", 2})
	expect(sqlCallArgs,
		[]string{"line", "caller_function", "callee_function", "argument_index", "argument_expr", "param_name", "callee_file_path"},
		[]any{4, "greet", "session.invalidate", -1, "", "", ""},
		[]any{5, "greet", "response.send", 0, "template(name)", "", ""})
	expect(sqlAssignments, []string{"line", "target_var", "source_expr", "in_function", "sources"},
		[]any{3, "name", "req.body.name", "greet", []string{"req.body.name"}})
	expect(sqlUsages, []string{"line", "variable_name", "usage_type", "in_component"})
	expect(sqlCFGBlocks, []string{"id", "file", "function_name", "block_type", "start_line", "end_line"},
		[]any{1, file, "greet", "entry", 2, 6})
	expect(sqlCFGEdges, []string{"file", "function_name", "source_block_id", "target_block_id", "edge_type"})
	expect(sqlImports, []string{"line", "module", "imported_name", "local_name", "is_namespace"},
		[]any{1, "./lib", "sanitize", "s", false})
	expect(sqlSQLQueries, []string{"line_number", "query_text", "command", "is_parameterized"})
	expect(sqlNoSQLQueries, []string{"line", "collection", "operation"})
	expect(sqlEnvAccesses, []string{"line", "var_name"})

	ff, err := s.FileFacts(context.Background(), file)
	require.NoError(t, err)
	assert.NoError(t, mockPool.ExpectationsWereMet())

	require.Len(t, ff.Functions, 1)
	assert.Len(t, ff.Functions[0].Params, 2)
	// the zero-argument call is only a call site
	assert.Len(t, ff.CallArgs, 1)
	assert.Len(t, ff.CallSites, 2)
	assert.Equal(t, []string{"session.invalidate"}, ff.Callees(4))
	assert.Equal(t, []string{"req.body.name"}, ff.Assignments[0].SourceVars)
	assert.Equal(t, map[string]string{"s": "sanitize"}, ff.ImportAliases())
}
