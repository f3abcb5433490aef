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

// Package resultstore writes the rows and diagnostics of a run back to the PostgreSQL fact database.
package resultstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/awslabs/argot-taint/analysis/classify"
	"github.com/awslabs/argot-taint/analysis/config"
	"github.com/awslabs/argot-taint/analysis/dataflow"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	jsoniter "github.com/json-iterator/go"
)

// DB is the part of a pgxpool.Pool used by the writer
type DB interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
}

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	sqlDeleteResults = `
        DELETE FROM taint_results WHERE run_id = $1;
    `
	sqlDeleteDiagnostics = `
        DELETE FROM taint_diagnostics WHERE run_id = $1;
    `
)

var (
	resultColumns = []string{"run_id", "engine", "status", "vulnerability_type", "cwe", "confidence", "confirmed",
		"source_file", "source_line", "source_pattern", "sink_file", "sink_line", "sink_pattern", "sanitizer", "hops",
		"created_at"}
	diagnosticColumns = []string{"run_id", "engine", "kind", "file", "line", "message", "created_at"}
)

// Writer writes result sets to the taint_results and taint_diagnostics tables
type Writer struct {
	db     DB
	logger *config.LogGroup
	now    func() time.Time
}

// NewWriter returns a writer to db, after checking the connection
func NewWriter(ctx context.Context, db DB, logger *config.LogGroup) (*Writer, error) {
	if err := db.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping result database: %w", err)
	}
	if logger == nil {
		logger = config.NewNopLogGroup()
	}
	return &Writer{db: db, logger: logger.Named("resultstore"), now: time.Now}, nil
}

// Write replaces the rows and diagnostics stored for the run of rs in a single transaction
func (w *Writer) Write(ctx context.Context, rs *dataflow.ResultSet) (err error) {
	runID, err := uuid.Parse(rs.RunID)
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", rs.RunID, err)
	}
	tx, err := w.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			w.logger.Errorf("failed to rollback transaction: %v", rollbackErr)
		}
	}()

	for _, q := range []string{sqlDeleteResults, sqlDeleteDiagnostics} {
		if _, err := tx.Exec(ctx, q, runID.String()); err != nil {
			return fmt.Errorf("failed to clear previous results of run %s: %w", runID, err)
		}
	}
	now := w.now().UTC()

	rows, err := resultRows(runID.String(), rs.Rows(), now)
	if err != nil {
		return err
	}
	if err := copyRows(ctx, tx, "taint_results", resultColumns, rows); err != nil {
		return err
	}
	if err := copyRows(ctx, tx, "taint_diagnostics", diagnosticColumns,
		diagnosticRows(runID.String(), rs.Diagnostics(), now)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	w.logger.Infof("Wrote %d rows and %d diagnostics of run %s", len(rows), len(rs.Diagnostics()), runID)
	return nil
}

func copyRows(ctx context.Context, tx pgx.Tx, table string, columns []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	n, err := tx.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy %s: %w", table, err)
	}
	if int(n) != len(rows) {
		return fmt.Errorf("mismatch in copied %s count: expected %d, got %d", table, len(rows), n)
	}
	return nil
}

func resultRows(runID string, rows []dataflow.Row, now time.Time) ([][]any, error) {
	res := make([][]any, 0, len(rows))
	for _, r := range rows {
		hops, err := json.Marshal(r.Hops)
		if err != nil {
			return nil, fmt.Errorf("failed to encode path of %s: %w", r.LocKey(), err)
		}
		var sanitizer any
		if r.Sanitizer != nil {
			sanitizer = r.Sanitizer.Pattern
		}
		cwe := ""
		if r.VulnerabilityType != "" {
			cwe = classify.CWE(r.VulnerabilityType).ID
		}
		res = append(res, []any{
			runID, string(r.Engine), string(r.Status), string(r.VulnerabilityType), cwe, r.Confidence.String(),
			r.Confirmed,
			r.Source.File, r.Source.Line, r.Source.Pattern,
			r.Sink.File, r.Sink.Line, r.Sink.Pattern,
			sanitizer, hops, now,
		})
	}
	return res, nil
}

func diagnosticRows(runID string, diags []dataflow.Diagnostic, now time.Time) [][]any {
	res := make([][]any, 0, len(diags))
	for _, d := range diags {
		res = append(res, []any{runID, string(d.Engine), string(d.Kind), d.File, d.Line, d.Message, now})
	}
	return res
}
