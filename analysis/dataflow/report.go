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
	"fmt"
	"sort"
	"sync"

	"github.com/awslabs/argot-taint/analysis/classify"
	"github.com/awslabs/argot-taint/analysis/registry"
)

// Engine names the analysis that produced a row
type Engine string

const (
	Forward  Engine = "forward"
	Backward Engine = "backward"
)

// Status is the outcome of the analysis of a (source, sink) pair
type Status string

const (
	// Vulnerable rows are flows from a source to a sink without sanitizer
	Vulnerable Status = "vulnerable"
	// Sanitized rows are flows crossing a sanitizer
	Sanitized Status = "sanitized"
	// Exhausted rows are searches that did not conclude: they ran out of budget, or failed. They are never safe.
	Exhausted Status = "exhausted"
)

// Row is one result of a run
type Row struct {
	TaintPath
	Engine Engine `json:"engine"`
	Status Status `json:"status"`
	// Confirmed is set on backward rows that the forward engine also found
	Confirmed bool `json:"confirmed,omitempty"`
	// Sanitizer is the sanitizer crossed by sanitized rows
	Sanitizer *registry.Record `json:"sanitizer,omitempty"`
}

// LocKey identifies the source and sink locations of the row
func (r Row) LocKey() string {
	return fmt.Sprintf("%s:%d>%s:%d", r.Source.File, r.Source.Line, r.Sink.File, r.Sink.Line)
}

// DiagnosticKind classifies the problems that made an analysis incomplete
type DiagnosticKind string

const (
	// MissingData is reported when facts needed by the analysis are absent
	MissingData DiagnosticKind = "MissingData"
	// BudgetExhausted is reported when a depth or effort limit was reached
	BudgetExhausted DiagnosticKind = "BudgetExhausted"
	// MalformedFact is reported for unparseable or inconsistent facts
	MalformedFact DiagnosticKind = "MalformedFact"
	// AnalysisFailed is reported when the analysis of a unit stopped on a panic, or when a run was cancelled
	AnalysisFailed DiagnosticKind = "AnalysisFailed"
)

// Diagnostic is a problem met while analyzing a unit of work
type Diagnostic struct {
	Kind    DiagnosticKind `json:"kind"`
	Engine  Engine         `json:"engine,omitempty"`
	File    string         `json:"file,omitempty"`
	Line    int            `json:"line,omitempty"`
	Message string         `json:"message"`
}

func (d Diagnostic) String() string {
	loc := ""
	if d.File != "" {
		loc = fmt.Sprintf(" %s:%d", d.File, d.Line)
	}
	return fmt.Sprintf("[%s]%s %s", d.Kind, loc, d.Message)
}

// Stats are the counters of a run
type Stats struct {
	Sources        int   `json:"sources"`
	Sinks          int   `json:"sinks"`
	ForwardStates  int64 `json:"forward_states"`
	BackwardStates int64 `json:"backward_states"`
	PrunedSinks    int   `json:"pruned_sinks"`
	CacheHits      int64 `json:"cache_hits"`
	CacheMisses    int64 `json:"cache_misses"`
}

// Verdict summarizes a result set
type Verdict string

const (
	VerdictVulnerable Verdict = "vulnerable"
	VerdictClean      Verdict = "clean"
	VerdictIncomplete Verdict = "incomplete"
)

// ResultSet holds the rows and diagnostics of a run. It is safe for concurrent use.
type ResultSet struct {
	RunID string

	mu          sync.Mutex
	rows        []Row
	diagnostics []Diagnostic
	stats       Stats
}

// NewResultSet returns an empty result set
func NewResultSet(runID string) *ResultSet {
	return &ResultSet{RunID: runID}
}

// AddRow adds a row
func (rs *ResultSet) AddRow(r Row) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.rows = append(rs.rows, r)
}

// AddDiagnostic adds a diagnostic
func (rs *ResultSet) AddDiagnostic(d Diagnostic) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.diagnostics = append(rs.diagnostics, d)
}

// UpdateStats applies f to the statistics of the set
func (rs *ResultSet) UpdateStats(f func(*Stats)) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	f(&rs.stats)
}

// Merge adds the rows, diagnostics and counters of other to rs
func (rs *ResultSet) Merge(other *ResultSet) {
	if other == nil || other == rs {
		return
	}
	rows, diags, stats := other.Rows(), other.Diagnostics(), other.Stats()
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.rows = append(rs.rows, rows...)
	rs.diagnostics = append(rs.diagnostics, diags...)
	rs.stats.ForwardStates += stats.ForwardStates
	rs.stats.BackwardStates += stats.BackwardStates
	rs.stats.PrunedSinks += stats.PrunedSinks
	if stats.Sources > rs.stats.Sources {
		rs.stats.Sources = stats.Sources
	}
	if stats.Sinks > rs.stats.Sinks {
		rs.stats.Sinks = stats.Sinks
	}
}

// Rows returns the rows, sorted by source location, sink location, engine and vulnerability type
func (rs *ResultSet) Rows() []Row {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	SortRows(rs.rows)
	return append([]Row(nil), rs.rows...)
}

// Filter returns the sorted rows with the status
func (rs *ResultSet) Filter(status Status) []Row {
	var res []Row
	for _, r := range rs.Rows() {
		if r.Status == status {
			res = append(res, r)
		}
	}
	return res
}

// Diagnostics returns the diagnostics, sorted by file, line and kind
func (rs *ResultSet) Diagnostics() []Diagnostic {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	res := append([]Diagnostic(nil), rs.diagnostics...)
	sort.SliceStable(res, func(i, j int) bool {
		if res[i].File != res[j].File {
			return res[i].File < res[j].File
		}
		if res[i].Line != res[j].Line {
			return res[i].Line < res[j].Line
		}
		return res[i].Kind < res[j].Kind
	})
	return res
}

// Stats returns the counters of the run
func (rs *ResultSet) Stats() Stats {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.stats
}

// Verdict returns VerdictVulnerable if some row is vulnerable, VerdictIncomplete if there is no finding but some
// part of the analysis did not conclude, and VerdictClean otherwise.
func (rs *ResultSet) Verdict() Verdict {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	incomplete := len(rs.diagnostics) > 0
	for _, r := range rs.rows {
		switch r.Status {
		case Vulnerable:
			return VerdictVulnerable
		case Exhausted:
			incomplete = true
		}
	}
	if incomplete {
		return VerdictIncomplete
	}
	return VerdictClean
}

// LimitVulnerable keeps the first n vulnerable rows, in row order, and drops the others. It returns the number of
// rows dropped.
func (rs *ResultSet) LimitVulnerable(n int) int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	SortRows(rs.rows)
	kept := rs.rows[:0]
	dropped := 0
	for _, r := range rs.rows {
		if r.Status == Vulnerable {
			if n <= 0 {
				dropped++
				continue
			}
			n--
		}
		kept = append(kept, r)
	}
	rs.rows = kept
	return dropped
}

// CountByType returns the number of vulnerable rows per vulnerability type
func (rs *ResultSet) CountByType() map[classify.Type]int {
	res := map[classify.Type]int{}
	for _, r := range rs.Filter(Vulnerable) {
		res[r.VulnerabilityType]++
	}
	return res
}

// SortRows sorts rows by (source file, source line, sink file, sink line), then engine and vulnerability type
func SortRows(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		switch {
		case a.Source.File != b.Source.File:
			return a.Source.File < b.Source.File
		case a.Source.Line != b.Source.Line:
			return a.Source.Line < b.Source.Line
		case a.Sink.File != b.Sink.File:
			return a.Sink.File < b.Sink.File
		case a.Sink.Line != b.Sink.Line:
			return a.Sink.Line < b.Sink.Line
		case a.Engine != b.Engine:
			return a.Engine < b.Engine
		}
		return a.VulnerabilityType < b.VulnerabilityType
	})
}
