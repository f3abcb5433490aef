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
	"sync"
	"testing"

	"github.com/awslabs/argot-taint/analysis/classify"
	"github.com/awslabs/argot-taint/analysis/flowgraph"
	"github.com/awslabs/argot-taint/analysis/registry"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func rec(kind registry.Kind, pattern, file string, line int) registry.Record {
	return registry.Record{Kind: kind, Pattern: pattern, Name: pattern, File: file, Line: line}
}

func row(srcFile string, srcLine int, sinkFile string, sinkLine int, engine Engine, status Status) Row {
	return Row{
		TaintPath: NewTaintPath(rec(registry.KindSource, "req.body", srcFile, srcLine),
			rec(registry.KindSink, "res.send", sinkFile, sinkLine), nil, Medium),
		Engine: engine,
		Status: status,
	}
}

func TestNewTaintPathClassifies(t *testing.T) {
	p := NewTaintPath(rec(registry.KindSource, "req.body", "a.js", 1), rec(registry.KindSink, "db.query", "a.js", 4),
		nil, High)
	assert.Equal(t, classify.SQLInjection, p.VulnerabilityType)
	assert.Equal(t, "HIGH", p.Confidence.String())
}

func TestNewTaintPathUsesSinkCategory(t *testing.T) {
	sink := rec(registry.KindSink, "db.Exec", "main.go", 4)
	sink.Category = "sql"
	p := NewTaintPath(rec(registry.KindSource, "r.FormValue", "main.go", 2), sink, nil, High)
	assert.Equal(t, classify.SQLInjection, p.VulnerabilityType)
}

func TestRowsAreSorted(t *testing.T) {
	rs := NewResultSet("run")
	rs.AddRow(row("b.js", 1, "b.js", 9, Forward, Vulnerable))
	rs.AddRow(row("a.js", 7, "a.js", 9, Forward, Vulnerable))
	rs.AddRow(row("a.js", 3, "b.js", 1, Forward, Vulnerable))
	rs.AddRow(row("a.js", 3, "a.js", 20, Forward, Vulnerable))
	rs.AddRow(row("a.js", 3, "a.js", 20, Backward, Vulnerable))

	var got []string
	for _, r := range rs.Rows() {
		got = append(got, r.LocKey()+" "+string(r.Engine))
	}
	want := []string{
		"a.js:3>a.js:20 backward",
		"a.js:3>a.js:20 forward",
		"a.js:3>b.js:1 forward",
		"a.js:7>a.js:9 forward",
		"b.js:1>b.js:9 forward",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("rows (-want +got):\n%s", diff)
	}
}

func TestVerdict(t *testing.T) {
	rs := NewResultSet("run")
	assert.Equal(t, VerdictClean, rs.Verdict())

	rs.AddRow(row("a.js", 1, "a.js", 2, Forward, Sanitized))
	assert.Equal(t, VerdictClean, rs.Verdict())

	rs.AddDiagnostic(Diagnostic{Kind: MissingData, File: "a.js", Message: "no CFG for f"})
	assert.Equal(t, VerdictIncomplete, rs.Verdict())

	rs.AddRow(row("a.js", 1, "a.js", 2, Backward, Vulnerable))
	assert.Equal(t, VerdictVulnerable, rs.Verdict())

	exhausted := NewResultSet("run")
	exhausted.AddRow(Row{Engine: Backward, Status: Exhausted})
	assert.Equal(t, VerdictIncomplete, exhausted.Verdict())
}

func TestMergeIsConcurrencySafe(t *testing.T) {
	rs := NewResultSet("run")
	var wg sync.WaitGroup
	for i := 1; i <= 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			part := NewResultSet("run")
			part.AddRow(row("a.js", i, "a.js", 100, Forward, Vulnerable))
			part.AddDiagnostic(Diagnostic{Kind: BudgetExhausted, Line: i})
			part.UpdateStats(func(s *Stats) { s.ForwardStates = int64(i) })
			rs.Merge(part)
		}(i)
	}
	wg.Wait()
	assert.Len(t, rs.Rows(), 10)
	assert.Len(t, rs.Diagnostics(), 10)
	assert.Equal(t, int64(55), rs.Stats().ForwardStates)
	assert.Equal(t, 1, rs.Rows()[0].Source.Line)
	assert.Equal(t, map[classify.Type]int{classify.XSS: 10}, rs.CountByType())
}

func TestReversedHops(t *testing.T) {
	backward := []Hop{
		{Node: "sink"},
		{Node: "mid", Kind: flowgraph.Assignment.Reverse()},
		{Node: "src", Kind: flowgraph.ParameterBinding.Reverse()},
	}
	got := ReversedHops(backward)
	want := []Hop{
		{Node: "src"},
		{Node: "mid", Kind: flowgraph.ParameterBinding},
		{Node: "sink", Kind: flowgraph.Assignment},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("hops (-want +got):\n%s", diff)
	}
}

func TestTaintPathFunctions(t *testing.T) {
	p := TaintPath{Hops: []Hop{{Function: "a"}, {Function: "a"}, {}, {Function: "b"}, {Function: "a"}}}
	assert.Equal(t, []string{"a", "b", "a"}, p.Functions())
}

func TestLimitVulnerable(t *testing.T) {
	rs := NewResultSet("run")
	rs.AddRow(row("b.js", 1, "b.js", 2, Forward, Vulnerable))
	rs.AddRow(row("a.js", 1, "a.js", 2, Forward, Vulnerable))
	rs.AddRow(row("a.js", 5, "a.js", 6, Forward, Sanitized))
	rs.AddRow(row("c.js", 1, "c.js", 2, Backward, Vulnerable))
	assert.Equal(t, 2, rs.LimitVulnerable(1))
	vulnerable := rs.Filter(Vulnerable)
	assert.Len(t, vulnerable, 1)
	assert.Equal(t, "a.js", vulnerable[0].Source.File)
	assert.Len(t, rs.Filter(Sanitized), 1)
}
