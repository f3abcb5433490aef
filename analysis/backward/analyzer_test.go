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
	"context"
	"testing"

	"github.com/awslabs/argot-taint/analysis/classify"
	"github.com/awslabs/argot-taint/analysis/dataflow"
	"github.com/awslabs/argot-taint/internal/analysistest"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func analyze(t *testing.T, state *dataflow.AnalyzerState) *dataflow.ResultSet {
	t.Helper()
	rs := NewAnalyzer(state).AnalyzeSinks(context.Background(), state.Registry.Sinks())
	require.NoError(t, state.Errors())
	return rs
}

func TestBackwardScenarios(t *testing.T) {
	for _, test := range []struct {
		scenario string
		vulnType classify.Type
	}{
		{"xss", classify.XSS},
		{"greet", classify.XSS},
		{"concat", classify.CommandInjection},
		{"call_string", classify.XSS},
		{"sanitized_alias", ""},
		{"cycle", ""},
	} {
		t.Run(test.scenario, func(t *testing.T) {
			dir := analysistest.ScenarioDir(test.scenario)
			rs := analyze(t, analysistest.LoadState(t, dir))

			expected, err := analysistest.GetExpectedSourceToSink(dir)
			require.NoError(t, err)
			found := analysistest.FoundSourceToSink(rs.Rows(), dataflow.Vulnerable)
			if diff := cmp.Diff(expected, found); diff != "" {
				t.Errorf("flows (-expected +found):\n%s", diff)
			}
			for _, row := range rs.Filter(dataflow.Vulnerable) {
				assert.Equal(t, test.vulnType, row.VulnerabilityType)
				assert.Equal(t, dataflow.Backward, row.Engine)
				assert.Equal(t, dataflow.High, row.Confidence)
			}
			assert.Empty(t, rs.Diagnostics())
		})
	}
}

func TestBackwardXSSPath(t *testing.T) {
	state := analysistest.LoadState(t, analysistest.ScenarioDir("xss"))
	rows := analyze(t, state).Filter(dataflow.Vulnerable)
	require.Len(t, rows, 1)
	assert.Equal(t, 3, rows[0].Source.Line)
	assert.Equal(t, 5, rows[0].Sink.Line)
	var nodes []string
	for _, h := range rows[0].Hops {
		nodes = append(nodes, h.Node)
	}
	// hops are reported in source to sink order
	assert.Equal(t, []string{"app.js::greet::req.body.name", "app.js::greet::name", "app.js::greet::page"}, nodes)
	assert.Equal(t, []string{"greet"}, rows[0].Functions())
}

func TestBackwardEndpointSource(t *testing.T) {
	state := analysistest.LoadState(t, analysistest.ScenarioDir("param_source"))
	rows := analyze(t, state).Filter(dataflow.Vulnerable)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].Source.Endpoint)
	assert.Equal(t, "GET /search", rows[0].Source.Pattern)
	assert.Equal(t, 2, rows[0].Source.Line)
	assert.Equal(t, 3, rows[0].Sink.Line)
	assert.Equal(t, dataflow.High, rows[0].Confidence)
}

func TestBackwardSanitizedAlias(t *testing.T) {
	state := analysistest.LoadState(t, analysistest.ScenarioDir("sanitized_alias"))
	rs := analyze(t, state)
	assert.Empty(t, rs.Filter(dataflow.Vulnerable))
	sanitized := rs.Filter(dataflow.Sanitized)
	require.Len(t, sanitized, 1)
	assert.Equal(t, "sanitize", sanitized[0].Sanitizer.Pattern)
	assert.Equal(t, dataflow.VerdictClean, rs.Verdict())
}

func TestBackwardIgnoresControlFlow(t *testing.T) {
	// the backward analyzer is flow-insensitive within a function: both sinks are reported
	state := analysistest.LoadState(t, analysistest.ScenarioDir("reconcile"))
	rows := analyze(t, state).Filter(dataflow.Vulnerable)
	require.Len(t, rows, 2)
	assert.Equal(t, 2, rows[0].Sink.Line)
	assert.Equal(t, 4, rows[1].Sink.Line)
	for _, row := range rows {
		assert.Equal(t, 3, row.Source.Line)
	}
}

func TestBackwardCycleTerminates(t *testing.T) {
	state := analysistest.LoadState(t, analysistest.ScenarioDir("cycle"))
	rs := analyze(t, state)
	assert.Empty(t, rs.Rows())
	assert.Less(t, rs.Stats().BackwardStates, int64(10))
}

func TestBackwardCallString(t *testing.T) {
	for _, k := range []int{1, 2, 4} {
		state := analysistest.LoadState(t, analysistest.ScenarioDir("call_string"))
		state.Config.CallStringLength = k
		rows := analyze(t, state).Filter(dataflow.Vulnerable)
		// the result of id("safe") is not tainted by the call id(req.body.x)
		require.Len(t, rows, 1, "k = %d", k)
		assert.Equal(t, 7, rows[0].Sink.Line)
		assert.Len(t, rows[0].Hops, 3)
		assert.Equal(t, "app.js::id::v", rows[0].Hops[1].Node)
	}
}

func TestBackwardDepthLimit(t *testing.T) {
	state := analysistest.LoadState(t, analysistest.ScenarioDir("xss"))
	state.Config.BackwardMaxDepth = 1
	rs := analyze(t, state)
	assert.Empty(t, rs.Filter(dataflow.Vulnerable))
	exhausted := rs.Filter(dataflow.Exhausted)
	require.Len(t, exhausted, 1)
	assert.Equal(t, 5, exhausted[0].Sink.Line)
	assert.Zero(t, exhausted[0].Source.Line)
	require.Len(t, rs.Diagnostics(), 1)
	assert.Equal(t, dataflow.BudgetExhausted, rs.Diagnostics()[0].Kind)
	assert.Equal(t, dataflow.VerdictIncomplete, rs.Verdict())
}

func TestBackwardEffortLimit(t *testing.T) {
	state := analysistest.LoadState(t, analysistest.ScenarioDir("xss"))
	state.Config.MaxEffort = 2
	rs := analyze(t, state)
	assert.Len(t, rs.Filter(dataflow.Exhausted), 1)
	require.Len(t, rs.Diagnostics(), 1)
	assert.Equal(t, dataflow.BudgetExhausted, rs.Diagnostics()[0].Kind)
	assert.Equal(t, int64(3), rs.Stats().BackwardStates)
}

func TestBackwardEffortLimitWithCandidate(t *testing.T) {
	// req.body.name matches at the second state; req, which holds the endpoint, is left in the queue
	state := analysistest.LoadState(t, analysistest.ScenarioDir("greet"))
	state.Config.MaxEffort = 2
	rs := analyze(t, state)
	rows := rs.Filter(dataflow.Vulnerable)
	require.Len(t, rows, 1)
	assert.Equal(t, "req.body", rows[0].Source.Pattern)
	assert.Equal(t, 3, rows[0].Source.Line)
	assert.Empty(t, rs.Filter(dataflow.Exhausted))
	diags := rs.Diagnostics()
	require.Len(t, diags, 1)
	assert.Equal(t, dataflow.BudgetExhausted, diags[0].Kind)
	assert.Contains(t, diags[0].Message, "effort limit 2")
	assert.Equal(t, dataflow.VerdictVulnerable, rs.Verdict())
}

func TestBackwardRanksEndpointAboveUserInput(t *testing.T) {
	state := analysistest.LoadState(t, analysistest.ScenarioDir("greet"))
	rows := analyze(t, state).Filter(dataflow.Vulnerable)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].Source.Endpoint)
	assert.Equal(t, "POST /greet", rows[0].Source.Pattern)
	assert.Equal(t, 2, rows[0].Source.Line)
}

func TestBackwardMaxPathsPerSink(t *testing.T) {
	state := analysistest.LoadState(t, analysistest.ScenarioDir("reconcile"))
	state.Config.MaxPathsPerSink = 1
	rows := analyze(t, state).Filter(dataflow.Vulnerable)
	assert.Len(t, rows, 2)
}

func TestBackwardCancelled(t *testing.T) {
	state := analysistest.LoadState(t, analysistest.ScenarioDir("xss"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rs := NewAnalyzer(state).AnalyzeSinks(ctx, state.Registry.Sinks())
	assert.Empty(t, rs.Rows())
	assert.Error(t, state.Errors())
	require.Len(t, rs.Diagnostics(), 1)
	assert.Equal(t, dataflow.AnalysisFailed, rs.Diagnostics()[0].Kind)
	assert.Equal(t, dataflow.VerdictIncomplete, rs.Verdict())
}

func TestBackwardPanicIsNeverClean(t *testing.T) {
	state := analysistest.LoadState(t, analysistest.ScenarioDir("xss"))
	// every sink task panics on the missing parser
	state.Parser = nil
	rs := NewAnalyzer(state).AnalyzeSinks(context.Background(), state.Registry.Sinks())
	assert.ErrorContains(t, state.Errors(), "panic")
	exhausted := rs.Filter(dataflow.Exhausted)
	require.Len(t, exhausted, 1)
	assert.Equal(t, 5, exhausted[0].Sink.Line)
	diags := rs.Diagnostics()
	require.Len(t, diags, 1)
	assert.Equal(t, dataflow.AnalysisFailed, diags[0].Kind)
	assert.Equal(t, 5, diags[0].Line)
	assert.Equal(t, dataflow.VerdictIncomplete, rs.Verdict())
}
