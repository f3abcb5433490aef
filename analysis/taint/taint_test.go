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

package taint

import (
	"context"
	"testing"

	"github.com/awslabs/argot-taint/analysis/classify"
	"github.com/awslabs/argot-taint/analysis/config"
	"github.com/awslabs/argot-taint/analysis/dataflow"
	"github.com/awslabs/argot-taint/internal/analysistest"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func run(t *testing.T, scenario string, mode Mode) *dataflow.ResultSet {
	t.Helper()
	state := analysistest.LoadState(t, analysistest.ScenarioDir(scenario))
	rs, err := Analyze(context.Background(), state, mode)
	require.NoError(t, err)
	return rs
}

func TestParseMode(t *testing.T) {
	for in, expected := range map[string]Mode{"forward": Forward, " Backward": Backward, "complete": Complete,
		"": Complete} {
		m, err := ParseMode(in)
		require.NoError(t, err)
		assert.Equal(t, expected, m)
	}
	_, err := ParseMode("sideways")
	assert.Error(t, err)
}

func TestAnalyzeScenarios(t *testing.T) {
	for _, scenario := range []string{"xss", "greet", "param_source", "concat", "call_string", "sanitized_alias",
		"cycle", "reconcile"} {
		for _, mode := range []Mode{Forward, Backward, Complete} {
			if scenario == "reconcile" && mode == Backward {
				// the backward analyzer also reports the sink running before the assignment
				continue
			}
			t.Run(scenario+"/"+string(mode), func(t *testing.T) {
				dir := analysistest.ScenarioDir(scenario)
				rs := run(t, scenario, mode)
				expected, err := analysistest.GetExpectedSourceToSink(dir)
				require.NoError(t, err)
				found := analysistest.FoundSourceToSink(rs.Rows(), dataflow.Vulnerable)
				if diff := cmp.Diff(expected, found); diff != "" {
					t.Errorf("flows (-expected +found):\n%s", diff)
				}
			})
		}
	}
}

func TestGreetOnePath(t *testing.T) {
	// POST /greet: req.body.name flows to response.send(template(name)), and req.body is also a source of the flow
	for _, mode := range []Mode{Forward, Backward, Complete} {
		rs := run(t, "greet", mode)
		rows := rs.Filter(dataflow.Vulnerable)
		require.Len(t, rows, 1, "mode %s", mode)
		assert.Equal(t, classify.XSS, rows[0].VulnerabilityType)
		assert.Equal(t, "Cross-Site Scripting", string(rows[0].VulnerabilityType))
		assert.Equal(t, "POST /greet", rows[0].Source.Pattern, "mode %s", mode)
		assert.Equal(t, 2, rows[0].Source.Line)
		assert.Equal(t, 4, rows[0].Sink.Line)
		assert.Equal(t, dataflow.VerdictVulnerable, rs.Verdict())
		if mode != Backward {
			require.Len(t, rows[0].Related, 1, "mode %s", mode)
			assert.Equal(t, "req.body", rows[0].Related[0].Pattern)
		}
	}
}

func TestCompleteConfirmsBackwardRows(t *testing.T) {
	rows := run(t, "xss", Complete).Filter(dataflow.Vulnerable)
	require.Len(t, rows, 1)
	assert.Equal(t, dataflow.Backward, rows[0].Engine)
	assert.True(t, rows[0].Confirmed)
}

func TestSameClassificationInBothEngines(t *testing.T) {
	for _, scenario := range []string{"xss", "greet", "concat", "call_string", "param_source"} {
		fw := run(t, scenario, Forward).Filter(dataflow.Vulnerable)
		bw := run(t, scenario, Backward).Filter(dataflow.Vulnerable)
		require.Len(t, fw, 1, scenario)
		require.Len(t, bw, 1, scenario)
		assert.Equal(t, fw[0].VulnerabilityType, bw[0].VulnerabilityType, scenario)
		assert.Equal(t, fw[0].LocKey(), bw[0].LocKey(), scenario)
	}
}

func TestAliasedSanitizerNoPath(t *testing.T) {
	for _, mode := range []Mode{Forward, Backward, Complete} {
		rs := run(t, "sanitized_alias", mode)
		assert.Empty(t, rs.Filter(dataflow.Vulnerable), "mode %s", mode)
		assert.Equal(t, dataflow.VerdictClean, rs.Verdict(), "mode %s", mode)
	}
}

func TestCycleNoPath(t *testing.T) {
	for _, mode := range []Mode{Forward, Backward, Complete} {
		rs := run(t, "cycle", mode)
		assert.Empty(t, rs.Rows(), "mode %s", mode)
	}
}

func TestParameterSourceHasLine(t *testing.T) {
	rows := run(t, "param_source", Complete).Filter(dataflow.Vulnerable)
	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].Source.Line)
	assert.Equal(t, "GET /search", rows[0].Source.Pattern)
}

func TestConcatenatedSinkArgument(t *testing.T) {
	rows := run(t, "concat", Complete).Filter(dataflow.Vulnerable)
	require.Len(t, rows, 1)
	assert.Equal(t, classify.CommandInjection, rows[0].VulnerabilityType)
	assert.Equal(t, 4, rows[0].Sink.Line)
}

func TestUnreachedSinkNotSentBackward(t *testing.T) {
	rs := run(t, "reconcile", Complete)
	assert.Equal(t, 1, rs.Stats().PrunedSinks)
	assert.Equal(t, 2, rs.Stats().Sinks)
	rows := rs.Filter(dataflow.Vulnerable)
	require.Len(t, rows, 1)
	assert.Equal(t, 4, rows[0].Sink.Line)
	assert.True(t, rows[0].Confirmed)
	for _, row := range rs.Rows() {
		assert.NotEqual(t, 2, row.Sink.Line)
	}

	// without pruning, the backward analyzer reports the flow-insensitive path to res.send
	backwardOnly := run(t, "reconcile", Backward)
	assert.Len(t, backwardOnly.Filter(dataflow.Vulnerable), 2)
	assert.Zero(t, backwardOnly.Stats().PrunedSinks)
}

func TestIncompleteForwardKeepsSinksOfExhaustedSource(t *testing.T) {
	state := analysistest.LoadState(t, analysistest.ScenarioDir("reconcile"))
	state.Config.MaxDepth = 1
	rs, err := Analyze(context.Background(), state, Complete)
	require.NoError(t, err)
	assert.Zero(t, rs.Stats().PrunedSinks)
	assert.Len(t, rs.Filter(dataflow.Exhausted), 1)
	assert.Len(t, rs.Filter(dataflow.Vulnerable), 2)
	// a finding wins over incompleteness
	assert.Equal(t, dataflow.VerdictVulnerable, rs.Verdict())
}

func TestFailedUnitsMakeVerdictIncomplete(t *testing.T) {
	for _, mode := range []Mode{Forward, Backward, Complete} {
		state := analysistest.LoadState(t, analysistest.ScenarioDir("xss"))
		state.Parser = nil
		rs, err := Analyze(context.Background(), state, mode)
		require.Error(t, err, "mode %s", mode)
		require.NotNil(t, rs)
		assert.Empty(t, rs.Filter(dataflow.Vulnerable), "mode %s", mode)
		assert.NotEmpty(t, rs.Filter(dataflow.Exhausted), "mode %s", mode)
		assert.Equal(t, dataflow.VerdictIncomplete, rs.Verdict(), "mode %s", mode)
	}
}

func TestMaxAlarms(t *testing.T) {
	state := analysistest.LoadState(t, analysistest.ScenarioDir("reconcile"))
	core, logs := observer.New(zapcore.DebugLevel)
	state.Logger = config.NewLogGroupWithCore(config.InfoLevel, core)
	state.Config.MaxAlarms = 1
	rs, err := Analyze(context.Background(), state, Backward)
	require.NoError(t, err)
	assert.Len(t, rs.Filter(dataflow.Vulnerable), 1)
	assert.Equal(t, 1, logs.FilterMessageSnippet("max-alarms is 1").Len())
}

func TestCacheStats(t *testing.T) {
	stats := run(t, "xss", Complete).Stats()
	assert.Positive(t, stats.CacheHits+stats.CacheMisses)
	assert.Positive(t, stats.ForwardStates)
	assert.Positive(t, stats.BackwardStates)
	assert.Equal(t, 1, stats.Sinks)
}

func TestUnknownMode(t *testing.T) {
	state := analysistest.LoadState(t, analysistest.ScenarioDir("xss"))
	_, err := Analyze(context.Background(), state, Mode("sideways"))
	assert.Error(t, err)
}
