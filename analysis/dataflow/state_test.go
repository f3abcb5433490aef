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
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/awslabs/argot-taint/analysis/config"
	"github.com/awslabs/argot-taint/analysis/facts"
	"github.com/awslabs/argot-taint/analysis/flowgraph"
	"github.com/awslabs/argot-taint/analysis/registry"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// greetFacts is a handler greet(req, res) sending req.body.name back to the client:
//
//	2 function greet(req, res) {
//	3   const name = req.body.name;
//	5   res.send("<h1>" + name);
//	6   log(other);
//	7 }
func greetFacts() facts.FileFacts {
	return facts.FileFacts{
		File:     "app.js",
		Language: "javascript",
		Functions: []facts.Function{{
			Name: "greet", Line: 2, StartLine: 2, EndLine: 7,
			Params: []facts.Param{{Name: "req", Index: 0, Line: 2}, {Name: "res", Index: 1, Line: 2}},
		}},
		Assignments: []facts.Assignment{
			{Line: 3, TargetVar: "name", SourceExpr: "req.body.name", InFunction: "greet"},
		},
		Usages: []facts.VariableUsage{{Line: 6, VariableName: "other", InFunction: "greet"}},
		CallArgs: []facts.CallArg{
			{Line: 5, CallerFunction: "greet", CalleeFunction: "res.send", ArgumentIndex: 0,
				ArgumentExpr: `"<h1>" + name`},
			{Line: 6, CallerFunction: "greet", CalleeFunction: "log", ArgumentIndex: 0, ArgumentExpr: "other"},
		},
	}
}

func greetGraph(t *testing.T) *flowgraph.Graph {
	b := flowgraph.NewBuilder()
	b.AddNode(flowgraph.Node{ID: "app.js::greet::req", Kind: flowgraph.KindParameter})
	b.AddNode(flowgraph.Node{ID: "app.js::greet::res", Kind: flowgraph.KindParameter})
	b.AddNode(flowgraph.Node{ID: "app.js::greet::other"})
	b.AddNode(flowgraph.Node{ID: "app.js::<module>::greet", Kind: flowgraph.KindFunction})
	require.NoError(t, b.AddEdge("app.js::greet::req.body.name", "app.js::greet::name", flowgraph.Assignment,
		flowgraph.Metadata{Line: 3, Function: "greet"}))
	return b.Build()
}

func newGreetState(t *testing.T) *AnalyzerState {
	cfg, err := config.NewWithCatalog()
	require.NoError(t, err)
	snap := facts.NewSnapshot([]facts.FileFacts{greetFacts()},
		[]facts.Endpoint{{File: "app.js", Line: 10, Method: "post", Path: "/greet", Handler: "greet"}},
		nil, nil, nil, nil)
	state, err := NewAnalyzerState(context.Background(), cfg, config.NewNopLogGroup(), snap,
		flowgraph.MemStore{G: greetGraph(t)})
	require.NoError(t, err)
	return state
}

func TestNewAnalyzerState(t *testing.T) {
	state := newGreetState(t)
	_, err := uuid.Parse(state.RunID)
	assert.NoError(t, err)
	assert.True(t, state.EntryScopes["app.js::greet"])
	assert.Equal(t, "/greet", state.HandlerScopes["app.js::greet"].Path)
	assert.Equal(t, "javascript", state.Lang("app.js"))
	assert.False(t, state.HasErrors())
	assert.NoError(t, state.Errors())
}

func TestNewAnalyzerStateGraphError(t *testing.T) {
	snap := facts.NewSnapshot(nil, nil, nil, nil, nil, []byte(`{"nodes": 3}`))
	_, err := NewAnalyzerState(context.Background(), nil, nil, snap, flowgraph.NewSnapshotStore(snap))
	assert.ErrorContains(t, err, "failed to load flow graph")
}

func TestSourceLine(t *testing.T) {
	state := newGreetState(t)
	ctx := context.Background()
	for _, test := range []struct {
		id   string
		line int
		ok   bool
	}{
		{"app.js::greet::name", 3, true},          // assignment
		{"app.js::greet::req", 2, true},           // parameter
		{"app.js::greet::other", 6, true},         // usage
		{"app.js::greet::req.body.name", 2, true}, // parameter of the base
		{"app.js::greet::ghost", 0, false},
	} {
		t.Run(test.id, func(t *testing.T) {
			n := flowgraph.Node{ID: test.id}
			if h, ok := state.Graph.Lookup(test.id); ok {
				n = state.Graph.Node(h)
			} else {
				n.File, n.Scope, n.Name = "app.js", "greet", test.id[strings.LastIndex(test.id, "::")+2:]
			}
			line, ok := state.SourceLine(ctx, n)
			assert.Equal(t, test.ok, ok)
			assert.Equal(t, test.line, line)
		})
	}
}

func TestSourceAndSinkNodes(t *testing.T) {
	state := newGreetState(t)
	var endpoint, body registry.Record
	for _, src := range state.Registry.Sources() {
		if src.Endpoint != nil {
			endpoint = src
		} else if src.Name == "req.body.name" {
			body = src
		}
	}
	require.NotNil(t, endpoint.Endpoint)

	ids := func(hs []flowgraph.Handle) []string {
		var res []string
		for _, h := range hs {
			res = append(res, state.Graph.Node(h).ID)
		}
		return res
	}
	assert.Equal(t, []string{"app.js::greet::req", "app.js::greet::res"}, ids(state.SourceNodes(endpoint)))
	assert.Equal(t, []string{"app.js::greet::req.body.name"}, ids(state.SourceNodes(body)))

	located, ok := state.LocateSource(context.Background(), endpoint, state.SourceNodes(endpoint)[0])
	require.True(t, ok)
	assert.Equal(t, 2, located.Line)

	var send registry.Record
	for _, sink := range state.Registry.Sinks() {
		if sink.Pattern == "res.send" {
			send = sink
		}
	}
	require.Equal(t, 5, send.Line)
	assert.Equal(t, []string{"app.js::greet::name"}, ids(state.SinkNodes(send)))
}

func TestForEachRecoversPanics(t *testing.T) {
	state := newGreetState(t)
	state.Config.Workers = 2
	var done atomic.Int32
	failed, err := ForEach(context.Background(), state, []int{1, 2, 3, 4, 5},
		func(i int) string { return "item" + string(rune('0'+i)) },
		func(_ context.Context, i int) {
			if i == 3 {
				panic("boom")
			}
			done.Add(1)
		})
	require.NoError(t, err)
	assert.Equal(t, []int{3}, failed)
	assert.Equal(t, int32(4), done.Load())
	assert.True(t, state.HasErrors())
	assert.ErrorContains(t, state.Errors(), "item3: panic: boom")
	assert.Len(t, state.CheckError(), 1)
	assert.False(t, state.HasErrors())
}

func TestForEachCancelled(t *testing.T) {
	state := newGreetState(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ForEach(ctx, state, []int{1}, func(int) string { return "" }, func(context.Context, int) {
		t.Error("task should not run")
	})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestErrorsAreJoinedByKey(t *testing.T) {
	state := newGreetState(t)
	state.AddError("b", errors.New("second"))
	state.AddError("a", errors.New("first"))
	state.AddError("a", nil)
	assert.Equal(t, "a: first\nb: second", state.Errors().Error())
}
