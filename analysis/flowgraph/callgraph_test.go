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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildCycle builds a graph where handler calls a, and a and b call each other
func buildCycle(t *testing.T) *Graph {
	b := NewBuilder()
	require.NoError(t, b.AddEdge("app.js::handler::x", "app.js::a::p", ParameterBinding, Metadata{Line: 3}))
	require.NoError(t, b.AddEdge("app.js::a::p", "app.js::b::q", ParameterBinding, Metadata{Line: 10}))
	require.NoError(t, b.AddEdge("app.js::b::q", "app.js::a::p", ParameterBinding, Metadata{Line: 20}))
	require.NoError(t, b.AddEdge("app.js::b::r", "app.js::handler::y", Return, Metadata{Line: 3}))
	b.AddNode(Node{ID: "lib.js::unused", Kind: KindFunction})
	b.AddNode(Node{ID: "lib.js::self", Kind: KindFunction})
	require.NoError(t, b.AddEdge("lib.js::self", "lib.js::self", Call, Metadata{}))
	return b.Build()
}

func TestCallsStructure(t *testing.T) {
	c := BuildCalls(buildCycle(t))
	assert.Equal(t, []string{"app.js::a", "app.js::b", "app.js::handler", "lib.js::self"}, c.Functions())
	assert.True(t, c.Reaches("app.js::handler", "app.js::a"))
	assert.False(t, c.Reaches("app.js::handler", "lib.js::self"))
}

func TestCallsReaches(t *testing.T) {
	c := BuildCalls(buildCycle(t))
	assert.True(t, c.Reaches("app.js::handler", "app.js::b"))
	assert.True(t, c.Reaches("app.js::b", "app.js::a"))
	assert.False(t, c.Reaches("app.js::a", "app.js::handler"))
	assert.False(t, c.Reaches("app.js::a", "lib.js::self"))
	assert.True(t, c.Reaches("lib.js::unused", "lib.js::unused"))
}

func TestCallsReachableFrom(t *testing.T) {
	c := BuildCalls(buildCycle(t))
	got := c.ReachableFrom([]string{"app.js::handler", "other.js::h"})
	assert.Equal(t, map[string]bool{
		"app.js::handler": true,
		"app.js::a":       true,
		"app.js::b":       true,
		"other.js::h":     true,
	}, got)
}

func TestCallsRecursion(t *testing.T) {
	c := BuildCalls(buildCycle(t))
	cycles := c.RecursiveCycles(0)
	assert.ElementsMatch(t, [][]string{
		{"lib.js::self", "lib.js::self"},
		{"app.js::a", "app.js::b", "app.js::a"},
	}, cycles)
	assert.Equal(t, map[string]bool{"app.js::a": true, "app.js::b": true, "lib.js::self": true},
		c.RecursiveFunctions())
	assert.Len(t, c.RecursiveCycles(1), 1)
}
