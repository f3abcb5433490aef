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

/*
Package dataflow holds the state and the results shared by the taint engines.

An [AnalyzerState] is built once per run. It bundles the configuration, the cached fact store, the flow graph and its
call graph, the source/sink/sanitizer registry and the expression parser, and collects the errors of the workers:

	state, err := dataflow.NewAnalyzerState(ctx, cfg, logger, factStore, graphStore)

The engines produce [TaintPath] values, recorded as rows of a [ResultSet] with the engine that found them and a
[Status]. Units of work that could not be analyzed completely add a [Diagnostic] instead of being silently dropped.

Call strings are persistent [CallStack] values of call sites, shared between the states of a traversal.
*/
package dataflow
