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
Package taint runs the taint analysis of a fact database. The main entry point is [Analyze], which runs the engines
selected by a [Mode] over an analyzer state and returns the rows and diagnostics of the run.

In [Complete] mode, the forward resolver runs first. The sinks it reaches are the only ones visited by the backward
analyzer, and the backward findings that the forward resolver also found are marked confirmed. A forward finding
confirmed by the backward analyzer is reported once, as the backward row, whose path is context-sensitive.
*/
package taint
