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
The taint tool runs the taint analysis over a fact database and reports the flows from sources to sinks.

Usage:

	taint [flags]

The facts are read either from a JSON snapshot (--snapshot) or from the PostgreSQL fact database (--dsn). The flags
are:

	--config path     a YAML configuration file with options and per-language catalogs

	--mode m          forward, backward or complete (default complete)

	--sarif path      write the vulnerable flows as a SARIF report, with their paths as code flows

	--json path       write the result set as JSON ("-" for stdout)

	--write-back      write the results to the taint_results table of the database (requires --dsn)

Every flag can also be set in the environment with the ARGOT_TAINT_ prefix, e.g. ARGOT_TAINT_DSN. The exit status
is 0 when the verdict is clean, 1 on errors, 3 when a vulnerability is found and 4 when the analysis is incomplete.
Units of analysis that fail do not abort the run: they make the verdict incomplete, unless a vulnerability is found.
*/
package main
