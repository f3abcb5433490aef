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
Package config provides the configuration of the taint analysis: its options, the per-language pattern catalogs and
the logging setup.

Use [Load](filename) to load a configuration from a specific filename, or [LoadFromBytes] when the contents are
already in memory.

Use [SetGlobalConfig](filename) to set filename as the global config, and then [LoadGlobal]() to load the global config.

A config file is in yaml format. The top-level fields are the fields of [Config]. For example, a valid config file is
as follows:

	options:
	  log-level: 4
	  max-depth: 15
	  call-string-length: 3

	languages:
	  javascript:
	    sinks:
	      - pattern: renderUnsafe
	        category: xss
	        risk: high
	    sanitizers:
	      - cleanInput
	      - re:^escape[A-Z]\w*$

# Patterns

Sources, sinks and sanitizers are [Pattern] values. A pattern written as a plain string matches a name when it is
equal to the name or to a run of consecutive dotted segments of the name, so "send" matches "res.send". A pattern
prefixed by "re:" is a regular expression; regexes are compiled when the config is loaded and an invalid regex is a
configuration error.

# Catalog

An embedded seed catalog provides patterns for javascript, typescript, python, go, java and php. The patterns of the
config file are appended to the seeds of the same language. Set the option no-default-catalog to start from an empty
catalog.
*/
package config
