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

// Package facts defines the facts extracted from the analyzed code base (symbols, calls, assignments, control-flow
// blocks, endpoints...) and the stores that serve them. The taint analysis only reads facts; a [Store] is a
// read-only snapshot for the duration of a run.
package facts

import (
	"context"
	"errors"
	"sort"
)

// ErrUnknownFile is returned by a store when facts are requested for a file it does not know
var ErrUnknownFile = errors.New("unknown file")

// Store is the fact database consumed by the analysis.
type Store interface {
	// Files returns the indexed files, in sorted order
	Files(ctx context.Context) ([]string, error)

	// FileFacts returns the facts of one file. It returns an error wrapping ErrUnknownFile when the file is not
	// indexed.
	FileFacts(ctx context.Context, file string) (*FileFacts, error)

	// Endpoints returns the HTTP entry points of the code base
	Endpoints(ctx context.Context) ([]Endpoint, error)

	// SafeSinks returns the framework-provided safe sinks
	SafeSinks(ctx context.Context) ([]SafeSink, error)

	// ValidatorUsages returns the calls to validation frameworks
	ValidatorUsages(ctx context.Context) ([]ValidatorUsage, error)

	// FileAliases maps derived files (e.g. a compiled template, a transpiled module) to the original file they
	// were derived from.
	FileAliases(ctx context.Context) (map[string]string, error)
}

// FileFacts holds all the facts extracted from one file
type FileFacts struct {
	File         string            `json:"file"`
	Language     string            `json:"language,omitempty"`
	Symbols      []Symbol          `json:"symbols,omitempty"`
	Functions    []Function        `json:"functions,omitempty"`
	CallArgs     []CallArg         `json:"call_args,omitempty"`
	CallSites    []CallSite        `json:"call_sites,omitempty"`
	Assignments  []Assignment      `json:"assignments,omitempty"`
	Usages       []VariableUsage   `json:"usages,omitempty"`
	CFGBlocks    []CFGBlock        `json:"cfg_blocks,omitempty"`
	CFGEdges     []CFGEdge         `json:"cfg_edges,omitempty"`
	Imports      []ImportSpecifier `json:"imports,omitempty"`
	SQLQueries   []SQLQuery        `json:"sql_queries,omitempty"`
	NoSQLQueries []NoSQLQuery      `json:"nosql_queries,omitempty"`
	EnvAccesses  []EnvAccess       `json:"env_accesses,omitempty"`
}

// Symbol is a named entity at a location. Type is one of "property", "function", "variable", "call", "class"...
type Symbol struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Line int    `json:"line"`
	Col  int    `json:"col,omitempty"`
}

// Function is a function declaration. Line is the line of the declaration; StartLine and EndLine delimit the body.
type Function struct {
	Name      string  `json:"name"`
	Line      int     `json:"line"`
	StartLine int     `json:"start_line,omitempty"`
	EndLine   int     `json:"end_line,omitempty"`
	Params    []Param `json:"params,omitempty"`
}

// Param is a formal parameter of a function
type Param struct {
	Name  string `json:"name"`
	Index int    `json:"index"`
	Line  int    `json:"line,omitempty"`
}

// Contains returns true if the line is within the function's body
func (f Function) Contains(line int) bool {
	start := f.StartLine
	if start == 0 {
		start = f.Line
	}
	return line >= start && (f.EndLine == 0 || line <= f.EndLine)
}

// Param returns the parameter with the given name
func (f Function) Param(name string) (Param, bool) {
	for _, p := range f.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// CallArg is one argument of a call
type CallArg struct {
	Line           int    `json:"line"`
	CallerFunction string `json:"caller_function"`
	CalleeFunction string `json:"callee_function"`
	ArgumentIndex  int    `json:"argument_index"`
	ArgumentExpr   string `json:"argument_expr"`
	ParamName      string `json:"param_name,omitempty"`
	CalleeFile     string `json:"callee_file,omitempty"`
}

// CallSite is a call, recorded whether or not it has arguments. Calls without arguments only appear as call sites.
type CallSite struct {
	Line           int    `json:"line"`
	CallerFunction string `json:"caller_function"`
	CalleeFunction string `json:"callee_function"`
}

// Assignment is an assignment target = source. SourceVars are the variables read by the source expression.
type Assignment struct {
	Line       int      `json:"line"`
	TargetVar  string   `json:"target_var"`
	SourceExpr string   `json:"source_expr"`
	InFunction string   `json:"in_function"`
	SourceVars []string `json:"source_vars,omitempty"`
}

// VariableUsage is an occurrence of a variable
type VariableUsage struct {
	Line         int    `json:"line"`
	VariableName string `json:"variable_name"`
	UsageType    string `json:"usage_type,omitempty"`
	InFunction   string `json:"in_function,omitempty"`
}

// CFGBlock is a basic block of a function's control-flow graph. File is the file the block was extracted from,
// which may be a derived file.
type CFGBlock struct {
	ID        int    `json:"id"`
	File      string `json:"file,omitempty"`
	Function  string `json:"function"`
	Kind      string `json:"kind,omitempty"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

// CFGEdge is a control-flow edge between two blocks of the same function
type CFGEdge struct {
	File     string `json:"file,omitempty"`
	Function string `json:"function"`
	From     int    `json:"from"`
	To       int    `json:"to"`
	Kind     string `json:"kind,omitempty"`
}

// ImportSpecifier is one imported name. For `import {sanitize as s} from "lib"`, Module is "lib", Imported is
// "sanitize" and Local is "s". Namespace imports (`import * as lib`, `import lib`) have Namespace set and an empty
// Imported name.
type ImportSpecifier struct {
	Line      int    `json:"line"`
	Module    string `json:"module"`
	Imported  string `json:"imported,omitempty"`
	Local     string `json:"local"`
	Namespace bool   `json:"namespace,omitempty"`
}

// SQLQuery is a SQL query found in the code
type SQLQuery struct {
	Line            int    `json:"line"`
	QueryText       string `json:"query_text"`
	Command         string `json:"command,omitempty"`
	IsParameterized bool   `json:"is_parameterized,omitempty"`
}

// NoSQLQuery is an operation on a document store collection
type NoSQLQuery struct {
	Line       int    `json:"line"`
	Collection string `json:"collection"`
	Operation  string `json:"operation"`
}

// EnvAccess is a read of an environment variable
type EnvAccess struct {
	Line int    `json:"line"`
	Key  string `json:"key"`
}

// Endpoint is an HTTP entry point: requests to Method Path are handled by Handler
type Endpoint struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Method  string `json:"method"`
	Path    string `json:"path"`
	Handler string `json:"handler"`
	HasAuth bool   `json:"has_auth,omitempty"`
}

// SafeSink is a framework function that neutralizes the data passed to it (e.g. res.json escapes its argument)
type SafeSink struct {
	Pattern   string `json:"pattern"`
	Kind      string `json:"kind,omitempty"`
	Framework string `json:"framework,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// ValidatorUsage is a call to a validation framework (zod, joi...) at a location
type ValidatorUsage struct {
	File      string `json:"file"`
	Line      int    `json:"line"`
	Framework string `json:"framework"`
	Method    string `json:"method,omitempty"`
	Schema    string `json:"schema,omitempty"`
}

// FunctionAt returns the innermost function of the file whose body contains the line
func (ff *FileFacts) FunctionAt(line int) (Function, bool) {
	var best Function
	found := false
	for _, f := range ff.Functions {
		if !f.Contains(line) {
			continue
		}
		if !found || f.Line > best.Line {
			best = f
			found = true
		}
	}
	return best, found
}

// Function returns the function with the given name
func (ff *FileFacts) Function(name string) (Function, bool) {
	for _, f := range ff.Functions {
		if f.Name == name {
			return f, true
		}
	}
	return Function{}, false
}

// Callees returns the names of the functions called at the line, from both argument facts and call sites, without
// duplicates and in sorted order.
func (ff *FileFacts) Callees(line int) []string {
	set := map[string]bool{}
	for _, a := range ff.CallArgs {
		if a.Line == line && a.CalleeFunction != "" {
			set[a.CalleeFunction] = true
		}
	}
	for _, c := range ff.CallSites {
		if c.Line == line && c.CalleeFunction != "" {
			set[c.CalleeFunction] = true
		}
	}
	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ImportAliases returns the map from local names to the imported names they stand for. Named imports map to the
// imported name (s -> sanitize); namespace imports map to the module (lib -> lib-module).
func (ff *FileFacts) ImportAliases() map[string]string {
	aliases := make(map[string]string, len(ff.Imports))
	for _, imp := range ff.Imports {
		if imp.Local == "" {
			continue
		}
		switch {
		case imp.Namespace:
			aliases[imp.Local] = imp.Module
		case imp.Imported != "":
			aliases[imp.Local] = imp.Imported
		}
	}
	return aliases
}
