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

// Package registry holds the sources, sinks and sanitizers of a run.
//
// A Registry is built once per run from the configured per-language catalogs and from the facts of the code base:
// framework safe sinks, validation framework usages, and every call recorded at a location, with or without
// arguments. It is immutable once built and shared by the analyses.
package registry

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/awslabs/argot-taint/analysis/config"
	"github.com/awslabs/argot-taint/analysis/facts"
	"golang.org/x/exp/maps"
)

// Language is a normalized language name, such as "javascript"
type Language string

const (
	JavaScript Language = "javascript"
	TypeScript Language = "typescript"
	Python     Language = "python"
	Go         Language = "go"
	Java       Language = "java"
	PHP        Language = "php"
	Unknown    Language = ""
)

var extensions = map[string]Language{
	".js":     JavaScript,
	".jsx":    JavaScript,
	".mjs":    JavaScript,
	".cjs":    JavaScript,
	".vue":    JavaScript,
	".svelte": JavaScript,
	".ts":     TypeScript,
	".tsx":    TypeScript,
	".mts":    TypeScript,
	".py":     Python,
	".go":     Go,
	".java":   Java,
	".php":    PHP,
}

// LanguageOf returns the language of a file, from its extension
func LanguageOf(file string) Language {
	return extensions[strings.ToLower(filepath.Ext(file))]
}

// Kind is the role of a record
type Kind string

const (
	KindSource    Kind = "source"
	KindSink      Kind = "sink"
	KindSanitizer Kind = "sanitizer"
)

// Categories of the records discovered from facts
const (
	CategoryHTTPRequest = "http_request"
	CategoryUserInput   = "user_input"
	CategoryFileRead    = "file_read"
	CategoryEnvironment = "environment"
	CategoryDatabase    = "database"
	CategoryParameter   = "parameter"
	CategoryValidation  = "validation"
)

// Ranks of the sources, from the least to the most specific
const (
	RankParameter = 1
	RankStored    = 2
	RankUserInput = 3
	RankEndpoint  = 4
)

// Rank returns how specific a source is. When several sources explain the same flow, the one of highest rank is
// reported: an endpoint, then a user input, then any other stored value, then a bare parameter.
func Rank(src Record) int {
	if src.Endpoint != nil {
		return RankEndpoint
	}
	switch src.Category {
	case CategoryHTTPRequest:
		return RankEndpoint
	case CategoryUserInput:
		return RankUserInput
	case CategoryParameter:
		return RankParameter
	}
	return RankStored
}

// Endpoint is a structured entry point: requests to Method Path are handled by Handler
type Endpoint struct {
	Method  string
	Path    string
	Handler string
	File    string
	Line    int
	HasAuth bool
}

func (e Endpoint) String() string {
	return e.Method + " " + e.Path
}

// Record is a located source, sink or sanitizer
type Record struct {
	// Pattern is the pattern the record matched, used for classification
	Pattern string
	// Name is the name found in the code (callee, variable or handler)
	Name     string
	Category string
	Language Language
	File     string
	Line     int
	Risk     string
	Kind     Kind
	// Function is the function containing the record, if known
	Function string
	// Args are the argument expressions of a sink call, in index order
	Args []string
	// Parameterized is set on SQL sinks using placeholders
	Parameterized bool
	// Endpoint is set on HTTP entry point sources
	Endpoint *Endpoint
}

func (r Record) String() string {
	return fmt.Sprintf("%s %s at %s:%d", r.Kind, r.Pattern, r.File, r.Line)
}

// Loc returns file:line
func (r Record) Loc() string {
	return fmt.Sprintf("%s:%d", r.File, r.Line)
}

type catalog struct {
	sources    []config.Pattern
	sinks      []config.Pattern
	sanitizers []config.Pattern
	scopes     []config.Pattern
	validators map[string]bool
}

type fileLine struct {
	file string
	line int
}

// Registry is the set of sources, sinks and sanitizers of a run
type Registry struct {
	catalogs   map[Language]*catalog
	safeSinks  []config.Pattern
	validators map[string][]facts.ValidatorUsage
	calls      map[fileLine][]string
	aliases    map[string]map[string]string
	languages  map[string]Language
	sources    []Record
	sinks      []Record
	endpoints  []Endpoint
	window     int
	issues     []string
}

// Build builds the registry of a run. Files whose facts cannot be read are skipped and reported in Issues; failing
// to list the files or the global facts is an error.
func Build(ctx context.Context, store facts.Store, cfg *config.Config, logger *config.LogGroup) (*Registry, error) {
	if logger == nil {
		logger = config.NewNopLogGroup()
	}
	r := &Registry{
		catalogs:   map[Language]*catalog{},
		validators: map[string][]facts.ValidatorUsage{},
		calls:      map[fileLine][]string{},
		aliases:    map[string]map[string]string{},
		languages:  map[string]Language{},
		window:     cfg.ValidatorWindow,
	}
	for _, name := range cfg.LanguageNames() {
		c := cfg.Catalog(name)
		cat := &catalog{
			sources:    c.Sources,
			sinks:      c.Sinks,
			sanitizers: c.Sanitizers,
			scopes:     c.SanitizerScopes,
			validators: map[string]bool{},
		}
		for _, v := range c.ValidatorFrameworks {
			cat.validators[strings.ToLower(v)] = true
		}
		r.catalogs[Language(name)] = cat
	}

	safeSinks, err := store.SafeSinks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read safe sinks: %w", err)
	}
	for _, s := range safeSinks {
		p, err := config.NewPattern(s.Pattern, s.Kind, "")
		if err != nil {
			r.addIssue("safe sink %q: %v", s.Pattern, err)
			continue
		}
		if p.Pattern != "" {
			r.safeSinks = append(r.safeSinks, p)
		}
	}

	validators, err := store.ValidatorUsages(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read validator usages: %w", err)
	}
	for _, v := range validators {
		r.validators[v.File] = append(r.validators[v.File], v)
	}

	endpoints, err := store.Endpoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read endpoints: %w", err)
	}
	for _, e := range endpoints {
		r.endpoints = append(r.endpoints, Endpoint{
			Method:  strings.ToUpper(e.Method),
			Path:    e.Path,
			Handler: e.Handler,
			File:    e.File,
			Line:    e.Line,
			HasAuth: e.HasAuth,
		})
	}

	files, err := store.Files(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ff, err := store.FileFacts(ctx, file)
		if err != nil {
			if !errors.Is(err, facts.ErrUnknownFile) {
				logger.Warnf("skipping %s: %v", file, err)
			}
			r.addIssue("facts of %s: %v", file, err)
			continue
		}
		r.indexFile(ff)
	}
	r.discover()
	logger.Infof("registry: %d sources, %d sinks, %d safe sinks, %d files with validators",
		len(r.sources), len(r.sinks), len(r.safeSinks), len(r.validators))
	if logger.LogsDebug() {
		for _, lang := range r.Languages() {
			logger.Debugf("%s: %d source, %d sink and %d sanitizer patterns", lang,
				len(r.SourcePatterns(lang)), len(r.SinkPatterns(lang)), len(r.SanitizerPatterns(lang)))
		}
	}
	return r, nil
}

func (r *Registry) addIssue(format string, args ...any) {
	r.issues = append(r.issues, fmt.Sprintf(format, args...))
}

// indexFile records the calls, aliases and language of a file, and keeps it for discovery
func (r *Registry) indexFile(ff *facts.FileFacts) {
	lang := Language(strings.ToLower(ff.Language))
	if lang == Unknown {
		lang = LanguageOf(ff.File)
	}
	r.languages[ff.File] = lang
	r.aliases[ff.File] = ff.ImportAliases()
	lines := map[int]bool{}
	for _, a := range ff.CallArgs {
		lines[a.Line] = true
	}
	for _, c := range ff.CallSites {
		lines[c.Line] = true
	}
	for line := range lines {
		if callees := ff.Callees(line); len(callees) > 0 {
			r.calls[fileLine{ff.File, line}] = callees
		}
	}
	d := discovery{r: r, ff: ff, lang: lang}
	d.sources()
	d.sinks()
}

// discover finishes discovery once all the files are indexed
func (r *Registry) discover() {
	for i := range r.endpoints {
		e := &r.endpoints[i]
		risk := "high"
		if e.HasAuth {
			risk = "medium"
		}
		r.sources = append(r.sources, Record{
			Pattern:  e.String(),
			Name:     e.Handler,
			Category: CategoryHTTPRequest,
			Language: r.Language(e.File),
			File:     e.File,
			Line:     e.Line,
			Risk:     risk,
			Kind:     KindSource,
			Function: e.Handler,
			Endpoint: e,
		})
	}
	r.sources = dedupRecords(r.sources)
	r.sinks = FilterFrameworkSafeSinks(dedupRecords(r.sinks), r.safeSinks)
}

func dedupRecords(records []Record) []Record {
	type key struct {
		file, pattern, name string
		line                int
	}
	seen := map[key]bool{}
	res := records[:0]
	for _, rec := range records {
		k := key{rec.File, rec.Pattern, rec.Name, rec.Line}
		if seen[k] {
			continue
		}
		seen[k] = true
		res = append(res, rec)
	}
	sort.SliceStable(res, func(i, j int) bool {
		if res[i].File != res[j].File {
			return res[i].File < res[j].File
		}
		if res[i].Line != res[j].Line {
			return res[i].Line < res[j].Line
		}
		return res[i].Pattern < res[j].Pattern
	})
	return res
}

// Language returns the language of an indexed file, falling back on its extension
func (r *Registry) Language(file string) Language {
	if l, ok := r.languages[file]; ok && l != Unknown {
		return l
	}
	return LanguageOf(file)
}

// Languages returns the languages with a catalog, sorted
func (r *Registry) Languages() []Language {
	langs := maps.Keys(r.catalogs)
	sort.Slice(langs, func(i, j int) bool { return langs[i] < langs[j] })
	return langs
}

func (r *Registry) catalog(lang Language) *catalog {
	if c, ok := r.catalogs[lang]; ok {
		return c
	}
	// TypeScript falls back on the JavaScript catalog when it has none
	if lang == TypeScript {
		if c, ok := r.catalogs[JavaScript]; ok {
			return c
		}
	}
	return &catalog{validators: map[string]bool{}}
}

// SourcePatterns returns the source patterns of the language
func (r *Registry) SourcePatterns(lang Language) []config.Pattern {
	return append([]config.Pattern(nil), r.catalog(lang).sources...)
}

// SinkPatterns returns the sink patterns of the language
func (r *Registry) SinkPatterns(lang Language) []config.Pattern {
	return append([]config.Pattern(nil), r.catalog(lang).sinks...)
}

// SanitizerPatterns returns the sanitizer patterns of the language, followed by the framework safe sinks
func (r *Registry) SanitizerPatterns(lang Language) []config.Pattern {
	res := append([]config.Pattern(nil), r.catalog(lang).sanitizers...)
	return append(res, r.safeSinks...)
}

// Sources returns the discovered sources, sorted by location
func (r *Registry) Sources() []Record {
	return append([]Record(nil), r.sources...)
}

// Sinks returns the discovered sinks, sorted by location, without framework-safe sinks
func (r *Registry) Sinks() []Record {
	return append([]Record(nil), r.sinks...)
}

// Endpoints returns the HTTP entry points
func (r *Registry) Endpoints() []Endpoint {
	return append([]Endpoint(nil), r.endpoints...)
}

// Issues returns the problems met while building the registry
func (r *Registry) Issues() []string {
	return append([]string(nil), r.issues...)
}

// Resolve rewrites the first segment of a call through the import aliases: with import {sanitize as s}, "s"
// resolves to "sanitize", and with import * as lib from "validator", "lib.escape" resolves to "validator.escape".
func Resolve(call string, aliases map[string]string) string {
	if len(aliases) == 0 {
		return call
	}
	head, rest, dotted := strings.Cut(call, ".")
	target, ok := aliases[head]
	if !ok || target == "" {
		return call
	}
	if dotted {
		return target + "." + rest
	}
	return target
}

// IsSanitizer returns true if the call, resolved through the aliases, is a sanitizer of the file's language or a
// framework safe sink. When aliases is nil, the import aliases of the file are used. With a positive line, a
// validation framework used within the validator window of the line also makes the call a sanitizer.
func (r *Registry) IsSanitizer(call, file string, line int, aliases map[string]string) bool {
	if _, ok := r.sanitizerPattern(call, file, aliases); ok {
		return true
	}
	if call == "" || line <= 0 {
		return false
	}
	_, ok := r.validatorNear(file, line)
	return ok
}

func (r *Registry) sanitizerPattern(call, file string, aliases map[string]string) (config.Pattern, bool) {
	if call == "" {
		return config.Pattern{}, false
	}
	if aliases == nil {
		aliases = r.aliases[file]
	}
	resolved := Resolve(call, aliases)
	cat := r.catalog(r.Language(file))
	for _, ps := range [][]config.Pattern{cat.sanitizers, r.safeSinks} {
		for _, p := range ps {
			if p.MatchName(resolved) {
				return p, true
			}
		}
	}
	return config.Pattern{}, false
}

// SanitizerAt returns the sanitizer applied at a location: a sanitizer called at the line, whether the call has
// arguments or not, or a validation framework used in the same file within the validator window. A location without
// a line has neither.
func (r *Registry) SanitizerAt(file string, line int) (Record, bool) {
	if file == "" || line <= 0 {
		return Record{}, false
	}
	for _, callee := range r.calls[fileLine{file, line}] {
		if p, ok := r.sanitizerPattern(callee, file, nil); ok {
			return Record{
				Pattern:  p.Pattern,
				Name:     callee,
				Category: p.Category,
				Language: r.Language(file),
				File:     file,
				Line:     line,
				Kind:     KindSanitizer,
			}, true
		}
	}
	return r.validatorNear(file, line)
}

// validatorNear returns the first validation framework used in the file within the validator window of the line.
// Without a line there is no window, and no validator applies.
func (r *Registry) validatorNear(file string, line int) (Record, bool) {
	if line <= 0 {
		return Record{}, false
	}
	lang := r.Language(file)
	cat := r.catalog(lang)
	for _, v := range r.validators[file] {
		if !knownValidator(v.Framework, cat) || abs(v.Line-line) > r.window {
			continue
		}
		name := v.Framework
		if v.Method != "" {
			name += "." + v.Method
		}
		return Record{
			Pattern:  v.Framework,
			Name:     name,
			Category: CategoryValidation,
			Language: lang,
			File:     file,
			Line:     v.Line,
			Kind:     KindSanitizer,
		}, true
	}
	return Record{}, false
}

var builtinValidators = map[string]bool{"zod": true, "joi": true, "yup": true, "express-validator": true}

func knownValidator(framework string, cat *catalog) bool {
	f := strings.ToLower(framework)
	return builtinValidators[f] || cat.validators[f]
}

// IsSanitizerScope returns true if the function is a validation scope of the file's language, such as
// validateBody: values flowing through it are considered sanitized.
func (r *Registry) IsSanitizerScope(file, function string) bool {
	if function == "" {
		return false
	}
	return config.ExistsPattern(r.catalog(r.Language(file)).scopes, function)
}

// SanitizedHop checks one hop of a flow: the location, the function the hop belongs to, and the calls elided by
// edge compression (via) are all checked.
func (r *Registry) SanitizedHop(file string, line int, function string, via []string) (Record, bool) {
	if rec, ok := r.SanitizerAt(file, line); ok {
		return rec, true
	}
	if r.IsSanitizerScope(file, function) {
		return Record{
			Pattern:  function,
			Name:     function,
			Category: CategoryValidation,
			Language: r.Language(file),
			File:     file,
			Line:     line,
			Kind:     KindSanitizer,
		}, true
	}
	for _, call := range via {
		// the validators near the line were checked with the location
		if !r.IsSanitizer(call, file, 0, nil) {
			continue
		}
		p, _ := r.sanitizerPattern(call, file, nil)
		return Record{
			Pattern:  p.Pattern,
			Name:     call,
			Category: p.Category,
			Language: r.Language(file),
			File:     file,
			Line:     line,
			Kind:     KindSanitizer,
		}, true
	}
	return Record{}, false
}

// EndpointHandlers returns the endpoints that name their handler function
func (r *Registry) EndpointHandlers() []Endpoint {
	var res []Endpoint
	for _, e := range r.endpoints {
		if e.Handler != "" {
			res = append(res, e)
		}
	}
	return res
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
