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
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/awslabs/argot-taint/analysis/config"
	"github.com/awslabs/argot-taint/analysis/exprparse"
	"github.com/awslabs/argot-taint/analysis/facts"
	"github.com/awslabs/argot-taint/analysis/flowgraph"
	"github.com/awslabs/argot-taint/analysis/registry"
	"github.com/google/uuid"
)

// AnalyzerState holds the information shared by the analyses of a run. Everything except the error map is read-only
// once NewAnalyzerState returns, and can be shared between workers.
type AnalyzerState struct {
	// RunID identifies the run; results written back are tagged with it
	RunID string

	// The logger used during the analysis
	Logger *config.LogGroup

	// The configuration of the analysis
	Config *config.Config

	// Facts is the fact store, behind a bounded cache
	Facts *facts.Cache

	// CFGs serves the control-flow graphs of functions
	CFGs *facts.CFGIndex

	// Graph is the data-flow graph
	Graph *flowgraph.Graph

	// Calls is the call graph derived from Graph
	Calls *flowgraph.Calls

	// Registry holds the sources, sinks and sanitizers of the run
	Registry *registry.Registry

	// Parser extracts the names referenced by expressions
	Parser *exprparse.Parser

	// EntryScopes are the function keys of the endpoint handlers, and of the functions they reach in the call graph
	EntryScopes map[string]bool

	// HandlerScopes maps the function keys of endpoint handlers to their endpoint
	HandlerScopes map[string]registry.Endpoint

	nodesByFile map[string][]flowgraph.Handle

	// errors contains the errors encountered during the run, by key (source, sink, file...)
	errors     map[string][]error
	errorMutex sync.Mutex
}

// NewAnalyzerState loads the graph and builds the registry of a run. Failures to read the stores are returned;
// problems with individual facts are logged and do not prevent the state from being built.
func NewAnalyzerState(ctx context.Context, cfg *config.Config, logger *config.LogGroup, store facts.Store,
	graphStore flowgraph.Store) (*AnalyzerState, error) {
	if cfg == nil {
		cfg = config.NewDefault()
	}
	if logger == nil {
		logger = config.NewNopLogGroup()
	}
	state := &AnalyzerState{
		RunID:         uuid.NewString(),
		Logger:        logger,
		Config:        cfg,
		Facts:         facts.NewCache(store, cfg.FactCacheSize),
		Parser:        exprparse.New(exprparse.DefaultMemoSize),
		EntryScopes:   map[string]bool{},
		HandlerScopes: map[string]registry.Endpoint{},
		nodesByFile:   map[string][]flowgraph.Handle{},
		errors:        map[string][]error{},
	}

	start := time.Now()
	g, err := graphStore.LoadGraph(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load flow graph: %w", err)
	}
	for _, issue := range g.Issues() {
		logger.Warnf("flow graph: %s", issue)
	}
	state.Graph = g
	state.Calls = flowgraph.BuildCalls(g)
	for h := flowgraph.Handle(0); int(h) < g.NumNodes(); h++ {
		f := g.Node(h).File
		state.nodesByFile[f] = append(state.nodesByFile[f], h)
	}
	logger.Infof("Loaded graph: %d nodes, %d edges, %d functions in the call graph (%.2f s)", g.NumNodes(),
		g.NumEdges(), len(state.Calls.Functions()), time.Since(start).Seconds())

	state.CFGs, err = facts.NewCFGIndex(ctx, state.Facts)
	if err != nil {
		return nil, fmt.Errorf("failed to read file aliases: %w", err)
	}

	state.Registry, err = registry.Build(ctx, state.Facts, cfg, logger.Named("registry"))
	if err != nil {
		return nil, fmt.Errorf("failed to build registry: %w", err)
	}

	state.computeEntryScopes()
	if recursive := state.Calls.RecursiveFunctions(); len(recursive) > 0 {
		logger.Debugf("%d recursive functions", len(recursive))
		if logger.LogsTrace() {
			for _, cycle := range state.Calls.RecursiveCycles(maxLoggedCycles) {
				logger.Tracef("recursive calls: %v", cycle)
			}
		}
	}
	return state, nil
}

// maxLoggedCycles bounds the recursive call cycles logged at trace level
const maxLoggedCycles = 64

// computeEntryScopes marks the handlers of the endpoints and everything they reach in the call graph. A handler is
// found by its key, or by the functions of the call graph with the same name in the handler's file when the handler
// is a member expression (router.get("/", controller.list)).
func (s *AnalyzerState) computeEntryScopes() {
	var roots []string
	for _, e := range s.Registry.EndpointHandlers() {
		name := exprparse.Last(e.Handler)
		for _, key := range []string{flowgraph.FunctionKey(e.File, e.Handler), flowgraph.FunctionKey(e.File, name)} {
			if _, ok := s.HandlerScopes[key]; !ok {
				s.HandlerScopes[key] = e
				roots = append(roots, key)
			}
		}
	}
	for fn := range s.Calls.ReachableFrom(roots) {
		s.EntryScopes[fn] = true
	}
}

// AddError adds an error with key to the state. Thread-safe.
func (s *AnalyzerState) AddError(key string, e error) {
	s.errorMutex.Lock()
	defer s.errorMutex.Unlock()
	if e != nil {
		s.errors[key] = append(s.errors[key], e)
	}
}

// CheckError checks whether there is an error in the state, and if there is, returns the errors of the first key it
// encounters and deletes them.
func (s *AnalyzerState) CheckError() []error {
	s.errorMutex.Lock()
	defer s.errorMutex.Unlock()
	for e, errs := range s.errors {
		delete(s.errors, e)
		return errs
	}
	return nil
}

// HasErrors returns true if the state has an error. Unlike [*AnalyzerState.CheckError], this is non-destructive.
func (s *AnalyzerState) HasErrors() bool {
	s.errorMutex.Lock()
	defer s.errorMutex.Unlock()
	for _, errs := range s.errors {
		if len(errs) > 0 {
			return true
		}
	}
	return false
}

// Errors returns all the errors of the state joined in one error, ordered by key. It returns nil if there is none.
func (s *AnalyzerState) Errors() error {
	s.errorMutex.Lock()
	defer s.errorMutex.Unlock()
	keys := make([]string, 0, len(s.errors))
	for k := range s.errors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var all []error
	for _, k := range keys {
		for _, e := range s.errors[k] {
			all = append(all, fmt.Errorf("%s: %w", k, e))
		}
	}
	return errors.Join(all...)
}

// Lang returns the language name of the file, as understood by the expression parser
func (s *AnalyzerState) Lang(file string) string {
	return string(s.Registry.Language(file))
}
