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

package facts

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"io"
	"sort"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

const snapshotSchemaURL = "https://github.com/awslabs/argot-taint/snapshot.schema.json"

var (
	//go:embed snapshot.schema.json
	snapshotSchemaJSON []byte

	snapshotSchemaOnce sync.Once
	snapshotSchema     *jsonschema.Schema
	snapshotSchemaErr  error

	json = jsoniter.ConfigCompatibleWithStandardLibrary
)

// snapshotDocument is the JSON layout of a snapshot file
type snapshotDocument struct {
	Files           []FileFacts         `json:"files"`
	Endpoints       []Endpoint          `json:"endpoints"`
	SafeSinks       []SafeSink          `json:"safe_sinks"`
	ValidatorUsages []ValidatorUsage    `json:"validator_usages"`
	FileAliases     map[string]string   `json:"file_aliases"`
	Graph           jsoniter.RawMessage `json:"graph"`
}

// Snapshot is an in-memory Store loaded from a JSON document. The document may also carry the flow graph under the
// "graph" key, which is kept undecoded and returned by GraphJSON.
type Snapshot struct {
	files           map[string]*FileFacts
	names           []string
	endpoints       []Endpoint
	safeSinks       []SafeSink
	validatorUsages []ValidatorUsage
	fileAliases     map[string]string
	graph           []byte
}

// ReadSnapshot reads and validates a snapshot from r
func ReadSnapshot(r io.Reader) (*Snapshot, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("could not read snapshot: %w", err)
	}
	return ParseSnapshot(b)
}

// ParseSnapshot validates the document b against the snapshot schema and decodes it
func ParseSnapshot(b []byte) (*Snapshot, error) {
	if err := ValidateSnapshot(b); err != nil {
		return nil, err
	}
	var doc snapshotDocument
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("could not decode snapshot: %w", err)
	}
	return NewSnapshot(doc.Files, doc.Endpoints, doc.SafeSinks, doc.ValidatorUsages, doc.FileAliases, doc.Graph), nil
}

// NewSnapshot builds a snapshot from facts already in memory. Facts of the same file are merged.
func NewSnapshot(files []FileFacts, endpoints []Endpoint, safeSinks []SafeSink, validators []ValidatorUsage,
	aliases map[string]string, graph []byte) *Snapshot {
	s := &Snapshot{
		files:           make(map[string]*FileFacts, len(files)),
		endpoints:       endpoints,
		safeSinks:       safeSinks,
		validatorUsages: validators,
		fileAliases:     aliases,
		graph:           graph,
	}
	if s.fileAliases == nil {
		s.fileAliases = map[string]string{}
	}
	for i := range files {
		ff := files[i]
		if prev, ok := s.files[ff.File]; ok {
			prev.merge(&ff)
			continue
		}
		s.files[ff.File] = &ff
		s.names = append(s.names, ff.File)
	}
	sort.Strings(s.names)
	return s
}

func (ff *FileFacts) merge(other *FileFacts) {
	if ff.Language == "" {
		ff.Language = other.Language
	}
	ff.Symbols = append(ff.Symbols, other.Symbols...)
	ff.Functions = append(ff.Functions, other.Functions...)
	ff.CallArgs = append(ff.CallArgs, other.CallArgs...)
	ff.CallSites = append(ff.CallSites, other.CallSites...)
	ff.Assignments = append(ff.Assignments, other.Assignments...)
	ff.Usages = append(ff.Usages, other.Usages...)
	ff.CFGBlocks = append(ff.CFGBlocks, other.CFGBlocks...)
	ff.CFGEdges = append(ff.CFGEdges, other.CFGEdges...)
	ff.Imports = append(ff.Imports, other.Imports...)
	ff.SQLQueries = append(ff.SQLQueries, other.SQLQueries...)
	ff.NoSQLQueries = append(ff.NoSQLQueries, other.NoSQLQueries...)
	ff.EnvAccesses = append(ff.EnvAccesses, other.EnvAccesses...)
}

// ValidateSnapshot checks that the document b conforms to the snapshot schema
func ValidateSnapshot(b []byte) error {
	snapshotSchemaOnce.Do(func() {
		schemaDoc, err := jsonschema.UnmarshalJSON(bytes.NewReader(snapshotSchemaJSON))
		if err != nil {
			snapshotSchemaErr = fmt.Errorf("error unmarshaling snapshot schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(snapshotSchemaURL, schemaDoc); err != nil {
			snapshotSchemaErr = fmt.Errorf("compile snapshot schema: %w", err)
			return
		}
		snapshotSchema, snapshotSchemaErr = compiler.Compile(snapshotSchemaURL)
	})
	if snapshotSchemaErr != nil {
		return snapshotSchemaErr
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("snapshot is not valid JSON: %w", err)
	}
	if err := snapshotSchema.Validate(inst); err != nil {
		return fmt.Errorf("invalid snapshot: %w", err)
	}
	return nil
}

// GraphJSON returns the undecoded "graph" member of the snapshot document, or nil
func (s *Snapshot) GraphJSON() []byte {
	return s.graph
}

// Files implements Store
func (s *Snapshot) Files(context.Context) ([]string, error) {
	return append([]string(nil), s.names...), nil
}

// FileFacts implements Store
func (s *Snapshot) FileFacts(_ context.Context, file string) (*FileFacts, error) {
	ff, ok := s.files[file]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFile, file)
	}
	return ff, nil
}

// Endpoints implements Store
func (s *Snapshot) Endpoints(context.Context) ([]Endpoint, error) {
	return s.endpoints, nil
}

// SafeSinks implements Store
func (s *Snapshot) SafeSinks(context.Context) ([]SafeSink, error) {
	return s.safeSinks, nil
}

// ValidatorUsages implements Store
func (s *Snapshot) ValidatorUsages(context.Context) ([]ValidatorUsage, error) {
	return s.validatorUsages, nil
}

// FileAliases implements Store
func (s *Snapshot) FileAliases(context.Context) (map[string]string, error) {
	return s.fileAliases, nil
}
