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

// Package analysistest loads the annotated scenarios of the testdata directory. A scenario is a directory with the
// fact snapshot of a small program (facts.json), the program itself with annotated sources and sinks, and an optional
// config.yaml.
package analysistest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/awslabs/argot-taint/analysis/config"
	"github.com/awslabs/argot-taint/analysis/dataflow"
	"github.com/awslabs/argot-taint/analysis/facts"
	"github.com/awslabs/argot-taint/analysis/flowgraph"
)

// LoadTest loads the snapshot and the config of the scenario in dir. Without config.yaml, the default config with
// the seed catalog is used.
func LoadTest(t *testing.T, dir string) (*facts.Snapshot, *config.Config) {
	t.Helper()
	f, err := os.Open(filepath.Join(dir, "facts.json"))
	if err != nil {
		t.Fatalf("error opening facts of %s: %v", dir, err)
	}
	defer f.Close()
	snap, err := facts.ReadSnapshot(f)
	if err != nil {
		t.Fatalf("error loading facts of %s: %v", dir, err)
	}

	configFile := filepath.Join(dir, "config.yaml")
	var cfg *config.Config
	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		cfg, err = config.NewWithCatalog()
		if err != nil {
			t.Fatalf("error loading default config: %v", err)
		}
	} else {
		config.SetGlobalConfig(configFile)
		cfg, err = config.LoadGlobal()
		if err != nil {
			t.Fatalf("error loading config %s: %v", configFile, err)
		}
	}
	return snap, cfg
}

// LoadState loads the scenario in dir and builds the analyzer state of a run over it
func LoadState(t *testing.T, dir string) *dataflow.AnalyzerState {
	t.Helper()
	snap, cfg := LoadTest(t, dir)
	state, err := dataflow.NewAnalyzerState(context.Background(), cfg, config.NewNopLogGroup(), snap,
		flowgraph.NewSnapshotStore(snap))
	if err != nil {
		t.Fatalf("error building analyzer state for %s: %v", dir, err)
	}
	return state
}

// SourceRegex matches annotations of the form "@Source(id1, id2, id3)" in // or # comments
var SourceRegex = regexp.MustCompile(`(?://|#).*@Source\(((?:\s*\w+\s*,?)+)\)`)

// SinkRegex matches annotations of the form "@Sink(id1, id2, id3)" in // or # comments
var SinkRegex = regexp.MustCompile(`(?://|#).*@Sink\(((?:\s*\w+\s*,?)+)\)`)

// LPos is a position without column
type LPos struct {
	Filename string
	Line     int
}

func (p LPos) String() string {
	return fmt.Sprintf("%s:%d", p.Filename, p.Line)
}

var annotatedExtensions = map[string]bool{".js": true, ".jsx": true, ".ts": true, ".tsx": true, ".py": true}

// GetExpectedSourceToSink reads the annotated programs of dir and returns the expected flows, as a map from sink
// positions to the source positions reaching them. File names are relative to dir.
func GetExpectedSourceToSink(dir string) (map[LPos]map[LPos]bool, error) {
	sources := map[string][]LPos{}
	sinks := map[string][]LPos{}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !annotatedExtensions[filepath.Ext(path)] {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		return scanAnnotations(path, filepath.ToSlash(rel), sources, sinks)
	})
	if err != nil {
		return nil, err
	}

	source2sink := map[LPos]map[LPos]bool{}
	for id, sinkPositions := range sinks {
		for _, sink := range sinkPositions {
			for _, source := range sources[id] {
				if source2sink[sink] == nil {
					source2sink[sink] = map[LPos]bool{}
				}
				source2sink[sink][source] = true
			}
		}
	}
	return source2sink, nil
}

func scanAnnotations(path, name string, sources, sinks map[string][]LPos) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		pos := LPos{Filename: name, Line: line}
		if a := SourceRegex.FindStringSubmatch(text); len(a) > 1 {
			for _, id := range strings.Split(a[1], ",") {
				sources[strings.TrimSpace(id)] = append(sources[strings.TrimSpace(id)], pos)
			}
		}
		if a := SinkRegex.FindStringSubmatch(text); len(a) > 1 {
			for _, id := range strings.Split(a[1], ",") {
				sinks[strings.TrimSpace(id)] = append(sinks[strings.TrimSpace(id)], pos)
			}
		}
	}
	return scanner.Err()
}

// FoundSourceToSink returns the flows of the rows with the status, in the format of GetExpectedSourceToSink
func FoundSourceToSink(rows []dataflow.Row, status dataflow.Status) map[LPos]map[LPos]bool {
	res := map[LPos]map[LPos]bool{}
	for _, r := range rows {
		if r.Status != status {
			continue
		}
		sink := LPos{Filename: r.Sink.File, Line: r.Sink.Line}
		if res[sink] == nil {
			res[sink] = map[LPos]bool{}
		}
		res[sink][LPos{Filename: r.Source.File, Line: r.Source.Line}] = true
	}
	return res
}

// ScenarioDir returns the directory of a scenario, relative to a package of the analysis directory
func ScenarioDir(name string) string {
	return filepath.Join("..", "..", "testdata", "src", "scenarios", name)
}
