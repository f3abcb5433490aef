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

package config

import (
	"embed"
	"os"
	"path/filepath"
	"testing"
)

//go:embed testdata
var testfsys embed.FS

func loadFromTestDir(t *testing.T, filename string) *Config {
	name := filepath.Join("testdata", filename)
	b, err := testfsys.ReadFile(name)
	if err != nil {
		t.Fatalf("failed to read file %s: %v", name, err)
	}
	cfg, err := LoadFromBytes(name, b)
	if err != nil {
		t.Fatalf("failed to load config %s: %v", name, err)
	}
	return cfg
}

func TestNewDefault(t *testing.T) {
	c := NewDefault()
	if c.MaxDepth != 20 || c.MaxEffort != 25000 || c.AccessPathBound != 8 || c.CallStringLength != 2 {
		t.Errorf("unexpected default options: %+v", c.Options)
	}
	if c.SourceMatchRadius != 3 || c.MaxPathsPerSink != 100 || c.ValidatorWindow != 10 {
		t.Errorf("unexpected default options: %+v", c.Options)
	}
	if len(c.Languages) != 0 {
		t.Errorf("default config should not have catalogs")
	}
}

func TestLoadOptions(t *testing.T) {
	c := loadFromTestDir(t, "config.yaml")
	if c.LogLevel != int(DebugLevel) {
		t.Errorf("expected log level %d, got %d", DebugLevel, c.LogLevel)
	}
	if c.MaxDepth != 15 || c.CallStringLength != 3 || c.Workers != 2 {
		t.Errorf("options not loaded: %+v", c.Options)
	}
	// unset options keep their defaults
	if c.MaxEffort != DefaultMaxEffort || c.AccessPathBound != DefaultAccessPathBound {
		t.Errorf("unset options lost their default: %+v", c.Options)
	}
	if !c.Verbose() {
		t.Errorf("debug level config should be verbose")
	}
	if c.SourceFile() != filepath.Join("testdata", "config.yaml") {
		t.Errorf("unexpected source file %q", c.SourceFile())
	}
}

func TestLoadMergesCatalog(t *testing.T) {
	c := loadFromTestDir(t, "config.yaml")
	js := c.Catalog("javascript")
	if !ExistsPattern(js.Sinks, "res.send") {
		t.Errorf("seed sink res.send missing from javascript catalog")
	}
	if !ExistsPattern(js.Sinks, "view.renderUnsafe") {
		t.Errorf("user sink renderUnsafe missing from javascript catalog")
	}
	if last := js.Sinks[len(js.Sinks)-1]; last.Pattern != "renderUnsafe" || last.Risk != "high" {
		t.Errorf("user patterns should be appended after the seeds, got %+v", last)
	}
	if !ExistsPattern(js.Sanitizers, "cleanInput") || !ExistsPattern(js.Sanitizers, "escapeQuotes") {
		t.Errorf("user sanitizers not loaded")
	}
	if ExistsPattern(js.Sanitizers, "unescapeQuotes") {
		t.Errorf("regex sanitizer should match the whole name")
	}
	// language names are case-insensitive
	if !ExistsPattern(c.Catalog("KOTLIN").Sources, "call.receiveText") {
		t.Errorf("kotlin catalog not loaded")
	}
	names := c.LanguageNames()
	if len(names) < 7 || names[0] != "go" {
		t.Errorf("unexpected languages %v", names)
	}
}

func TestLoadWithoutDefaultCatalog(t *testing.T) {
	c := loadFromTestDir(t, "no-catalog.yaml")
	if len(c.Languages) != 1 {
		t.Errorf("expected only the python catalog, got %v", c.LanguageNames())
	}
	if c.MaxEffort != DefaultMaxEffort {
		t.Errorf("non-positive max-effort should be reset to the default, got %d", c.MaxEffort)
	}
	if !ExistsPattern(c.Catalog("python").Sinks, "self.cursor.execute") {
		t.Errorf("python sink not loaded")
	}
}

func TestLoadBadRegex(t *testing.T) {
	b, err := testfsys.ReadFile("testdata/bad-regex.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromBytes("bad-regex.yaml", b); err == nil {
		t.Errorf("expected an error for an invalid regex pattern")
	}
}

func TestLoadFile(t *testing.T) {
	b, err := testfsys.ReadFile("testdata/config.yaml")
	if err != nil {
		t.Fatal(err)
	}
	name := filepath.Join(t.TempDir(), "argot.yaml")
	if err := os.WriteFile(name, b, 0600); err != nil {
		t.Fatal(err)
	}
	SetGlobalConfig(name)
	c, err := LoadGlobal()
	if err != nil {
		t.Fatalf("failed to load global config: %v", err)
	}
	if c.MaxDepth != 15 {
		t.Errorf("global config not loaded")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Errorf("expected an error for a missing file")
	}
}

func TestNewWithCatalog(t *testing.T) {
	c, err := NewWithCatalog()
	if err != nil {
		t.Fatalf("could not load the seed catalog: %v", err)
	}
	for _, lang := range []string{"javascript", "typescript", "python", "go", "java", "php"} {
		cat := c.Catalog(lang)
		if len(cat.Sources) == 0 || len(cat.Sinks) == 0 || len(cat.Sanitizers) == 0 {
			t.Errorf("seed catalog of %s is incomplete", lang)
		}
	}
}

func TestExceedsMaxDepth(t *testing.T) {
	c := NewDefault()
	if c.ExceedsMaxDepth(20) || !c.ExceedsMaxDepth(21) {
		t.Errorf("max depth 20 should admit 20 and reject 21")
	}
	c.MaxDepth = 0
	if c.ExceedsMaxDepth(1000) {
		t.Errorf("max depth 0 should not bound the depth")
	}
	if c.ExceedsBackwardMaxDepth(10) || !c.ExceedsBackwardMaxDepth(11) {
		t.Errorf("backward max depth 10 should admit 10 and reject 11")
	}
}
