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
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/awslabs/argot-taint/internal/funcutil"
	"gopkg.in/yaml.v3"
)

var (
	// The global config file
	configFile string

	//go:embed default_catalog.yaml
	defaultCatalogYaml []byte
)

// SetGlobalConfig sets the global config filename
func SetGlobalConfig(filename string) {
	configFile = filename
}

// LoadGlobal loads the config file that has been set by SetGlobalConfig
func LoadGlobal() (*Config, error) {
	return Load(configFile)
}

// Config contains the options of the taint analysis and the per-language pattern catalogs.
// If some field is not defined in the config file, it will be empty/zero in the struct.
// private fields are not populated from a yaml file, but computed after initialization
type Config struct {
	Options `yaml:"options"`

	sourceFile string

	// Languages maps a language name (javascript, python, ...) to its catalog. After loading, the catalogs contain
	// the seed patterns of the default catalog followed by the patterns of the config file.
	Languages map[string]Catalog `yaml:"languages"`
}

// Catalog is the set of patterns for one language
type Catalog struct {
	// Sources are patterns for values that originate from an untrusted entry point
	Sources []Pattern `yaml:"sources"`

	// Sinks are patterns for security-sensitive operations
	Sinks []Pattern `yaml:"sinks"`

	// Sanitizers are patterns for calls that neutralize tainted data
	Sanitizers []Pattern `yaml:"sanitizers"`

	// ValidatorFrameworks are the names of validation libraries (zod, joi, ...) whose usage sanitizes the data
	// validated nearby
	ValidatorFrameworks []string `yaml:"validator-frameworks"`

	// SanitizerScopes are function names that sanitize the data flowing through them (e.g. validateBody)
	SanitizerScopes []Pattern `yaml:"sanitizer-scopes"`
}

// Options holds the global options of the analyses
type Options struct {
	// LogLevel controls the verbosity of the tool
	LogLevel int `yaml:"log-level"`

	// LogFile is an optional path to a file receiving JSON logs, rotated when it grows too large
	LogFile string `yaml:"log-file"`

	// MaxDepth is the maximum number of hops of a forward path
	MaxDepth int `yaml:"max-depth"`

	// MaxEffort is the maximum number of states expanded by one traversal: from one source forward, or from one sink
	// backward
	MaxEffort int `yaml:"max-effort"`

	// DepthBucket is the granularity of the depth component of forward visited keys
	DepthBucket int `yaml:"depth-bucket"`

	// BackwardMaxDepth is the maximum number of hops of a backward path
	BackwardMaxDepth int `yaml:"backward-max-depth"`

	// AccessPathBound is the maximum number of fields kept in an access path
	AccessPathBound int `yaml:"access-path-bound"`

	// CallStringLength is the number of call sites kept in a backward calling context
	CallStringLength int `yaml:"call-string-length"`

	// SourceMatchRadius is the number of hops the backward analyzer keeps searching after a first source match
	SourceMatchRadius int `yaml:"source-match-radius"`

	// MaxPathsPerSink bounds the number of paths recorded for a single sink
	MaxPathsPerSink int `yaml:"max-paths-per-sink"`

	// ValidatorWindow is the number of lines around a validator call within which data is considered validated
	ValidatorWindow int `yaml:"validator-window"`

	// Workers is the size of the worker pool. 0 means one worker per CPU
	Workers int `yaml:"workers"`

	// FactCacheSize is the number of files whose facts are kept in memory
	FactCacheSize int `yaml:"fact-cache-size"`

	// MaxAlarms bounds the number of vulnerabilities reported. 0 means no bound
	MaxAlarms int `yaml:"max-alarms"`

	// SilenceWarn suppresses warnings
	SilenceWarn bool `yaml:"silence-warn"`

	// NoDefaultCatalog disables the embedded seed catalog
	NoDefaultCatalog bool `yaml:"no-default-catalog"`
}

// NewDefault returns a default config, without any catalog.
func NewDefault() *Config {
	return &Config{
		sourceFile: "",
		Languages:  map[string]Catalog{},
		Options: Options{
			LogLevel:          int(InfoLevel),
			LogFile:           "",
			MaxDepth:          DefaultMaxDepth,
			MaxEffort:         DefaultMaxEffort,
			DepthBucket:       DefaultDepthBucket,
			BackwardMaxDepth:  DefaultBackwardMaxDepth,
			AccessPathBound:   DefaultAccessPathBound,
			CallStringLength:  DefaultCallStringLength,
			SourceMatchRadius: DefaultSourceMatchRadius,
			MaxPathsPerSink:   DefaultMaxPathsPerSink,
			ValidatorWindow:   DefaultValidatorWindow,
			Workers:           0,
			FactCacheSize:     DefaultFactCacheSize,
			MaxAlarms:         0,
			SilenceWarn:       false,
		},
	}
}

// Default values of the options
const (
	DefaultMaxDepth          = 20
	DefaultMaxEffort         = 25000
	DefaultDepthBucket       = 4
	DefaultBackwardMaxDepth  = 10
	DefaultAccessPathBound   = 8
	DefaultCallStringLength  = 2
	DefaultSourceMatchRadius = 3
	DefaultMaxPathsPerSink   = 100
	DefaultValidatorWindow   = 10
	DefaultFactCacheSize     = 256
)

// NewWithCatalog returns the default config with the embedded seed catalog
func NewWithCatalog() (*Config, error) {
	cfg := NewDefault()
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads a configuration from a file
func Load(filename string) (*Config, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("could not read config file: %w", err)
	}
	return LoadFromBytes(filename, b)
}

// LoadFromBytes reads a configuration from its contents. The name is recorded as the config's source file.
func LoadFromBytes(name string, b []byte) (*Config, error) {
	cfg := NewDefault()
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("could not unmarshal config file %s: %w", name, err)
	}
	cfg.sourceFile = name
	if err := cfg.finish(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", name, err)
	}
	return cfg, nil
}

// finish sets the defaults of unset options, merges the seed catalog and compiles the regex patterns.
func (c *Config) finish() error {
	// If logLevel has not been specified (i.e. it is 0) set the default to Info
	if c.LogLevel == 0 {
		c.LogLevel = int(InfoLevel)
	}
	setIfNonPositive(&c.MaxDepth, DefaultMaxDepth)
	setIfNonPositive(&c.MaxEffort, DefaultMaxEffort)
	setIfNonPositive(&c.DepthBucket, DefaultDepthBucket)
	setIfNonPositive(&c.BackwardMaxDepth, DefaultBackwardMaxDepth)
	setIfNonPositive(&c.AccessPathBound, DefaultAccessPathBound)
	setIfNonPositive(&c.CallStringLength, DefaultCallStringLength)
	setIfNonPositive(&c.MaxPathsPerSink, DefaultMaxPathsPerSink)
	setIfNonPositive(&c.FactCacheSize, DefaultFactCacheSize)
	if c.SourceMatchRadius < 0 {
		c.SourceMatchRadius = DefaultSourceMatchRadius
	}
	if c.ValidatorWindow < 0 {
		c.ValidatorWindow = DefaultValidatorWindow
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", c.Workers)
	}

	user := c.Languages
	c.Languages = map[string]Catalog{}
	if !c.NoDefaultCatalog {
		seeds := map[string]Catalog{}
		if err := yaml.Unmarshal(defaultCatalogYaml, &seeds); err != nil {
			return fmt.Errorf("could not read default catalog: %w", err)
		}
		for lang, cat := range seeds {
			c.Languages[strings.ToLower(lang)] = cat
		}
	}
	for lang, cat := range user {
		lang = strings.ToLower(lang)
		c.Languages[lang] = c.Languages[lang].merge(cat)
	}

	for lang, cat := range c.Languages {
		for _, patterns := range [][]Pattern{cat.Sources, cat.Sinks, cat.Sanitizers, cat.SanitizerScopes} {
			if err := compileAll(patterns); err != nil {
				return fmt.Errorf("language %s: %w", lang, err)
			}
		}
		cat.ValidatorFrameworks = funcutil.Dedup(cat.ValidatorFrameworks)
		c.Languages[lang] = cat
	}
	return nil
}

func setIfNonPositive(x *int, def int) {
	if *x <= 0 {
		*x = def
	}
}

func (cat Catalog) merge(other Catalog) Catalog {
	return Catalog{
		Sources:             append(append([]Pattern{}, cat.Sources...), other.Sources...),
		Sinks:               append(append([]Pattern{}, cat.Sinks...), other.Sinks...),
		Sanitizers:          append(append([]Pattern{}, cat.Sanitizers...), other.Sanitizers...),
		ValidatorFrameworks: append(append([]string{}, cat.ValidatorFrameworks...), other.ValidatorFrameworks...),
		SanitizerScopes:     append(append([]Pattern{}, cat.SanitizerScopes...), other.SanitizerScopes...),
	}
}

// Catalog returns the catalog of the language, and an empty catalog if the language is unknown.
func (c Config) Catalog(lang string) Catalog {
	return c.Languages[strings.ToLower(lang)]
}

// LanguageNames returns the names of the languages with a catalog, in sorted order
func (c Config) LanguageNames() []string {
	return funcutil.SortedKeys(c.Languages)
}

// SourceFile returns the name of the file the config was loaded from, if any
func (c Config) SourceFile() string {
	return c.sourceFile
}

// Verbose returns true is the configuration verbosity setting is larger than Info (i.e. Debug or Trace)
func (c Config) Verbose() bool {
	return c.LogLevel >= int(DebugLevel)
}

// ExceedsMaxDepth returns true if the input exceeds the maximum depth parameter of the configuration.
// (this implements the logic for using maximum depth; if the configuration setting is <= 0, then this returns false)
func (c Config) ExceedsMaxDepth(d int) bool {
	if c.MaxDepth <= 0 {
		return false
	}
	return d > c.MaxDepth
}

// ExceedsBackwardMaxDepth is the backward counterpart of ExceedsMaxDepth
func (c Config) ExceedsBackwardMaxDepth(d int) bool {
	if c.BackwardMaxDepth <= 0 {
		return false
	}
	return d > c.BackwardMaxDepth
}
