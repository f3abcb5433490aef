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
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// RegexPrefix marks a pattern that is compiled as a regular expression
const RegexPrefix = "re:"

// Pattern identifies a code element (a call, a property access, a function) by name. A pattern can be written in the
// config file either as a plain string or as a mapping with the fields below.
//
// Plain patterns match names on dotted-segment boundaries: "send" matches "res.send" but not "resend". Patterns
// starting with "re:" are regular expressions matched against the whole name.
type Pattern struct {
	Pattern  string `yaml:"pattern"`
	Category string `yaml:"category"`
	Risk     string `yaml:"risk"`

	// This will not be part of the yaml config
	computedRegex *regexp.Regexp
}

// UnmarshalYAML accepts both the scalar and the mapping form of a pattern
func (p *Pattern) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		p.Pattern = value.Value
		return nil
	}
	type plain struct {
		Pattern  string `yaml:"pattern"`
		Category string `yaml:"category"`
		Risk     string `yaml:"risk"`
	}
	var x plain
	if err := value.Decode(&x); err != nil {
		return err
	}
	p.Pattern, p.Category, p.Risk = x.Pattern, x.Category, x.Risk
	return nil
}

// NewPattern returns a compiled pattern. It returns an error if the pattern is a regex that does not compile.
func NewPattern(pattern, category, risk string) (Pattern, error) {
	p := Pattern{Pattern: pattern, Category: category, Risk: risk}
	if err := p.compile(); err != nil {
		return Pattern{}, err
	}
	return p, nil
}

// MustPattern is NewPattern for patterns known to be valid
func MustPattern(pattern, category, risk string) Pattern {
	p, err := NewPattern(pattern, category, risk)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Pattern) compile() error {
	if !p.IsRegex() {
		return nil
	}
	r, err := regexp.Compile(strings.TrimPrefix(p.Pattern, RegexPrefix))
	if err != nil {
		return fmt.Errorf("pattern %q: %w", p.Pattern, err)
	}
	p.computedRegex = r
	return nil
}

func compileAll(patterns []Pattern) error {
	for i := range patterns {
		if err := patterns[i].compile(); err != nil {
			return err
		}
	}
	return nil
}

// IsRegex returns true when the pattern is a regular expression
func (p Pattern) IsRegex() bool {
	return strings.HasPrefix(p.Pattern, RegexPrefix)
}

// MatchName returns true if the name matches the pattern. A plain pattern must equal the name, or a run of
// consecutive dotted segments of the name.
func (p Pattern) MatchName(name string) bool {
	if name == "" || p.Pattern == "" {
		return false
	}
	if p.IsRegex() {
		if p.computedRegex == nil {
			return false
		}
		return p.computedRegex.MatchString(name)
	}
	return MatchSegments(p.Pattern, name)
}

// MatchSegments returns true if pattern equals name or a run of consecutive dot-separated segments of name.
func MatchSegments(pattern, name string) bool {
	if pattern == name {
		return true
	}
	if len(pattern) >= len(name) {
		return false
	}
	return strings.HasSuffix(name, "."+pattern) ||
		strings.HasPrefix(name, pattern+".") ||
		strings.Contains(name, "."+pattern+".")
}

// ExistsPattern is true if some pattern in ps matches the name.
func ExistsPattern(ps []Pattern, name string) bool {
	for _, p := range ps {
		if p.MatchName(name) {
			return true
		}
	}
	return false
}

func (p Pattern) String() string {
	return p.Pattern
}
