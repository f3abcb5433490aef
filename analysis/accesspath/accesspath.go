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

// Package accesspath implements access paths: the identity of a value as a base variable in a scope, followed by a
// chain of field accesses. Access paths have a bounded number of fields; longer chains are truncated and marked.
//
// An access path is parsed from a flow graph node id of the form file::scope::name, where name is a dotted chain
// such as req.body.name. All operations return new values.
package accesspath

import (
	"errors"
	"fmt"
	"strings"
)

// ModuleScope is the scope of names that are not declared inside a function
const ModuleScope = "<module>"

// DefaultBound is the default maximum number of fields of an access path
const DefaultBound = 8

// ErrMalformed is returned when a node id cannot be parsed as an access path
var ErrMalformed = errors.New("malformed access path")

const sep = "::"

// MatchMode selects how two access paths are compared by Matches
type MatchMode int

const (
	// Exact requires equal file, scope, base and fields
	Exact MatchMode = iota
	// Prefix requires equal file, scope and base, and the fields of one path to be a prefix of the other's
	Prefix
)

func (m MatchMode) String() string {
	switch m {
	case Exact:
		return "exact"
	case Prefix:
		return "prefix"
	default:
		return fmt.Sprintf("MatchMode(%d)", int(m))
	}
}

// AccessPath is a value identity (file, scope, base, fields). The zero value is the empty path, which matches
// nothing.
type AccessPath struct {
	file      string
	scope     string
	base      string
	fields    []string
	bound     int
	truncated bool
}

// Parse splits a node id file::scope::name into an access path. An empty scope and the legacy scope "global" are
// normalized to ModuleScope; an id with only two components has the module scope. Names longer than bound fields
// are truncated. A non-positive bound means DefaultBound.
func Parse(nodeID string, bound int) (AccessPath, error) {
	parts := strings.Split(nodeID, sep)
	var file, scope, name string
	switch len(parts) {
	case 0, 1:
		return AccessPath{}, fmt.Errorf("%w: %q has no scope separator", ErrMalformed, nodeID)
	case 2:
		file, name = parts[0], parts[1]
	default:
		file, scope, name = parts[0], parts[1], strings.Join(parts[2:], sep)
	}
	if file == "" {
		return AccessPath{}, fmt.Errorf("%w: %q has no file", ErrMalformed, nodeID)
	}
	ap, err := FromParts(file, scope, name, bound)
	if err != nil {
		return AccessPath{}, fmt.Errorf("%w (in %q)", err, nodeID)
	}
	return ap, nil
}

// FromParts builds an access path from its file, scope and dotted name (base.field1.field2...)
func FromParts(file, scope, dotted string, bound int) (AccessPath, error) {
	if bound <= 0 {
		bound = DefaultBound
	}
	if dotted == "" {
		return AccessPath{}, fmt.Errorf("%w: empty name", ErrMalformed)
	}
	segments := strings.Split(dotted, ".")
	for _, s := range segments {
		if s == "" {
			return AccessPath{}, fmt.Errorf("%w: empty segment in %q", ErrMalformed, dotted)
		}
	}
	ap := AccessPath{
		file:   file,
		scope:  NormalizeScope(scope),
		base:   segments[0],
		fields: segments[1:],
		bound:  bound,
	}
	return ap.Truncate(bound), nil
}

// NormalizeScope maps the empty scope and the legacy global scope to ModuleScope
func NormalizeScope(scope string) string {
	if scope == "" || scope == "global" {
		return ModuleScope
	}
	return scope
}

// File returns the file of the path
func (ap AccessPath) File() string { return ap.file }

// Scope returns the scope of the path
func (ap AccessPath) Scope() string { return ap.scope }

// Base returns the base variable of the path
func (ap AccessPath) Base() string { return ap.base }

// Fields returns a copy of the field chain
func (ap AccessPath) Fields() []string {
	return append([]string(nil), ap.fields...)
}

// Len returns the number of fields of the path
func (ap AccessPath) Len() int { return len(ap.fields) }

// Truncated returns true if fields were dropped from the path to fit its bound
func (ap AccessPath) Truncated() bool { return ap.truncated }

// IsZero returns true for the empty path
func (ap AccessPath) IsZero() bool { return ap.base == "" }

// Truncate returns the path with at most n fields. Dropping fields sets the truncation marker.
func (ap AccessPath) Truncate(n int) AccessPath {
	if n < 0 {
		n = 0
	}
	if len(ap.fields) <= n {
		ap.fields = append([]string(nil), ap.fields...)
		return ap
	}
	ap.fields = append([]string(nil), ap.fields[:n]...)
	ap.truncated = true
	return ap
}

// Append returns the path extended with a field access, truncated to the path's bound
func (ap AccessPath) Append(field string) AccessPath {
	fields := make([]string, len(ap.fields), len(ap.fields)+1)
	copy(fields, ap.fields)
	ap.fields = append(fields, field)
	return ap.Truncate(ap.bound)
}

// Rebase returns the path with the same fields on another base, e.g. when an argument is bound to a parameter.
func (ap AccessPath) Rebase(file, scope, base string) AccessPath {
	ap.file = file
	ap.scope = NormalizeScope(scope)
	ap.base = base
	ap.fields = append([]string(nil), ap.fields...)
	return ap
}

// Root returns the path without fields
func (ap AccessPath) Root() AccessPath {
	ap.fields = nil
	ap.truncated = false
	return ap
}

// HasPrefix returns true if prefix has the same file, scope and base as ap and its fields are a prefix of ap's.
func (ap AccessPath) HasPrefix(prefix AccessPath) bool {
	if !ap.sameRoot(prefix) || len(prefix.fields) > len(ap.fields) {
		return false
	}
	for i, f := range prefix.fields {
		if ap.fields[i] != f {
			return false
		}
	}
	return true
}

// Matches compares two paths according to mode. Prefix matching is symmetric: x.a matches both x and x.a.b.
// The empty path matches nothing.
func (ap AccessPath) Matches(other AccessPath, mode MatchMode) bool {
	if ap.IsZero() || other.IsZero() {
		return false
	}
	switch mode {
	case Exact:
		return ap.HasPrefix(other) && len(ap.fields) == len(other.fields)
	case Prefix:
		return ap.HasPrefix(other) || other.HasPrefix(ap)
	default:
		return false
	}
}

func (ap AccessPath) sameRoot(other AccessPath) bool {
	return ap.file == other.file && ap.scope == other.scope && ap.base == other.base
}

// Name returns the dotted name base.field1.field2...
func (ap AccessPath) Name() string {
	if len(ap.fields) == 0 {
		return ap.base
	}
	return ap.base + "." + strings.Join(ap.fields, ".")
}

// NodeID returns the node id file::scope::name of the path
func (ap AccessPath) NodeID() string {
	return ap.file + sep + ap.scope + sep + ap.Name()
}

// String returns the node id, with a ".*" suffix when the path was truncated
func (ap AccessPath) String() string {
	if ap.truncated {
		return ap.NodeID() + ".*"
	}
	return ap.NodeID()
}
