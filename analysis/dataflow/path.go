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
	"fmt"
	"strings"

	"github.com/awslabs/argot-taint/analysis/classify"
	"github.com/awslabs/argot-taint/analysis/flowgraph"
	"github.com/awslabs/argot-taint/analysis/registry"
)

// Hop is one step of a taint path: the node reached and the kind of the edge followed to reach it. The first hop of
// a path has an empty kind.
type Hop struct {
	Node     string             `json:"node"`
	Kind     flowgraph.EdgeKind `json:"kind,omitempty"`
	File     string             `json:"file"`
	Line     int                `json:"line"`
	Function string             `json:"function,omitempty"`
}

func (h Hop) String() string {
	if h.Kind == "" {
		return fmt.Sprintf("%s (%s:%d)", h.Node, h.File, h.Line)
	}
	return fmt.Sprintf("-[%s]-> %s (%s:%d)", h.Kind, h.Node, h.File, h.Line)
}

// Score is a confidence level
type Score int

const (
	// Low confidence
	Low Score = iota
	// Medium confidence
	Medium
	// High confidence
	High
)

func (s Score) String() string {
	switch s {
	case High:
		return "HIGH"
	case Medium:
		return "MEDIUM"
	}
	return "LOW"
}

// MarshalText encodes the score as its name
func (s Score) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// TaintPath is a flow from a source to a sink
type TaintPath struct {
	Source            registry.Record `json:"source"`
	Sink              registry.Record `json:"sink"`
	Hops              []Hop           `json:"hops"`
	VulnerabilityType classify.Type   `json:"vulnerability_type"`
	Confidence        Score           `json:"confidence"`
	// Related are the other sources of the same flow, less specific than Source
	Related []registry.Record `json:"related_sources,omitempty"`
}

// NewTaintPath returns the path with its vulnerability type computed from the sink and source patterns
func NewTaintPath(source, sink registry.Record, hops []Hop, confidence Score) TaintPath {
	return TaintPath{
		Source:            source,
		Sink:              sink,
		Hops:              hops,
		VulnerabilityType: classify.Vulnerability(sink.Category, sink.Pattern, source.Pattern),
		Confidence:        confidence,
	}
}

func (p TaintPath) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s -> %s", p.VulnerabilityType, p.Source.Loc(), p.Sink.Loc())
	for _, h := range p.Hops {
		b.WriteString("\n\t")
		b.WriteString(h.String())
	}
	return b.String()
}

// AddRelated records src as another source of the flow
func (p *TaintPath) AddRelated(src registry.Record) {
	for _, r := range p.Related {
		if r.Loc() == src.Loc() && r.Pattern == src.Pattern {
			return
		}
	}
	p.Related = append(p.Related, src)
}

// Functions returns the functions crossed by the path, in order and without consecutive duplicates
func (p TaintPath) Functions() []string {
	var res []string
	for _, h := range p.Hops {
		if h.Function != "" && (len(res) == 0 || res[len(res)-1] != h.Function) {
			res = append(res, h.Function)
		}
	}
	return res
}

// ReversedHops returns the hops in the opposite order, with the edge kinds moved so that each hop still holds the
// kind of the edge leading to it, in forward terms.
func ReversedHops(hops []Hop) []Hop {
	n := len(hops)
	res := make([]Hop, n)
	for i := range hops {
		res[i] = hops[n-1-i]
		res[i].Kind = ""
		if i > 0 {
			res[i].Kind = hops[n-i].Kind.Forward()
		}
	}
	return res
}
