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

package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/awslabs/argot-taint/analysis/classify"
	"github.com/awslabs/argot-taint/analysis/dataflow"
	"github.com/awslabs/argot-taint/internal/formatutil"
	"github.com/awslabs/argot-taint/internal/funcutil"
	jsoniter "github.com/json-iterator/go"
	"github.com/owenrumney/go-sarif/v2/sarif"
)

const toolURI = "https://github.com/awslabs/argot-taint"

// report is the JSON form of a result set
type report struct {
	RunID       string                `json:"run_id"`
	Verdict     dataflow.Verdict      `json:"verdict"`
	Stats       dataflow.Stats        `json:"stats"`
	Rows        []dataflow.Row        `json:"rows"`
	Diagnostics []dataflow.Diagnostic `json:"diagnostics"`
}

// WriteJSON writes the result set as indented JSON
func WriteJSON(w io.Writer, rs *dataflow.ResultSet) error {
	enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report{
		RunID:       rs.RunID,
		Verdict:     rs.Verdict(),
		Stats:       rs.Stats(),
		Rows:        rs.Rows(),
		Diagnostics: rs.Diagnostics(),
	})
}

// WriteSARIF writes the vulnerable rows as a SARIF 2.1.0 report. Each vulnerability type is a rule, and the hops of
// each row are its code flow.
func WriteSARIF(w io.Writer, rs *dataflow.ResultSet) error {
	doc, err := sarif.New(sarif.Version210)
	if err != nil {
		return fmt.Errorf("failed to create SARIF report: %w", err)
	}
	run := sarif.NewRunWithInformationURI("argot-taint", toolURI)
	for _, row := range rs.Filter(dataflow.Vulnerable) {
		cwe := classify.CWE(row.VulnerabilityType)
		rule := run.AddRule(row.VulnerabilityType.Slug()).
			WithName(string(row.VulnerabilityType)).
			WithDescription(cwe.Name).
			WithHelpURI(cwe.URL)

		result := sarif.NewRuleResult(rule.ID).
			WithMessage(sarif.NewTextMessage(fmt.Sprintf("%s: data from %s reaches %s",
				row.VulnerabilityType, row.Source.Name, row.Sink.Name))).
			WithLevel(sarifLevel(row)).
			WithLocations([]*sarif.Location{location(row.Sink.File, row.Sink.Line, "")}).
			WithCodeFlows([]*sarif.CodeFlow{codeFlow(row)})
		for _, src := range row.Related {
			result.RelatedLocations = append(result.RelatedLocations,
				location(src.File, src.Line, "also from "+src.Pattern))
		}
		run.AddResult(result)
	}
	doc.AddRun(run)
	return doc.PrettyWrite(w)
}

func location(file string, line int, message string) *sarif.Location {
	loc := sarif.NewLocation().WithPhysicalLocation(
		sarif.NewPhysicalLocation().
			WithArtifactLocation(sarif.NewArtifactLocation().WithUri(file)).
			WithRegion(sarif.NewRegion().WithStartLine(line)))
	if message != "" {
		loc = loc.WithMessage(sarif.NewTextMessage(message))
	}
	return loc
}

func codeFlow(row dataflow.Row) *sarif.CodeFlow {
	tf := &sarif.ThreadFlow{}
	for _, h := range row.Hops {
		tf.Locations = append(tf.Locations, &sarif.ThreadFlowLocation{Location: location(h.File, h.Line, h.Node)})
	}
	return &sarif.CodeFlow{ThreadFlows: []*sarif.ThreadFlow{tf}}
}

func sarifLevel(row dataflow.Row) string {
	switch row.Confidence {
	case dataflow.High:
		return "error"
	case dataflow.Medium:
		return "warning"
	}
	return "note"
}

// WriteSummary writes a colored summary of the result set
func WriteSummary(w io.Writer, rs *dataflow.ResultSet) {
	stats := rs.Stats()
	fmt.Fprintf(w, "%s %s\n", formatutil.Bold("Run"), formatutil.Cyan(rs.RunID))
	fmt.Fprintf(w, "  sources: %d, sinks: %d (%d pruned)\n", stats.Sources, stats.Sinks, stats.PrunedSinks)
	fmt.Fprintf(w, "  states: %d forward, %d backward; fact cache: %d hits, %d misses\n",
		stats.ForwardStates, stats.BackwardStates, stats.CacheHits, stats.CacheMisses)

	counts := rs.CountByType()
	for _, t := range funcutil.SortedKeys(counts) {
		fmt.Fprintf(w, "  %s: %d\n", formatutil.Red(t), counts[t])
	}
	for _, row := range rs.Filter(dataflow.Vulnerable) {
		confirmed := ""
		if row.Confirmed {
			confirmed = formatutil.Green(" confirmed")
		}
		fmt.Fprintf(w, "  %s %s -> %s [%s, %s%s]\n", formatutil.Red("✗"), row.Source.Loc(), row.Sink.Loc(),
			row.VulnerabilityType, row.Confidence, confirmed)
		if fns := row.Functions(); len(fns) > 0 {
			fmt.Fprintf(w, "      %s\n", formatutil.Faint(strings.Join(fns, " > ")))
		}
		for _, src := range row.Related {
			fmt.Fprintf(w, "      %s\n", formatutil.Faint("also from "+src.Pattern+" at "+src.Loc()))
		}
	}
	for _, d := range rs.Diagnostics() {
		fmt.Fprintf(w, "  %s %s\n", formatutil.Yellow("!"), formatutil.Sanitize(d.String()))
	}

	var verdict string
	switch v := rs.Verdict(); v {
	case dataflow.VerdictVulnerable:
		verdict = formatutil.Red(v)
	case dataflow.VerdictIncomplete:
		verdict = formatutil.Yellow(v)
	default:
		verdict = formatutil.Green(v)
	}
	fmt.Fprintf(w, "%s %s\n", formatutil.Bold("Verdict:"), verdict)
}
