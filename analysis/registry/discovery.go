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

package registry

import (
	"regexp"
	"strings"

	"github.com/awslabs/argot-taint/analysis/config"
	"github.com/awslabs/argot-taint/analysis/facts"
)

// discovery finds the sources and sinks of one file
type discovery struct {
	r    *Registry
	ff   *facts.FileFacts
	lang Language
}

// userInputPrefixes are the segments starting a property access that carries user input
var userInputPrefixes = []string{"req", "request", "body", "query", "params", "args", "form", "cookies"}

var (
	fileReadCalls = map[string]bool{"readFile": true, "readFileSync": true, "open": true, "read": true,
		"load": true, "readlines": true, "ReadFile": true, "ReadAll": true}
	commandCalls = map[string]bool{"exec": true, "execSync": true, "spawn": true, "spawnSync": true, "eval": true,
		"system": true, "execFile": true, "execFileSync": true, "shell": true, "popen": true, "Popen": true}
	pathCalls = map[string]bool{"readFile": true, "readFileSync": true, "writeFile": true, "writeFileSync": true,
		"open": true, "unlink": true, "unlinkSync": true, "mkdir": true, "rmdir": true, "access": true,
		"sendFile": true, "createReadStream": true, "createWriteStream": true}
	ldapOps = []string{"search", "bind", "add", "modify", "delete"}

	envPrefixes = map[Language]string{
		JavaScript: "process.env",
		TypeScript: "process.env",
		Python:     "os.environ",
		Go:         "os.Getenv",
		Java:       "System.getenv",
		PHP:        "getenv",
	}
)

// lastSegment returns the name after the last dot
func lastSegment(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return name
}

// isUserInput returns true if some segment of the dotted name starts a user-input access, e.g. req.body.name
func isUserInput(name string) bool {
	segs := strings.Split(strings.ToLower(name), ".")
	for _, s := range segs[:len(segs)-1] {
		for _, p := range userInputPrefixes {
			if s == p {
				return true
			}
		}
	}
	return false
}

func (d *discovery) record(kind Kind, pattern, name, category, risk string, line int, function string) Record {
	return Record{
		Pattern:  pattern,
		Name:     name,
		Category: category,
		Language: d.lang,
		File:     d.ff.File,
		Line:     line,
		Risk:     risk,
		Kind:     kind,
		Function: function,
	}
}

func (d *discovery) functionAt(line int) string {
	if f, ok := d.ff.FunctionAt(line); ok {
		return f.Name
	}
	return ""
}

func (d *discovery) sources() {
	cat := d.r.catalog(d.lang)
	for _, s := range d.ff.Symbols {
		if s.Type != "property" && s.Type != "variable" && s.Type != "call" {
			continue
		}
		if p, ok := firstMatch(cat.sources, s.Name); ok {
			d.r.sources = append(d.r.sources,
				d.record(KindSource, p.Pattern, s.Name, categoryOr(p.Category, CategoryUserInput),
					riskOr(p.Risk, "high"), s.Line, d.functionAt(s.Line)))
		} else if s.Type == "property" && isUserInput(s.Name) {
			d.r.sources = append(d.r.sources,
				d.record(KindSource, s.Name, s.Name, CategoryUserInput, "high", s.Line, d.functionAt(s.Line)))
		}
	}
	for _, a := range d.ff.Assignments {
		if p, ok := firstMatch(cat.sources, a.SourceExpr); ok {
			d.r.sources = append(d.r.sources,
				d.record(KindSource, p.Pattern, a.SourceExpr, categoryOr(p.Category, CategoryUserInput),
					riskOr(p.Risk, "high"), a.Line, a.InFunction))
		}
	}
	for _, a := range d.ff.CallArgs {
		if fileReadCalls[lastSegment(a.CalleeFunction)] {
			d.r.sources = append(d.r.sources,
				d.record(KindSource, a.CalleeFunction, a.CalleeFunction, CategoryFileRead, "medium", a.Line,
					a.CallerFunction))
		}
	}
	prefix := envPrefixes[d.lang]
	if prefix == "" {
		prefix = "env"
	}
	for _, e := range d.ff.EnvAccesses {
		d.r.sources = append(d.r.sources,
			d.record(KindSource, prefix+"."+e.Key, e.Key, CategoryEnvironment, "low", e.Line, d.functionAt(e.Line)))
	}
	for _, q := range d.ff.SQLQueries {
		if strings.Contains(strings.ToUpper(q.QueryText), "SELECT") {
			d.r.sources = append(d.r.sources,
				d.record(KindSource, "sql_query_result", truncate(q.QueryText, 50), CategoryDatabase, "low", q.Line,
					d.functionAt(q.Line)))
		}
	}
}

func (d *discovery) sinks() {
	cat := d.r.catalog(d.lang)
	for _, q := range d.ff.SQLQueries {
		rec := d.record(KindSink, "sql_query", truncate(q.QueryText, 100), "sql", AssessSQLRisk(q.QueryText), q.Line,
			d.functionAt(q.Line))
		rec.Parameterized = q.IsParameterized
		d.r.sinks = append(d.r.sinks, rec)
	}
	for _, q := range d.ff.NoSQLQueries {
		d.r.sinks = append(d.r.sinks,
			d.record(KindSink, "nosql_query", q.Collection+"."+q.Operation, "nosql", "medium", q.Line,
				d.functionAt(q.Line)))
	}

	args := map[fileLine]map[string][]string{}
	for _, a := range d.ff.CallArgs {
		k := fileLine{line: a.Line}
		if args[k] == nil {
			args[k] = map[string][]string{}
		}
		args[k][a.CalleeFunction] = setArg(args[k][a.CalleeFunction], a.ArgumentIndex, a.ArgumentExpr)
	}
	callSink := func(pattern, callee, category, risk string, line int, caller string) {
		rec := d.record(KindSink, pattern, callee, category, risk, line, caller)
		rec.Args = args[fileLine{line: line}][callee]
		d.r.sinks = append(d.r.sinks, rec)
	}
	seen := map[fileLine]map[string]bool{}
	for _, call := range d.calls() {
		k := fileLine{line: call.Line}
		if seen[k] == nil {
			seen[k] = map[string]bool{}
		}
		if seen[k][call.CalleeFunction] {
			continue
		}
		seen[k][call.CalleeFunction] = true
		callee := call.CalleeFunction
		resolved := Resolve(callee, d.r.aliases[d.ff.File])
		last := lastSegment(resolved)
		// a catalog entry decides the category of the sink; the built-in call lists only fill the gaps
		if p, ok := firstMatch(cat.sinks, resolved); ok {
			callSink(p.Pattern, callee, p.Category, riskOr(p.Risk, "medium"), call.Line, call.CallerFunction)
			continue
		}
		switch {
		case commandCalls[last]:
			category := "command"
			if last == "eval" {
				category = "code"
			}
			callSink(resolved, callee, category, "critical", call.Line, call.CallerFunction)
		case pathCalls[last] && hasNonLiteralArg(args[k][callee]):
			callSink(resolved, callee, "path", "medium", call.Line, call.CallerFunction)
		case isLDAP(resolved):
			callSink(resolved, callee, "ldap", "medium", call.Line, call.CallerFunction)
		}
	}
	for _, a := range d.ff.Assignments {
		seg := lastSegment(a.TargetVar)
		if seg == "innerHTML" || seg == "outerHTML" {
			rec := d.record(KindSink, seg, a.TargetVar, "xss", "high", a.Line, a.InFunction)
			rec.Args = []string{a.SourceExpr}
			d.r.sinks = append(d.r.sinks, rec)
		} else if p, ok := firstMatch(cat.sinks, a.TargetVar); ok {
			rec := d.record(KindSink, p.Pattern, a.TargetVar, p.Category, riskOr(p.Risk, "medium"), a.Line,
				a.InFunction)
			rec.Args = []string{a.SourceExpr}
			d.r.sinks = append(d.r.sinks, rec)
		}
	}
	for _, s := range d.ff.Symbols {
		if lastSegment(s.Name) == "dangerouslySetInnerHTML" {
			d.r.sinks = append(d.r.sinks,
				d.record(KindSink, "dangerouslySetInnerHTML", s.Name, "xss", "high", s.Line, d.functionAt(s.Line)))
		}
	}
}

// calls returns every call of the file: the calls with arguments and the zero-argument call sites
func (d *discovery) calls() []facts.CallSite {
	res := make([]facts.CallSite, 0, len(d.ff.CallArgs)+len(d.ff.CallSites))
	for _, a := range d.ff.CallArgs {
		res = append(res, facts.CallSite{Line: a.Line, CallerFunction: a.CallerFunction, CalleeFunction: a.CalleeFunction})
	}
	return append(res, d.ff.CallSites...)
}

func setArg(args []string, index int, expr string) []string {
	if index < 0 {
		return args
	}
	for len(args) <= index {
		args = append(args, "")
	}
	args[index] = expr
	return args
}

func hasNonLiteralArg(args []string) bool {
	for _, a := range args {
		a = strings.TrimSpace(a)
		if a != "" && !strings.HasPrefix(a, `"`) && !strings.HasPrefix(a, `'`) {
			return true
		}
	}
	return false
}

func isLDAP(name string) bool {
	lower := strings.ToLower(name)
	if !strings.Contains(lower, "ldap") {
		return false
	}
	last := strings.ToLower(lastSegment(name))
	for _, op := range ldapOps {
		if strings.HasPrefix(last, op) {
			return true
		}
	}
	return false
}

func firstMatch(ps []config.Pattern, name string) (config.Pattern, bool) {
	for _, p := range ps {
		if p.MatchName(name) {
			return p, true
		}
	}
	return config.Pattern{}, false
}

func categoryOr(c, def string) string {
	if c == "" {
		return def
	}
	return c
}

func riskOr(r, def string) string {
	if r == "" {
		return def
	}
	return r
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var (
	sqlConcat      = regexp.MustCompile(`\+|\$\{|\bf["']|["']\s*\.|\.\s*["']`)
	sqlFormat      = regexp.MustCompile(`%[sd]`)
	sqlPlaceholder = regexp.MustCompile(`\?|\$\d+|:[A-Za-z_]\w*|@[A-Za-z_]\w*`)
)

// AssessSQLRisk rates a SQL query from its construction: "critical" when it is built by concatenation or
// interpolation, "high" when it uses format verbs, "low" when it uses placeholders and "medium" otherwise.
func AssessSQLRisk(query string) string {
	switch {
	case sqlConcat.MatchString(query):
		return "critical"
	case sqlFormat.MatchString(query):
		return "high"
	case sqlPlaceholder.MatchString(query):
		return "low"
	}
	return "medium"
}

// FilterFrameworkSafeSinks drops the parameterized SQL sinks and the sinks whose callee is a framework safe sink
func FilterFrameworkSafeSinks(sinks []Record, safeSinks []config.Pattern) []Record {
	res := make([]Record, 0, len(sinks))
	for _, s := range sinks {
		if s.Category == "sql" && s.Parameterized {
			continue
		}
		if s.Name != "" && config.ExistsPattern(safeSinks, s.Name) {
			continue
		}
		res = append(res, s)
	}
	return res
}
