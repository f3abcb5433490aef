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

// Package classify computes the vulnerability type of a taint flow. Every engine uses the same classifier so that a
// given (sink, source) pair gets the same type whichever engine found it.
package classify

import (
	"fmt"
	"strings"
)

// Type is a vulnerability type
type Type string

// The vulnerability types
const (
	SQLInjection          Type = "SQL Injection"
	NoSQLInjection        Type = "NoSQL Injection"
	CommandInjection      Type = "Command Injection"
	CodeInjection         Type = "Code Injection"
	PathTraversal         Type = "Path Traversal"
	LDAPInjection         Type = "LDAP Injection"
	SSRF                  Type = "Server-Side Request Forgery"
	OpenRedirect          Type = "Open Redirect"
	LogInjection          Type = "Log Injection"
	XSS                   Type = "Cross-Site Scripting"
	DataExposure          Type = "Data Exposure"
	SensitiveDataExposure Type = "Sensitive Data Exposure"
)

type rule struct {
	typ      Type
	keywords []string
}

// rules are tried in order; the first rule with a keyword contained in the lowercased sink pattern wins. NoSQL comes
// before SQL and SQL before commands so that "collection.find", "cursor.execute" and "exec" are told apart.
var rules = []rule{
	{NoSQLInjection, []string{"nosql", "mongo", "collection.", "findone", "find(", ".find", "aggregate", "insertone",
		"updateone", "deleteone", "$where"}},
	{SQLInjection, []string{"sql", "query", "execute", "raw(", ".raw", "cursor.", "prepare", "knex", "sequelize"}},
	{CommandInjection, []string{"exec", "spawn", "system", "popen", "subprocess", "child_process", "shell",
		"runtime.getruntime", "processbuilder", "os.command", "passthru", "proc_open"}},
	{CodeInjection, []string{"eval", "function", "vm.run", "settimeout", "setinterval", "compile(",
		"pickle.loads", "yaml.load", "unserialize", "deserialize"}},
	{LDAPInjection, []string{"ldap"}},
	{PathTraversal, []string{"readfile", "writefile", "sendfile", "createreadstream", "createwritestream", "unlink",
		"fs.", "os.path", "path.join", "path.resolve", "open(", "fopen", "file_get_contents", "os.open", "ioutil.",
		"include", "filepath"}},
	{SSRF, []string{"fetch", "axios", "urlopen", "requests.", "http.get", "http.request", "https.get", "https.request",
		"http.post", "curl", "urllib", "httpclient", "got("}},
	{OpenRedirect, []string{"redirect", "location.href", "location.assign", "location.replace", "window.location"}},
	{XSS, []string{"innerhtml", "outerhtml", "dangerouslysetinnerhtml", "document.write", "insertadjacenthtml",
		"res.send", "response.send", "res.write", "response.write", "res.end", "render", "html", "echo",
		"template", "jsonify", "send("}},
	{LogInjection, []string{"log.", "logger", "logging", "console.", "syslog", "printf"}},
}

var credentialKeywords = []string{"password", "passwd", "secret", "token", "apikey", "api_key", "credential",
	"private_key", "privatekey", "ssn", "auth"}

// categories maps the sink categories of the catalogs to vulnerability types
var categories = map[string]Type{
	"sql":      SQLInjection,
	"nosql":    NoSQLInjection,
	"command":  CommandInjection,
	"code":     CodeInjection,
	"path":     PathTraversal,
	"ldap":     LDAPInjection,
	"ssrf":     SSRF,
	"redirect": OpenRedirect,
	"xss":      XSS,
	"log":      LogInjection,
}

// Category returns the vulnerability type of a sink category, and false if the category is unknown
func Category(category string) (Type, bool) {
	t, ok := categories[strings.ToLower(strings.TrimSpace(category))]
	return t, ok
}

// Vulnerability returns the vulnerability type of a flow from a source matching sourcePattern to a sink of the
// category matching sinkPattern. The category decides when it is known; otherwise the type is inferred from the
// sink pattern, and flows into unclassified sinks are data exposures.
func Vulnerability(sinkCategory, sinkPattern, sourcePattern string) Type {
	if t, ok := Category(sinkCategory); ok {
		return t
	}
	sink := strings.ToLower(sinkPattern)
	for _, r := range rules {
		for _, k := range r.keywords {
			if strings.Contains(sink, k) {
				return r.typ
			}
		}
	}
	if isCredential(sourcePattern) {
		return SensitiveDataExposure
	}
	return DataExposure
}

func isCredential(sourcePattern string) bool {
	src := strings.ToLower(sourcePattern)
	for _, k := range credentialKeywords {
		if strings.Contains(src, k) {
			return true
		}
	}
	return false
}

// Types returns all the vulnerability types, in classification order
func Types() []Type {
	res := make([]Type, 0, len(rules)+2)
	for _, r := range rules {
		res = append(res, r.typ)
	}
	return append(res, SensitiveDataExposure, DataExposure)
}

// Cwe id and url
type Cwe struct {
	ID   string
	URL  string
	Name string
}

// GetCwe creates a cwe object for a given id
func GetCwe(id string, name string) Cwe {
	return Cwe{ID: id, URL: fmt.Sprintf("https://cwe.mitre.org/data/definitions/%s.html", id), Name: name}
}

// TypeToCWE maps vulnerability types to CWEs
var TypeToCWE = map[Type]Cwe{
	SQLInjection:          GetCwe("89", "Improper Neutralization of Special Elements used in an SQL Command ('SQL Injection')"),
	NoSQLInjection:        GetCwe("943", "Improper Neutralization of Special Elements in Data Query Logic"),
	CommandInjection:      GetCwe("78", "Improper Neutralization of Special Elements used in an OS Command ('OS Command Injection')"),
	CodeInjection:         GetCwe("94", "Improper Control of Generation of Code ('Code Injection')"),
	PathTraversal:         GetCwe("22", "Improper Limitation of a Pathname to a Restricted Directory ('Path Traversal')"),
	LDAPInjection:         GetCwe("90", "Improper Neutralization of Special Elements used in an LDAP Query ('LDAP Injection')"),
	SSRF:                  GetCwe("918", "Server-Side Request Forgery (SSRF)"),
	OpenRedirect:          GetCwe("601", "URL Redirection to Untrusted Site ('Open Redirect')"),
	LogInjection:          GetCwe("117", "Improper Output Neutralization for Logs"),
	XSS:                   GetCwe("79", "Improper Neutralization of Input During Web Page Generation ('Cross-site Scripting')"),
	DataExposure:          GetCwe("200", "Exposure of Sensitive Information to an Unauthorized Actor"),
	SensitiveDataExposure: GetCwe("200", "Exposure of Sensitive Information to an Unauthorized Actor"),
}

// CWE returns the CWE of a vulnerability type. Unknown types map to CWE-200.
func CWE(t Type) Cwe {
	if c, ok := TypeToCWE[t]; ok {
		return c
	}
	return TypeToCWE[DataExposure]
}

// Slug returns a rule identifier for the type, such as "sql-injection"
func (t Type) Slug() string {
	s := strings.ToLower(string(t))
	s = strings.NewReplacer(" ", "-", "(", "", ")", "").Replace(s)
	return s
}
