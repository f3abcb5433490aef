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

// Package exprparse extracts the values referenced by a source expression, such as the argument of a sink call.
//
// JavaScript, TypeScript and Python expressions are parsed with tree-sitter; other languages use a lexical scan.
// Both tolerate concatenations, template strings, calls and member expressions. A reference is a dotted access path
// such as "req.body.name"; callee names are not references, but the receiver of a method call is.
package exprparse

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/golang/groupcache/lru"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
)

// DefaultMemoSize is the number of parsed expressions remembered by a Parser
const DefaultMemoSize = 4096

// Parser extracts references from expressions. It memoizes results and is safe for concurrent use.
type Parser struct {
	mu   sync.Mutex
	memo *lru.Cache
}

// New returns a parser remembering up to size expressions
func New(size int) *Parser {
	if size <= 0 {
		size = DefaultMemoSize
	}
	return &Parser{memo: lru.New(size)}
}

type memoKey struct {
	lang string
	expr string
}

// References returns the sorted, deduplicated access paths referenced by expr in the language
func (p *Parser) References(lang, expr string) []string {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil
	}
	key := memoKey{strings.ToLower(lang), expr}
	p.mu.Lock()
	if v, ok := p.memo.Get(key); ok {
		p.mu.Unlock()
		return v.([]string)
	}
	p.mu.Unlock()

	refs := parse(key.lang, expr)

	p.mu.Lock()
	p.memo.Add(key, refs)
	p.mu.Unlock()
	return refs
}

// Mentions returns true if expr references the access path name, a prefix of it, or a path extending it. Passing
// req to a sink leaks req.body.name; passing req.body.name leaks part of a tainted req.
func (p *Parser) Mentions(lang, expr, name string) bool {
	if name == "" {
		return false
	}
	for _, ref := range p.References(lang, expr) {
		if SamePath(ref, name) {
			return true
		}
	}
	return false
}

// SamePath returns true if one dotted path is a prefix of the other, segment-wise
func SamePath(a, b string) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	return a == b || strings.HasPrefix(b, a+".")
}

// Base returns the first segment of a dotted path
func Base(path string) string {
	if i := strings.IndexByte(path, '.'); i >= 0 {
		return path[:i]
	}
	return path
}

// Last returns the last segment of a dotted path
func Last(path string) string {
	return path[strings.LastIndexByte(path, '.')+1:]
}

func parse(lang, expr string) []string {
	var refs []string
	switch lang {
	case "javascript", "js", "typescript", "ts", "jsx", "tsx":
		refs = parseTree(javascript.GetLanguage(), "("+expr+")", jsGrammar)
	case "python", "py":
		refs = parseTree(python.GetLanguage(), expr, pyGrammar)
	default:
		return scan(expr)
	}
	if refs == nil {
		// unparseable fragment, e.g. truncated by the extractor
		return scan(expr)
	}
	return refs
}

// grammar names the node types of a tree-sitter grammar that the walker handles specially
type grammar struct {
	member    string
	subscript string
	call      string
	pair      string
	skip      map[string]bool
	constants map[string]bool
}

var jsGrammar = grammar{
	member:    "member_expression",
	subscript: "subscript_expression",
	call:      "call_expression",
	pair:      "pair",
	skip:      map[string]bool{"arrow_function": true, "function": true, "function_expression": true, "regex": true},
	constants: map[string]bool{"undefined": true, "NaN": true, "Infinity": true},
}

var pyGrammar = grammar{
	member:    "attribute",
	subscript: "subscript",
	call:      "call",
	pair:      "keyword_argument",
	skip:      map[string]bool{"lambda": true},
	constants: map[string]bool{},
}

func parseTree(lang *sitter.Language, src string, gr grammar) []string {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)
	source := []byte(src)
	tree, err := parser.ParseCtx(context.Background(), nil, source)
	if err != nil {
		return nil
	}
	defer tree.Close()
	root := tree.RootNode()
	if root == nil || root.HasError() {
		return nil
	}
	w := &walker{source: source, gr: gr, refs: map[string]bool{}}
	w.walk(root)
	return w.result()
}

type walker struct {
	source []byte
	gr     grammar
	refs   map[string]bool
}

func (w *walker) add(ref string) {
	if ref != "" && !w.gr.constants[ref] {
		w.refs[ref] = true
	}
}

func (w *walker) result() []string {
	res := make([]string, 0, len(w.refs))
	for r := range w.refs {
		res = append(res, r)
	}
	sort.Strings(res)
	return res
}

func (w *walker) walk(n *sitter.Node) {
	if n == nil {
		return
	}
	t := n.Type()
	switch {
	case w.gr.skip[t]:
		return
	case t == "identifier" || t == "this" || t == "shorthand_property_identifier":
		w.add(n.Content(w.source))
		return
	case t == w.gr.member || t == w.gr.subscript:
		if path := w.flatten(n); path != nil {
			w.add(strings.Join(path, "."))
			return
		}
		// computed access: the object and the index are read, the property name is not
		w.walk(n.ChildByFieldName("object"))
		w.walk(n.ChildByFieldName("value"))
		w.walk(n.ChildByFieldName("index"))
		w.walk(n.ChildByFieldName("subscript"))
		return
	case t == w.gr.call:
		fn := n.ChildByFieldName("function")
		if fn != nil {
			switch fn.Type() {
			case "identifier":
			case w.gr.member:
				w.walk(fn.ChildByFieldName("object"))
			default:
				w.walk(fn)
			}
		}
		w.walk(n.ChildByFieldName("arguments"))
		return
	case t == "new_expression":
		w.walk(n.ChildByFieldName("arguments"))
		return
	case t == w.gr.pair:
		w.walk(n.ChildByFieldName("value"))
		return
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		w.walk(n.NamedChild(i))
	}
}

// flatten returns the segments of a static property chain such as a.b["c"].d, or nil
func (w *walker) flatten(n *sitter.Node) []string {
	var path []string
	cur := n
	for cur != nil {
		switch cur.Type() {
		case "identifier", "this":
			return append([]string{cur.Content(w.source)}, path...)
		case w.gr.member:
			obj := cur.ChildByFieldName("object")
			prop := cur.ChildByFieldName("property")
			if prop == nil {
				prop = cur.ChildByFieldName("attribute")
			}
			if obj == nil || prop == nil {
				return nil
			}
			switch prop.Type() {
			case "identifier", "property_identifier":
				path = append([]string{prop.Content(w.source)}, path...)
				cur = obj
			default:
				return nil
			}
		case w.gr.subscript:
			obj := cur.ChildByFieldName("object")
			if obj == nil {
				obj = cur.ChildByFieldName("value")
			}
			idx := cur.ChildByFieldName("index")
			if idx == nil {
				idx = cur.ChildByFieldName("subscript")
			}
			if obj == nil || idx == nil || idx.Type() != "string" {
				return nil
			}
			key := strings.Trim(idx.Content(w.source), "\"'`")
			if key == "" || strings.ContainsAny(key, ". ${}") {
				return nil
			}
			path = append([]string{key}, path...)
			cur = obj
		default:
			return nil
		}
	}
	return nil
}

var (
	stringLiteral = regexp.MustCompile(`"(?:[^"\\]|\\.)*"|'(?:[^'\\]|\\.)*'`)
	dottedName    = regexp.MustCompile(`\$?[A-Za-z_][\w$]*(?:(?:\.|->|::)\$?[A-Za-z_][\w$]*)*(\s*\()?`)
	keywords      = map[string]bool{
		"true": true, "false": true, "null": true, "nil": true, "new": true, "return": true,
		"None": true, "True": true, "False": true, "and": true, "or": true, "not": true, "in": true, "is": true,
		"instanceof": true, "typeof": true, "await": true, "undefined": true,
	}
)

// scan is the lexical fallback: it drops string literals, keeps ${...} interpolations of templates and reads
// dotted names. A name followed by "(" is a call: its last segment is the callee and its prefix the receiver.
func scan(expr string) []string {
	expr = interpolations(expr)
	expr = stringLiteral.ReplaceAllString(expr, " ")
	refs := map[string]bool{}
	for _, m := range dottedName.FindAllStringSubmatch(expr, -1) {
		name := strings.TrimRight(m[0], " \t(")
		name = strings.NewReplacer("->", ".", "::", ".").Replace(name)
		name = strings.TrimPrefix(name, "$")
		if m[1] != "" {
			i := strings.LastIndexByte(name, '.')
			if i < 0 {
				continue
			}
			name = name[:i]
		}
		if name == "" || keywords[Base(name)] {
			continue
		}
		refs[name] = true
	}
	res := make([]string, 0, len(refs))
	for r := range refs {
		res = append(res, r)
	}
	sort.Strings(res)
	return res
}

var templateLiteral = regexp.MustCompile("`([^`]*)`")
var templateHole = regexp.MustCompile(`\$\{([^}]*)\}`)

// interpolations replaces each template literal by the expressions of its holes
func interpolations(expr string) string {
	return templateLiteral.ReplaceAllStringFunc(expr, func(lit string) string {
		var holes []string
		for _, m := range templateHole.FindAllStringSubmatch(lit, -1) {
			holes = append(holes, m[1])
		}
		return " " + strings.Join(holes, " ") + " "
	})
}
