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

package exprparse

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReferences(t *testing.T) {
	tests := []struct {
		lang string
		expr string
		want []string
	}{
		{"javascript", "name", []string{"name"}},
		{"javascript", `"<h1>" + name + "</h1>"`, []string{"name"}},
		{"javascript", "`Hello ${user.name}, ${greeting}!`", []string{"greeting", "user.name"}},
		{"javascript", "template(name)", []string{"name"}},
		{"javascript", "user.getName()", []string{"user"}},
		{"javascript", `req.body["email"]`, []string{"req.body.email"}},
		{"javascript", "rows[i].title", []string{"i", "rows"}},
		{"javascript", "{ msg: text, id }", []string{"id", "text"}},
		{"javascript", "x ? y : undefined", []string{"x", "y"}},
		{"typescript", "render(page, this.state)", []string{"page", "this.state"}},
		{"python", `"SELECT * FROM t WHERE id=" + user_id`, []string{"user_id"}},
		{"python", `f"Hello {name}"`, []string{"name"}},
		{"python", "request.args.get('q')", []string{"request.args"}},
		{"python", "render(ctx, key=value)", []string{"ctx", "value"}},
		{"python", "data['user']", []string{"data.user"}},
		{"java", `"SELECT * FROM users WHERE id = " + request.getParameter("id")`, []string{"request"}},
		{"php", `"Hello " . $name`, []string{"name"}},
		{"go", `fmt.Sprintf("%s", input)`, []string{"fmt", "input"}},
		{"ruby", "", nil},
	}
	p := New(0)
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s", tt.lang, tt.expr), func(t *testing.T) {
			assert.Equal(t, tt.want, p.References(tt.lang, tt.expr))
		})
	}
}

func TestReferencesFallsBackOnSyntaxError(t *testing.T) {
	p := New(0)
	// truncated by the extractor
	assert.Equal(t, []string{"a", "b"}, p.References("javascript", "a + foo(b"))
}

func TestMentions(t *testing.T) {
	p := New(8)
	assert.True(t, p.Mentions("javascript", `"<p>" + name`, "name"))
	assert.True(t, p.Mentions("javascript", "req", "req.body.name"))
	assert.True(t, p.Mentions("javascript", "req.body.name.trim()", "req.body"))
	assert.False(t, p.Mentions("javascript", "request", "req"))
	assert.False(t, p.Mentions("javascript", "escape(name)", ""))
	assert.False(t, p.Mentions("javascript", `"static"`, "name"))
}

func TestSamePathAndBase(t *testing.T) {
	assert.True(t, SamePath("a.b", "a.b.c"))
	assert.True(t, SamePath("a.b.c", "a"))
	assert.False(t, SamePath("ab", "a.b"))
	assert.Equal(t, "req", Base("req.body"))
	assert.Equal(t, "x", Base("x"))
	assert.Equal(t, "list", Last("controller.list"))
	assert.Equal(t, "x", Last("x"))
}

func TestParserConcurrentUse(t *testing.T) {
	p := New(2)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			expr := fmt.Sprintf("v%d + w", i%3)
			assert.Equal(t, []string{fmt.Sprintf("v%d", i%3), "w"}, p.References("javascript", expr))
		}(i)
	}
	wg.Wait()
}
