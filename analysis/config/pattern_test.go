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
	"testing"

	"gopkg.in/yaml.v3"
)

func TestMatchSegments(t *testing.T) {
	tests := []struct {
		pattern string
		name    string
		want    bool
	}{
		{"send", "send", true},
		{"send", "res.send", true},
		{"res.send", "res.send", true},
		{"res.send", "app.res.send", true},
		{"req.body", "req.body.name", true},
		{"body", "req.body.name", true},
		{"send", "resend", false},
		{"send", "res.sendFile", false},
		{"req.body", "req.bodyParser", false},
		{"exec", "execute", false},
		{"res.send", "send", false},
	}
	for _, tt := range tests {
		if got := MatchSegments(tt.pattern, tt.name); got != tt.want {
			t.Errorf("MatchSegments(%q, %q) = %v, want %v", tt.pattern, tt.name, got, tt.want)
		}
	}
}

func TestPatternRegex(t *testing.T) {
	p := MustPattern(`re:^(os\.)?system$`, "command", "critical")
	if !p.IsRegex() {
		t.Fatalf("pattern should be a regex")
	}
	if !p.MatchName("os.system") || !p.MatchName("system") || p.MatchName("os.systems") {
		t.Errorf("regex pattern matched incorrectly")
	}
	if _, err := NewPattern("re:(", "", ""); err == nil {
		t.Errorf("expected error for invalid regex")
	}
	uncompiled := Pattern{Pattern: "re:.*"}
	if uncompiled.MatchName("anything") {
		t.Errorf("uncompiled regex should not match")
	}
	if (Pattern{}).MatchName("x") || MustPattern("x", "", "").MatchName("") {
		t.Errorf("empty pattern or name should not match")
	}
}

func TestPatternUnmarshal(t *testing.T) {
	var ps []Pattern
	src := "- eval\n- pattern: exec\n  category: command\n  risk: critical\n"
	if err := yaml.Unmarshal([]byte(src), &ps); err != nil {
		t.Fatal(err)
	}
	if len(ps) != 2 || ps[0].Pattern != "eval" || ps[1].Category != "command" || ps[1].Risk != "critical" {
		t.Errorf("unexpected patterns %+v", ps)
	}
}
