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

package formatutil

import "testing"

func TestColorsDisabled(t *testing.T) {
	SetColors(false)
	if got := Red("sink"); got != "sink" {
		t.Errorf("expected plain string with colors off, got %q", got)
	}
}

func TestColorsEnabled(t *testing.T) {
	SetColors(true)
	defer SetColors(false)
	if got := Green("ok"); got != "\033[1;32mok\033[0m" {
		t.Errorf("unexpected colored string %q", got)
	}
}

func TestSanitizeRemovesEscapes(t *testing.T) {
	if got := Sanitize("a\nb\x1b"); got != `a\nb\x1b` {
		t.Errorf("Sanitize: got %q", got)
	}
}
