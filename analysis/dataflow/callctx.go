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
)

// CallSite identifies a call by its location, file:line
type CallSite string

// NewCallSite returns the call site at the location
func NewCallSite(file string, line int) CallSite {
	return CallSite(fmt.Sprintf("%s:%d", file, line))
}

func (c CallSite) String() string { return string(c) }

// CallStack is a call string, most recent call on top. Stacks are persistent: Push and Pop never modify their
// argument, so the states of a traversal can share their stacks. The nil stack is the empty call string.
type CallStack struct {
	site   CallSite
	parent *CallStack
	depth  int
	key    string
}

// Len returns the number of calls on the stack
func (cs *CallStack) Len() int {
	if cs == nil {
		return 0
	}
	return cs.depth
}

// Key identifies the stack: two stacks holding the same calls have the same key
func (cs *CallStack) Key() string {
	if cs == nil {
		return ""
	}
	return cs.key
}

// Top returns the most recent call of the stack
func (cs *CallStack) Top() (CallSite, bool) {
	if cs == nil {
		return "", false
	}
	return cs.site, true
}

// Sites returns the calls of the stack, oldest first
func (cs *CallStack) Sites() []CallSite {
	s := make([]CallSite, cs.Len())
	for cur, i := cs, cs.Len()-1; cur != nil; cur, i = cur.parent, i-1 {
		s[i] = cur.site
	}
	return s
}

func (cs *CallStack) String() string {
	parts := make([]string, 0, cs.Len())
	for _, s := range cs.Sites() {
		parts = append(parts, s.String())
	}
	return strings.Join(parts, "->")
}

func (cs *CallStack) push(site CallSite) *CallStack {
	// "|" never appears in a file:line location
	key := string(site)
	if cs != nil {
		key = cs.key + "|" + key
	}
	return &CallStack{site: site, parent: cs, depth: cs.Len() + 1, key: key}
}

// Push adds a call to the stack. When the stack would exceed k calls, the oldest calls are dropped; k <= 0 means
// no bound.
func Push(cs *CallStack, site CallSite, k int) *CallStack {
	if k <= 0 || cs.Len() < k {
		return cs.push(site)
	}
	var res *CallStack
	for _, s := range cs.Sites()[cs.Len()-k+1:] {
		res = res.push(s)
	}
	return res.push(site)
}

// Pop matches a return to a call. When the stack is empty the return is unbalanced and allowed: the result is the
// empty stack. Otherwise the return is valid only if site is the most recent call, and the call is removed.
func Pop(cs *CallStack, site CallSite) (*CallStack, bool) {
	if cs == nil {
		return nil, true
	}
	if cs.site != site {
		return cs, false
	}
	return cs.parent, true
}

// IsRecursive returns true if the call is already on the stack
func IsRecursive(cs *CallStack, site CallSite) bool {
	for cur := cs; cur != nil; cur = cur.parent {
		if cur.site == site {
			return true
		}
	}
	return false
}
