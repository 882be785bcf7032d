// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package detection

import "unicode/utf8"

// keywordIndex is an Aho-Corasick automaton over ASCII keywords. It finds
// whether any keyword occurs in a text in one pass, O(len(text)), however
// many keywords there are. Matching is ASCII case-insensitive.
//
// The index is immutable after construction and safe for concurrent use.
type keywordIndex struct {
	nodes []acNode
}

type acNode struct {
	next    map[byte]int32
	fail    int32
	matched bool
}

// newKeywordIndex builds the automaton. Empty keywords are ignored.
func newKeywordIndex(keywords ...string) *keywordIndex {
	idx := &keywordIndex{nodes: []acNode{{next: map[byte]int32{}}}}
	for _, kw := range keywords {
		if kw != "" {
			idx.insert(kw)
		}
	}
	idx.link()
	return idx
}

func (idx *keywordIndex) insert(kw string) {
	cur := int32(0)
	for i := 0; i < len(kw); i++ {
		b := lowerASCII(kw[i])
		nxt, ok := idx.nodes[cur].next[b]
		if !ok {
			idx.nodes = append(idx.nodes, acNode{next: map[byte]int32{}})
			nxt = int32(len(idx.nodes) - 1)
			idx.nodes[cur].next[b] = nxt
		}
		cur = nxt
	}
	idx.nodes[cur].matched = true
}

// link computes failure links breadth first. A node whose failure chain
// reaches a keyword end is marked matched so containsAny needs no chain walk.
func (idx *keywordIndex) link() {
	queue := make([]int32, 0, len(idx.nodes))
	for _, child := range idx.nodes[0].next {
		idx.nodes[child].fail = 0
		queue = append(queue, child)
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for b, child := range idx.nodes[cur].next {
			queue = append(queue, child)
			f := idx.nodes[cur].fail
			for {
				if nxt, ok := idx.nodes[f].next[b]; ok {
					idx.nodes[child].fail = nxt
					break
				}
				if f == 0 {
					idx.nodes[child].fail = 0
					break
				}
				f = idx.nodes[f].fail
			}
			if idx.nodes[idx.nodes[child].fail].matched {
				idx.nodes[child].matched = true
			}
		}
	}
}

// containsAny reports whether any keyword occurs in text.
func (idx *keywordIndex) containsAny(text string) bool {
	cur := int32(0)
	for i := 0; i < len(text); i++ {
		b := lowerASCII(text[i])
		for {
			if nxt, ok := idx.nodes[cur].next[b]; ok {
				cur = nxt
				break
			}
			if cur == 0 {
				break
			}
			cur = idx.nodes[cur].fail
		}
		if idx.nodes[cur].matched {
			return true
		}
	}
	return false
}

func lowerASCII(b byte) byte {
	if 'A' <= b && b <= 'Z' {
		return b + ('a' - 'A')
	}
	return b
}

// injectionKeywords holds a literal that every injection signature needs in
// order to match. Payloads without any of them skip the regular expressions.
var injectionKeywords = newKeywordIndex(
	// SQL statements, comments, tautologies, stacked queries and quotes
	"select", "insert", "update", "delete", "drop", "union", "alter",
	"--", "#", "/*", "*/", "or", "and", ";", "'", `"`,
	// XSS: every tag based signature starts with '<'
	"<", "javascript:", "data:text/html",
)

// mayContainInjection is the cheap pre-check in front of MatchInjection.
// Case-insensitive regular expressions also fold a few non-ASCII runes onto
// ASCII letters, so non-ASCII payloads always take the full check.
func mayContainInjection(payload string) bool {
	if !isASCII(payload) {
		return true
	}
	return injectionKeywords.containsAny(payload)
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
