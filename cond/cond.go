// Copyright 2014 Google Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cond parses and evaluates the WebDAV If request header (RFC
// 4918 §10.4): a disjunction of per-resource condition groups, each a
// conjunction of lock-token and ETag tests. The grammar is ASCII-only
// (state tokens and entity tags never carry multi-byte runes), so parsing
// works directly on string slices rather than through a separate
// rune-lexer stage.
package cond

import (
	"fmt"
	"net/url"
	"strings"
)

// Env supplies the facts a condition is tested against.
type Env interface {
	// ETag returns the current ETag of the resource named by r.
	ETag(r string) string
	// Locked reports whether lock token l currently covers resource r.
	// A shared lock may be covered by more than one token, so this is
	// checked per-candidate rather than by comparing a single owner.
	Locked(r, l string) bool
}

// StateCondition is a single bracketed or unbracketed entry inside a
// condition group: either a lock-token state ("<urn:...>") or an entity
// tag ("[...]"), optionally negated with a leading "Not".
type StateCondition struct {
	Negate bool
	Token  string
	ETag   string
}

func (c StateCondition) String() string {
	var b strings.Builder
	if c.Negate {
		b.WriteString("Not ")
	}
	if c.Token != "" {
		b.WriteString(c.Token)
	} else {
		b.WriteByte('[')
		b.WriteString(c.ETag)
		b.WriteByte(']')
	}
	return b.String()
}

// ConditionGroup is one parenthesized list of StateConditions, implicitly
// AND'ed together and scoped to a single tagged resource (or the request
// URI, if untagged).
type ConditionGroup struct {
	Resource   string
	Conditions []StateCondition
}

func (g ConditionGroup) String() string {
	var b strings.Builder
	if g.Resource != "" {
		b.WriteByte('<')
		b.WriteString(g.Resource)
		b.WriteString("> ")
	}
	b.WriteByte('(')
	for i, c := range g.Conditions {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(c.String())
	}
	b.WriteByte(')')
	return b.String()
}

// IfTag is a fully parsed If header: its Groups are OR'ed together, so the
// header as a whole is satisfied once any one group's conditions all hold
// — a disjunction of conjunctions.
type IfTag struct {
	Groups []*ConditionGroup
}

// Eval reports whether the header is satisfied for request URI rdef: true
// once any one group's conditions all hold against e, false if none do
// (including the case where the header has no groups at all).
func (t *IfTag) Eval(e Env, rdef string) bool {
nextGroup:
	for _, g := range t.Groups {
		r := rdef
		if g.Resource != "" {
			r = g.Resource
		}
		for _, c := range g.Conditions {
			held := e.ETag(r) == c.ETag
			if c.Token != "" {
				held = e.Locked(r, c.Token)
			}
			if held == c.Negate {
				// held == true and Negate == true, or held == false
				// and Negate == false: either way this condition
				// fails, so the group as a whole cannot hold.
				continue nextGroup
			}
		}
		return true
	}
	return false
}

// GetAllTokens collects every lock-token state named anywhere in the
// header, across all groups, in document order.
func (t *IfTag) GetAllTokens() []string {
	var tokens []string
	for _, g := range t.Groups {
		for _, c := range g.Conditions {
			if c.Token != "" {
				tokens = append(tokens, c.Token)
			}
		}
	}
	return tokens
}

// GetSingleState extracts the lone, unqualified lock-token state this
// header names, for a LOCK refresh request (a bare "If: (<token>)"). Any
// header carrying more than one group, more than one condition, a
// negation, or an ETag test is ambiguous for this purpose and reports
// ok=false.
func (t *IfTag) GetSingleState() (token string, ok bool) {
	if len(t.Groups) != 1 || len(t.Groups[0].Conditions) != 1 {
		return "", false
	}
	c := t.Groups[0].Conditions[0]
	if c.Negate || c.ETag != "" {
		return "", false
	}
	return c.Token, true
}

// RewriteHosts resolves every tagged resource against host h, verifying
// any that carry an explicit host match it, and reduces each to a bare
// path afterward.
func (t *IfTag) RewriteHosts(h string) error {
	for _, g := range t.Groups {
		if g.Resource == "" {
			continue
		}
		u, err := url.Parse(g.Resource)
		if err != nil {
			return fmt.Errorf("cond: bad resource URI %q: %w", g.Resource, err)
		}
		if u.Host != "" && u.Host != h {
			return fmt.Errorf("cond: resource host %q does not match %q", u.Host, h)
		}
		g.Resource = u.Path
	}
	return nil
}

func (t *IfTag) String() string {
	parts := make([]string, len(t.Groups))
	for i, g := range t.Groups {
		parts[i] = g.String()
	}
	return strings.Join(parts, " ")
}

// opaqueTokenPrefix is the scheme every lock token on the wire carries:
// "<opaquelocktoken:UUID>", with the surrounding angle brackets already
// stripped during parsing.
const opaqueTokenPrefix = "opaquelocktoken:"

// TokenFinder extracts the UUID portion of an opaquelocktoken state
// value. It reports ok=false for any state that isn't of that form,
// which callers treat as an opaque token to compare verbatim instead.
func TokenFinder(state string) (uuid string, ok bool) {
	rest, found := strings.CutPrefix(state, opaqueTokenPrefix)
	if !found {
		return "", false
	}
	return rest, true
}

// ParseIfTag parses the value of an If request header into its groups.
// Parsing works directly against the remaining input string — no
// tokenizer runs ahead of it — trimming consumed text off the front as
// each group and condition is recognized.
func ParseIfTag(s string) (*IfTag, error) {
	groups, err := parseGroups(s)
	if err != nil {
		return &IfTag{Groups: groups}, err
	}
	return &IfTag{Groups: groups}, nil
}

// parseGroups consumes zero or more whitespace-separated condition groups
// from s until nothing but whitespace remains.
func parseGroups(s string) ([]*ConditionGroup, error) {
	var groups []*ConditionGroup
	for {
		s = strings.TrimSpace(s)
		if s == "" {
			return groups, nil
		}
		g := &ConditionGroup{}
		if s[0] == '<' {
			end := strings.IndexByte(s, '>')
			if end < 0 {
				return groups, fmt.Errorf("cond: unterminated resource tag in %q", s)
			}
			g.Resource = s[1:end]
			if g.Resource == "" {
				return groups, fmt.Errorf("cond: empty resource tag")
			}
			s = strings.TrimSpace(s[end+1:])
		}
		if s == "" || s[0] != '(' {
			return groups, fmt.Errorf("cond: expected '(' at %q", s)
		}
		s = s[1:]
		for {
			s = strings.TrimSpace(s)
			if s == "" {
				return groups, fmt.Errorf("cond: unterminated condition group")
			}
			if s[0] == ')' {
				s = s[1:]
				break
			}
			c, rest, err := parseStateCondition(s)
			if err != nil {
				return groups, err
			}
			g.Conditions = append(g.Conditions, c)
			s = rest
		}
		groups = append(groups, g)
	}
}

// parseStateCondition consumes a single "[Not] <token-or-etag>" entry from
// the front of s and returns what's left afterward.
func parseStateCondition(s string) (c StateCondition, rest string, err error) {
	if after, ok := strings.CutPrefix(s, "Not"); ok {
		c.Negate = true
		s = strings.TrimSpace(after)
	}
	if s == "" {
		return c, s, fmt.Errorf("cond: expected a state condition")
	}
	if s[0] == '[' {
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return c, s, fmt.Errorf("cond: unterminated entity-tag in %q", s)
		}
		c.ETag = s[1:end]
		if c.ETag == "" {
			return c, s, fmt.Errorf("cond: empty entity-tag")
		}
		return c, s[end+1:], nil
	}

	end := strings.IndexAny(s, ") ")
	if end < 0 {
		end = len(s)
	}
	tok := s[:end]
	if len(tok) >= 2 && tok[0] == '<' && tok[len(tok)-1] == '>' {
		tok = tok[1 : len(tok)-1]
	}
	if tok == "" {
		return c, s, fmt.Errorf("cond: empty state-token")
	}
	c.Token = tok
	return c, s[end:], nil
}
