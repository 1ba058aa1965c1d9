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

package cond

import (
	"log"
	"testing"
)

func TestParse(t *testing.T) {
	examples := map[string]bool{
		"foobar":                false,
		"(a":                    false,
		"([b":                   false,
		"(Not a":                false,
		"":                      true,
		"(a)":                   true,
		"(a) (b)":               true,
		"(Not a Not b Not [d])": true,
		"(Not a) (Not b)":       true,
		"([a])":                 true,
	}

	for s, exp := range examples {
		log.Println("parsing:", s)
		o, err := ParseIfTag(s)
		ok := err == nil
		if exp != ok {
			t.Errorf("'%s' did not parse as expected, got [%+v]: %v", s, o, err)
		} else {
			log.Printf("got [%+v]: %v", o, err)
		}
	}
}

func TestTokenFinder(t *testing.T) {
	if uuid, ok := TokenFinder("opaquelocktoken:abc-123"); !ok || uuid != "abc-123" {
		t.Errorf("got (%q, %v), want (\"abc-123\", true)", uuid, ok)
	}
	if _, ok := TokenFinder("[W/\"etag\"]"); ok {
		t.Error("an etag literal should not be treated as a token")
	}
}

type fakeEnv struct {
	etags map[string]string
	locks map[string]string // resource -> token
}

func (e fakeEnv) ETag(r string) string { return e.etags[r] }
func (e fakeEnv) Locked(r, token string) bool { return e.locks[r] == token }

func TestIfTagEvalMatchesLockToken(t *testing.T) {
	env := fakeEnv{locks: map[string]string{"/a": "opaquelocktoken:abc"}}
	tag, err := ParseIfTag("(<opaquelocktoken:abc>)")
	if err != nil {
		t.Fatal(err)
	}
	if !tag.Eval(env, "/a") {
		t.Error("expected the header to be satisfied by a matching lock token")
	}
	if tag.Eval(env, "/b") {
		t.Error("expected the header to fail for an unlocked resource")
	}
}

func TestIfTagEvalORsGroups(t *testing.T) {
	env := fakeEnv{etags: map[string]string{"/a": "v1"}}
	tag, err := ParseIfTag(`([v0]) ([v1])`)
	if err != nil {
		t.Fatal(err)
	}
	if !tag.Eval(env, "/a") {
		t.Error("expected one matching group to satisfy the whole header")
	}
}

func TestGetSingleStateRejectsMultipleConditions(t *testing.T) {
	tag, err := ParseIfTag("(<opaquelocktoken:abc> [etag])")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := tag.GetSingleState(); ok {
		t.Error("expected GetSingleState to reject a group with more than one condition")
	}
}

func TestGetSingleStateExtractsLoneToken(t *testing.T) {
	tag, err := ParseIfTag("(<opaquelocktoken:abc>)")
	if err != nil {
		t.Fatal(err)
	}
	token, ok := tag.GetSingleState()
	if !ok || token != "opaquelocktoken:abc" {
		t.Errorf("got (%q, %v), want (\"opaquelocktoken:abc\", true)", token, ok)
	}
}

func TestRewriteHostsRejectsMismatch(t *testing.T) {
	tag, err := ParseIfTag("<http://other.example/a> (<opaquelocktoken:abc>)")
	if err != nil {
		t.Fatal(err)
	}
	if err := tag.RewriteHosts("example.com"); err == nil {
		t.Error("expected a mismatched tagged host to be rejected")
	}
}
