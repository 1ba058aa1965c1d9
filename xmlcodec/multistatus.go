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

package xmlcodec

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"sort"

	"github.com/talonhollow/webdavd/davpath"
	"github.com/talonhollow/webdavd/status"
)

// PropValue is one property inside a <propstat>'s <prop>: its name and,
// unless this is answering a PROPNAME request, its value as a well-formed
// XML fragment (already escaped/composed by the property engine).
type PropValue struct {
	Name PropName
	XML  string
}

// PropStatGroup groups the properties that share one HTTP status inside a
// single PROPFIND <response>, per spec.md §4.2.
type PropStatGroup struct {
	Code  int
	Props []PropValue
}

type response struct {
	href        string
	wholeStatus int // non-zero => single <status>, used by COPY/MOVE/DELETE
	groups      []PropStatGroup
}

// MultiStatus accumulates <D:response> entries and serializes them as a
// single 207 Multi-Status document, allocating fresh ns0, ns1, … prefixes
// for every namespace besides DAV: encountered across all entries so that
// no client namespace can collide with the reserved "D" prefix.
type MultiStatus struct {
	responses []response
}

func NewMultiStatus() *MultiStatus {
	return &MultiStatus{}
}

// AddPropStat adds a per-property response, used by PROPFIND/PROPPATCH.
func (m *MultiStatus) AddPropStat(href string, groups ...PropStatGroup) {
	m.responses = append(m.responses, response{href: href, groups: groups})
}

// AddStatus adds a whole-resource response, used by COPY/MOVE/DELETE tree
// error reporting (spec.md §4.7).
func (m *MultiStatus) AddStatus(href string, code int) {
	m.responses = append(m.responses, response{href: href, wholeStatus: code})
}

// Len reports how many <response> entries have been accumulated.
func (m *MultiStatus) Len() int {
	return len(m.responses)
}

func (m *MultiStatus) namespaces() map[string]string {
	ns := map[string]string{DAVNamespace: "D"}
	var others []string
	seen := map[string]bool{DAVNamespace: true}
	for _, r := range m.responses {
		for _, g := range r.groups {
			for _, p := range g.Props {
				if p.Name.Space == "" || seen[p.Name.Space] {
					continue
				}
				seen[p.Name.Space] = true
				others = append(others, p.Name.Space)
			}
		}
	}
	sort.Strings(others)
	for i, space := range others {
		ns[space] = fmt.Sprintf("ns%d", i)
	}
	return ns
}

func escAttr(s string) string {
	var buf bytes.Buffer
	xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

// WriteTo serializes the accumulated responses as a DAV:multistatus
// document, writing the XML declaration and every namespace declaration on
// the root element (spec.md §4.2).
func (m *MultiStatus) WriteTo(w io.Writer) (int64, error) {
	ns := m.namespaces()

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.WriteString(`<D:multistatus`)
	// Deterministic attribute order: D first, then ns0, ns1, … by index.
	buf.WriteString(` xmlns:D="DAV:"`)
	others := make([]string, 0, len(ns))
	for space, prefix := range ns {
		if prefix == "D" {
			continue
		}
		others = append(others, space)
	}
	sort.Slice(others, func(i, j int) bool { return ns[others[i]] < ns[others[j]] })
	for _, space := range others {
		fmt.Fprintf(&buf, ` xmlns:%s="%s"`, ns[space], escAttr(space))
	}
	buf.WriteString(">")

	for _, r := range m.responses {
		buf.WriteString("<D:response>")
		fmt.Fprintf(&buf, "<D:href>%s</D:href>", escAttr(davpath.URLEncode(r.href)))
		if r.wholeStatus != 0 {
			short, _ := status.Text(r.wholeStatus)
			fmt.Fprintf(&buf, "<D:status>HTTP/1.1 %d %s</D:status>", r.wholeStatus, escAttr(short))
		}
		for _, g := range r.groups {
			buf.WriteString("<D:propstat><D:prop>")
			for _, p := range g.Props {
				tag := qualify(ns, p.Name)
				if p.XML == "" {
					fmt.Fprintf(&buf, "<%s/>", tag)
				} else {
					fmt.Fprintf(&buf, "<%s>%s</%s>", tag, p.XML, tag)
				}
			}
			short, _ := status.Text(g.Code)
			fmt.Fprintf(&buf, "</D:prop><D:status>HTTP/1.1 %d %s</D:status></D:propstat>", g.Code, escAttr(short))
		}
		buf.WriteString("</D:response>")
	}
	buf.WriteString("</D:multistatus>")

	n, err := w.Write(buf.Bytes())
	return int64(n), err
}

func qualify(ns map[string]string, n PropName) string {
	prefix, ok := ns[n.Space]
	if !ok || prefix == "" {
		return n.Local
	}
	return prefix + ":" + n.Local
}
