package xmlcodec

import (
	"bytes"
	"net/http"
	"strings"
	"testing"
)

func TestMultiStatusAllocatesNamespacePrefixes(t *testing.T) {
	ms := NewMultiStatus()
	ms.AddPropStat("/a.txt",
		PropStatGroup{Code: http.StatusOK, Props: []PropValue{
			{Name: PropName{Space: DAVNamespace, Local: "getetag"}, XML: `"abc"`},
			{Name: PropName{Space: "http://example.com/z", Local: "color"}, XML: "red"},
		}},
	)

	var buf bytes.Buffer
	if _, err := ms.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()

	if !strings.Contains(out, `xmlns:D="DAV:"`) {
		t.Errorf("missing D namespace declaration: %s", out)
	}
	if !strings.Contains(out, `xmlns:ns0="http://example.com/z"`) {
		t.Errorf("missing ns0 namespace declaration: %s", out)
	}
	if !strings.Contains(out, "<D:getetag>") {
		t.Errorf("DAV: property should use the D prefix: %s", out)
	}
	if !strings.Contains(out, "<ns0:color>red</ns0:color>") {
		t.Errorf("non-DAV property should use its allocated prefix: %s", out)
	}
	if !strings.Contains(out, "<D:href>/a.txt</D:href>") {
		t.Errorf("href missing or mis-encoded: %s", out)
	}
}

func TestMultiStatusWholeResourceStatus(t *testing.T) {
	ms := NewMultiStatus()
	ms.AddStatus("/d/nope", http.StatusForbidden)

	var buf bytes.Buffer
	if _, err := ms.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "HTTP/1.1 403") {
		t.Errorf("missing whole-resource status line: %s", out)
	}
	if strings.Contains(out, "<D:propstat>") {
		t.Errorf("whole-resource response should not carry a propstat: %s", out)
	}
}

func TestMultiStatusPropnameHasNoValue(t *testing.T) {
	ms := NewMultiStatus()
	ms.AddPropStat("/a.txt", PropStatGroup{Code: http.StatusOK, Props: []PropValue{
		{Name: PropName{Space: DAVNamespace, Local: "displayname"}},
	}})

	var buf bytes.Buffer
	if _, err := ms.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "<D:displayname/>") {
		t.Errorf("propname-only entries should self-close: %s", buf.String())
	}
}
