package xmlcodec

import (
	"strings"
	"testing"
)

func TestParsePropFindEmptyIsAllProp(t *testing.T) {
	req, err := ParsePropFind(strings.NewReader(""))
	if err != nil {
		t.Fatal(err)
	}
	if req.Kind != AllProp {
		t.Errorf("Kind = %v, want AllProp", req.Kind)
	}
}

func TestParsePropFindProp(t *testing.T) {
	body := `<?xml version="1.0"?>
<D:propfind xmlns:D="DAV:">
  <D:prop><D:displayname/><D:getcontentlength/></D:prop>
</D:propfind>`
	req, err := ParsePropFind(strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if req.Kind != Prop {
		t.Fatalf("Kind = %v, want Prop", req.Kind)
	}
	if len(req.Names) != 2 {
		t.Fatalf("got %d names, want 2: %+v", len(req.Names), req.Names)
	}
	if req.Names[0].Local != "displayname" || req.Names[0].Space != "DAV:" {
		t.Errorf("Names[0] = %+v", req.Names[0])
	}
}

func TestParsePropFindPropname(t *testing.T) {
	body := `<D:propfind xmlns:D="DAV:"><D:propname/></D:propfind>`
	req, err := ParsePropFind(strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if req.Kind != PropNameOnly {
		t.Errorf("Kind = %v, want PropNameOnly", req.Kind)
	}
}

func TestParsePropPatchPreservesOrder(t *testing.T) {
	body := `<?xml version="1.0"?>
<D:propertyupdate xmlns:D="DAV:" xmlns:Z="http://example.com/z">
  <D:set><D:prop><Z:color>red</Z:color></D:prop></D:set>
  <D:remove><D:prop><Z:size/></D:prop></D:remove>
  <D:set><D:prop><Z:shape>square</Z:shape></D:prop></D:set>
</D:propertyupdate>`
	ops, err := ParsePropPatch(strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 3 {
		t.Fatalf("got %d ops, want 3: %+v", len(ops), ops)
	}
	wantActions := []PropPatchAction{Set, Remove, Set}
	wantNames := []string{"color", "size", "shape"}
	for i, op := range ops {
		if op.Action != wantActions[i] {
			t.Errorf("ops[%d].Action = %v, want %v", i, op.Action, wantActions[i])
		}
		if op.Name.Local != wantNames[i] {
			t.Errorf("ops[%d].Name.Local = %q, want %q", i, op.Name.Local, wantNames[i])
		}
	}
	if ops[0].XML != "red" {
		t.Errorf("ops[0].XML = %q, want %q", ops[0].XML, "red")
	}
}

func TestParseLockInfoEmptyIsRefresh(t *testing.T) {
	li, err := ParseLockInfo(strings.NewReader(""))
	if err != nil {
		t.Fatal(err)
	}
	if li != nil {
		t.Errorf("got %+v, want nil (refresh request)", li)
	}
}

func TestParseLockInfoExclusive(t *testing.T) {
	body := `<?xml version="1.0"?>
<D:lockinfo xmlns:D="DAV:">
  <D:lockscope><D:exclusive/></D:lockscope>
  <D:locktype><D:write/></D:locktype>
  <D:owner><D:href>http://example.com/~user</D:href></D:owner>
</D:lockinfo>`
	li, err := ParseLockInfo(strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if li.Scope != Exclusive {
		t.Errorf("Scope = %v, want Exclusive", li.Scope)
	}
	if !strings.Contains(li.Owner, "~user") {
		t.Errorf("Owner = %q, want it to contain the verbatim href", li.Owner)
	}
}

func TestParseLockInfoShared(t *testing.T) {
	body := `<D:lockinfo xmlns:D="DAV:">
  <D:lockscope><D:shared/></D:lockscope>
  <D:locktype><D:write/></D:locktype>
  <D:owner>me</D:owner>
</D:lockinfo>`
	li, err := ParseLockInfo(strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if li.Scope != Shared {
		t.Errorf("Scope = %v, want Shared", li.Scope)
	}
}

func TestParseLockInfoRejectsBothScopes(t *testing.T) {
	body := `<D:lockinfo xmlns:D="DAV:">
  <D:lockscope><D:shared/><D:exclusive/></D:lockscope>
  <D:locktype><D:write/></D:locktype>
  <D:owner>me</D:owner>
</D:lockinfo>`
	if _, err := ParseLockInfo(strings.NewReader(body)); err == nil {
		t.Error("expected an error for a lockinfo naming both scopes")
	}
}
