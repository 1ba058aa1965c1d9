package webdav

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/talonhollow/webdavd/lockmgr"
	"github.com/talonhollow/webdavd/memfs"
	"github.com/talonhollow/webdavd/status"
	"github.com/talonhollow/webdavd/xmlcodec"
)

// failOnNthSet wraps a memfs.FS and fails the nth call to SetDeadProp,
// letting a test reproduce a PROPPATCH that succeeds on some ops and then
// hits a runtime backend error on a later one in the same request.
type failOnNthSet struct {
	*memfs.FS
	n     int
	calls int
}

func (f *failOnNthSet) SetDeadProp(ctx context.Context, uri string, name xmlcodec.PropName, xml string) error {
	f.calls++
	if f.calls == f.n {
		return status.ErrConflict
	}
	return f.FS.SetDeadProp(ctx, uri, name, xml)
}

func propName(local string) xmlcodec.PropName {
	return xmlcodec.PropName{Space: "http://example.com/ns", Local: local}
}

// TestApplyPropPatchStopsAtFirstFailure exercises spec.md §4.6's required
// execution strategy: ops before the failing one keep the 200 they already
// earned, the failing op keeps its own status, and everything after it is
// marked 424 without ever reaching the backend.
func TestApplyPropPatchStopsAtFirstFailure(t *testing.T) {
	backend := &failOnNthSet{FS: memfs.New(zerolog.Nop()), n: 2}
	locks := lockmgr.New(nil, zerolog.Nop())
	s := NewServer(backend, locks, zerolog.Nop(), DefaultConfig())

	ctx := context.Background()
	require.NoError(t, backend.Put(ctx, "/a.txt", strings.NewReader("x"), "text/plain"))

	ops := []xmlcodec.PropPatchOp{
		{Action: xmlcodec.Set, Name: propName("first"), XML: "1"},
		{Action: xmlcodec.Set, Name: propName("second"), XML: "2"},
		{Action: xmlcodec.Set, Name: propName("third"), XML: "3"},
	}

	groups := s.applyPropPatch(ctx, "/a.txt", ops)

	codeFor := func(local string) int {
		for _, g := range groups {
			for _, p := range g.Props {
				if p.Name.Local == local {
					return g.Code
				}
			}
		}
		t.Fatalf("no status recorded for %q", local)
		return 0
	}

	require.Equal(t, http.StatusOK, codeFor("first"))
	require.Equal(t, status.KindConflict.Code(), codeFor("second"))
	require.Equal(t, status.FailedDependency, codeFor("third"))

	// The op that ran before the failure actually reached the backend.
	v, err := backend.GetDeadProp(ctx, "/a.txt", propName("first"))
	require.NoError(t, err)
	require.Equal(t, "1", v)

	// The ops at and after the failure never touched the backend.
	_, err = backend.GetDeadProp(ctx, "/a.txt", propName("second"))
	require.Error(t, err)
	_, err = backend.GetDeadProp(ctx, "/a.txt", propName("third"))
	require.Error(t, err)
}
