package webdav_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/talonhollow/webdavd"
	"github.com/talonhollow/webdavd/lockmgr"
	"github.com/talonhollow/webdavd/memfs"
)

func newTestServer(t *testing.T) (*httptest.Server, *webdav.Server) {
	t.Helper()
	backend := memfs.New(zerolog.Nop())
	locks := lockmgr.New(nil, zerolog.Nop())
	srv := webdav.NewServer(backend, locks, zerolog.Nop(), webdav.DefaultConfig())
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts, srv
}

func do(t *testing.T, method, url, body string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestPutThenGet(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := do(t, http.MethodPut, ts.URL+"/a.txt", "hello world", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = do(t, http.MethodGet, ts.URL+"/a.txt", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	b, _ := io.ReadAll(resp.Body)
	require.Equal(t, "hello world", string(b))
}

func TestLockedResourceRejectsWriteWithoutToken(t *testing.T) {
	ts, _ := newTestServer(t)

	do(t, http.MethodPut, ts.URL+"/locked.txt", "v1", nil)
	lockBody := `<?xml version="1.0"?><D:lockinfo xmlns:D="DAV:"><D:lockscope><D:exclusive/></D:lockscope><D:locktype><D:write/></D:locktype><D:owner><D:href>alice</D:href></D:owner></D:lockinfo>`
	resp := do(t, "LOCK", ts.URL+"/locked.txt", lockBody, map[string]string{"Depth": "0"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token := strings.Trim(resp.Header.Get("Lock-Token"), "<>")
	require.NotEmpty(t, token)

	resp = do(t, http.MethodPut, ts.URL+"/locked.txt", "v2", nil)
	require.Equal(t, 423, resp.StatusCode)

	resp = do(t, http.MethodPut, ts.URL+"/locked.txt", "v2", map[string]string{
		"If": "(<" + token + ">)",
	})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestLockCreatesResourceOnFirstUse(t *testing.T) {
	ts, _ := newTestServer(t)

	lockBody := `<?xml version="1.0"?><D:lockinfo xmlns:D="DAV:"><D:lockscope><D:exclusive/></D:lockscope><D:locktype><D:write/></D:locktype></D:lockinfo>`
	resp := do(t, "LOCK", ts.URL+"/new.txt", lockBody, map[string]string{"Depth": "0"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("Lock-Token"))

	resp = do(t, http.MethodGet, ts.URL+"/new.txt", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPropfindDepthInfinityCountsSubtree(t *testing.T) {
	ts, _ := newTestServer(t)

	do(t, "MKCOL", ts.URL+"/d", "", nil)
	do(t, http.MethodPut, ts.URL+"/d/a.txt", "a", nil)
	do(t, http.MethodPut, ts.URL+"/d/b.txt", "b", nil)

	resp := do(t, "PROPFIND", ts.URL+"/d", "", map[string]string{"Depth": "infinity"})
	require.Equal(t, 207, resp.StatusCode)
	b, _ := io.ReadAll(resp.Body)
	out := string(b)
	require.Equal(t, 3, strings.Count(out, "<D:response>"))
}

func TestProppatchProtectsDAVNamespace(t *testing.T) {
	ts, _ := newTestServer(t)
	do(t, http.MethodPut, ts.URL+"/a.txt", "x", nil)

	patch := `<?xml version="1.0"?><D:propertyupdate xmlns:D="DAV:"><D:set><D:prop><D:displayname>nope</D:displayname></D:prop></D:set></D:propertyupdate>`
	resp := do(t, "PROPPATCH", ts.URL+"/a.txt", patch, nil)
	require.Equal(t, 207, resp.StatusCode)
	b, _ := io.ReadAll(resp.Body)
	require.Contains(t, string(b), "403")
}

func TestProppatchSetsAndPropfindReturnsDeadProperty(t *testing.T) {
	ts, _ := newTestServer(t)
	do(t, http.MethodPut, ts.URL+"/a.txt", "x", nil)

	patch := `<?xml version="1.0"?><D:propertyupdate xmlns:D="DAV:"><D:set><D:prop><color xmlns="http://example.com/ns">red</color></D:prop></D:set></D:propertyupdate>`
	resp := do(t, "PROPPATCH", ts.URL+"/a.txt", patch, nil)
	require.Equal(t, 207, resp.StatusCode)

	find := `<?xml version="1.0"?><D:propfind xmlns:D="DAV:"><D:prop><color xmlns="http://example.com/ns"/></D:prop></D:propfind>`
	resp = do(t, "PROPFIND", ts.URL+"/a.txt", find, map[string]string{"Depth": "0"})
	require.Equal(t, 207, resp.StatusCode)
	b, _ := io.ReadAll(resp.Body)
	require.Contains(t, string(b), "red")
}

func TestCopyWithoutOverwriteFailsWhenDestinationExists(t *testing.T) {
	ts, _ := newTestServer(t)
	do(t, http.MethodPut, ts.URL+"/src.txt", "s", nil)
	do(t, http.MethodPut, ts.URL+"/dst.txt", "d", nil)

	resp := do(t, "COPY", ts.URL+"/src.txt", "", map[string]string{
		"Destination": ts.URL + "/dst.txt",
		"Overwrite":   "F",
	})
	require.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)
}

func TestCopyCreatesNewDestination(t *testing.T) {
	ts, _ := newTestServer(t)
	do(t, http.MethodPut, ts.URL+"/src.txt", "hello", nil)

	resp := do(t, "COPY", ts.URL+"/src.txt", "", map[string]string{
		"Destination": ts.URL + "/dst.txt",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = do(t, http.MethodGet, ts.URL+"/dst.txt", "", nil)
	b, _ := io.ReadAll(resp.Body)
	require.Equal(t, "hello", string(b))
}

func TestMoveRemovesSource(t *testing.T) {
	ts, _ := newTestServer(t)
	do(t, http.MethodPut, ts.URL+"/src.txt", "hello", nil)

	resp := do(t, "MOVE", ts.URL+"/src.txt", "", map[string]string{
		"Destination": ts.URL + "/dst.txt",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = do(t, http.MethodGet, ts.URL+"/src.txt", "", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = do(t, http.MethodGet, ts.URL+"/dst.txt", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDeleteMultiStatusOnPartialFailure(t *testing.T) {
	ts, _ := newTestServer(t)
	do(t, "MKCOL", ts.URL+"/d", "", nil)
	do(t, http.MethodPut, ts.URL+"/d/child.txt", "c", nil)

	lockBody := `<?xml version="1.0"?><D:lockinfo xmlns:D="DAV:"><D:lockscope><D:exclusive/></D:lockscope><D:locktype><D:write/></D:locktype></D:lockinfo>`
	do(t, "LOCK", ts.URL+"/d/child.txt", lockBody, map[string]string{"Depth": "0"})

	resp := do(t, http.MethodDelete, ts.URL+"/d", "", nil)
	require.Equal(t, 207, resp.StatusCode)
	b, _ := io.ReadAll(resp.Body)
	require.Contains(t, string(b), "423")
}

func TestIfNoneMatchGuardsCreation(t *testing.T) {
	ts, _ := newTestServer(t)
	do(t, http.MethodPut, ts.URL+"/a.txt", "v1", nil)

	resp := do(t, http.MethodPut, ts.URL+"/a.txt", "v2", map[string]string{
		"If-None-Match": "*",
	})
	require.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)
}

func TestUnlockReleasesLock(t *testing.T) {
	ts, _ := newTestServer(t)
	do(t, http.MethodPut, ts.URL+"/a.txt", "v1", nil)

	lockBody := `<?xml version="1.0"?><D:lockinfo xmlns:D="DAV:"><D:lockscope><D:exclusive/></D:lockscope><D:locktype><D:write/></D:locktype></D:lockinfo>`
	resp := do(t, "LOCK", ts.URL+"/a.txt", lockBody, map[string]string{"Depth": "0"})
	token := strings.Trim(resp.Header.Get("Lock-Token"), "<>")

	resp = do(t, "UNLOCK", ts.URL+"/a.txt", "", map[string]string{"Lock-Token": "<" + token + ">"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = do(t, http.MethodPut, ts.URL+"/a.txt", "v2", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}
