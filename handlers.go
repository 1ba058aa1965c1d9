package webdav

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/talonhollow/webdavd/lockmgr"
	"github.com/talonhollow/webdavd/status"
	"github.com/talonhollow/webdavd/xmlcodec"
)

// doGetOrHead serves GET/HEAD/POST (spec.md §4.9), supporting single-range
// requests and gzip content-encoding — both absent from the teacher, whose
// servePath always returned the whole body uncompressed via
// http.ServeContent.
func (s *Server) doGetOrHead(ctx context.Context, w http.ResponseWriter, r *http.Request, uri string, withBody bool) int {
	exists, err := s.backend.Exists(ctx, uri)
	if err != nil {
		return s.writeError(w, uri, err)
	}
	if !exists {
		w.WriteHeader(http.StatusNotFound)
		return http.StatusNotFound
	}
	info, err := s.backend.Stat(ctx, uri)
	if err != nil {
		return s.writeError(w, uri, err)
	}
	et := strings.Trim(quoteETag(info), `"`)
	if code := evaluateETagPreconditions(r, true, et); code != 0 {
		w.WriteHeader(code)
		return code
	}

	if info.Collection {
		return s.serveCollectionListing(ctx, w, uri, withBody)
	}

	w.Header().Set("ETag", quoteETag(info))
	w.Header().Set("Last-Modified", info.LastModified.UTC().Format(http.TimeFormat))
	ct := info.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)

	var rng *ByteRange
	code := http.StatusOK
	if rh := r.Header.Get("Range"); rh != "" {
		if pr, ok := parseRange(rh, info.Size); ok {
			rng = &pr
			code = http.StatusPartialContent
		}
	}

	if !withBody {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
		w.WriteHeader(code)
		return code
	}

	body, size, err := s.backend.GetData(ctx, uri, rng)
	if err != nil {
		return s.writeError(w, uri, err)
	}
	defer body.Close()

	if rng != nil {
		end := rng.End
		if end < 0 {
			end = info.Size - 1
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", rng.Start, end, info.Size))
	}

	if rng == nil && acceptsGzip(r) && isCompressible(ct) {
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Vary", "Accept-Encoding")
		w.WriteHeader(code)
		gz := gzip.NewWriter(w)
		io.Copy(gz, body)
		gz.Close()
		return code
	}

	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.WriteHeader(code)
	io.Copy(w, body)
	return code
}

func (s *Server) serveCollectionListing(ctx context.Context, w http.ResponseWriter, uri string, withBody bool) int {
	w.Header().Set("Content-Type", "httpd/unix-directory")
	if !withBody {
		w.WriteHeader(http.StatusOK)
		return http.StatusOK
	}
	children, err := s.backend.Children(ctx, uri)
	if err != nil {
		return s.writeError(w, uri, err)
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "<html><body><h1>Index of %s</h1><ul>", uri)
	for _, c := range children {
		name := path.Base(c)
		fmt.Fprintf(w, `<li><a href="%s">%s</a></li>`, c, name)
	}
	fmt.Fprint(w, "</ul></body></html>")
	return http.StatusOK
}

func acceptsGzip(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept-Encoding"), "gzip")
}

func isCompressible(contentType string) bool {
	return strings.HasPrefix(contentType, "text/") ||
		strings.Contains(contentType, "xml") ||
		strings.Contains(contentType, "json")
}

// parseRange parses a single "bytes=start-end" Range header, per spec.md
// §4.9. Multi-range requests are rejected by returning ok=false, which
// callers treat as "serve the whole body" — a conservative but compliant
// fallback.
func parseRange(header string, size int64) (ByteRange, bool) {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return ByteRange{}, false
	}
	spec := strings.TrimPrefix(header, prefix)
	if strings.Contains(spec, ",") {
		return ByteRange{}, false
	}
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return ByteRange{}, false
	}
	if parts[0] == "" {
		// Suffix range: last N bytes.
		n, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || n <= 0 {
			return ByteRange{}, false
		}
		start := size - n
		if start < 0 {
			start = 0
		}
		return ByteRange{Start: start, End: size - 1}, true
	}
	start, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || start < 0 || start >= size {
		return ByteRange{}, false
	}
	if parts[1] == "" {
		return ByteRange{Start: start, End: -1}, true
	}
	end, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || end < start {
		return ByteRange{}, false
	}
	if end >= size {
		end = size - 1
	}
	return ByteRange{Start: start, End: end}, true
}

// doPut implements PUT (spec.md §4.9). Chunked request bodies need no
// special handling: net/http already de-chunks Transfer-Encoding: chunked
// before the handler sees r.Body, including the chunked uploads issued by
// the Microsoft Mini-Redirector.
func (s *Server) doPut(ctx context.Context, w http.ResponseWriter, r *http.Request, uri string) int {
	if !s.checkCanWrite(ctx, uri) {
		w.WriteHeader(status.Locked)
		return status.Locked
	}
	if isCol, err := s.backend.IsCollection(ctx, uri); err == nil && isCol {
		w.WriteHeader(http.StatusConflict)
		return http.StatusConflict
	}
	existed, err := s.backend.Exists(ctx, uri)
	if err != nil {
		return s.writeError(w, uri, err)
	}
	var etag string
	if existed {
		if info, err := s.backend.Stat(ctx, uri); err == nil {
			etag = strings.Trim(quoteETag(info), `"`)
		}
	}
	if code := evaluateETagPreconditions(r, existed, etag); code != 0 {
		w.WriteHeader(code)
		return code
	}

	ct := r.Header.Get("Content-Type")
	body := io.Reader(r.Body)
	if ct == "" && s.cfg.MimeCheck {
		br := bufio.NewReader(r.Body)
		peek, _ := br.Peek(512)
		ct = http.DetectContentType(peek)
		body = br
	}
	if ct == "" {
		ct = "application/octet-stream"
	}

	if err := s.backend.Put(ctx, uri, body, ct); err != nil {
		return s.writeError(w, uri, err)
	}
	code := http.StatusNoContent
	if !existed {
		code = http.StatusCreated
	}
	w.WriteHeader(code)
	return code
}

// doDelete implements DELETE (spec.md §4.7): a clean subtree answers 204,
// a partially-failed one answers 207 Multi-Status naming each failure.
func (s *Server) doDelete(ctx context.Context, w http.ResponseWriter, uri string) int {
	exists, err := s.backend.Exists(ctx, uri)
	if err != nil {
		return s.writeError(w, uri, err)
	}
	if !exists {
		w.WriteHeader(http.StatusNotFound)
		return http.StatusNotFound
	}
	if !s.checkCanWrite(ctx, uri) {
		w.WriteHeader(status.Locked)
		return status.Locked
	}

	failed, err := s.deleteTree(ctx, uri, nil)
	if err != nil {
		return s.writeError(w, uri, err)
	}
	if len(failed) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return http.StatusNoContent
	}
	if c, ok := failed[uri]; ok && len(failed) == 1 {
		w.WriteHeader(c)
		return c
	}
	return s.writeDeleteMultiStatus(w, failed)
}

func (s *Server) writeDeleteMultiStatus(w http.ResponseWriter, failed map[string]int) int {
	ms := xmlcodec.NewMultiStatus()
	for uri, code := range failed {
		ms.AddStatus(uri, code)
	}
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(status.MultiStatus)
	ms.WriteTo(w)
	return status.MultiStatus
}

// doMkcol implements MKCOL (spec.md §4.9).
func (s *Server) doMkcol(ctx context.Context, w http.ResponseWriter, r *http.Request, uri string) int {
	parent := path.Dir(strings.TrimSuffix(uri, "/"))
	if !s.checkCanWrite(ctx, parent) {
		w.WriteHeader(status.Locked)
		return status.Locked
	}
	if exists, err := s.backend.Exists(ctx, uri); err != nil {
		return s.writeError(w, uri, err)
	} else if exists {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return http.StatusMethodNotAllowed
	}
	if r.ContentLength > 0 {
		w.WriteHeader(http.StatusUnsupportedMediaType)
		return http.StatusUnsupportedMediaType
	}
	if err := s.backend.Mkcol(ctx, uri); err != nil {
		return s.writeError(w, uri, err)
	}
	w.WriteHeader(http.StatusCreated)
	return http.StatusCreated
}

// doCopyOrMove implements COPY and MOVE (spec.md §4.7).
func (s *Server) doCopyOrMove(ctx context.Context, w http.ResponseWriter, r *http.Request, src string, params requestParams, move bool) int {
	if move && !s.checkCanWrite(ctx, src) {
		w.WriteHeader(status.Locked)
		return status.Locked
	}

	dst, err := s.destinationURI(r)
	if err != nil {
		return s.writeError(w, src, err)
	}
	if !s.checkCanWrite(ctx, dst) {
		w.WriteHeader(status.Locked)
		return status.Locked
	}
	if exists, err := s.backend.Exists(ctx, src); err != nil {
		return s.writeError(w, src, err)
	} else if !exists {
		w.WriteHeader(http.StatusNotFound)
		return http.StatusNotFound
	}

	var created bool
	var failed map[string]int
	if move {
		created, failed, err = s.moveTree(ctx, src, dst, params.depth, params.overwrite)
	} else {
		created, failed, _, err = s.copyTree(ctx, src, dst, params.depth, params.overwrite)
	}
	if err != nil {
		return s.writeError(w, src, err)
	}
	if len(failed) > 0 {
		return s.writeDeleteMultiStatus(w, failed)
	}
	code := http.StatusNoContent
	if created {
		code = http.StatusCreated
	}
	w.WriteHeader(code)
	return code
}

func (s *Server) destinationURI(r *http.Request) (string, error) {
	dh := r.Header.Get("Destination")
	if dh == "" {
		return "", status.New(status.KindBadRequest, "missing Destination header")
	}
	u, err := url.Parse(dh)
	if err != nil {
		return "", status.Wrap(status.KindBadRequest, err, "invalid Destination header")
	}
	if u.Host != "" && u.Host != r.Host {
		return "", status.New(status.KindBadRequest, "Destination host does not match request host")
	}
	return u.Path, nil
}

// doPropfind implements PROPFIND (spec.md §4.2/§4.6).
func (s *Server) doPropfind(ctx context.Context, w http.ResponseWriter, r *http.Request, uri string, depth int) int {
	req, err := xmlcodec.ParsePropFind(r.Body)
	if err != nil {
		return s.writeError(w, uri, status.Wrap(status.KindBadRequest, err, "invalid propfind body"))
	}
	nodes, err := s.flatten(ctx, uri, depth)
	if err != nil {
		return s.writeError(w, uri, err)
	}

	ms := xmlcodec.NewMultiStatus()
	for _, n := range nodes {
		info, err := s.backend.Stat(ctx, n.URI)
		if err != nil {
			ms.AddStatus(n.URI, codeForErr(err))
			continue
		}
		names, err := s.propNamesForFind(ctx, n.URI, req)
		if err != nil {
			ms.AddStatus(n.URI, codeForErr(err))
			continue
		}
		groups := s.buildPropStat(ctx, n.URI, info, names, req.Kind == xmlcodec.PropNameOnly)
		ms.AddPropStat(n.URI, groups...)
	}

	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(status.MultiStatus)
	if isMiniRedirector(r) {
		var buf bytes.Buffer
		ms.WriteTo(&buf)
		w.Write(rewriteMiniRedirectorDates(buf.Bytes()))
	} else {
		ms.WriteTo(w)
	}
	return status.MultiStatus
}

// miniRedirectorUserAgent is the exact User-Agent the Microsoft Mini-
// Redirector (the WebDAV client built into Windows Explorer/Office, via
// "Microsoft Data Access Internet Publishing Provider") sends (spec.md
// §6.1).
const miniRedirectorUserAgent = "Microsoft Data Access Internet Publishing Provider DAV 1.1"

func isMiniRedirector(r *http.Request) bool {
	return r.Header.Get("User-Agent") == miniRedirectorUserAgent
}

// rewriteMiniRedirectorDates patches a serialized Multi-Status document for
// the Mini-Redirector's date-parsing bug: it refuses to recognize
// getlastmodified/creationdate values unless the element itself carries a
// b:dt attribute naming their format. PyWebDAV3 carried the same patch
// (WebDAVServer.py, do_PROPFIND) against its own "ns0" DAV prefix; this
// engine always uses "D", so the replacement targets that prefix instead.
func rewriteMiniRedirectorDates(data []byte) []byte {
	const uuidNS = `urn:uuid:c2f41010-65b3-11d1-a29f-00aa00c14882/`
	data = bytes.ReplaceAll(data, []byte("<D:getlastmodified>"),
		[]byte(`<D:getlastmodified xmlns:b="`+uuidNS+`" b:dt="dateTime.rfc1123">`))
	data = bytes.ReplaceAll(data, []byte("<D:creationdate>"),
		[]byte(`<D:creationdate xmlns:b="`+uuidNS+`" b:dt="dateTime.tz">`))
	return data
}

// doProppatch implements PROPPATCH (spec.md §4.6).
func (s *Server) doProppatch(ctx context.Context, w http.ResponseWriter, r *http.Request, uri string) int {
	if !s.checkCanWrite(ctx, uri) {
		w.WriteHeader(status.Locked)
		return status.Locked
	}
	if exists, err := s.backend.Exists(ctx, uri); err != nil {
		return s.writeError(w, uri, err)
	} else if !exists {
		w.WriteHeader(http.StatusNotFound)
		return http.StatusNotFound
	}

	ops, err := xmlcodec.ParsePropPatch(r.Body)
	if err != nil {
		return s.writeError(w, uri, status.Wrap(status.KindBadRequest, err, "invalid proppatch body"))
	}
	groups := s.applyPropPatch(ctx, uri, ops)

	ms := xmlcodec.NewMultiStatus()
	ms.AddPropStat(uri, groups...)
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(status.MultiStatus)
	ms.WriteTo(w)
	return status.MultiStatus
}

// doLock implements LOCK (spec.md §4.5), including refresh requests (an
// empty body plus an If: header naming the token to extend).
func (s *Server) doLock(ctx context.Context, w http.ResponseWriter, r *http.Request, uri string, params requestParams) int {
	info, err := xmlcodec.ParseLockInfo(r.Body)
	if err != nil {
		return s.writeError(w, uri, status.Wrap(status.KindBadRequest, err, "invalid lockinfo body"))
	}

	if info == nil {
		if params.ifTag == nil {
			w.WriteHeader(http.StatusBadRequest)
			return http.StatusBadRequest
		}
		tok, ok := params.ifTag.GetSingleState()
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			return http.StatusBadRequest
		}
		l, err := s.locks.Refresh(tok, params.timeout)
		if err != nil {
			w.WriteHeader(http.StatusPreconditionFailed)
			return http.StatusPreconditionFailed
		}
		return s.writeLockDiscovery(w, l, http.StatusOK)
	}

	parent := path.Dir(strings.TrimSuffix(uri, "/"))
	if exists, err := s.backend.Exists(ctx, parent); err != nil || !exists {
		w.WriteHeader(http.StatusConflict)
		return http.StatusConflict
	}

	scope := lockmgr.Exclusive
	if info.Scope == xmlcodec.Shared {
		scope = lockmgr.Shared
	}
	l, err := s.locks.Create(uri, scope, params.depth, info.Owner, params.timeout, r.RemoteAddr)
	if err == lockmgr.ErrLocked {
		w.WriteHeader(status.Locked)
		return status.Locked
	}
	if err != nil {
		return s.writeError(w, uri, err)
	}

	w.Header().Set("Lock-Token", "<"+l.Token+">")

	code := http.StatusOK
	if exists, _ := s.backend.Exists(ctx, uri); !exists {
		if err := s.backend.Put(ctx, uri, strings.NewReader(""), "application/octet-stream"); err != nil {
			s.locks.Release(l.Token)
			return s.writeError(w, uri, err)
		}
		code = http.StatusCreated
	}
	return s.writeLockDiscovery(w, l, code)
}

func (s *Server) writeLockDiscovery(w http.ResponseWriter, l *lockmgr.Lock, code int) int {
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(code)
	fmt.Fprint(w, xml.Header)
	fmt.Fprintf(w, `<D:prop xmlns:D="DAV:">%s</D:prop>`, lockDiscoveryXML([]*lockmgr.Lock{l}))
	return code
}

// doUnlock implements UNLOCK (spec.md §4.5).
func (s *Server) doUnlock(ctx context.Context, w http.ResponseWriter, r *http.Request, uri string) int {
	tok := strings.Trim(r.Header.Get("Lock-Token"), "<>")
	if tok == "" || !s.locks.HasToken(uri, tok) {
		w.WriteHeader(http.StatusConflict)
		return http.StatusConflict
	}
	s.locks.Release(tok)
	w.WriteHeader(http.StatusNoContent)
	return http.StatusNoContent
}

// doReport implements REPORT (spec.md §4.2 supplement). Only
// {DAV:}expand-property is understood, handled as an AllProp PROPFIND over
// the request URI and its descendants down to the request's Depth; any
// other report name is rejected the way RFC 4918 §9.14 prescribes, with
// 403 and a DAV:supported-report precondition element.
func (s *Server) doReport(ctx context.Context, w http.ResponseWriter, r *http.Request, uri string, depth int) int {
	var probe struct {
		XMLName xml.Name
	}
	b, err := io.ReadAll(r.Body)
	if err != nil {
		return s.writeError(w, uri, status.Wrap(status.KindBadRequest, err, "invalid REPORT body"))
	}
	if err := xml.Unmarshal(b, &probe); err != nil {
		return s.writeError(w, uri, status.Wrap(status.KindBadRequest, err, "invalid REPORT body"))
	}
	if probe.XMLName.Space != xmlcodec.DAVNamespace || probe.XMLName.Local != "expand-property" {
		w.Header().Set("Content-Type", "application/xml; charset=utf-8")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, xml.Header)
		fmt.Fprint(w, `<D:error xmlns:D="DAV:"><D:supported-report/></D:error>`)
		return http.StatusForbidden
	}

	nodes, err := s.flatten(ctx, uri, depth)
	if err != nil {
		return s.writeError(w, uri, err)
	}
	ms := xmlcodec.NewMultiStatus()
	for _, n := range nodes {
		info, err := s.backend.Stat(ctx, n.URI)
		if err != nil {
			ms.AddStatus(n.URI, codeForErr(err))
			continue
		}
		names, err := s.propNamesForFind(ctx, n.URI, xmlcodec.PropFindRequest{Kind: xmlcodec.AllProp})
		if err != nil {
			ms.AddStatus(n.URI, codeForErr(err))
			continue
		}
		ms.AddPropStat(n.URI, s.buildPropStat(ctx, n.URI, info, names, false)...)
	}
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(status.MultiStatus)
	ms.WriteTo(w)
	return status.MultiStatus
}
