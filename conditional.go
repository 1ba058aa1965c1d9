package webdav

import (
	"context"
	"net/http"
	"strings"

	"github.com/talonhollow/webdavd/cond"
)

type ctxKey int

const ifTagCtxKey ctxKey = iota

func withIfTag(ctx context.Context, tag *cond.IfTag) context.Context {
	if tag == nil {
		return ctx
	}
	return context.WithValue(ctx, ifTagCtxKey, tag)
}

func ifTagFromContext(ctx context.Context) *cond.IfTag {
	tag, _ := ctx.Value(ifTagCtxKey).(*cond.IfTag)
	return tag
}

// fsEnv adapts a Server to cond.Env so an If: header (spec.md §4.8) can be
// evaluated against live ETags and the lock table, the same role the
// teacher's fsEnv played against its FileSystem/lockmaster pair.
type fsEnv struct {
	s   *Server
	ctx context.Context
}

func (e fsEnv) ETag(uri string) string {
	info, err := e.s.backend.Stat(e.ctx, uri)
	if err != nil {
		return ""
	}
	return strings.Trim(quoteETag(info), `"`)
}

func (e fsEnv) Locked(uri, token string) bool {
	return e.s.locks.HasToken(uri, token)
}

// checkCanWrite reports whether the request may write uri, per spec.md
// §4.8: an unlocked resource always permits the write; a locked one
// requires an If: header naming at least one token HasToken confirms
// covers it (one such token suffices, even when several shared locks are
// held there).
func (s *Server) checkCanWrite(ctx context.Context, uri string) bool {
	if s.locks.HolderFor(uri) == nil {
		return true
	}
	tag := ifTagFromContext(ctx)
	if tag == nil {
		return false
	}
	for _, tok := range tag.GetAllTokens() {
		if s.locks.HasToken(uri, tok) {
			return true
		}
	}
	return false
}

// matchesAnyETag reports whether etag (unquoted) appears in header, a
// comma-separated If-Match/If-None-Match field possibly containing weak
// (W/"...") entries or the wildcard "*".
func matchesAnyETag(header, etag string) bool {
	if strings.TrimSpace(header) == "*" {
		return true
	}
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		part = strings.TrimPrefix(part, "W/")
		part = strings.Trim(part, `"`)
		if part == etag {
			return true
		}
	}
	return false
}

// evaluateETagPreconditions checks If-Match/If-None-Match (spec.md §4.8),
// which the teacher never implemented. exists reports whether the target
// resource currently exists; etag is only meaningful when it does.
//
// It returns 0 when the request should proceed, or the status code the
// caller should answer with otherwise: 412 for a failed If-Match, 412 for
// a failed If-None-Match on a mutating method, or 304 for a failed
// If-None-Match on GET/HEAD.
func evaluateETagPreconditions(r *http.Request, exists bool, etag string) int {
	if im := r.Header.Get("If-Match"); im != "" {
		if !exists || !matchesAnyETag(im, etag) {
			return http.StatusPreconditionFailed
		}
	}
	if inm := r.Header.Get("If-None-Match"); inm != "" {
		if exists && matchesAnyETag(inm, etag) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				return http.StatusNotModified
			}
			return http.StatusPreconditionFailed
		}
	}
	return 0
}
