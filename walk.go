package webdav

import (
	"context"
	"net/http"

	"github.com/talonhollow/webdavd/davpath"
	"github.com/talonhollow/webdavd/status"
)

// node is one resource visited by the tree walker.
type node struct {
	URI        string
	Collection bool
}

// flatten lists uri and, subject to depth, every descendant beneath it, in
// pre-order (parent before children) — the order PROPFIND and COPY want.
// depth follows the Depth header convention: 0 means just uri,
// lockmgr.DepthInfinity means the whole subtree, and 1 means uri plus its
// immediate children.
func (s *Server) flatten(ctx context.Context, uri string, depth int) ([]node, error) {
	isCol, err := s.backend.IsCollection(ctx, uri)
	if err != nil {
		return nil, err
	}
	out := []node{{URI: uri, Collection: isCol}}
	if depth == 0 || !isCol {
		return out, nil
	}

	children, err := s.backend.Children(ctx, uri)
	if err != nil {
		return nil, err
	}
	childDepth := depth - 1
	if depth < 0 {
		childDepth = depth // stays -1 (infinity)
	}
	for _, c := range children {
		sub, err := s.flatten(ctx, c, childDepth)
		if err != nil {
			return nil, err
		}
		out = append(out, sub...)
	}
	return out, nil
}

// deleteTree removes uri and, if it is a collection, every descendant,
// per spec.md §4.7: children are removed before their parent (so a
// collection is always empty when DeleteCollection runs), and if any
// delete fails its ancestors are not deleted and are reported as 424
// Failed Dependency — in PyWebDAV3's davcmd.py a
// delete that fails on a node aborts that node's whole subtree, since an
// ancestor cannot be removed out from under a child. exclude names nodes
// (and, transitively, their descendants and the ancestors that still
// contain them) to leave untouched entirely —
// MOVE passes its COPY failures here, since a source node whose copy
// never landed on the destination must not be deleted either (spec.md
// §4.7's MOVE exclude-set rule). Returns the set of failures (uri ->
// HTTP status), if any; on a completely clean tree the caller answers
// 204 rather than a Multi-Status.
func (s *Server) deleteTree(ctx context.Context, uri string, exclude map[string]int) (map[string]int, error) {
	nodes, err := s.flatten(ctx, uri, -1)
	if err != nil {
		return nil, err
	}

	failed := map[string]int{}
	// Reverse order: children before parents.
	for i := len(nodes) - 1; i >= 0; i-- {
		n := nodes[i]
		if failedAncestor(exclude, n.URI) || failedDescendant(exclude, n.URI) {
			continue
		}
		if failedDescendant(failed, n.URI) {
			// A child of n failed to delete, so n is not actually
			// empty; DeleteCollection would either error or silently
			// remove a non-empty node, and the caller needs to see n
			// named in the Multi-Status response alongside its child.
			failed[n.URI] = http.StatusFailedDependency
			continue
		}
		if !s.checkCanWrite(ctx, n.URI) {
			failed[n.URI] = status.Locked
			continue
		}
		var derr error
		if n.Collection {
			derr = s.backend.DeleteCollection(ctx, n.URI)
		} else {
			derr = s.backend.DeleteOne(ctx, n.URI)
		}
		if derr != nil {
			failed[n.URI] = codeForErr(derr)
		}
	}
	return failed, nil
}

// failedAncestor reports whether some entry in failed is a strict ancestor
// of uri (or uri itself) — used by the forward-order copy walk, where a
// node's parent is always visited before it, to skip a node whose parent
// was never created.
func failedAncestor(failed map[string]int, uri string) bool {
	for f := range failed {
		if f == uri || davpath.IsAncestor(uri, f) {
			return true
		}
	}
	return false
}

// failedDescendant reports whether some entry in failed lies beneath uri —
// used by the reverse-order delete walk, where a node's children are always
// visited before it, to tell whether an already-failed child leaves uri
// non-empty.
func failedDescendant(failed map[string]int, uri string) bool {
	for f := range failed {
		if f == uri || davpath.IsAncestor(f, uri) {
			return true
		}
	}
	return false
}

// copyTree copies src to dst, per spec.md §4.7: forward order (parent
// before children, so a collection exists before its children are copied
// into it), pre-deleting dst when it already exists and Overwrite is
// true, and refusing Depth:1 entirely for a collection source since
// RFC 4918 only allows Depth 0 or infinity on COPY. attempted reports
// whether any src node was actually reached for copying — it is false
// only when the whole operation aborted during the dst pre-delete, in
// which case failed names dst nodes, not src ones, and moveTree must not
// mistake that map for a src exclude set.
func (s *Server) copyTree(ctx context.Context, src, dst string, depth int, overwrite bool) (created bool, failed map[string]int, attempted bool, err error) {
	srcIsCol, err := s.backend.IsCollection(ctx, src)
	if err != nil {
		return false, nil, false, err
	}
	if srcIsCol && depth != -1 && depth != 0 {
		return false, nil, false, status.New(status.KindBadRequest, "COPY Depth must be 0 or infinity for a collection")
	}

	existed, err := s.backend.Exists(ctx, dst)
	if err != nil {
		return false, nil, false, err
	}
	if existed {
		if !overwrite {
			return false, nil, false, status.ErrPreconditionFailed
		}
		if f, derr := s.deleteTree(ctx, dst, nil); derr != nil {
			return false, nil, false, derr
		} else if len(f) > 0 {
			return false, f, false, nil
		}
	}

	walkDepth := 0
	if srcIsCol && depth == -1 {
		walkDepth = -1
	}
	nodes, err := s.flatten(ctx, src, walkDepth)
	if err != nil {
		return false, nil, false, err
	}

	failed = map[string]int{}
	for _, n := range nodes {
		rel := n.URI[len(src):]
		target := dst + rel
		if failedAncestor(failed, n.URI) {
			failed[n.URI] = http.StatusFailedDependency
			continue
		}
		var cerr error
		if n.Collection {
			cerr = s.backend.CopyCollection(ctx, n.URI, target)
		} else {
			cerr = s.backend.CopyOne(ctx, n.URI, target)
		}
		if cerr != nil {
			failed[n.URI] = codeForErr(cerr)
		}
	}
	return !existed, failed, true, nil
}

// moveTree implements MOVE as COPY followed by a DELETE of the source
// subtree (spec.md §4.7) — PyWebDAV3's davcmd.movetree does the same
// two-step, rather than a backend-level rename, calling deltree
// unconditionally after copytree and passing the copy's failures as an
// exclude set, so a source node whose copy failed is never deleted while
// everything that copied cleanly still is. If the copy never reached src
// at all (it aborted while clearing an existing dst), the source is left
// untouched entirely rather than deleted out from under a copy that never
// happened.
func (s *Server) moveTree(ctx context.Context, src, dst string, depth int, overwrite bool) (created bool, failed map[string]int, err error) {
	created, copyFailed, attempted, err := s.copyTree(ctx, src, dst, depth, overwrite)
	if err != nil || !attempted {
		return created, copyFailed, err
	}
	delFailed, err := s.deleteTree(ctx, src, copyFailed)
	if err != nil {
		return created, copyFailed, err
	}
	failed = copyFailed
	for uri, code := range delFailed {
		if failed == nil {
			failed = map[string]int{}
		}
		failed[uri] = code
	}
	return created, failed, nil
}

func codeForErr(err error) int {
	if se, ok := status.As(err); ok {
		if se.Kind == status.KindSecret {
			return http.StatusOK
		}
		return se.Kind.Code()
	}
	return http.StatusInternalServerError
}
