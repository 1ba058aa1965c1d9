package webdav

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/talonhollow/webdavd/lockmgr"
	"github.com/talonhollow/webdavd/status"
	"github.com/talonhollow/webdavd/xmlcodec"
)

// liveProperties is every DAV: property the engine synthesizes itself
// (spec.md §4.6), as opposed to properties a backend stores as dead
// properties under the DAV: namespace, which it never does — DAV: is
// reserved and PROPPATCH rejects writes to it (spec.md §4.6's resolution
// order: live always wins, dead properties under DAV: cannot exist).
var liveProperties = map[string]bool{
	"creationdate":       true,
	"displayname":        true,
	"getcontentlanguage": true,
	"getcontentlength":   true,
	"getcontenttype":     true,
	"getetag":            true,
	"getlastmodified":    true,
	"lockdiscovery":      true,
	"resourcetype":       true,
	"source":             true,
	"supportedlock":      true,
}

// getProp resolves a single property for uri, in the order spec.md §4.6
// requires: DAV: live properties first (always authoritative, never
// shadowed by a dead property of the same name), then the backend's dead
// property store, and status.ErrNotFound otherwise.
func (s *Server) getProp(ctx context.Context, uri string, info ResourceInfo, name xmlcodec.PropName) (string, error) {
	if name.Space == xmlcodec.DAVNamespace && liveProperties[name.Local] {
		return s.getLiveProp(ctx, uri, info, name.Local)
	}
	return s.backend.GetDeadProp(ctx, uri, name)
}

func (s *Server) getLiveProp(ctx context.Context, uri string, info ResourceInfo, local string) (string, error) {
	switch local {
	case "creationdate":
		return info.Created.UTC().Format(time.RFC3339), nil
	case "displayname":
		if dn, ok := s.backend.(DisplayNamer); ok {
			return dn.DisplayName(ctx, uri)
		}
		// Preserves PyWebDAV3's default: displayname is always hidden
		// unless a backend explicitly supplies one.
		return "", status.ErrSecret
	case "getcontentlanguage":
		return "", status.ErrNotFound
	case "getcontentlength":
		if info.Collection {
			return "", status.ErrNotFound
		}
		return strconv.FormatInt(info.Size, 10), nil
	case "getcontenttype":
		if info.Collection {
			return "httpd/unix-directory", nil
		}
		if info.ContentType == "" {
			return "", status.ErrNotFound
		}
		return info.ContentType, nil
	case "getetag":
		if info.Collection {
			return "", status.ErrNotFound
		}
		return quoteETag(info), nil
	case "getlastmodified":
		return info.LastModified.UTC().Format(http.TimeFormat), nil
	case "lockdiscovery":
		return lockDiscoveryXML(s.locks.ActiveLocks(uri)), nil
	case "resourcetype":
		if info.Collection {
			return `<D:collection xmlns:D="DAV:"/>`, nil
		}
		return "", nil
	case "source":
		if sp, ok := s.backend.(SourceProvider); ok {
			return sp.Source(ctx, uri)
		}
		return "", status.ErrNotFound
	case "supportedlock":
		return supportedLockXML, nil
	}
	return "", status.ErrNotFound
}

const supportedLockXML = `<D:lockentry xmlns:D="DAV:"><D:lockscope><D:exclusive/></D:lockscope><D:locktype><D:write/></D:locktype></D:lockentry><D:lockentry xmlns:D="DAV:"><D:lockscope><D:shared/></D:lockscope><D:locktype><D:write/></D:locktype></D:lockentry>`

func quoteETag(info ResourceInfo) string {
	if info.ETag != "" {
		return `"` + info.ETag + `"`
	}
	return fmt.Sprintf(`"%d-%d"`, info.Size, info.LastModified.UnixNano())
}

func lockDiscoveryXML(locks []*lockmgr.Lock) string {
	if len(locks) == 0 {
		return ""
	}
	out := ""
	for _, l := range locks {
		scope := "<D:exclusive/>"
		if l.Scope == lockmgr.Shared {
			scope = "<D:shared/>"
		}
		depth := "0"
		if l.Depth == lockmgr.DepthInfinity {
			depth = "infinity"
		}
		timeout := "Infinite"
		if l.Timeout > 0 {
			timeout = fmt.Sprintf("Second-%d", int(l.Timeout.Seconds()))
		}
		owner := l.OwnerXML
		if owner != "" {
			owner = "<D:owner>" + owner + "</D:owner>"
		}
		out += "<D:activelock>" +
			"<D:locktype><D:write/></D:locktype>" +
			"<D:lockscope>" + scope + "</D:lockscope>" +
			"<D:depth>" + depth + "</D:depth>" +
			owner +
			"<D:timeout>" + timeout + "</D:timeout>" +
			"<D:locktoken><D:href>" + l.Token + "</D:href></D:locktoken>" +
			"</D:activelock>"
	}
	return `<D:lockdiscovery xmlns:D="DAV:">` + out + `</D:lockdiscovery>`
}

// DefaultDisplayName is what the teacher used (the URI's base name),
// offered for backends that choose to implement DisplayNamer instead of
// accepting the default Secret behavior.
func DefaultDisplayName(uri string) string {
	return path.Base(uri)
}

// propNamesForFind resolves which property names a PROPFIND request
// actually wants: the explicit list for Prop, or every live property plus
// every dead property name the backend reports, for AllProp and PropName.
func (s *Server) propNamesForFind(ctx context.Context, uri string, req xmlcodec.PropFindRequest) ([]xmlcodec.PropName, error) {
	if req.Kind == xmlcodec.Prop {
		return req.Names, nil
	}

	var names []xmlcodec.PropName
	for local := range liveProperties {
		names = append(names, xmlcodec.PropName{Space: xmlcodec.DAVNamespace, Local: local})
	}
	dead, err := s.backend.ListAllPropNames(ctx, uri)
	if err != nil {
		return nil, err
	}
	for space, locals := range dead {
		for _, local := range locals {
			names = append(names, xmlcodec.PropName{Space: space, Local: local})
		}
	}
	return names, nil
}

// buildPropStat resolves every requested property for one resource and
// groups the results by status code, per spec.md §4.2/§4.6.
func (s *Server) buildPropStat(ctx context.Context, uri string, info ResourceInfo, names []xmlcodec.PropName, nameOnly bool) []xmlcodec.PropStatGroup {
	okGroup := xmlcodec.PropStatGroup{Code: http.StatusOK}
	missing := xmlcodec.PropStatGroup{Code: http.StatusNotFound}

	for _, n := range names {
		v, err := s.getProp(ctx, uri, info, n)
		if err != nil {
			if status.IsSecret(err) {
				continue
			}
			missing.Props = append(missing.Props, xmlcodec.PropValue{Name: n})
			continue
		}
		if nameOnly {
			okGroup.Props = append(okGroup.Props, xmlcodec.PropValue{Name: n})
		} else {
			okGroup.Props = append(okGroup.Props, xmlcodec.PropValue{Name: n, XML: v})
		}
	}

	var groups []xmlcodec.PropStatGroup
	if len(okGroup.Props) > 0 {
		groups = append(groups, okGroup)
	}
	if len(missing.Props) > 0 {
		groups = append(groups, missing)
	}
	return groups
}

// applyPropPatch validates and applies a PROPPATCH request (spec.md
// §4.6). A first pass rejects the request outright, before any backend
// call, if it writes to the DAV: namespace, so a statically invalid
// request mutates nothing. Applied ops are not rolled back: a second
// pass then applies the remaining ops in document order and stops at
// the first runtime failure (only discoverable by trying it): ops before
// that index already mutated the backend and keep their true 200, the
// failing op keeps its own error status, and every op after it is
// relabeled FailedDependency without ever reaching the backend.
func (s *Server) applyPropPatch(ctx context.Context, uri string, ops []xmlcodec.PropPatchOp) []xmlcodec.PropStatGroup {
	results := make([]int, len(ops))

	protected := false
	for i, op := range ops {
		if op.Name.Space == xmlcodec.DAVNamespace {
			results[i] = http.StatusForbidden
			protected = true
		}
	}
	if protected {
		for i, op := range ops {
			if op.Name.Space != xmlcodec.DAVNamespace {
				results[i] = status.FailedDependency
			}
		}
		return groupPropPatchResults(ops, results)
	}

	failedAt := -1
	for i, op := range ops {
		var err error
		if op.Action == xmlcodec.Remove {
			err = s.backend.DelDeadProp(ctx, uri, op.Name)
		} else {
			err = s.backend.SetDeadProp(ctx, uri, op.Name, op.XML)
		}
		if err != nil {
			results[i] = codeForErr(err)
			failedAt = i
			break
		}
		results[i] = http.StatusOK
	}
	if failedAt >= 0 {
		for i := failedAt + 1; i < len(ops); i++ {
			results[i] = status.FailedDependency
		}
	}

	return groupPropPatchResults(ops, results)
}

func groupPropPatchResults(ops []xmlcodec.PropPatchOp, results []int) []xmlcodec.PropStatGroup {
	byCode := map[int][]xmlcodec.PropValue{}
	var order []int
	for i, op := range ops {
		c := results[i]
		if _, ok := byCode[c]; !ok {
			order = append(order, c)
		}
		byCode[c] = append(byCode[c], xmlcodec.PropValue{Name: op.Name})
	}
	groups := make([]xmlcodec.PropStatGroup, 0, len(order))
	for _, c := range order {
		groups = append(groups, xmlcodec.PropStatGroup{Code: c, Props: byCode[c]})
	}
	return groups
}
