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

// Package webdav implements the RFC 4918 Class 1/2 method dispatcher,
// property engine, tree walker, and conditional-request evaluator on top
// of an abstract Backend.
package webdav

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/talonhollow/webdavd/cond"
	"github.com/talonhollow/webdavd/lockmgr"
	"github.com/talonhollow/webdavd/status"
)

// Server is a http.Handler implementing WebDAV over an abstract Backend.
// It replaces the teacher's WebDAV struct: the lock table is now an
// independently constructed *lockmgr.Manager (so it can be shared, tested,
// or backed by Redis) rather than a private field built by NewWebDAV.
type Server struct {
	backend Backend
	locks   *lockmgr.Manager
	log     zerolog.Logger
	cfg     Config
	metrics RequestObserver
}

// RequestObserver receives per-request timing, letting callers (e.g.
// internal/metrics) wire Prometheus without Server importing it directly.
type RequestObserver interface {
	ObserveRequest(method string, status int, dur time.Duration)
}

// NewServer builds a dispatcher. locks may be freshly constructed with
// lockmgr.New(nil, log) for a purely in-memory table.
func NewServer(backend Backend, locks *lockmgr.Manager, log zerolog.Logger, cfg Config) *Server {
	return &Server{backend: backend, locks: locks, log: log, cfg: cfg}
}

// SetObserver wires a metrics sink; nil disables observation.
func (s *Server) SetObserver(o RequestObserver) { s.metrics = o }

// requestParams is the per-request state extracted from headers, the
// dispatcher's analogue of the teacher's context struct.
type requestParams struct {
	depth     int
	timeout   time.Duration
	overwrite bool
	ifTag     *cond.IfTag
}

func parseDepth(r *http.Request) (int, error) {
	dh := r.Header.Get("Depth")
	if dh == "" || strings.EqualFold(dh, "infinity") {
		return lockmgr.DepthInfinity, nil
	}
	d, err := strconv.Atoi(dh)
	if err != nil || d < 0 {
		return 0, status.Wrap(status.KindBadRequest, err, "invalid Depth header")
	}
	return d, nil
}

// parseTimeout reads the first usable option from the Timeout header,
// defaulting to one second, matching the teacher's parseTimeout — RFC
// 4918 permits a server to ignore this header entirely, so a lenient
// parse is conforming.
func parseTimeout(r *http.Request) time.Duration {
	opts := strings.SplitN(r.Header.Get("Timeout"), ",", 3)
	for _, o := range opts {
		o = strings.TrimSpace(o)
		if o == "Infinite" {
			return 0
		}
		o = strings.TrimPrefix(o, "Second-")
		d, err := strconv.Atoi(o)
		if err != nil {
			continue
		}
		return time.Duration(d) * time.Second
	}
	return time.Second
}

func parseIfHeader(r *http.Request) (*cond.IfTag, error) {
	ih := r.Header.Get("If")
	if ih == "" {
		return nil, nil
	}
	tag, err := cond.ParseIfTag(ih)
	if err != nil {
		return nil, err
	}
	if err := tag.RewriteHosts(r.Host); err != nil {
		return nil, err
	}
	return tag, nil
}

func (s *Server) extractParams(r *http.Request) (requestParams, error) {
	var p requestParams
	var err error
	if p.depth, err = parseDepth(r); err != nil {
		return p, err
	}
	if p.ifTag, err = parseIfHeader(r); err != nil {
		return p, status.Wrap(status.KindBadRequest, err, "invalid If header")
	}
	p.timeout = parseTimeout(r)
	p.overwrite = r.Header.Get("Overwrite") != "F"
	return p, nil
}

// ServeHTTP dispatches one WebDAV request. It mirrors the teacher's
// ServeHTTP: extract context, evaluate the If: header as a whole-request
// precondition, then switch on method.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	uri := r.URL.Path
	code := http.StatusOK

	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveRequest(r.Method, code, time.Since(start))
		}
	}()

	params, err := s.extractParams(r)
	if err != nil {
		code = s.writeError(w, uri, err)
		return
	}
	ctx := withIfTag(r.Context(), params.ifTag)

	if params.ifTag != nil && !params.ifTag.Eval(fsEnv{s: s, ctx: ctx}, uri) {
		s.log.Debug().Str("uri", uri).Msg("If precondition failed")
		code = http.StatusPreconditionFailed
		w.WriteHeader(code)
		return
	}

	if !s.cfg.LockEmulation && (r.Method == "LOCK" || r.Method == "UNLOCK") {
		code = http.StatusMethodNotAllowed
		s.writeAllowHeader(ctx, w, uri)
		w.WriteHeader(code)
		return
	}

	switch r.Method {
	case http.MethodOptions:
		s.doOptions(ctx, w, uri)
	case http.MethodGet:
		code = s.doGetOrHead(ctx, w, r, uri, true)
	case http.MethodHead:
		code = s.doGetOrHead(ctx, w, r, uri, false)
	case http.MethodPost:
		code = s.doGetOrHead(ctx, w, r, uri, true)
	case http.MethodPut:
		code = s.doPut(ctx, w, r, uri)
	case http.MethodDelete:
		code = s.doDelete(ctx, w, uri)
	case "MKCOL":
		code = s.doMkcol(ctx, w, r, uri)
	case "COPY":
		code = s.doCopyOrMove(ctx, w, r, uri, params, false)
	case "MOVE":
		code = s.doCopyOrMove(ctx, w, r, uri, params, true)
	case "PROPFIND":
		code = s.doPropfind(ctx, w, r, uri, params.depth)
	case "PROPPATCH":
		code = s.doProppatch(ctx, w, r, uri)
	case "LOCK":
		code = s.doLock(ctx, w, r, uri, params)
	case "UNLOCK":
		code = s.doUnlock(ctx, w, r, uri)
	case "REPORT":
		code = s.doReport(ctx, w, r, uri, params.depth)
	case http.MethodTrace:
		code = http.StatusNotImplemented
		w.WriteHeader(code)
	default:
		code = http.StatusMethodNotAllowed
		s.writeAllowHeader(ctx, w, uri)
		w.WriteHeader(code)
	}
}

func (s *Server) doOptions(ctx context.Context, w http.ResponseWriter, uri string) {
	compliance := "1"
	if s.cfg.LockEmulation {
		compliance = "1, 2"
	}
	w.Header().Set("DAV", compliance)
	w.Header().Set("MS-Author-Via", "DAV")
	s.writeAllowHeader(ctx, w, uri)
}

func (s *Server) writeAllowHeader(ctx context.Context, w http.ResponseWriter, uri string) {
	allowed := "OPTIONS, MKCOL, PUT"
	if s.cfg.LockEmulation {
		allowed += ", LOCK"
	}
	exists, err := s.backend.Exists(ctx, uri)
	if err == nil && exists {
		allowed = "OPTIONS, GET, HEAD, POST, DELETE, TRACE, PROPFIND, PROPPATCH, COPY, MOVE"
		if s.cfg.LockEmulation {
			allowed += ", LOCK, UNLOCK"
		}
		if isCol, _ := s.backend.IsCollection(ctx, uri); isCol {
			allowed += ", PUT"
		}
	}
	w.Header().Set("Allow", allowed)
}

// writeError maps a Backend/engine error to a wire status and writes it,
// returning the code actually written (for metrics).
func (s *Server) writeError(w http.ResponseWriter, uri string, err error) int {
	if status.IsSecret(err) {
		w.WriteHeader(http.StatusOK)
		return http.StatusOK
	}
	code := codeForErr(err)
	s.log.Debug().Str("uri", uri).Err(err).Int("status", code).Msg("request failed")
	w.WriteHeader(code)
	return code
}
