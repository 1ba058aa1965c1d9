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

// Package memfs is an in-memory webdav.Backend, useful for tests and
// throwaway demo deployments. It replaces the teacher's memfs.go
// Path/File/FileHandle trio with a flat map keyed by URI and an explicit
// per-namespace dead-property map, since the engine itself now owns tree
// recursion and property resolution order.
package memfs

import (
	"bytes"
	"context"
	"io"
	gopath "path"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/talonhollow/webdavd"
	"github.com/talonhollow/webdavd/davpath"
	"github.com/talonhollow/webdavd/status"
	"github.com/talonhollow/webdavd/xmlcodec"
)

type entry struct {
	dir         bool
	data        []byte
	contentType string
	created     time.Time
	modified    time.Time
	deadProps   map[string]map[string]string // namespace -> local name -> XML fragment
}

func newEntry(dir bool) *entry {
	now := time.Now()
	e := &entry{dir: dir, created: now, modified: now, deadProps: map[string]map[string]string{}}
	if !dir {
		e.data = []byte{}
	}
	return e
}

func (e *entry) clone() *entry {
	c := &entry{dir: e.dir, contentType: e.contentType, created: e.created, modified: e.modified, deadProps: map[string]map[string]string{}}
	if e.data != nil {
		c.data = append([]byte(nil), e.data...)
	}
	for ns, props := range e.deadProps {
		c.deadProps[ns] = make(map[string]string, len(props))
		for k, v := range props {
			c.deadProps[ns][k] = v
		}
	}
	return c
}

// FS is an in-memory webdav.Backend implementation.
type FS struct {
	mu      sync.Mutex
	entries map[string]*entry
	log     zerolog.Logger
}

// New creates an FS with just the root collection "/".
func New(log zerolog.Logger) *FS {
	return &FS{entries: map[string]*entry{"/": newEntry(true)}, log: log}
}

func (fs *FS) BaseURI() string { return "/" }

func (fs *FS) Exists(_ context.Context, uri string) (bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	_, ok := fs.entries[uri]
	return ok, nil
}

func (fs *FS) IsCollection(_ context.Context, uri string) (bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	e, ok := fs.entries[uri]
	if !ok {
		return false, status.ErrNotFound
	}
	return e.dir, nil
}

func (fs *FS) Children(_ context.Context, uri string) ([]string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if e, ok := fs.entries[uri]; !ok || !e.dir {
		return nil, nil
	}
	var out []string
	for p := range fs.entries {
		if _, ok := davpath.Included(p, uri, 1); ok && p != uri {
			out = append(out, p)
		}
	}
	return out, nil
}

func (fs *FS) Stat(_ context.Context, uri string) (webdav.ResourceInfo, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	e, ok := fs.entries[uri]
	if !ok {
		return webdav.ResourceInfo{}, status.ErrNotFound
	}
	return webdav.ResourceInfo{
		Collection:   e.dir,
		Size:         int64(len(e.data)),
		ContentType:  e.contentType,
		Created:      e.created,
		LastModified: e.modified,
	}, nil
}

func (fs *FS) GetData(_ context.Context, uri string, rng *webdav.ByteRange) (io.ReadCloser, int64, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	e, ok := fs.entries[uri]
	if !ok {
		return nil, 0, status.ErrNotFound
	}
	if e.dir {
		return nil, 0, status.ErrForbidden
	}
	data := e.data
	if rng != nil {
		start := rng.Start
		end := rng.End
		if end < 0 || end >= int64(len(data)) {
			end = int64(len(data)) - 1
		}
		if start < 0 || start > end {
			data = nil
		} else {
			data = data[start : end+1]
		}
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func (fs *FS) Put(_ context.Context, uri string, body io.Reader, contentType string) error {
	b, err := io.ReadAll(body)
	if err != nil {
		return status.Wrap(status.KindConflict, err, "failed to read request body")
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	e, ok := fs.entries[uri]
	if !ok {
		e = newEntry(false)
		fs.entries[uri] = e
	} else if e.dir {
		return status.ErrForbidden
	}
	e.data = b
	e.contentType = contentType
	e.modified = time.Now()
	return nil
}

func (fs *FS) Mkcol(_ context.Context, uri string) error {
	parent := gopath.Dir(uri)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.entries[uri]; ok {
		return status.ErrConflict
	}
	if p, ok := fs.entries[parent]; !ok || !p.dir {
		return status.ErrConflict
	}
	fs.entries[uri] = newEntry(true)
	return nil
}

func (fs *FS) DeleteOne(_ context.Context, uri string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	e, ok := fs.entries[uri]
	if !ok {
		return status.ErrNotFound
	}
	if e.dir {
		return status.ErrForbidden
	}
	delete(fs.entries, uri)
	return nil
}

func (fs *FS) DeleteCollection(_ context.Context, uri string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	e, ok := fs.entries[uri]
	if !ok {
		return status.ErrNotFound
	}
	if !e.dir {
		return status.ErrForbidden
	}
	delete(fs.entries, uri)
	return nil
}

func (fs *FS) CopyOne(_ context.Context, src, dst string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	e, ok := fs.entries[src]
	if !ok {
		return status.ErrNotFound
	}
	fs.entries[dst] = e.clone()
	return nil
}

func (fs *FS) CopyCollection(_ context.Context, src, dst string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	e, ok := fs.entries[src]
	if !ok {
		return status.ErrNotFound
	}
	c := e.clone()
	c.dir = true
	fs.entries[dst] = c
	return nil
}

func (fs *FS) GetDeadProp(_ context.Context, uri string, name xmlcodec.PropName) (string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	e, ok := fs.entries[uri]
	if !ok {
		return "", status.ErrNotFound
	}
	v, ok := e.deadProps[name.Space][name.Local]
	if !ok {
		return "", status.ErrNotFound
	}
	return v, nil
}

func (fs *FS) SetDeadProp(_ context.Context, uri string, name xmlcodec.PropName, xmlFragment string) error {
	if name.Space == xmlcodec.DAVNamespace {
		return status.ErrForbidden
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	e, ok := fs.entries[uri]
	if !ok {
		return status.ErrNotFound
	}
	if e.deadProps[name.Space] == nil {
		e.deadProps[name.Space] = map[string]string{}
	}
	e.deadProps[name.Space][name.Local] = xmlFragment
	return nil
}

func (fs *FS) DelDeadProp(_ context.Context, uri string, name xmlcodec.PropName) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	e, ok := fs.entries[uri]
	if !ok {
		return status.ErrNotFound
	}
	delete(e.deadProps[name.Space], name.Local)
	return nil
}

func (fs *FS) ListAllPropNames(_ context.Context, uri string) (map[string][]string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	e, ok := fs.entries[uri]
	if !ok {
		return nil, status.ErrNotFound
	}
	out := map[string][]string{}
	for ns, props := range e.deadProps {
		for local := range props {
			out[ns] = append(out[ns], local)
		}
	}
	return out, nil
}

// DisplayName implements webdav.DisplayNamer, overriding the engine's
// default Secret behavior with the teacher's original choice: a
// resource's URI base name.
func (fs *FS) DisplayName(_ context.Context, uri string) (string, error) {
	return webdav.DefaultDisplayName(uri), nil
}
