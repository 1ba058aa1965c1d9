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

// Package lockmgr is the WebDAV engine's lock table (spec.md §4.5). It is
// the one piece of state shared across requests (spec.md §5): the teacher
// kept it as a lockmaster value embedded directly in its WebDAV struct;
// here it is its own type, owned by the server and passed in, so it can be
// constructed, tested, and (optionally) backed by a shared Store
// independently of the dispatcher.
package lockmgr

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/talonhollow/webdavd/davpath"
)

// Depth restrictions a lock can carry. Only 0 and Infinity are legal for a
// lock request (spec.md §3); Depth 1 locks do not exist in WebDAV.
const (
	Depth0        = 0
	DepthInfinity = -1
)

// Scope is exclusive or shared (spec.md §3). Type is always "write" — the
// only lock type RFC 4918 Class 2 defines.
type Scope int

const (
	Exclusive Scope = iota
	Shared
)

// Lock is one entry in the lock table.
type Lock struct {
	URI         string
	Token       string
	Scope       Scope
	Depth       int
	Principal   string
	OwnerXML    string
	Timeout     time.Duration
	CreatedAt   time.Time
	RefreshedAt time.Time
}

// Valid reports whether the lock has not yet timed out, per spec.md §3:
// "a lock is valid while now <= refreshed_at + timeout".
func (l *Lock) Valid(now time.Time) bool {
	if l.Timeout <= 0 {
		return true // Infinite
	}
	return !now.After(l.RefreshedAt.Add(l.Timeout))
}

// ErrLocked is returned by Create when the requested lock is incompatible
// with an existing one on the URI.
var ErrLocked = &lockError{"locked"}

// ErrNoSuchLock is returned by Refresh/Release for an unknown token.
var ErrNoSuchLock = &lockError{"no such lock"}

type lockError struct{ msg string }

func (e *lockError) Error() string { return e.msg }

// Store optionally persists the lock table to a shared backing store (e.g.
// Redis, see internal/lockstore/redislock) so several dispatcher processes
// can share one lock table. Manager works perfectly well with a nil Store
// — every mutation simply stays in memory, matching the teacher's
// lockmaster exactly.
type Store interface {
	Save(l *Lock) error
	Delete(token string) error
	Load() ([]*Lock, error)
}

// Manager is the lock table. All operations are serialized through one
// mutex; per spec.md §5 it must be held only long enough to mutate/read
// in-memory state, never across backend I/O — callers never do backend
// calls from inside Manager.
type Manager struct {
	mu      sync.Mutex
	byToken map[string]*Lock
	byURI   map[string][]*Lock
	store   Store
	log     zerolog.Logger
	now     func() time.Time
}

// New creates a lock table. store may be nil for a purely in-memory table.
func New(store Store, log zerolog.Logger) *Manager {
	m := &Manager{
		byToken: make(map[string]*Lock),
		byURI:   make(map[string][]*Lock),
		store:   store,
		log:     log,
		now:     time.Now,
	}
	if store != nil {
		locks, err := store.Load()
		if err != nil {
			log.Warn().Err(err).Msg("lockmgr: failed to load lock store snapshot")
		}
		for _, l := range locks {
			m.byToken[l.Token] = l
			m.byURI[l.URI] = append(m.byURI[l.URI], l)
		}
	}
	return m
}

// reapLocked removes expired locks for uri, assuming mu is held.
func (m *Manager) reapLocked(uri string) {
	now := m.now()
	live := m.byURI[uri][:0]
	for _, l := range m.byURI[uri] {
		if l.Valid(now) {
			live = append(live, l)
			continue
		}
		delete(m.byToken, l.Token)
		if m.store != nil {
			if err := m.store.Delete(l.Token); err != nil {
				m.log.Warn().Err(err).Str("token", l.Token).Msg("lockmgr: failed to delete expired lock from store")
			}
		}
	}
	if len(live) == 0 {
		delete(m.byURI, uri)
	} else {
		m.byURI[uri] = live
	}
}

func (m *Manager) locksOnLocked(uri string) []*Lock {
	m.reapLocked(uri)
	return m.byURI[uri]
}

// descendantConflict reports whether any lock exists strictly beneath uri
// that would be incompatible with a new depth-infinity lock rooted there —
// the "at least reject conflicting descendants" floor spec.md §9(c) asks
// for, approximated (per spec.md §4.5) by scanning byURI for prefixes.
// A descendant lock conflicts when it or the new lock is exclusive.
func (m *Manager) descendantConflict(uri string, scope Scope) bool {
	for other := range m.byURI {
		if davpath.IsAncestor(other, uri) {
			for _, l := range m.locksOnLocked(other) {
				if l.Valid(m.now()) && (l.Scope == Exclusive || scope == Exclusive) {
					return true
				}
			}
		}
	}
	return false
}

// Create adds a new lock on uri. It fails with ErrLocked if scope/depth are
// incompatible with what is already held there, per spec.md §4.5: at most
// one exclusive lock per URI, and an exclusive request conflicts with any
// existing lock (exclusive or shared); multiple shared locks may coexist.
func (m *Manager) Create(uri string, scope Scope, depth int, ownerXML string, timeout time.Duration, principal string) (*Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.locksOnLocked(uri)
	for _, l := range existing {
		if l.Scope == Exclusive || scope == Exclusive {
			return nil, ErrLocked
		}
	}
	if depth == DepthInfinity && m.descendantConflict(uri, scope) {
		return nil, ErrLocked
	}

	now := m.now()
	l := &Lock{
		URI:         uri,
		Token:       "opaquelocktoken:" + uuid.New().String(),
		Scope:       scope,
		Depth:       depth,
		Principal:   principal,
		OwnerXML:    ownerXML,
		Timeout:     timeout,
		CreatedAt:   now,
		RefreshedAt: now,
	}
	m.byToken[l.Token] = l
	m.byURI[uri] = append(m.byURI[uri], l)
	if m.store != nil {
		if err := m.store.Save(l); err != nil {
			m.log.Warn().Err(err).Str("token", l.Token).Msg("lockmgr: failed to persist new lock")
		}
	}
	return l, nil
}

// Refresh extends a lock's timeout and touches its RefreshedAt.
func (m *Manager) Refresh(token string, timeout time.Duration) (*Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.byToken[token]
	if !ok || !l.Valid(m.now()) {
		return nil, ErrNoSuchLock
	}
	l.Timeout = timeout
	l.RefreshedAt = m.now()
	if m.store != nil {
		if err := m.store.Save(l); err != nil {
			m.log.Warn().Err(err).Str("token", token).Msg("lockmgr: failed to persist refreshed lock")
		}
	}
	return l, nil
}

// Release removes a lock by token. An unknown token is a no-op (spec.md
// §4.5).
func (m *Manager) Release(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.byToken[token]
	if !ok {
		return
	}
	delete(m.byToken, token)
	locks := m.byURI[l.URI]
	for i, other := range locks {
		if other.Token == token {
			locks = append(locks[:i], locks[i+1:]...)
			break
		}
	}
	if len(locks) == 0 {
		delete(m.byURI, l.URI)
	} else {
		m.byURI[l.URI] = locks
	}
	if m.store != nil {
		if err := m.store.Delete(token); err != nil {
			m.log.Warn().Err(err).Str("token", token).Msg("lockmgr: failed to delete released lock from store")
		}
	}
}

// Locked reports whether uri is locked, either directly or by a
// depth-infinity lock on an ancestor (spec.md §4.5).
func (m *Manager) Locked(uri string) bool {
	return m.HolderFor(uri) != nil
}

// HolderFor returns a valid lock covering uri — either directly on it, or a
// depth-infinity ancestor lock — preferring the most recently created when
// more than one applies (spec.md §4.5's tie-break).
func (m *Manager) HolderFor(uri string) *Lock {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *Lock
	for other := range m.byURI {
		if other != uri && !(davpath.IsAncestor(uri, other)) {
			continue
		}
		for _, l := range m.locksOnLocked(other) {
			if other != uri && l.Depth != DepthInfinity {
				continue
			}
			if !l.Valid(m.now()) {
				continue
			}
			if best == nil || l.CreatedAt.After(best.CreatedAt) {
				best = l
			}
		}
	}
	return best
}

// HasToken reports whether token names a valid lock that covers uri —
// either directly, or via a depth-infinity ancestor lock. Used by the
// conditional evaluator to check an If: header's tokens against a target.
func (m *Manager) HasToken(uri, token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.byToken[token]
	if !ok || !l.Valid(m.now()) {
		return false
	}
	if l.URI == uri {
		return true
	}
	return l.Depth == DepthInfinity && davpath.IsAncestor(uri, l.URI)
}

// ActiveLocks returns every valid lock directly covering uri, for
// lockdiscovery synthesis (spec.md §4.6: "return all valid locks").
func (m *Manager) ActiveLocks(uri string) []*Lock {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Lock
	for _, l := range m.locksOnLocked(uri) {
		if l.Valid(m.now()) {
			out = append(out, l)
		}
	}
	return out
}
