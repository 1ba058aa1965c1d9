// Package redislock is an optional lockmgr.Store backed by Redis, letting
// several dispatcher processes share one lock table (SPEC_FULL.md §2).
// Grounded on koofr/go-webdav-redis-ls's RedisLS (same protocol, same
// problem): a hash per lock token plus a set of live tokens, rather than
// relying on KEYS/SCAN to enumerate the table.
package redislock

import (
	"strconv"
	"time"

	"github.com/gomodule/redigo/redis"

	"github.com/talonhollow/webdavd/lockmgr"
)

const tokensSetSuffix = "tokens"

// Store implements lockmgr.Store on top of a *redis.Pool.
type Store struct {
	pool   *redis.Pool
	prefix string
}

// New returns a Store whose keys are all namespaced under prefix, so one
// Redis instance can back multiple WebDAV deployments.
func New(pool *redis.Pool, prefix string) *Store {
	return &Store{pool: pool, prefix: prefix}
}

func (s *Store) hashKey(token string) string { return s.prefix + "lock:" + token }
func (s *Store) tokensKey() string           { return s.prefix + tokensSetSuffix }

// Save writes (or overwrites) the hash for l.Token and registers it in the
// live-tokens set.
func (s *Store) Save(l *lockmgr.Lock) error {
	conn := s.pool.Get()
	defer conn.Close()

	_, err := conn.Do("HMSET", s.hashKey(l.Token),
		"uri", l.URI,
		"scope", strconv.Itoa(int(l.Scope)),
		"depth", strconv.Itoa(l.Depth),
		"principal", l.Principal,
		"owner", l.OwnerXML,
		"timeout_ns", strconv.FormatInt(int64(l.Timeout), 10),
		"created_unix_ns", strconv.FormatInt(l.CreatedAt.UnixNano(), 10),
		"refreshed_unix_ns", strconv.FormatInt(l.RefreshedAt.UnixNano(), 10),
	)
	if err != nil {
		return err
	}
	_, err = conn.Do("SADD", s.tokensKey(), l.Token)
	return err
}

// Delete removes a lock's hash and its entry in the live-tokens set.
func (s *Store) Delete(token string) error {
	conn := s.pool.Get()
	defer conn.Close()

	if _, err := conn.Do("DEL", s.hashKey(token)); err != nil {
		return err
	}
	_, err := conn.Do("SREM", s.tokensKey(), token)
	return err
}

// Load rehydrates every lock currently registered in the live-tokens set,
// used once at startup by lockmgr.New to rebuild the in-memory table from
// whatever a previous process (or another node) left behind.
func (s *Store) Load() ([]*lockmgr.Lock, error) {
	conn := s.pool.Get()
	defer conn.Close()

	tokens, err := redis.Strings(conn.Do("SMEMBERS", s.tokensKey()))
	if err != nil {
		if err == redis.ErrNil {
			return nil, nil
		}
		return nil, err
	}

	locks := make([]*lockmgr.Lock, 0, len(tokens))
	for _, token := range tokens {
		vals, err := redis.StringMap(conn.Do("HGETALL", s.hashKey(token)))
		if err != nil {
			return nil, err
		}
		if vals["uri"] == "" {
			// Stale set entry whose hash was already removed.
			conn.Do("SREM", s.tokensKey(), token)
			continue
		}
		l, err := fromFields(token, vals)
		if err != nil {
			return nil, err
		}
		locks = append(locks, l)
	}
	return locks, nil
}

func fromFields(token string, f map[string]string) (*lockmgr.Lock, error) {
	scope, err := strconv.Atoi(f["scope"])
	if err != nil {
		return nil, err
	}
	depth, err := strconv.Atoi(f["depth"])
	if err != nil {
		return nil, err
	}
	timeoutNS, err := strconv.ParseInt(f["timeout_ns"], 10, 64)
	if err != nil {
		return nil, err
	}
	createdNS, err := strconv.ParseInt(f["created_unix_ns"], 10, 64)
	if err != nil {
		return nil, err
	}
	refreshedNS, err := strconv.ParseInt(f["refreshed_unix_ns"], 10, 64)
	if err != nil {
		return nil, err
	}
	return &lockmgr.Lock{
		URI:         f["uri"],
		Token:       token,
		Scope:       lockmgr.Scope(scope),
		Depth:       depth,
		Principal:   f["principal"],
		OwnerXML:    f["owner"],
		Timeout:     time.Duration(timeoutNS),
		CreatedAt:   time.Unix(0, createdNS),
		RefreshedAt: time.Unix(0, refreshedNS),
	}, nil
}
