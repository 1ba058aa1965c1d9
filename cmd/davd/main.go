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

// Command davd is a standalone RFC 4918 WebDAV server. Command-line
// parsing and daemonization are intentionally left on the standard
// library's flag package: the protocol engine itself pulls in the real
// stack (zerolog, prometheus, redigo, uuid), but the CLI shell around it
// is the one place the spec this binary wires up explicitly excludes a
// framework for.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/talonhollow/webdavd"
	"github.com/talonhollow/webdavd/diskfs"
	"github.com/talonhollow/webdavd/internal/lockstore/redislock"
	"github.com/talonhollow/webdavd/internal/metrics"
	"github.com/talonhollow/webdavd/lockmgr"
	"github.com/talonhollow/webdavd/memfs"
)

func main() {
	var (
		addr        = flag.String("addr", ":8080", "listen address")
		root        = flag.String("root", "", "directory to serve; empty uses an in-memory filesystem")
		lockStore   = flag.String("lock-store", "memory", `lock table backing store: "memory" or "redis"`)
		redisAddr   = flag.String("redis-addr", "localhost:6379", "redis address, used when -lock-store=redis")
		redisPrefix = flag.String("redis-prefix", "webdavd:", "key prefix for redis-backed locks")
		metricsAddr = flag.String("metrics-addr", ":9090", "listen address for the /metrics endpoint; empty disables it")
		debug       = flag.Bool("debug", false, "enable debug-level logging")
	)
	flag.Parse()

	logLevel := zerolog.InfoLevel
	if *debug {
		logLevel = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(logLevel).
		With().Timestamp().Logger()

	backend, err := newBackend(*root, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize backend")
	}

	store, err := newLockStore(*lockStore, *redisAddr, *redisPrefix)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize lock store")
	}
	locks := lockmgr.New(store, log)

	cfg := webdav.DefaultConfig()
	srv := webdav.NewServer(backend, locks, log, cfg)

	reg := prometheus.NewRegistry()
	srv.SetObserver(metrics.NewRecorder(reg))

	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr, reg, log)
	}

	log.Info().Str("addr", *addr).Str("lockStore", *lockStore).Msg("starting webdavd")
	if err := http.ListenAndServe(*addr, srv); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func newBackend(root string, log zerolog.Logger) (webdav.Backend, error) {
	if root == "" {
		log.Info().Msg("serving an in-memory filesystem; changes do not survive a restart")
		return memfs.New(log), nil
	}
	return diskfs.New(root, log)
}

func newLockStore(kind, addr, prefix string) (lockmgr.Store, error) {
	switch kind {
	case "memory":
		return nil, nil
	case "redis":
		pool := &redis.Pool{
			MaxIdle:     8,
			IdleTimeout: 2 * time.Minute,
			Dial:        func() (redis.Conn, error) { return redis.Dial("tcp", addr) },
		}
		conn := pool.Get()
		defer conn.Close()
		if _, err := conn.Do("PING"); err != nil {
			return nil, fmt.Errorf("could not reach redis at %s: %w", addr, err)
		}
		return redislock.New(pool, prefix), nil
	default:
		return nil, fmt.Errorf("unknown -lock-store %q", kind)
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	log.Info().Str("addr", addr).Msg("serving metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Msg("metrics server exited")
	}
}
