// Copyright 2023 The Cockroach Authors
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
//
// SPDX-License-Identifier: Apache-2.0

// Package chstore implements the Database range reader atop
// ClickHouse's native-protocol driver.
package chstore

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ConnConfig names the target database the way the CLI surfaces it.
type ConnConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

// poolOptions is the set of tunables an Option mutates, in the style
// of the teacher's stdpool Option pattern generalized from MySQL to
// ClickHouse.
type poolOptions struct {
	maxOpenConns    int
	connMaxLifetime time.Duration
	dialTimeout     time.Duration
	waitForStartup  bool
}

// Option configures OpenPool.
type Option interface {
	apply(*poolOptions)
}

type optionFunc func(*poolOptions)

func (f optionFunc) apply(o *poolOptions) { f(o) }

// WithPoolSize bounds the number of open connections held by the
// returned Pool.
func WithPoolSize(n int) Option {
	return optionFunc(func(o *poolOptions) { o.maxOpenConns = n })
}

// WithConnectionLifetime recycles connections older than d.
func WithConnectionLifetime(d time.Duration) Option {
	return optionFunc(func(o *poolOptions) { o.connMaxLifetime = d })
}

// WithDialTimeout bounds how long the initial TCP handshake may take.
func WithDialTimeout(d time.Duration) Option {
	return optionFunc(func(o *poolOptions) { o.dialTimeout = d })
}

// WithWaitForStartup makes OpenPool retry a failed ping with backoff
// instead of failing immediately, for use against a database that may
// still be starting up (e.g. in a freshly provisioned environment).
func WithWaitForStartup() Option {
	return optionFunc(func(o *poolOptions) { o.waitForStartup = true })
}

func defaultOptions() poolOptions {
	return poolOptions{
		maxOpenConns:    8,
		connMaxLifetime: 30 * time.Minute,
		dialTimeout:     10 * time.Second,
	}
}

// Pool wraps a ClickHouse connection along with the metadata logged at
// open time.
type Pool struct {
	Conn    clickhouse.Conn
	Version string
}

// OpenPool dials ClickHouse, pings it (retrying with backoff if
// WithWaitForStartup was given), and logs the server version the way
// the teacher's connection-pool helpers log the target database's
// version on every successful open.
func OpenPool(ctx context.Context, cfg ConnConfig, opts ...Option) (*Pool, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt.apply(&o)
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		DialTimeout:     o.dialTimeout,
		MaxOpenConns:    o.maxOpenConns,
		ConnMaxLifetime: o.connMaxLifetime,
	})
	if err != nil {
		return nil, errors.Wrap(ErrDatabaseUnavailable, err.Error())
	}

	backoff := time.Second
	for {
		if err := conn.Ping(ctx); err != nil {
			if o.waitForStartup {
				log.WithError(err).Info("waiting for clickhouse to become ready")
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(backoff):
					if backoff < 30*time.Second {
						backoff *= 2
					}
					continue
				}
			}
			return nil, errors.Wrapf(ErrDatabaseUnavailable, "ping: %v", err)
		}
		break
	}

	var version string
	row := conn.QueryRow(ctx, "SELECT version()")
	if err := row.Scan(&version); err != nil {
		return nil, errors.Wrap(err, "chstore: query server version")
	}
	log.WithFields(log.Fields{
		"host":    cfg.Host,
		"db":      cfg.Database,
		"version": version,
	}).Info("clickhouse connection established")

	return &Pool{Conn: conn, Version: version}, nil
}

// Close releases the pool's underlying connections.
func (p *Pool) Close() error {
	return p.Conn.Close()
}
