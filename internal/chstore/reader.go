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

package chstore

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/sharpe10j/streamrecon/internal/reconcile"
)

// rowScanner is the narrow cursor shape this package needs out of a
// ClickHouse query result; clickhouse-go/v2's driver.Rows satisfies it
// structurally.
type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Close() error
	Err() error
}

// queryExecutor is the narrow shape of a ClickHouse connection this
// package depends on, so that tests can substitute a fake without a
// live server.
type queryExecutor interface {
	Query(ctx context.Context, query string, args ...any) (rowScanner, error)
}

// Query adapts Pool to queryExecutor. clickhouse-go/v2's driver.Rows
// is assignable to rowScanner because its method set is a superset.
func (p *Pool) Query(ctx context.Context, query string, args ...any) (rowScanner, error) {
	rows, err := p.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// rangeQueryTemplate is the single query template every range read
// goes through, equivalent to the original's ch_query_rows: it
// projects the configured timestamp column to nanoseconds with
// toUnixTimestamp64Nano so that the seven-scalar Key the caller builds
// always compares against an int64 timestamp in the same unit the bus
// side uses.
const rangeQueryTemplate = `
SELECT
	toUnixTimestamp64Nano(%s) AS ts_ns,
	event_type,
	ticker,
	price,
	quantity,
	exchange,
	conditions
FROM %s
WHERE %s >= fromUnixTimestamp64Nano(?) AND %s <= fromUnixTimestamp64Nano(?)
ORDER BY ts_ns
`

// Reader implements reconcile.RangeReader atop a ClickHouse
// connection. TimestampColumn names the DateTime64(9) column the
// target table uses for event time; it defaults to "datetime" to
// match the bus side's field name.
type Reader struct {
	exec            queryExecutor
	TimestampColumn string
}

// NewReader builds a Reader bound to an open Pool.
func NewReader(pool *Pool) *Reader {
	return &Reader{exec: pool, TimestampColumn: "datetime"}
}

// QueryRange implements reconcile.RangeReader. An empty range
// (startNS > endNS) is rejected by the caller before this is ever
// invoked; QueryRange itself has no opinion about that and will simply
// issue the query as given.
func (r *Reader) QueryRange(ctx context.Context, table string, startNS, endNS int64) ([]reconcile.DBRow, error) {
	col := r.TimestampColumn
	if col == "" {
		col = "datetime"
	}
	query := fmt.Sprintf(rangeQueryTemplate, col, table, col, col)

	start := time.Now()
	rows, err := r.exec.Query(ctx, query, startNS, endNS)
	if err != nil {
		return nil, errors.Wrapf(ErrQueryFailed, "table %s range [%d,%d]: %v", table, startNS, endNS, err)
	}
	defer rows.Close()

	var out []reconcile.DBRow
	for rows.Next() {
		var row reconcile.DBRow
		if err := rows.Scan(
			&row.TimestampNS,
			&row.EventType,
			&row.Ticker,
			&row.Price,
			&row.Quantity,
			&row.Exchange,
			&row.Conditions,
		); err != nil {
			return nil, errors.Wrapf(ErrQueryFailed, "table %s range [%d,%d]: scan: %v", table, startNS, endNS, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(ErrQueryFailed, "table %s range [%d,%d]: %v", table, startNS, endNS, err)
	}

	log.WithFields(log.Fields{
		"table":    table,
		"start_ns": startNS,
		"end_ns":   endNS,
		"rows":     len(out),
		"elapsed":  time.Since(start),
	}).Debug("chstore range query")

	return out, nil
}
