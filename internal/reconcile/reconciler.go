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

package reconcile

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// BusRecord is a decoded bus payload together with its origin
// coordinates. The bus timestamp is intentionally not part of this
// struct's use in reconciliation: it is only relevant to the Bus
// cursor's partition-seeking and stop-offset resolution, never to
// equality.
type BusRecord struct {
	Topic     string
	Partition int32
	Offset    int64
	Payload   map[string]any
}

// RangeReader executes a single time-ranged query against the target
// table and returns the rows as decoded database rows. Implementations
// must honor the inclusive-both-ends contract and return an empty
// result, not an error, when startNS > endNS.
type RangeReader interface {
	QueryRange(ctx context.Context, table string, startNS, endNS int64) ([]DBRow, error)
}

// Reconciler is the batch reconciler of spec §4.4: the central
// algorithm that, for each bus batch, computes a database query range
// using the watermark, handles backfill when a batch arrives earlier
// than the watermark, runs the query, and reconciles the two
// multisets, draining from overflow before charging a mismatch.
type Reconciler struct {
	Reader RangeReader
	Table  string
	State  *State
}

// NewReconciler constructs a Reconciler bound to a RangeReader, a
// target table name, and the State it will mutate.
func NewReconciler(reader RangeReader, table string, state *State) *Reconciler {
	return &Reconciler{Reader: reader, Table: table, State: state}
}

// ProcessBatch implements spec §4.4 steps 1-6. A nil or empty batch is
// a no-op.
func (r *Reconciler) ProcessBatch(ctx context.Context, batch []BusRecord) error {
	if len(batch) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { batchReconcileDuration.Observe(time.Since(start).Seconds()) }()
	batchesProcessed.Inc()

	// Step 1: partition good vs. bad.
	good := make([]Key, 0, len(batch))
	for _, rec := range batch {
		key, err := KeyFromBusPayload(rec.Payload)
		if err != nil {
			reason := Reason(err)
			badRowsTotal.WithLabelValues(reason).Inc()
			r.State.BadRows = append(r.State.BadRows, BadRow{
				Reason:    reason,
				Topic:     rec.Topic,
				Partition: rec.Partition,
				Offset:    rec.Offset,
				Payload:   rec.Payload,
				Err:       err.Error(),
			})
			continue
		}
		good = append(good, key)
	}
	r.State.TotalBusConsumed += len(batch)
	if len(good) == 0 {
		return nil
	}

	// Step 2: compute payload extent.
	batchStartNS, batchEndNS := good[0].TimestampNS, good[0].TimestampNS
	for _, k := range good[1:] {
		if k.TimestampNS < batchStartNS {
			batchStartNS = k.TimestampNS
		}
		if k.TimestampNS > batchEndNS {
			batchEndNS = k.TimestampNS
		}
	}

	// Step 3: backfill detection. A backfill query's rows are folded
	// into this batch's db_counts in step 5 alongside the forward
	// query's rows, rather than credited to PendingFromDB immediately:
	// a bus record arriving in the very same batch as its backfilled
	// database row must still count as a direct match, not a
	// same-batch overflow drain.
	var dbRows []DBRow
	if !r.State.HasLow {
		r.State.DBLowNS = batchStartNS
		r.State.HasLow = true
	} else if batchStartNS < r.State.DBLowNS {
		backfillEnd := min(r.State.DBLowNS-1, batchEndNS)
		if batchStartNS <= backfillEnd {
			rows, err := r.Reader.QueryRange(ctx, r.Table, batchStartNS, backfillEnd)
			if err != nil {
				return errors.Wrapf(err, "backfill query [%d,%d]", batchStartNS, backfillEnd)
			}
			dbQueriesIssued.WithLabelValues("backfill").Inc()
			dbRowsScanned.Add(float64(len(rows)))
			r.State.TotalDBRowsScanned += len(rows)
			dbRows = append(dbRows, rows...)
			r.State.DBQueryWindows = append(r.State.DBQueryWindows, QueryWindow{
				StartNS: batchStartNS, EndNS: backfillEnd, RowCount: len(rows), Table: r.Table,
			})
			log.WithFields(log.Fields{
				"table": r.Table,
				"start": batchStartNS,
				"end":   backfillEnd,
				"rows":  len(rows),
			}).Debug("issued backfill query")
		}
		r.State.DBLowNS = batchStartNS
	}

	// Step 4: compute forward query range.
	var chStartNS int64
	if r.State.HasWatermark {
		chStartNS = max(batchStartNS, r.State.DBWatermarkNS+1)
	} else {
		chStartNS = batchStartNS
	}

	if chStartNS <= batchEndNS {
		rows, err := r.Reader.QueryRange(ctx, r.Table, chStartNS, batchEndNS)
		if err != nil {
			return errors.Wrapf(err, "forward query [%d,%d]", chStartNS, batchEndNS)
		}
		dbRows = append(dbRows, rows...)
		dbQueriesIssued.WithLabelValues("forward").Inc()
		dbRowsScanned.Add(float64(len(rows)))
		r.State.TotalDBRowsScanned += len(rows)
		r.State.DBQueryWindows = append(r.State.DBQueryWindows, QueryWindow{
			StartNS: chStartNS, EndNS: batchEndNS, RowCount: len(rows), Table: r.Table,
		})
	}

	// Step 5: multiset reconciliation.
	busCounts := make(map[Key]int, len(good))
	for _, k := range good {
		busCounts[k]++
	}
	dbCounts := make(map[Key]int, len(dbRows))
	for _, row := range dbRows {
		dbCounts[KeyFromRow(row)]++
	}

	// Drain overflow before charging a mismatch.
	for k, kv := range busCounts {
		if kv <= 0 {
			continue
		}
		avail := r.State.PendingFromDB[k]
		if avail <= 0 {
			continue
		}
		use := min(kv, avail)
		busCounts[k] -= use
		r.State.addPending(k, -use)
		r.State.MatchedViaOverflow += use
		matchedOverflow.Add(float64(use))
	}

	union := make(map[Key]struct{}, len(busCounts)+len(dbCounts))
	for k := range busCounts {
		union[k] = struct{}{}
	}
	for k := range dbCounts {
		union[k] = struct{}{}
	}
	for k := range union {
		kv := busCounts[k]
		cv := dbCounts[k]
		direct := min(kv, cv)
		r.State.MatchedDirect += direct
		matchedDirect.Add(float64(direct))
		if kv > cv {
			r.State.addMissing(k, kv-cv)
		} else if cv > kv {
			r.State.addPending(k, cv-kv)
		}
	}

	// Step 6: advance watermark.
	if !r.State.HasWatermark || batchEndNS > r.State.DBWatermarkNS {
		r.State.DBWatermarkNS = batchEndNS
	}
	r.State.HasWatermark = true

	return nil
}
