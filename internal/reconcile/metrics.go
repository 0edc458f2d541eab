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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// latencyBuckets mirrors the teacher's shared histogram bucket
// boundaries for sub-second to multi-second database round trips.
var latencyBuckets = []float64{
	.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60,
}

var (
	batchesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamrecon_batches_processed_total",
		Help: "the number of bus batches reconciled against the database",
	})
	batchReconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "streamrecon_batch_reconcile_duration_seconds",
		Help:    "the length of time it took to reconcile one batch, including any database queries",
		Buckets: latencyBuckets,
	})
	dbQueriesIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamrecon_db_queries_total",
		Help: "the number of database range queries issued, partitioned by kind",
	}, []string{"kind"}) // kind: forward|backfill
	dbRowsScanned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamrecon_db_rows_scanned_total",
		Help: "the number of database rows returned across all range queries",
	})
	matchedDirect = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamrecon_matched_direct_total",
		Help: "the number of records matched within the same batch's query window",
	})
	matchedOverflow = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamrecon_matched_overflow_total",
		Help: "the number of records matched against a previous batch's overflow",
	})
	badRowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamrecon_bad_rows_total",
		Help: "the number of bus records that failed decode, partitioned by reason",
	}, []string{"reason"})
)
