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

package driver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamrecon_runs_started_total",
		Help: "the number of reconciliation runs started by this process",
	})
	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "streamrecon_run_duration_seconds",
		Help:    "wall-clock duration of a completed reconciliation run",
		Buckets: prometheus.ExponentialBuckets(1, 2, 16),
	})
	runsInterrupted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamrecon_runs_interrupted_total",
		Help: "the number of runs aborted by an external interrupt before completion",
	})
	runsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamrecon_runs_failed_total",
		Help: "the number of runs that exited on a fatal error, partitioned by kind",
	}, []string{"kind"})
)
