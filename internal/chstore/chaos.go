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
	"math/rand"

	"github.com/sharpe10j/streamrecon/internal/reconcile"
)

// WithChaos wraps a RangeReader with a delegate that injects ErrChaos
// at the given probability on every call, for exercising the run
// driver's fatal error-surfacing path against failures that a live
// ClickHouse server would only produce rarely. Returns the
// delegate unchanged if prob <= 0.
func WithChaos(delegate reconcile.RangeReader, prob float32) reconcile.RangeReader {
	if prob <= 0 {
		return delegate
	}
	return &chaosReader{delegate: delegate, prob: prob}
}

type chaosReader struct {
	delegate reconcile.RangeReader
	prob     float32
}

func (c *chaosReader) QueryRange(ctx context.Context, table string, startNS, endNS int64) ([]reconcile.DBRow, error) {
	if rand.Float32() < c.prob {
		return nil, ErrChaos
	}
	return c.delegate.QueryRange(ctx, table, startNS, endNS)
}
