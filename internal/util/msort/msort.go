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

// Package msort sorts and caps the record keys the report package
// samples into the details array, so that two runs over a quiescent
// topic and database produce byte-identical output (property P6):
// map iteration order is not deterministic, so the keys backing
// missing_from_db / pending_from_db must be sorted before they are
// truncated to the sample limit or written out.
package msort

import (
	"sort"

	"github.com/sharpe10j/streamrecon/internal/reconcile"
)

// SortedKeys returns the keys of counts ordered first by timestamp,
// then lexically by the remaining six scalars, breaking every tie the
// timestamp alone leaves open so that the ordering is total.
func SortedKeys(counts map[reconcile.Key]int) []reconcile.Key {
	keys := make([]reconcile.Key, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return less(keys[i], keys[j])
	})
	return keys
}

// Cap truncates keys to at most n entries, the shape the details array
// needs for "up to 100 entries per direction".
func Cap(keys []reconcile.Key, n int) []reconcile.Key {
	if len(keys) <= n {
		return keys
	}
	return keys[:n]
}

func less(a, b reconcile.Key) bool {
	if a.TimestampNS != b.TimestampNS {
		return a.TimestampNS < b.TimestampNS
	}
	if a.EventType != b.EventType {
		return a.EventType < b.EventType
	}
	if a.Ticker != b.Ticker {
		return a.Ticker < b.Ticker
	}
	if a.Price != b.Price {
		return a.Price < b.Price
	}
	if a.Quantity != b.Quantity {
		return a.Quantity < b.Quantity
	}
	if a.Exchange != b.Exchange {
		return a.Exchange < b.Exchange
	}
	return a.Conditions < b.Conditions
}
