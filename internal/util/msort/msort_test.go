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

package msort

import (
	"testing"

	"github.com/sharpe10j/streamrecon/internal/reconcile"
)

func TestSortedKeysIsDeterministic(t *testing.T) {
	counts := map[reconcile.Key]int{
		{TimestampNS: 3000, Ticker: "B"}: 1,
		{TimestampNS: 1000, Ticker: "A"}: 1,
		{TimestampNS: 1000, Ticker: "B"}: 1,
		{TimestampNS: 2000, Ticker: "A"}: 1,
	}

	var prev []reconcile.Key
	for i := 0; i < 5; i++ {
		keys := SortedKeys(counts)
		if prev != nil && !equal(prev, keys) {
			t.Fatalf("non-deterministic ordering: %+v vs %+v", prev, keys)
		}
		prev = keys
	}

	want := []reconcile.Key{
		{TimestampNS: 1000, Ticker: "A"},
		{TimestampNS: 1000, Ticker: "B"},
		{TimestampNS: 2000, Ticker: "A"},
		{TimestampNS: 3000, Ticker: "B"},
	}
	if !equal(prev, want) {
		t.Fatalf("got %+v, want %+v", prev, want)
	}
}

func TestCapTruncates(t *testing.T) {
	keys := []reconcile.Key{{TimestampNS: 1}, {TimestampNS: 2}, {TimestampNS: 3}}
	if got := Cap(keys, 2); len(got) != 2 {
		t.Fatalf("got %d, want 2", len(got))
	}
	if got := Cap(keys, 10); len(got) != 3 {
		t.Fatalf("got %d, want 3 (no truncation)", len(got))
	}
}

func equal(a, b []reconcile.Key) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
