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
	"testing"
)

// fakeReader is an in-memory RangeReader, the equivalent of the
// teacher's sinktest fixtures: a fake backing service so tests never
// need a live ClickHouse connection.
type fakeReader struct {
	rows []DBRow
}

func (f *fakeReader) QueryRange(_ context.Context, _ string, startNS, endNS int64) ([]DBRow, error) {
	if startNS > endNS {
		return nil, nil
	}
	var out []DBRow
	for _, r := range f.rows {
		if r.TimestampNS >= startNS && r.TimestampNS <= endNS {
			out = append(out, r)
		}
	}
	return out, nil
}

func payload(ts int64) map[string]any {
	return map[string]any{
		"datetime":   ts,
		"event_type": "trade",
		"ticker":     "ACME",
		"price":      float64(100),
		"quantity":   float64(1),
		"exchange":   "N",
		"conditions": "",
	}
}

func row(ts int64) DBRow {
	return DBRow{
		TimestampNS: ts,
		EventType:   "trade",
		Ticker:      "ACME",
		Price:       100,
		Quantity:    1,
		Exchange:    "N",
		Conditions:  "",
	}
}

func rec(ts int64) BusRecord {
	return BusRecord{Topic: "t", Partition: 0, Offset: ts, Payload: payload(ts)}
}

// Scenario 1: exact match.
func TestReconcilerExactMatch(t *testing.T) {
	reader := &fakeReader{rows: []DBRow{row(1000), row(2000), row(3000)}}
	st := NewState()
	r := NewReconciler(reader, "tbl", st)

	if err := r.ProcessBatch(context.Background(), []BusRecord{rec(1000), rec(2000), rec(3000)}); err != nil {
		t.Fatal(err)
	}

	if st.MatchedDirect != 3 || st.MatchedViaOverflow != 0 {
		t.Fatalf("matched_direct=%d matched_via_overflow=%d", st.MatchedDirect, st.MatchedViaOverflow)
	}
	if st.MissingTotal() != 0 || st.ExtraTotal() != 0 {
		t.Fatalf("missing=%d extra=%d", st.MissingTotal(), st.ExtraTotal())
	}
	assertMassBalance(t, st)
}

// Scenario 2: single missing row.
func TestReconcilerSingleMissing(t *testing.T) {
	reader := &fakeReader{rows: []DBRow{row(1000), row(3000)}}
	st := NewState()
	r := NewReconciler(reader, "tbl", st)

	if err := r.ProcessBatch(context.Background(), []BusRecord{rec(1000), rec(2000), rec(3000)}); err != nil {
		t.Fatal(err)
	}

	if st.MatchedDirect != 2 {
		t.Fatalf("matched_direct=%d, want 2", st.MatchedDirect)
	}
	if st.MissingTotal() != 1 {
		t.Fatalf("missing=%d, want 1", st.MissingTotal())
	}
	if n := st.MissingFromDB[must(KeyFromBusPayload(payload(2000)))]; n != 1 {
		t.Fatalf("missing count for 2000 = %d, want 1", n)
	}
	assertMassBalance(t, st)
}

// aheadReader simulates a database range query that, on its first
// call, returns a row lying outside the requested range — standing in
// for a database that has already ingested a record the bus has not
// caught up to yet. Later calls behave like an ordinary fakeReader.
type aheadReader struct {
	fakeReader
	first     bool
	extraOnce DBRow
}

func (f *aheadReader) QueryRange(ctx context.Context, table string, startNS, endNS int64) ([]DBRow, error) {
	out, err := f.fakeReader.QueryRange(ctx, table, startNS, endNS)
	if err != nil {
		return nil, err
	}
	if !f.first {
		f.first = true
		out = append(out, f.extraOnce)
	}
	return out, nil
}

// Scenario 3: database ahead — overflow match across two batches. The
// first batch's forward query surfaces a database row the bus has not
// reached yet; that row sits in PendingFromDB until the bus's own
// batch for that key arrives and drains it via overflow.
func TestReconcilerOverflowMatch(t *testing.T) {
	reader := &aheadReader{fakeReader: fakeReader{rows: []DBRow{row(1000)}}, extraOnce: row(2000)}
	st := NewState()
	r := NewReconciler(reader, "tbl", st)
	ctx := context.Background()

	if err := r.ProcessBatch(ctx, []BusRecord{rec(1000)}); err != nil {
		t.Fatal(err)
	}
	if err := r.ProcessBatch(ctx, []BusRecord{rec(2000)}); err != nil {
		t.Fatal(err)
	}

	if st.MatchedDirect != 1 {
		t.Fatalf("matched_direct=%d, want 1", st.MatchedDirect)
	}
	if st.MatchedViaOverflow != 1 {
		t.Fatalf("matched_via_overflow=%d, want 1", st.MatchedViaOverflow)
	}
	if st.ExtraTotal() != 0 {
		t.Fatalf("extra=%d, want 0", st.ExtraTotal())
	}
	assertMassBalance(t, st)
}

// Scenario 4: backfill.
func TestReconcilerBackfill(t *testing.T) {
	reader := &fakeReader{rows: []DBRow{row(3000), row(5000), row(6000)}}
	st := NewState()
	r := NewReconciler(reader, "tbl", st)
	ctx := context.Background()

	if err := r.ProcessBatch(ctx, []BusRecord{rec(5000), rec(6000)}); err != nil {
		t.Fatal(err)
	}
	if err := r.ProcessBatch(ctx, []BusRecord{rec(3000)}); err != nil {
		t.Fatal(err)
	}

	if st.MatchedDirect != 3 {
		t.Fatalf("matched_direct=%d, want 3", st.MatchedDirect)
	}
	if st.DBLowNS != 3000 {
		t.Fatalf("db_low_ns=%d, want 3000", st.DBLowNS)
	}
	assertMassBalance(t, st)
	assertNoOverlap(t, st)
}

// Scenario 5: duplicate on bus only.
func TestReconcilerDuplicateBusOnly(t *testing.T) {
	reader := &fakeReader{rows: []DBRow{row(1000)}}
	st := NewState()
	r := NewReconciler(reader, "tbl", st)

	if err := r.ProcessBatch(context.Background(), []BusRecord{rec(1000), rec(1000)}); err != nil {
		t.Fatal(err)
	}

	if st.MissingTotal() != 1 {
		t.Fatalf("missing=%d, want 1", st.MissingTotal())
	}
	k := must(KeyFromBusPayload(payload(1000)))
	if st.MissingFromDB[k] != 1 {
		t.Fatalf("missing[1000]=%d, want 1", st.MissingFromDB[k])
	}
	assertMassBalance(t, st)
}

// Scenario 6: malformed record.
func TestReconcilerMalformedRecord(t *testing.T) {
	reader := &fakeReader{}
	st := NewState()
	r := NewReconciler(reader, "tbl", st)

	bad := BusRecord{Topic: "t", Partition: 0, Offset: 1, Payload: map[string]any{
		"event_type": "trade", "ticker": "ACME", "price": float64(1), "quantity": float64(1),
		"exchange": "N", "conditions": "",
	}}
	if err := r.ProcessBatch(context.Background(), []BusRecord{bad}); err != nil {
		t.Fatal(err)
	}

	if st.TotalBusConsumed != 1 {
		t.Fatalf("total_bus_consumed=%d, want 1", st.TotalBusConsumed)
	}
	if len(st.BadRows) != 1 || st.BadRows[0].Reason != "missing_timestamp" {
		t.Fatalf("bad_rows=%+v", st.BadRows)
	}
	if st.MatchedDirect != 0 {
		t.Fatalf("matched_direct=%d, want 0", st.MatchedDirect)
	}
}

// P5: no two query windows share any nanosecond.
func TestReconcilerNoOverlappingWindows(t *testing.T) {
	reader := &fakeReader{rows: []DBRow{row(1000), row(2000), row(3000), row(500)}}
	st := NewState()
	r := NewReconciler(reader, "tbl", st)
	ctx := context.Background()

	batches := [][]BusRecord{{rec(1000)}, {rec(2000), rec(3000)}, {rec(500)}}
	for _, b := range batches {
		if err := r.ProcessBatch(ctx, b); err != nil {
			t.Fatal(err)
		}
	}
	assertNoOverlap(t, st)
	assertMassBalance(t, st)
}

// P3: multiset fidelity — permuting arrival order within a batch must
// not change the final reconciled counts.
func TestReconcilerPermutationInvariant(t *testing.T) {
	reader := func() *fakeReader { return &fakeReader{rows: []DBRow{row(1000), row(2000), row(2000)}} }

	order1 := []BusRecord{rec(1000), rec(2000)}
	order2 := []BusRecord{rec(2000), rec(1000)}

	st1 := NewState()
	if err := NewReconciler(reader(), "tbl", st1).ProcessBatch(context.Background(), order1); err != nil {
		t.Fatal(err)
	}
	st2 := NewState()
	if err := NewReconciler(reader(), "tbl", st2).ProcessBatch(context.Background(), order2); err != nil {
		t.Fatal(err)
	}

	if st1.MatchedDirect != st2.MatchedDirect || st1.ExtraTotal() != st2.ExtraTotal() {
		t.Fatalf("permutation changed outcome: %+v vs %+v", st1, st2)
	}
}

func must(k Key, err error) Key {
	if err != nil {
		panic(err)
	}
	return k
}

// assertMassBalance checks P1/I4: total_bus_consumed = matched_direct +
// matched_via_overflow + sum(missing_from_db) + |bad_rows|.
func assertMassBalance(t *testing.T, st *State) {
	t.Helper()
	got := st.MatchedDirect + st.MatchedViaOverflow + st.MissingTotal() + len(st.BadRows)
	if got != st.TotalBusConsumed {
		t.Fatalf("mass balance violated: %d != total_bus_consumed %d (state=%+v)", got, st.TotalBusConsumed, st)
	}
}

// assertNoOverlap checks P5 over the audit log, ignoring empty
// (start > end) skipped-query entries.
func assertNoOverlap(t *testing.T, st *State) {
	t.Helper()
	type interval struct{ s, e int64 }
	var seen []interval
	for _, w := range st.DBQueryWindows {
		if w.StartNS > w.EndNS {
			continue
		}
		for _, s := range seen {
			if w.StartNS <= s.e && s.s <= w.EndNS {
				t.Fatalf("overlapping query windows: %+v and [%d,%d]", s, w.StartNS, w.EndNS)
			}
		}
		seen = append(seen, interval{w.StartNS, w.EndNS})
	}
}
