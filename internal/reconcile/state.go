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

// BadRow records a bus record that failed decode or lacked a usable
// timestamp.
type BadRow struct {
	Reason    string
	Topic     string
	Partition int32
	Offset    int64
	Payload   map[string]any
	RawSample string
	Err       string
}

// QueryWindow is an audit-log entry for a single database range query
// actually issued by the Batch reconciler.
type QueryWindow struct {
	StartNS  int64
	EndNS    int64
	RowCount int
	Table    string
}

// State is the Reconciliation state of spec §3: two multiset counters,
// a database watermark, a low-water mark, and aggregate counts. It is
// created once per run, mutated by the Reconciler and, for records
// whose bytes never decoded, by the run driver through RecordBadRow
// (both on the same goroutine), and finalized
// once the run driver observes that all stop offsets have been
// reached. Nothing outlives a single run.
type State struct {
	// MissingFromDB holds bus records not yet seen in the database.
	MissingFromDB map[Key]int
	// PendingFromDB holds database rows not yet seen on the bus
	// (overflow; may be matched by a future batch).
	PendingFromDB map[Key]int

	// DBWatermarkNS is the highest nanosecond timestamp already
	// covered by a database query (inclusive). Unset (HasWatermark
	// false) before the first query.
	DBWatermarkNS  int64
	HasWatermark   bool
	// DBLowNS is the lowest nanosecond timestamp ever covered by a
	// database query (inclusive). Used to detect backfill.
	DBLowNS  int64
	HasLow   bool

	TotalBusConsumed    int
	TotalDBRowsScanned  int
	MatchedDirect       int
	MatchedViaOverflow  int

	BadRows         []BadRow
	DBQueryWindows  []QueryWindow
}

// NewState returns a zeroed Reconciliation state, ready to be driven by
// a Reconciler.
func NewState() *State {
	return &State{
		MissingFromDB: make(map[Key]int),
		PendingFromDB: make(map[Key]int),
	}
}

// MissingTotal sums MissingFromDB across all keys.
func (s *State) MissingTotal() int {
	total := 0
	for _, n := range s.MissingFromDB {
		total += n
	}
	return total
}

// ExtraTotal sums PendingFromDB across all keys: database rows that, at
// the end of the run, were never matched to a bus record.
func (s *State) ExtraTotal() int {
	total := 0
	for _, n := range s.PendingFromDB {
		total += n
	}
	return total
}

// MatchedTotal is MatchedDirect + MatchedViaOverflow.
func (s *State) MatchedTotal() int {
	return s.MatchedDirect + s.MatchedViaOverflow
}

// MismatchTotal is MissingTotal + ExtraTotal.
func (s *State) MismatchTotal() int {
	return s.MissingTotal() + s.ExtraTotal()
}

// RecordBadRow appends a bad row discovered before it ever became a
// BusRecord (e.g. bytes that failed to decode at all) and counts it
// toward TotalBusConsumed, mirroring the accounting ProcessBatch
// performs for bad rows it discovers itself.
func (s *State) RecordBadRow(b BadRow) {
	s.TotalBusConsumed++
	s.BadRows = append(s.BadRows, b)
	badRowsTotal.WithLabelValues(b.Reason).Inc()
}

// addMissing increments the overflow-free missing-in-db count for key,
// dropping the map entry if it returns to zero so that callers can rely
// on "key present implies count > 0" (invariant I3 is checked against
// this shape).
func (s *State) addMissing(k Key, n int) {
	if n == 0 {
		return
	}
	s.MissingFromDB[k] += n
	if s.MissingFromDB[k] <= 0 {
		delete(s.MissingFromDB, k)
	}
}

func (s *State) addPending(k Key, n int) {
	if n == 0 {
		return
	}
	s.PendingFromDB[k] += n
	if s.PendingFromDB[k] <= 0 {
		delete(s.PendingFromDB, k)
	}
}
