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

package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/sharpe10j/streamrecon/internal/reconcile"
	"github.com/sharpe10j/streamrecon/internal/util/msort"
)

// Paths names the four output file locations taken from the CLI's
// --summary/--details/--bad-rows/--ch-query-log flags.
type Paths struct {
	Summary  string
	Details  string
	BadRows  string
	QueryLog string
}

// BuildSummary computes the aggregate totals of spec §4.5's final
// step from a finished Reconciliation state.
func BuildSummary(st *reconcile.State, elapsed time.Duration) Summary {
	missing := st.MissingTotal()
	extra := st.ExtraTotal()
	return Summary{
		BusMessagesConsumed: st.TotalBusConsumed,
		DBRowsScanned:       st.TotalDBRowsScanned,
		TotalMatched:        st.MatchedTotal(),
		TotalMismatched:     missing + extra,
		MatchedDirect:       st.MatchedDirect,
		MatchedViaOverflow:  st.MatchedViaOverflow,
		StillMissingInDB:    missing,
		StillExtraInDB:      extra,
		ElapsedSeconds:      elapsed.Seconds(),
	}
}

// BuildDetails samples up to 100 entries per direction from the
// state's two overflow multisets, sorted for reproducibility.
func BuildDetails(st *reconcile.State) []DetailEntry {
	var out []DetailEntry
	for _, k := range msort.Cap(msort.SortedKeys(st.MissingFromDB), maxDetailsPerDirection) {
		out = append(out, DetailEntry{Title: detailTitleMissing, Record: k.Array(), Count: st.MissingFromDB[k]})
	}
	for _, k := range msort.Cap(msort.SortedKeys(st.PendingFromDB), maxDetailsPerDirection) {
		out = append(out, DetailEntry{Title: detailTitleExtra, Record: k.Array(), Count: st.PendingFromDB[k]})
	}
	return out
}

// BuildBadRows projects the state's bad-row log into the external
// schema.
func BuildBadRows(st *reconcile.State) []BadRowEntry {
	out := make([]BadRowEntry, 0, len(st.BadRows))
	for _, b := range st.BadRows {
		out = append(out, BadRowEntry{
			Reason:    b.Reason,
			Topic:     b.Topic,
			Partition: b.Partition,
			Offset:    b.Offset,
			Payload:   b.Payload,
			RawSample: b.RawSample,
			Error:     b.Err,
		})
	}
	return out
}

// BuildQueryLog projects the state's query-window audit log into the
// external schema, preserving issue order.
func BuildQueryLog(st *reconcile.State) []QueryWindowEntry {
	out := make([]QueryWindowEntry, 0, len(st.DBQueryWindows))
	for _, w := range st.DBQueryWindows {
		out = append(out, QueryWindowEntry{
			WindowStartNS: w.StartNS,
			WindowEndNS:   w.EndNS,
			RowCount:      w.RowCount,
			Table:         w.Table,
		})
	}
	return out
}

// Write renders all four output files from a finished Reconciliation
// state, each atomically (write to a sibling temp file, then rename),
// so a concurrent reader never observes a truncated file.
func Write(paths Paths, st *reconcile.State, elapsed time.Duration) error {
	if err := writeJSON(paths.Summary, BuildSummary(st, elapsed)); err != nil {
		return errors.Wrap(err, "write summary")
	}
	if err := writeJSON(paths.Details, nonNil(BuildDetails(st))); err != nil {
		return errors.Wrap(err, "write details")
	}
	if err := writeJSON(paths.BadRows, BuildBadRows(st)); err != nil {
		return errors.Wrap(err, "write bad rows")
	}
	if err := writeJSON(paths.QueryLog, BuildQueryLog(st)); err != nil {
		return errors.Wrap(err, "write query log")
	}
	return nil
}

// nonNil renders an empty slice as `[]` rather than `null`.
func nonNil(entries []DetailEntry) []DetailEntry {
	if entries == nil {
		return []DetailEntry{}
	}
	return entries
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.WithStack(err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".streamrecon-*.tmp")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write temp file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp file")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.Wrap(err, "rename temp file into place")
	}
	return nil
}
