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

// Package report renders a finished Reconciliation state into the four
// output files of the external interface: summary, details, bad rows,
// and the query-window audit log.
package report

// Summary is the single JSON object written to the --summary path.
type Summary struct {
	BusMessagesConsumed int     `json:"bus_messages_consumed"`
	DBRowsScanned       int     `json:"db_rows_scanned"`
	TotalMatched        int     `json:"total_matched"`
	TotalMismatched     int     `json:"total_mismatched"`
	MatchedDirect       int     `json:"matched_direct"`
	MatchedViaOverflow  int     `json:"matched_via_overflow"`
	StillMissingInDB    int     `json:"still_missing_in_db"`
	StillExtraInDB      int     `json:"still_extra_in_db"`
	ElapsedSeconds      float64 `json:"elapsed_seconds"`
}

// DetailEntry is one row of the --details array: up to 100 samples per
// direction of a mismatched key.
type DetailEntry struct {
	Title  string `json:"title"`
	Record [7]any `json:"record"`
	Count  int    `json:"count"`
}

// BadRowEntry is one row of the --bad-rows array.
type BadRowEntry struct {
	Reason    string         `json:"reason"`
	Topic     string         `json:"topic"`
	Partition int32          `json:"partition"`
	Offset    int64          `json:"offset"`
	Payload   map[string]any `json:"payload,omitempty"`
	RawSample string         `json:"raw_sample,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// QueryWindowEntry is one row of the --ch-query-log array, in the
// order the queries were actually issued.
type QueryWindowEntry struct {
	WindowStartNS int64  `json:"window_start_ns"`
	WindowEndNS   int64  `json:"window_end_ns"`
	RowCount      int    `json:"row_count"`
	Table         string `json:"table"`
}

// detailTitleMissing and detailTitleExtra are the two fixed title
// strings the external interface names verbatim.
const (
	detailTitleMissing = "Missing in DB"
	detailTitleExtra   = "Extra in DB (unmatched)"
)

// maxDetailsPerDirection caps how many sample entries are emitted for
// each of the two mismatch directions.
const maxDetailsPerDirection = 100
