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

import "github.com/pkg/errors"

// Input-error sentinels. These are per-record, never fatal; they are
// recorded in BadRows and counted separately from the reconciliation
// totals.
var (
	// ErrMalformedPayload is returned when a bus payload is not a
	// keyed object, or a non-timestamp scalar field is absent or of an
	// unexpected type.
	ErrMalformedPayload = errors.New("not_object")

	// ErrMissingTimestamp is returned when the timestamp field is
	// absent from the payload.
	ErrMissingTimestamp = errors.New("missing_timestamp")

	// ErrInvalidTimestamp is returned when the timestamp cannot be
	// interpreted as a 64-bit integer.
	ErrInvalidTimestamp = errors.New("invalid_timestamp")

	// ErrInvalidEncoding is returned by the run driver when the raw
	// bytes of a bus record cannot be decoded at all (e.g. invalid
	// JSON). It is declared here, alongside the other bad-row reasons,
	// so that every BadRow.Reason value has a single home.
	ErrInvalidEncoding = errors.New("invalid_encoding")
)

// Reason returns the bad-row reason string that should be written into
// the bad-rows output array for a given error, defaulting to
// "invalid_encoding" if the error doesn't match a known sentinel (which
// should not happen in practice, since Reason is always invoked on
// an error produced by this package or the run driver).
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrMalformedPayload):
		return "not_object"
	case errors.Is(err, ErrMissingTimestamp):
		return "missing_timestamp"
	case errors.Is(err, ErrInvalidTimestamp):
		return "invalid_timestamp"
	default:
		return "invalid_encoding"
	}
}
