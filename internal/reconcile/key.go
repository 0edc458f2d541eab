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

// Package reconcile implements the two-sided, windowed multiset
// equality check between a bus topic and a database table.
package reconcile

import (
	"strconv"

	"github.com/pkg/errors"
)

// A Key is the seven-scalar tuple that defines record identity. Two
// records are "the same" iff their Keys compare equal in all seven
// positions. TimestampNS is also the ordering axis used for windowing.
type Key struct {
	TimestampNS int64
	EventType   string
	Ticker      string
	Price       int64
	Quantity    int64
	Exchange    string
	Conditions  string
}

// fieldOrder lists the payload field names in the order they appear in
// a Key, timestamp excluded (it is handled separately because its
// absence or malformedness is a distinct error class).
var fieldOrder = []string{"event_type", "ticker", "price", "quantity", "exchange", "conditions"}

// timestampField is the name of the payload field that carries the
// nanosecond timestamp used for windowing.
const timestampField = "datetime"

// KeyFromBusPayload canonicalizes a decoded bus payload into a Key.
// The timestamp is singled out because windowing depends on it; other
// field errors are deferrable to the row producer. Numeric fields are
// coerced from either a JSON number or a decimal string so that, e.g.,
// a "price" serialized as a string on the bus still matches the
// database's integer column.
func KeyFromBusPayload(payload map[string]any) (Key, error) {
	if payload == nil {
		return Key{}, errors.WithStack(ErrMalformedPayload)
	}

	rawTS, ok := payload[timestampField]
	if !ok {
		return Key{}, errors.WithStack(ErrMissingTimestamp)
	}
	ts, err := coerceInt64(rawTS)
	if err != nil {
		return Key{}, errors.Wrapf(ErrInvalidTimestamp, "field %q: %v", timestampField, err)
	}

	k := Key{TimestampNS: ts}
	for _, name := range fieldOrder {
		raw, ok := payload[name]
		if !ok {
			return Key{}, errors.Wrapf(ErrMalformedPayload, "missing field %q", name)
		}
		if err := assignField(&k, name, raw); err != nil {
			return Key{}, errors.Wrapf(ErrMalformedPayload, "field %q: %v", name, err)
		}
	}
	return k, nil
}

func assignField(k *Key, name string, raw any) error {
	switch name {
	case "event_type":
		s, err := coerceString(raw)
		if err != nil {
			return err
		}
		k.EventType = s
	case "ticker":
		s, err := coerceString(raw)
		if err != nil {
			return err
		}
		k.Ticker = s
	case "price":
		v, err := coerceInt64(raw)
		if err != nil {
			return err
		}
		k.Price = v
	case "quantity":
		v, err := coerceInt64(raw)
		if err != nil {
			return err
		}
		k.Quantity = v
	case "exchange":
		s, err := coerceString(raw)
		if err != nil {
			return err
		}
		k.Exchange = s
	case "conditions":
		s, err := coerceString(raw)
		if err != nil {
			return err
		}
		k.Conditions = s
	}
	return nil
}

// coerceInt64 accepts either a JSON number (decoded as float64 by
// encoding/json) or a decimal string, matching the bus producer's habit
// of sometimes serializing numeric fields as strings.
func coerceInt64(raw any) (int64, error) {
	switch v := raw.(type) {
	case float64:
		return int64(v), nil
	case int64:
		return v, nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, errors.Wrap(err, "not a decimal integer")
		}
		return n, nil
	default:
		return 0, errors.Errorf("unsupported type %T", raw)
	}
}

// coerceString takes a string field verbatim; no normalization is
// performed per the record-key contract.
func coerceString(raw any) (string, error) {
	s, ok := raw.(string)
	if !ok {
		return "", errors.Errorf("unsupported type %T", raw)
	}
	return s, nil
}

// DBRow is a tuple from the target table exposing exactly the seven
// scalars of a Key, with the timestamp already projected to
// nanoseconds by the Database range reader.
type DBRow struct {
	TimestampNS int64
	EventType   string
	Ticker      string
	Price       int64
	Quantity    int64
	Exchange    string
	Conditions  string
}

// KeyFromRow is total; the database guarantees the schema.
func KeyFromRow(row DBRow) Key {
	return Key{
		TimestampNS: row.TimestampNS,
		EventType:   row.EventType,
		Ticker:      row.Ticker,
		Price:       row.Price,
		Quantity:    row.Quantity,
		Exchange:    row.Exchange,
		Conditions:  row.Conditions,
	}
}

// Array renders the Key as an ordered slice of scalars, the shape used
// for the "record" field of a details-array entry.
func (k Key) Array() [7]any {
	return [7]any{k.TimestampNS, k.EventType, k.Ticker, k.Price, k.Quantity, k.Exchange, k.Conditions}
}
