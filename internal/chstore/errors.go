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

import "github.com/pkg/errors"

// ErrDatabaseUnavailable is returned when the target database cannot
// be dialed or fails its startup ping.
var ErrDatabaseUnavailable = errors.New("chstore: database unavailable")

// ErrQueryFailed is returned when a range query fails after the
// connection was successfully established; it always wraps the
// underlying driver error with the query's range.
var ErrQueryFailed = errors.New("chstore: range query failed")

// ErrChaos is injected by WithChaos in place of a real driver error.
var ErrChaos = errors.New("chstore: chaos")
