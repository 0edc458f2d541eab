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

package bus

import "github.com/pkg/errors"

// ErrTopicUnavailable is returned when the configured topic has no
// partitions in the broker's metadata, or the broker connection fails
// outright while opening a Cursor.
var ErrTopicUnavailable = errors.New("bus: topic unavailable")

// ErrNoPartitions is returned when a topic exists but carries no
// partitions, which a well-formed cluster never produces but which the
// Cursor guards against rather than assume away.
var ErrNoPartitions = errors.New("bus: topic has no partitions")
