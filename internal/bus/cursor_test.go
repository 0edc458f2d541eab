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

import "testing"

// newTestCursor builds a Cursor with no live broker connection,
// exercising only the bookkeeping logic that doesn't require a
// network round trip.
func newTestCursor(parts []int32, stopOffsets, position map[int32]int64) *Cursor {
	return &Cursor{
		parts:       parts,
		stopOffsets: stopOffsets,
		position:    position,
	}
}

func TestReachedStopOffsetsAllCaughtUp(t *testing.T) {
	c := newTestCursor(
		[]int32{0, 1},
		map[int32]int64{0: 10, 1: 20},
		map[int32]int64{0: 10, 1: 20},
	)
	if !c.reachedStopOffsets() {
		t.Fatal("expected reached, all partitions at their stop offset")
	}
}

func TestReachedStopOffsetsOnePartitionLagging(t *testing.T) {
	c := newTestCursor(
		[]int32{0, 1},
		map[int32]int64{0: 10, 1: 20},
		map[int32]int64{0: 10, 1: 19},
	)
	if c.reachedStopOffsets() {
		t.Fatal("expected not reached, partition 1 is one short")
	}
}

func TestReachedStopOffsetsEmptyTopic(t *testing.T) {
	c := newTestCursor(
		[]int32{0},
		map[int32]int64{0: 5},
		map[int32]int64{0: 5},
	)
	if !c.reachedStopOffsets() {
		t.Fatal("expected reached immediately when start already equals stop")
	}
}
