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

package stopper

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestGoWaitsForCompletion(t *testing.T) {
	ctx := WithContext(context.Background())
	started := make(chan struct{})
	ctx.Go(func() error {
		close(started)
		<-ctx.Stopping()
		return nil
	})

	<-started
	if err := ctx.Stop(time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStopSurfacesGoroutineError(t *testing.T) {
	ctx := WithContext(context.Background())
	boom := errors.New("boom")
	ctx.Go(func() error { return boom })

	if err := ctx.Stop(time.Second); !errors.Is(err, boom) {
		t.Fatalf("got %v, want %v", err, boom)
	}
}

func TestGoIgnoresContextCanceled(t *testing.T) {
	ctx := WithContext(context.Background())
	ctx.Go(func() error { return context.Canceled })

	if err := ctx.Stop(time.Second); err != nil {
		t.Fatalf("expected context.Canceled to be suppressed, got %v", err)
	}
}
