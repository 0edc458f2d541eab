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

// Package driver implements the Run driver: the poll loop that ties
// the bus cursor, the batch buffer, and the batch reconciler together,
// and computes the aggregate totals handed to the report package.
package driver

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/sharpe10j/streamrecon/internal/bus"
	"github.com/sharpe10j/streamrecon/internal/reconcile"
	"github.com/sharpe10j/streamrecon/internal/util/stopper"
)

const rawSampleLimit = 256

// drainTimeout bounds how long Run waits, on its way out, for the
// background accumulator goroutine to notice cancellation and return.
// In the ordinary completion path the goroutine has already exited by
// the time the main loop observes the channel close, so this only
// matters on an early return (a fatal ProcessBatch error, or a bus
// error): without it, a goroutine blocked inside Cursor.Poll or a
// channel send would otherwise leak past Run's return.
const drainTimeout = 10 * time.Second

// Cursor is the subset of *bus.Cursor the driver depends on, so tests
// can supply a fake poll source.
type Cursor interface {
	Poll(ctx context.Context) ([]bus.Message, bool, error)
	Close() error
}

// Options configures Run.
type Options struct {
	// BatchSize is the number of good records buffered before the
	// reconciler is invoked, independent of how many bus messages
	// (including decode failures) were polled to produce them.
	BatchSize int
	// Commit requests that bus offsets be committed after every
	// batch. The core treats this as advisory only (spec.md §6): a
	// Cursor built atop manually-assigned partitions, as this one is,
	// has no consumer group to commit against, so Commit is logged
	// and otherwise a no-op.
	Commit bool
	// Prefetch overlaps the next batch's bus accumulation with the
	// current batch's reconciliation (including its database round
	// trips) on a background goroutine.
	Prefetch bool
}

// Result is what a completed Run hands to the report package.
type Result struct {
	State   *reconcile.State
	Elapsed time.Duration
}

// batchMsg is one unit handed from the accumulator to the main loop:
// a batch of good records, any bad rows decoded since the previous
// batchMsg, the final (possibly partial) batch at completion, or a
// fatal error. badRows travels alongside batch rather than being
// recorded into *reconcile.State by the accumulator goroutine itself,
// so that State is only ever mutated by the single goroutine running
// Run's main loop — see drive below.
type batchMsg struct {
	batch   []reconcile.BusRecord
	badRows []reconcile.BadRow
	done    bool
	err     error
}

// Run drives cur to completion, decoding each polled message's bytes
// and handing size-bounded batches to recon. It returns once the
// cursor reports every partition has reached its stop offset, once a
// fatal error occurs, or once ctx is canceled.
func Run(ctx context.Context, cur Cursor, recon *reconcile.Reconciler, opts Options) (*Result, error) {
	runsStarted.Inc()
	start := time.Now()

	sctx := stopper.WithContext(ctx)
	accumulator := accumulateSync
	if opts.Prefetch {
		accumulator = accumulate
	}
	msgs := accumulator(sctx, cur, opts.BatchSize)

	result, runErr := drive(sctx, msgs, recon, opts)

	// Stop unconditionally: on the success path the accumulator has
	// already returned (its goroutine closes msgs as its last act), so
	// this returns immediately; on an early return it cancels sctx and
	// waits for the goroutine to notice and unwind.
	if stopErr := sctx.Stop(drainTimeout); runErr == nil && stopErr != nil {
		runErr = stopErr
	}
	if runErr != nil {
		return nil, runErr
	}

	elapsed := time.Since(start)
	runDuration.Observe(elapsed.Seconds())
	return &Result{State: result.State, Elapsed: elapsed}, nil
}

// drive consumes msgs on the calling goroutine, recording bad rows and
// invoking ProcessBatch. recon.State is mutated only here, never from
// the accumulator goroutine, regardless of whether Prefetch is set.
func drive(ctx context.Context, msgs <-chan batchMsg, recon *reconcile.Reconciler, opts Options) (*Result, error) {
	for m := range msgs {
		if m.err != nil {
			if errors.Is(m.err, context.Canceled) {
				runsInterrupted.Inc()
			} else {
				runsFailed.WithLabelValues("bus").Inc()
			}
			return nil, m.err
		}

		for _, b := range m.badRows {
			recon.State.RecordBadRow(b)
		}

		if len(m.batch) > 0 {
			if err := recon.ProcessBatch(ctx, m.batch); err != nil {
				runsFailed.WithLabelValues("database").Inc()
				return nil, errors.Wrap(err, "driver: process batch")
			}
			if opts.Commit {
				log.Debug("driver: commit requested (advisory only, no consumer group to commit against)")
			}
		}

		if m.done {
			return &Result{State: recon.State}, nil
		}
	}
	// msgs closed without a done batch: the accumulator gave up because
	// ctx was canceled before the cursor reached its stop offsets, so
	// the state is partial and must not be reported.
	runsInterrupted.Inc()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, errors.New("driver: accumulator stopped before the cursor completed")
}

// accumulateSync runs the poll-decode-batch loop on a tracked
// goroutine and hands batches over a channel with a buffer of one: the
// default posture. The producer can fill the buffer and then hold one
// more finished batch while blocked on send, so it runs up to two
// batches ahead of the consumer; accumulation is not paused while a
// batch is reconciled.
func accumulateSync(sctx *stopper.Context, cur Cursor, batchSize int) <-chan batchMsg {
	out := make(chan batchMsg, 1)
	sctx.Go(func() error {
		runAccumulator(sctx, cur, batchSize, out)
		return nil
	})
	return out
}

// accumulate runs the same loop as accumulateSync but hands batches to
// the main loop over an unbuffered channel: the producer blocks on
// send, so it can get at most one batch ahead of the consumer, which
// is what lets the next batch's bus accumulation overlap with the
// current batch's reconciliation without ever reordering batches or
// racing the watermark.
func accumulate(sctx *stopper.Context, cur Cursor, batchSize int) <-chan batchMsg {
	out := make(chan batchMsg)
	sctx.Go(func() error {
		runAccumulator(sctx, cur, batchSize, out)
		return nil
	})
	return out
}

// runAccumulator polls cur, decodes each message, and flushes batchMsg
// values to out. It never touches *reconcile.State: bad rows ride
// along in batchMsg.badRows and are recorded by drive on the consuming
// goroutine instead, so no two goroutines ever write the same State
// concurrently.
func runAccumulator(ctx context.Context, cur Cursor, batchSize int, out chan<- batchMsg) {
	defer close(out)
	var batch []reconcile.BusRecord
	var badRows []reconcile.BadRow
	for {
		polled, done, err := cur.Poll(ctx)
		if err != nil {
			send(ctx, out, batchMsg{err: err})
			return
		}
		for _, m := range polled {
			var payload map[string]any
			if err := json.Unmarshal(m.Value, &payload); err != nil {
				badRows = append(badRows, decodeFailure(m, err))
				continue
			}
			batch = append(batch, reconcile.BusRecord{
				Topic: m.Topic, Partition: m.Partition, Offset: m.Offset, Payload: payload,
			})
			if len(batch) >= batchSize {
				if !send(ctx, out, batchMsg{batch: batch, badRows: badRows}) {
					return
				}
				batch = nil
				badRows = nil
			}
		}
		if done {
			send(ctx, out, batchMsg{batch: batch, badRows: badRows, done: true})
			return
		}
	}
}

// send delivers msg, returning false if ctx was canceled first.
func send(ctx context.Context, out chan<- batchMsg, msg batchMsg) bool {
	select {
	case out <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

// decodeFailure builds the bad-row record for a bus message whose
// bytes never decoded as a JSON object at all, per spec.md §4.5's
// "on decode failure, append to bad_rows and continue."
func decodeFailure(m bus.Message, err error) reconcile.BadRow {
	sample := string(m.Value)
	if len(sample) > rawSampleLimit {
		sample = sample[:rawSampleLimit]
	}
	return reconcile.BadRow{
		Reason:    reconcile.Reason(reconcile.ErrInvalidEncoding),
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		RawSample: sample,
		Err:       err.Error(),
	}
}
