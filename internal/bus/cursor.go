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

// Package bus implements the Bus cursor: seek-by-timestamp,
// stop-offset snapshotting, and bounded polling across every partition
// of a single topic.
package bus

import (
	"context"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/sharpe10j/streamrecon/internal/util/stopper"
)

// closeTimeout bounds how long Close waits for every pump goroutine to
// notice shutdown and return.
const closeTimeout = 10 * time.Second

// pollInterval bounds how long a single call to Poll blocks waiting
// for new messages before returning whatever it has collected so far,
// mirroring the original's consumer.poll(timeout=0.05).
const pollInterval = 50 * time.Millisecond

// Message is a single bus record together with its origin coordinates.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Timestamp time.Time
	Value     []byte
}

// Cursor reads a bounded slice of a single topic: every partition,
// seeked to a starting timestamp, and stopping once every partition
// has reached the offset snapshotted as "the end" when the Cursor was
// opened. It never reads messages produced after Open returns.
type Cursor struct {
	topic   string
	client  sarama.Client
	group   sarama.Consumer
	parts   []int32
	workers map[int32]sarama.PartitionConsumer

	// stopOffsets[p] is the first offset on partition p that must NOT
	// be consumed: the Cursor is done with p once position[p] reaches
	// it.
	stopOffsets map[int32]int64
	position    map[int32]int64

	messages chan *sarama.ConsumerMessage
	errs     chan error

	// sctx tracks the per-partition pump goroutines, so Close can
	// signal and wait for all of them to return instead of abandoning
	// them once the channels they feed stop being read.
	sctx *stopper.Context
}

// Open resolves start into a per-partition offset, snapshots a
// per-partition stop offset from the topic's current high watermark,
// and begins consuming every partition of topic concurrently. The
// returned Cursor never observes messages appended after this call.
func Open(ctx context.Context, brokers []string, topic string, start time.Time) (*Cursor, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = "streamrecon-" + uuid.NewString()
	cfg.Consumer.Return.Errors = true
	cfg.Version = sarama.V2_1_0_0

	client, err := sarama.NewClient(brokers, cfg)
	if err != nil {
		return nil, errors.Wrapf(ErrTopicUnavailable, "dial brokers: %v", err)
	}

	parts, err := client.Partitions(topic)
	if err != nil {
		client.Close()
		return nil, errors.Wrapf(ErrTopicUnavailable, "partitions for %q: %v", topic, err)
	}
	if len(parts) == 0 {
		client.Close()
		return nil, errors.Wrapf(ErrNoPartitions, "topic %q", topic)
	}

	startOffsets, err := resolveStartOffsets(client, topic, parts, start)
	if err != nil {
		client.Close()
		return nil, err
	}
	stopOffsets, err := snapshotStopOffsets(client, topic, parts)
	if err != nil {
		client.Close()
		return nil, err
	}

	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		client.Close()
		return nil, errors.Wrap(err, "bus: open consumer")
	}

	c := &Cursor{
		topic:       topic,
		client:      client,
		group:       consumer,
		parts:       parts,
		workers:     make(map[int32]sarama.PartitionConsumer, len(parts)),
		stopOffsets: stopOffsets,
		position:    make(map[int32]int64, len(parts)),
		messages:    make(chan *sarama.ConsumerMessage, 256),
		errs:        make(chan error, len(parts)),
		sctx:        stopper.WithContext(ctx),
	}

	for _, p := range parts {
		pc, err := consumer.ConsumePartition(topic, p, startOffsets[p])
		if err != nil {
			c.Close()
			return nil, errors.Wrapf(err, "bus: consume partition %d from offset %d", p, startOffsets[p])
		}
		c.workers[p] = pc
		c.position[p] = startOffsets[p]
		partition, partitionConsumer := p, pc
		c.sctx.Go(func() error {
			c.pump(partition, partitionConsumer)
			return nil
		})
	}

	log.WithFields(log.Fields{
		"topic":        topic,
		"partitions":   len(parts),
		"start":        start,
		"stop_offsets": stopOffsets,
	}).Info("bus cursor opened")

	return c, nil
}

func (c *Cursor) pump(partition int32, pc sarama.PartitionConsumer) {
	for {
		select {
		case msg, ok := <-pc.Messages():
			if !ok {
				return
			}
			select {
			case c.messages <- msg:
			case <-c.sctx.Stopping():
				return
			}
		case err, ok := <-pc.Errors():
			if !ok {
				continue
			}
			select {
			case c.errs <- errors.Wrapf(err, "bus: partition %d", partition):
			case <-c.sctx.Stopping():
				return
			}
		case <-c.sctx.Stopping():
			return
		}
	}
}

// Poll blocks for up to pollInterval collecting whatever messages have
// arrived, then returns. done reports whether every partition has
// reached its snapshotted stop offset; once done is true, batch may
// still hold trailing messages and must be processed before the Cursor
// is discarded.
func (c *Cursor) Poll(ctx context.Context) (batch []Message, done bool, err error) {
	deadline := time.NewTimer(pollInterval)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return batch, false, ctx.Err()
		case err := <-c.errs:
			return batch, false, err
		case msg := <-c.messages:
			c.position[msg.Partition] = msg.Offset + 1
			if msg.Offset >= c.stopOffsets[msg.Partition] {
				// Past this partition's snapshotted end: outside the window.
				continue
			}
			batch = append(batch, Message{
				Topic:     msg.Topic,
				Partition: msg.Partition,
				Offset:    msg.Offset,
				Timestamp: msg.Timestamp,
				Value:     msg.Value,
			})
		case <-deadline.C:
			if len(batch) == 0 {
				pollEmpty.Inc()
			} else {
				messagesConsumed.Add(float64(len(batch)))
			}
			return batch, c.reachedStopOffsets(), nil
		}
	}
}

// reachedStopOffsets mirrors the original's reached_stop_offsets:
// every assigned partition's current position must be at or past its
// stop offset.
func (c *Cursor) reachedStopOffsets() bool {
	for _, p := range c.parts {
		if c.position[p] < c.stopOffsets[p] {
			return false
		}
	}
	return true
}

// Close signals every pump goroutine to stop and waits up to
// closeTimeout for them to drain, then releases every partition
// consumer and the underlying client. Close does not close the channel
// Poll reads from; a Poll in progress returns on its own once
// pollInterval elapses or its ctx is canceled.
func (c *Cursor) Close() error {
	firstErr := c.sctx.Stop(closeTimeout)
	for _, pc := range c.workers {
		if err := pc.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := c.group.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := c.client.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// resolveStartOffsets seeks every partition to the first offset whose
// message timestamp is >= start, falling back to the partition's
// oldest offset when the timestamp lookup finds nothing (no message on
// the partition has a timestamp at or after start), matching
// seek_to_timestamp's fallback-to-earliest-offset behavior.
func resolveStartOffsets(client sarama.Client, topic string, parts []int32, start time.Time) (map[int32]int64, error) {
	out := make(map[int32]int64, len(parts))
	for _, p := range parts {
		off, err := client.GetOffset(topic, p, start.UnixMilli())
		if err != nil {
			return nil, errors.Wrapf(err, "bus: resolve start offset for partition %d", p)
		}
		if off < 0 {
			off, err = client.GetOffset(topic, p, sarama.OffsetOldest)
			if err != nil {
				return nil, errors.Wrapf(err, "bus: fall back to oldest offset for partition %d", p)
			}
		}
		out[p] = off
	}
	return out, nil
}

// snapshotStopOffsets implements last_timestamp_ms_for_partition +
// topic_stop_time_ms + compute_stop_offsets: it finds the latest
// message timestamp across all partitions, then resolves that
// timestamp (exclusive) to a stop offset on every partition, so that a
// Cursor started now never observes a message produced after this
// call, even on a partition that individually lags.
func snapshotStopOffsets(client sarama.Client, topic string, parts []int32) (map[int32]int64, error) {
	highs := make(map[int32]int64, len(parts))
	var stopMs int64 = -1

	for _, p := range parts {
		low, err := client.GetOffset(topic, p, sarama.OffsetOldest)
		if err != nil {
			return nil, errors.Wrapf(err, "bus: oldest offset for partition %d", p)
		}
		high, err := client.GetOffset(topic, p, sarama.OffsetNewest)
		if err != nil {
			return nil, errors.Wrapf(err, "bus: newest offset for partition %d", p)
		}
		highs[p] = high
		if high == low {
			continue // no messages on this partition yet
		}
		ts, err := lastMessageTimestamp(client, topic, p, high-1)
		if err != nil {
			return nil, err
		}
		ms := ts.UnixMilli()
		if ms > stopMs {
			stopMs = ms
		}
	}

	stops := make(map[int32]int64, len(parts))
	if stopMs < 0 {
		// Topic is entirely empty: every partition stops where it starts.
		for _, p := range parts {
			stops[p] = highs[p]
		}
		return stops, nil
	}

	for _, p := range parts {
		off, err := client.GetOffset(topic, p, stopMs+1)
		if err != nil {
			return nil, errors.Wrapf(err, "bus: resolve stop offset for partition %d", p)
		}
		if off < 0 {
			off = highs[p]
		}
		stops[p] = off
	}
	return stops, nil
}

// lastMessageTimestamp consumes exactly one message at offset from
// partition p to read its timestamp, then tears the temporary consumer
// down. This is the direct analogue of the original's single-message
// peek via consumer.poll after assign([tp]).
func lastMessageTimestamp(client sarama.Client, topic string, p int32, offset int64) (time.Time, error) {
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		return time.Time{}, errors.Wrap(err, "bus: open peek consumer")
	}
	defer consumer.Close()

	pc, err := consumer.ConsumePartition(topic, p, offset)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "bus: peek partition %d at offset %d", p, offset)
	}
	defer pc.Close()

	select {
	case msg := <-pc.Messages():
		return msg.Timestamp, nil
	case err := <-pc.Errors():
		return time.Time{}, errors.Wrapf(err, "bus: peek partition %d", p)
	case <-time.After(10 * time.Second):
		return time.Time{}, errors.Errorf("bus: timed out peeking partition %d at offset %d", p, offset)
	}
}
