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

package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func bound(args ...string) (*Config, error) {
	c := &Config{}
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	c.Bind(flags)
	if err := flags.Parse(args); err != nil {
		return nil, err
	}
	return c, nil
}

func TestPreflightRequiresCoreFlags(t *testing.T) {
	c, err := bound()
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Preflight(); err == nil {
		t.Fatal("expected an error with no flags set")
	}
}

func TestPreflightAcceptsMinimalFlags(t *testing.T) {
	c, err := bound("--broker=localhost:9092", "--topic=events", "--table=events_table")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Preflight(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPreflightRejectsNotifyWithoutHost(t *testing.T) {
	c, err := bound("--broker=localhost:9092", "--topic=events", "--table=events_table",
		"--notify-email=a@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Preflight(); err == nil {
		t.Fatal("expected an error for notify-email without notify-smtp-host")
	}
}

func TestBrokersSplitsAndTrims(t *testing.T) {
	c, err := bound("--broker= host1:9092 , host2:9092,host3:9092 ")
	if err != nil {
		t.Fatal(err)
	}
	got := c.Brokers()
	want := []string{"host1:9092", "host2:9092", "host3:9092"}
	if len(got) != len(want) {
		t.Fatalf("Brokers() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Brokers()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestParseStartTimeEpochMillis(t *testing.T) {
	got, err := ParseStartTime("1700000000000")
	if err != nil {
		t.Fatal(err)
	}
	want := time.UnixMilli(1700000000000).UTC()
	if !got.Equal(want) {
		t.Fatalf("ParseStartTime = %v, want %v", got, want)
	}
}

func TestParseStartTimeDatetimeString(t *testing.T) {
	got, err := ParseStartTime("2023-11-14 22:13:20")
	if err != nil {
		t.Fatal(err)
	}
	if got.Year() != 2023 || got.Month() != time.November || got.Day() != 14 {
		t.Fatalf("ParseStartTime = %v, want 2023-11-14", got)
	}
}

func TestParseStartTimeRejectsGarbage(t *testing.T) {
	if _, err := ParseStartTime("not-a-time"); err == nil {
		t.Fatal("expected an error for an unparseable start-time")
	}
}
