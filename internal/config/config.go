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

// Package config binds the command-line surface to a validated Config,
// the way internal/source/server.Config binds and preflights its own
// flags.
package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// Config is the user-visible configuration for a single reconciliation
// run.
type Config struct {
	Broker    string
	Topic     string
	StartTime string

	BatchSize int
	Commit    bool
	Prefetch  bool

	// ChaosProbability injects a synthetic database-query failure at
	// this rate, for exercising the DatabaseQueryFailed fatal-error
	// path without a flaky live database. Zero disables it.
	ChaosProbability float32

	CHHost     string
	CHPort     int
	CHUser     string
	CHPassword string
	CHDatabase string
	Table      string

	SummaryPath  string
	DetailsPath  string
	BadRowsPath  string
	QueryLogPath string

	// LogLevel and MetricsAddr are ambient flags absent from the
	// core's contract but present on every teacher-style service.
	LogLevel    string
	MetricsAddr string

	// Notify* configures the optional post-run summary email; when
	// NotifyHost is unset, notification is skipped.
	NotifyHost     string
	NotifyPort     int
	NotifyUser     string
	NotifyPassword string
	NotifyTo       []string
}

// Bind registers every flag named in the external interface, plus the
// ambient ones, onto flags.
func (c *Config) Bind(flags *pflag.FlagSet) {
	flags.StringVar(&c.Broker, "broker", "", "bus endpoint (host:port), comma-separated for multiple brokers")
	flags.StringVar(&c.Topic, "topic", "", "topic name to reconcile")
	flags.StringVar(&c.StartTime, "start-time", "",
		"epoch milliseconds or 'YYYY-MM-DD HH:MM:SS' UTC; reconciliation begins at the first record at or after this time")
	flags.IntVar(&c.BatchSize, "batch-size", 10000, "number of good records accumulated before each reconciliation pass")
	flags.BoolVar(&c.Commit, "commit", false, "commit bus offsets after each batch (advisory only)")
	flags.BoolVar(&c.Prefetch, "prefetch", false, "overlap bus accumulation for the next batch with reconciliation of the current one")
	flags.Float32Var(&c.ChaosProbability, "chaos-probability", 0,
		"inject a synthetic database-query failure at this rate per query, 0 disables it (testing/demo only)")

	flags.StringVar(&c.CHHost, "ch-host", "localhost", "database host")
	flags.IntVar(&c.CHPort, "ch-port", 9000, "database native-protocol port")
	flags.StringVar(&c.CHUser, "ch-user", "default", "database user")
	flags.StringVar(&c.CHPassword, "ch-password", "", "database password")
	flags.StringVar(&c.CHDatabase, "ch-database", "default", "database name")
	flags.StringVar(&c.Table, "table", "", "target table to reconcile against")

	flags.StringVar(&c.SummaryPath, "summary", "summary.json", "output path for the summary object")
	flags.StringVar(&c.DetailsPath, "details", "details.json", "output path for the mismatch samples array")
	flags.StringVar(&c.BadRowsPath, "bad-rows", "bad_rows.json", "output path for the bad-row array")
	flags.StringVar(&c.QueryLogPath, "ch-query-log", "query_log.json", "output path for the query-window audit array")

	flags.StringVar(&c.LogLevel, "log-level", "info", "logrus level: trace, debug, info, warn, error")
	flags.StringVar(&c.MetricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this address")

	flags.StringVar(&c.NotifyHost, "notify-smtp-host", "", "SMTP host for the optional post-run summary email")
	flags.IntVar(&c.NotifyPort, "notify-smtp-port", 587, "SMTP port")
	flags.StringVar(&c.NotifyUser, "notify-smtp-user", "", "SMTP username")
	flags.StringVar(&c.NotifyPassword, "notify-smtp-password", "", "SMTP password")
	flags.StringSliceVar(&c.NotifyTo, "notify-email", nil, "recipient address(es) for the post-run summary email")
}

// Preflight validates the bound flags and reports the first problem
// found, mirroring server.Config.Preflight's all-or-nothing style.
func (c *Config) Preflight() error {
	if c.Broker == "" {
		return errors.New("broker unset")
	}
	if c.Topic == "" {
		return errors.New("topic unset")
	}
	if c.Table == "" {
		return errors.New("table unset")
	}
	if c.BatchSize <= 0 {
		return errors.New("batch-size must be positive")
	}
	if c.ChaosProbability < 0 || c.ChaosProbability > 1 {
		return errors.New("chaos-probability must be between 0 and 1")
	}
	if c.SummaryPath == "" || c.DetailsPath == "" || c.BadRowsPath == "" || c.QueryLogPath == "" {
		return errors.New("summary, details, bad-rows, and ch-query-log paths must all be set")
	}
	if len(c.NotifyTo) > 0 && c.NotifyHost == "" {
		return errors.New("notify-email given without notify-smtp-host")
	}
	return nil
}

// Brokers splits Broker on commas, trimming whitespace, matching how
// the original accepted a comma-delimited bootstrap.servers string.
func (c *Config) Brokers() []string {
	parts := strings.Split(c.Broker, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ParseStartTime accepts either an epoch-millisecond integer or
// 'YYYY-MM-DD HH:MM:SS' UTC, per spec.md §6.
func ParseStartTime(s string) (time.Time, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := time.Parse("2006-01-02 15:04:05", s)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "start-time %q is neither epoch milliseconds nor 'YYYY-MM-DD HH:MM:SS'", s)
	}
	return t.UTC(), nil
}
