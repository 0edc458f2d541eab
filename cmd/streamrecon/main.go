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

// Command streamrecon reconciles a bus topic against a database table
// over a bounded time range and writes a summary, a mismatch-sample
// array, a bad-row array, and a query-window audit array.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sharpe10j/streamrecon/internal/bus"
	"github.com/sharpe10j/streamrecon/internal/chstore"
	"github.com/sharpe10j/streamrecon/internal/config"
	"github.com/sharpe10j/streamrecon/internal/driver"
	"github.com/sharpe10j/streamrecon/internal/notify"
	"github.com/sharpe10j/streamrecon/internal/reconcile"
	"github.com/sharpe10j/streamrecon/internal/report"
)

// Exit codes per spec.md §6.
const (
	exitSuccess     = 0
	exitInterrupted = 130
	exitFatal       = 1
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg := &config.Config{}
	root := &cobra.Command{
		Use:           "streamrecon",
		Short:         "reconcile a bus topic against a database table",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cfg.Bind(root.Flags())
	root.SetArgs(args)

	var exitCode int
	root.RunE = func(cmd *cobra.Command, _ []string) error {
		exitCode = execute(cmd.Context(), cfg)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	root.SetContext(ctx)

	if err := root.Execute(); err != nil {
		log.WithError(err).Error("streamrecon: flag parsing failed")
		return exitFatal
	}
	return exitCode
}

// execute binds logging and metrics, validates cfg, wires every
// collaborator, runs the driver to completion, and writes the report.
// It never panics on an operational failure; it returns the exit code
// spec.md §6 requires for that failure.
func execute(ctx context.Context, cfg *config.Config) int {
	if lvl, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}

	if err := cfg.Preflight(); err != nil {
		log.WithError(err).Error("streamrecon: invalid configuration")
		return exitFatal
	}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Warn("streamrecon: metrics server exited")
			}
		}()
		defer srv.Close()
	}

	start, err := config.ParseStartTime(cfg.StartTime)
	if err != nil {
		log.WithError(err).Error("streamrecon: invalid start-time")
		return exitFatal
	}

	started := time.Now()

	cur, err := bus.Open(ctx, cfg.Brokers(), cfg.Topic, start)
	if err != nil {
		log.WithError(err).Error("streamrecon: TopicUnavailable")
		sendFailureNotice(cfg, started, err)
		return exitFatal
	}
	defer cur.Close()

	pool, err := chstore.OpenPool(ctx, chstore.ConnConfig{
		Host:     cfg.CHHost,
		Port:     cfg.CHPort,
		Database: cfg.CHDatabase,
		User:     cfg.CHUser,
		Password: cfg.CHPassword,
	}, chstore.WithWaitForStartup())
	if err != nil {
		log.WithError(err).Error("streamrecon: DatabaseUnavailable")
		sendFailureNotice(cfg, started, err)
		return exitFatal
	}
	defer pool.Close()

	var reader reconcile.RangeReader = chstore.NewReader(pool)
	if cfg.ChaosProbability > 0 {
		log.WithField("chaos_probability", cfg.ChaosProbability).Warn("streamrecon: chaos injection enabled")
		reader = chstore.WithChaos(reader, cfg.ChaosProbability)
	}
	state := reconcile.NewState()
	recon := reconcile.NewReconciler(reader, cfg.Table, state)

	res, err := driver.Run(ctx, cur, recon, driver.Options{
		BatchSize: cfg.BatchSize,
		Commit:    cfg.Commit,
		Prefetch:  cfg.Prefetch,
	})
	if err != nil {
		if ctx.Err() != nil {
			log.WithField("watermark_ns", lastWatermark(state)).Warn("streamrecon: interrupted")
			return exitInterrupted
		}
		log.WithError(err).WithField("watermark_ns", lastWatermark(state)).Error("streamrecon: fatal error")
		sendFailureNotice(cfg, started, err)
		return exitFatal
	}

	if err := report.Write(report.Paths{
		Summary:  cfg.SummaryPath,
		Details:  cfg.DetailsPath,
		BadRows:  cfg.BadRowsPath,
		QueryLog: cfg.QueryLogPath,
	}, res.State, res.Elapsed); err != nil {
		log.WithError(err).Error("streamrecon: failed to write report")
		return exitFatal
	}

	log.WithFields(log.Fields{
		"matched":    res.State.MatchedTotal(),
		"mismatched": res.State.MismatchTotal(),
		"elapsed":    res.Elapsed,
	}).Info("streamrecon: run complete")

	if err := notify.Send(notifyConfig(cfg), notify.Summary{
		Success:        true,
		StartedAt:      started,
		FinishedAt:     started.Add(res.Elapsed),
		Topic:          cfg.Topic,
		RowsValidated:  res.State.TotalBusConsumed,
		RowsMatched:    res.State.MatchedTotal(),
		RowsMismatched: res.State.MismatchTotal(),
	}); err != nil {
		log.WithError(err).Warn("streamrecon: summary email failed, run itself succeeded")
	}

	return exitSuccess
}

func lastWatermark(s *reconcile.State) int64 {
	if s == nil || !s.HasWatermark {
		return -1
	}
	return s.DBWatermarkNS
}

func notifyConfig(cfg *config.Config) notify.Config {
	return notify.Config{
		Host:     cfg.NotifyHost,
		Port:     cfg.NotifyPort,
		User:     cfg.NotifyUser,
		Password: cfg.NotifyPassword,
		To:       cfg.NotifyTo,
	}
}

// sendFailureNotice best-effort notifies on a fatal error. The send is
// synchronous, so it can delay the exit, but its outcome never alters
// the exit code.
func sendFailureNotice(cfg *config.Config, started time.Time, cause error) {
	_ = notify.Send(notifyConfig(cfg), notify.Summary{
		Success:    false,
		StartedAt:  started,
		FinishedAt: time.Now(),
		Topic:      cfg.Topic,
		Notes:      cause.Error(),
	})
}
