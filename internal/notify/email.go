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

// Package notify sends an optional post-run summary email. It is not
// part of the reconciliation core: a failure here is logged, never
// fatal, and never blocks or alters the report files already written.
package notify

import (
	"fmt"
	"net/smtp"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// Config names the SMTP endpoint and recipients. A zero-value Config
// (no Host) means notification is disabled.
type Config struct {
	Host      string
	Port      int
	User      string
	Password  string
	FromName  string
	ToName    string
	To        []string
}

// Enabled reports whether enough configuration is present to attempt
// sending, mirroring the original's "skip if missing SMTP envs" guard.
func (c Config) Enabled() bool {
	return c.Host != "" && c.User != "" && c.Password != "" && len(c.To) > 0
}

// Summary is the subset of a run's outcome the notification reports.
type Summary struct {
	Success         bool
	StartedAt       time.Time
	FinishedAt      time.Time
	Topic           string
	RowsValidated   int
	RowsMatched     int
	RowsMismatched  int
	Notes           string
}

// Send renders and delivers a plain-text summary email. If cfg is not
// Enabled, Send is a no-op that returns nil.
func Send(cfg Config, s Summary) error {
	if !cfg.Enabled() {
		log.Debug("notify: skipping, SMTP not configured")
		return nil
	}

	status := "SUCCESS"
	if !s.Success {
		status = "FAILURE"
	}
	subject := fmt.Sprintf("[Validation %s] %s topic=%s rows=%d mismatches=%d",
		status, s.StartedAt.UTC().Format("2006-01-02"), s.Topic, s.RowsValidated, s.RowsMismatched)

	notes := s.Notes
	if notes == "" {
		notes = "-"
	}
	body := fmt.Sprintf(
		"Validation summary\r\n"+
			"Status: %s\r\n"+
			"Topic: %s\r\n"+
			"Rows validated: %d\r\n"+
			"Rows matched: %d\r\n"+
			"Rows mismatched: %d\r\n"+
			"Started: %s\r\n"+
			"Finished: %s\r\n"+
			"Duration (s): %.2f\r\n"+
			"Notes: %s\r\n",
		status, s.Topic, s.RowsValidated, s.RowsMatched, s.RowsMismatched,
		s.StartedAt.Format(time.RFC3339), s.FinishedAt.Format(time.RFC3339),
		s.FinishedAt.Sub(s.StartedAt).Seconds(), notes,
	)

	from := cfg.User
	fromName := cfg.FromName
	if fromName == "" {
		fromName = "Validation Bot"
	}
	msg := strings.Builder{}
	msg.WriteString(fmt.Sprintf("From: %s <%s>\r\n", fromName, from))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(cfg.To, ", ")))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString("\r\n")
	msg.WriteString(body)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	auth := smtp.PlainAuth("", cfg.User, cfg.Password, cfg.Host)
	if err := smtp.SendMail(addr, auth, from, cfg.To, []byte(msg.String())); err != nil {
		log.WithError(err).Warn("notify: failed to send summary email")
		return err
	}
	log.WithField("to", cfg.To).Info("notify: summary email sent")
	return nil
}
