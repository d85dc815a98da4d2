// Copyright 2026 Chainguard, Inc.
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

package control

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"chainguard.dev/guardfs/pkg/backup"
	"chainguard.dev/guardfs/pkg/guard"
	"chainguard.dev/guardfs/pkg/mode"
)

// Metrics exports decision and backup counters. It implements
// guard.Observer.
type Metrics struct {
	decisions     *prometheus.CounterVec
	backups       *prometheus.CounterVec
	backupSeconds prometheus.Histogram
	backupBytes   prometheus.Counter
}

var _ guard.Observer = (*Metrics)(nil)

// NewMetrics registers the guardfs collectors with reg. The current mode is
// exported as a gauge read from modes at scrape time.
func NewMetrics(reg prometheus.Registerer, modes *mode.Store) *Metrics {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guardfs_decisions_total",
			Help: "Open decisions by mode, intent and verdict.",
		}, []string{"mode", "intent", "verdict"}),
		backups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guardfs_backups_total",
			Help: "Backup attempts by result.",
		}, []string{"result"}),
		backupSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "guardfs_backup_duration_seconds",
			Help:    "Time spent protecting a file before a write.",
			Buckets: prometheus.DefBuckets,
		}),
		backupBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "guardfs_backup_bytes_total",
			Help: "Bytes copied into new backups.",
		}),
	}
	reg.MustRegister(m.decisions, m.backups, m.backupSeconds, m.backupBytes)
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "guardfs_mode",
		Help: "Current protection mode (0 permissive, 1 read-only, 2 backup-only).",
	}, func() float64 { return float64(modes.Get()) }))
	return m
}

func (m *Metrics) ObserveDecision(md mode.Mode, req guard.Request, v guard.Verdict) {
	intent := "read"
	if req.WantsWrite {
		intent = "write"
	}
	m.decisions.WithLabelValues(md.String(), intent, v.String()).Inc()
}

func (m *Metrics) ObserveBackup(res *backup.Result, err error, took time.Duration) {
	m.backupSeconds.Observe(took.Seconds())
	m.backups.WithLabelValues(backupResult(res, err)).Inc()
	if err == nil && res != nil && !res.Reused {
		m.backupBytes.Add(float64(res.Size))
	}
}

func backupResult(res *backup.Result, err error) string {
	switch {
	case err == nil && res != nil && res.Reused:
		return "reused"
	case err == nil:
		return "created"
	case errors.Is(err, backup.ErrSourceEmpty):
		return "empty"
	case errors.Is(err, backup.ErrSourceUnavailable):
		return "source_unavailable"
	case errors.Is(err, backup.ErrCollision):
		return "collision"
	default:
		return "io_error"
	}
}
