/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package recording

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects egress job counters. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	jobsStarted      prometheus.Counter
	jobStartFailures prometheus.Counter
	jobOutcomes      *prometheus.CounterVec
	pollErrors       prometheus.Counter
	stopFailures     prometheus.Counter
}

// NewMetrics creates the egress job metrics and registers them with reg when
// reg is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Subsystem: "egress",
			Name:      "jobs_started_total",
			Help:      "Total number of egress jobs started",
		}),
		jobStartFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Subsystem: "egress",
			Name:      "job_start_failures_total",
			Help:      "Total number of egress job start requests which failed",
		}),
		jobOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Subsystem: "egress",
			Name:      "session_outcomes_total",
			Help:      "Total number of recording sessions by terminal state",
		}, []string{"state"}),
		pollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Subsystem: "egress",
			Name:      "poll_errors_total",
			Help:      "Total number of failed egress job status polls",
		}),
		stopFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Subsystem: "egress",
			Name:      "job_stop_failures_total",
			Help:      "Total number of egress job stop requests which failed",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.jobsStarted,
			m.jobStartFailures,
			m.jobOutcomes,
			m.pollErrors,
			m.stopFailures,
		)
	}

	return m
}

func (m *Metrics) jobStarted() {
	if m != nil {
		m.jobsStarted.Inc()
	}
}

func (m *Metrics) jobStartFailed() {
	if m != nil {
		m.jobStartFailures.Inc()
	}
}

func (m *Metrics) sessionEnded(state State) {
	if m != nil {
		m.jobOutcomes.WithLabelValues(state.String()).Inc()
	}
}

func (m *Metrics) pollFailed() {
	if m != nil {
		m.pollErrors.Inc()
	}
}

func (m *Metrics) stopFailed() {
	if m != nil {
		m.stopFailures.Inc()
	}
}
