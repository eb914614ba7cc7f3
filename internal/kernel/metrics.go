// Copyright the uslossd authors. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package kernel

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the driver-subsystem instrumentation SPEC_FULL.md's
// DOMAIN STACK wires in: sleeper count, per-unit disk queue depth, and
// per-unit terminal lines buffered. cmd/uslossd registers them once,
// after Supervisor.Start, and serves them on its /metrics endpoint when
// -metrics-addr is set.
type Metrics struct {
	Sleepers            prometheus.Gauge
	DiskQueueDepth      *prometheus.GaugeVec
	TerminalLinesBuffer *prometheus.GaugeVec
}

// NewMetrics registers the three gauges on reg and returns the handle
// used to update them. Passing a fresh prometheus.NewRegistry() per
// Supervisor keeps test instances from colliding in the default
// registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Sleepers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "uslossd_sleepers",
			Help: "Number of processes currently blocked in Sleep.",
		}),
		DiskQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "uslossd_disk_queue_depth",
			Help: "Number of pending disk requests, per unit.",
		}, []string{"unit"}),
		TerminalLinesBuffer: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "uslossd_terminal_lines_buffered",
			Help: "Number of lines the terminal reader has emitted, per unit.",
		}, []string{"unit"}),
	}
	reg.MustRegister(m.Sleepers, m.DiskQueueDepth, m.TerminalLinesBuffer)
	return m
}

// Sample refreshes the gauges from the supervisor's current state. It
// is not wired into the hot path of any driver (spec.md's drivers are
// not themselves instrumented, per the Non-goal on anything beyond raw
// sector/line I/O); cmd/uslossd polls it on an interval instead.
func (s *Supervisor) Sample(m *Metrics) {
	if m == nil {
		return
	}
	m.Sleepers.Set(float64(len(s.SleepList.Members())))
	for unit, q := range s.diskReqs {
		m.DiskQueueDepth.WithLabelValues(unitLabel(unit)).Set(float64(len(q.Members())))
	}
	for unit, stats := range s.TermStats {
		m.TerminalLinesBuffer.WithLabelValues(unitLabel(unit)).Set(float64(stats.LinesBuffered))
	}
}

func unitLabel(unit int) string {
	return "u" + strconv.Itoa(unit)
}
