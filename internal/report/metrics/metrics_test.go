package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	m := NewWithRegisterer(prometheus.NewRegistry())

	m.IncRun("general_report", "send", "success")
	m.IncRun("general_report", "send", "success")
	m.AddBatchItems("generated", 3)
	m.AddBatchItems("failed", 0)
	m.ObserveStage("general_report", "render", 20*time.Millisecond)
	m.ObserveDocument("general_report", 12000)

	assert.Equal(t, 2.0, promtest.ToFloat64(m.Runs.WithLabelValues("general_report", "send", "success")))
	assert.Equal(t, 3.0, promtest.ToFloat64(m.BatchItems.WithLabelValues("generated")))
	assert.Equal(t, 1, promtest.CollectAndCount(m.StageLatency))
	assert.Equal(t, 1, promtest.CollectAndCount(m.BatchItems))
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncRun("k", "op", "ok")
		m.ObserveStage("k", "s", time.Second)
		m.ObserveDocument("k", 1)
		m.AddBatchItems("generated", 1)
	})
}
