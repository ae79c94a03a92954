package runner

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type runnerMetrics struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

var (
	runnerMetricsOnce sync.Once
	runnerMetricsInst *runnerMetrics
)

func globalRunnerMetrics() *runnerMetrics {
	runnerMetricsOnce.Do(func() {
		runnerMetricsInst = &runnerMetrics{
			runs: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "controlroom",
				Subsystem: "runner",
				Name:      "task_runs_total",
				Help:      "Background task runs by task and result",
			}, []string{"task", "result"}),
			duration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "controlroom",
				Subsystem: "runner",
				Name:      "task_duration_seconds",
				Help:      "Background task run time",
				Buckets:   prometheus.DefBuckets,
			}, []string{"task"}),
		}
	})
	return runnerMetricsInst
}

func (m *runnerMetrics) observe(task string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.runs.WithLabelValues(task, result).Inc()
	m.duration.WithLabelValues(task).Observe(time.Since(start).Seconds())
}
