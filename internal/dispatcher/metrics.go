package dispatcher

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/goatkit/controlroom/internal/repository"
	"github.com/goatkit/controlroom/internal/stage"
)

type dispatcherMetrics struct {
	operations *prometheus.CounterVec
	durations  *prometheus.HistogramVec
}

var (
	dispatcherMetricsOnce sync.Once
	dispatcherMetricsInst *dispatcherMetrics
)

func globalDispatcherMetrics() *dispatcherMetrics {
	dispatcherMetricsOnce.Do(func() {
		dispatcherMetricsInst = &dispatcherMetrics{
			operations: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "controlroom",
				Subsystem: "dispatcher",
				Name:      "operations_total",
				Help:      "Session operations handled by the dispatcher, labeled by operation and outcome",
			}, []string{"op", "outcome"}),
			durations: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "controlroom",
				Subsystem: "dispatcher",
				Name:      "operation_duration_seconds",
				Help:      "Time spent per operation including lock wait and commit",
				Buckets:   prometheus.DefBuckets,
			}, []string{"op"}),
		}
	})
	return dispatcherMetricsInst
}

func (m *dispatcherMetrics) observe(op string, start time.Time, err error) {
	m.operations.WithLabelValues(op, outcome(err)).Inc()
	m.durations.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func outcome(err error) string {
	var te *stage.TransitionError
	var pe *PermissionError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrStaleSubmission):
		return "stale"
	case errors.As(err, &pe):
		return "forbidden"
	case errors.As(err, &te):
		return "invalid_transition"
	case errors.Is(err, ErrInvalidPayload), errors.Is(err, stage.ErrNoSubmission):
		return "invalid"
	case errors.Is(err, repository.ErrNotFound):
		return "not_found"
	case errors.Is(err, repository.ErrVersionConflict), errors.Is(err, repository.ErrDuplicateCaseID):
		return "conflict"
	default:
		return "error"
	}
}
