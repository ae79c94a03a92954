package database

import (
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
)

// RegisterPoolMetrics exposes connection pool statistics of db on reg.
func RegisterPoolMetrics(reg prometheus.Registerer, db *sqlx.DB) error {
	gauge := func(name, help string, value func() float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "controlroom",
			Subsystem: "db_pool",
			Name:      name,
			Help:      help,
		}, value)
	}
	counter := func(name, help string, value func() float64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "controlroom",
			Subsystem: "db_pool",
			Name:      name,
			Help:      help,
		}, value)
	}

	collectors := []prometheus.Collector{
		gauge("open_connections", "Number of established connections", func() float64 {
			return float64(db.Stats().OpenConnections)
		}),
		gauge("in_use_connections", "Number of connections currently in use", func() float64 {
			return float64(db.Stats().InUse)
		}),
		gauge("idle_connections", "Number of idle connections", func() float64 {
			return float64(db.Stats().Idle)
		}),
		counter("wait_count_total", "Total number of waits for a connection", func() float64 {
			return float64(db.Stats().WaitCount)
		}),
		counter("wait_duration_seconds_total", "Total time spent waiting for a connection", func() float64 {
			return db.Stats().WaitDuration.Seconds()
		}),
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
