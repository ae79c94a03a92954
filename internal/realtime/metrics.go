package realtime

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type hubMetrics struct {
	connections *prometheus.GaugeVec
	published   *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	bridge      *prometheus.CounterVec
}

var (
	hubMetricsOnce sync.Once
	hubMetricsInst *hubMetrics
)

func globalHubMetrics() *hubMetrics {
	hubMetricsOnce.Do(func() {
		hubMetricsInst = &hubMetrics{
			connections: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "controlroom",
				Subsystem: "realtime",
				Name:      "connections",
				Help:      "Live subscriptions by channel kind",
			}, []string{"channel"}),
			published: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "controlroom",
				Subsystem: "realtime",
				Name:      "published_total",
				Help:      "Messages published by channel kind",
			}, []string{"channel"}),
			dropped: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "controlroom",
				Subsystem: "realtime",
				Name:      "dropped_total",
				Help:      "Messages dropped because a subscriber buffer was full",
			}, []string{"channel"}),
			bridge: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "controlroom",
				Subsystem: "realtime",
				Name:      "bridge_messages_total",
				Help:      "Messages moved through the Redis bridge, labeled by direction and result",
			}, []string{"direction", "result"}),
		}
	})
	return hubMetricsInst
}

// channelKind keeps per-session topics out of metric labels.
func channelKind(topic string) string {
	if strings.HasPrefix(topic, sessionTopicPrefix) {
		return "session"
	}
	return topic
}
