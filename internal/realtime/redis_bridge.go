package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultRedisChannel is the pub/sub channel shared by all instances.
const DefaultRedisChannel = "controlroom:events"

const bridgeQueueSize = 1024

type bridgeEnvelope struct {
	Origin  string  `json:"origin"`
	Topic   string  `json:"topic"`
	Message Message `json:"message"`
}

// RedisBridge publishes through Redis so that every instance's local hub
// receives every event. Local delivery happens when the message comes back
// from Redis, which gives all instances the same per-session order.
type RedisBridge struct {
	client  redis.UniversalClient
	channel string
	local   *Hub
	origin  string
	logger  *zap.Logger
	metrics *hubMetrics

	queue chan bridgeEnvelope
	wg    sync.WaitGroup
}

// NewRedisBridge creates a bridge feeding local. Start must be called before
// messages flow.
func NewRedisBridge(client redis.UniversalClient, channel string, local *Hub, logger *zap.Logger) *RedisBridge {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBridge{
		client:  client,
		channel: channel,
		local:   local,
		origin:  uuid.NewString(),
		logger:  logger.Named("redis-bridge"),
		metrics: globalHubMetrics(),
		queue:   make(chan bridgeEnvelope, bridgeQueueSize),
	}
}

// Start subscribes to the channel and runs the publish and receive loops
// until ctx is done.
func (b *RedisBridge) Start(ctx context.Context) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	// Wait for the subscription to be confirmed so no early publish is lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}

	b.wg.Add(2)
	go b.publishLoop(ctx)
	go b.receiveLoop(ctx, pubsub)
	return nil
}

// Wait blocks until both loops have exited.
func (b *RedisBridge) Wait() {
	b.wg.Wait()
}

// Publish queues msg for Redis. A full queue drops the message.
func (b *RedisBridge) Publish(topic string, msg Message) {
	select {
	case b.queue <- bridgeEnvelope{Origin: b.origin, Topic: topic, Message: msg}:
	default:
		b.metrics.bridge.WithLabelValues("out", "dropped").Inc()
		b.logger.Warn("bridge queue full, dropping message", zap.String("topic", topic), zap.String("type", msg.Type))
	}
}

func (b *RedisBridge) publishLoop(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-b.queue:
			payload, err := json.Marshal(env)
			if err != nil {
				b.metrics.bridge.WithLabelValues("out", "error").Inc()
				b.logger.Error("failed to encode bridge message", zap.Error(err))
				continue
			}
			if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				// Redis is unreachable; the local instance still gets its own events.
				b.metrics.bridge.WithLabelValues("out", "error").Inc()
				b.logger.Error("failed to publish to redis", zap.Error(err))
				b.local.Publish(env.Topic, env.Message)
				continue
			}
			b.metrics.bridge.WithLabelValues("out", "ok").Inc()
		}
	}
}

func (b *RedisBridge) receiveLoop(ctx context.Context, pubsub *redis.PubSub) {
	defer b.wg.Done()
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			var env bridgeEnvelope
			if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
				b.metrics.bridge.WithLabelValues("in", "error").Inc()
				b.logger.Warn("dropping malformed bridge message", zap.Error(err))
				continue
			}
			b.metrics.bridge.WithLabelValues("in", "ok").Inc()
			b.local.Publish(env.Topic, env.Message)
		}
	}
}
