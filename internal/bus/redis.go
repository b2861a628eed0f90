package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smc-engine/smcengine/internal/config"
	"github.com/smc-engine/smcengine/internal/models"
	"github.com/smc-engine/smcengine/pkg/logger"
)

// NewRedisClient dials Redis and verifies connectivity with a Ping,
// trimmed from internal/pubsub/redis_client.go's NewRedisClient down
// to the plain *redis.Client RedisPublisher/RedisConsumer need.
func NewRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		if IsAuthError(err) {
			return nil, &AuthError{Err: err}
		}
		return nil, fmt.Errorf("bus: connect to redis: %w", err)
	}

	logger.Info("bus: connected to redis",
		logger.String("host", cfg.Host),
		logger.Int("port", cfg.Port),
	)
	return client, nil
}

// AuthError wraps a Redis connection failure caused by bad or missing
// credentials, so callers can tell it apart from an ordinary
// connectivity failure.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("bus: redis authentication required: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// IsAuthError reports whether err is a Redis NOAUTH/WRONGPASS failure.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "NOAUTH") || strings.Contains(msg, "WRONGPASS")
}

// RedisPublisher publishes alerts to a Redis stream, trimmed from
// internal/pubsub/redis_client.go's generic RedisClient down to the
// one XAdd call this engine's alertgen needs.
type RedisPublisher struct {
	client *redis.Client
	stream string
}

// NewRedisPublisher wires a publisher against an existing Redis
// client and stream name.
func NewRedisPublisher(client *redis.Client, stream string) *RedisPublisher {
	return &RedisPublisher{client: client, stream: stream}
}

// Publish implements alertgen.Publisher.
func (p *RedisPublisher) Publish(ctx context.Context, alert models.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("bus: marshal alert: %w", err)
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{"alert": string(data)},
	}).Err()
	if err != nil {
		return fmt.Errorf("bus: publish alert to stream %s: %w", p.stream, err)
	}
	return nil
}

// RedisConsumer reads alerts off the stream RedisPublisher writes to
// and feeds them into a Bus, mirroring
// internal/wsgateway/hub.go's consumeAlerts/XReadGroup/XAck loop.
type RedisConsumer struct {
	client        *redis.Client
	stream        string
	consumerGroup string
	consumerName  string
	bus           *Bus
}

// NewRedisConsumer wires a consumer that feeds bus from stream.
func NewRedisConsumer(client *redis.Client, stream, consumerGroup, consumerName string, bus *Bus) *RedisConsumer {
	return &RedisConsumer{
		client:        client,
		stream:        stream,
		consumerGroup: consumerGroup,
		consumerName:  consumerName,
		bus:           bus,
	}
}

// Run blocks consuming alerts until ctx is cancelled.
func (c *RedisConsumer) Run(ctx context.Context) {
	if err := c.ensureGroup(ctx); err != nil {
		logger.Error("bus: failed to create consumer group",
			logger.ErrorField(err),
			logger.String("stream", c.stream),
		)
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.consumerGroup,
			Consumer: c.consumerName,
			Streams:  []string{c.stream, ">"},
			Count:    10,
			Block:    time.Second,
		}).Result()

		if err != nil {
			c.handleReadError(ctx, err)
			continue
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				c.handleMessage(ctx, message)
			}
		}
	}
}

func (c *RedisConsumer) handleReadError(ctx context.Context, err error) {
	if errors.Is(err, redis.Nil) {
		return
	}
	if strings.Contains(err.Error(), "NOGROUP") {
		if createErr := c.ensureGroup(ctx); createErr != nil {
			logger.Warn("bus: failed to recreate consumer group",
				logger.ErrorField(createErr),
				logger.String("stream", c.stream),
			)
		}
		return
	}
	logger.Warn("bus: error reading from stream",
		logger.ErrorField(err),
		logger.String("stream", c.stream),
	)
	time.Sleep(time.Second)
}

func (c *RedisConsumer) handleMessage(ctx context.Context, message redis.XMessage) {
	alert, err := decodeAlert(message)
	if err != nil {
		logger.Error("bus: failed to decode alert message",
			logger.ErrorField(err),
			logger.String("message_id", message.ID),
		)
		return
	}

	c.bus.Publish(ctx, alert)

	ackCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.client.XAck(ackCtx, c.stream, c.consumerGroup, message.ID).Err(); err != nil {
		logger.Warn("bus: failed to acknowledge alert message",
			logger.ErrorField(err),
			logger.String("message_id", message.ID),
		)
	}
}

func decodeAlert(message redis.XMessage) (models.Alert, error) {
	raw, ok := message.Values["alert"]
	if !ok {
		return models.Alert{}, fmt.Errorf("bus: message %s missing alert field", message.ID)
	}
	str, ok := raw.(string)
	if !ok {
		return models.Alert{}, fmt.Errorf("bus: message %s alert field is not a string", message.ID)
	}

	var alert models.Alert
	if err := json.Unmarshal([]byte(str), &alert); err != nil {
		return models.Alert{}, fmt.Errorf("bus: unmarshal alert: %w", err)
	}
	return alert, nil
}

func (c *RedisConsumer) ensureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.consumerGroup, "0").Err()
	if err == nil || strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return err
}
