package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-file-converter/internal/convert"
	"github.com/JakeFAU/realtime-file-converter/internal/metrics"
)

// ChannelClient is the slice of Redis pub/sub the layer needs.
type ChannelClient interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan *redis.Message, func() error, error)
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type redisChannelClient struct {
	client redis.UniversalClient
}

// NewRedisClient wraps a go-redis client as a ChannelClient.
func NewRedisClient(client redis.UniversalClient) ChannelClient {
	return &redisChannelClient{client: client}
}

// DialRedis connects to Redis and verifies the connection with PING.
func DialRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

func (c *redisChannelClient) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := c.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (c *redisChannelClient) Subscribe(ctx context.Context, channel string) (<-chan *redis.Message, func() error, error) {
	ps := c.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("redis subscribe: %w", err)
	}
	return ps.Channel(), ps.Close, nil
}

// RedisLayer relays updates through a Redis channel so a broadcast group can
// span several server instances. Notify publishes; Run feeds what arrives on
// the channel into the local notifier.
type RedisLayer struct {
	client  ChannelClient
	channel string
	local   convert.Notifier
	logger  *zap.Logger
}

// NewRedisLayer builds a layer over client that forwards into local.
func NewRedisLayer(client ChannelClient, channel string, local convert.Notifier, logger *zap.Logger) *RedisLayer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if channel == "" {
		channel = "file_upload"
	}
	return &RedisLayer{client: client, channel: channel, local: local, logger: logger}
}

// Notify publishes the update to the channel.
func (l *RedisLayer) Notify(ctx context.Context, update convert.Update) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("encode update: %w", err)
	}
	err = l.client.Publish(ctx, l.channel, payload)
	metrics.ObserveNotification("redis", err)
	return err
}

// Run subscribes to the channel and blocks until ctx ends or the
// subscription closes.
func (l *RedisLayer) Run(ctx context.Context) error {
	messages, closeFn, err := l.client.Subscribe(ctx, l.channel)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeFn(); err != nil {
			l.logger.Debug("redis subscription close failed", zap.Error(err))
		}
	}()
	l.logger.Info("channel layer subscribed", zap.String("channel", l.channel))

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var update convert.Update
			if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
				l.logger.Warn("dropping undecodable channel message", zap.Error(err))
				continue
			}
			if err := l.local.Notify(ctx, update); err != nil {
				l.logger.Warn("local notify failed", zap.String("task_id", update.TaskID), zap.Error(err))
			}
		}
	}
}
