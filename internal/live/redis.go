package live

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisHub fans out through Redis pub/sub so every API instance sees every
// change.
type RedisHub struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisHub connects to redisURL and checks the connection.
func NewRedisHub(redisURL string, logger *zap.Logger) (*RedisHub, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisHubWithClient(client, logger), nil
}

// NewRedisHubWithClient wraps an existing client.
func NewRedisHubWithClient(client *redis.Client, logger *zap.Logger) *RedisHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisHub{client: client, prefix: "live:", logger: logger}
}

func (h *RedisHub) channel(topic string) string {
	return h.prefix + topic
}

func (h *RedisHub) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := h.client.Publish(ctx, h.channel(topic), payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (h *RedisHub) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	pubsub := h.client.Subscribe(ctx, h.channel(topic))
	// Wait for the confirmation so nothing published after Subscribe returns
	// is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	sub := &redisSubscription{pubsub: pubsub, ch: make(chan []byte, memoryBuffer), done: make(chan struct{})}
	go sub.forward(ctx, h.logger.With(zap.String("topic", topic)))
	return sub, nil
}

func (h *RedisHub) Close() error {
	return h.client.Close()
}

func (h *RedisHub) Ping(ctx context.Context) error {
	return h.client.Ping(ctx).Err()
}

type redisSubscription struct {
	pubsub *redis.PubSub
	ch     chan []byte
	done   chan struct{}
	once   sync.Once
}

func (s *redisSubscription) Messages() <-chan []byte {
	return s.ch
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}

func (s *redisSubscription) forward(ctx context.Context, logger *zap.Logger) {
	defer close(s.ch)
	messages := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			_ = s.Close()
			return
		case <-s.done:
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			select {
			case s.ch <- []byte(msg.Payload):
			case <-ctx.Done():
				_ = s.Close()
				return
			case <-s.done:
				return
			}
		}
	}
}
