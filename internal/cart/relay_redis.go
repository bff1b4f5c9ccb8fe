package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// RelayChannel is the Redis channel carrying cart counter events between instances.
const RelayChannel = "pcshop:cart-events"

// RedisRelay fans hub events out to every storefront instance through Redis pub/sub.
// Each instance tags its events with a random origin and ignores its own echoes.
type RedisRelay struct {
	client  *redis.Client
	hub     *Hub
	origin  string
	channel string
	logger  func(context.Context, string, map[string]any)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisRelay connects to redisURL and verifies the connection.
func NewRedisRelay(ctx context.Context, redisURL string, hub *Hub, logger func(context.Context, string, map[string]any)) (*RedisRelay, error) {
	if hub == nil {
		return nil, errors.New("cart relay: hub is required")
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("cart relay: parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cart relay: redis ping: %w", err)
	}
	return newRedisRelay(client, hub, logger), nil
}

func newRedisRelay(client *redis.Client, hub *Hub, logger func(context.Context, string, map[string]any)) *RedisRelay {
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &RedisRelay{
		client:  client,
		hub:     hub,
		origin:  uuid.NewString(),
		channel: RelayChannel,
		logger:  logger,
	}
}

// Origin identifies this instance on the relay channel.
func (r *RedisRelay) Origin() string {
	return r.origin
}

// Publish sends a local event to the other instances.
func (r *RedisRelay) Publish(ctx context.Context, evt Event) error {
	evt.Origin = r.origin
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("cart relay: marshal: %w", err)
	}
	return r.client.Publish(ctx, r.channel, data).Err()
}

// Start subscribes to the relay channel and delivers remote events into the hub until
// Close is called or ctx is done.
func (r *RedisRelay) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		_ = pubsub.Close()
		return fmt.Errorf("cart relay: subscribe: %w", err)
	}
	r.cancel = cancel

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			_ = pubsub.Close()
		}()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				r.handle(ctx, msg.Payload)
			}
		}
	}()
	return nil
}

// handle decodes one relay payload and delivers it unless it is our own echo.
func (r *RedisRelay) handle(ctx context.Context, payload string) bool {
	var evt Event
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		r.logger(ctx, "cart.relay_decode_failed", map[string]any{
			"error": err.Error(),
		})
		return false
	}
	if evt.Origin == "" || evt.Origin == r.origin || evt.Key == "" {
		return false
	}
	r.hub.Publish(evt)
	return true
}

// Close stops the subscriber goroutine and closes the Redis client.
func (r *RedisRelay) Close() error {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}
