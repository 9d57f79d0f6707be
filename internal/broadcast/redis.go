package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
)

const redisDialMaxElapsed = 30 * time.Second

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// Redis is a Transport over Redis pub/sub, for contexts living in separate
// processes. Redis echoes a publisher's own messages back to it; Broadcaster
// drops those by origin.
type Redis struct {
	client  *redis.Client
	channel string
	Logger  *log.Logger
}

// DialRedis connects and pings with exponential backoff until ctx is done or
// the retry budget is spent.
func DialRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	if opts.Channel == "" {
		return nil, fmt.Errorf("redis channel required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = redisDialMaxElapsed
	err := backoff.Retry(func() error {
		return client.Ping(ctx).Err()
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return NewRedis(client, opts.Channel), nil
}

func NewRedis(client *redis.Client, channel string) *Redis {
	return &Redis{client: client, channel: channel, Logger: log.Default()}
}

func (r *Redis) Publish(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (r *Redis) Subscribe(ctx context.Context, fn func(Message)) (func(), error) {
	ps := r.client.Subscribe(ctx, r.channel)
	// wait for the subscription to be confirmed so no message published after
	// Subscribe returns is missed
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for m := range ps.Channel() {
			var msg Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				r.logger().Printf("broadcast: drop malformed message: %v", err)
				continue
			}
			fn(msg)
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			ps.Close()
			<-done
		})
	}, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) logger() *log.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return log.Default()
}
