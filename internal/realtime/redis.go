package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/enochaseks/sideeye/config"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Compile-time interface check.
var _ Store = (*RedisStore)(nil)

const (
	keyPrefix     = "rt:"
	changesSuffix = ":changes"

	// pathTTL bounds how long an abandoned path survives in Redis.
	pathTTL = 24 * time.Hour
)

// Connect creates a Redis client and verifies the server is reachable.
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// RedisStore keeps each path in a Redis hash and announces every change on
// a pub/sub channel named after the path.
type RedisStore struct {
	client *redis.Client
	logger logrus.FieldLogger
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, logger logrus.FieldLogger) *RedisStore {
	return &RedisStore{
		client: client,
		logger: logger.WithField("component", "realtime"),
	}
}

func hashKey(path string) string {
	return keyPrefix + path
}

func changesChannel(path string) string {
	return keyPrefix + path + changesSuffix
}

func (s *RedisStore) Set(ctx context.Context, path, key string, value []byte) error {
	if err := validate(path, key); err != nil {
		return err
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, hashKey(path), key, value)
		pipe.Expire(ctx, hashKey(path), pathTTL)
		pipe.Publish(ctx, changesChannel(path), "set:"+key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("writing %s/%s: %w", path, key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, path, key string) error {
	if err := validate(path, key); err != nil {
		return err
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, hashKey(path), key)
		pipe.Publish(ctx, changesChannel(path), "del:"+key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting %s/%s: %w", path, key, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, path string) (Snapshot, error) {
	if err := validate(path); err != nil {
		return nil, err
	}

	fields, err := s.client.HGetAll(ctx, hashKey(path)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	snap := make(Snapshot, len(fields))
	for k, v := range fields {
		snap[k] = []byte(v)
	}
	return snap, nil
}

func (s *RedisStore) Clear(ctx context.Context, path string) error {
	if err := validate(path); err != nil {
		return err
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, hashKey(path))
		pipe.Publish(ctx, changesChannel(path), "clear")
		return nil
	})
	if err != nil {
		return fmt.Errorf("clearing %s: %w", path, err)
	}
	return nil
}

func (s *RedisStore) Watch(ctx context.Context, path string, fn func(Snapshot)) (Unsubscribe, error) {
	if err := validate(path); err != nil {
		return nil, err
	}

	pubsub := s.client.Subscribe(ctx, changesChannel(path))
	// Wait for the subscription to be confirmed so no change published
	// after Watch returns can be missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", path, err)
	}

	w := newWatcher(fn)
	unsubscribe := func() {
		w.stop()
		pubsub.Close()
	}

	go func() {
		messages := pubsub.Channel()
		for {
			select {
			case <-w.done:
				return
			case _, ok := <-messages:
				if !ok {
					return
				}
				w.poke()
			}
		}
	}()

	w.poke()
	go w.run(ctx, func() Snapshot {
		snap, err := s.Get(context.Background(), path)
		if err != nil {
			s.logger.WithFields(logrus.Fields{
				"path":  path,
				"error": err,
			}).Warn("Failed to read snapshot after change")
			return nil
		}
		return snap
	}, unsubscribe)

	return unsubscribe, nil
}
