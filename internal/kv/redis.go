package kv

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
)

var _ Store = (*Redis)(nil)

const scanBatch = 200

// Redis stores entries as plain string keys named <prefix>:<store>:<key>.
type Redis struct {
	client *redis.Client
	prefix string
	store  string
}

// OpenRedis connects to the server at url and checks it answers PING.
func OpenRedis(ctx context.Context, url, prefix, store string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return NewRedis(client, prefix, store), nil
}

func NewRedis(client *redis.Client, prefix, store string) *Redis {
	return &Redis{client: client, prefix: prefix, store: store}
}

func (r *Redis) namespace() string {
	return r.prefix + ":" + r.store + ":"
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, r.namespace()+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kv get %q: %w", key, err)
	}
	return val, nil
}

func (r *Redis) Put(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, r.namespace()+key, value, 0).Err(); err != nil {
		return fmt.Errorf("kv put %q: %w", key, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.namespace()+key).Err(); err != nil {
		return fmt.Errorf("kv delete %q: %w", key, err)
	}
	return nil
}

func (r *Redis) Clear(ctx context.Context) error {
	return r.deleteMatching(ctx, r.namespace()+"*")
}

func (r *Redis) Keys(ctx context.Context) ([]string, error) {
	ns := r.namespace()
	keys := []string{}
	iter := r.client.Scan(ctx, 0, ns+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), ns))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("kv keys: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (r *Redis) Drop(ctx context.Context) error {
	return r.deleteMatching(ctx, r.prefix+":*")
}

func (r *Redis) deleteMatching(ctx context.Context, pattern string) error {
	iter := r.client.Scan(ctx, 0, pattern, scanBatch).Iterator()
	batch := make([]string, 0, scanBatch)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := r.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("kv delete %s: %w", pattern, err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("kv scan %s: %w", pattern, err)
	}
	if len(batch) > 0 {
		if err := r.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("kv delete %s: %w", pattern, err)
		}
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
