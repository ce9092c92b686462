// Package keystore adapts the gateway's ephemeral key/value, pub/sub, and
// list primitives onto Redis. Every other component reaches the keystore
// only through this interface; no component assumes exclusive access to a
// key it doesn't own (spec.md §3, Ownership).
package keystore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned by Get/GetJSON when the key is absent.
var ErrNotFound = errors.New("keystore: key not found")

// Keystore is the thin adapter spec.md §4.1 describes: typed GET/SETEX/DEL,
// atomic set-if-absent, list and set primitives, pub/sub, and prefix scan.
// All operations take a context and are safe for concurrent use.
type Keystore interface {
	// Get returns the string value at key, or ErrNotFound if absent.
	Get(ctx context.Context, key string) (string, error)
	// GetJSON unmarshals the JSON value at key into dst, or returns ErrNotFound.
	GetJSON(ctx context.Context, key string, dst any) error
	// SetEx sets key to value with a TTL.
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error
	// SetJSONEx marshals v to JSON and sets key with a TTL.
	SetJSONEx(ctx context.Context, key string, v any, ttl time.Duration) error
	// SetNX atomically sets key to value with a TTL only if key is absent,
	// reporting whether the set took effect. Used for exclusive create.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Del deletes one or more keys.
	Del(ctx context.Context, keys ...string) error
	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
	// Expire refreshes key's TTL without altering its value.
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// TTL returns the remaining TTL of key, or -1 if it has no expiry,
	// or -2 if it does not exist (go-redis convention).
	TTL(ctx context.Context, key string) (time.Duration, error)

	// LPush pushes value onto the head of a list.
	LPush(ctx context.Context, key, value string) error
	// LTrim trims a list to the inclusive range [start, stop].
	LTrim(ctx context.Context, key string, start, stop int64) error
	// LLen returns the length of a list.
	LLen(ctx context.Context, key string) (int64, error)

	// SAdd adds members to a set, optionally with a TTL on the set key.
	SAdd(ctx context.Context, key string, ttl time.Duration, members ...string) error
	// SRem removes members from a set.
	SRem(ctx context.Context, key string, members ...string) error
	// SMembers returns all members of a set.
	SMembers(ctx context.Context, key string) ([]string, error)

	// Publish publishes a message on a channel.
	Publish(ctx context.Context, channel, message string) error
	// Subscribe returns a Subscription delivering messages on channel until
	// the subscription is closed or ctx is cancelled.
	Subscribe(ctx context.Context, channel string) Subscription

	// ScanPrefix returns all keys matching prefix+"*". Admin paths only.
	ScanPrefix(ctx context.Context, prefix string) ([]string, error)

	// Close releases underlying resources.
	Close() error
}

// Subscription is a blocking iterator over pub/sub messages.
type Subscription interface {
	// Channel returns a channel of message payloads.
	Channel() <-chan string
	// Close ends the subscription.
	Close() error
}

// redisKeystore implements Keystore over go-redis.
type redisKeystore struct {
	client *redis.Client
}

// New wraps an existing go-redis client as a Keystore.
func New(client *redis.Client) Keystore {
	return &redisKeystore{client: client}
}

func (k *redisKeystore) Get(ctx context.Context, key string) (string, error) {
	v, err := k.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("keystore get %q: %w", key, err)
	}
	return v, nil
}

func (k *redisKeystore) GetJSON(ctx context.Context, key string, dst any) error {
	v, err := k.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := jsonUnmarshal([]byte(v), dst); err != nil {
		return fmt.Errorf("keystore decode %q: %w", key, err)
	}
	return nil
}

func (k *redisKeystore) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := k.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("keystore setex %q: %w", key, err)
	}
	return nil
}

func (k *redisKeystore) SetJSONEx(ctx context.Context, key string, v any, ttl time.Duration) error {
	b, err := jsonMarshal(v)
	if err != nil {
		return fmt.Errorf("keystore encode %q: %w", key, err)
	}
	return k.SetEx(ctx, key, string(b), ttl)
}

func (k *redisKeystore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := k.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("keystore setnx %q: %w", key, err)
	}
	return ok, nil
}

func (k *redisKeystore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := k.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("keystore del: %w", err)
	}
	return nil
}

func (k *redisKeystore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := k.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("keystore exists %q: %w", key, err)
	}
	return n > 0, nil
}

func (k *redisKeystore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := k.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("keystore expire %q: %w", key, err)
	}
	return nil
}

func (k *redisKeystore) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := k.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("keystore ttl %q: %w", key, err)
	}
	return d, nil
}

func (k *redisKeystore) LPush(ctx context.Context, key, value string) error {
	if err := k.client.LPush(ctx, key, value).Err(); err != nil {
		return fmt.Errorf("keystore lpush %q: %w", key, err)
	}
	return nil
}

func (k *redisKeystore) LTrim(ctx context.Context, key string, start, stop int64) error {
	if err := k.client.LTrim(ctx, key, start, stop).Err(); err != nil {
		return fmt.Errorf("keystore ltrim %q: %w", key, err)
	}
	return nil
}

func (k *redisKeystore) LLen(ctx context.Context, key string) (int64, error) {
	n, err := k.client.LLen(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("keystore llen %q: %w", key, err)
	}
	return n, nil
}

func (k *redisKeystore) SAdd(ctx context.Context, key string, ttl time.Duration, members ...string) error {
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := k.client.SAdd(ctx, key, args...).Err(); err != nil {
		return fmt.Errorf("keystore sadd %q: %w", key, err)
	}
	if ttl > 0 {
		if err := k.client.Expire(ctx, key, ttl).Err(); err != nil {
			return fmt.Errorf("keystore expire set %q: %w", key, err)
		}
	}
	return nil
}

func (k *redisKeystore) SRem(ctx context.Context, key string, members ...string) error {
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := k.client.SRem(ctx, key, args...).Err(); err != nil {
		return fmt.Errorf("keystore srem %q: %w", key, err)
	}
	return nil
}

func (k *redisKeystore) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := k.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("keystore smembers %q: %w", key, err)
	}
	return members, nil
}

func (k *redisKeystore) Publish(ctx context.Context, channel, message string) error {
	if err := k.client.Publish(ctx, channel, message).Err(); err != nil {
		return fmt.Errorf("keystore publish %q: %w", channel, err)
	}
	return nil
}

func (k *redisKeystore) Subscribe(ctx context.Context, channel string) Subscription {
	pubsub := k.client.Subscribe(ctx, channel)
	out := make(chan string, 16)
	sub := &redisSubscription{pubsub: pubsub, out: out}

	go func() {
		defer close(out)
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return sub
}

func (k *redisKeystore) ScanPrefix(ctx context.Context, prefix string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := k.client.Scan(ctx, cursor, prefix+"*", 200).Result()
		if err != nil {
			return nil, fmt.Errorf("keystore scan %q: %w", prefix, err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

func (k *redisKeystore) Close() error {
	return k.client.Close()
}

type redisSubscription struct {
	pubsub *redis.PubSub
	out    <-chan string
}

func (s *redisSubscription) Channel() <-chan string { return s.out }

func (s *redisSubscription) Close() error { return s.pubsub.Close() }
