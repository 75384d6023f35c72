// Package throttle enforces per-key cooldowns on mail-sending endpoints so a
// single address cannot be flooded with verification, reset or magic link mails.
package throttle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "auth:cooldown:"

// Cooldown reports whether an action keyed by key may run now. A true result
// starts the cooldown window.
type Cooldown interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RedisCooldown shares cooldowns across replicas with SET NX PX.
type RedisCooldown struct {
	client *redis.Client
	window time.Duration
}

// NewRedisCooldown creates a Redis-backed cooldown.
func NewRedisCooldown(client *redis.Client, window time.Duration) *RedisCooldown {
	return &RedisCooldown{client: client, window: window}
}

// Allow implements Cooldown.
func (c *RedisCooldown) Allow(ctx context.Context, key string) (bool, error) {
	if c.window <= 0 {
		return true, nil
	}
	ok, err := c.client.SetNX(ctx, keyPrefix+key, 1, c.window).Result()
	if err != nil {
		return false, fmt.Errorf("set cooldown %s: %w", key, err)
	}
	return ok, nil
}

// LocalCooldown keeps cooldowns in process memory. Used when Redis is disabled.
type LocalCooldown struct {
	mu     sync.Mutex
	window time.Duration
	until  map[string]time.Time
	now    func() time.Time
}

// NewLocalCooldown creates an in-process cooldown.
func NewLocalCooldown(window time.Duration) *LocalCooldown {
	return &LocalCooldown{window: window, until: map[string]time.Time{}, now: time.Now}
}

// Allow implements Cooldown.
func (c *LocalCooldown) Allow(_ context.Context, key string) (bool, error) {
	if c.window <= 0 {
		return true, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if until, ok := c.until[key]; ok && now.Before(until) {
		return false, nil
	}
	for k, until := range c.until {
		if !now.Before(until) {
			delete(c.until, k)
		}
	}
	c.until[key] = now.Add(c.window)
	return true, nil
}

// Key joins a purpose and subject into a cooldown key.
func Key(purpose, subject string) string {
	return purpose + ":" + subject
}
