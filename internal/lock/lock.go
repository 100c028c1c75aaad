// Package lock provides the per-user generation lock backed by Redis.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLocked is returned when the user already holds a generation lock.
var ErrLocked = errors.New("generation already in progress")

const keyPrefix = "emoji:generate:"

// release deletes the key only while it still holds our token.
var release = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Locker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewLocker(client *redis.Client, ttl time.Duration) *Locker {
	return &Locker{client: client, ttl: ttl}
}

// Lease is a held lock. Release is safe to call more than once.
type Lease struct {
	locker *Locker
	key    string
	token  string
}

// Acquire takes the generation lock for userID. The lock expires after the
// configured TTL if it is never released.
func (l *Locker) Acquire(ctx context.Context, userID string) (*Lease, error) {
	key := keyPrefix + userID
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock for %s: %w", userID, err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return &Lease{locker: l, key: key, token: token}, nil
}

func (l *Lease) Release(ctx context.Context) error {
	if l == nil || l.token == "" {
		return nil
	}
	if err := release.Run(ctx, l.locker.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}
	l.token = ""
	return nil
}
