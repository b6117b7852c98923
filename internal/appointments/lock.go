package appointments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned by Acquire when another request holds the slot.
var ErrLockHeld = errors.New("appointments: slot lock held")

// SlotLocker is an advisory per-(doctor, slot) lock. It narrows the window
// between availability check and remote write; the remote calendar stays the
// arbiter when no locker is configured.
type SlotLocker interface {
	// Acquire returns a release func, or ErrLockHeld.
	Acquire(ctx context.Context, doctorID string, slotStart time.Time) (func(context.Context), error)
}

// RedisSlotLocker implements SlotLocker with SET NX PX and a token-checked
// release.
type RedisSlotLocker struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// releaseScript deletes the key only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// NewRedisSlotLocker creates a locker. ttl bounds how long a crashed holder
// can block a slot.
func NewRedisSlotLocker(client *redis.Client, ttl time.Duration) *RedisSlotLocker {
	if client == nil {
		panic("appointments: redis client required")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisSlotLocker{client: client, ttl: ttl, prefix: "scheduler:slotlock"}
}

func (l *RedisSlotLocker) key(doctorID string, slotStart time.Time) string {
	return fmt.Sprintf("%s:%s:%d", l.prefix, doctorID, slotStart.UTC().Unix())
}

func (l *RedisSlotLocker) Acquire(ctx context.Context, doctorID string, slotStart time.Time) (func(context.Context), error) {
	key := l.key(doctorID, slotStart)
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("appointments: acquire slot lock: %w", err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return func(ctx context.Context) {
		_ = releaseScript.Run(ctx, l.client, []string{key}, token).Err()
	}, nil
}
