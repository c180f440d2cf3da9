// Package lock keeps a single active run per candidate.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrHeld = errors.New("lock is held by another run")

const keyPrefix = "auto-applier:lock:"

// Release gives the lock back. It is safe to call more than once.
type Release func(ctx context.Context) error

type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error)
}

// releaseScript deletes the key only if it still carries our token.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// Redis is a lock shared by every process that talks to the same Redis.
// The TTL bounds how long a crashed holder blocks others.
type Redis struct {
	rdb redisClient
}

func NewRedis(rdb redisClient) *Redis {
	return &Redis{rdb: rdb}
}

func (l *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("lock ttl must be positive, got %s", ttl)
	}

	name := keyPrefix + key
	token := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, name, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquiring lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrHeld)
	}

	var once sync.Once
	return func(ctx context.Context) error {
		var err error
		once.Do(func() {
			if e := l.rdb.Eval(ctx, releaseScript, []string{name}, token).Err(); e != nil {
				err = fmt.Errorf("releasing lock %s: %w", key, e)
			}
		})
		return err
	}, nil
}

// Local is an in-process lock for single-instance deployments without Redis.
type Local struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

func NewLocal() *Local {
	return &Local{held: map[string]time.Time{}, now: time.Now}
}

func (l *Local) Acquire(_ context.Context, key string, ttl time.Duration) (Release, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("lock ttl must be positive, got %s", ttl)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if expires, ok := l.held[key]; ok && now.Before(expires) {
		return nil, fmt.Errorf("%s: %w", key, ErrHeld)
	}
	expires := now.Add(ttl)
	l.held[key] = expires

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			// a holder whose ttl ran out must not free a newer holder
			if l.held[key].Equal(expires) {
				delete(l.held, key)
			}
		})
		return nil
	}, nil
}
