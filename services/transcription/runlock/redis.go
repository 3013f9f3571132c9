package runlock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "workmate:runlock:"

// Only the holder's token may extend or delete the key.
var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// RedisLocker shares run locks between service replicas. Held leases are
// refreshed in the background so long runs keep their lock.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	log    *slog.Logger
}

func NewRedis(client *redis.Client, ttl time.Duration, log *slog.Logger) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl, log: log}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string) (Lease, error) {
	token := uuid.NewString()
	redisKey := keyPrefix + key

	ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}

	refreshCtx, cancel := context.WithCancel(context.Background())
	lease := &redisLease{
		locker: l,
		key:    key,
		token:  token,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go lease.keepAlive(refreshCtx)

	l.log.Debug("run lock acquired", slog.String("key", key))
	return lease, nil
}

type redisLease struct {
	locker *RedisLocker
	key    string
	token  string
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	err    error
}

func (r *redisLease) Key() string {
	return r.key
}

func (r *redisLease) Release(ctx context.Context) error {
	r.once.Do(func() {
		r.cancel()
		<-r.done
		if err := releaseScript.Run(ctx, r.locker.client, []string{keyPrefix + r.key}, r.token).Err(); err != nil {
			r.err = fmt.Errorf("failed to release run lock: %w", err)
		}
	})
	return r.err
}

func (r *redisLease) keepAlive(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.locker.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			held, err := refreshScript.Run(ctx, r.locker.client, []string{keyPrefix + r.key},
				r.token, r.locker.ttl.Milliseconds()).Int()
			if err != nil {
				r.locker.log.Warn("failed to refresh run lock",
					slog.String("key", r.key),
					slog.String("error", err.Error()))
				continue
			}
			if held == 0 {
				r.locker.log.Error("run lock lost", slog.String("key", r.key))
				return
			}
		}
	}
}
