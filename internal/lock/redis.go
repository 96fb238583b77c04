package lock

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL bounds how long a crashed holder can keep a document locked.
	DefaultTTL = 10 * time.Minute
	// DefaultRetry is the polling interval while waiting for a held key.
	DefaultRetry = 200 * time.Millisecond

	keyPrefix = "dictionary:rebuild:lock:"
)

// ErrLeaseLost is the cancellation cause of a lease context whose key expired
// or now carries another holder's token.
var ErrLeaseLost = errors.New("redis lock lease lost")

// releaseScript deletes the key only when it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript extends the lease only when it still carries our token.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Conn opens a Redis client and verifies it answers PING.
func Conn(ctx context.Context, host, port, pass string, db int, timeout time.Duration) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%s", host, port),
		DialTimeout: timeout,
		Password:    pass,
		DB:          db,
	})
	pong, err := client.Ping(ctx).Result()
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	if pong != "PONG" {
		_ = client.Close()
		return nil, fmt.Errorf("expected PONG, got %s", pong)
	}
	return client, nil
}

// Redis is a lease-based lock shared by every process using the same Redis.
// While held, the lease is refreshed at a third of its TTL.
type Redis struct {
	Client *redis.Client
	TTL    time.Duration
	Retry  time.Duration
	Logger *log.Logger
}

// NewRedis wraps client with default timings.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{
		Client: client,
		TTL:    ttl,
		Retry:  DefaultRetry,
		Logger: log.New(log.Writer(), "[LOCK] ", log.LstdFlags),
	}
}

// Lock polls SET NX until key is acquired or ctx is done.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	_, unlock, err := r.LockLease(ctx, key)
	return unlock, err
}

// LockLease acquires key like Lock and also returns a context derived from
// ctx that is cancelled with ErrLeaseLost when the lease cannot be kept.
func (r *Redis) LockLease(ctx context.Context, key string) (context.Context, func(), error) {
	if r.Client == nil {
		return nil, nil, errors.New("redis lock: client is nil")
	}
	ttl := r.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	retry := r.Retry
	if retry <= 0 {
		retry = DefaultRetry
	}
	redisKey := keyPrefix + key
	token := uuid.NewString()

	for {
		ok, err := r.Client.SetNX(ctx, redisKey, token, ttl).Result()
		if err != nil {
			return nil, nil, fmt.Errorf("redis lock %s: %w", key, err)
		}
		if ok {
			break
		}
		t := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, nil, ctx.Err()
		case <-t.C:
		}
	}

	leaseCtx, cancel := context.WithCancelCause(ctx)
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if !r.keepAlive(redisKey, token, ttl, stop) {
			cancel(ErrLeaseLost)
		}
	}()

	var once sync.Once
	return leaseCtx, func() {
		once.Do(func() {
			close(stop)
			wg.Wait()
			cancel(nil)
			relCtx, relCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer relCancel()
			if err := releaseScript.Run(relCtx, r.Client, []string{redisKey}, token).Err(); err != nil {
				r.logf("warn: release %s: %v", redisKey, err)
			}
		})
	}, nil
}

// keepAlive refreshes the lease until stop is closed. It reports false when
// the lease was lost: the key carries another token, or no refresh has
// succeeded for a full TTL.
func (r *Redis) keepAlive(redisKey, token string, ttl time.Duration, stop <-chan struct{}) bool {
	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()
	lastRefresh := time.Now()
	for {
		select {
		case <-stop:
			return true
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), ttl/3)
			n, err := refreshScript.Run(ctx, r.Client, []string{redisKey}, token, ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				r.logf("warn: refresh %s: %v", redisKey, err)
				if time.Since(lastRefresh) >= ttl {
					r.logf("warn: lease %s expired without refresh", redisKey)
					return false
				}
				continue
			}
			if n == 0 {
				r.logf("warn: lease %s lost", redisKey)
				return false
			}
			lastRefresh = time.Now()
		}
	}
}

func (r *Redis) logf(format string, args ...interface{}) {
	if r.Logger != nil {
		r.Logger.Printf(format, args...)
	}
}
