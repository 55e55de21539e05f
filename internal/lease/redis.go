package lease

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	amerrors "github.com/Aman-CERP/amanfacet/internal/errors"
)

// DefaultRedisTTL is the lease expiry used when none is configured.
const DefaultRedisTTL = 15 * time.Second

const keyPrefix = "amanfacet:lease:"

// renewScript extends the TTL only while the key still holds our token.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLease is a writer lease shared by every host that can reach one
// Redis server. The key expires after TTL unless the holder renews it, which
// a background goroutine does every TTL/3.
type RedisLease struct {
	client *redis.Client
	owned  bool // client was created by NewRedisLease
	key    string
	token  string
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.Mutex
	held   bool
	lost   bool
	stop   chan struct{}
	stopWG sync.WaitGroup
}

// RedisOption configures a RedisLease.
type RedisOption func(*RedisLease)

// WithTTL sets the lease expiry.
func WithTTL(ttl time.Duration) RedisOption {
	return func(l *RedisLease) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithLogger sets the logger for renewal failures.
func WithLogger(logger *slog.Logger) RedisOption {
	return func(l *RedisLease) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewRedisLease connects to redisURL and returns the lease of indexName.
func NewRedisLease(redisURL, indexName string, opts ...RedisOption) (*RedisLease, error) {
	ropts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, amerrors.New(amerrors.ErrCodeConfigInvalid, "parse redis url", err)
	}
	client := redis.NewClient(ropts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, amerrors.New(amerrors.ErrCodeNetworkUnavailable, "connect to redis", err).
			WithDetail("index", indexName)
	}

	l := NewRedisLeaseWithClient(client, indexName, opts...)
	l.owned = true
	return l, nil
}

// NewRedisLeaseWithClient returns the lease of indexName on an existing client.
// The client is not closed by Release.
func NewRedisLeaseWithClient(client *redis.Client, indexName string, opts ...RedisOption) *RedisLease {
	l := &RedisLease{
		client: client,
		key:    keyPrefix + indexName,
		token:  uuid.NewString(),
		ttl:    DefaultRedisTTL,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire sets the lease key if absent.
func (l *RedisLease) Acquire(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held {
		return nil
	}

	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return amerrors.New(amerrors.ErrCodeNetworkUnavailable, "acquire redis lease", err).WithDetail("key", l.key)
	}
	if !ok {
		holder, _ := l.client.Get(ctx, l.key).Result()
		return amerrors.New(amerrors.ErrCodeIndexLocked, ErrLocked.Message, nil).
			WithDetail("key", l.key).
			WithDetail("holder", holder)
	}

	l.held = true
	l.lost = false
	l.stop = make(chan struct{})
	l.stopWG.Add(1)
	go l.renewLoop(l.stop)
	return nil
}

func (l *RedisLease) renewLoop(stop <-chan struct{}) {
	defer l.stopWG.Done()

	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !l.renew() {
				return
			}
		}
	}
}

// renew extends the TTL and reports whether the lease is still ours.
// Transient Redis errors keep the lease; the next tick retries.
func (l *RedisLease) renew() bool {
	ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
	defer cancel()

	n, err := renewScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		l.logger.Warn("lease_renew_failed",
			slog.String("key", l.key),
			slog.String("error", err.Error()))
		return true
	}
	if n == 1 {
		return true
	}

	l.mu.Lock()
	l.lost = true
	l.mu.Unlock()
	l.logger.Error("lease_lost", slog.String("key", l.key))
	return false
}

// Check confirms the key still holds this lease's token.
func (l *RedisLease) Check(ctx context.Context) error {
	l.mu.Lock()
	held, lost := l.held, l.lost
	l.mu.Unlock()

	if !held || lost {
		return ErrLost
	}

	current, err := l.client.Get(ctx, l.key).Result()
	if errors.Is(err, redis.Nil) {
		return l.markLost()
	}
	if err != nil {
		return amerrors.New(amerrors.ErrCodeNetworkUnavailable, "check redis lease", err).WithDetail("key", l.key)
	}
	if current != l.token {
		return l.markLost()
	}
	return nil
}

func (l *RedisLease) markLost() error {
	l.mu.Lock()
	l.lost = true
	l.mu.Unlock()
	return amerrors.New(amerrors.ErrCodeIndexLocked, ErrLost.Message, nil).WithDetail("key", l.key)
}

// Release stops renewal and deletes the key if it is still ours.
func (l *RedisLease) Release(ctx context.Context) error {
	l.mu.Lock()
	if !l.held {
		l.mu.Unlock()
		return l.closeClient()
	}
	l.held = false
	close(l.stop)
	l.mu.Unlock()

	l.stopWG.Wait()

	if _, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Result(); err != nil {
		return amerrors.New(amerrors.ErrCodeNetworkUnavailable, "release redis lease", err).WithDetail("key", l.key)
	}
	return l.closeClient()
}

func (l *RedisLease) closeClient() error {
	if !l.owned {
		return nil
	}
	l.owned = false
	return l.client.Close()
}

// Key returns the Redis key of the lease.
func (l *RedisLease) Key() string {
	return l.key
}
