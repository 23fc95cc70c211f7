// Package lock provides a best-effort Redis mutex used to let a single
// replica perform work that a burst of requests would otherwise repeat.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/jmgilman/go/errors"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultTTL = 45 * time.Second
	keyPrefix  = "chargebaby:lock:"
)

const unlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// Client is the subset of *redis.Client the lock needs.
type Client interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

type RedisLock struct {
	client Client
	key    string
	token  string
}

func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// TryLock acquires key for ttl. It reports false without error when another
// holder owns the key.
func TryLock(ctx context.Context, client Client, key string, ttl time.Duration) (*RedisLock, bool, error) {
	token, err := newToken()
	if err != nil {
		return nil, false, errors.Wrap(err, errors.CodeInternal, "generate lock token")
	}
	ok, err := client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, errors.Wrap(err, errors.CodeDatabase, "acquire lock")
	}
	if !ok {
		return nil, false, nil
	}
	return &RedisLock{client: client, key: key, token: token}, true, nil
}

// Unlock releases the lock if it is still held by this token.
func (l *RedisLock) Unlock(ctx context.Context) error {
	if err := l.client.Eval(ctx, unlockScript, []string{l.key}, l.token).Err(); err != nil {
		return errors.Wrap(err, errors.CodeDatabase, "release lock")
	}
	return nil
}

// Gate runs a function on at most one replica at a time per name. A nil Gate
// or one without a client runs every call.
type Gate struct {
	client Client
	ttl    time.Duration
}

func NewGate(client Client, ttl time.Duration) *Gate {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Gate{client: client, ttl: ttl}
}

// Do runs fn if the lock for name could be taken and reports whether it ran.
// A Redis failure is returned without running fn.
func (g *Gate) Do(ctx context.Context, name string, fn func(ctx context.Context)) (bool, error) {
	if g == nil || g.client == nil {
		fn(ctx)
		return true, nil
	}

	l, ok, err := TryLock(ctx, g.client, keyPrefix+name, g.ttl)
	if err != nil || !ok {
		return false, err
	}
	defer func() { _ = l.Unlock(context.WithoutCancel(ctx)) }()

	fn(ctx)
	return true, nil
}

func newToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
