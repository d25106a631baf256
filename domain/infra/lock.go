package infra

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RunLock は同じチャンネルへの実行が重ならないようにする
type RunLock interface {
	// 取得できなかった場合は ok=false
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

type RedisLock struct {
	client *redis.Client
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

func NewRedisLock(ctx context.Context, url string) (*RedisLock, error) {
	opt, err := redis.ParseURL(strings.TrimSpace(url))
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &RedisLock{client: client}, nil
}

func (l *RedisLock) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()
	key = "pulse:lock:" + key
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		// 期限切れ後に他の実行が取ったロックは消さない
		_ = releaseScript.Run(context.Background(), l.client, []string{key}, token).Err()
	}
	return release, true, nil
}

func (l *RedisLock) Close() error {
	return l.client.Close()
}

// NopLock は redis を使わない場合のロック。常に取得できる
type NopLock struct{}

func (NopLock) Acquire(context.Context, string, time.Duration) (func(), bool, error) {
	return func() {}, true, nil
}
