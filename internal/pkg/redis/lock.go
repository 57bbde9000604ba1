// internal/pkg/redis/lock.go
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// ErrNotAcquired 表示在等待时间内没有抢到锁。
var ErrNotAcquired = errors.New("redis lock: not acquired within wait timeout")

// 只有持有者本人（token 匹配）才能删除锁，防止释放别人续上的锁
const releaseLockScript = `
if redis.call('get', KEYS[1]) == ARGV[1] then
    return redis.call('del', KEYS[1])
else
    return 0
end
`

// 抢锁失败后的重试间隔
const lockRetryInterval = 50 * time.Millisecond

// AcquireLock 尝试获取一把带租约的分布式锁。
// 成功时返回本次持有的 owner token；在 wait 时间内未获取到则返回 ErrNotAcquired。
// 锁在 lease 到期后自动失效，持有者崩溃也不会造成死锁。
func (c *Client) AcquireLock(ctx context.Context, key string, wait, lease time.Duration) (string, error) {
	token := uuid.New().String()
	deadline := time.Now().Add(wait)

	for {
		ok, err := c.rdb.SetNX(ctx, key, token, lease).Result()
		if err != nil {
			return "", fmt.Errorf("redis lock: setnx failed for key %s: %w", key, err)
		}
		if ok {
			return token, nil
		}
		if time.Now().After(deadline) {
			return "", ErrNotAcquired
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}

// ReleaseLock 释放锁。
// 仅当锁仍由 token 对应的持有者持有时才真正删除；
// 返回 false 表示锁已经过期并被其他人持有，此时什么都不做。
func (c *Client) ReleaseLock(ctx context.Context, key, token string) (bool, error) {
	res, err := goredis.NewScript(releaseLockScript).Run(ctx, c.rdb, []string{key}, token).Int64()
	if err != nil {
		return false, fmt.Errorf("redis lock: release failed for key %s: %w", key, err)
	}
	return res == 1, nil
}
