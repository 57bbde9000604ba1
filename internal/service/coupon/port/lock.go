// internal/service/coupon/port/lock.go
package port

import (
	"context"
	"time"
)

// LockService 是分布式互斥租约的抽象。
// 租约在 lease 到期后自动失效，持有者崩溃不会造成死锁；
// Release 必须校验 token，避免释放已经易主的锁。
type LockService interface {
	// TryAcquire 在 wait 时间内尝试获取锁，成功返回持有凭据 token。
	// wait 为 0 表示只试一次。获取失败返回 KindLockAcquisitionFailed 类错误。
	TryAcquire(ctx context.Context, key string, wait, lease time.Duration) (token string, err error)

	// Release 释放锁。返回 false 表示锁已过期并被他人持有，释放被跳过。
	Release(ctx context.Context, key, token string) bool
}

// WithLock 在持有锁的前提下执行 fn，并保证锁最终被释放。
// 这是对 "加锁-执行-finally 释放" 模式的显式封装。
func WithLock(ctx context.Context, ls LockService, key string, wait, lease time.Duration, fn func(ctx context.Context) error) error {
	token, err := ls.TryAcquire(ctx, key, wait, lease)
	if err != nil {
		return err
	}
	defer ls.Release(ctx, key, token)
	return fn(ctx)
}
