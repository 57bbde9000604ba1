// internal/service/coupon/infrastructure/adapter/lock_zookeeper_adapter.go
package adapter

import (
	"context"
	"errors"
	"sync"
	"time"

	"promo/internal/pkg/logger"
	"promo/internal/service/coupon/domain"
	"promo/internal/zookeeper"
)

// ZookeeperLockAdapter 是 port.LockService 的 ZooKeeper 实现。
// 临时顺序节点在会话断开后自动清除，等价于租约到期；
// lease 参数在这里不生效，会话超时就是租约上限。
type ZookeeperLockAdapter struct {
	conn *zookeeper.Conn

	mu    sync.Mutex
	locks map[string]*zookeeper.DistributedLock // token -> 持有中的锁
}

// NewZookeeperLockAdapter 创建一个新的 ZooKeeper 锁适配器实例。
func NewZookeeperLockAdapter(conn *zookeeper.Conn) *ZookeeperLockAdapter {
	return &ZookeeperLockAdapter{
		conn:  conn,
		locks: make(map[string]*zookeeper.DistributedLock),
	}
}

func (a *ZookeeperLockAdapter) TryAcquire(ctx context.Context, key string, wait, lease time.Duration) (string, error) {
	lock, err := zookeeper.NewDistributedLock(a.conn, key)
	if err != nil {
		return "", domain.WrapError(domain.KindLockAcquisitionFailed, err, "lock backend error for %q", key)
	}
	if err := lock.Lock(wait); err != nil {
		if errors.Is(err, zookeeper.ErrLockTimeout) {
			return "", domain.WrapError(domain.KindLockAcquisitionFailed, err,
				"could not acquire lock %q within %s", key, wait)
		}
		return "", domain.WrapError(domain.KindLockAcquisitionFailed, err, "lock backend error for %q", key)
	}

	// 用 key 本身当 token：同一进程内一个 key 同时只会有一个持有者
	a.mu.Lock()
	a.locks[key] = lock
	a.mu.Unlock()
	return key, nil
}

func (a *ZookeeperLockAdapter) Release(ctx context.Context, key, token string) bool {
	a.mu.Lock()
	lock, ok := a.locks[token]
	delete(a.locks, token)
	a.mu.Unlock()
	if !ok {
		logger.Ctx(ctx).Warn().Str("lock_key", key).Msg("no held zookeeper lock for token, release skipped")
		return false
	}
	if err := lock.Unlock(); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("lock_key", key).Msg("failed to release zookeeper lock")
		return false
	}
	return true
}
