// internal/zookeeper/lock.go
package zookeeper

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
)

const (
	lockRoot = "/coupon_locks" // 所有分布式锁的根节点
)

// ErrLockTimeout 表示在等待时间内没有排到队首。
var ErrLockTimeout = errors.New("zookeeper lock: timeout waiting for lock")

// DistributedLock 基于临时顺序节点实现的分布式锁。
// 会话断开后节点自动删除，持有者崩溃不会造成死锁。
type DistributedLock struct {
	conn     *Conn
	path     string // 锁的路径，例如 /coupon_locks/code-ABC123
	lockNode string // 成功排队后自己创建的节点路径
}

// NewDistributedLock 创建一个新的分布式锁实例。
func NewDistributedLock(conn *Conn, key string) (*DistributedLock, error) {
	if err := ensureNode(conn, lockRoot); err != nil {
		return nil, err
	}
	// ZooKeeper 路径里不允许出现 '/'，把业务 key 里的分隔符拍平
	lockPath := lockRoot + "/" + strings.ReplaceAll(key, "/", "_")
	if err := ensureNode(conn, lockPath); err != nil {
		return nil, err
	}
	return &DistributedLock{conn: conn, path: lockPath}, nil
}

func ensureNode(conn *Conn, path string) error {
	exists, _, err := conn.Exists(path)
	if err != nil {
		return fmt.Errorf("zookeeper lock: exists check failed for %s: %w", path, err)
	}
	if exists {
		return nil
	}
	if _, err := conn.Create(path, []byte{}, 0, zk.WorldACL(zk.PermAll)); err != nil && err != zk.ErrNodeExists {
		return fmt.Errorf("zookeeper lock: failed to create node %s: %w", path, err)
	}
	return nil
}

// Lock 尝试在 wait 时间内获取锁，排不到队首则返回 ErrLockTimeout。
func (l *DistributedLock) Lock(wait time.Duration) error {
	// 1. 在锁路径下创建一个临时顺序节点
	nodePath, err := l.conn.CreateProtectedEphemeralSequential(l.path+"/lock-", []byte{}, zk.WorldACL(zk.PermAll))
	if err != nil {
		return fmt.Errorf("zookeeper lock: failed to create sequential node: %w", err)
	}
	l.lockNode = nodePath
	deadline := time.Now().Add(wait)

	for {
		// 2. 获取锁路径下的所有子节点并排序
		children, _, err := l.conn.Children(l.path)
		if err != nil {
			l.abandon()
			return fmt.Errorf("zookeeper lock: failed to list children: %w", err)
		}
		sort.Strings(children)

		// 3. 自己是最小节点即持有锁
		myNodeName := strings.TrimPrefix(l.lockNode, l.path+"/")
		if myNodeName == children[0] {
			return nil
		}

		// 4. 否则监听自己前一个节点的删除事件
		prevNodeIndex := -1
		for i, child := range children {
			if child == myNodeName {
				prevNodeIndex = i - 1
				break
			}
		}
		if prevNodeIndex < 0 {
			l.abandon()
			return errors.New("zookeeper lock: own node missing from children list")
		}
		prevNodePath := l.path + "/" + children[prevNodeIndex]

		exists, _, eventChan, err := l.conn.ExistsW(prevNodePath)
		if err != nil {
			if err == zk.ErrNoNode {
				continue // 前一个节点刚好被删除，重新竞争
			}
			l.abandon()
			return fmt.Errorf("zookeeper lock: failed to watch previous node: %w", err)
		}
		if !exists {
			continue
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			l.abandon()
			return ErrLockTimeout
		}
		select {
		case event := <-eventChan:
			if event.Type == zk.EventNodeDeleted {
				continue
			}
		case <-time.After(remaining):
			l.abandon()
			return ErrLockTimeout
		}
	}
}

// Unlock 释放锁。
func (l *DistributedLock) Unlock() error {
	if l.lockNode == "" {
		return errors.New("zookeeper lock: no lock to unlock")
	}
	err := l.conn.Delete(l.lockNode, -1)
	if err != nil && err != zk.ErrNoNode {
		return fmt.Errorf("zookeeper lock: failed to delete lock node: %w", err)
	}
	l.lockNode = ""
	return nil
}

// abandon 清掉排队节点，避免放弃等待后仍然占着队位阻塞后来者。
func (l *DistributedLock) abandon() {
	if l.lockNode != "" {
		_ = l.conn.Delete(l.lockNode, -1)
		l.lockNode = ""
	}
}
