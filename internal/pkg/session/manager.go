// internal/pkg/session/manager.go
package session

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix = "session:gateway:"
	sessionTTL       = 24 * time.Hour
)

// Manager 维护"用户 -> 网关节点"的路由表。
// 多个推送网关实例并存时，消息路由方凭这张表决定投递到哪个节点。
type Manager struct {
	client *redis.Client
}

func NewManager(addr string) *Manager {
	return &Manager{
		client: redis.NewClient(&redis.Options{Addr: addr}),
	}
}

// SetUserGateway 记录用户当前连接的网关节点。
func (m *Manager) SetUserGateway(ctx context.Context, userID, nodeID string) error {
	return m.client.Set(ctx, sessionKeyPrefix+userID, nodeID, sessionTTL).Err()
}

// GetUserGateway 查询用户所在的网关节点；用户不在线时返回空串。
func (m *Manager) GetUserGateway(ctx context.Context, userID string) (string, error) {
	nodeID, err := m.client.Get(ctx, sessionKeyPrefix+userID).Result()
	if err == redis.Nil {
		return "", nil
	}
	return nodeID, err
}

// RemoveUserGateway 在连接断开时清除路由记录。
// 只有记录仍指向本节点时才删除，避免误删用户在其他节点的新会话。
func (m *Manager) RemoveUserGateway(ctx context.Context, userID, nodeID string) error {
	current, err := m.GetUserGateway(ctx, userID)
	if err != nil {
		return err
	}
	if current != nodeID {
		return nil
	}
	return m.client.Del(ctx, sessionKeyPrefix+userID).Err()
}

func (m *Manager) Close() error {
	return m.client.Close()
}
