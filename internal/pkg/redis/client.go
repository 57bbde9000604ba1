// internal/pkg/redis/client.go
package redis

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client 封装了 go-redis 客户端，并维护一个按名字注册的 Lua 脚本表。
// 业务方先注册脚本，之后通过名字执行，避免在调用点散落脚本内容。
type Client struct {
	rdb     redis.UniversalClient
	scripts map[string]*redis.Script
	mu      sync.RWMutex
}

// NewClient 创建一个新的 Redis 客户端。
// addrs 格式为 "host1:port1,host2:port2"，单地址时使用普通客户端，多地址时使用集群客户端。
func NewClient(addrs string) (*Client, error) {
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        strings.Split(addrs, ","),
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addrs, err)
	}

	return &Client{
		rdb:     rdb,
		scripts: make(map[string]*redis.Script),
	}, nil
}

// LoadScriptFromContent 以指定名字注册一段 Lua 脚本。
func (c *Client) LoadScriptFromContent(name, content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("script %q is empty", name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripts[name] = redis.NewScript(content)
	return nil
}

// LoadScriptFromFile 从文件加载并注册一段 Lua 脚本。
func (c *Client) LoadScriptFromFile(name, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read script file %s: %w", path, err)
	}
	return c.LoadScriptFromContent(name, string(content))
}

// RunScript 执行一个已注册的脚本。
// go-redis 的 Script.Run 优先使用 EVALSHA，脚本未加载时自动退回 EVAL。
func (c *Client) RunScript(ctx context.Context, name string, keys []string, args ...interface{}) (interface{}, error) {
	c.mu.RLock()
	script, ok := c.scripts[name]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("script %q is not registered", name)
	}
	return script.Run(ctx, c.rdb, keys, args...).Result()
}

// GetClient 暴露底层客户端，供需要 pipeline 等原生能力的调用方使用。
func (c *Client) GetClient() redis.UniversalClient {
	return c.rdb
}

// Close 关闭底层连接。
func (c *Client) Close() error {
	return c.rdb.Close()
}
