// internal/zookeeper/conn.go
package zookeeper

import (
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
)

// Conn 是对 zk.Conn 的薄封装，统一连接参数。
type Conn struct {
	*zk.Conn
}

// Connect 建立到 ZooKeeper 集群的连接。
// sessionTimeout 决定了持有者崩溃后临时节点多久被清除，等价于锁的租约上限。
func Connect(addrs string, sessionTimeout time.Duration) (*Conn, error) {
	conn, _, err := zk.Connect(strings.Split(addrs, ","), sessionTimeout, zk.WithLogInfo(false))
	if err != nil {
		return nil, err
	}
	return &Conn{Conn: conn}, nil
}
