// cmd/push-gateway/main.go
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/segmentio/kafka-go"

	"promo/internal/pkg/bootstrap"
	"promo/internal/pkg/constants"
	"promo/internal/pkg/mq"
	"promo/internal/pkg/session"
	"promo/internal/service/coupon/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var (
	sessionMgr *session.Manager
	nodeID     = "push-gateway-" + uuid.New().String()[:8]
	upgrader   = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool { // 简化处理，允许所有跨域
			return true
		},
	}
)

// Hub 维护所有活跃的连接，并按 UserID 路由推送消息
type Hub struct {
	clients    map[string]*Client // 使用UserID作为Key
	register   chan *Client
	unregister chan *Client
	lock       sync.RWMutex
}

func newHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

func (h *Hub) run() {
	for {
		select {
		case client := <-h.register:
			h.lock.Lock()
			// 同一用户重复连接时，旧连接让位
			if old, ok := h.clients[client.userID]; ok {
				close(old.send)
			}
			h.clients[client.userID] = client
			h.lock.Unlock()
			log.Printf("Client %s registered on node %s", client.userID, nodeID)
		case client := <-h.unregister:
			h.lock.Lock()
			if current, ok := h.clients[client.userID]; ok && current == client {
				delete(h.clients, client.userID)
				close(client.send)
			}
			h.lock.Unlock()
			log.Printf("Client %s unregistered.", client.userID)
		}
	}
}

// sendToUser 向指定用户推送一条消息；用户不在本节点时静默丢弃
func (h *Hub) sendToUser(userID string, message []byte) {
	h.lock.RLock()
	client, ok := h.clients[userID]
	h.lock.RUnlock()
	if !ok {
		return
	}
	select {
	case client.send <- message:
	default:
		// 发送缓冲已满，连接大概率已死，由读写泵负责清理
	}
}

// Client 是一个WebSocket连接的代表
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID string
}

// writePump 将send channel中的消息写入websocket，并维持心跳
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump 消费客户端消息（主要是心跳应答），连接断开时触发注销
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
		if err := sessionMgr.RemoveUserGateway(context.Background(), c.userID, nodeID); err != nil {
			log.Printf("Failed to remove session for user %s: %v", c.userID, err)
		}
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func serveWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	// 1. 从URL参数获取UserID
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userID is required", http.StatusBadRequest)
		return
	}

	// 2. HTTP升级为WebSocket
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}

	// 3. 创建客户端实例并注册到Hub
	client := &Client{hub: hub, conn: conn, send: make(chan []byte, 256), userID: userID}
	client.hub.register <- client

	// 4. 在Redis中设置会话信息
	err = sessionMgr.SetUserGateway(context.Background(), userID, nodeID)
	if err != nil {
		log.Printf("Failed to set session for user %s: %v", userID, err)
		conn.Close()
		return
	}

	// 5. 启动读写goroutine
	go client.writePump()
	go client.readPump()
}

// consumeCouponEvents 消费优惠券生命周期事件并推送给在线用户。
// 推送是尽力而为的通知，处理失败只记录日志并继续。
func consumeCouponEvents(ctx context.Context, reader *kafka.Reader, hub *Hub) {
	log.Printf("✅ Coupon event consumer started for topic '%s'", reader.Config().Topic)
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("🛑 Coupon event consumer shutting down.")
				return
			}
			log.Printf("ERROR: could not read coupon event: %v. Retrying...", err)
			time.Sleep(1 * time.Second)
			continue
		}

		var event domain.CouponEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			log.Printf("ERROR: failed to unmarshal coupon event: %v. Message skipped.", err)
			continue
		}
		if event.UserID == "" {
			continue
		}
		hub.sendToUser(event.UserID, msg.Value)
	}
}

func main() {
	bootstrap.Init()
	cfg := bootstrap.GetCurrentConfig()

	// Redis 地址取第一个节点即可，会话路由表不要求集群
	redisAddr := strings.Split(cfg.Infra.Redis.Addrs, ",")[0]
	sessionMgr = session.NewManager(redisAddr)
	hub := newHub()
	go hub.run()

	kafkaBrokers := strings.Split(cfg.Infra.Kafka.Brokers, ",")
	reader := mq.NewKafkaReader(kafkaBrokers, constants.CouponEventsTopic, constants.CouponPushConsumerGroupID)

	ctx, cancel := context.WithCancel(context.Background())
	go consumeCouponEvents(ctx, reader, hub)

	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveWs(hub, w, r)
	})
	http.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	server := &http.Server{Addr: ":8088"}
	go func() {
		log.Printf("Push Gateway (%s) started on :8088", nodeID)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("ListenAndServe: ", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	reader.Close()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)
	sessionMgr.Close()
	log.Printf("Push Gateway (%s) shut down.", nodeID)
}
