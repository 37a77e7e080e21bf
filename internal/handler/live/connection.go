package live

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Connection 一个客户端 WebSocket 连接，仅由网关持有
type Connection struct {
	ID        string
	LearnerID string
	CreatedAt time.Time

	conn      *websocket.Conn
	sent      atomic.Int64
	received  atomic.Int64
	closeOnce sync.Once
}

// ConnectionInfo 连接快照
type ConnectionInfo struct {
	ConnectionID     string    `json:"connectionId"`
	LearnerID        string    `json:"learnerId"`
	CreatedAt        time.Time `json:"createdAt"`
	MessagesSent     int64     `json:"messagesSent"`
	MessagesReceived int64     `json:"messagesReceived"`
}

func newConnection(learnerID string, conn *websocket.Conn) *Connection {
	return &Connection{
		ID:        uuid.NewString(),
		LearnerID: learnerID,
		CreatedAt: time.Now().UTC(),
		conn:      conn,
	}
}

// Info 返回计数快照
func (c *Connection) Info() ConnectionInfo {
	return ConnectionInfo{
		ConnectionID:     c.ID,
		LearnerID:        c.LearnerID,
		CreatedAt:        c.CreatedAt,
		MessagesSent:     c.sent.Load(),
		MessagesReceived: c.received.Load(),
	}
}

// closeTransport 关闭底层连接，可重复调用
func (c *Connection) closeTransport() {
	c.closeOnce.Do(func() {
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// ConnectionRegistry 连接注册表，按学员索引
type ConnectionRegistry struct {
	mu        sync.RWMutex
	byID      map[string]*Connection
	byLearner map[string]string
}

// NewConnectionRegistry 创建连接注册表
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		byID:      make(map[string]*Connection),
		byLearner: make(map[string]string),
	}
}

// Add 登记连接；若该学员已有连接则返回旧连接，由调用方关闭
func (r *ConnectionRegistry) Add(c *Connection) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	var previous *Connection
	if oldID, ok := r.byLearner[c.LearnerID]; ok {
		previous = r.byID[oldID]
	}
	r.byID[c.ID] = c
	r.byLearner[c.LearnerID] = c.ID
	return previous
}

// Remove 移除连接；学员索引只在仍指向该连接时清除
func (r *ConnectionRegistry) Remove(c *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[c.ID]; !ok {
		return false
	}
	delete(r.byID, c.ID)
	if r.byLearner[c.LearnerID] == c.ID {
		delete(r.byLearner, c.LearnerID)
	}
	return true
}

// Get 按 id 获取连接
func (r *ConnectionRegistry) Get(connectionID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[connectionID]
	return c, ok
}

// ForLearner 获取学员当前的连接
func (r *ConnectionRegistry) ForLearner(learnerID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byLearner[learnerID]
	if !ok {
		return nil, false
	}
	c, ok := r.byID[id]
	return c, ok
}

// Count 当前连接数
func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// List 按创建时间列出连接
func (r *ConnectionRegistry) List() []ConnectionInfo {
	r.mu.RLock()
	infos := make([]ConnectionInfo, 0, len(r.byID))
	for _, c := range r.byID {
		infos = append(infos, c.Info())
	}
	r.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// CloseAll 关闭全部连接的底层传输；各连接的清理由其自身循环完成
func (r *ConnectionRegistry) CloseAll() int {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.byID))
	for _, c := range r.byID {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	for _, c := range conns {
		c.closeTransport()
	}
	return len(conns)
}
