package ws

import "sync"

type Hub struct {
	// 读写锁保护 rooms，加入/离开房间、广播时都会先加锁
	mu sync.RWMutex
	// roomID -> set of connections
	rooms map[string]map[*Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*Conn]struct{})}
}

// Join 将连接加入指定房间
func (h *Hub) Join(roomID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[roomID] == nil {
		// 一个用户可开多个标签页/设备（多连接），广播要逐连接发
		h.rooms[roomID] = make(map[*Conn]struct{})
	}
	h.rooms[roomID][c] = struct{}{}
}

// Leave 将连接从指定房间移除
func (h *Hub) Leave(roomID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[roomID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

// Broadcast 把更新推给房间里除 except 以外的连接，except 为 nil 时推给所有连接
func (h *Hub) Broadcast(roomID string, update []byte, except *Conn) {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.rooms[roomID]))
	for c := range h.rooms[roomID] {
		if c != except {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()

	msg := Frame{Type: FrameUpdate, Room: roomID, Payload: update}.Encode()
	for _, c := range conns {
		c.Enqueue(msg)
	}
}

// Members 返回房间当前连接数
func (h *Hub) Members(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}
