package ws

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"rteSync/backend/internal/collab"
)

// 全局的 WebSocket upgrader（允许本地开发环境的来源）
var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == "null" { // 非浏览器客户端通常不发 Origin
		return true
	}
	allowedPrefixes := []string{
		"http://localhost",
		"http://127.0.0.1",
		"https://localhost",
		"https://127.0.0.1",
	}
	for _, p := range allowedPrefixes {
		if strings.HasPrefix(origin, p) {
			return true
		}
	}
	return false
}}

type Manager struct {
	h   *Hub
	svc collab.Service
	sem *collab.SemaphoreControl
}

func NewManager(h *Hub, svc collab.Service, sem *collab.SemaphoreControl) *Manager {
	return &Manager{h: h, svc: svc, sem: sem}
}

// WebSocketConnect GET /collab/ws?room=<id>&client=<id>
func (m *Manager) WebSocketConnect(c *gin.Context) {
	roomID := c.Query("room")
	if roomID == "" {
		c.String(http.StatusBadRequest, "missing room")
		return
	}
	clientID := c.Query("client")
	if clientID == "" {
		clientID = uuid.NewString()
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		glog.Warningf("websocket upgrade error: %v (origin=%s)", err, c.Request.Header.Get("Origin"))
		return
	}
	defer conn.Close()

	ctx := c.Request.Context()
	wsConn := NewConn(conn, m.h, roomID, clientID, m.svc, m.sem)
	m.h.Join(roomID, wsConn)
	defer m.h.Leave(roomID, wsConn)
	glog.Infof("join room=%s client=%s members=%d", roomID, clientID, m.h.Members(roomID))

	// 先启动写循环，再发服务端的 SyncStep1
	go wsConn.writeLoop()
	if sv, err := m.svc.StateVector(ctx, roomID); err != nil {
		wsConn.enqueueError(err)
	} else {
		wsConn.enqueueFrame(FrameSyncStep1, sv)
	}

	// 阻塞至连接关闭
	wsConn.readLoop(ctx)
	glog.Infof("leave room=%s client=%s", roomID, clientID)
}

// HandleRemote 处理其他中继实例转来的更新，合并后推给本实例的所有连接
func (m *Manager) HandleRemote(ctx context.Context, roomID string, update []byte) {
	changed, err := m.svc.ApplyRemote(ctx, roomID, update)
	if err != nil {
		glog.Warningf("apply remote update failed room=%s err=%v", roomID, err)
		return
	}
	if changed {
		m.h.Broadcast(roomID, update, nil)
	}
}
