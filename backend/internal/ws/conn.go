package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"rteSync/backend/internal/collab"
)

var ErrRoomMismatch = errors.New("ROOM_MISMATCH")

// 单帧上限，超过后 gorilla 直接断开
const maxFrameSize = 4 << 20

type Conn struct {
	ws       *websocket.Conn
	hub      *Hub
	room     string
	clientID string

	// 写循环消费的出站队列；mu 保证关闭后不再写入
	mu     sync.Mutex
	send   chan []byte
	closed bool

	svc collab.Service
	sem *collab.SemaphoreControl
}

func NewConn(ws *websocket.Conn, hub *Hub, room, clientID string, svc collab.Service, sem *collab.SemaphoreControl) *Conn {
	return &Conn{ws: ws, hub: hub, room: room, clientID: clientID, send: make(chan []byte, 64), svc: svc, sem: sem}
}

// Enqueue 队列满时丢弃，客户端下次握手会用状态向量补齐
func (c *Conn) Enqueue(msg []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- msg:
	default:
		glog.V(1).Infof("send queue full, drop frame room=%s client=%s", c.room, c.clientID)
	}
}

func (c *Conn) enqueueFrame(t FrameType, payload []byte) {
	c.Enqueue(Frame{Type: t, Room: c.room, Payload: payload}.Encode())
}

func (c *Conn) enqueueError(err error) {
	c.enqueueFrame(FrameError, []byte(err.Error()))
}

func (c *Conn) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Conn) handleSyncStep1(ctx context.Context, sv []byte) {
	diff, err := c.svc.Diff(ctx, c.room, sv)
	if err != nil {
		c.enqueueError(err)
		return
	}
	c.enqueueFrame(FrameSyncStep2, diff)
}

func (c *Conn) handleUpdate(ctx context.Context, update []byte) {
	updateCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()

	if err := c.sem.Acquire(updateCtx); err != nil {
		c.enqueueError(err)
		return
	}
	defer c.sem.Release()

	changed, err := c.svc.Apply(updateCtx, c.room, c.clientID, update)
	if err != nil {
		glog.Warningf("apply update failed room=%s client=%s err=%v", c.room, c.clientID, err)
		c.enqueueError(err)
		return
	}
	if changed {
		c.hub.Broadcast(c.room, update, c)
	}
}

func (c *Conn) readLoop(ctx context.Context) {
	defer c.closeSend()
	c.ws.SetReadLimit(maxFrameSize)
	for {
		typ, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				glog.Warningf("read error room=%s client=%s: %v", c.room, c.clientID, err)
			}
			return
		}
		if typ != websocket.BinaryMessage {
			continue
		}
		f, err := DecodeFrame(data)
		if err != nil {
			c.enqueueError(err)
			continue
		}
		if f.Room != "" && f.Room != c.room {
			c.enqueueError(ErrRoomMismatch)
			continue
		}
		glog.V(2).Infof("frame %s room=%s client=%s bytes=%d", f.Type, c.room, c.clientID, len(f.Payload))

		switch f.Type {
		case FrameSyncStep1:
			c.handleSyncStep1(ctx, f.Payload)
		case FrameSyncStep2, FrameUpdate:
			c.handleUpdate(ctx, f.Payload)
		case FrameError:
			glog.Warningf("client error room=%s client=%s: %s", c.room, c.clientID, f.Payload)
		}
	}
}

// writeLoop 写失败后继续消费，直到读循环关闭队列
func (c *Conn) writeLoop() {
	for msg := range c.send {
		if err := c.ws.WriteMessage(websocket.BinaryMessage, msg); err != nil {
			glog.V(1).Infof("write error room=%s client=%s: %v", c.room, c.clientID, err)
		}
	}
}
