// Package session 把编辑器、绑定、两份 CRDT 副本和中继连接组装成一个协作会话。
// 所有状态只在会话的 Loop 上访问，传输层的回调只负责把事件投递进 Loop。
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang/glog"

	"rteSync/backend/internal/binding"
	"rteSync/backend/internal/crdt"
	"rteSync/backend/internal/replica"
	"rteSync/backend/internal/richtext"
	"rteSync/backend/internal/ws"
)

var ErrSessionClosed = errors.New("SESSION_CLOSED")

// healDelay 连接中发送失败后，隔多久重新补发
var healDelay = 50 * time.Millisecond

// Transport 是到中继的连接，Send 不阻塞
type Transport interface {
	Send(f ws.Frame) bool
	Close()
}

// Dialer 建立连接；onStatus 和 onFrame 可能在任意 goroutine 上调用
type Dialer func(onStatus func(replica.Status), onFrame func(ws.Frame)) (Transport, error)

// WebSocketDialer 用 ws.Provider 连接中继
func WebSocketDialer(opt ws.ProviderOptions) Dialer {
	return func(onStatus func(replica.Status), onFrame func(ws.Frame)) (Transport, error) {
		p, err := ws.NewProvider(opt, onStatus, onFrame)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

type Options struct {
	Room    string
	Initial *richtext.Document
	Dial    Dialer
	// OnFault 在 Loop 上调用，默认只打日志
	OnFault   func(error)
	QueueSize int
}

type providerOrigin struct{ room string }

func (o *providerOrigin) String() string { return "provider:" + o.room }

// Session 会话上下文，持有一次协作编辑涉及的全部对象
type Session struct {
	loop *Loop
	room string

	view      *richtext.View
	local     *crdt.Doc
	network   *crdt.Doc
	binding   *binding.Binding
	mirror    *replica.Mirror
	conn      *replica.ConnState
	transport Transport
	origin    *providerOrigin
	onFault   func(error)

	removeNetwork func()
	closed        bool

	// relaySV 中继最近一次 SyncStep1 带来的状态向量
	relaySV []byte
	healing bool
	pulling bool
}

// New 建立会话并开始连接。返回时 Loop 已经在运行。
func New(ctx context.Context, opt Options) (*Session, error) {
	if opt.Dial == nil {
		return nil, fmt.Errorf("session: dialer is required")
	}
	s := &Session{
		loop:    NewLoop(opt.QueueSize),
		room:    opt.Room,
		origin:  &providerOrigin{room: opt.Room},
		onFault: opt.OnFault,
	}
	if s.onFault == nil {
		s.onFault = func(err error) { glog.Errorf("session %s: %v", s.room, err) }
	}
	go func() { _ = s.loop.Run(context.Background()) }()

	err := s.loop.Do(ctx, func() error { return s.setup(opt) })
	if err != nil {
		s.loop.Close()
		return nil, err
	}
	return s, nil
}

func (s *Session) setup(opt Options) error {
	s.view = richtext.NewView(richtext.NewState(opt.Initial))
	s.local = crdt.NewDoc()
	s.network = crdt.NewDoc()
	s.binding = binding.New(s.view, s.local, binding.WithFaultHandler(s.onFault))
	s.mirror = replica.NewMirror(s.local, s.network, s.onFault)
	// 初始内容已经写进沙箱副本，先推到联网副本
	s.mirror.SyncNow()
	s.conn = replica.NewConnState(s.onConnected)
	s.removeNetwork = s.network.OnUpdate(s.onNetworkUpdate)

	t, err := opt.Dial(s.postStatus, s.postFrame)
	if err != nil {
		s.teardown()
		s.view.Destroy()
		return fmt.Errorf("session: dial: %w", err)
	}
	s.transport = t
	return nil
}

func (s *Session) postStatus(st replica.Status) {
	s.loop.Post(func() {
		if !s.closed {
			s.conn.Handle(st)
		}
	})
}

func (s *Session) postFrame(f ws.Frame) {
	s.loop.Post(func() {
		if !s.closed {
			s.handleFrame(f)
		}
	})
}

// 进入 Connected：补齐本地副本，再发自己的状态向量
func (s *Session) onConnected() {
	s.pulling = false
	s.mirror.SyncNow()
	s.transport.Send(ws.Frame{Type: ws.FrameSyncStep1, Room: s.room, Payload: s.network.EncodeStateVector()})
}

func (s *Session) handleFrame(f ws.Frame) {
	switch f.Type {
	case ws.FrameSyncStep1:
		s.relaySV = append(s.relaySV[:0], f.Payload...)
		diff, err := s.network.EncodeStateAsUpdate(f.Payload)
		if err != nil {
			s.onFault(fmt.Errorf("answer sync step 1: %w", err))
			return
		}
		s.transport.Send(ws.Frame{Type: ws.FrameSyncStep2, Room: s.room, Payload: diff})
	case ws.FrameSyncStep2, ws.FrameUpdate:
		if f.Type == ws.FrameSyncStep2 {
			s.pulling = false
		}
		if err := s.network.ApplyUpdate(f.Payload, s.origin); err != nil {
			s.onFault(fmt.Errorf("apply %s: %w", f.Type, err))
			return
		}
		// 有操作在等前驱，说明中继发来的帧丢过，主动拉一次
		if s.network.Pending() > 0 && !s.pulling && s.conn.Status() == replica.Connected {
			s.pulling = s.transport.Send(ws.Frame{Type: ws.FrameSyncStep1, Room: s.room, Payload: s.network.EncodeStateVector()})
		}
	case ws.FrameError:
		glog.Warningf("session %s: relay error: %s", s.room, f.Payload)
	}
}

// 联网副本上不是来自中继的更新都转发给中继。未连接时 Send 失败，重连握手会补上；
// 连接中失败（发送队列满）则稍后补发。
func (s *Session) onNetworkUpdate(update []byte, origin any) {
	if origin == s.origin || s.transport == nil {
		return
	}
	if s.transport.Send(ws.Frame{Type: ws.FrameUpdate, Room: s.room, Payload: update}) {
		return
	}
	status := s.conn.Status()
	glog.V(1).Infof("session %s: update not sent, status=%s", s.room, status)
	if status == replica.Connected {
		s.scheduleHeal()
	}
}

func (s *Session) scheduleHeal() {
	if s.healing {
		return
	}
	s.healing = true
	time.AfterFunc(healDelay, func() {
		s.loop.Post(func() {
			s.healing = false
			if !s.closed {
				s.heal()
			}
		})
	})
}

// heal 不等重连就补上丢掉的更新：把中继可能缺的内容作为 SyncStep2 发过去，
// 再发 SyncStep1 拉回中继这边的新内容。未连接时交给下一次握手。
func (s *Session) heal() {
	if s.conn.Status() != replica.Connected {
		return
	}
	diff, err := s.network.EncodeStateAsUpdate(s.relaySV)
	if err != nil {
		s.onFault(fmt.Errorf("heal: %w", err))
		return
	}
	if !s.transport.Send(ws.Frame{Type: ws.FrameSyncStep2, Room: s.room, Payload: diff}) ||
		!s.transport.Send(ws.Frame{Type: ws.FrameSyncStep1, Room: s.room, Payload: s.network.EncodeStateVector()}) {
		s.scheduleHeal()
		return
	}
	glog.V(1).Infof("session %s: resent %d bytes after dropped update", s.room, len(diff))
}

// Edit 在控制线程上基于当前状态构造事务并派发。build 返回 nil 表示什么都不做。
func (s *Session) Edit(ctx context.Context, build func(richtext.State) *richtext.Transaction) error {
	return s.do(ctx, func() error {
		tr := build(s.view.State())
		if tr == nil {
			return nil
		}
		return s.view.Dispatch(tr)
	})
}

// Snapshot 返回编辑器的当前状态
func (s *Session) Snapshot(ctx context.Context) (richtext.State, error) {
	var st richtext.State
	err := s.do(ctx, func() error {
		st = s.binding.State()
		return nil
	})
	return st, err
}

func (s *Session) Status(ctx context.Context) (replica.Status, error) {
	var st replica.Status
	err := s.do(ctx, func() error {
		st = s.conn.Status()
		return nil
	})
	return st, err
}

// Resync 强制用 CRDT 内容重建编辑器文档
func (s *Session) Resync(ctx context.Context) error {
	return s.do(ctx, func() error {
		return s.binding.Resync()
	})
}

func (s *Session) do(ctx context.Context, fn func() error) error {
	err := s.loop.Do(ctx, func() error {
		if s.closed {
			return ErrSessionClosed
		}
		return fn()
	})
	if errors.Is(err, ErrLoopClosed) {
		return ErrSessionClosed
	}
	return err
}

// Close 按顺序拆除：先注销观察者，再断开连接，最后释放副本和视图。
// 连接在 Loop 之外关闭，传输层的回调在关闭期间仍能投递进来（并被忽略）。
func (s *Session) Close(ctx context.Context) error {
	var t Transport
	err := s.do(ctx, func() error {
		s.teardown()
		t = s.transport
		return nil
	})
	if errors.Is(err, ErrSessionClosed) {
		return nil
	}
	if err != nil {
		return err
	}
	if t != nil {
		t.Close()
	}
	_ = s.loop.Do(ctx, func() error {
		s.view.Destroy()
		s.local, s.network = nil, nil
		return nil
	})
	s.loop.Close()
	return nil
}

func (s *Session) teardown() {
	s.closed = true
	s.binding.Destroy()
	s.mirror.Close()
	s.removeNetwork()
}
