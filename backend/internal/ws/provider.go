package ws

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"rteSync/backend/internal/replica"
)

type ProviderOptions struct {
	// URL 形如 ws://host:port/collab/ws，room 和 client 会加到查询参数里
	URL        string
	Room       string
	ClientID   string
	MinBackoff time.Duration
	MaxBackoff time.Duration
	Dialer     *websocket.Dialer
}

// Provider 是客户端一侧的中继连接。断线后按指数退避重连，
// 连接状态和收到的帧都通过回调交出去，回调在 Provider 自己的 goroutine 上执行。
type Provider struct {
	opt      ProviderOptions
	endpoint string
	onStatus func(replica.Status)
	onFrame  func(Frame)

	mu  sync.Mutex
	out chan []byte

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewProvider(opt ProviderOptions, onStatus func(replica.Status), onFrame func(Frame)) (*Provider, error) {
	u, err := url.Parse(opt.URL)
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	q := u.Query()
	q.Set("room", opt.Room)
	if opt.ClientID != "" {
		q.Set("client", opt.ClientID)
	}
	u.RawQuery = q.Encode()

	if opt.MinBackoff <= 0 {
		opt.MinBackoff = 100 * time.Millisecond
	}
	if opt.MaxBackoff < opt.MinBackoff {
		opt.MaxBackoff = 10 * opt.MinBackoff
	}
	if opt.Dialer == nil {
		opt.Dialer = websocket.DefaultDialer
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Provider{
		opt:      opt,
		endpoint: u.String(),
		onStatus: onStatus,
		onFrame:  onFrame,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go p.run()
	return p, nil
}

// Send 非阻塞；未连接或队列满时返回 false
func (p *Provider) Send(f Frame) bool {
	if f.Room == "" {
		f.Room = p.opt.Room
	}
	msg := f.Encode()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.out == nil {
		return false
	}
	select {
	case p.out <- msg:
		return true
	default:
		return false
	}
}

// Close 断开连接并停止重连，返回时不会再有回调
func (p *Provider) Close() {
	p.cancel()
	<-p.done
}

func (p *Provider) run() {
	defer close(p.done)
	backoff := p.opt.MinBackoff
	for p.ctx.Err() == nil {
		p.onStatus(replica.Connecting)
		conn, _, err := p.opt.Dialer.DialContext(p.ctx, p.endpoint, nil)
		if err != nil {
			p.onStatus(replica.Disconnected)
			glog.V(1).Infof("dial %s failed, retry in %s: %v", p.endpoint, backoff, err)
			select {
			case <-time.After(backoff):
			case <-p.ctx.Done():
				return
			}
			backoff = min(backoff*2, p.opt.MaxBackoff)
			continue
		}
		backoff = p.opt.MinBackoff
		p.serve(conn)
		p.onStatus(replica.Disconnected)
	}
}

func (p *Provider) serve(conn *websocket.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(p.ctx, func() { _ = conn.Close() })
	defer stop()

	out := make(chan []byte, 64)
	p.mu.Lock()
	p.out = out
	p.mu.Unlock()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range out {
			if err := conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
				// 读端会随之失败并结束本次连接
				_ = conn.Close()
			}
		}
	}()

	p.onStatus(replica.Connected)
	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			if p.ctx.Err() == nil {
				glog.V(1).Infof("relay connection lost: %v", err)
			}
			break
		}
		if typ != websocket.BinaryMessage {
			continue
		}
		f, err := DecodeFrame(data)
		if err != nil {
			glog.Warningf("drop malformed frame from relay: %v", err)
			continue
		}
		p.onFrame(f)
	}

	p.mu.Lock()
	p.out = nil
	close(out)
	p.mu.Unlock()
	<-writerDone
}
