package replica

import "github.com/golang/glog"

type Status int

const (
	Disconnected Status = iota
	Connecting
	Connected
)

func (s Status) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return "unknown"
}

// ConnState 跟踪传输层的连接状态，每次进入 Connected 调用一次 onConnected
type ConnState struct {
	status      Status
	onConnected func()
}

func NewConnState(onConnected func()) *ConnState {
	return &ConnState{status: Disconnected, onConnected: onConnected}
}

func (c *ConnState) Status() Status { return c.status }

// Handle 处理一个状态事件。重复的状态被忽略；任意两个不同状态之间都可以转换，
// 传输层可能跳过 Connecting 直接报告 Connected。
func (c *ConnState) Handle(next Status) {
	if next == c.status {
		return
	}
	prev := c.status
	c.status = next
	glog.V(1).Infof("replica: connection %s -> %s", prev, next)
	if next == Connected && c.onConnected != nil {
		c.onConnected()
	}
}
