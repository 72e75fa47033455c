package replica

import "github.com/golang/glog"

// Observable 是能通知更新的副本
type Observable interface {
	Replica
	OnUpdate(fn func(update []byte, origin any)) (remove func())
}

// Mirror 让本地沙箱副本和联网副本保持一致：任意一边出现不是由同步本身引起的更新都同步一轮
type Mirror struct {
	local   Observable
	network Observable
	removes []func()
	onError func(error)
}

func NewMirror(local, network Observable, onError func(error)) *Mirror {
	if onError == nil {
		onError = func(err error) { glog.Errorf("replica: mirror sync: %v", err) }
	}
	m := &Mirror{local: local, network: network, onError: onError}
	h := func(_ []byte, origin any) {
		if origin == SyncOrigin {
			return
		}
		m.SyncNow()
	}
	m.removes = append(m.removes, local.OnUpdate(h), network.OnUpdate(h))
	return m
}

// SyncNow 立即同步一轮，连接建立时也调用它
func (m *Mirror) SyncNow() {
	if m.removes == nil {
		return
	}
	if err := Sync(m.local, m.network); err != nil {
		m.onError(err)
	}
}

// Close 注销两边的更新处理器
func (m *Mirror) Close() {
	for _, remove := range m.removes {
		remove()
	}
	m.removes = nil
}
