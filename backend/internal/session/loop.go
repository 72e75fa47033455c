package session

import (
	"context"
	"errors"
	"sync"
)

var ErrLoopClosed = errors.New("LOOP_CLOSED")

// Loop 是会话的控制线程：投递进来的回调按顺序、一次一个地执行完。
// 编辑器、CRDT 副本和绑定都只在 Loop 上访问。
type Loop struct {
	tasks   chan func()
	quit    chan struct{}
	stopped chan struct{}
	once    sync.Once
	started sync.Once
}

func NewLoop(size int) *Loop {
	if size <= 0 {
		size = 256
	}
	return &Loop{
		tasks:   make(chan func(), size),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Post 投递一个回调，队列满时等待。Loop 已关闭时返回 false。
// 不要在 Loop 自己的回调里 Post 大量任务，队列满会卡死。
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.quit:
		return false
	default:
	}
	select {
	case l.tasks <- fn:
		return true
	case <-l.quit:
		return false
	}
}

// Run 执行回调直到 Close 或 ctx 结束。只能调用一次。
func (l *Loop) Run(ctx context.Context) error {
	err := ErrLoopClosed
	l.started.Do(func() {
		defer close(l.stopped)
		for {
			select {
			case <-ctx.Done():
				err = ctx.Err()
				return
			case <-l.quit:
				err = nil
				return
			case fn := <-l.tasks:
				fn()
			}
		}
	})
	return err
}

// Do 在 Loop 上执行 fn 并等它返回
func (l *Loop) Do(ctx context.Context, fn func() error) error {
	res := make(chan error, 1)
	if !l.Post(func() { res <- fn() }) {
		return ErrLoopClosed
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stopped:
		return ErrLoopClosed
	}
}

// Close 停止 Loop，队列里还没执行的回调被丢弃
func (l *Loop) Close() {
	l.once.Do(func() { close(l.quit) })
}
