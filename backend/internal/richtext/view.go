package richtext

import (
	"errors"
	"maps"
	"slices"
)

var ErrViewDestroyed = errors.New("VIEW_DESTROYED")

// DispatchHandler 在事务被应用后调用，old/next 是应用前后的状态
type DispatchHandler func(tr *Transaction, old, next State)

// View 持有当前编辑器状态，是状态的唯一来源；所有修改都通过 Dispatch。
// 非并发安全，只能在控制线程上使用。
type View struct {
	state     State
	handlers  map[int]DispatchHandler
	nextID    int
	destroyed bool
}

func NewView(state State) *View {
	return &View{state: state, handlers: make(map[int]DispatchHandler)}
}

func (v *View) State() State { return v.state }

// Dispatch 应用事务并通知处理器
func (v *View) Dispatch(tr *Transaction) error {
	if v.destroyed {
		return ErrViewDestroyed
	}
	old := v.state
	v.state = old.Apply(tr)
	for _, id := range v.handlerIDs() {
		if h, ok := v.handlers[id]; ok {
			h(tr, old, v.state)
		}
	}
	return tr.Err()
}

// OnDispatch 注册处理器，返回注销函数
func (v *View) OnDispatch(h DispatchHandler) (remove func()) {
	id := v.nextID
	v.nextID++
	v.handlers[id] = h
	return func() { delete(v.handlers, id) }
}

// Destroy 释放视图，之后的 Dispatch 返回 ErrViewDestroyed
func (v *View) Destroy() {
	v.destroyed = true
	v.handlers = map[int]DispatchHandler{}
}

func (v *View) Destroyed() bool { return v.destroyed }

// 按注册顺序调用
func (v *View) handlerIDs() []int {
	return slices.Sorted(maps.Keys(v.handlers))
}
