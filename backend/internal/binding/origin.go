package binding

import "github.com/google/uuid"

// Origin 标记由本绑定发起的 CRDT 事务，每个事务一个新的值
type Origin struct {
	ID uuid.UUID
}

func (o Origin) String() string { return "binding:" + o.ID.String() }

// OriginFilter 记录最近一次本地事务的 origin。CRDT 事件在 Transact 内同步触发，
// 所以只需要比较最后一个。
type OriginFilter struct {
	last Origin
	set  bool
}

// Next 为下一个本地事务生成 origin
func (f *OriginFilter) Next() Origin {
	f.last = Origin{ID: uuid.New()}
	f.set = true
	return f.last
}

// IsLocal 判断事件是否是本绑定自己事务的回声
func (f *OriginFilter) IsLocal(origin any) bool {
	o, ok := origin.(Origin)
	return ok && f.set && o == f.last
}
