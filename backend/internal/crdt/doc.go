package crdt

import (
	"cmp"
	"maps"
	"slices"

	"rteSync/backend/internal/ot/delta"
)

type Option func(*Doc)

// WithClientID 固定客户端 id，主要用于测试里得到确定的并发顺序
func WithClientID(id uint64) Option {
	return func(d *Doc) { d.clientID = id }
}

// Doc 是一个副本。非并发安全，调用方负责串行化。
type Doc struct {
	clientID uint64
	lamport  uint64

	// 文档顺序排列的全部字符，包括墓碑
	items []*item
	byID  map[ID]*item

	sv      map[uint64]uint64
	log     map[uint64][]op
	pending []op

	text *Text
	txn  *transaction

	updateHandlers map[int]func(update []byte, origin any)
	nextHandler    int
}

type transaction struct {
	origin   any
	local    bool
	before   map[*item]snapshot
	inserted map[*item]bool
	ops      []op
}

// snapshot 是字符在事务开始前的可见状态
type snapshot struct {
	deleted bool
	attrs   map[string]any
}

func NewDoc(opts ...Option) *Doc {
	d := &Doc{
		byID:           make(map[ID]*item),
		sv:             make(map[uint64]uint64),
		log:            make(map[uint64][]op),
		updateHandlers: make(map[int]func(update []byte, origin any)),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.clientID == 0 {
		d.clientID = newClientID()
	}
	d.text = newText(d)
	return d
}

func (d *Doc) ClientID() uint64 { return d.clientID }

// Text 返回文档里唯一的共享文本
func (d *Doc) Text() *Text { return d.text }

// Transact 把 fn 里的所有修改合成一个事务：观察者只收到一个事件，更新处理器只收到一个更新。
// 嵌套调用并入最外层事务，origin 以最外层为准。
func (d *Doc) Transact(origin any, fn func()) {
	_ = d.transact(origin, true, func() error {
		fn()
		return nil
	})
}

func (d *Doc) transact(origin any, local bool, fn func() error) error {
	if d.txn != nil {
		return fn()
	}
	d.txn = &transaction{
		origin:   origin,
		local:    local,
		before:   make(map[*item]snapshot),
		inserted: make(map[*item]bool),
	}
	err := fn()
	txn := d.txn
	d.txn = nil
	d.finish(txn)
	return err
}

// finish 在事务清空之后调用，处理器里可以再开新事务
func (d *Doc) finish(txn *transaction) {
	if len(txn.ops) == 0 {
		return
	}
	if ev := d.eventDelta(txn); len(ev) > 0 {
		d.text.emit(&TextEvent{Delta: ev, Origin: txn.origin, Local: txn.local})
	}
	update := encodeUpdate(txn.ops)
	for _, id := range slices.Sorted(maps.Keys(d.updateHandlers)) {
		if h, ok := d.updateHandlers[id]; ok {
			h(update, txn.origin)
		}
	}
}

// OnUpdate 注册更新处理器，在每个集成了新操作的事务结束后调用，update 只包含本次新集成的操作。
// 返回注销函数。
func (d *Doc) OnUpdate(h func(update []byte, origin any)) (remove func()) {
	id := d.nextHandler
	d.nextHandler++
	d.updateHandlers[id] = h
	return func() { delete(d.updateHandlers, id) }
}

// ApplyUpdate 集成远端更新。重复的操作被忽略，依赖缺失的操作留在 pending 里等待。
// 解码失败时不修改任何状态。
func (d *Doc) ApplyUpdate(update []byte, origin any) error {
	ops, err := decodeUpdate(update)
	if err != nil {
		return err
	}
	return d.transact(origin, false, func() error {
		for _, o := range ops {
			if o.id.Clock < d.sv[o.id.Client] {
				continue
			}
			d.pending = append(d.pending, o)
		}
		d.drainPending()
		return nil
	})
}

// EncodeStateVector 编码本副本已集成的各客户端时钟
func (d *Doc) EncodeStateVector() []byte {
	return encodeStateVector(d.sv)
}

// StateVector 返回状态向量的副本
func (d *Doc) StateVector() map[uint64]uint64 {
	return maps.Clone(d.sv)
}

// EncodeStateAsUpdate 编码对方（状态向量 remote）缺少的全部操作，包括本地 pending 的。
// remote 为空时编码整个文档。
func (d *Doc) EncodeStateAsUpdate(remote []byte) ([]byte, error) {
	sv, err := DecodeStateVector(remote)
	if err != nil {
		return nil, err
	}
	var ops []op
	for client, log := range d.log {
		if from := sv[client]; from < uint64(len(log)) {
			ops = append(ops, log[from:]...)
		}
	}
	for _, o := range d.pending {
		if o.id.Clock >= sv[o.id.Client] {
			ops = append(ops, o)
		}
	}
	sortByStamp(ops)
	return encodeUpdate(ops), nil
}

// Pending 返回等待依赖的操作数
func (d *Doc) Pending() int { return len(d.pending) }

// drainPending 按时间戳顺序集成已就绪的操作；因果依赖的 lamport 一定更小，通常一轮就够
func (d *Doc) drainPending() {
	sortByStamp(d.pending)
	for progressed := true; progressed; {
		progressed = false
		rest := d.pending[:0]
		for _, o := range d.pending {
			if o.id.Clock < d.sv[o.id.Client] {
				continue
			}
			if d.ready(o) {
				d.integrate(o)
				progressed = true
				continue
			}
			rest = append(rest, o)
		}
		d.pending = rest
	}
}

func (d *Doc) ready(o op) bool {
	if o.id.Clock != d.sv[o.id.Client] {
		return false
	}
	if o.hasTarget {
		_, ok := d.byID[o.target]
		return ok
	}
	return true
}

// integrate 假设依赖都已满足
func (d *Doc) integrate(o op) {
	switch o.kind {
	case opInsert:
		it := &item{id: o.id, at: o.stamp(), origin: o.target, hasLeft: o.hasTarget, content: o.content}
		for k, v := range o.attrs {
			if it.attrs == nil {
				it.attrs = make(map[string]attr)
			}
			it.attrs[k] = attr{value: v, at: it.at}
		}
		idx := 0
		if o.hasTarget {
			idx = slices.Index(d.items, d.byID[o.target]) + 1
		}
		// 左邻相同的并发插入，时间戳大的排在前面；跳过的子树时间戳一定更大
		for idx < len(d.items) && d.items[idx].at.after(it.at) {
			idx++
		}
		d.items = slices.Insert(d.items, idx, it)
		d.byID[it.id] = it
		d.txn.inserted[it] = true

	case opDelete:
		it := d.byID[o.target]
		d.touch(it)
		it.deleted = true

	case opFormat:
		it := d.byID[o.target]
		d.touch(it)
		if cur, ok := it.attrs[o.key]; !ok || o.stamp().after(cur.at) {
			if it.attrs == nil {
				it.attrs = make(map[string]attr)
			}
			it.attrs[o.key] = attr{value: o.value, at: o.stamp()}
		}
	}
	d.sv[o.id.Client] = o.id.Clock + 1
	d.log[o.id.Client] = append(d.log[o.id.Client], o)
	d.lamport = max(d.lamport, o.lamport)
	d.txn.ops = append(d.txn.ops, o)
}

func (d *Doc) touch(it *item) {
	if d.txn.inserted[it] {
		return
	}
	if _, ok := d.txn.before[it]; ok {
		return
	}
	d.txn.before[it] = snapshot{deleted: it.deleted, attrs: it.visibleAttrs()}
}

// newOp 分配本地客户端的下一个时钟
func (d *Doc) newOp(kind opKind) op {
	d.lamport++
	return op{kind: kind, id: ID{Client: d.clientID, Clock: d.sv[d.clientID]}, lamport: d.lamport}
}

// eventDelta 对比事务前后的可见内容，生成事件 delta
func (d *Doc) eventDelta(txn *transaction) delta.Delta {
	var b delta.Builder
	for _, it := range d.items {
		if txn.inserted[it] {
			if !it.deleted {
				b.Insert(string(it.content), it.visibleAttrs())
			}
			continue
		}
		snap, touched := txn.before[it]
		switch {
		case !touched:
			if !it.deleted {
				b.Retain(1, nil)
			}
		case snap.deleted:
			// 删除不可撤销，之前不可见的现在也不可见
		case it.deleted:
			b.Delete(1)
		default:
			b.Retain(1, attrDiff(snap.attrs, it.visibleAttrs()))
		}
	}
	return b.Delta()
}

// attrDiff 返回 before 到 after 的变化，被去掉的 key 值为 nil
func attrDiff(before, after map[string]any) map[string]any {
	var out map[string]any
	set := func(k string, v any) {
		if out == nil {
			out = make(map[string]any)
		}
		out[k] = v
	}
	for k, v := range after {
		if !sameEffect(before[k], v) {
			set(k, v)
		}
	}
	for k := range before {
		if _, ok := after[k]; !ok {
			set(k, nil)
		}
	}
	return out
}

func sortByStamp(ops []op) {
	slices.SortStableFunc(ops, func(a, b op) int {
		if c := cmp.Compare(a.lamport, b.lamport); c != 0 {
			return c
		}
		if c := cmp.Compare(a.id.Client, b.id.Client); c != 0 {
			return c
		}
		return cmp.Compare(a.id.Clock, b.id.Clock)
	})
}
