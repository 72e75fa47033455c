package crdt

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"rteSync/backend/internal/ot/delta"
)

// TextEvent 描述一次事务对文本的可见修改。Local 为 false 表示修改来自 ApplyUpdate。
type TextEvent struct {
	Delta  delta.Delta
	Origin any
	Local  bool
}

// Text 是共享文本，下标从 0 开始
type Text struct {
	doc       *Doc
	observers map[int]func(*TextEvent)
	nextID    int
}

func newText(doc *Doc) *Text {
	return &Text{doc: doc, observers: make(map[int]func(*TextEvent))}
}

func (t *Text) Len() int {
	n := 0
	for _, it := range t.doc.items {
		if !it.deleted {
			n++
		}
	}
	return n
}

func (t *Text) String() string {
	var sb strings.Builder
	for _, it := range t.doc.items {
		if !it.deleted {
			sb.WriteRune(it.content)
		}
	}
	return sb.String()
}

// ToDelta 返回只由 insert 组成的完整内容
func (t *Text) ToDelta() delta.Delta {
	var b delta.Builder
	for _, it := range t.doc.items {
		if !it.deleted {
			b.Insert(string(it.content), it.visibleAttrs())
		}
	}
	return b.Delta()
}

// Observe 注册文本观察者，返回注销函数
func (t *Text) Observe(fn func(*TextEvent)) (unobserve func()) {
	id := t.nextID
	t.nextID++
	t.observers[id] = fn
	return func() { delete(t.observers, id) }
}

func (t *Text) emit(ev *TextEvent) {
	for _, id := range slices.Sorted(maps.Keys(t.observers)) {
		if fn, ok := t.observers[id]; ok {
			fn(ev)
		}
	}
}

// Insert 在 index 处插入文本，index 越界时收敛到两端
func (t *Text) Insert(index int, text string, attrs map[string]any) error {
	norm, err := normalizeAttrs(attrs)
	if err != nil {
		return err
	}
	t.local(func() { t.insert(index, text, norm) })
	return nil
}

// Delete 删除 [index, index+n)，超出部分忽略
func (t *Text) Delete(index, n int) {
	t.local(func() { t.delete(index, n) })
}

// Format 给 [index, index+n) 设置属性，值为 nil/false 表示去掉
func (t *Text) Format(index, n int, attrs map[string]any) error {
	norm, err := normalizeAttrs(attrs)
	if err != nil {
		return err
	}
	t.local(func() { t.format(index, n, norm) })
	return nil
}

// ApplyDelta 在一个事务里应用 delta。先整体校验，任何条目不合法都不做修改；
// 超出文本长度的 retain/delete 被截断。
func (t *Text) ApplyDelta(d delta.Delta) error {
	attrs := make([]map[string]any, len(d))
	for i, op := range d {
		if err := op.Validate(); err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
		norm, err := normalizeAttrs(op.Attrs)
		if err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
		attrs[i] = norm
	}
	t.local(func() {
		cursor := 0
		for i, op := range d {
			switch op.Kind {
			case delta.KindRetain:
				n := min(op.Count, t.Len()-cursor)
				if len(attrs[i]) > 0 {
					t.format(cursor, n, attrs[i])
				}
				cursor += max(n, 0)
			case delta.KindInsert:
				t.insert(cursor, op.Text, attrs[i])
				cursor += op.Len()
			case delta.KindDelete:
				t.delete(cursor, op.Count)
			}
		}
	})
	return nil
}

// local 保证修改在事务里进行，已在事务中时直接执行
func (t *Text) local(fn func()) {
	t.doc.Transact(nil, fn)
}

func (t *Text) insert(index int, text string, attrs map[string]any) {
	d := t.doc
	index = min(max(index, 0), t.Len())
	var left *item
	if index > 0 {
		left = t.visible(index - 1)
	}
	for _, r := range text {
		o := d.newOp(opInsert)
		o.content = r
		o.attrs = attrs
		if left != nil {
			o.target, o.hasTarget = left.id, true
		}
		d.integrate(o)
		left = d.byID[o.id]
	}
}

func (t *Text) delete(index, n int) {
	d := t.doc
	for _, it := range t.visibleRange(index, n) {
		o := d.newOp(opDelete)
		o.target, o.hasTarget = it.id, true
		d.integrate(o)
	}
}

func (t *Text) format(index, n int, attrs map[string]any) {
	d := t.doc
	items := t.visibleRange(index, n)
	for _, k := range slices.Sorted(maps.Keys(attrs)) {
		v := attrs[k]
		for _, it := range items {
			if cur, ok := it.attrs[k]; ok && cur.value == v {
				continue
			}
			o := d.newOp(opFormat)
			o.target, o.hasTarget = it.id, true
			o.key, o.value = k, v
			d.integrate(o)
		}
	}
}

// visible 返回第 index 个可见字符
func (t *Text) visible(index int) *item {
	n := 0
	for _, it := range t.doc.items {
		if it.deleted {
			continue
		}
		if n == index {
			return it
		}
		n++
	}
	return nil
}

func (t *Text) visibleRange(index, n int) []*item {
	if n <= 0 {
		return nil
	}
	index = max(index, 0)
	var out []*item
	pos := 0
	for _, it := range t.doc.items {
		if it.deleted {
			continue
		}
		if pos >= index+n {
			break
		}
		if pos >= index {
			out = append(out, it)
		}
		pos++
	}
	return out
}

func normalizeAttrs(attrs map[string]any) (map[string]any, error) {
	if len(attrs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		norm, err := normalizeValue(v)
		if err != nil {
			return nil, fmt.Errorf("attr %q: %w", k, err)
		}
		out[k] = norm
	}
	return out, nil
}
