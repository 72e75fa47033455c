package delta

import "maps"

// Builder 追加条目时合并相邻的同类条目，用于生成紧凑的 delta
type Builder struct {
	ops Delta
}

func (b *Builder) Retain(n int, attrs map[string]any) {
	if n <= 0 {
		return
	}
	if last := b.last(); last != nil && last.Kind == KindRetain && maps.Equal(last.Attrs, attrs) {
		last.Count += n
		return
	}
	b.ops = append(b.ops, Retain(n, attrs))
}

func (b *Builder) Insert(text string, attrs map[string]any) {
	if text == "" {
		return
	}
	if last := b.last(); last != nil && last.Kind == KindInsert && maps.Equal(last.Attrs, attrs) {
		last.Text += text
		return
	}
	b.ops = append(b.ops, Insert(text, attrs))
}

func (b *Builder) Delete(n int) {
	if n <= 0 {
		return
	}
	if last := b.last(); last != nil && last.Kind == KindDelete {
		last.Count += n
		return
	}
	b.ops = append(b.ops, Delete(n))
}

// Delta 返回结果，末尾不带属性的 retain 会被去掉
func (b *Builder) Delta() Delta {
	ops := b.ops
	for len(ops) > 0 {
		last := ops[len(ops)-1]
		if last.Kind != KindRetain || len(last.Attrs) > 0 {
			break
		}
		ops = ops[:len(ops)-1]
	}
	return ops
}

func (b *Builder) last() *Op {
	if len(b.ops) == 0 {
		return nil
	}
	return &b.ops[len(b.ops)-1]
}
