// Package richtext 是编辑面的文档模型：带行内 marks 的扁平文本、step、事务与选区。
// 位置从 1 开始，位置 1 在第一个字符之前，N 个字符的文档末尾是 N+1。
package richtext

import (
	"slices"
	"strings"
)

// MarkSet 是有序、去重的 mark 名称集合，按值使用，不要原地修改
type MarkSet []string

func NewMarkSet(marks ...string) MarkSet {
	var s MarkSet
	for _, m := range marks {
		s = s.Add(m)
	}
	return s
}

func (s MarkSet) Has(mark string) bool {
	_, ok := slices.BinarySearch(s, mark)
	return ok
}

// Add 返回加入 mark 后的新集合
func (s MarkSet) Add(mark string) MarkSet {
	i, ok := slices.BinarySearch(s, mark)
	if ok {
		return s
	}
	out := make(MarkSet, 0, len(s)+1)
	out = append(out, s[:i]...)
	out = append(out, mark)
	return append(out, s[i:]...)
}

// Remove 返回去掉 mark 后的新集合
func (s MarkSet) Remove(mark string) MarkSet {
	i, ok := slices.BinarySearch(s, mark)
	if !ok {
		return s
	}
	out := make(MarkSet, 0, len(s)-1)
	out = append(out, s[:i]...)
	return append(out, s[i+1:]...)
}

func (s MarkSet) Equal(o MarkSet) bool {
	return slices.Equal(s, o)
}

func (s MarkSet) String() string {
	return "{" + strings.Join(s, ",") + "}"
}

// Run 是一段 marks 相同的连续文本
type Run struct {
	Text  string
	Marks MarkSet
}

func (r Run) String() string {
	if len(r.Marks) == 0 {
		return r.Text
	}
	return r.Marks.String() + r.Text
}
