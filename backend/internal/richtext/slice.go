package richtext

import (
	"strings"
	"unicode/utf8"
)

// Fragment 是切片内容树上的一个节点。没有 Children 的是叶子文本；
// 有 Children 的是组合节点，自身的 Text 不计入内容。
type Fragment struct {
	Text     string
	Marks    MarkSet
	Children []Fragment
}

func (f Fragment) IsLeaf() bool { return len(f.Children) == 0 }

// Slice 是 ReplaceStep 插入的内容
type Slice struct {
	Content []Fragment
}

func TextSlice(text string, marks ...string) Slice {
	if text == "" {
		return Slice{}
	}
	return Slice{Content: []Fragment{{Text: text, Marks: NewMarkSet(marks...)}}}
}

// Leaves 递归展开为按顺序排列的叶子 run，跳过空文本
func (s Slice) Leaves() []Run {
	var out []Run
	var walk func(frags []Fragment)
	walk = func(frags []Fragment) {
		for _, f := range frags {
			if !f.IsLeaf() {
				walk(f.Children)
				continue
			}
			if f.Text != "" {
				out = append(out, Run{Text: f.Text, Marks: f.Marks})
			}
		}
	}
	walk(s.Content)
	return out
}

func (s Slice) Size() int {
	n := 0
	for _, r := range s.Leaves() {
		n += utf8.RuneCountInString(r.Text)
	}
	return n
}

func (s Slice) Text() string {
	var sb strings.Builder
	for _, r := range s.Leaves() {
		sb.WriteString(r.Text)
	}
	return sb.String()
}
