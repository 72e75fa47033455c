package binding

import (
	"maps"
	"slices"

	"rteSync/backend/internal/richtext"
)

// 编辑器 mark 名到 CRDT 属性名，未列出的名字原样使用
var markToAttr = map[string]string{
	"strong":   "bold",
	"emphasis": "italic",
	"code":     "monospace",
}

var attrToMark = func() map[string]string {
	m := make(map[string]string, len(markToAttr))
	for mark, key := range markToAttr {
		m[key] = mark
	}
	return m
}()

func ToCrdtKey(mark string) string {
	if key, ok := markToAttr[mark]; ok {
		return key
	}
	return mark
}

func ToMarkType(key string) string {
	if mark, ok := attrToMark[key]; ok {
		return mark
	}
	return key
}

// AttrsForMarks 把 mark 集合转成插入时携带的属性，空集合返回 nil
func AttrsForMarks(marks richtext.MarkSet) map[string]any {
	if len(marks) == 0 {
		return nil
	}
	attrs := make(map[string]any, len(marks))
	for _, m := range marks {
		attrs[ToCrdtKey(m)] = true
	}
	return attrs
}

// MarksForAttrs 取值为 true 的属性对应的 mark，其余值忽略
func MarksForAttrs(attrs map[string]any) richtext.MarkSet {
	var marks richtext.MarkSet
	for _, key := range slices.Sorted(maps.Keys(attrs)) {
		if on, ok := attrs[key].(bool); ok && on {
			marks = marks.Add(ToMarkType(key))
		}
	}
	return marks
}
