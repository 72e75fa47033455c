package crdt

import "fmt"

type opKind uint8

const (
	opInsert opKind = iota + 1
	opDelete
	opFormat
)

func (k opKind) String() string {
	switch k {
	case opInsert:
		return "insert"
	case opDelete:
		return "delete"
	case opFormat:
		return "format"
	}
	return fmt.Sprintf("op(%d)", uint8(k))
}

// op 是更新里传输的最小单位，每个 op 占用发起客户端的一个时钟
//
//	insert: target 是左邻字符（hasTarget=false 表示插在开头），content 是一个字符
//	delete: target 是被删除的字符
//	format: target 是被设置属性的字符，key/value 是属性
type op struct {
	kind      opKind
	id        ID
	lamport   uint64
	target    ID
	hasTarget bool
	content   rune
	attrs     map[string]any
	key       string
	value     any
}

func (o op) stamp() stamp { return stamp{lamport: o.lamport, client: o.id.Client} }

func (o op) String() string {
	switch o.kind {
	case opInsert:
		if o.hasTarget {
			return fmt.Sprintf("insert(%s after %s %q)", o.id, o.target, o.content)
		}
		return fmt.Sprintf("insert(%s at start %q)", o.id, o.content)
	case opDelete:
		return fmt.Sprintf("delete(%s of %s)", o.id, o.target)
	case opFormat:
		return fmt.Sprintf("format(%s of %s %s=%v)", o.id, o.target, o.key, o.value)
	}
	return o.kind.String()
}
