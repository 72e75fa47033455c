package delta

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

type Kind string

const (
	KindRetain Kind = "retain"
	KindInsert Kind = "insert"
	KindDelete Kind = "delete"
)

// ErrMalformedOp 表示条目字段缺失或互相矛盾
var ErrMalformedOp = errors.New("MALFORMED_OP")

type Op struct {
	Kind  Kind           `json:"kind"`            // "retain" / "insert" / "delete"
	Count int            `json:"count,omitempty"` // retain/delete 的长度
	Text  string         `json:"text,omitempty"`  // insert 的文本
	Attrs map[string]any `json:"attrs,omitempty"` // 样式属性（bold / italic 等）
}

type Delta []Op

// "ops":[{"kind":"retain","count":5},{"kind":"insert","text":"Hello"}]

func Retain(n int, attrs map[string]any) Op {
	return Op{Kind: KindRetain, Count: n, Attrs: attrs}
}

func Insert(text string, attrs map[string]any) Op {
	return Op{Kind: KindInsert, Text: text, Attrs: attrs}
}

func Delete(n int) Op {
	return Op{Kind: KindDelete, Count: n}
}

// Len 返回条目覆盖的字符数（按 rune 计）
func (op Op) Len() int {
	if op.Kind == KindInsert {
		return utf8.RuneCountInString(op.Text)
	}
	return op.Count
}

// Validate 检查单个条目是否自洽。Retain(0) 合法（标记操作会产生它）。
func (op Op) Validate() error {
	switch op.Kind {
	case KindRetain:
		if op.Count < 0 || op.Text != "" {
			return fmt.Errorf("%w: retain count=%d text=%q", ErrMalformedOp, op.Count, op.Text)
		}
	case KindInsert:
		if op.Text == "" || op.Count != 0 {
			return fmt.Errorf("%w: insert text=%q count=%d", ErrMalformedOp, op.Text, op.Count)
		}
	case KindDelete:
		if op.Count <= 0 || op.Text != "" || len(op.Attrs) > 0 {
			return fmt.Errorf("%w: delete count=%d", ErrMalformedOp, op.Count)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrMalformedOp, op.Kind)
	}
	return nil
}

func (op Op) String() string {
	switch op.Kind {
	case KindRetain:
		if len(op.Attrs) > 0 {
			return fmt.Sprintf("Retain(%d,%v)", op.Count, op.Attrs)
		}
		return fmt.Sprintf("Retain(%d)", op.Count)
	case KindInsert:
		if len(op.Attrs) > 0 {
			return fmt.Sprintf("Insert(%q,%v)", op.Text, op.Attrs)
		}
		return fmt.Sprintf("Insert(%q)", op.Text)
	case KindDelete:
		return fmt.Sprintf("Delete(%d)", op.Count)
	}
	return fmt.Sprintf("Op(%s)", op.Kind)
}

func (d Delta) String() string {
	parts := make([]string, len(d))
	for i, op := range d {
		parts[i] = op.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
