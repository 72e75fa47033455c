// Package crdt 实现一个字符级的可复制序列（RGA），带按 key 最后写入者胜出的属性。
//
// 每个客户端的操作时钟从 0 开始连续递增；状态向量记录每个客户端已集成到的时钟。
// 更新是自描述的操作列表，可以乱序、重复到达：依赖未满足的操作先进入 pending，
// 已集成的操作被忽略。
package crdt

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// ID 唯一标识一个操作（插入操作同时标识它插入的字符）
type ID struct {
	Client uint64
	Clock  uint64
}

func (id ID) String() string { return fmt.Sprintf("%d:%d", id.Client, id.Clock) }

// stamp 是全序时间戳：先比 lamport，再比 client
type stamp struct {
	lamport uint64
	client  uint64
}

func (s stamp) after(o stamp) bool {
	if s.lamport != o.lamport {
		return s.lamport > o.lamport
	}
	return s.client > o.client
}

type attr struct {
	value any
	at    stamp
}

type item struct {
	id      ID
	at      stamp
	origin  ID
	hasLeft bool
	content rune
	deleted bool
	attrs   map[string]attr
}

// visibleAttrs 返回生效的属性，false/nil 视为未设置
func (it *item) visibleAttrs() map[string]any {
	var out map[string]any
	for k, a := range it.attrs {
		if unset(a.value) {
			continue
		}
		if out == nil {
			out = make(map[string]any)
		}
		out[k] = a.value
	}
	return out
}

// newClientID 从随机 uuid 取 8 个字节作为客户端 id
func newClientID() uint64 {
	u := uuid.New()
	return binary.BigEndian.Uint64(u[:8])
}
