// Package replica 负责副本之间按状态向量差量交换的同步，以及决定何时做全量同步的连接状态机。
package replica

import (
	"fmt"

	"github.com/golang/glog"
)

// Replica 是可以互相同步的 CRDT 副本，*crdt.Doc 满足这个接口
type Replica interface {
	EncodeStateVector() []byte
	EncodeStateAsUpdate(stateVector []byte) ([]byte, error)
	ApplyUpdate(update []byte, origin any) error
}

// syncOrigin 是同步写入时使用的 origin，镜像据此忽略自己引起的更新
type syncOrigin struct{ name string }

func (o *syncOrigin) String() string { return o.name }

// SyncOrigin 标记由 Sync 写入的更新
var SyncOrigin any = &syncOrigin{name: "replica-sync"}

// Sync 在 a 和 b 之间做一轮同步：先取两边的状态向量，再互相补齐缺少的部分。
// 重复调用没有副作用，a、b 的顺序不影响结果。
func Sync(a, b Replica) error {
	svA := a.EncodeStateVector()
	svB := b.EncodeStateVector()

	diffAB, err := a.EncodeStateAsUpdate(svB)
	if err != nil {
		return fmt.Errorf("encode diff a->b: %w", err)
	}
	diffBA, err := b.EncodeStateAsUpdate(svA)
	if err != nil {
		return fmt.Errorf("encode diff b->a: %w", err)
	}

	if len(diffBA) > 0 {
		if err := a.ApplyUpdate(diffBA, SyncOrigin); err != nil {
			return fmt.Errorf("apply diff b->a: %w", err)
		}
	}
	if len(diffAB) > 0 {
		if err := b.ApplyUpdate(diffAB, SyncOrigin); err != nil {
			return fmt.Errorf("apply diff a->b: %w", err)
		}
	}
	glog.V(2).Infof("replica: synced, %d bytes to a, %d bytes to b", len(diffBA), len(diffAB))
	return nil
}
