package crdt

import (
	"errors"
	"fmt"
)

var ErrUnsupportedValue = errors.New("UNSUPPORTED_ATTR_VALUE")

// normalizeValue 把属性值收敛到可编码的类型：nil、bool、string、int64、float64
func normalizeValue(v any) (any, error) {
	switch x := v.(type) {
	case nil, bool, string, int64, float64:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case float32:
		return float64(x), nil
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
}

// unset 判断属性值是否等价于未设置
func unset(v any) bool {
	if v == nil {
		return true
	}
	b, ok := v.(bool)
	return ok && !b
}

// sameEffect 判断两个值对外表现是否一致
func sameEffect(a, b any) bool {
	if unset(a) || unset(b) {
		return unset(a) && unset(b)
	}
	return a == b
}
