package binding

import "errors"

var (
	// 步骤类型无法翻译，整个事务被拒绝
	ErrUnsupportedStepKind = errors.New("UNSUPPORTED_STEP_KIND")
	// delta 条目不合法，跳过该条目
	ErrMalformedDelta   = errors.New("MALFORMED_DELTA")
	ErrBindingDestroyed = errors.New("BINDING_DESTROYED")
)
