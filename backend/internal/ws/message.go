package ws

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

var ErrMalformedFrame = errors.New("MALFORMED_FRAME")

type FrameType uint8

// 同步握手：连接建立后双方各发一个 SyncStep1（自己的状态向量），
// 收到 SyncStep1 的一方回复 SyncStep2（对方缺少的更新）。之后的增量修改都用 Update。
const (
	FrameSyncStep1 FrameType = iota + 1
	FrameSyncStep2
	FrameUpdate
	FrameError
)

func (t FrameType) String() string {
	switch t {
	case FrameSyncStep1:
		return "sync_step_1"
	case FrameSyncStep2:
		return "sync_step_2"
	case FrameUpdate:
		return "update"
	case FrameError:
		return "error"
	}
	return fmt.Sprintf("frame(%d)", uint8(t))
}

// Frame 是 websocket 上的一个二进制消息。Payload 对传输层不透明。
type Frame struct {
	Type    FrameType
	Room    string
	Payload []byte
}

// 字段：1 type，2 room，3 payload
func (f Frame) Encode() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Type))
	if f.Room != "" {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, f.Room)
	}
	if len(f.Payload) > 0 {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, f.Payload)
	}
	return b
}

func DecodeFrame(b []byte) (Frame, error) {
	var f Frame
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return Frame{}, fmt.Errorf("%w: type: %v", ErrMalformedFrame, protowire.ParseError(m))
			}
			f.Type = FrameType(v)
			n = m
		case num == 2 && typ == protowire.BytesType:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return Frame{}, fmt.Errorf("%w: room: %v", ErrMalformedFrame, protowire.ParseError(m))
			}
			f.Room = v
			n = m
		case num == 3 && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return Frame{}, fmt.Errorf("%w: payload: %v", ErrMalformedFrame, protowire.ParseError(m))
			}
			f.Payload = append([]byte(nil), v...)
			n = m
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Frame{}, fmt.Errorf("%w: field %d: %v", ErrMalformedFrame, num, protowire.ParseError(n))
			}
		}
		b = b[n:]
	}
	if f.Type < FrameSyncStep1 || f.Type > FrameError {
		return Frame{}, fmt.Errorf("%w: unknown type %d", ErrMalformedFrame, f.Type)
	}
	return f, nil
}
