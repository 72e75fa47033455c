package crdt

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"

	"google.golang.org/protobuf/encoding/protowire"
)

var ErrMalformedUpdate = errors.New("MALFORMED_UPDATE")

/*
线上格式（protobuf wire，无 .proto 文件）

update:       1: repeated bytes  op
state vector: 1: repeated bytes  entry{1: client, 2: clock}

op:
  1 kind     2 client   3 clock    4 lamport
  5 target client       6 target clock         7 has target
  8 content (string，一个字符)
  9 key      10 value   11 repeated attr{1: key, 2: value}

value:
  1 type (0 nil, 1 bool, 2 string, 3 int, 4 float)
  2 bool     3 string   4 int (zigzag)          5 float (fixed64)
*/

const (
	valNil = iota
	valBool
	valString
	valInt
	valFloat
)

func encodeUpdate(ops []op) []byte {
	var b []byte
	for _, o := range ops {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeOp(o))
	}
	return b
}

func encodeOp(o op) []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(o.kind))
	b = appendVarint(b, 2, o.id.Client)
	b = appendVarint(b, 3, o.id.Clock)
	b = appendVarint(b, 4, o.lamport)
	if o.hasTarget {
		b = appendVarint(b, 5, o.target.Client)
		b = appendVarint(b, 6, o.target.Clock)
		b = appendVarint(b, 7, 1)
	}
	switch o.kind {
	case opInsert:
		b = protowire.AppendTag(b, 8, protowire.BytesType)
		b = protowire.AppendString(b, string(o.content))
		// 按 key 排序，保证同样的 op 编码结果一样
		for _, k := range slices.Sorted(maps.Keys(o.attrs)) {
			var e []byte
			e = protowire.AppendTag(e, 1, protowire.BytesType)
			e = protowire.AppendString(e, k)
			e = protowire.AppendTag(e, 2, protowire.BytesType)
			e = protowire.AppendBytes(e, encodeValue(o.attrs[k]))
			b = protowire.AppendTag(b, 11, protowire.BytesType)
			b = protowire.AppendBytes(b, e)
		}
	case opFormat:
		b = protowire.AppendTag(b, 9, protowire.BytesType)
		b = protowire.AppendString(b, o.key)
		b = protowire.AppendTag(b, 10, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeValue(o.value))
	}
	return b
}

func encodeValue(v any) []byte {
	var b []byte
	switch x := v.(type) {
	case bool:
		b = appendVarint(b, 1, valBool)
		b = appendVarint(b, 2, protowire.EncodeBool(x))
	case string:
		b = appendVarint(b, 1, valString)
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendString(b, x)
	case int64:
		b = appendVarint(b, 1, valInt)
		b = appendVarint(b, 4, protowire.EncodeZigZag(x))
	case float64:
		b = appendVarint(b, 1, valFloat)
		b = protowire.AppendTag(b, 5, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(x))
	default:
		b = appendVarint(b, 1, valNil)
	}
	return b
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func decodeUpdate(b []byte) ([]op, error) {
	var ops []op
	err := eachField(b, func(num protowire.Number, typ protowire.Type, v uint64, raw []byte) error {
		if num != 1 || typ != protowire.BytesType {
			return nil
		}
		o, err := decodeOp(raw)
		if err != nil {
			return err
		}
		ops = append(ops, o)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ops, nil
}

func decodeOp(b []byte) (op, error) {
	var o op
	err := eachField(b, func(num protowire.Number, typ protowire.Type, v uint64, raw []byte) error {
		switch num {
		case 1:
			o.kind = opKind(v)
		case 2:
			o.id.Client = v
		case 3:
			o.id.Clock = v
		case 4:
			o.lamport = v
		case 5:
			o.target.Client = v
		case 6:
			o.target.Clock = v
		case 7:
			o.hasTarget = v != 0
		case 8:
			r := []rune(string(raw))
			if len(r) != 1 {
				return fmt.Errorf("%w: insert content %q", ErrMalformedUpdate, raw)
			}
			o.content = r[0]
		case 9:
			o.key = string(raw)
		case 10:
			val, err := decodeValue(raw)
			if err != nil {
				return err
			}
			o.value = val
		case 11:
			k, val, err := decodeAttr(raw)
			if err != nil {
				return err
			}
			if o.attrs == nil {
				o.attrs = make(map[string]any)
			}
			o.attrs[k] = val
		}
		return nil
	})
	if err != nil {
		return op{}, err
	}
	switch o.kind {
	case opInsert:
		if o.content == 0 {
			return op{}, fmt.Errorf("%w: insert %s without content", ErrMalformedUpdate, o.id)
		}
	case opDelete, opFormat:
		if !o.hasTarget {
			return op{}, fmt.Errorf("%w: %s %s without target", ErrMalformedUpdate, o.kind, o.id)
		}
	default:
		return op{}, fmt.Errorf("%w: unknown op kind %d", ErrMalformedUpdate, o.kind)
	}
	return o, nil
}

func decodeAttr(b []byte) (string, any, error) {
	var (
		key string
		val any
	)
	err := eachField(b, func(num protowire.Number, _ protowire.Type, _ uint64, raw []byte) error {
		var err error
		switch num {
		case 1:
			key = string(raw)
		case 2:
			val, err = decodeValue(raw)
		}
		return err
	})
	return key, val, err
}

func decodeValue(b []byte) (any, error) {
	var (
		typ uint64
		bv  bool
		sv  string
		iv  int64
		fv  float64
	)
	err := eachField(b, func(num protowire.Number, _ protowire.Type, v uint64, raw []byte) error {
		switch num {
		case 1:
			typ = v
		case 2:
			bv = protowire.DecodeBool(v)
		case 3:
			sv = string(raw)
		case 4:
			iv = protowire.DecodeZigZag(v)
		case 5:
			fv = math.Float64frombits(v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	switch typ {
	case valNil:
		return nil, nil
	case valBool:
		return bv, nil
	case valString:
		return sv, nil
	case valInt:
		return iv, nil
	case valFloat:
		return fv, nil
	}
	return nil, fmt.Errorf("%w: value type %d", ErrMalformedUpdate, typ)
}

func encodeStateVector(sv map[uint64]uint64) []byte {
	var b []byte
	for _, c := range slices.Sorted(maps.Keys(sv)) {
		var e []byte
		e = appendVarint(e, 1, c)
		e = appendVarint(e, 2, sv[c])
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, e)
	}
	return b
}

// DecodeStateVector 解析状态向量，空输入表示什么都没有
func DecodeStateVector(b []byte) (map[uint64]uint64, error) {
	sv := make(map[uint64]uint64)
	err := eachField(b, func(num protowire.Number, typ protowire.Type, _ uint64, raw []byte) error {
		if num != 1 || typ != protowire.BytesType {
			return nil
		}
		var client, clock uint64
		err := eachField(raw, func(n protowire.Number, _ protowire.Type, v uint64, _ []byte) error {
			switch n {
			case 1:
				client = v
			case 2:
				clock = v
			}
			return nil
		})
		if err != nil {
			return err
		}
		sv[client] = clock
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sv, nil
}

// eachField 顺序遍历一层消息的字段。varint/fixed 字段的值放在 v，bytes 字段放在 raw。
func eachField(b []byte, fn func(num protowire.Number, typ protowire.Type, v uint64, raw []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformedUpdate, protowire.ParseError(n))
		}
		b = b[n:]
		var (
			v   uint64
			raw []byte
		)
		switch typ {
		case protowire.VarintType:
			v, n = protowire.ConsumeVarint(b)
		case protowire.Fixed64Type:
			v, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			raw, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrMalformedUpdate, num, protowire.ParseError(n))
		}
		b = b[n:]
		if err := fn(num, typ, v, raw); err != nil {
			return err
		}
	}
	return nil
}
