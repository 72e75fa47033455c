package delta

import (
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestOp_Validate(t *testing.T) {
	cases := []struct {
		name string
		op   Op
		ok   bool
	}{
		{"retain zero", Retain(0, nil), true},
		{"retain attrs", Retain(2, map[string]any{"bold": true}), true},
		{"retain negative", Op{Kind: KindRetain, Count: -1}, false},
		{"insert", Insert("Hi", nil), true},
		{"insert empty", Op{Kind: KindInsert}, false},
		{"insert with count", Op{Kind: KindInsert, Text: "a", Count: 3}, false},
		{"delete", Delete(2), true},
		{"delete zero", Op{Kind: KindDelete}, false},
		{"delete with text", Op{Kind: KindDelete, Count: 1, Text: "x"}, false},
		{"unknown", Op{Kind: "replace", Count: 1}, false},
	}
	for _, c := range cases {
		err := c.op.Validate()
		if c.ok && err != nil {
			t.Fatalf("%s: Validate() = %v, want nil", c.name, err)
		}
		if !c.ok && !errors.Is(err, ErrMalformedOp) {
			t.Fatalf("%s: Validate() = %v, want ErrMalformedOp", c.name, err)
		}
	}
}

func TestOp_Len(t *testing.T) {
	assert.Equal(t, 3, Insert("你好!", nil).Len())
	assert.Equal(t, 4, Retain(4, nil).Len())
	assert.Equal(t, 2, Delete(2).Len())
}

func TestBuilder_Merges(t *testing.T) {
	var b Builder
	b.Retain(1, nil)
	b.Retain(2, nil)
	b.Insert("a", map[string]any{"bold": true})
	b.Insert("b", map[string]any{"bold": true})
	b.Insert("c", nil)
	b.Delete(1)
	b.Delete(2)
	b.Retain(5, nil)

	want := Delta{
		Retain(3, nil),
		Insert("ab", map[string]any{"bold": true}),
		Insert("c", nil),
		Delete(3),
	}
	assert.Equal(t, want.String(), b.Delta().String())
}

func TestBuilder_KeepsTrailingFormat(t *testing.T) {
	var b Builder
	b.Retain(2, map[string]any{"italic": true})
	assert.Equal(t, "[Retain(2,map[italic:true])]", b.Delta().String())
}
