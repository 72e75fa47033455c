package richtext

import (
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"rteSync/backend/internal/ot/delta"
)

// Buffer 抽象文档内容缓冲区接口
type Buffer interface {
	Len() int
	Apply(d delta.Delta) error
	String() string
}

/*
结构示例

初始文档内容 `"Hello world"`：

- original buffer 内容：`"Hello world"`
- add buffer 为空
- piece 表：[ (orig, offset=0, length=11, marks={}) ]

把 [0,5) 加粗后：

[
  (orig, offset=0, length=5, marks={strong}),  // "Hello"
  (orig, offset=5, length=6, marks={}),        // " world"
]

在位置 5 插入 `"!"`：add buffer 末尾追加 `"!"`，piece 表变成三条。
*/

type bufferKind int

const (
	bufOriginal bufferKind = iota
	bufAdd
)

type piece struct {
	// 指针标签，表示从 original 还是 add 切片上偏移
	buf    bufferKind
	offset int
	length int
	marks  MarkSet
}

// PieceTable 内部位置从 0 开始
type PieceTable struct {
	// 原始文本切片
	original []rune
	// 新增文本切片，只追加
	add []rune
	// 分片列表
	pieces []piece
}

func NewPieceTable(initial string) *PieceTable {
	r := []rune(initial)
	pt := &PieceTable{original: r}
	if len(r) > 0 {
		pt.pieces = []piece{{buf: bufOriginal, offset: 0, length: len(r)}}
	}
	return pt
}

func (pt *PieceTable) Len() int {
	n := 0
	for _, p := range pt.pieces {
		n += p.length
	}
	return n
}

func (pt *PieceTable) String() string {
	var sb strings.Builder
	for _, p := range pt.pieces {
		sb.WriteString(string(pt.text(p)))
	}
	return sb.String()
}

// Runs 按 marks 合并相邻分片
func (pt *PieceTable) Runs() []Run {
	var runs []Run
	for _, p := range pt.pieces {
		if p.length == 0 {
			continue
		}
		if n := len(runs); n > 0 && runs[n-1].Marks.Equal(p.marks) {
			runs[n-1].Text += string(pt.text(p))
			continue
		}
		runs = append(runs, Run{Text: string(pt.text(p)), Marks: p.marks})
	}
	return runs
}

// MarksAt 返回第 pos 个字符（从 0 开始）的 marks
func (pt *PieceTable) MarksAt(pos int) MarkSet {
	idx, _ := pt.locate(pos)
	if idx >= len(pt.pieces) {
		return nil
	}
	return pt.pieces[idx].marks
}

// Clone 复制分片列表；两个缓冲区只追加，截断容量后 append 会重新分配，互不影响
func (pt *PieceTable) Clone() *PieceTable {
	return &PieceTable{
		original: pt.original[:len(pt.original):len(pt.original)],
		add:      pt.add[:len(pt.add):len(pt.add)],
		pieces:   slices.Clone(pt.pieces),
	}
}

// Apply 把 delta 直接作用在缓冲区上，属性 key 原样当作 mark 名，
// 属性值为 true 时加上，false/nil 时去掉。
func (pt *PieceTable) Apply(d delta.Delta) error {
	pos := 0
	//retain: 向前移动 pos，带属性时给这一段设置 mark；
	//insert: 在当前 pos 插入；
	//delete: 在当前 pos 删除（通过拆分/移除 piece）。
	for _, op := range d {
		if err := op.Validate(); err != nil {
			return err
		}
		switch op.Kind {
		case delta.KindRetain:
			end := pos + op.Count
			if end > pt.Len() {
				return fmt.Errorf("retain past end: %d > %d", end, pt.Len())
			}
			for key, v := range op.Attrs {
				on, _ := v.(bool)
				pt.setMark(pos, end, key, on)
			}
			pos = end

		case delta.KindInsert:
			if pos > pt.Len() {
				return fmt.Errorf("insert past end: %d > %d", pos, pt.Len())
			}
			var marks MarkSet
			for key, v := range op.Attrs {
				if on, _ := v.(bool); on {
					marks = marks.Add(key)
				}
			}
			pt.insert(pos, op.Text, marks)
			pos += utf8.RuneCountInString(op.Text)

		case delta.KindDelete:
			n := min(op.Count, pt.Len()-pos)
			pt.delete(pos, n)
		}
	}
	return nil
}

func (pt *PieceTable) insert(pos int, text string, marks MarkSet) {
	r := []rune(text)
	if len(r) == 0 {
		return
	}
	start := len(pt.add)
	pt.add = append(pt.add, r...)
	idx := pt.split(pos)
	pt.pieces = slices.Insert(pt.pieces, idx, piece{buf: bufAdd, offset: start, length: len(r), marks: marks})
	pt.compact()
}

func (pt *PieceTable) delete(pos, n int) {
	if n <= 0 {
		return
	}
	i := pt.split(pos)
	j := pt.split(pos + n)
	pt.pieces = slices.Delete(pt.pieces, i, j)
	pt.compact()
}

func (pt *PieceTable) setMark(from, to int, mark string, on bool) {
	if from >= to {
		return
	}
	i := pt.split(from)
	j := pt.split(to)
	for k := i; k < j; k++ {
		if on {
			pt.pieces[k].marks = pt.pieces[k].marks.Add(mark)
		} else {
			pt.pieces[k].marks = pt.pieces[k].marks.Remove(mark)
		}
	}
	pt.compact()
}

// split 保证 pos 处有分片边界，返回从 pos 开始的分片下标
func (pt *PieceTable) split(pos int) int {
	idx, offset := pt.locate(pos)
	if idx >= len(pt.pieces) || offset == 0 {
		return idx
	}
	cur := pt.pieces[idx]
	left := piece{buf: cur.buf, offset: cur.offset, length: offset, marks: cur.marks}
	right := piece{buf: cur.buf, offset: cur.offset + offset, length: cur.length - offset, marks: cur.marks}
	pt.pieces[idx] = left
	pt.pieces = slices.Insert(pt.pieces, idx+1, right)
	return idx + 1
}

// compact 合并同一缓冲区内连续且 marks 相同的分片，去掉空分片
func (pt *PieceTable) compact() {
	out := pt.pieces[:0]
	for _, p := range pt.pieces {
		if p.length == 0 {
			continue
		}
		if n := len(out); n > 0 {
			prev := &out[n-1]
			if prev.buf == p.buf && prev.offset+prev.length == p.offset && prev.marks.Equal(p.marks) {
				prev.length += p.length
				continue
			}
		}
		out = append(out, p)
	}
	pt.pieces = out
}

func (pt *PieceTable) text(p piece) []rune {
	switch p.buf {
	case bufOriginal:
		return pt.original[p.offset : p.offset+p.length]
	case bufAdd:
		return pt.add[p.offset : p.offset+p.length]
	}
	return nil
}

// 根据逻辑位置 pos，找到对应的 piece 下标 idx 和在该 piece 内的偏移 offset
func (pt *PieceTable) locate(pos int) (idx int, offset int) {
	cur := 0
	for i, p := range pt.pieces {
		if pos < cur+p.length {
			return i, pos - cur
		}
		cur += p.length
	}
	return len(pt.pieces), 0
}
