package richtext

import (
	"errors"
	"fmt"
	"strings"
)

var ErrRangeOutOfBounds = errors.New("RANGE_OUT_OF_BOUNDS")

// Document 是只读使用的文档快照；修改总是作用在 Transaction 持有的副本上
type Document struct {
	pt *PieceTable
}

func NewDocument(runs ...Run) *Document {
	d := &Document{pt: NewPieceTable("")}
	pos := 0
	for _, r := range runs {
		d.pt.insert(pos, r.Text, r.Marks)
		pos += len([]rune(r.Text))
	}
	return d
}

func FromText(text string) *Document {
	return &Document{pt: NewPieceTable(text)}
}

// Len 返回字符数，合法位置是 [1, Len()+1]
func (d *Document) Len() int { return d.pt.Len() }

// End 返回文档末尾位置
func (d *Document) End() int { return d.pt.Len() + 1 }

func (d *Document) Text() string { return d.pt.String() }

func (d *Document) Runs() []Run { return d.pt.Runs() }

// MarksAt 返回位置 pos 之后那个字符的 marks
func (d *Document) MarksAt(pos int) MarkSet {
	return d.pt.MarksAt(pos - 1)
}

// Slice 取出 [from, to) 的内容
func (d *Document) Slice(from, to int) (Slice, error) {
	if err := d.checkRange(from, to); err != nil {
		return Slice{}, err
	}
	var frags []Fragment
	pos := 1
	for _, r := range d.Runs() {
		rr := []rune(r.Text)
		start, end := max(from, pos), min(to, pos+len(rr))
		if start < end {
			frags = append(frags, Fragment{Text: string(rr[start-pos : end-pos]), Marks: r.Marks})
		}
		pos += len(rr)
	}
	return Slice{Content: frags}, nil
}

func (d *Document) Equal(o *Document) bool {
	return RunsEqual(d.Runs(), o.Runs())
}

func (d *Document) String() string {
	parts := make([]string, 0)
	for _, r := range d.Runs() {
		parts = append(parts, r.String())
	}
	return strings.Join(parts, "")
}

// ClampPos 把位置收敛到 [1, End()]
func (d *Document) ClampPos(pos int) int {
	return min(max(pos, 1), d.End())
}

func (d *Document) clone() *Document {
	return &Document{pt: d.pt.Clone()}
}

func (d *Document) checkRange(from, to int) error {
	if from < 1 || to < from || to > d.End() {
		return fmt.Errorf("%w: [%d,%d) in document of length %d", ErrRangeOutOfBounds, from, to, d.Len())
	}
	return nil
}

// RunsEqual 比较两组 run 表示的内容是否一致（忽略拆分方式）
func RunsEqual(a, b []Run) bool {
	na, nb := normalizeRuns(a), normalizeRuns(b)
	if len(na) != len(nb) {
		return false
	}
	for i := range na {
		if na[i].Text != nb[i].Text || !na[i].Marks.Equal(nb[i].Marks) {
			return false
		}
	}
	return true
}

func normalizeRuns(runs []Run) []Run {
	var out []Run
	for _, r := range runs {
		if r.Text == "" {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Marks.Equal(r.Marks) {
			out[n-1].Text += r.Text
			continue
		}
		out = append(out, r)
	}
	return out
}
