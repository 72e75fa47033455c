package richtext

import "fmt"

type StepKind string

const (
	StepReplace    StepKind = "replace"
	StepAddMark    StepKind = "addMark"
	StepRemoveMark StepKind = "removeMark"
)

// StepDescriptor 是 step 的扁平描述，供编辑面以外的组件（例如同步层）读取
type StepDescriptor struct {
	Kind     StepKind
	From     int
	To       int
	Content  Slice  // replace
	MarkType string // addMark / removeMark
}

// Step 是一次原子修改。Apply 直接修改传入的文档（事务内部的副本），
// 返回的 StepMap 用来把旧位置映射到新位置。
type Step interface {
	Apply(doc *Document) (StepMap, error)
	Descriptor() StepDescriptor
}

// ReplaceStep 用 Slice 替换 [From, To)
type ReplaceStep struct {
	From, To int
	Slice    Slice
}

func (s ReplaceStep) Apply(doc *Document) (StepMap, error) {
	if err := doc.checkRange(s.From, s.To); err != nil {
		return StepMap{}, err
	}
	doc.pt.delete(s.From-1, s.To-s.From)
	pos := s.From - 1
	for _, r := range s.Slice.Leaves() {
		doc.pt.insert(pos, r.Text, r.Marks)
		pos += len([]rune(r.Text))
	}
	return StepMap{Start: s.From, OldSize: s.To - s.From, NewSize: s.Slice.Size()}, nil
}

func (s ReplaceStep) Descriptor() StepDescriptor {
	return StepDescriptor{Kind: StepReplace, From: s.From, To: s.To, Content: s.Slice}
}

func (s ReplaceStep) String() string {
	return fmt.Sprintf("Replace(%d,%d,%q)", s.From, s.To, s.Slice.Text())
}

type AddMarkStep struct {
	From, To int
	Mark     string
}

func (s AddMarkStep) Apply(doc *Document) (StepMap, error) {
	if err := doc.checkRange(s.From, s.To); err != nil {
		return StepMap{}, err
	}
	doc.pt.setMark(s.From-1, s.To-1, s.Mark, true)
	return StepMap{}, nil
}

func (s AddMarkStep) Descriptor() StepDescriptor {
	return StepDescriptor{Kind: StepAddMark, From: s.From, To: s.To, MarkType: s.Mark}
}

func (s AddMarkStep) String() string {
	return fmt.Sprintf("AddMark(%d,%d,%s)", s.From, s.To, s.Mark)
}

type RemoveMarkStep struct {
	From, To int
	Mark     string
}

func (s RemoveMarkStep) Apply(doc *Document) (StepMap, error) {
	if err := doc.checkRange(s.From, s.To); err != nil {
		return StepMap{}, err
	}
	doc.pt.setMark(s.From-1, s.To-1, s.Mark, false)
	return StepMap{}, nil
}

func (s RemoveMarkStep) Descriptor() StepDescriptor {
	return StepDescriptor{Kind: StepRemoveMark, From: s.From, To: s.To, MarkType: s.Mark}
}

func (s RemoveMarkStep) String() string {
	return fmt.Sprintf("RemoveMark(%d,%d,%s)", s.From, s.To, s.Mark)
}
