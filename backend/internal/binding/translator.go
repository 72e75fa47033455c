package binding

import (
	"fmt"

	"rteSync/backend/internal/crdt"
	"rteSync/backend/internal/ot/delta"
	"rteSync/backend/internal/richtext"
)

// Translator 把编辑器事务的 step 翻译成 CRDT 文本上的 delta
type Translator struct {
	doc    *crdt.Doc
	filter *OriginFilter
}

func NewTranslator(doc *crdt.Doc, filter *OriginFilter) *Translator {
	return &Translator{doc: doc, filter: filter}
}

// Translate 在一个 CRDT 事务里依次应用所有 step，每个 step 的 delta 按当时的文本长度计算。
// 任何 step 类型不支持时什么都不做，返回 ErrUnsupportedStepKind。
func (t *Translator) Translate(steps []richtext.Step) error {
	descs := make([]richtext.StepDescriptor, len(steps))
	for i, s := range steps {
		descs[i] = s.Descriptor()
		switch descs[i].Kind {
		case richtext.StepReplace, richtext.StepAddMark, richtext.StepRemoveMark:
		default:
			return fmt.Errorf("%w: step %d kind %q", ErrUnsupportedStepKind, i, descs[i].Kind)
		}
	}
	if len(descs) == 0 {
		return nil
	}

	var applyErr error
	t.doc.Transact(t.filter.Next(), func() {
		text := t.doc.Text()
		for i, desc := range descs {
			if err := text.ApplyDelta(StepDelta(desc, text.Len())); err != nil {
				applyErr = fmt.Errorf("step %d: %w", i, err)
				return
			}
		}
	})
	return applyErr
}

// StepDelta 计算单个 step 对长度为 length 的序列的 delta。编辑器位置从 1 开始，
// 序列下标从 0 开始；越界的位置收敛到序列两端。
// 组合内容的每个叶子各自生成一个 Insert；mark 类 step 总是带前导 Retain，即使长度为 0。
func StepDelta(desc richtext.StepDescriptor, length int) delta.Delta {
	from := min(max(desc.From-1, 0), length)
	to := min(max(desc.To-1, from), length)

	var d delta.Delta
	switch desc.Kind {
	case richtext.StepReplace:
		if from > 0 {
			d = append(d, delta.Retain(from, nil))
		}
		for _, leaf := range desc.Content.Leaves() {
			d = append(d, delta.Insert(leaf.Text, AttrsForMarks(leaf.Marks)))
		}
		if to > from {
			d = append(d, delta.Delete(to-from))
		}

	case richtext.StepAddMark, richtext.StepRemoveMark:
		if to == from {
			return nil
		}
		on := desc.Kind == richtext.StepAddMark
		d = append(d,
			delta.Retain(from, nil),
			delta.Retain(to-from, map[string]any{ToCrdtKey(desc.MarkType): on}),
		)
	}
	return d
}
