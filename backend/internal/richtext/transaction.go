package richtext

// Transaction 收集一组 step，作为一个整体被 State.Apply 应用。
// InsertText 等方法可以链式调用，第一个失败的 step 记录在 Err 里，之后的调用被忽略。
type Transaction struct {
	before  *Document
	doc     *Document
	steps   []Step
	mapping Mapping

	selection    Selection
	selectionSet bool

	meta map[string]any
	err  error
}

func newTransaction(doc *Document) *Transaction {
	return &Transaction{before: doc, doc: doc.clone()}
}

// Step 应用一个 step 到事务的工作文档
func (tr *Transaction) Step(step Step) error {
	if tr.err != nil {
		return tr.err
	}
	m, err := step.Apply(tr.doc)
	if err != nil {
		tr.err = err
		return err
	}
	tr.steps = append(tr.steps, step)
	tr.mapping = append(tr.mapping, m)
	return nil
}

// InsertText 在 pos 处插入带 marks 的文本
func (tr *Transaction) InsertText(text string, pos int, marks ...string) *Transaction {
	if text == "" {
		return tr
	}
	_ = tr.Step(ReplaceStep{From: pos, To: pos, Slice: TextSlice(text, marks...)})
	return tr
}

func (tr *Transaction) Delete(from, to int) *Transaction {
	if from == to {
		return tr
	}
	_ = tr.Step(ReplaceStep{From: from, To: to})
	return tr
}

func (tr *Transaction) Replace(from, to int, slice Slice) *Transaction {
	_ = tr.Step(ReplaceStep{From: from, To: to, Slice: slice})
	return tr
}

func (tr *Transaction) AddMark(from, to int, mark string) *Transaction {
	_ = tr.Step(AddMarkStep{From: from, To: to, Mark: mark})
	return tr
}

func (tr *Transaction) RemoveMark(from, to int, mark string) *Transaction {
	_ = tr.Step(RemoveMarkStep{From: from, To: to, Mark: mark})
	return tr
}

// SetSelection 显式指定事务结束后的选区，覆盖默认的选区移动
func (tr *Transaction) SetSelection(anchor, head int) *Transaction {
	tr.selection = Selection{Anchor: anchor, Head: head}
	tr.selectionSet = true
	return tr
}

func (tr *Transaction) SetMeta(key string, value any) *Transaction {
	if tr.meta == nil {
		tr.meta = make(map[string]any)
	}
	tr.meta[key] = value
	return tr
}

func (tr *Transaction) Meta(key string) any { return tr.meta[key] }

func (tr *Transaction) Doc() *Document    { return tr.doc }
func (tr *Transaction) Before() *Document { return tr.before }
func (tr *Transaction) Steps() []Step     { return tr.steps }
func (tr *Transaction) Mapping() Mapping  { return tr.mapping }
func (tr *Transaction) Err() error        { return tr.err }

func (tr *Transaction) SelectionSet() bool { return tr.selectionSet }

func (tr *Transaction) DocChanged() bool { return len(tr.steps) > 0 }

// defaultSelection 没有显式选区时的行为：有内容替换则光标落到最后一次替换区间的末尾，
// 否则选区按映射移动
func (tr *Transaction) defaultSelection(prev Selection) Selection {
	for i := len(tr.mapping) - 1; i >= 0; i-- {
		m := tr.mapping[i]
		if m.identity() {
			continue
		}
		pos := tr.mapping.Slice(i + 1).Map(m.Start+m.NewSize, 1)
		return Cursor(pos).Clamp(tr.doc)
	}
	return prev.Bookmark().Map(tr.mapping).Resolve(tr.doc)
}
