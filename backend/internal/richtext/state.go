package richtext

// State 是编辑器状态：文档加选区，按值传递、不可变
type State struct {
	doc       *Document
	selection Selection
}

func NewState(doc *Document) State {
	if doc == nil {
		doc = NewDocument()
	}
	return State{doc: doc, selection: Cursor(1)}
}

func (s State) Doc() *Document       { return s.doc }
func (s State) Selection() Selection { return s.selection }

// Tr 基于当前状态开始一个事务
func (s State) Tr() *Transaction {
	return newTransaction(s.doc)
}

// Apply 应用事务得到新状态。失败的事务（Err != nil）只保留失败前已成功的 step。
func (s State) Apply(tr *Transaction) State {
	next := State{doc: tr.doc}
	if tr.selectionSet {
		next.selection = tr.selection.Clamp(tr.doc)
	} else {
		next.selection = tr.defaultSelection(s.selection)
	}
	return next
}

// WithSelection 返回替换了选区的新状态
func (s State) WithSelection(sel Selection) State {
	return State{doc: s.doc, selection: sel.Clamp(s.doc)}
}
