// Package binding 把编辑器文档和 CRDT 文本双向绑定：本地事务翻译成 CRDT delta，
// CRDT 事件（远端修改）翻译成编辑器事务，并过滤掉自己事务的回声。
package binding

import (
	"fmt"

	"github.com/golang/glog"

	"rteSync/backend/internal/crdt"
	"rteSync/backend/internal/ot/delta"
	"rteSync/backend/internal/richtext"
)

type Option func(*Binding)

// WithFaultHandler 设置故障回调，默认只打日志。回调之后绑定会做一次 Resync。
func WithFaultHandler(fn func(error)) Option {
	return func(b *Binding) { b.onFault = fn }
}

// Binding 非并发安全，必须和 view、doc 在同一个控制线程上使用
type Binding struct {
	view       *richtext.View
	doc        *crdt.Doc
	filter     OriginFilter
	translator *Translator
	onFault    func(error)

	unobserve      func()
	removeDispatch func()
	destroyed      bool
}

// New 建立绑定。CRDT 为空时用文档内容初始化它；否则以 CRDT 为准重建文档。
func New(view *richtext.View, doc *crdt.Doc, opts ...Option) *Binding {
	b := &Binding{
		view: view,
		doc:  doc,
		onFault: func(err error) {
			glog.Errorf("binding: %v", err)
		},
	}
	for _, opt := range opts {
		opt(b)
	}
	b.translator = NewTranslator(doc, &b.filter)

	text := doc.Text()
	state := view.State()
	switch {
	case text.Len() == 0 && state.Doc().Len() > 0:
		b.seed(state.Doc())
	case !ContentEqual(state.Doc(), text):
		if err := b.Resync(); err != nil {
			b.fault(fmt.Errorf("initial resync: %w", err))
		}
	}

	b.unobserve = text.Observe(b.onEvent)
	b.removeDispatch = view.OnDispatch(b.onDispatch)
	return b
}

// State 返回编辑器的当前状态
func (b *Binding) State() richtext.State { return b.view.State() }

// Destroy 注销观察者，之后两边的修改都不再传播
func (b *Binding) Destroy() {
	if b.destroyed {
		return
	}
	b.destroyed = true
	b.unobserve()
	b.removeDispatch()
}

// Resync 丢弃文档里未同步的内容，用 CRDT 的当前内容重建文档。选区按原数值收敛到新文档内。
func (b *Binding) Resync() error {
	if b.destroyed {
		return ErrBindingDestroyed
	}
	state := b.view.State()
	var frags []richtext.Fragment
	for _, r := range crdtRuns(b.doc.Text()) {
		frags = append(frags, richtext.Fragment{Text: r.Text, Marks: r.Marks})
	}
	sel := state.Selection()
	tr := state.Tr().
		Replace(1, state.Doc().End(), richtext.Slice{Content: frags})
	tr.SetSelection(sel.Anchor, sel.Head).SetMeta(MetaRemote, true)
	if err := b.view.Dispatch(tr); err != nil {
		glog.Errorf("binding: resync: %v", err)
		return err
	}
	glog.Infof("binding: resynced document, %d characters", b.view.State().Doc().Len())
	return nil
}

func (b *Binding) seed(doc *richtext.Document) {
	var d delta.Delta
	for _, r := range doc.Runs() {
		d = append(d, delta.Insert(r.Text, AttrsForMarks(r.Marks)))
	}
	var err error
	b.doc.Transact(b.filter.Next(), func() {
		err = b.doc.Text().ApplyDelta(d)
	})
	if err != nil {
		b.fault(fmt.Errorf("seed: %w", err))
	}
}

// onDispatch 把本地事务翻译进 CRDT
func (b *Binding) onDispatch(tr *richtext.Transaction, _, _ richtext.State) {
	if tr.Meta(MetaRemote) != nil || !tr.DocChanged() {
		return
	}
	if err := b.translator.Translate(tr.Steps()); err != nil {
		b.fault(err)
		_ = b.Resync()
	}
}

// onEvent 把 CRDT 事件应用到文档
func (b *Binding) onEvent(ev *crdt.TextEvent) {
	if b.filter.IsLocal(ev.Origin) {
		glog.V(2).Infof("binding: dropped echo of %v", ev.Origin)
		return
	}
	state := b.view.State()
	if ContentEqual(state.Doc(), b.doc.Text()) {
		glog.V(2).Infof("binding: document already matches, event from %v ignored", ev.Origin)
		return
	}

	tr, skipped := BuildTransaction(state, ev.Delta)
	for _, err := range skipped {
		glog.Warningf("binding: %v", err)
	}
	if err := b.view.Dispatch(tr); err != nil {
		b.fault(fmt.Errorf("apply remote change: %w", err))
		_ = b.Resync()
		return
	}
	if !ContentEqual(b.view.State().Doc(), b.doc.Text()) {
		glog.Warningf("binding: document diverged from CRDT after remote change, resyncing")
		_ = b.Resync()
	}
}

func (b *Binding) fault(err error) {
	if b.onFault != nil {
		b.onFault(err)
	}
}
