package binding

import (
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"

	"rteSync/backend/internal/crdt"
	"rteSync/backend/internal/ot/delta"
	"rteSync/backend/internal/richtext"
)

type peer struct {
	view     *richtext.View
	doc      *crdt.Doc
	binding  *Binding
	faults   []error
	dispatch int
}

func newPeer(t *testing.T, text string) *peer {
	t.Helper()
	p := &peer{
		view: richtext.NewView(richtext.NewState(richtext.FromText(text))),
		doc:  crdt.NewDoc(),
	}
	p.binding = New(p.view, p.doc, WithFaultHandler(func(err error) { p.faults = append(p.faults, err) }))
	p.view.OnDispatch(func(*richtext.Transaction, richtext.State, richtext.State) { p.dispatch++ })
	return p
}

// link 把两个副本的更新互相转发
func link(a, b *peer) {
	forward := func(from, to *peer) {
		from.doc.OnUpdate(func(u []byte, origin any) {
			if origin == to {
				return
			}
			_ = to.doc.ApplyUpdate(u, from)
		})
	}
	forward(a, b)
	forward(b, a)
	diff, _ := a.doc.EncodeStateAsUpdate(b.doc.EncodeStateVector())
	_ = b.doc.ApplyUpdate(diff, a)
}

func (p *peer) text() string { return p.view.State().Doc().Text() }

func (p *peer) edit(t *testing.T, build func(tr *richtext.Transaction)) {
	t.Helper()
	tr := p.view.State().Tr()
	build(tr)
	if err := p.view.Dispatch(tr); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
}

func TestBinding_InsertIntoEmptyDocument(t *testing.T) {
	a, b := newPeer(t, ""), newPeer(t, "")
	link(a, b)

	a.edit(t, func(tr *richtext.Transaction) { tr.InsertText("Hi", 1) })

	assert.Equal(t, "Hi", a.doc.Text().String())
	assert.Equal(t, "Hi", b.text())
	assert.Equal(t, 0, len(a.faults))
}

func TestBinding_AddMarkReachesPeer(t *testing.T) {
	a := newPeer(t, "Hello")
	b := newPeer(t, "")
	link(a, b)
	assert.Equal(t, "Hello", b.text())

	a.edit(t, func(tr *richtext.Transaction) { tr.AddMark(1, 3, "strong") })

	assert.Equal(t, delta.Delta{
		delta.Insert("He", map[string]any{"bold": true}),
		delta.Insert("llo", nil),
	}, a.doc.Text().ToDelta())
	assert.Equal(t, "{strong}Hello", b.view.State().Doc().String())
	assert.Equal(t, true, b.view.State().Doc().MarksAt(2).Has("strong"))
	assert.Equal(t, false, b.view.State().Doc().MarksAt(3).Has("strong"))
}

func TestBinding_DeleteRange(t *testing.T) {
	a := newPeer(t, "Hello")
	b := newPeer(t, "")
	link(a, b)

	var events []delta.Delta
	unobserve := a.doc.Text().Observe(func(ev *crdt.TextEvent) { events = append(events, ev.Delta) })
	defer unobserve()

	// 位置 2 到 4 覆盖 "el"
	a.edit(t, func(tr *richtext.Transaction) { tr.Delete(2, 4) })

	assert.Equal(t, []delta.Delta{{delta.Retain(1, nil), delta.Delete(2)}}, events)
	assert.Equal(t, "Hlo", a.doc.Text().String())
	assert.Equal(t, "Hlo", b.text())
	assert.Equal(t, "Hlo", a.text())
}

func TestBinding_ConcurrentEditsConverge(t *testing.T) {
	a := newPeer(t, "ca")
	b := newPeer(t, "")
	link(a, b)
	assert.Equal(t, "ca", b.text())

	// 断开期间各自编辑，再整体交换
	a.binding.Destroy()
	b.binding.Destroy()
	a2 := &peer{view: a.view, doc: crdt.NewDoc()}
	b2 := &peer{view: b.view, doc: crdt.NewDoc()}
	seed, _ := a.doc.EncodeStateAsUpdate(nil)
	_ = a2.doc.ApplyUpdate(seed, nil)
	_ = b2.doc.ApplyUpdate(seed, nil)
	a2.binding = New(a2.view, a2.doc)
	b2.binding = New(b2.view, b2.doc)

	a2.edit(t, func(tr *richtext.Transaction) { tr.InsertText("t", 3) })
	b2.edit(t, func(tr *richtext.Transaction) { tr.InsertText("r", 3) })
	assert.Equal(t, "cat", a2.text())
	assert.Equal(t, "car", b2.text())

	link(a2, b2)
	diff, _ := b2.doc.EncodeStateAsUpdate(a2.doc.EncodeStateVector())
	_ = a2.doc.ApplyUpdate(diff, b2)

	assert.Equal(t, a2.doc.Text().String(), b2.doc.Text().String())
	assert.Equal(t, a2.text(), b2.text())
	assert.Equal(t, a2.doc.Text().String(), a2.text())
	assert.Equal(t, 4, len([]rune(a2.text())))
}

func TestBinding_LocalEchoIsDropped(t *testing.T) {
	a := newPeer(t, "")
	a.edit(t, func(tr *richtext.Transaction) { tr.InsertText("abc", 1) })

	// 只有本地这一次 dispatch，回声没有变成第二个事务
	assert.Equal(t, 1, a.dispatch)
	assert.Equal(t, "abc", a.text())
	assert.Equal(t, "abc", a.doc.Text().String())
}

func TestBinding_RedeliveryDoesNotDuplicate(t *testing.T) {
	a, b := newPeer(t, ""), newPeer(t, "")
	var update []byte
	a.doc.OnUpdate(func(u []byte, _ any) { update = u })

	a.edit(t, func(tr *richtext.Transaction) { tr.InsertText("once", 1) })
	for i := 0; i < 3; i++ {
		if err := b.doc.ApplyUpdate(update, "net"); err != nil {
			t.Fatalf("ApplyUpdate() error = %v", err)
		}
	}
	assert.Equal(t, "once", b.text())
	assert.Equal(t, 1, b.dispatch)
}

func TestBinding_FixedPointGuard(t *testing.T) {
	a := newPeer(t, "ab")

	// 文档已经包含这次修改（例如标记丢失的本地事务），CRDT 事件不应再次应用
	tr := a.view.State().Tr().InsertText("X", 2).SetMeta(MetaRemote, true)
	assert.Equal(t, nil, a.view.Dispatch(tr))
	a.doc.Transact("untagged", func() { _ = a.doc.Text().Insert(1, "X", nil) })

	assert.Equal(t, "aXb", a.text())
	assert.Equal(t, 1, a.dispatch)
}

type unknownStep struct{}

func (unknownStep) Apply(*richtext.Document) (richtext.StepMap, error) { return richtext.StepMap{}, nil }

func (unknownStep) Descriptor() richtext.StepDescriptor {
	return richtext.StepDescriptor{Kind: "setNodeMarkup", From: 1, To: 1}
}

func TestBinding_UnsupportedStepSurfacesAndResyncs(t *testing.T) {
	a := newPeer(t, "keep")
	var updates int
	a.doc.OnUpdate(func([]byte, any) { updates++ })

	tr := a.view.State().Tr().InsertText("lost ", 1)
	assert.Equal(t, nil, tr.Step(unknownStep{}))
	assert.Equal(t, nil, a.view.Dispatch(tr))

	assert.Equal(t, 1, len(a.faults))
	if !errors.Is(a.faults[0], ErrUnsupportedStepKind) {
		t.Fatalf("fault = %v, want ErrUnsupportedStepKind", a.faults[0])
	}
	// 整个事务被拒绝，文档按 CRDT 重建
	assert.Equal(t, 0, updates)
	assert.Equal(t, "keep", a.doc.Text().String())
	assert.Equal(t, "keep", a.text())
}

func TestBinding_RemoteInsertPreservesSelection(t *testing.T) {
	a := newPeer(t, "Hello")
	b := newPeer(t, "")
	link(a, b)

	b.view.Dispatch(b.view.State().Tr().SetSelection(4, 4))
	// 只改选区的事务不产生 step
	assert.Equal(t, 0, len(b.faults))

	a.edit(t, func(tr *richtext.Transaction) { tr.InsertText("XX", 1) })
	assert.Equal(t, "XXHello", b.text())
	assert.Equal(t, richtext.Cursor(6), b.view.State().Selection())

	// 远端在末尾追加，不会把选区收到末尾
	b.view.Dispatch(b.view.State().Tr().SetSelection(3, 5))
	a.edit(t, func(tr *richtext.Transaction) { tr.InsertText("!", 8) })
	assert.Equal(t, "XXHello!", b.text())
	assert.Equal(t, richtext.Selection{Anchor: 3, Head: 5}, b.view.State().Selection())

	// 选中的内容被远端删掉后收敛到合法位置
	a.edit(t, func(tr *richtext.Transaction) { tr.Delete(1, 9) })
	assert.Equal(t, "", b.text())
	assert.Equal(t, richtext.Cursor(1), b.view.State().Selection())
}

func TestBinding_NewWithPopulatedCrdtRebuildsDocument(t *testing.T) {
	doc := crdt.NewDoc()
	_ = doc.Text().Insert(0, "from crdt", map[string]any{"italic": true})
	view := richtext.NewView(richtext.NewState(richtext.FromText("stale")))

	b := New(view, doc)
	assert.Equal(t, "from crdt", b.State().Doc().Text())
	assert.Equal(t, true, b.State().Doc().MarksAt(1).Has("emphasis"))
}

func TestBinding_InitialResyncFailureIsFault(t *testing.T) {
	doc := crdt.NewDoc()
	_ = doc.Text().Insert(0, "remote", nil)
	view := richtext.NewView(richtext.NewState(richtext.FromText("local")))
	view.Destroy()

	var faults []error
	New(view, doc, WithFaultHandler(func(err error) { faults = append(faults, err) }))

	assert.Equal(t, 1, len(faults))
	if !errors.Is(faults[0], richtext.ErrViewDestroyed) {
		t.Fatalf("fault = %v, want ErrViewDestroyed", faults[0])
	}
}

func TestBinding_DestroyStopsPropagation(t *testing.T) {
	a, b := newPeer(t, ""), newPeer(t, "")
	link(a, b)
	b.binding.Destroy()
	b.binding.Destroy()

	a.edit(t, func(tr *richtext.Transaction) { tr.InsertText("a", 1) })
	assert.Equal(t, "a", b.doc.Text().String())
	assert.Equal(t, "", b.text())

	b.edit(t, func(tr *richtext.Transaction) { tr.InsertText("local", 1) })
	assert.Equal(t, "a", b.doc.Text().String())
	assert.Equal(t, ErrBindingDestroyed, b.binding.Resync())
}

func TestBuildTransaction_SkipsMalformedEntries(t *testing.T) {
	state := richtext.NewState(richtext.FromText("ab"))
	tr, skipped := BuildTransaction(state, delta.Delta{
		delta.Retain(1, map[string]any{"bold": "yes"}),
		{Kind: "bogus", Count: 1},
		delta.Insert("Z", map[string]any{"italic": true}),
	})

	assert.Equal(t, 2, len(skipped))
	for _, err := range skipped {
		if !errors.Is(err, ErrMalformedDelta) {
			t.Fatalf("skipped error = %v, want ErrMalformedDelta", err)
		}
	}
	next := state.Apply(tr)
	assert.Equal(t, "a{emphasis}Zb", next.Doc().String())
	assert.Equal(t, true, tr.Meta(MetaRemote))
}

func TestBuildTransaction_ClampsAndRemovesMarks(t *testing.T) {
	state := richtext.NewState(richtext.NewDocument(richtext.Run{Text: "abc", Marks: richtext.NewMarkSet("strong")}))

	tr, skipped := BuildTransaction(state, delta.Delta{
		delta.Retain(1, map[string]any{"bold": nil}),
		delta.Retain(1, map[string]any{"bold": false}),
		delta.Delete(10),
	})
	assert.Equal(t, 0, len(skipped))
	assert.Equal(t, nil, tr.Err())
	assert.Equal(t, "ab", state.Apply(tr).Doc().String())

	tr, _ = BuildTransaction(state, delta.Delta{delta.Retain(9, map[string]any{"bold": false}), delta.Insert("!", nil)})
	assert.Equal(t, nil, tr.Err())
	assert.Equal(t, "abc!", state.Apply(tr).Doc().Text())
}
