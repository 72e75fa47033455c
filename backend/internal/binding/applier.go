package binding

import (
	"fmt"
	"maps"
	"slices"

	"github.com/golang/glog"

	"rteSync/backend/internal/crdt"
	"rteSync/backend/internal/ot/delta"
	"rteSync/backend/internal/richtext"
)

// MetaRemote 标记由 CRDT 事件生成的编辑器事务，绑定不会再把它翻译回 CRDT
const MetaRemote = "crdt-binding/remote"

// BuildTransaction 把 CRDT 事件的 delta 转成一个编辑器事务。
// 不合法的条目被跳过（返回的 skipped 里每项都包装 ErrMalformedDelta），越界的范围被收敛。
// 选区按内容移动后显式设置，不用事务默认的收敛到末尾。
func BuildTransaction(state richtext.State, d delta.Delta) (tr *richtext.Transaction, skipped []error) {
	tr = state.Tr()
	bookmark := state.Selection().Bookmark()
	skip := func(i int, format string, args ...any) {
		err := fmt.Errorf("%w: entry %d: %s", ErrMalformedDelta, i, fmt.Sprintf(format, args...))
		skipped = append(skipped, err)
	}

	cursor := 1
	for i, op := range d {
		if err := op.Validate(); err != nil {
			skip(i, "%v", err)
			continue
		}
		end := tr.Doc().End()
		switch op.Kind {
		case delta.KindRetain:
			to := min(cursor+op.Count, end)
			if to < cursor+op.Count {
				glog.V(1).Infof("binding: retain %d at %d clamped to %d", op.Count, cursor, to)
			}
			for _, key := range slices.Sorted(maps.Keys(op.Attrs)) {
				mark := ToMarkType(key)
				switch v := op.Attrs[key].(type) {
				case bool:
					if v {
						tr.AddMark(cursor, to, mark)
					} else {
						tr.RemoveMark(cursor, to, mark)
					}
				case nil:
					tr.RemoveMark(cursor, to, mark)
				default:
					skip(i, "attr %q has non-boolean value %v", key, v)
				}
			}
			cursor = to

		case delta.KindInsert:
			pos := min(cursor, end)
			var marks []string
			for _, key := range slices.Sorted(maps.Keys(op.Attrs)) {
				switch v := op.Attrs[key].(type) {
				case bool:
					if v {
						marks = append(marks, ToMarkType(key))
					}
				case nil:
				default:
					skip(i, "attr %q has non-boolean value %v", key, v)
				}
			}
			tr.InsertText(op.Text, pos, marks...)
			cursor = pos + op.Len()

		case delta.KindDelete:
			from := min(cursor, end)
			to := min(from+op.Count, end)
			if to < from+op.Count {
				glog.V(1).Infof("binding: delete %d at %d clamped to %d", op.Count, from, to)
			}
			tr.Delete(from, to)
			cursor = from
		}
	}

	sel := bookmark.Map(tr.Mapping()).Resolve(tr.Doc())
	tr.SetSelection(sel.Anchor, sel.Head)
	tr.SetMeta(MetaRemote, true)
	return tr, skipped
}

// ContentEqual 判断文档内容（文本加 mark）是否与 CRDT 文本一致
func ContentEqual(doc *richtext.Document, text *crdt.Text) bool {
	return richtext.RunsEqual(doc.Runs(), crdtRuns(text))
}

func crdtRuns(text *crdt.Text) []richtext.Run {
	var runs []richtext.Run
	for _, op := range text.ToDelta() {
		runs = append(runs, richtext.Run{Text: op.Text, Marks: MarksForAttrs(op.Attrs)})
	}
	return runs
}
