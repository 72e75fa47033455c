package richtext

import "fmt"

// Selection 是文本选区，Anchor 是固定端，Head 是移动端
type Selection struct {
	Anchor int
	Head   int
}

func Cursor(pos int) Selection { return Selection{Anchor: pos, Head: pos} }

func (s Selection) From() int  { return min(s.Anchor, s.Head) }
func (s Selection) To() int    { return max(s.Anchor, s.Head) }
func (s Selection) Empty() bool { return s.Anchor == s.Head }

// Clamp 把两端收敛到 doc 的合法位置内
func (s Selection) Clamp(doc *Document) Selection {
	return Selection{Anchor: doc.ClampPos(s.Anchor), Head: doc.ClampPos(s.Head)}
}

func (s Selection) String() string {
	if s.Empty() {
		return fmt.Sprintf("Cursor(%d)", s.Head)
	}
	return fmt.Sprintf("Selection(%d,%d)", s.Anchor, s.Head)
}

// Bookmark 记录与内容相关的选区位置：它通过事务的 Mapping 跟随内容移动，
// 而不是停留在原始偏移上
type Bookmark struct {
	anchor, head int
}

func (s Selection) Bookmark() Bookmark {
	return Bookmark{anchor: s.Anchor, head: s.Head}
}

func (b Bookmark) Map(mp Mapping) Bookmark {
	// 非空选区两端向内收，光标贴右（插入在光标处的远端文本出现在光标之前）
	if b.anchor == b.head {
		p := mp.Map(b.anchor, 1)
		return Bookmark{anchor: p, head: p}
	}
	aAssoc, hAssoc := 1, -1
	if b.anchor > b.head {
		aAssoc, hAssoc = -1, 1
	}
	return Bookmark{anchor: mp.Map(b.anchor, aAssoc), head: mp.Map(b.head, hAssoc)}
}

// Resolve 在 doc 上解析书签，越界位置收敛到最近的合法位置
func (b Bookmark) Resolve(doc *Document) Selection {
	return Selection{Anchor: b.anchor, Head: b.head}.Clamp(doc)
}
