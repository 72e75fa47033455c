package richtext

// StepMap 描述一个 step 的位置变化：从 Start 开始的 OldSize 个字符被替换成 NewSize 个。
// 零值表示位置不变（mark 类 step）。
type StepMap struct {
	Start   int
	OldSize int
	NewSize int
}

func (m StepMap) identity() bool { return m.OldSize == 0 && m.NewSize == 0 }

// Map 映射一个位置。assoc < 0 时落在变化区间上的位置贴左，否则贴右。
func (m StepMap) Map(pos, assoc int) int {
	if m.identity() {
		return pos
	}
	end := m.Start + m.OldSize
	switch {
	case pos < m.Start:
		return pos
	case pos > end:
		return pos - m.OldSize + m.NewSize
	}
	side := assoc
	if m.OldSize > 0 {
		if pos == m.Start {
			side = -1
		} else if pos == end {
			side = 1
		}
	}
	if side < 0 {
		return m.Start
	}
	return m.Start + m.NewSize
}

// Mapping 是按顺序排列的一组 StepMap
type Mapping []StepMap

func (mp Mapping) Map(pos, assoc int) int {
	for _, m := range mp {
		pos = m.Map(pos, assoc)
	}
	return pos
}

// Slice 返回从第 from 个 step 开始的子映射
func (mp Mapping) Slice(from int) Mapping {
	if from >= len(mp) {
		return nil
	}
	return mp[from:]
}
