package stm

// monoSet holds at most one tranlocal.
type monoSet struct {
	tl *Tranlocal
}

func (m *monoSet) find(ref *Ref) *Tranlocal {
	if m.tl != nil && m.tl.owner == ref {
		return m.tl
	}
	return nil
}

func (m *monoSet) attach(tl *Tranlocal) bool {
	if m.tl != nil {
		return false
	}
	m.tl = tl
	return true
}

func (m *monoSet) isFull() bool { return m.tl != nil }

func (m *monoSet) size() int {
	if m.tl == nil {
		return 0
	}
	return 1
}

func (m *monoSet) capacity() int { return 1 }

func (m *monoSet) each(fn func(tl *Tranlocal) bool) {
	if m.tl != nil {
		fn(m.tl)
	}
}

func (m *monoSet) clear() { m.tl = nil }
