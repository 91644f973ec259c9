package stm

// arraySet holds up to a fixed number of tranlocals. Lookups are linear,
// which is faster than hashing for the small sizes it is used for.
type arraySet struct {
	tls []*Tranlocal
}

func newArraySet(capacity int) *arraySet {
	return &arraySet{tls: make([]*Tranlocal, 0, capacity)}
}

func (a *arraySet) find(ref *Ref) *Tranlocal {
	for _, tl := range a.tls {
		if tl.owner == ref {
			return tl
		}
	}
	return nil
}

func (a *arraySet) attach(tl *Tranlocal) bool {
	if a.isFull() {
		return false
	}
	a.tls = append(a.tls, tl)
	return true
}

func (a *arraySet) isFull() bool { return len(a.tls) == cap(a.tls) }

func (a *arraySet) size() int { return len(a.tls) }

func (a *arraySet) capacity() int { return cap(a.tls) }

func (a *arraySet) each(fn func(tl *Tranlocal) bool) {
	for _, tl := range a.tls {
		if !fn(tl) {
			return
		}
	}
}

func (a *arraySet) clear() {
	clear(a.tls)
	a.tls = a.tls[:0]
}
