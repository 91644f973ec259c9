package stm

import "github.com/google/btree"

// treeDegree is the degree of the btree backing the unbounded attached set
const treeDegree = 8

// treeItem is an entry of the tree set, ordered by ref id
type treeItem struct {
	id uint64
	tl *Tranlocal
}

func lessTreeItem(a, b treeItem) bool {
	return a.id < b.id
}

// treeSet is the unbounded attached set. Tranlocals are kept in a btree
// keyed by ref id, so commits visit objects in a stable order.
type treeSet struct {
	tree *btree.BTreeG[treeItem]
}

func newTreeSet() *treeSet {
	return &treeSet{tree: btree.NewG(treeDegree, lessTreeItem)}
}

func (t *treeSet) find(ref *Ref) *Tranlocal {
	item, ok := t.tree.Get(treeItem{id: ref.id})
	if !ok || item.tl.owner != ref {
		return nil
	}
	return item.tl
}

func (t *treeSet) attach(tl *Tranlocal) bool {
	t.tree.ReplaceOrInsert(treeItem{id: tl.owner.id, tl: tl})
	return true
}

func (t *treeSet) isFull() bool { return false }

func (t *treeSet) size() int { return t.tree.Len() }

func (t *treeSet) capacity() int { return -1 }

func (t *treeSet) each(fn func(tl *Tranlocal) bool) {
	t.tree.Ascend(func(item treeItem) bool {
		return fn(item.tl)
	})
}

func (t *treeSet) clear() {
	t.tree.Clear(true)
}
