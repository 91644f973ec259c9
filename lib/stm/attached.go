package stm

// attachedSet stores the tranlocals of a transaction. Each storage variant
// has its own implementation, the transaction engine is the same for all.
type attachedSet interface {
	// find returns the tranlocal of ref or nil
	find(ref *Ref) *Tranlocal
	// attach adds tl; it returns false if the set is full
	attach(tl *Tranlocal) bool
	// isFull reports whether another tranlocal can be attached
	isFull() bool
	size() int
	// capacity returns the maximum size, -1 if unbounded
	capacity() int
	// each calls fn for every tranlocal until fn returns false
	each(fn func(tl *Tranlocal) bool)
	clear()
}

// newAttachedSet creates the attached set for the storage variant.
// capacity is only used by StorageArray.
func newAttachedSet(storage Storage, capacity int) attachedSet {
	switch storage {
	case StorageMono:
		return &monoSet{}
	case StorageArray:
		if capacity < 1 {
			capacity = 1
		}
		return newArraySet(capacity)
	default:
		return newTreeSet()
	}
}
