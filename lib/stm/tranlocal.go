package stm

import (
	"fmt"
	"reflect"

	"github.com/ValentinKolb/dSTM/lib/orec"
)

// OpenMode is the way a tranlocal was opened.
type OpenMode uint8

const (
	ModeRead OpenMode = iota
	ModeWrite
	ModeConstruction
	ModeCommuting // only deferred commute functions, the object was not read yet
)

func (m OpenMode) String() string {
	switch m {
	case ModeRead:
		return "Read"
	case ModeWrite:
		return "Write"
	case ModeConstruction:
		return "Construction"
	case ModeCommuting:
		return "Commuting"
	default:
		return "Unknown"
	}
}

// CommuteFunc computes the new value of an object from its current value.
// It must not depend on anything but its argument.
type CommuteFunc func(current any) any

// Tranlocal is the snapshot of one object inside one transaction.
// Transactional code reads and writes Value between open and commit or abort.
//
// Committed snapshots are Tranlocals too: they are immutable and owned by
// their Ref.
type Tranlocal struct {
	// Value is the transaction local copy of the object value.
	Value any

	owner    *Ref
	read     *Tranlocal // committed snapshot this one was copied from (nil for construction)
	version  uint64     // version of read
	mode     OpenMode
	lockMode orec.LockMode

	isCommitted         bool
	isPermanent         bool // the orec was read biased on arrival
	hasDepartObligation bool // closing must depart the orec
	isDirty             bool // computed at prepare
	isAbandoned         bool // construction undone by OrElse, never published

	commutes []CommuteFunc
}

// Owner returns the ref this tranlocal belongs to.
func (tl *Tranlocal) Owner() *Ref { return tl.owner }

// Read returns the committed snapshot this tranlocal was copied from (nil for construction or pending commutes).
func (tl *Tranlocal) Read() *Tranlocal { return tl.read }

// Version returns the version of the object observed by this tranlocal.
func (tl *Tranlocal) Version() uint64 { return tl.version }

// Mode returns the open mode.
func (tl *Tranlocal) Mode() OpenMode { return tl.mode }

// LockMode returns the lock the transaction holds on the object.
func (tl *Tranlocal) LockMode() orec.LockMode { return tl.lockMode }

// IsCommitted reports whether this is a committed snapshot of a ref.
func (tl *Tranlocal) IsCommitted() bool { return tl.isCommitted }

// IsPermanent reports whether the object was read biased when it was opened.
func (tl *Tranlocal) IsPermanent() bool { return tl.isPermanent }

// HasDepartObligation reports whether closing the tranlocal departs the orec.
func (tl *Tranlocal) HasDepartObligation() bool { return tl.hasDepartObligation }

// IsDirty reports whether the value differs from the read snapshot.
// For writes the result is exact only after prepare.
func (tl *Tranlocal) IsDirty() bool { return tl.isDirty }

func (tl *Tranlocal) String() string {
	return fmt.Sprintf("Tranlocal{ref=%d, mode=%s, version=%d, lock=%s, value=%v}",
		tl.owner.id, tl.mode, tl.version, tl.lockMode, tl.Value)
}

// isWrite reports whether committing the tranlocal may publish a new value.
func (tl *Tranlocal) isWrite() bool {
	return tl.mode == ModeWrite || tl.mode == ModeConstruction || tl.mode == ModeCommuting
}

// isWatchable reports whether a change listener can be registered for the tranlocal.
func (tl *Tranlocal) isWatchable() bool {
	return (tl.mode == ModeRead || tl.mode == ModeWrite) && tl.read != nil
}

// load copies the committed snapshot into the tranlocal.
func (tl *Tranlocal) load(snapshot *Tranlocal) {
	tl.read = snapshot
	tl.version = snapshot.version
	tl.Value = snapshot.Value
}

// applyCommutes folds the pending commute functions into the value.
func (tl *Tranlocal) applyCommutes() {
	for _, fn := range tl.commutes {
		tl.Value = fn(tl.Value)
	}
	tl.commutes = nil
}

// computeDirty sets isDirty. Constructions are always dirty, writes are dirty
// if the dirty check is disabled or the value differs from the read snapshot.
func (tl *Tranlocal) computeDirty(dirtyCheck bool) bool {
	switch {
	case tl.mode == ModeConstruction:
		tl.isDirty = true
	case tl.mode != ModeWrite:
		tl.isDirty = false
	case !dirtyCheck || tl.read == nil:
		tl.isDirty = true
	default:
		tl.isDirty = !valuesEqual(tl.Value, tl.read.Value)
	}
	return tl.isDirty
}

// valuesEqual compares with == for comparable dynamic types and falls back to reflect.DeepEqual.
func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta.Comparable() {
		if equal, ok := compare(a, b); ok {
			return equal
		}
	}
	return reflect.DeepEqual(a, b)
}

// compare returns a == b; ok is false if the comparison panicked
// (comparable types holding uncomparable interface values).
func compare(a, b any) (equal bool, ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return a == b, true
}
