package orec

import (
	"fmt"
	"sync/atomic"

	"github.com/ValentinKolb/dSTM/lib/latch"
	"github.com/ValentinKolb/dSTM/lib/util"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

// DefaultReadBiasedThreshold is the number of consecutive read commits after
// which an orec becomes read biased.
const DefaultReadBiasedThreshold = 16

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

// LockMode is the lock level a transaction holds on an orec.
// Lock modes are ordered from weakest to strongest.
type LockMode uint8

const (
	LockNone   LockMode = iota // no lock
	LockUpdate                 // exclusive against other writers, readers are still allowed
	LockCommit                 // exclusive against everyone
)

func (m LockMode) String() string {
	switch m {
	case LockNone:
		return "None"
	case LockUpdate:
		return "Update"
	case LockCommit:
		return "Commit"
	default:
		return "Unknown"
	}
}

// Bias is the access pattern an orec is optimized for.
type Bias uint8

const (
	UpdateBiased Bias = iota
	ReadBiased
)

func (b Bias) String() string {
	switch b {
	case UpdateBiased:
		return "UpdateBiased"
	case ReadBiased:
		return "ReadBiased"
	default:
		return "Unknown"
	}
}

// ArriveStatus is the outcome of an Arrive call.
type ArriveStatus uint8

const (
	ArriveRegistered   ArriveStatus = iota // surplus was incremented, the caller must depart
	ArriveUnregistered                     // the orec is read biased, the caller has no depart obligation
	ArriveLocked                           // the orec is locked by another transaction, nothing changed
)

// LockResult is the outcome of a TryLockAndCheckConflict call.
type LockResult uint8

const (
	LockAcquired        LockResult = iota // the lock is held by the caller and the version matched
	LockHeldByOther                       // another transaction holds a conflicting lock
	LockVersionMismatch                   // the version moved past the expected version
)

func (r LockResult) String() string {
	switch r {
	case LockAcquired:
		return "Acquired"
	case LockHeldByOther:
		return "HeldByOther"
	case LockVersionMismatch:
		return "VersionMismatch"
	default:
		return "Unknown"
	}
}

// State is a point in time copy of all fields of an orec.
type State struct {
	Version       uint64
	LockMode      LockMode
	Owner         uint64
	Surplus       uint32
	Bias          Bias
	ReadonlyCount uint32
	Listeners     int
}

// Validate checks the invariants that must hold for every observable state.
func (s State) Validate() error {
	if (s.Owner == 0) != (s.LockMode == LockNone) {
		return fmt.Errorf("orec invariant violated: owner %d with lock mode %s", s.Owner, s.LockMode)
	}
	if s.Bias == ReadBiased && s.Surplus == 0 {
		return fmt.Errorf("orec invariant violated: read biased orec without permanent surplus")
	}
	return nil
}

func (s State) String() string {
	return fmt.Sprintf("Orec{version: %d, lock: %s, owner: %d, surplus: %d, bias: %s, readonly: %d, listeners: %d}",
		s.Version, s.LockMode, s.Owner, s.Surplus, s.Bias, s.ReadonlyCount, s.Listeners)
}

// --------------------------------------------------------------------------
// Orec
// --------------------------------------------------------------------------

// Orec is the concurrency control record of one transactional object.
// The zero value is an unlocked, update biased orec at version 0 with read
// biasing disabled; use Init or New to configure the read bias threshold.
type Orec struct {
	mu            util.SpinLock
	version       atomic.Uint64
	lockMode      LockMode
	owner         uint64
	surplus       uint32
	bias          Bias
	readonlyCount uint32
	threshold     uint32
	listeners     []*latch.Latch
}

// New creates an orec that becomes read biased after readBiasedThreshold
// consecutive read commits (0 disables read biasing).
func New(readBiasedThreshold uint32) *Orec {
	o := &Orec{}
	o.Init(readBiasedThreshold)
	return o
}

// Init sets the read bias threshold of an embedded orec.
//
// Thread-safety: This method must be called before the orec is shared.
func (o *Orec) Init(readBiasedThreshold uint32) {
	o.threshold = readBiasedThreshold
}

// --------------------------------------------------------------------------
// Arrive and Lock
// --------------------------------------------------------------------------

// Arrive registers the caller as a user of the object and optionally acquires
// a lock in the same atomic step. A commit lock held by another transaction
// rejects every arrival, an update lock held by another transaction rejects
// only locking arrivals. Re-locking by the current holder is idempotent and
// can only strengthen the lock.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (o *Orec) Arrive(owner uint64, mode LockMode) ArriveStatus {
	if mode != LockNone && owner == 0 {
		panic("orec: lock requested without owner")
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.lockMode != LockNone && o.owner != owner {
		if o.lockMode == LockCommit || mode != LockNone {
			return ArriveLocked
		}
	}

	if mode > o.lockMode {
		o.lockMode = mode
		o.owner = owner
	}

	if o.bias == ReadBiased {
		return ArriveUnregistered
	}
	o.surplus++
	return ArriveRegistered
}

// UpgradeLock strengthens the lock of the caller to mode. It acquires the lock
// if the orec is unlocked and fails if another transaction holds it.
// The lock is never weakened.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (o *Orec) UpgradeLock(owner uint64, mode LockMode) bool {
	if owner == 0 {
		panic("orec: lock requested without owner")
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.lockMode != LockNone && o.owner != owner {
		return false
	}
	if mode > o.lockMode {
		o.lockMode = mode
		o.owner = owner
	}
	return true
}

// TryLockAndCheckConflict acquires (or strengthens) the lock of the caller and
// validates that the version still equals expectedVersion. On failure nothing
// is changed and the reason is returned.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (o *Orec) TryLockAndCheckConflict(owner uint64, expectedVersion uint64, mode LockMode) LockResult {
	if owner == 0 {
		panic("orec: lock requested without owner")
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.lockMode != LockNone && o.owner != owner {
		return LockHeldByOther
	}
	if o.version.Load() != expectedVersion {
		return LockVersionMismatch
	}
	if mode > o.lockMode {
		o.lockMode = mode
		o.owner = owner
	}
	return LockAcquired
}

// ReleaseLock releases the lock if it is held by owner and reports whether it was.
// This is used to abandon objects whose construction was aborted.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (o *Orec) ReleaseLock(owner uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.lockMode == LockNone || o.owner != owner {
		return false
	}
	o.unlock(owner)
	return true
}

// --------------------------------------------------------------------------
// Depart
// --------------------------------------------------------------------------

// DepartAfterReading departs after a successful read only commit.
// It counts towards the readonly streak that drives the read bias.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (o *Orec) DepartAfterReading(registered bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.depart(registered)
	o.countReadonly()
}

// DepartAfterFailure departs after an abort without touching the readonly streak.
// A lock held by the caller is kept.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (o *Orec) DepartAfterFailure(registered bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.depart(registered)
}

// DepartAfterReadingAndUnlock departs after a successful read only commit of
// an object the caller held a lock on, and releases the lock.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (o *Orec) DepartAfterReadingAndUnlock(owner uint64, registered bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.unlock(owner)
	o.depart(registered)
	o.countReadonly()
}

// DepartAfterFailureAndUnlock departs after an abort and releases the lock of the caller.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (o *Orec) DepartAfterFailureAndUnlock(owner uint64, registered bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.unlock(owner)
	o.depart(registered)
}

// DepartAfterUpdateAndUnlock completes a write commit: the version is
// incremented, the readonly streak is reset, the orec switches back to update
// bias and the lock of the caller is released. The listeners registered on the
// orec are drained and returned, the caller must open them.
//
// The caller must hold the lock, otherwise this method panics.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (o *Orec) DepartAfterUpdateAndUnlock(owner uint64, registered bool) []*latch.Latch {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.lockMode == LockNone || o.owner != owner {
		panic(fmt.Sprintf("orec: update depart by %d without holding the lock (%s by %d)", owner, o.lockMode, o.owner))
	}

	o.version.Add(1)
	o.readonlyCount = 0
	if o.bias == ReadBiased {
		// drop the permanent surplus
		o.bias = UpdateBiased
		o.surplus--
	}
	o.depart(registered)
	o.unlock(owner)

	listeners := o.listeners
	o.listeners = nil
	return listeners
}

// depart removes one registered arrival.
// The caller must hold o.mu.
func (o *Orec) depart(registered bool) {
	if !registered {
		return
	}
	if o.surplus == 0 {
		panic("orec: surplus underflow")
	}
	o.surplus--
}

// unlock releases the lock if owner holds it.
// The caller must hold o.mu.
func (o *Orec) unlock(owner uint64) {
	if o.lockMode != LockNone && o.owner == owner {
		o.lockMode = LockNone
		o.owner = 0
	}
}

// countReadonly extends the readonly streak and switches to read bias once
// the threshold is reached.
// The caller must hold o.mu.
func (o *Orec) countReadonly() {
	if o.bias == ReadBiased || o.threshold == 0 {
		return
	}
	o.readonlyCount++
	if o.readonlyCount >= o.threshold {
		o.bias = ReadBiased
		o.surplus++ // permanent surplus
	}
}

// --------------------------------------------------------------------------
// Listeners
// --------------------------------------------------------------------------

// RegisterListener adds l to the listeners that are opened by the next write
// commit, but only if the version still equals expectedVersion. It returns
// false (and does not register) if the version already moved, in that case
// the caller should open the latch itself.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (o *Orec) RegisterListener(l *latch.Latch, expectedVersion uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.version.Load() != expectedVersion {
		return false
	}
	o.listeners = append(o.listeners, l)
	return true
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

// Version returns the current version without synchronization.
func (o *Orec) Version() uint64 {
	return o.version.Load()
}

// LockMode returns the current lock mode.
func (o *Orec) LockMode() LockMode {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lockMode
}

// Owner returns the current lock owner (0 = unlocked).
func (o *Orec) Owner() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.owner
}

// IsLockedBy reports whether owner holds a lock on the orec.
func (o *Orec) IsLockedBy(owner uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lockMode != LockNone && o.owner == owner
}

// Surplus returns the number of transactions that currently have the object open.
func (o *Orec) Surplus() uint32 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.surplus
}

// IsReadBiased reports whether the orec is read biased.
func (o *Orec) IsReadBiased() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.bias == ReadBiased
}

// ReadBiasedThreshold returns the configured read bias threshold.
func (o *Orec) ReadBiasedThreshold() uint32 {
	return o.threshold
}

// Snapshot returns a consistent copy of the orec state.
func (o *Orec) Snapshot() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return State{
		Version:       o.version.Load(),
		LockMode:      o.lockMode,
		Owner:         o.owner,
		Surplus:       o.surplus,
		Bias:          o.bias,
		ReadonlyCount: o.readonlyCount,
		Listeners:     len(o.listeners),
	}
}
