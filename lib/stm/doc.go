/*
Package stm implements a software transactional memory.

Goroutines change shared Refs in optimistic transactions. Every Ref has an
orec (see package orec) that stores its version, its lock and the number of
transactions that have it open. A transaction copies the committed snapshot of
every ref it opens into a Tranlocal, works on these copies and publishes the
changed ones on commit:

	s, _ := stm.New("bank", nil)
	from, to := s.NewRef(100), s.NewRef(0)

	err := s.Atomic(ctx, func(tx *stm.Transaction) error {
		a, err := tx.OpenForWrite(from, orec.LockNone)
		if err != nil {
			return err
		}
		if a.Value.(int) < 10 {
			return stm.ErrRetry // wait until from changes
		}
		b, err := tx.OpenForWrite(to, orec.LockNone)
		if err != nil {
			return err
		}
		a.Value = a.Value.(int) - 10
		b.Value = b.Value.(int) + 10
		return nil
	})

# Consistency

Commit locks every changed ref exclusively, checks that its version did not
change since it was read and publishes the new value with version+1.
Refs that were only read are not validated: the guarantee is per object.
Refs that must stay unchanged together with the written ones can be locked
explicitly (orec.LockUpdate or orec.LockCommit on open).

# Variants

There are six transaction variants: the attached refs are stored in a single
slot (Mono), a fixed size array (Array) or a btree (ArrayTree), and each
storage exists in a Lean tier (reads and writes only) and a Fat tier (also
Commute, listeners, blocking retries and OrElse). A transaction that needs
more than its variant offers fails with ErrSpeculativeConfiguration and
records the requirement in the speculative configuration of its template.
The Executor uses this to start with the cheapest variant and to switch to a
bigger one when needed.

# Blocking retries

A transaction body that returns ErrRetry is blocked by the Executor until one
of the refs it has read is changed by another commit
(see Transaction.RegisterChangeListenerAndAbort).

# Errors

All operations return *Error values. Use errors.Is with the Err* variables to
check the kind. Conflicts, prepared and dead transaction errors leave the
transaction aborted with all locks released. ErrIllegalArgument from
OpenForConstruction and ErrNoRetryPossible leave it active.
*/
package stm
