// Package orec implements the ownership record ("orec") that arbitrates
// concurrent access to a single transactional object.
//
// Every transactional object owns exactly one Orec. The Orec is the only
// structure that is shared and mutated by concurrently running transactions,
// all other transaction state is private to the transaction that owns it.
//
// State:
//   - Version: strictly increases by one for every accepted write commit
//   - Lock: none, update or commit, together with the owning transaction
//   - Surplus: number of transactions that arrived (opened the object) and did not yet depart
//   - Bias: update biased (default) or read biased
//   - Readonly count: streak of consecutive read commits, reset by every write
//   - Listeners: latches of transactions blocked in a retry, opened by the next write commit
//
// Lock compatibility:
//
//	+---------------+--------+--------+--------+
//	| held \ wanted |  read  | update | commit |
//	+---------------+--------+--------+--------+
//	| none          |        |        |        |
//	| update        |        |   X    |   X    |
//	| commit        |   X    |   X    |   X    |
//	+---------------+--------+--------+--------+
//
// The lock holder itself is never blocked by its own lock and may strengthen
// it (update -> commit) at any time, even while other readers are arriving.
// Readers that arrived before the commit lock was taken keep their snapshot,
// they are only validated when they try to write.
//
// Read bias:
//
//	After a configurable streak of read commits with no write in between, the
//	orec becomes read biased. A read biased orec keeps a single permanent
//	surplus of 1 and readers no longer arrive or depart individually, which
//	removes the contention on the orec for read mostly objects. The first
//	write commit removes the permanent surplus and switches back to update
//	bias.
//
// Thread Safety:
//
//	All operations are safe for concurrent use. The version can be read
//	without synchronization, every other field is guarded by a spin lock that
//	is only held for a few instructions. No operation ever blocks on another
//	transaction: lock conflicts are reported to the caller instead.
package orec
