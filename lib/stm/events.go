package stm

// Event is a lifecycle event of a transaction.
type Event uint8

const (
	EventPrePrepare Event = iota
	EventPostAbort
	EventPostCommit
)

func (e Event) String() string {
	switch e {
	case EventPrePrepare:
		return "PrePrepare"
	case EventPostAbort:
		return "PostAbort"
	case EventPostCommit:
		return "PostCommit"
	default:
		return "Unknown"
	}
}

// Listener is called for the lifecycle events of a transaction it was registered on.
type Listener func(tx *Transaction, event Event)

// Register adds a listener that is notified of lifecycle events until the
// next reset of the transaction.
// Lean transactions do not support listeners.
func (tx *Transaction) Register(l Listener) error {
	return tx.register(l, false, "Register")
}

// RegisterPermanent adds a listener that survives soft resets. It is removed
// by a hard reset or when the transaction commits.
// Lean transactions do not support listeners.
func (tx *Transaction) RegisterPermanent(l Listener) error {
	return tx.register(l, true, "RegisterPermanent")
}

func (tx *Transaction) register(l Listener, permanent bool, op string) error {
	switch tx.status {
	case StatusActive, StatusPrepared:
	default:
		return newError(CodeDeadTransaction, "%s on %s transaction", op, tx.status)
	}
	if l == nil {
		return tx.fail(newError(CodeNullArgument, "%s with nil listener", op))
	}

	feature := FeatureListeners
	if permanent {
		feature = FeaturePermanentListeners
	}
	if !tx.variant.SupportsFeature(feature) {
		tx.spec.SignalSpeculativeListenerFailure()
		return tx.fail(tx.unsupported(feature, op))
	}

	if permanent {
		tx.permanentListeners = append(tx.permanentListeners, l)
	} else {
		tx.listeners = append(tx.listeners, l)
	}
	return nil
}

// fire notifies the permanent and then the normal listeners.
func (tx *Transaction) fire(event Event) {
	for _, l := range tx.permanentListeners {
		l(tx, event)
	}
	for _, l := range tx.listeners {
		l(tx, event)
	}
}
