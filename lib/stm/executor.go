package stm

import (
	"context"
	"errors"
	"time"

	"github.com/ValentinKolb/dSTM/lib/config"
	"github.com/ValentinKolb/dSTM/lib/latch"
	"github.com/ValentinKolb/dSTM/lib/speculative"
	"github.com/ValentinKolb/dSTM/lib/util"
	"github.com/lni/dragonboat/v4/logger"
	gometrics "github.com/rcrowley/go-metrics"
)

var executorLogger = logger.GetLogger("executor")

// Executor runs transaction bodies of one template until they commit.
//
// Conflicts are retried with backoff. When a transaction hits a limit of its
// variant, the template learns it and the next attempt uses a variant that
// satisfies the new requirements, keeping the attempt count and the timeout
// budget. A body that returns ErrRetry blocks until one of the refs it has
// read changes.
//
// Thread-safety: Execute can be called concurrently, every call uses its own transaction.
type Executor struct {
	stm   *STM
	name  string
	conf  config.TxnConfig
	spec  *speculative.Config
	timer gometrics.Timer
}

// NewExecutor creates an executor for the named template. If conf is nil the
// default transaction configuration of the STM is used.
func (s *STM) NewExecutor(name string, conf *config.TxnConfig) *Executor {
	c := s.conf.Txn
	if conf != nil {
		c = *conf
	}
	return &Executor{
		stm:   s,
		name:  name,
		conf:  c,
		spec:  s.Template(name),
		timer: gometrics.GetOrRegisterTimer(name, s.timers),
	}
}

// Name returns the template name of the executor.
func (e *Executor) Name() string { return e.name }

// Speculative returns the speculative configuration of the template.
func (e *Executor) Speculative() *speculative.Config { return e.spec }

// Timer returns the latency timer of the executor.
func (e *Executor) Timer() gometrics.Timer { return e.timer }

// Execute runs fn in a transaction and commits it. fn can be called many
// times and must not have side effects outside the transaction.
//
// If fn returns an error other than a conflict, a speculative failure or
// ErrRetry, the transaction is aborted and the error is returned. Execute
// fails with ErrTooManyRetries once the maximum number of attempts is used
// up and with ErrTimeout once the timeout budget of blocking retries is.
func (e *Executor) Execute(ctx context.Context, fn func(tx *Transaction) error) error {
	start := time.Now()
	defer e.timer.UpdateSince(start)

	tx := e.transaction()
	defer func() { e.stm.pool.Put(tx) }()

	for {
		if err := ctx.Err(); err != nil {
			tx.abort()
			return err
		}

		err := fn(tx)
		if err == nil {
			err = tx.Commit()
		}
		if err == nil {
			e.stm.stats.attempts.Update(float64(tx.attempt))
			return nil
		}

		if errors.Is(err, ErrRetry) {
			err = e.block(ctx, tx)
			if err == nil || errors.Is(err, ErrDeadTransaction) {
				err = e.next(tx)
				if err != nil {
					return err
				}
				continue
			}
		}

		switch {
		case errors.Is(err, ErrSpeculativeConfiguration):
			next, nextErr := e.upgrade(tx)
			if nextErr != nil {
				return nextErr
			}
			e.stm.pool.Put(tx)
			tx = next
		case errors.Is(err, ErrReadWriteConflict):
			util.WaitFor(tx.attempt)
			if err := e.next(tx); err != nil {
				return err
			}
		default:
			tx.abort()
			return err
		}
	}
}

// transaction returns a transaction of the variant the template currently requires.
func (e *Executor) transaction() *Transaction {
	variant, capacity := e.chooseVariant()

	tx := e.stm.pool.Take(variant)
	if tx != nil && variant.Storage == StorageArray && tx.Capacity() < capacity {
		tx = nil
	}
	if tx == nil {
		return e.stm.NewTransaction(TxnOptions{
			Variant:     variant,
			Config:      &e.conf,
			Speculative: e.spec,
			Capacity:    capacity,
		})
	}
	tx.Reuse(e.conf, e.spec)
	return tx
}

// chooseVariant picks the cheapest variant satisfying the speculative
// configuration. Without speculation the most capable variant is used.
func (e *Executor) chooseVariant() (Variant, int) {
	if !e.conf.Speculative {
		return FatArrayTree, 0
	}

	tier := TierLean
	if e.spec.IsFatRequired() {
		tier = TierFat
	}

	length := e.spec.MinimalLength()
	switch {
	case length <= 1:
		return Variant{Storage: StorageMono, Tier: tier}, 1
	case length <= e.conf.MaxArrayLength:
		return Variant{Storage: StorageArray, Tier: tier}, length
	default:
		return Variant{Storage: StorageTree, Tier: tier}, 0
	}
}

// next starts the next attempt of tx.
func (e *Executor) next(tx *Transaction) error {
	if tx.SoftReset() {
		return nil
	}
	e.stm.stats.tooManyRetries.Inc()
	executorLogger.Warningf("template %q: giving up after %d attempts", e.name, tx.attempt)
	return newError(CodeTooManyRetries, "template %q failed after %d attempts", e.name, tx.attempt)
}

// upgrade replaces tx with a transaction of the variant the template now
// requires. The attempt count, timeout budget and permanent listeners are kept.
func (e *Executor) upgrade(tx *Transaction) (*Transaction, error) {
	tx.abort()
	if tx.attempt >= e.conf.MaxRetries {
		e.stm.stats.tooManyRetries.Inc()
		return nil, newError(CodeTooManyRetries, "template %q failed after %d attempts", e.name, tx.attempt)
	}

	next := e.transaction()
	next.attempt = tx.attempt + 1
	next.remainingTimeout = tx.remainingTimeout
	next.permanentListeners = tx.permanentListeners

	executorLogger.Debugf("template %q: switching from %s to %s (%s)", e.name, tx.variant, next.variant, e.spec)
	return next, nil
}

// block registers a change listener for the reads of tx and waits until one
// of them changes or the timeout budget is used up.
func (e *Executor) block(ctx context.Context, tx *Transaction) error {
	l := latch.New()
	if err := tx.RegisterChangeListenerAndAbort(l); err != nil {
		if errors.Is(err, ErrNoRetryPossible) {
			tx.abort()
		}
		return err
	}

	if tx.remainingTimeout == config.NoTimeout {
		return l.Await(ctx)
	}
	if tx.remainingTimeout <= 0 {
		return e.timeout(tx)
	}

	waitCtx, cancel := context.WithTimeout(ctx, tx.remainingTimeout)
	defer cancel()

	start := time.Now()
	err := l.Await(waitCtx)
	tx.remainingTimeout -= time.Since(start)
	if tx.remainingTimeout < 0 {
		tx.remainingTimeout = 0
	}

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return e.timeout(tx)
	}
	return nil
}

func (e *Executor) timeout(tx *Transaction) error {
	e.stm.stats.timeouts.Inc()
	return newError(CodeTimeout, "template %q timed out waiting for a change after %d attempts", e.name, tx.attempt)
}
