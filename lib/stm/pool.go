package stm

import (
	"github.com/ValentinKolb/dSTM/lib/config"
	"github.com/ValentinKolb/dSTM/lib/speculative"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var poolLogger = logger.GetLogger("pool")

// Pool keeps finished transactions for reuse, one bounded queue per variant.
// A pooled transaction behaves exactly like a new one; if the pool is empty
// or full, transactions are simply allocated or dropped.
//
// Thread-safety: All methods are thread-safe and can be called concurrently.
type Pool struct {
	capacity int
	queues   map[Variant]*xsync.MPMCQueueOf[*Transaction]
	stats    *Stats
}

// newPool creates a pool keeping up to capacity transactions per variant (0 = no pooling).
func newPool(capacity int, stats *Stats) *Pool {
	p := &Pool{
		capacity: capacity,
		queues:   make(map[Variant]*xsync.MPMCQueueOf[*Transaction], len(Variants)),
		stats:    stats,
	}
	if capacity > 0 {
		for _, v := range Variants {
			p.queues[v] = xsync.NewMPMCQueueOf[*Transaction](capacity)
		}
	}
	return p
}

// Take returns a pooled transaction of the variant or nil if there is none.
// The transaction must be reinitialized with Reuse before it is used.
func (p *Pool) Take(variant Variant) *Transaction {
	q, ok := p.queues[variant]
	if !ok {
		return nil
	}
	tx, ok := q.TryDequeue()
	if !ok {
		p.stats.poolMisses.Inc()
		return nil
	}
	p.stats.poolHits.Inc()
	return tx
}

// Put returns a transaction to the pool. An unfinished transaction is aborted.
func (p *Pool) Put(tx *Transaction) {
	if tx == nil {
		return
	}
	tx.abort()
	tx.attached.clear()
	tx.listeners = nil
	tx.permanentListeners = nil

	q, ok := p.queues[tx.variant]
	if !ok {
		return
	}
	if !q.TryEnqueue(tx) {
		poolLogger.Debugf("pool for %s is full, dropping transaction %d", tx.variant, tx.id)
	}
}

// Reuse prepares a pooled transaction for a new logical execution. It gets a
// new identity, so locks of constructions it left behind are not inherited.
func (tx *Transaction) Reuse(conf config.TxnConfig, spec *speculative.Config) {
	if spec == nil {
		spec = speculative.New()
	}
	tx.abort()
	tx.init(conf, spec)
}
