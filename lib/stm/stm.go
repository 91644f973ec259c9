package stm

import (
	"context"
	"sync/atomic"

	"github.com/ValentinKolb/dSTM/lib/config"
	"github.com/ValentinKolb/dSTM/lib/logging"
	"github.com/ValentinKolb/dSTM/lib/speculative"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	gometrics "github.com/rcrowley/go-metrics"
)

var Logger = logger.GetLogger("stm")

// STM is the context all refs and transactions belong to. It owns the id
// namespaces of refs and transactions, the speculative configurations of the
// transaction templates, the transaction pool and the statistics.
// Refs of different STMs cannot be mixed in one transaction.
type STM struct {
	name      string
	conf      *config.StmConfig
	refIDs    atomic.Uint64
	txnIDs    atomic.Uint64
	templates *xsync.MapOf[string, *speculative.Config]
	executors *xsync.MapOf[string, *Executor]
	pool      *Pool
	stats     *Stats
	timers    gometrics.Registry
}

// New creates a new STM. If conf is nil the default configuration is used.
// The package loggers are set to the log level and format of conf.
func New(name string, conf *config.StmConfig) (*STM, error) {
	if conf == nil {
		conf = config.DefaultStmConfig()
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	logging.InitFromConfig(conf)

	stats := newStats(name)
	s := &STM{
		name:      name,
		conf:      conf,
		templates: xsync.NewMapOf[string, *speculative.Config](),
		executors: xsync.NewMapOf[string, *Executor](),
		stats:     stats,
		pool:      newPool(conf.PoolCapacity, stats),
		timers:    gometrics.NewRegistry(),
	}

	Logger.Debugf("created stm %q (read biased threshold=%d, pool capacity=%d)",
		name, conf.ReadBiasedThreshold, conf.PoolCapacity)
	return s, nil
}

// Name returns the name of the STM.
func (s *STM) Name() string { return s.name }

// Config returns the configuration of the STM. It must not be modified.
func (s *STM) Config() *config.StmConfig { return s.conf }

// Stats returns the statistics of the STM.
func (s *STM) Stats() *Stats { return s.stats }

// Pool returns the transaction pool of the STM.
func (s *STM) Pool() *Pool { return s.pool }

// Template returns the speculative configuration shared by all transactions
// of the named template. It is created on first use.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *STM) Template(name string) *speculative.Config {
	spec, _ := s.templates.LoadOrCompute(name, speculative.New)
	return spec
}

// Atomic executes fn in a transaction of the default template.
func (s *STM) Atomic(ctx context.Context, fn func(tx *Transaction) error) error {
	return s.Executor("default").Execute(ctx, fn)
}

// Executor returns the executor of the named template using the default
// transaction configuration. It is created on first use.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (s *STM) Executor(name string) *Executor {
	e, _ := s.executors.LoadOrCompute(name, func() *Executor {
		return s.NewExecutor(name, nil)
	})
	return e
}

// TxnOptions selects the implementation and configuration of a new transaction.
type TxnOptions struct {
	// Variant is the storage and feature tier of the transaction
	Variant Variant
	// Config is the transaction configuration (nil = default of the STM)
	Config *config.TxnConfig
	// Speculative is the configuration of the template (nil = a new one)
	Speculative *speculative.Config
	// Capacity is the capacity of array transactions (0 = minimal length of Speculative)
	Capacity int
}

// NewTransaction creates a new active transaction.
func (s *STM) NewTransaction(opts TxnOptions) *Transaction {
	conf := s.conf.Txn
	if opts.Config != nil {
		conf = *opts.Config
	}
	spec := opts.Speculative
	if spec == nil {
		spec = speculative.New()
	}
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = spec.MinimalLength()
	}

	tx := &Transaction{
		stm:      s,
		variant:  opts.Variant,
		attached: newAttachedSet(opts.Variant.Storage, capacity),
	}
	tx.init(conf, spec)
	return tx
}
