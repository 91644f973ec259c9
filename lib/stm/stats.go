package stm

import (
	"fmt"
	"io"

	"github.com/VictoriaMetrics/metrics"
)

// Stats counts the outcomes of the transactions of one STM.
type Stats struct {
	set *metrics.Set

	commits             *metrics.Counter
	aborts              *metrics.Counter
	conflicts           *metrics.Counter
	speculativeFailures *metrics.Counter
	blockingRetries     *metrics.Counter
	timeouts            *metrics.Counter
	tooManyRetries      *metrics.Counter
	poolHits            *metrics.Counter
	poolMisses          *metrics.Counter
	attempts            *metrics.Histogram
}

func newStats(name string) *Stats {
	set := metrics.NewSet()
	metric := func(base string) string {
		return fmt.Sprintf(`%s{stm=%q}`, base, name)
	}
	return &Stats{
		set:                 set,
		commits:             set.NewCounter(metric("dstm_commits_total")),
		aborts:              set.NewCounter(metric("dstm_aborts_total")),
		conflicts:           set.NewCounter(metric("dstm_conflicts_total")),
		speculativeFailures: set.NewCounter(metric("dstm_speculative_failures_total")),
		blockingRetries:     set.NewCounter(metric("dstm_blocking_retries_total")),
		timeouts:            set.NewCounter(metric("dstm_timeouts_total")),
		tooManyRetries:      set.NewCounter(metric("dstm_too_many_retries_total")),
		poolHits:            set.NewCounter(metric("dstm_pool_hits_total")),
		poolMisses:          set.NewCounter(metric("dstm_pool_misses_total")),
		attempts:            set.NewHistogram(metric("dstm_attempts")),
	}
}

func (s *Stats) Commits() uint64             { return s.commits.Get() }
func (s *Stats) Aborts() uint64              { return s.aborts.Get() }
func (s *Stats) Conflicts() uint64           { return s.conflicts.Get() }
func (s *Stats) SpeculativeFailures() uint64 { return s.speculativeFailures.Get() }
func (s *Stats) BlockingRetries() uint64     { return s.blockingRetries.Get() }
func (s *Stats) Timeouts() uint64            { return s.timeouts.Get() }
func (s *Stats) TooManyRetries() uint64      { return s.tooManyRetries.Get() }
func (s *Stats) PoolHits() uint64            { return s.poolHits.Get() }
func (s *Stats) PoolMisses() uint64          { return s.poolMisses.Get() }

// WritePrometheus writes all statistics in the Prometheus text format to w.
func (s *Stats) WritePrometheus(w io.Writer) {
	s.set.WritePrometheus(w)
}

func (s *Stats) String() string {
	return fmt.Sprintf("commits=%d aborts=%d conflicts=%d speculative=%d blocking=%d timeouts=%d",
		s.Commits(), s.Aborts(), s.Conflicts(), s.SpeculativeFailures(), s.BlockingRetries(), s.Timeouts())
}

// record counts a failure returned by a transaction operation.
func (s *Stats) record(err *Error) {
	switch err.Code {
	case CodeReadWriteConflict:
		s.conflicts.Inc()
	case CodeSpeculativeConfiguration:
		s.speculativeFailures.Inc()
	}
}
