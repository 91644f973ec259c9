package testing

import (
	"testing"

	"github.com/ValentinKolb/dSTM/lib/orec"
)

// RunTransactionBenchmarks runs all benchmarks for a transaction variant
func RunTransactionBenchmarks(b *testing.B, name string, factory TxFactory) {
	b.Run(name, func(b *testing.B) {
		b.Run("ReadCommit", func(b *testing.B) {
			benchmarkReadCommit(b, factory)
		})

		b.Run("WriteCommit", func(b *testing.B) {
			benchmarkWriteCommit(b, factory)
		})

		b.Run("WriteAbort", func(b *testing.B) {
			benchmarkWriteAbort(b, factory)
		})

		b.Run("ParallelRead", func(b *testing.B) {
			benchmarkParallelRead(b, factory)
		})
	})
}

func benchmarkReadCommit(b *testing.B, factory TxFactory) {
	s := newSTM(b)
	ref := s.NewRef(0)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tx := factory(s)
		if _, err := tx.OpenForRead(ref, orec.LockNone); err != nil {
			b.Fatalf("OpenForRead failed: %v", err)
		}
		if err := tx.Commit(); err != nil {
			b.Fatalf("Commit failed: %v", err)
		}
	}
}

func benchmarkWriteCommit(b *testing.B, factory TxFactory) {
	s := newSTM(b)
	ref := s.NewRef(0)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tx := factory(s)
		if err := tx.Set(ref, i); err != nil {
			b.Fatalf("Set failed: %v", err)
		}
		if err := tx.Commit(); err != nil {
			b.Fatalf("Commit failed: %v", err)
		}
	}
}

func benchmarkWriteAbort(b *testing.B, factory TxFactory) {
	s := newSTM(b)
	ref := s.NewRef(0)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tx := factory(s)
		if err := tx.Set(ref, i); err != nil {
			b.Fatalf("Set failed: %v", err)
		}
		if err := tx.Abort(); err != nil {
			b.Fatalf("Abort failed: %v", err)
		}
	}
}

func benchmarkParallelRead(b *testing.B, factory TxFactory) {
	s := newSTM(b)
	ref := s.NewRef(0)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			tx := factory(s)
			if _, err := tx.OpenForRead(ref, orec.LockNone); err != nil {
				// contention with the read bias transition is possible
				continue
			}
			_ = tx.Commit()
		}
	})
}
