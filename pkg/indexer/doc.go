// Package indexer provides the single writer of a document index.
//
// A [Writer] stages adds, updates, upserts and deletes of typed documents and
// makes them visible to readers only on [Writer.Commit], which applies the
// whole batch and a new generation number in one atomic engine operation.
//
// # Architecture
//
//	┌──────────────────────┐
//	│  DocumentWriter[T]   │  ← This package
//	│  mapper, semaphore   │
//	└──────────┬───────────┘
//	           │ store.Batch
//	┌──────────▼───────────┐     ┌──────────────┐
//	│     store.Index      │     │ store.Ledger │  (commit history)
//	│   (bleve, atomic)    │     └──────────────┘
//	└──────────────────────┘
//
// # Usage
//
//	cfg := indexconfig.MustBuild[Product]([]string{"tags"}, "products")
//	w, err := indexer.NewWriter(ctx, cfg, idx,
//	    indexer.WithLedger(ledger),
//	    indexer.WithLease(lease.NewFileLease(path)),
//	)
//	if err != nil {
//	    return err
//	}
//	defer w.Close()
//
//	_ = w.Add(ctx, p)
//	gen, err := w.Commit(ctx)
//
// # Thread Safety
//
// A writer may be shared by goroutines. Every mutating call is serialized;
// admission is bounded and either waits or fails fast with [ErrBusy].
package indexer
