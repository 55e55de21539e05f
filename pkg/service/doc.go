// Package service wires the components of one faceted index from
// configuration and hands them out by document type.
//
// For each registered document type T a [Registry] opens the bleve index
// under the configured data directory, the commit ledger beside it, the
// writer lease, a [indexer.DocumentWriter], a [searcher.ReaderProvider] and
// a [searcher.Engine]. Callers retrieve them again with [Lookup].
//
//	reg, _ := service.NewRegistry(cfg)
//	defer reg.Close()
//
//	products, err := service.Register(ctx, reg, catalog.IndexConfig)
//	_ = products.Writer.Upsert(ctx, p)
//	_, _ = products.Writer.Commit(ctx)
//	res, _ := products.Engine.Search(ctx, "lamp", nil, 0, 20)
//
// One registry serves one document type per index name; registering a
// second type under a taken name, or the same type twice, fails.
package service
