// Package searcher provides point-in-time readers and the faceted search
// engine over a document index.
//
//   - [ReaderProvider]: opens snapshots, pools a shared refcounted reader
//     and refreshes it per [RefreshPolicy]
//   - [Reader]: one immutable generation of the index
//   - [Engine]: typed full-text queries narrowed by facet filters, with
//     facet counts over the filtered set
//
// # Architecture
//
//	┌─────────────────────────────────────────────┐
//	│                 Engine[T]                   │
//	│  validate → compile → collect → materialize │
//	│        │                          │         │
//	│  ┌─────▼──────────┐        ┌──────▼──────┐  │
//	│  │ ReaderProvider │        │ LRU (gen,id)│  │
//	│  │  pooled Reader │        └─────────────┘  │
//	│  └─────┬──────────┘                         │
//	└────────┼────────────────────────────────────┘
//	         │ store.Snapshot
//	   store.Index (bleve)
//
// # Usage
//
//	provider := searcher.NewReaderProvider(idx)
//	engine, _ := searcher.NewEngine(cfg, provider)
//
//	res, err := engine.Search(ctx, "running shoe",
//	    []searcher.FacetFilter{{Name: "brand", Values: []string{"acme", "zeta"}}},
//	    0, 20)
//
// Filters on different facets are ANDed; values of one facet are ORed.
// Unknown facets and bad pagination fail before the index is touched.
//
// # Thread Safety
//
// Engine, ReaderProvider and Reader are safe for concurrent use.
package searcher
