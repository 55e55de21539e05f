package searcher

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanfacet/internal/store"
	"github.com/Aman-CERP/amanfacet/pkg/document"
	"github.com/Aman-CERP/amanfacet/pkg/indexconfig"
	"github.com/Aman-CERP/amanfacet/pkg/indexer"
)

type item struct {
	ID        string    `search:"id,key"`
	Title     string    `search:"title"`
	Category  string    `search:"category,facet"`
	Colors    []string  `search:"colors,facet"`
	Featured  bool      `search:"featured,facet"`
	Price     float64   `search:"price"`
	Stock     int       `search:"stock,facet"`
	ListedAt  time.Time `search:"listed_at"`
	Note      string    `search:"note,noindex"`
	Thumbnail string    `search:"thumbnail,nostore"`
}

func (i item) UniqueKey() string { return i.ID }

var itemConfig = indexconfig.MustBuild[item]([]string{"colors"}, "items")

type fixture struct {
	idx      *store.Index
	writer   *indexer.DocumentWriter[item]
	provider *ReaderProvider
	engine   *Engine[item]
}

func newFixture(t *testing.T, providerOpts []ProviderOption, engineOpts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()

	schema, err := document.SchemaFor[item]()
	require.NoError(t, err)
	idx, err := store.Open(store.Options{Name: "items", Schema: schema})
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	w, err := indexer.NewWriter(ctx, itemConfig, idx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	p := NewReaderProvider(idx, providerOpts...)
	t.Cleanup(func() { _ = p.Close() })

	e, err := NewEngine(itemConfig, p, engineOpts...)
	require.NoError(t, err)

	return &fixture{idx: idx, writer: w, provider: p, engine: e}
}

func (f *fixture) add(t *testing.T, items ...item) uint64 {
	t.Helper()
	ctx := context.Background()
	for _, it := range items {
		require.NoError(t, f.writer.Add(ctx, it))
	}
	gen, err := f.writer.Commit(ctx)
	require.NoError(t, err)
	return gen
}

func catalog(n int) []item {
	cats := []string{"A", "B", "C"}
	out := make([]item, n)
	for i := range out {
		out[i] = item{
			ID:       fmt.Sprintf("item-%03d", i),
			Title:    fmt.Sprintf("gadget number %d", i),
			Category: cats[i%len(cats)],
			Stock:    i,
			Price:    float64(n - i),
		}
	}
	return out
}

func ids(items []item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}
