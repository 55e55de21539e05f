package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amerrors "github.com/Aman-CERP/amanfacet/internal/errors"
	"github.com/Aman-CERP/amanfacet/pkg/document"
)

type article struct {
	ID     string   `search:"id,key"`
	Title  string   `search:"title"`
	Author string   `search:"author,facet"`
	Tags   []string `search:"tags,facet"`
	Words  int      `search:"words"`
}

func (a article) UniqueKey() string { return a.ID }

var articleFacets = document.FacetSchema{"author": false, "tags": true}

func openTestIndex(t *testing.T, path string) *Index {
	t.Helper()
	schema, err := document.SchemaFor[article]()
	require.NoError(t, err)

	idx, err := Open(Options{Name: "articles", Path: path, Schema: schema})
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func put(t *testing.T, b *Batch, a article) {
	t.Helper()
	m, err := document.NewMapper[article]()
	require.NoError(t, err)
	fields, err := m.Serialize(a, articleFacets)
	require.NoError(t, err)
	require.NoError(t, b.Put(a.ID, fields))
}

func seed(t *testing.T, idx *Index, gen uint64, docs ...article) {
	t.Helper()
	b := idx.NewBatch()
	for _, a := range docs {
		put(t, b, a)
	}
	require.NoError(t, idx.Commit(b, gen))
}

func snapshot(t *testing.T, idx *Index) *Snapshot {
	t.Helper()
	snap, err := idx.Snapshot()
	require.NoError(t, err)
	t.Cleanup(func() { _ = snap.Close() })
	return snap
}

func TestOpen_RequiresSchema(t *testing.T) {
	_, err := Open(Options{Name: "x"})
	require.Error(t, err)
	assert.Equal(t, amerrors.ErrCodeInvalidInput, amerrors.GetCode(err))
}

func TestOpen_RejectsUnknownAnalyzer(t *testing.T) {
	schema, err := document.SchemaFor[article]()
	require.NoError(t, err)

	_, err = Open(Options{Name: "x", Schema: schema, Analyzer: "klingon"})
	require.Error(t, err)
	assert.Equal(t, amerrors.ErrCodeConfigInvalid, amerrors.GetCode(err))
}

func TestIndex_Commit_AdvancesGeneration(t *testing.T) {
	// Given: a fresh in-memory index
	idx := openTestIndex(t, "")
	assert.Equal(t, uint64(0), idx.Generation())

	// When: committing one batch
	seed(t, idx, 1, article{ID: "a1", Title: "Go concurrency patterns", Author: "rob"})

	// Then: the generation and the document are visible
	assert.Equal(t, uint64(1), idx.Generation())
	ok, err := idx.Exists("a1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = idx.Exists("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSnapshot_IsolatedFromLaterCommits(t *testing.T) {
	// Given: a snapshot taken after the first commit
	idx := openTestIndex(t, "")
	seed(t, idx, 1, article{ID: "a1", Title: "first", Author: "ann"})
	before := snapshot(t, idx)

	// When: a second commit lands
	seed(t, idx, 2, article{ID: "a2", Title: "second", Author: "bob"})

	// Then: the old snapshot still sees one document at generation 1
	n, err := before.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
	assert.Equal(t, uint64(1), before.Generation())

	// And: a new snapshot sees both
	after := snapshot(t, idx)
	n, err = after.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)
	assert.Equal(t, uint64(2), after.Generation())
}

func TestBatch_LastOperationWins(t *testing.T) {
	idx := openTestIndex(t, "")
	b := idx.NewBatch()

	put(t, b, article{ID: "a1", Title: "draft"})
	b.Delete("a1")
	put(t, b, article{ID: "a2", Title: "kept"})

	present, staged := b.Staged("a1")
	assert.True(t, staged)
	assert.False(t, present)

	puts, deletes := b.Counts()
	assert.Equal(t, 1, puts)
	assert.Equal(t, 1, deletes)
	assert.Equal(t, 2, b.Len())

	require.NoError(t, idx.Commit(b, 1))

	ids, err := snapshot(t, idx).IDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a2"}, ids)
}

func TestBatch_Reset(t *testing.T) {
	idx := openTestIndex(t, "")
	b := idx.NewBatch()
	put(t, b, article{ID: "a1", Title: "draft"})

	b.Reset()

	assert.Equal(t, 0, b.Len())
	_, staged := b.Staged("a1")
	assert.False(t, staged)
}

func TestSnapshot_Search_TextAndFacets(t *testing.T) {
	// Given: three articles by two authors
	idx := openTestIndex(t, "")
	seed(t, idx, 1,
		article{ID: "a1", Title: "Go generics in practice", Author: "ann", Tags: []string{"go", "types"}},
		article{ID: "a2", Title: "Rust ownership", Author: "bob", Tags: []string{"rust"}},
		article{ID: "a3", Title: "Go scheduler internals", Author: "ann", Tags: []string{"go", "runtime"}},
	)
	snap := snapshot(t, idx)

	// When: searching for "go" with author and tag facets
	hits, err := snap.Search(context.Background(), Query{
		Text:       "go",
		TextFields: []string{"title"},
		Facets: []FacetRequest{
			{Name: "author", Field: document.FacetFieldName("author"), Size: 10},
			{Name: "tags", Field: document.FacetFieldName("tags"), Size: 10},
		},
		Size: 10,
	})
	require.NoError(t, err)

	// Then: only the Go articles match
	assert.Equal(t, uint64(2), hits.Total)
	ids := []string{hits.Hits[0].ID, hits.Hits[1].ID}
	assert.ElementsMatch(t, []string{"a1", "a3"}, ids)
	assert.Equal(t, uint64(1), hits.Generation)

	// And: facet counts cover the matching set only
	author := hits.Facets["author"]
	require.Len(t, author.Terms, 1)
	assert.Equal(t, TermCount{Term: "ann", Count: 2}, author.Terms[0])

	tags := map[string]int{}
	for _, tc := range hits.Facets["tags"].Terms {
		tags[tc.Term] = tc.Count
	}
	assert.Equal(t, map[string]int{"go": 2, "types": 1, "runtime": 1}, tags)
}

func TestSnapshot_Search_FiltersAndPages(t *testing.T) {
	// Given: four articles
	idx := openTestIndex(t, "")
	seed(t, idx, 1,
		article{ID: "a1", Title: "one", Author: "ann", Words: 400},
		article{ID: "a2", Title: "two", Author: "bob", Words: 100},
		article{ID: "a3", Title: "three", Author: "ann", Words: 300},
		article{ID: "a4", Title: "four", Author: "cat", Words: 200},
	)
	snap := snapshot(t, idx)

	filter := []TermFilter{{Field: document.FacetFieldName("author"), Terms: []string{"ann", "cat"}}}
	sortBy := []SortKey{{Field: "words", Numeric: true}}

	// When: reading two pages sorted by word count
	first, err := snap.Search(context.Background(), Query{Filters: filter, Sort: sortBy, Size: 2})
	require.NoError(t, err)
	second, err := snap.Search(context.Background(), Query{Filters: filter, Sort: sortBy, Skip: 2, Size: 2})
	require.NoError(t, err)

	// Then: the filter keeps three documents split across pages in order
	assert.Equal(t, uint64(3), first.Total)
	require.Len(t, first.Hits, 2)
	assert.Equal(t, "a4", first.Hits[0].ID)
	assert.Equal(t, "a3", first.Hits[1].ID)
	require.Len(t, second.Hits, 1)
	assert.Equal(t, "a1", second.Hits[0].ID)
}

func TestSnapshot_Search_CancelledContext(t *testing.T) {
	idx := openTestIndex(t, "")
	seed(t, idx, 1, article{ID: "a1", Title: "one"})
	snap := snapshot(t, idx)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := snap.Search(ctx, Query{Size: 10})
	require.Error(t, err)
	assert.Equal(t, amerrors.ErrCodeSearchFailed, amerrors.GetCode(err))
}

func TestSnapshot_StoredFields(t *testing.T) {
	// Given: a committed article
	idx := openTestIndex(t, "")
	want := article{ID: "a1", Title: "Readable code", Author: "ann", Tags: []string{"style", "go"}, Words: 1200}
	seed(t, idx, 1, want)
	snap := snapshot(t, idx)

	// When: loading its stored fields and mapping them back
	fields, found, err := snap.StoredFields("a1")
	require.NoError(t, err)
	require.True(t, found)

	m, err := document.NewMapper[article]()
	require.NoError(t, err)
	got, err := m.Deserialize(fields)
	require.NoError(t, err)

	// Then: the document round-trips
	assert.Equal(t, want, got)

	// And: unknown IDs are reported as not found
	_, found, err = snap.StoredFields("nope")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestIndex_ReopenKeepsGeneration(t *testing.T) {
	// Given: an on-disk index with two commits
	dir := filepath.Join(t.TempDir(), "articles")
	schema, err := document.SchemaFor[article]()
	require.NoError(t, err)

	idx, err := Open(Options{Name: "articles", Path: dir, Schema: schema})
	require.NoError(t, err)
	seed(t, idx, 1, article{ID: "a1", Title: "one"})
	seed(t, idx, 2, article{ID: "a2", Title: "two"})
	require.NoError(t, idx.Close())

	// When: reopening
	reopened := openTestIndex(t, dir)

	// Then: the generation and documents survive
	assert.Equal(t, uint64(2), reopened.Generation())
	stats, err := reopened.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.DocumentCount)
	assert.False(t, stats.InMemory)
}

func TestIndex_RecoversFromCorruptMeta(t *testing.T) {
	// Given: an index directory whose metadata is garbage
	dir := filepath.Join(t.TempDir(), "articles")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index_meta.json"), []byte("{not json"), 0644))

	// When: opening it
	idx := openTestIndex(t, dir)

	// Then: a fresh empty index is created
	assert.Equal(t, uint64(0), idx.Generation())
	stats, err := idx.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), stats.DocumentCount)
}

func TestIndex_ClosedRejectsOperations(t *testing.T) {
	idx := openTestIndex(t, "")
	require.NoError(t, idx.Close())
	require.NoError(t, idx.Close())

	_, err := idx.Snapshot()
	assert.ErrorIs(t, err, ErrClosed)
	_, err = idx.Exists("a1")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, idx.Commit(idx.NewBatch(), 1), ErrClosed)
}

func TestValidateIndexIntegrity(t *testing.T) {
	dir := t.TempDir()

	assert.NoError(t, validateIndexIntegrity(filepath.Join(dir, "absent")))

	empty := filepath.Join(dir, "empty")
	require.NoError(t, os.MkdirAll(empty, 0755))
	assert.Error(t, validateIndexIntegrity(empty))

	require.NoError(t, os.WriteFile(filepath.Join(empty, "index_meta.json"), []byte(`{"storage":"scorch"}`), 0644))
	assert.NoError(t, validateIndexIntegrity(empty))
}

func TestDecodeGeneration(t *testing.T) {
	gen, err := decodeGeneration(nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), gen)

	gen, err = decodeGeneration(encodeGeneration(42))
	require.NoError(t, err)
	assert.Equal(t, uint64(42), gen)

	_, err = decodeGeneration([]byte{1, 2, 3})
	assert.Equal(t, amerrors.ErrCodeCorruptIndex, amerrors.GetCode(err))
}
