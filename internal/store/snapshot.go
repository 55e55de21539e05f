package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search"
	"github.com/blevesearch/bleve/v2/search/collector"
	"github.com/blevesearch/bleve/v2/search/facet"
	"github.com/blevesearch/bleve/v2/search/query"
	index "github.com/blevesearch/bleve_index_api"

	amerrors "github.com/Aman-CERP/amanfacet/internal/errors"
	"github.com/Aman-CERP/amanfacet/pkg/document"
)

// Snapshot is a point-in-time view of an Index. Commits made after it was
// opened are invisible to it. Safe for concurrent queries.
type Snapshot struct {
	reader     index.IndexReader
	mapping    mapping.IndexMapping
	index      string
	generation uint64
}

// Generation returns the commit generation the snapshot observes.
func (s *Snapshot) Generation() uint64 {
	return s.generation
}

// DocCount returns the number of documents in the snapshot.
func (s *Snapshot) DocCount() (uint64, error) {
	n, err := s.reader.DocCount()
	if err != nil {
		return 0, amerrors.EngineError("count", err).WithDetail("index", s.index)
	}
	return n, nil
}

// Search runs q and collects one page of hits, the total match count and
// the requested facet counts, all over the same filtered set.
func (s *Snapshot) Search(ctx context.Context, q Query) (*Hits, error) {
	start := time.Now()

	searcher, err := compile(q).Searcher(ctx, s.reader, s.mapping, search.SearcherOptions{})
	if err != nil {
		return nil, s.queryError(ctx, err)
	}
	defer func() { _ = searcher.Close() }()

	coll := collector.NewTopNCollector(q.Size, q.Skip, sortOrder(q.Sort))
	if len(q.Facets) > 0 {
		fb := search.NewFacetsBuilder(s.reader)
		for _, f := range q.Facets {
			fb.Add(f.Name, facet.NewTermsFacetBuilder(f.Field, f.Size))
		}
		coll.SetFacetsBuilder(fb)
	}

	if err := coll.Collect(ctx, searcher, s.reader); err != nil {
		return nil, s.queryError(ctx, err)
	}

	matches := coll.Results()
	hits := &Hits{
		Hits:       make([]Hit, 0, len(matches)),
		Total:      coll.Total(),
		MaxScore:   coll.MaxScore(),
		Facets:     make(map[string]FacetCounts, len(q.Facets)),
		Generation: s.generation,
	}
	for _, m := range matches {
		hits.Hits = append(hits.Hits, Hit{ID: m.ID, Score: m.Score})
	}
	for name, fr := range coll.FacetResults() {
		fc := FacetCounts{Field: fr.Field, Total: fr.Total, Missing: fr.Missing, Other: fr.Other}
		if fr.Terms != nil {
			for _, tf := range fr.Terms.Terms() {
				fc.Terms = append(fc.Terms, TermCount{Term: tf.Term, Count: tf.Count})
			}
		}
		hits.Facets[name] = fc
	}
	hits.Took = time.Since(start)

	return hits, nil
}

func (s *Snapshot) queryError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		if ctxErr == nil {
			ctxErr = err
		}
		return amerrors.New(amerrors.ErrCodeSearchFailed, "query abandoned", ctxErr).WithDetail("index", s.index)
	}
	return amerrors.EngineError("query", err).WithDetail("index", s.index)
}

// StoredFields returns the stored fields of document id as mapper input.
// found is false when the snapshot holds no such document.
func (s *Snapshot) StoredFields(id string) (fields []document.Field, found bool, err error) {
	doc, err := s.reader.Document(id)
	if err != nil {
		return nil, false, amerrors.EngineError("fetch stored fields", err).
			WithDetail("index", s.index).
			WithDetail("key", id)
	}
	if doc == nil {
		return nil, false, nil
	}

	var decodeErr error
	doc.VisitFields(func(f index.Field) {
		name := f.Name()
		if decodeErr != nil || strings.HasPrefix(name, "_") {
			return
		}
		out := document.Field{Name: name, Stored: true}
		if ap := f.ArrayPositions(); len(ap) > 0 {
			out.Position = int(ap[0])
		}

		switch v := f.(type) {
		case index.NumericField:
			out.Kind = document.KindNumeric
			out.Number, decodeErr = v.Number()
		case index.BooleanField:
			out.Kind = document.KindBoolean
			out.Bool, decodeErr = v.Boolean()
		case index.TextField:
			out.Kind = document.KindText
			out.Text = v.Text()
		default:
			return
		}
		fields = append(fields, out)
	})
	if decodeErr != nil {
		return nil, true, amerrors.New(amerrors.ErrCodeFileCorrupt, "stored field undecodable", decodeErr).
			WithDetail("index", s.index).
			WithDetail("key", id)
	}

	return fields, true, nil
}

// IDs returns every document ID in the snapshot, sorted.
func (s *Snapshot) IDs(ctx context.Context) ([]string, error) {
	r, err := s.reader.DocIDReaderAll()
	if err != nil {
		return nil, amerrors.EngineError("list documents", err).WithDetail("index", s.index)
	}
	defer func() { _ = r.Close() }()

	var ids []string
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		iid, err := r.Next()
		if err != nil {
			return nil, amerrors.EngineError("list documents", err).WithDetail("index", s.index)
		}
		if iid == nil {
			break
		}
		id, err := s.reader.ExternalID(iid)
		if err != nil {
			return nil, amerrors.EngineError("list documents", err).WithDetail("index", s.index)
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close releases the snapshot.
func (s *Snapshot) Close() error {
	if err := s.reader.Close(); err != nil {
		return amerrors.EngineError("close snapshot", err).WithDetail("index", s.index)
	}
	return nil
}

// compile translates q into a bleve query: blank text matches all, other
// text is a disjunction of match queries over the text fields, and every
// TermFilter is ANDed as a disjunction of exact terms.
func compile(q Query) query.Query {
	var main query.Query
	text := strings.TrimSpace(q.Text)
	if text == "" || len(q.TextFields) == 0 {
		main = bleve.NewMatchAllQuery()
	} else {
		clauses := make([]query.Query, 0, len(q.TextFields))
		for _, field := range q.TextFields {
			mq := bleve.NewMatchQuery(text)
			mq.SetField(field)
			clauses = append(clauses, mq)
		}
		main = bleve.NewDisjunctionQuery(clauses...)
	}

	if len(q.Filters) == 0 {
		return main
	}

	conjuncts := make([]query.Query, 0, len(q.Filters)+1)
	conjuncts = append(conjuncts, main)
	for _, f := range q.Filters {
		terms := make([]query.Query, 0, len(f.Terms))
		for _, t := range f.Terms {
			tq := bleve.NewTermQuery(t)
			tq.SetField(f.Field)
			terms = append(terms, tq)
		}
		if len(terms) == 1 {
			conjuncts = append(conjuncts, terms[0])
			continue
		}
		conjuncts = append(conjuncts, bleve.NewDisjunctionQuery(terms...))
	}
	return bleve.NewConjunctionQuery(conjuncts...)
}

// sortOrder ranks by relevance unless keys are given; the document ID
// always breaks ties so that pages never overlap.
func sortOrder(keys []SortKey) search.SortOrder {
	order := make(search.SortOrder, 0, len(keys)+2)
	for _, k := range keys {
		sf := &search.SortField{
			Field:   k.Field,
			Desc:    k.Desc,
			Type:    search.SortFieldAsString,
			Missing: search.SortFieldMissingLast,
		}
		if k.Numeric {
			sf.Type = search.SortFieldAsNumber
		}
		order = append(order, sf)
	}
	if len(keys) == 0 {
		order = append(order, &search.SortScore{Desc: true})
	}
	return append(order, &search.SortDocID{})
}
