package searcher

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	amerrors "github.com/Aman-CERP/amanfacet/internal/errors"
	"github.com/Aman-CERP/amanfacet/internal/store"
	"github.com/Aman-CERP/amanfacet/pkg/document"
	"github.com/Aman-CERP/amanfacet/pkg/indexconfig"
)

// Engine defaults.
const (
	DefaultMaxPageSize      = 1000
	DefaultMaxFacetValues   = 100
	DefaultCacheSize        = 1024
	DefaultFetchConcurrency = 8
)

type engineOptions struct {
	logger           *slog.Logger
	maxPageSize      int
	maxFacetValues   int
	queryTimeout     time.Duration
	cacheSize        int
	fetchConcurrency int
}

// Option configures an Engine.
type Option func(*engineOptions)

// WithLogger sets the engine logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *engineOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMaxPageSize sets the largest accepted page size.
func WithMaxPageSize(n int) Option {
	return func(o *engineOptions) {
		if n > 0 {
			o.maxPageSize = n
		}
	}
}

// WithMaxFacetValues sets how many labels are reported per facet. The
// remainder is summed into FacetSummary.Other.
func WithMaxFacetValues(n int) Option {
	return func(o *engineOptions) {
		if n > 0 {
			o.maxFacetValues = n
		}
	}
}

// WithQueryTimeout bounds each query. Zero disables the bound.
func WithQueryTimeout(d time.Duration) Option {
	return func(o *engineOptions) {
		if d >= 0 {
			o.queryTimeout = d
		}
	}
}

// WithCacheSize sets the number of materialized documents kept in memory.
// Zero disables the cache.
func WithCacheSize(n int) Option {
	return func(o *engineOptions) {
		if n >= 0 {
			o.cacheSize = n
		}
	}
}

// WithFetchConcurrency bounds the stored-field loads run in parallel per page.
func WithFetchConcurrency(n int) Option {
	return func(o *engineOptions) {
		if n > 0 {
			o.fetchConcurrency = n
		}
	}
}

type cacheKey struct {
	generation uint64
	id         string
}

// Engine is the SearchEngine of one index of T.
type Engine[T document.Document] struct {
	name       string
	schema     *document.Schema
	facets     document.FacetSchema
	facetNames []string
	mapper     *document.Mapper[T]
	provider   *ReaderProvider
	cache      *lru.Cache[cacheKey, []document.Field]
	opts       engineOptions
}

// NewEngine returns a search engine reading through provider.
func NewEngine[T document.Document](cfg *indexconfig.Config[T], provider *ReaderProvider, opts ...Option) (*Engine[T], error) {
	if cfg == nil {
		return nil, amerrors.New(amerrors.ErrCodeInvalidInput, "index configuration is required", nil)
	}
	if provider == nil {
		return nil, amerrors.New(amerrors.ErrCodeInvalidInput, "reader provider is required", nil)
	}

	o := engineOptions{
		logger:           slog.Default(),
		maxPageSize:      DefaultMaxPageSize,
		maxFacetValues:   DefaultMaxFacetValues,
		cacheSize:        DefaultCacheSize,
		fetchConcurrency: DefaultFetchConcurrency,
	}
	for _, opt := range opts {
		opt(&o)
	}

	facets, err := cfg.FacetSchema()
	if err != nil {
		return nil, err
	}
	schema, err := cfg.Schema()
	if err != nil {
		return nil, err
	}
	mapper, err := document.NewMapper[T]()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(facets))
	for name := range facets {
		names = append(names, name)
	}
	sort.Strings(names)

	e := &Engine[T]{
		name:       cfg.IndexName(),
		schema:     schema,
		facets:     facets,
		facetNames: names,
		mapper:     mapper,
		provider:   provider,
		opts:       o,
	}

	// Stored fields are cached, never decoded documents: every hit is
	// decoded afresh so callers own what they receive.
	if o.cacheSize > 0 {
		e.cache, _ = lru.New[cacheKey, []document.Field](o.cacheSize)
	}
	return e, nil
}

// Search runs a relevance-ordered query.
func (e *Engine[T]) Search(ctx context.Context, text string, filters []FacetFilter, page, pageSize int) (*QueryResult[T], error) {
	return e.Query(ctx, QueryRequest{Text: text, Filters: filters, Page: page, PageSize: pageSize})
}

// Query validates req, runs it against a pooled snapshot and materializes
// the page. Validation failures never reach the engine.
func (e *Engine[T]) Query(ctx context.Context, req QueryRequest) (*QueryResult[T], error) {
	start := time.Now()

	q, err := e.compile(req)
	if err != nil {
		return nil, err
	}

	if e.opts.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.queryTimeout)
		defer cancel()
	}

	r, err := e.provider.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = e.provider.Release(r) }()

	hits, err := r.snap.Search(ctx, q)
	if err != nil {
		return nil, err
	}

	items, err := e.materialize(ctx, r, hits.Hits)
	if err != nil {
		return nil, err
	}

	result := &QueryResult[T]{
		Items:      items,
		Total:      hits.Total,
		Facets:     e.summaries(hits.Facets),
		Generation: hits.Generation,
		Page:       req.Page,
		PageSize:   req.PageSize,
		Took:       time.Since(start),
	}

	e.opts.logger.Debug("query_executed",
		slog.String("index", e.name),
		slog.Int("text_len", len(req.Text)),
		slog.Int("filters", len(req.Filters)),
		slog.Uint64("total", result.Total),
		slog.Int("returned", len(items)),
		slog.Uint64("generation", result.Generation),
		slog.Duration("took", result.Took))

	return result, nil
}

// Get returns the committed document whose unique key is key, as of the
// current pooled snapshot.
func (e *Engine[T]) Get(ctx context.Context, key string) (T, error) {
	var zero T
	if strings.TrimSpace(key) == "" {
		return zero, amerrors.New(amerrors.ErrCodeMissingKey, "document key is empty", nil).
			WithDetail("index", e.name)
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	r, err := e.provider.Acquire(ctx)
	if err != nil {
		return zero, err
	}
	defer func() { _ = e.provider.Release(r) }()

	fields, found, err := e.storedFields(r, key)
	if err != nil {
		return zero, err
	}
	if !found {
		return zero, amerrors.New(amerrors.ErrCodeNotFound, "document not found", nil).
			WithDetail("index", e.name).
			WithDetail("key", key)
	}
	return e.mapper.Deserialize(fields)
}

// storedFields loads the stored fields of id from r through the cache.
func (e *Engine[T]) storedFields(r *Reader, id string) ([]document.Field, bool, error) {
	key := cacheKey{generation: r.Generation(), id: id}
	if e.cache != nil {
		if fields, ok := e.cache.Get(key); ok {
			return fields, true, nil
		}
	}
	fields, found, err := r.snap.StoredFields(id)
	if err != nil || !found {
		return nil, found, err
	}
	if e.cache != nil {
		e.cache.Add(key, fields)
	}
	return fields, true, nil
}

// compile validates req and translates it into an engine query.
func (e *Engine[T]) compile(req QueryRequest) (store.Query, error) {
	if err := e.validatePage(req.Page, req.PageSize); err != nil {
		return store.Query{}, err
	}

	filters, err := e.translateFilters(req.Filters)
	if err != nil {
		return store.Query{}, err
	}

	sortKeys, err := e.translateSort(req.Sort)
	if err != nil {
		return store.Query{}, err
	}

	facetReqs := make([]store.FacetRequest, 0, len(e.facetNames))
	for _, name := range e.facetNames {
		facetReqs = append(facetReqs, store.FacetRequest{
			Name:  name,
			Field: document.FacetFieldName(name),
			Size:  e.opts.maxFacetValues,
		})
	}

	return store.Query{
		Text:       req.Text,
		TextFields: e.schema.SearchableFields(),
		Filters:    filters,
		Sort:       sortKeys,
		Facets:     facetReqs,
		Skip:       req.Page * req.PageSize,
		Size:       req.PageSize,
	}, nil
}

func (e *Engine[T]) validatePage(page, pageSize int) error {
	var msg string
	switch {
	case page < 0:
		msg = "page must not be negative"
	case pageSize <= 0:
		msg = "page size must be positive"
	case pageSize > e.opts.maxPageSize:
		msg = fmt.Sprintf("page size exceeds the maximum of %d", e.opts.maxPageSize)
	case page > (math.MaxInt32-pageSize)/pageSize:
		msg = "page is out of range"
	default:
		return nil
	}
	return amerrors.New(amerrors.ErrCodeInvalidPagination, msg, nil).
		WithDetail("index", e.name).
		WithDetail("page", fmt.Sprint(page)).
		WithDetail("page_size", fmt.Sprint(pageSize))
}

// translateFilters merges filters by facet name, keeping first-seen order of
// names and values, and rejects unknown facets and empty value lists.
func (e *Engine[T]) translateFilters(filters []FacetFilter) ([]store.TermFilter, error) {
	if len(filters) == 0 {
		return nil, nil
	}

	var out []store.TermFilter
	byName := make(map[string]int)
	seen := make(map[string]map[string]struct{})

	for _, f := range filters {
		if !e.facets.Has(f.Name) {
			return nil, e.invalidFacet(f.Name, fmt.Sprintf("%s is not a facet of index %s", f.Name, e.name)).
				WithSuggestion("facets: " + fmt.Sprint(e.facetNames))
		}
		if len(f.Values) == 0 {
			return nil, e.invalidFacet(f.Name, fmt.Sprintf("filter on %s has no values", f.Name))
		}

		i, ok := byName[f.Name]
		if !ok {
			i = len(out)
			byName[f.Name] = i
			out = append(out, store.TermFilter{Field: document.FacetFieldName(f.Name)})
			seen[f.Name] = make(map[string]struct{})
		}
		for _, v := range f.Values {
			if _, dup := seen[f.Name][v]; dup {
				continue
			}
			seen[f.Name][v] = struct{}{}
			out[i].Terms = append(out[i].Terms, v)
		}
	}
	return out, nil
}

func (e *Engine[T]) invalidFacet(name, msg string) *amerrors.AmanError {
	return amerrors.New(amerrors.ErrCodeInvalidFacet, msg, nil).
		WithDetail("index", e.name).
		WithDetail("facet", name)
}

func (e *Engine[T]) translateSort(fields []SortField) ([]store.SortKey, error) {
	keys := make([]store.SortKey, 0, len(fields))
	for _, sf := range fields {
		spec, ok := e.schema.Field(sf.Field)
		if !ok || !spec.Sortable() || !spec.Indexed {
			return nil, amerrors.New(amerrors.ErrCodeInvalidQuery, fmt.Sprintf("cannot sort by %q", sf.Field), nil).
				WithDetail("index", e.name).
				WithDetail("field", sf.Field).
				WithSuggestion("sort by a single-valued facet, numeric, time or keyword field")
		}
		keys = append(keys, store.SortKey{
			Field:   spec.SortFieldName(),
			Numeric: spec.Kind == document.KindNumeric,
			Desc:    sf.Desc,
		})
	}
	return keys, nil
}

// materialize loads and decodes the stored fields of every hit in parallel,
// preserving hit order.
func (e *Engine[T]) materialize(ctx context.Context, r *Reader, hits []store.Hit) ([]T, error) {
	items := make([]T, len(hits))
	if len(hits) == 0 {
		return items, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.fetchConcurrency)

	for i, h := range hits {
		i, h := i, h
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fields, found, err := e.storedFields(r, h.ID)
			if err != nil {
				return err
			}
			if !found {
				return amerrors.InternalError("hit has no stored document", nil).
					WithDetail("index", e.name).
					WithDetail("key", h.ID)
			}
			doc, err := e.mapper.Deserialize(fields)
			if err != nil {
				return err
			}
			items[i] = doc
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, amerrors.New(amerrors.ErrCodeSearchFailed, "query abandoned", ctxErr).WithDetail("index", e.name)
		}
		return nil, err
	}
	return items, nil
}

// summaries orders facets by name and values by count desc, label asc,
// dropping zero counts and empty facets.
func (e *Engine[T]) summaries(counts map[string]store.FacetCounts) []FacetSummary {
	out := make([]FacetSummary, 0, len(e.facetNames))
	for _, name := range e.facetNames {
		fc, ok := counts[name]
		if !ok {
			continue
		}
		values := make([]FacetValue, 0, len(fc.Terms))
		for _, t := range fc.Terms {
			if t.Count > 0 {
				values = append(values, FacetValue{Label: t.Term, Count: t.Count})
			}
		}
		if len(values) == 0 {
			continue
		}
		sort.SliceStable(values, func(i, j int) bool {
			if values[i].Count != values[j].Count {
				return values[i].Count > values[j].Count
			}
			return values[i].Label < values[j].Label
		})
		out = append(out, FacetSummary{Name: name, Values: values, Other: fc.Other})
	}
	return out
}

// Facets returns the configured facet names, sorted.
func (e *Engine[T]) Facets() []string {
	out := make([]string, len(e.facetNames))
	copy(out, e.facetNames)
	return out
}

// Provider returns the reader provider the engine queries through.
func (e *Engine[T]) Provider() *ReaderProvider {
	return e.provider
}
