package searcher

import (
	"context"
	"time"

	amerrors "github.com/Aman-CERP/amanfacet/internal/errors"
	"github.com/Aman-CERP/amanfacet/pkg/document"
)

var (
	// ErrInvalidFacet is returned for filters naming an unknown or
	// non-facet field, or carrying no values.
	ErrInvalidFacet = amerrors.Sentinel(amerrors.ErrCodeInvalidFacet, "invalid facet filter")

	// ErrInvalidPagination is returned for a negative page or a page size
	// outside 1..max_page_size.
	ErrInvalidPagination = amerrors.Sentinel(amerrors.ErrCodeInvalidPagination, "invalid pagination")

	// ErrInvalidSort is returned for sorting by an unknown or unsortable field.
	ErrInvalidSort = amerrors.Sentinel(amerrors.ErrCodeInvalidQuery, "invalid sort field")
)

// SearchEngine runs faceted full-text queries over documents of T.
//
// Implementations must be thread-safe for concurrent use.
type SearchEngine[T document.Document] interface {
	// Search runs text narrowed by filters and returns one page of typed
	// documents with facet counts over the whole filtered set.
	//
	// Parameters:
	//   - text: free text; blank matches every document
	//   - filters: AND across facet names, OR within one facet
	//   - page: zero-based page number
	//   - pageSize: documents per page, at least 1
	Search(ctx context.Context, text string, filters []FacetFilter, page, pageSize int) (*QueryResult[T], error)

	// Query is Search with sorting.
	Query(ctx context.Context, req QueryRequest) (*QueryResult[T], error)

	// Get returns the committed document with the given unique key, or an
	// ERR_601_NOT_FOUND error. Free text is analyzed and may match similar
	// keys; Get matches the key exactly.
	Get(ctx context.Context, key string) (T, error)
}

// FacetFilter keeps documents carrying at least one of Values in facet Name.
type FacetFilter struct {
	Name   string
	Values []string
}

// SortField orders results by a sortable document field.
type SortField struct {
	Field string
	Desc  bool
}

// QueryRequest is a complete query description.
type QueryRequest struct {
	Text     string
	Filters  []FacetFilter
	Page     int
	PageSize int

	// Sort defaults to relevance, then key.
	Sort []SortField
}

// FacetValue is one facet label and the number of matching documents carrying it.
type FacetValue struct {
	Label string
	Count int
}

// FacetSummary holds the label counts of one facet over the filtered set.
type FacetSummary struct {
	Name   string
	Values []FacetValue

	// Other counts label occurrences cut off by the max facet values limit.
	Other int
}

// QueryResult is one page of results.
type QueryResult[T document.Document] struct {
	Items []T

	// Total is the number of documents matching text and filters.
	Total uint64

	// Facets are ordered by facet name; facets without values are omitted.
	Facets []FacetSummary

	// Generation is the commit generation the query observed.
	Generation uint64

	Page     int
	PageSize int
	Took     time.Duration
}

// Facet returns the summary of the named facet, if present.
func (r *QueryResult[T]) Facet(name string) (FacetSummary, bool) {
	for _, f := range r.Facets {
		if f.Name == name {
			return f, true
		}
	}
	return FacetSummary{}, false
}
