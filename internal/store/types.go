// Package store adapts the bleve inverted index to the document writer and
// readers: index open/create with corruption recovery, atomic batch commits
// stamped with a generation number, point-in-time snapshots, query and facet
// execution over a snapshot, and a SQLite commit ledger.
package store

import (
	"time"
)

// TermFilter restricts results to documents carrying at least one of Terms
// in Field. Filters in one Query are AND-combined.
type TermFilter struct {
	Field string
	Terms []string
}

// SortKey orders results by an engine field.
type SortKey struct {
	Field   string
	Numeric bool
	Desc    bool
}

// FacetRequest asks for the top Size label counts of Field, reported as Name.
type FacetRequest struct {
	Name  string
	Field string
	Size  int
}

// Query is an engine-neutral search description compiled by the store.
type Query struct {
	// Text is free text; blank matches all documents.
	Text string

	// TextFields are the fields Text is matched against.
	TextFields []string

	Filters []TermFilter
	Sort    []SortKey
	Facets  []FacetRequest

	Skip int
	Size int
}

// TermCount is one facet label and the number of matching documents carrying it.
type TermCount struct {
	Term  string
	Count int
}

// FacetCounts are the label counts of one facet over a result set.
type FacetCounts struct {
	Field   string
	Terms   []TermCount
	Total   int
	Missing int
	Other   int
}

// Hit is one ranked document.
type Hit struct {
	ID    string
	Score float64
}

// Hits is the outcome of a query against one snapshot.
type Hits struct {
	Hits       []Hit
	Total      uint64
	MaxScore   float64
	Facets     map[string]FacetCounts
	Generation uint64
	Took       time.Duration
}

// IndexStats describes an open index.
type IndexStats struct {
	Name          string
	Path          string
	InMemory      bool
	DocumentCount uint64
	Generation    uint64
}
