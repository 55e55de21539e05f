package document

import (
	amerrors "github.com/Aman-CERP/amanfacet/internal/errors"
)

// Document is implemented by every type stored in an index.
// UniqueKey must be non-empty, deterministic for the same content, and unique
// among documents of the same type in one index. It is the engine document ID.
type Document interface {
	UniqueKey() string
}

// FacetSchema maps each facet field name to whether it is multi-valued.
// It is produced by the index configuration and consumed on every write.
type FacetSchema map[string]bool

// Has reports whether name is a configured facet field.
func (s FacetSchema) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// MultiValued reports whether name may carry more than one label per document.
func (s FacetSchema) MultiValued(name string) bool {
	return s[name]
}

// Sentinel errors. Match with errors.Is; returned errors carry details.
var (
	ErrMissingKey    = amerrors.Sentinel(amerrors.ErrCodeMissingKey, "document has an empty unique key")
	ErrMapping       = amerrors.Sentinel(amerrors.ErrCodeMapping, "field mapping failed")
	ErrInvalidSchema = amerrors.Sentinel(amerrors.ErrCodeInvalidSchema, "invalid document schema")
)
