// Package document defines the contract for indexable types and the field
// mapper that converts them to and from engine fields.
//
// A type becomes indexable by implementing Document and tagging the fields
// that should reach the index:
//
//	type Product struct {
//		SKU      string   `search:"sku,key"`
//		Name     string   `search:"name"`
//		Category string   `search:"category,facet"`
//		Tags     []string `search:"tags,facet"`
//		Price    float64  `search:"price"`
//	}
//
//	func (p Product) UniqueKey() string { return p.SKU }
//
// Tag options:
//   - key: part of the unique key source, always stored, required on read
//   - facet: facet-eligible (string, bool, integer kinds and slices of them)
//   - keyword: index the whole string as a single term
//   - text: analyze the string for full-text search (default for strings)
//   - nostore: index only, never returned on read
//   - noindex: store only, not searchable
//
// Times are stored as UTC text with nanosecond precision. Deserialize
// returns the same instant in time.UTC, so a document round-trips field for
// field when its times are already UTC; otherwise compare with time.Equal.
//
// The field registry for a type is built once by reflection and cached;
// Serialize and Deserialize never re-discover fields per call.
package document
