package document

import (
	"strings"
	"time"
)

// FieldKind is the engine representation of a field value.
type FieldKind uint8

const (
	// KindText is analyzed full text.
	KindText FieldKind = iota + 1
	// KindKeyword is a single untokenized term.
	KindKeyword
	// KindNumeric is a float64 number.
	KindNumeric
	// KindBoolean is a true/false flag.
	KindBoolean
	// KindTime is a UTC timestamp encoded as fixed-width text in TimeLayout.
	KindTime
)

// String returns the kind name.
func (k FieldKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindKeyword:
		return "keyword"
	case KindNumeric:
		return "numeric"
	case KindBoolean:
		return "boolean"
	case KindTime:
		return "time"
	default:
		return "unknown"
	}
}

// TimeLayout is fixed width so that lexical order equals chronological order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// FacetPrefix marks engine fields that hold facet labels.
const FacetPrefix = "_facet."

// FacetFieldName returns the engine field holding labels for a facet.
func FacetFieldName(name string) string {
	return FacetPrefix + name
}

// IsFacetFieldName reports whether an engine field holds facet labels.
func IsFacetFieldName(name string) bool {
	return strings.HasPrefix(name, FacetPrefix)
}

// Field is one value of one engine field. Slice-typed attributes produce one
// Field per element sharing a Name, ordered by Position.
type Field struct {
	Name     string
	Kind     FieldKind
	Text     string
	Number   float64
	Bool     bool
	Position int
	Indexed  bool
	Stored   bool
	Facet    bool
}

// TimeValue decodes a KindTime field.
func (f Field) TimeValue() (time.Time, error) {
	return time.Parse(TimeLayout, f.Text)
}

// FormatTime encodes t for a KindTime field. The location is dropped: t is
// stored as its UTC instant.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}
