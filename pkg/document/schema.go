package document

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	amerrors "github.com/Aman-CERP/amanfacet/internal/errors"
)

// TagName is the struct tag read by the registry.
const TagName = "search"

// FieldSpec describes one mapped attribute of a document type.
type FieldSpec struct {
	// Name is the engine field name, matched case-sensitively on read.
	Name string

	// Kind is the engine kind of each value.
	Kind FieldKind

	// Slice is true for sequence-typed attributes.
	Slice bool

	// Key marks a unique-key source field.
	Key bool

	// Facet marks a facet-eligible field.
	Facet bool

	Stored  bool
	Indexed bool

	index []int
	typ   reflect.Type // element type for slices
}

// Sortable reports whether results can be ordered by this field.
func (f FieldSpec) Sortable() bool {
	if f.Slice {
		return false
	}
	return f.Facet || f.Kind == KindNumeric || f.Kind == KindTime || f.Kind == KindKeyword
}

// SortFieldName returns the engine field used to order by this field.
func (f FieldSpec) SortFieldName() string {
	if f.Facet && f.Kind != KindNumeric {
		return FacetFieldName(f.Name)
	}
	return f.Name
}

// Schema is the ordered field registry of one document type.
type Schema struct {
	typ     reflect.Type // struct type
	pointer bool         // documents are *struct
	fields  []FieldSpec
	byName  map[string]int
}

// TypeName returns the Go type name of the document.
func (s *Schema) TypeName() string {
	return s.typ.String()
}

// Fields returns the mapped fields in declaration order.
func (s *Schema) Fields() []FieldSpec {
	out := make([]FieldSpec, len(s.fields))
	copy(out, s.fields)
	return out
}

// Field looks up a field by its exact name.
func (s *Schema) Field(name string) (FieldSpec, bool) {
	i, ok := s.byName[name]
	if !ok {
		return FieldSpec{}, false
	}
	return s.fields[i], true
}

// FacetFields returns the facet-eligible fields in declaration order.
func (s *Schema) FacetFields() []FieldSpec {
	var out []FieldSpec
	for _, f := range s.fields {
		if f.Facet {
			out = append(out, f)
		}
	}
	return out
}

// SearchableFields returns the names free-text queries run against.
func (s *Schema) SearchableFields() []string {
	var out []string
	for _, f := range s.fields {
		if f.Indexed && (f.Kind == KindText || f.Kind == KindKeyword) {
			out = append(out, f.Name)
		}
	}
	return out
}

var registry sync.Map // reflect.Type -> *Schema

// SchemaFor returns the cached field registry for T, building it on first use.
func SchemaFor[T Document]() (*Schema, error) {
	return SchemaOf(reflect.TypeOf((*T)(nil)).Elem())
}

// SchemaOf returns the cached field registry for a struct or pointer-to-struct type.
func SchemaOf(t reflect.Type) (*Schema, error) {
	if cached, ok := registry.Load(t); ok {
		return cached.(*Schema), nil
	}

	s, err := buildSchema(t)
	if err != nil {
		return nil, err
	}

	actual, _ := registry.LoadOrStore(t, s)
	return actual.(*Schema), nil
}

var timeType = reflect.TypeOf((*time.Time)(nil)).Elem()

func buildSchema(t reflect.Type) (*Schema, error) {
	s := &Schema{typ: t, byName: make(map[string]int)}
	if t.Kind() == reflect.Pointer {
		s.pointer = true
		s.typ = t.Elem()
	}
	if s.typ.Kind() != reflect.Struct {
		return nil, schemaError(t, "", "document type must be a struct or pointer to struct")
	}

	folded := make(map[string]string)
	for _, sf := range reflect.VisibleFields(s.typ) {
		tag, ok := sf.Tag.Lookup(TagName)
		if !ok || tag == "-" {
			continue
		}
		if !sf.IsExported() {
			return nil, schemaError(t, sf.Name, "tagged field is not exported")
		}
		if len(sf.Index) > 1 && embeddedThroughPointer(s.typ, sf.Index) {
			return nil, schemaError(t, sf.Name, "fields promoted through embedded pointers are not supported")
		}

		spec, err := parseField(t, sf, tag)
		if err != nil {
			return nil, err
		}

		lower := strings.ToLower(spec.Name)
		if other, dup := folded[lower]; dup {
			return nil, schemaError(t, spec.Name, fmt.Sprintf("field name collides with %q", other))
		}
		folded[lower] = spec.Name

		s.byName[spec.Name] = len(s.fields)
		s.fields = append(s.fields, spec)
	}

	hasKey := false
	for _, f := range s.fields {
		hasKey = hasKey || f.Key
	}
	if !hasKey {
		return nil, schemaError(t, "", "no field tagged key")
	}

	return s, nil
}

func parseField(t reflect.Type, sf reflect.StructField, tag string) (FieldSpec, error) {
	parts := strings.Split(tag, ",")
	spec := FieldSpec{
		Name:    strings.TrimSpace(parts[0]),
		Stored:  true,
		Indexed: true,
		index:   sf.Index,
	}
	if spec.Name == "" {
		spec.Name = sf.Name
	}
	if strings.HasPrefix(spec.Name, "_") || strings.ContainsAny(spec.Name, ". \t") {
		return spec, schemaError(t, spec.Name, "field names must not start with '_' or contain dots or spaces")
	}

	var text, keyword bool
	for _, opt := range parts[1:] {
		switch strings.TrimSpace(opt) {
		case "key":
			spec.Key = true
		case "facet":
			spec.Facet = true
		case "keyword":
			keyword = true
		case "text":
			text = true
		case "nostore":
			spec.Stored = false
		case "noindex":
			spec.Indexed = false
		case "":
		default:
			return spec, schemaError(t, spec.Name, fmt.Sprintf("unknown tag option %q", opt))
		}
	}

	ft := sf.Type
	if ft.Kind() == reflect.Slice && ft.Elem().Kind() != reflect.Uint8 {
		spec.Slice = true
		ft = ft.Elem()
	}
	spec.typ = ft

	switch {
	case ft == timeType:
		spec.Kind = KindTime
	case ft.Kind() == reflect.String:
		spec.Kind = KindText
		if keyword || spec.Key || (spec.Facet && !text) {
			spec.Kind = KindKeyword
		}
		if text && keyword {
			return spec, schemaError(t, spec.Name, "text and keyword are exclusive")
		}
	case ft.Kind() == reflect.Bool:
		spec.Kind = KindBoolean
	case isInt(ft.Kind()) || isUint(ft.Kind()) || isFloat(ft.Kind()):
		spec.Kind = KindNumeric
	default:
		return spec, schemaError(t, spec.Name, fmt.Sprintf("unsupported field type %s", sf.Type))
	}

	if (text || keyword) && ft.Kind() != reflect.String {
		return spec, schemaError(t, spec.Name, "text and keyword apply to strings only")
	}
	if spec.Facet && !facetEligible(ft) {
		return spec, schemaError(t, spec.Name, fmt.Sprintf("facet values must be discrete labels, %s is not", sf.Type))
	}
	if spec.Key && (spec.Slice || !spec.Stored) {
		return spec, schemaError(t, spec.Name, "key fields must be stored scalars")
	}
	if !spec.Stored && !spec.Indexed && !spec.Facet {
		return spec, schemaError(t, spec.Name, "field is neither stored nor indexed")
	}

	return spec, nil
}

func facetEligible(t reflect.Type) bool {
	if t == timeType {
		return false
	}
	k := t.Kind()
	return k == reflect.String || k == reflect.Bool || isInt(k) || isUint(k)
}

func embeddedThroughPointer(t reflect.Type, index []int) bool {
	for _, i := range index[:len(index)-1] {
		f := t.Field(i)
		if f.Type.Kind() == reflect.Pointer {
			return true
		}
		t = f.Type
	}
	return false
}

func isInt(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Int64
}

func isUint(k reflect.Kind) bool {
	return k >= reflect.Uint && k <= reflect.Uintptr
}

func isFloat(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}

func schemaError(t reflect.Type, field, msg string) error {
	err := amerrors.New(amerrors.ErrCodeInvalidSchema, msg, nil).WithDetail("type", t.String())
	if field != "" {
		err = err.WithDetail("field", field)
	}
	return err
}
