package document

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	amerrors "github.com/Aman-CERP/amanfacet/internal/errors"
)

// maxExactInt is the largest integer a float64 engine field holds exactly.
const maxExactInt = 1 << 53

// Mapper converts documents of type T to engine fields and back.
// It is closed over the cached schema of T and safe for concurrent use.
type Mapper[T Document] struct {
	schema *Schema
}

// NewMapper returns the mapper for T, building T's schema if needed.
func NewMapper[T Document]() (*Mapper[T], error) {
	s, err := SchemaFor[T]()
	if err != nil {
		return nil, err
	}
	return &Mapper[T]{schema: s}, nil
}

// Schema returns the field registry the mapper is closed over.
func (m *Mapper[T]) Schema() *Schema {
	return m.schema
}

// KeyOf returns the unique key of doc, or ErrMissingKey when it is blank.
func (m *Mapper[T]) KeyOf(doc T) (string, error) {
	if isNil(doc) {
		return "", amerrors.New(amerrors.ErrCodeMissingKey, "document is nil", nil).
			WithDetail("type", m.schema.TypeName())
	}
	key := doc.UniqueKey()
	if strings.TrimSpace(key) == "" {
		return "", amerrors.New(amerrors.ErrCodeMissingKey, "document has an empty unique key", nil).
			WithDetail("type", m.schema.TypeName())
	}
	return key, nil
}

// Serialize emits the engine fields for doc: one stored/indexed field per
// value of every mapped attribute, plus one facet label field per value of
// every facet attribute. facets must be the schema of the index being written.
func (m *Mapper[T]) Serialize(doc T, facets FacetSchema) ([]Field, error) {
	key, err := m.KeyOf(doc)
	if err != nil {
		return nil, err
	}

	v := reflect.ValueOf(doc)
	if v.Kind() == reflect.Pointer {
		v = v.Elem()
	}

	fields := make([]Field, 0, len(m.schema.fields)*2)
	for _, spec := range m.schema.fields {
		fv, err := v.FieldByIndexErr(spec.index)
		if err != nil {
			return nil, m.mappingError(key, spec.Name, "field unreachable", err)
		}

		values := []reflect.Value{fv}
		if spec.Slice {
			values = values[:0]
			for i := 0; i < fv.Len(); i++ {
				values = append(values, fv.Index(i))
			}
		}

		if spec.Stored || spec.Indexed {
			for pos, ev := range values {
				f, err := m.encode(key, spec, ev)
				if err != nil {
					return nil, err
				}
				f.Position = pos
				fields = append(fields, f)
			}
		}

		if !spec.Facet {
			continue
		}
		if !facets.Has(spec.Name) {
			return nil, m.mappingError(key, spec.Name, "facet field missing from the index facet schema", nil)
		}

		var labels []string
		for _, ev := range values {
			if label := facetLabel(ev); label != "" {
				labels = append(labels, label)
			}
		}
		if len(labels) > 1 && !facets.MultiValued(spec.Name) {
			return nil, amerrors.New(amerrors.ErrCodeInvalidInput,
				fmt.Sprintf("facet %s has %d values but is not configured as multi-valued", spec.Name, len(labels)), nil).
				WithDetail("key", key).
				WithDetail("facet", spec.Name)
		}
		for pos, label := range labels {
			fields = append(fields, Field{
				Name:     FacetFieldName(spec.Name),
				Kind:     KindKeyword,
				Text:     label,
				Position: pos,
				Indexed:  true,
				Facet:    true,
			})
		}
	}

	return fields, nil
}

func (m *Mapper[T]) encode(key string, spec FieldSpec, v reflect.Value) (Field, error) {
	f := Field{Name: spec.Name, Kind: spec.Kind, Indexed: spec.Indexed, Stored: spec.Stored}

	switch spec.Kind {
	case KindText, KindKeyword:
		f.Text = v.String()
	case KindBoolean:
		f.Bool = v.Bool()
	case KindTime:
		f.Text = FormatTime(v.Interface().(time.Time))
	case KindNumeric:
		switch k := v.Kind(); {
		case isInt(k):
			n := v.Int()
			if n > maxExactInt || n < -maxExactInt {
				return f, m.mappingError(key, spec.Name, "integer exceeds the exact numeric range", nil)
			}
			f.Number = float64(n)
		case isUint(k):
			n := v.Uint()
			if n > maxExactInt {
				return f, m.mappingError(key, spec.Name, "integer exceeds the exact numeric range", nil)
			}
			f.Number = float64(n)
		default:
			f.Number = v.Float()
		}
	}

	return f, nil
}

// Deserialize rebuilds a T from stored engine fields. Names match exactly;
// absent attributes take their zero value; an absent key field is an error.
// Facet label fields and unknown names are ignored.
func (m *Mapper[T]) Deserialize(fields []Field) (T, error) {
	var zero T

	byName := make(map[string][]Field, len(m.schema.fields))
	for _, f := range fields {
		if IsFacetFieldName(f.Name) {
			continue
		}
		if _, ok := m.schema.byName[f.Name]; ok {
			byName[f.Name] = append(byName[f.Name], f)
		}
	}

	ptr := reflect.New(m.schema.typ)
	v := ptr.Elem()
	for _, spec := range m.schema.fields {
		got := byName[spec.Name]
		if len(got) == 0 {
			if spec.Key {
				return zero, m.mappingError("", spec.Name, "key field absent from stored document", nil)
			}
			continue
		}

		fv, err := v.FieldByIndexErr(spec.index)
		if err != nil {
			return zero, m.mappingError("", spec.Name, "field unreachable", err)
		}

		if !spec.Slice {
			if err := decode(fv, spec, got[0]); err != nil {
				return zero, m.mappingError("", spec.Name, err.Error(), nil)
			}
			continue
		}

		sort.SliceStable(got, func(i, j int) bool { return got[i].Position < got[j].Position })
		sv := reflect.MakeSlice(fv.Type(), len(got), len(got))
		for i, f := range got {
			if err := decode(sv.Index(i), spec, f); err != nil {
				return zero, m.mappingError("", spec.Name, err.Error(), nil)
			}
		}
		fv.Set(sv)
	}

	if m.schema.pointer {
		return ptr.Interface().(T), nil
	}
	return v.Interface().(T), nil
}

func decode(dst reflect.Value, spec FieldSpec, f Field) error {
	if f.Kind != spec.Kind && !(isStringKind(f.Kind) && isStringKind(spec.Kind)) {
		return fmt.Errorf("stored %s value for %s field", f.Kind, spec.Kind)
	}

	switch spec.Kind {
	case KindText, KindKeyword:
		dst.SetString(f.Text)
	case KindBoolean:
		dst.SetBool(f.Bool)
	case KindTime:
		t, err := f.TimeValue()
		if err != nil {
			return fmt.Errorf("invalid time %q: %w", f.Text, err)
		}
		dst.Set(reflect.ValueOf(t))
	case KindNumeric:
		switch k := dst.Kind(); {
		case isInt(k):
			if f.Number != math.Trunc(f.Number) || dst.OverflowInt(int64(f.Number)) {
				return fmt.Errorf("value %v does not fit %s", f.Number, dst.Type())
			}
			dst.SetInt(int64(f.Number))
		case isUint(k):
			if f.Number < 0 || f.Number != math.Trunc(f.Number) || dst.OverflowUint(uint64(f.Number)) {
				return fmt.Errorf("value %v does not fit %s", f.Number, dst.Type())
			}
			dst.SetUint(uint64(f.Number))
		default:
			if dst.OverflowFloat(f.Number) {
				return fmt.Errorf("value %v does not fit %s", f.Number, dst.Type())
			}
			dst.SetFloat(f.Number)
		}
	}
	return nil
}

func facetLabel(v reflect.Value) string {
	switch k := v.Kind(); {
	case k == reflect.String:
		return v.String()
	case k == reflect.Bool:
		return strconv.FormatBool(v.Bool())
	case isInt(k):
		return strconv.FormatInt(v.Int(), 10)
	case isUint(k):
		return strconv.FormatUint(v.Uint(), 10)
	}
	return ""
}

// isStringKind covers every kind the engine stores as text.
func isStringKind(k FieldKind) bool {
	return k == KindText || k == KindKeyword || k == KindTime
}

func isNil(doc any) bool {
	if doc == nil {
		return true
	}
	v := reflect.ValueOf(doc)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

func (m *Mapper[T]) mappingError(key, field, msg string, cause error) error {
	err := amerrors.New(amerrors.ErrCodeMapping, msg, cause).
		WithDetail("type", m.schema.TypeName()).
		WithDetail("field", field)
	if key != "" {
		err = err.WithDetail("key", key)
	}
	return err
}
