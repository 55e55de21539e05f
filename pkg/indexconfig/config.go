// Package indexconfig holds the per-document-type index configuration: the
// index name and the facet fields that may carry several labels per document.
package indexconfig

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	amerrors "github.com/Aman-CERP/amanfacet/internal/errors"
	"github.com/Aman-CERP/amanfacet/pkg/document"
)

// Config is the immutable configuration of one index of T.
// It is shared read-only by the writer, readers and search engine of T.
type Config[T document.Document] struct {
	indexName   string
	multiValued map[string]struct{}

	once   sync.Once
	schema document.FacetSchema
	err    error
}

// Build validates indexName and records multiValued without checking it
// against T; that check runs on the first FacetSchema call.
func Build[T document.Document](multiValued []string, indexName string) (*Config[T], error) {
	name := strings.TrimSpace(indexName)
	if name == "" {
		return nil, amerrors.New(amerrors.ErrCodeInvalidInput, "index name must not be empty", nil)
	}
	if strings.ContainsAny(name, `/\`) {
		return nil, amerrors.New(amerrors.ErrCodeInvalidInput, "index name must not contain path separators", nil).
			WithDetail("index", name)
	}

	mv := make(map[string]struct{}, len(multiValued))
	for _, f := range multiValued {
		mv[f] = struct{}{}
	}
	return &Config[T]{indexName: name, multiValued: mv}, nil
}

// MustBuild is Build for static configuration; it panics on error.
func MustBuild[T document.Document](multiValued []string, indexName string) *Config[T] {
	c, err := Build[T](multiValued, indexName)
	if err != nil {
		panic(err)
	}
	return c
}

// IndexName returns the name of the physical index.
func (c *Config[T]) IndexName() string {
	return c.indexName
}

// MultiValuedFields returns the configured multi-valued field names, sorted.
func (c *Config[T]) MultiValuedFields() []string {
	out := make([]string, 0, len(c.multiValued))
	for f := range c.multiValued {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// FacetSchema returns the facet schema of the index: every facet field of T
// mapped to its multi-valued flag. The first call validates the configuration
// against T; the result, or the validation error, is then fixed for the
// lifetime of c.
func (c *Config[T]) FacetSchema() (document.FacetSchema, error) {
	c.once.Do(func() {
		c.schema, c.err = c.buildFacetSchema()
	})
	if c.err != nil {
		return nil, c.err
	}

	out := make(document.FacetSchema, len(c.schema))
	for k, v := range c.schema {
		out[k] = v
	}
	return out, nil
}

// Schema returns the field registry of T.
func (c *Config[T]) Schema() (*document.Schema, error) {
	return document.SchemaFor[T]()
}

func (c *Config[T]) buildFacetSchema() (document.FacetSchema, error) {
	s, err := document.SchemaFor[T]()
	if err != nil {
		return nil, err
	}

	schema := make(document.FacetSchema)
	for _, f := range s.FacetFields() {
		_, multi := c.multiValued[f.Name]
		if f.Slice && !multi {
			return nil, c.invalid(f.Name, fmt.Sprintf("facet %s is a sequence but is not configured as multi-valued", f.Name))
		}
		schema[f.Name] = multi
	}

	for _, name := range c.MultiValuedFields() {
		if _, ok := schema[name]; !ok {
			return nil, c.invalid(name, fmt.Sprintf("multi-valued field %s is not a facet field of %s", name, s.TypeName()))
		}
	}

	return schema, nil
}

func (c *Config[T]) invalid(field, msg string) error {
	return amerrors.New(amerrors.ErrCodeInvalidInput, msg, nil).
		WithDetail("index", c.indexName).
		WithDetail("field", field)
}
