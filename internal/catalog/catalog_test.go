package catalog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amerrors "github.com/Aman-CERP/amanfacet/internal/errors"
	"github.com/Aman-CERP/amanfacet/pkg/document"
)

func TestConfig_FacetSchema(t *testing.T) {
	schema, err := Config.FacetSchema()
	require.NoError(t, err)

	for _, name := range []string{"brand", "category", "colors", "in_stock", "rating"} {
		assert.True(t, schema.Has(name), name)
	}
	assert.True(t, schema.MultiValued("colors"))
	assert.False(t, schema.MultiValued("brand"))
	assert.False(t, schema.Has("price"))
	assert.Equal(t, IndexName, Config.IndexName())
}

func TestProduct_MapperRoundTrip(t *testing.T) {
	// Given: a fully populated product
	mapper, err := document.NewMapper[Product]()
	require.NoError(t, err)
	p := Product{
		SKU:         "lamp-01",
		Name:        "Arc floor lamp",
		Description: "Brushed steel arc lamp",
		Brand:       "Lumo",
		Category:    "lighting",
		Colors:      []string{"black", "steel"},
		Price:       129.5,
		InStock:     true,
		Rating:      4,
		Added:       time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC),
		ImageURL:    "https://img.example/lamp-01.jpg",
	}

	// When: serializing and reading back the stored fields
	fields, err := mapper.Serialize(p, mustFacets(t))
	require.NoError(t, err)
	var stored []document.Field
	for _, f := range fields {
		if f.Stored {
			stored = append(stored, f)
		}
	}
	got, err := mapper.Deserialize(stored)

	// Then: the product is unchanged
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func mustFacets(t *testing.T) document.FacetSchema {
	t.Helper()
	s, err := Config.FacetSchema()
	require.NoError(t, err)
	return s
}

func TestProduct_Summary(t *testing.T) {
	p := Product{Brand: "Lumo", Colors: []string{"black", "white"}, Price: 19}
	assert.Equal(t, [][2]string{
		{"brand", "Lumo"},
		{"colors", "black/white"},
		{"price", "19.00"},
		{"stock", "out"},
	}, p.Summary())
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr string
	}{
		{"empty", "  \n", nil, ""},
		{"yaml list", "- sku: a\n  name: Lamp\n- sku: b\n", []string{"a", "b"}, ""},
		{"yaml mapping", "products:\n  - sku: a\n    colors: [red, blue]\n", []string{"a"}, ""},
		{"json list", `[{"sku": "a", "price": 3.5}, {"sku": "b"}]`, []string{"a", "b"}, ""},
		{"json object", `{"products": [{"sku": "a"}]}`, []string{"a"}, ""},
		{"missing sku", "- name: Lamp\n", nil, amerrors.ErrCodeMissingKey},
		{"duplicate sku", "- sku: a\n- sku: a\n", nil, amerrors.ErrCodeInvalidInput},
		{"malformed", "products: [\n", nil, amerrors.ErrCodeInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse([]byte(tt.input))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantErr, amerrors.GetCode(err))
				return
			}
			require.NoError(t, err)
			var skus []string
			for _, p := range got {
				skus = append(skus, p.SKU)
			}
			assert.Equal(t, tt.want, skus)
		})
	}
}

func TestParse_DecodesAllFields(t *testing.T) {
	got, err := Parse([]byte(`
products:
  - sku: lamp-01
    name: Arc floor lamp
    brand: Lumo
    colors: [black, steel]
    price: 129.5
    in_stock: true
    rating: 4
    added: 2026-02-03T04:05:06Z
`))
	require.NoError(t, err)
	require.Len(t, got, 1)
	p := got[0]
	assert.Equal(t, "Arc floor lamp", p.Name)
	assert.Equal(t, []string{"black", "steel"}, p.Colors)
	assert.Equal(t, 129.5, p.Price)
	assert.True(t, p.InStock)
	assert.Equal(t, 4, p.Rating)
	assert.True(t, p.Added.Equal(time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)))
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "products.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- sku: a\n- sku: a\n"), 0o600))

	_, err := LoadFile(path)
	require.Error(t, err)
	ae, ok := amerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, path, ae.Details["path"])

	_, err = LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Equal(t, amerrors.ErrCodeNotFound, amerrors.GetCode(err))
}
