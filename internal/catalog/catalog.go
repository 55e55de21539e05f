// Package catalog is the product document type served by the amanfacet CLI,
// plus loading of product files.
package catalog

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	amerrors "github.com/Aman-CERP/amanfacet/internal/errors"
	"github.com/Aman-CERP/amanfacet/pkg/indexconfig"
)

// IndexName is the index products are stored in.
const IndexName = "products"

// Product is one catalog entry.
type Product struct {
	SKU         string    `yaml:"sku" json:"sku" search:"sku,key"`
	Name        string    `yaml:"name" json:"name" search:"name"`
	Description string    `yaml:"description" json:"description,omitempty" search:"description"`
	Brand       string    `yaml:"brand" json:"brand,omitempty" search:"brand,facet"`
	Category    string    `yaml:"category" json:"category,omitempty" search:"category,facet"`
	Colors      []string  `yaml:"colors" json:"colors,omitempty" search:"colors,facet"`
	Price       float64   `yaml:"price" json:"price" search:"price"`
	InStock     bool      `yaml:"in_stock" json:"in_stock" search:"in_stock,facet"`
	Rating      int       `yaml:"rating" json:"rating,omitempty" search:"rating,facet"`
	Added       time.Time `yaml:"added" json:"added,omitempty" search:"added"`
	ImageURL    string    `yaml:"image_url" json:"image_url,omitempty" search:"image_url,noindex"`
}

// UniqueKey implements document.Document.
func (p Product) UniqueKey() string { return p.SKU }

// Config is the index configuration of Product.
var Config = indexconfig.MustBuild[Product]([]string{"colors"}, IndexName)

// Summary returns the attributes shown under a search hit.
func (p Product) Summary() [][2]string {
	out := make([][2]string, 0, 5)
	if p.Brand != "" {
		out = append(out, [2]string{"brand", p.Brand})
	}
	if p.Category != "" {
		out = append(out, [2]string{"category", p.Category})
	}
	if len(p.Colors) > 0 {
		out = append(out, [2]string{"colors", strings.Join(p.Colors, "/")})
	}
	out = append(out, [2]string{"price", strconv.FormatFloat(p.Price, 'f', 2, 64)})
	if !p.InStock {
		out = append(out, [2]string{"stock", "out"})
	}
	return out
}

type productFile struct {
	Products []Product `yaml:"products"`
}

// LoadFile reads products from a YAML or JSON file holding either a list
// of products or a mapping with a "products" list.
func LoadFile(path string) ([]Product, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, amerrors.New(amerrors.ErrCodeNotFound, "cannot read product file", err).WithDetail("path", path)
	}
	products, err := Parse(data)
	if err != nil {
		if ae, ok := amerrors.As(err); ok {
			return nil, ae.WithDetail("path", path)
		}
		return nil, err
	}
	return products, nil
}

// Parse decodes a product document. Every product needs a unique,
// non-empty SKU.
func Parse(data []byte) ([]Product, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var products []Product
	var err error
	if trimmed[0] == '[' || trimmed[0] == '-' {
		err = yaml.Unmarshal(trimmed, &products)
	} else {
		var f productFile
		err = yaml.Unmarshal(trimmed, &f)
		products = f.Products
	}
	if err != nil {
		return nil, amerrors.New(amerrors.ErrCodeInvalidInput, "malformed product file", err)
	}

	seen := make(map[string]int, len(products))
	for i, p := range products {
		if strings.TrimSpace(p.SKU) == "" {
			return nil, amerrors.New(amerrors.ErrCodeMissingKey, fmt.Sprintf("product %d has no sku", i+1), nil).
				WithDetail("position", strconv.Itoa(i+1))
		}
		if first, dup := seen[p.SKU]; dup {
			return nil, amerrors.New(amerrors.ErrCodeInvalidInput,
				fmt.Sprintf("sku %s appears at products %d and %d", p.SKU, first+1, i+1), nil).
				WithDetail("key", p.SKU)
		}
		seen[p.SKU] = i
	}
	return products, nil
}
