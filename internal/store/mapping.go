package store

import (
	"sort"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/simple"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/mapping"

	amerrors "github.com/Aman-CERP/amanfacet/internal/errors"
	"github.com/Aman-CERP/amanfacet/pkg/document"
)

// DefaultAnalyzer is used for text fields when none is configured.
const DefaultAnalyzer = standard.Name

var analyzers = map[string]struct{}{
	standard.Name:   {},
	simple.Name:     {},
	keyword.Name:    {},
	en.AnalyzerName: {},
}

// Analyzers returns the analyzer names accepted by Open.
func Analyzers() []string {
	out := make([]string, 0, len(analyzers))
	for name := range analyzers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// buildMapping derives a static bleve mapping from the document schema so
// that match queries pick the analyzer each field was indexed with.
func buildMapping(schema *document.Schema, analyzer string) (*mapping.IndexMappingImpl, error) {
	if _, ok := analyzers[analyzer]; !ok {
		return nil, amerrors.New(amerrors.ErrCodeConfigInvalid, "unsupported analyzer "+analyzer, nil).
			WithDetail("analyzer", analyzer)
	}

	im := bleve.NewIndexMapping()
	im.DefaultAnalyzer = analyzer
	im.IndexDynamic = false
	im.StoreDynamic = false
	im.DocValuesDynamic = false

	dm := bleve.NewDocumentStaticMapping()
	for _, f := range schema.Fields() {
		var fm *mapping.FieldMapping
		switch f.Kind {
		case document.KindText:
			fm = bleve.NewTextFieldMapping()
			fm.Analyzer = analyzer
		case document.KindKeyword, document.KindTime:
			fm = bleve.NewKeywordFieldMapping()
		case document.KindNumeric:
			fm = bleve.NewNumericFieldMapping()
		case document.KindBoolean:
			fm = bleve.NewBooleanFieldMapping()
		default:
			continue
		}
		fm.Store = f.Stored
		fm.Index = f.Indexed
		fm.DocValues = f.Sortable()
		dm.AddFieldMappingsAt(f.Name, fm)
	}
	im.DefaultMapping = dm

	if err := im.Validate(); err != nil {
		return nil, amerrors.New(amerrors.ErrCodeInvalidSchema, "index mapping rejected", err).
			WithDetail("type", schema.TypeName())
	}
	return im, nil
}
