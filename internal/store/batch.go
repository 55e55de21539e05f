package store

import (
	"fmt"

	"github.com/blevesearch/bleve/v2"
	bdoc "github.com/blevesearch/bleve/v2/document"
	index "github.com/blevesearch/bleve_index_api"

	amerrors "github.com/Aman-CERP/amanfacet/internal/errors"
	"github.com/Aman-CERP/amanfacet/pkg/document"
)

// Batch stages document puts and deletes for one Commit. The last operation
// staged for an ID wins. A Batch is not safe for concurrent use.
type Batch struct {
	idx   *Index
	batch *bleve.Batch
	ops   map[string]bool // id -> true for put, false for delete
}

// NewBatch returns an empty batch bound to i.
func (i *Index) NewBatch() *Batch {
	return &Batch{idx: i, batch: i.index.NewBatch(), ops: make(map[string]bool)}
}

// Put stages the full replacement of document id by fields.
func (b *Batch) Put(id string, fields []document.Field) error {
	doc, err := b.idx.encode(id, fields)
	if err != nil {
		return err
	}
	if err := b.batch.IndexAdvanced(doc); err != nil {
		return amerrors.New(amerrors.ErrCodeIndexFailed, "stage document", err).WithDetail("key", id)
	}
	b.ops[id] = true
	return nil
}

// Delete stages the removal of document id.
func (b *Batch) Delete(id string) {
	b.batch.Delete(id)
	b.ops[id] = false
}

// Staged reports whether id has a staged operation and whether that
// operation leaves the document present.
func (b *Batch) Staged(id string) (present bool, staged bool) {
	present, staged = b.ops[id]
	return present, staged
}

// Len returns the number of distinct document IDs touched by the batch.
func (b *Batch) Len() int {
	return len(b.ops)
}

// Counts returns the number of staged puts and deletes.
func (b *Batch) Counts() (puts, deletes int) {
	for _, put := range b.ops {
		if put {
			puts++
		} else {
			deletes++
		}
	}
	return puts, deletes
}

// Reset discards everything staged.
func (b *Batch) Reset() {
	b.batch.Reset()
	clear(b.ops)
}

// encode converts mapper output into a bleve document. Keyword and time
// values are indexed as a single term; text goes through the analyzer.
func (i *Index) encode(id string, fields []document.Field) (*bdoc.Document, error) {
	doc := bdoc.NewDocument(id)
	for _, f := range fields {
		var opts index.FieldIndexingOptions
		if f.Indexed {
			opts |= index.IndexField
		}
		if f.Stored {
			opts |= index.StoreField
		}
		if f.Facet || f.Kind != document.KindText {
			opts |= index.DocValues
		}

		ap := []uint64{uint64(f.Position)}
		switch f.Kind {
		case document.KindText:
			doc.AddField(bdoc.NewTextFieldCustom(f.Name, ap, []byte(f.Text), opts|index.IncludeTermVectors, i.analyzer))
		case document.KindKeyword, document.KindTime:
			doc.AddField(bdoc.NewTextFieldCustom(f.Name, ap, []byte(f.Text), opts, nil))
		case document.KindNumeric:
			doc.AddField(bdoc.NewNumericFieldWithIndexingOptions(f.Name, ap, f.Number, opts))
		case document.KindBoolean:
			doc.AddField(bdoc.NewBooleanFieldWithIndexingOptions(f.Name, ap, f.Bool, opts))
		default:
			return nil, amerrors.New(amerrors.ErrCodeMapping, fmt.Sprintf("unknown field kind %d", f.Kind), nil).
				WithDetail("key", id).
				WithDetail("field", f.Name)
		}
	}
	return doc, nil
}
