package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// ResultsView is one page of search results prepared for display.
type ResultsView struct {
	Query      string        `json:"query"`
	Total      uint64        `json:"total"`
	Page       int           `json:"page"`
	PageSize   int           `json:"page_size"`
	Generation uint64        `json:"generation"`
	Took       time.Duration `json:"took_ns"`
	Hits       []HitView     `json:"hits"`
	Facets     []FacetView   `json:"facets"`
}

// HitView is one matched document.
type HitView struct {
	Key    string      `json:"key"`
	Title  string      `json:"title"`
	Fields []FieldView `json:"-"`
	Doc    any         `json:"document,omitempty"`
}

// FieldView is a label/value pair shown under a hit.
type FieldView struct {
	Name  string
	Value string
}

// FacetView holds the counts of one facet.
type FacetView struct {
	Name   string      `json:"name"`
	Values []CountView `json:"values"`
	Other  int         `json:"other,omitempty"`
}

// CountView is one facet label and its count.
type CountView struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// ResultsRenderer displays search results.
type ResultsRenderer struct {
	out    io.Writer
	styles Styles
}

// NewResultsRenderer creates a results renderer.
func NewResultsRenderer(out io.Writer, noColor bool) *ResultsRenderer {
	return &ResultsRenderer{out: out, styles: GetStyles(noColor)}
}

// Render writes hits followed by facet counts.
func (r *ResultsRenderer) Render(v ResultsView) error {
	s := r.styles
	query := v.Query
	if strings.TrimSpace(query) == "" {
		query = "*"
	}

	first := uint64(v.Page*v.PageSize) + 1
	last := first + uint64(len(v.Hits)) - 1
	if len(v.Hits) == 0 {
		first, last = 0, 0
	}
	_, _ = fmt.Fprintf(r.out, "%s %s\n\n",
		s.Header.Render(fmt.Sprintf("%d results for %q", v.Total, query)),
		s.Dim.Render(fmt.Sprintf("(showing %d-%d, generation %d, %s)", first, last, v.Generation, v.Took.Round(time.Microsecond))))

	for i, h := range v.Hits {
		_, _ = fmt.Fprintf(r.out, "%3d. %s  %s\n", int(first)+i, s.Key.Render(h.Key), h.Title)
		if len(h.Fields) > 0 {
			parts := make([]string, len(h.Fields))
			for j, f := range h.Fields {
				parts[j] = s.Label.Render(f.Name+"=") + f.Value
			}
			_, _ = fmt.Fprintf(r.out, "     %s\n", strings.Join(parts, "  "))
		}
	}

	if len(v.Facets) == 0 {
		return nil
	}
	_, _ = fmt.Fprintln(r.out)
	for _, f := range v.Facets {
		parts := make([]string, 0, len(f.Values)+1)
		for _, c := range f.Values {
			parts = append(parts, fmt.Sprintf("%s %s", c.Label, s.Count.Render(fmt.Sprintf("(%d)", c.Count))))
		}
		if f.Other > 0 {
			parts = append(parts, s.Dim.Render(fmt.Sprintf("other (%d)", f.Other)))
		}
		_, _ = fmt.Fprintf(r.out, "  %s %s\n", s.Label.Render(f.Name+":"), strings.Join(parts, ", "))
	}
	return nil
}

// RenderJSON outputs results as JSON.
func (r *ResultsRenderer) RenderJSON(v ResultsView) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
