package cmd

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanfacet/internal/catalog"
	amerrors "github.com/Aman-CERP/amanfacet/internal/errors"
	"github.com/Aman-CERP/amanfacet/internal/ui"
	"github.com/Aman-CERP/amanfacet/pkg/searcher"
)

type searchOptions struct {
	filters    []string
	sort       []string
	page       int
	size       int
	jsonOutput bool
}

func newSearchCmd(a *app) *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search [TEXT...]",
		Short: "Search products with facet filters",
		Long: `Search runs a full-text query over product names and descriptions,
narrowed by facet filters, and prints one page of products followed by
the facet counts of the whole filtered set.

Filters are facet=value[,value...]. Values of one facet are ORed;
different facets are ANDed. Sort keys are field[:asc|:desc].`,
		Example: `  amanfacet search lamp
  amanfacet search --filter brand=Lumo,Brite --filter colors=black
  amanfacet search desk --sort price:desc --page 1 --size 20 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), a, cmd, strings.Join(args, " "), opts)
		},
	}

	f := cmd.Flags()
	f.StringArrayVarP(&opts.filters, "filter", "f", nil, "Facet filter facet=value[,value...] (repeatable)")
	f.StringArrayVarP(&opts.sort, "sort", "s", nil, "Sort key field[:asc|:desc] (repeatable)")
	f.IntVar(&opts.page, "page", 0, "Zero-based page number")
	f.IntVarP(&opts.size, "size", "n", 10, "Results per page")
	f.BoolVar(&opts.jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runSearch(ctx context.Context, a *app, cmd *cobra.Command, text string, opts searchOptions) error {
	filters, err := parseFilters(opts.filters)
	if err != nil {
		return err
	}
	sort, err := parseSort(opts.sort)
	if err != nil {
		return err
	}

	reg, svc, err := a.openCatalog(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = reg.Close() }()

	res, err := svc.Engine.Query(ctx, searcher.QueryRequest{
		Text:     text,
		Filters:  filters,
		Page:     opts.page,
		PageSize: opts.size,
		Sort:     sort,
	})
	if err != nil {
		return err
	}

	view := resultsView(text, res, opts.jsonOutput)
	r := ui.NewResultsRenderer(cmd.OutOrStdout(), a.colorOff(cmd.OutOrStdout()))
	if opts.jsonOutput {
		return r.RenderJSON(view)
	}
	return r.Render(view)
}

func resultsView(text string, res *searcher.QueryResult[catalog.Product], withDocs bool) ui.ResultsView {
	v := ui.ResultsView{
		Query:      text,
		Total:      res.Total,
		Page:       res.Page,
		PageSize:   res.PageSize,
		Generation: res.Generation,
		Took:       res.Took,
		Hits:       make([]ui.HitView, len(res.Items)),
		Facets:     make([]ui.FacetView, len(res.Facets)),
	}
	for i, p := range res.Items {
		h := ui.HitView{Key: p.SKU, Title: p.Name}
		for _, kv := range p.Summary() {
			h.Fields = append(h.Fields, ui.FieldView{Name: kv[0], Value: kv[1]})
		}
		if withDocs {
			h.Doc = p
		}
		v.Hits[i] = h
	}
	for i, f := range res.Facets {
		fv := ui.FacetView{Name: f.Name, Other: f.Other, Values: make([]ui.CountView, len(f.Values))}
		for j, c := range f.Values {
			fv.Values[j] = ui.CountView{Label: c.Label, Count: c.Count}
		}
		v.Facets[i] = fv
	}
	return v
}

// parseFilters turns facet=v1,v2 arguments into filters. Repeating a facet
// merges its values.
func parseFilters(args []string) ([]searcher.FacetFilter, error) {
	var filters []searcher.FacetFilter
	index := make(map[string]int)
	for _, arg := range args {
		name, raw, ok := strings.Cut(arg, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, amerrors.New(amerrors.ErrCodeInvalidInput, "filter must be facet=value[,value...]", nil).
				WithDetail("filter", arg)
		}
		var values []string
		for _, v := range strings.Split(raw, ",") {
			if v = strings.TrimSpace(v); v != "" {
				values = append(values, v)
			}
		}
		if i, seen := index[name]; seen {
			filters[i].Values = append(filters[i].Values, values...)
			continue
		}
		index[name] = len(filters)
		filters = append(filters, searcher.FacetFilter{Name: name, Values: values})
	}
	return filters, nil
}

func parseSort(args []string) ([]searcher.SortField, error) {
	var out []searcher.SortField
	for _, arg := range args {
		field, dir, _ := strings.Cut(arg, ":")
		field = strings.TrimSpace(field)
		sf := searcher.SortField{Field: field}
		switch strings.ToLower(strings.TrimSpace(dir)) {
		case "", "asc":
		case "desc":
			sf.Desc = true
		default:
			return nil, amerrors.New(amerrors.ErrCodeInvalidInput, "sort direction must be asc or desc", nil).
				WithDetail("sort", arg)
		}
		if field == "" {
			return nil, amerrors.New(amerrors.ErrCodeInvalidInput, "sort field is empty", nil).WithDetail("sort", arg)
		}
		out = append(out, sf)
	}
	return out, nil
}
