package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanfacet/internal/catalog"
)

func newIndexCmd(a *app) *cobra.Command {
	var (
		strict    bool
		batchSize int
	)

	cmd := &cobra.Command{
		Use:   "index FILE...",
		Short: "Add or replace products from YAML or JSON files",
		Long: `Index reads product files and writes every product to the index,
committing every --batch products and once at the end.

By default a product replaces any stored product with the same sku.
With --strict, a sku that is already indexed is an error.`,
		Example: `  amanfacet index products.yaml
  amanfacet index --strict new-arrivals.json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd.Context(), a, cmd, args, strict, batchSize)
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "Fail on skus that are already indexed")
	cmd.Flags().IntVar(&batchSize, "batch", 500, "Products per commit")

	return cmd
}

func runIndex(ctx context.Context, a *app, cmd *cobra.Command, files []string, strict bool, batchSize int) error {
	if batchSize < 1 {
		batchSize = 1
	}

	var products []catalog.Product
	for _, f := range files {
		loaded, err := catalog.LoadFile(f)
		if err != nil {
			return err
		}
		products = append(products, loaded...)
	}

	out := a.printer(cmd.OutOrStdout())
	if len(products) == 0 {
		out.Warning("no products found")
		return nil
	}

	reg, svc, err := a.openCatalog(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = reg.Close() }()

	start := time.Now()
	w := svc.Writer
	var commits int
	for i, p := range products {
		if strict {
			err = w.Add(ctx, p)
		} else {
			err = w.Upsert(ctx, p)
		}
		if err != nil {
			w.Rollback()
			return err
		}
		if w.Pending() >= batchSize {
			if _, err := w.Commit(ctx); err != nil {
				return err
			}
			commits++
		}
		out.Progress(i+1, len(products), "indexing")
	}
	gen, err := w.Commit(ctx)
	if err != nil {
		return err
	}
	commits++

	a.logger.Info("catalog_indexed",
		slog.String("index", catalog.IndexName),
		slog.Int("products", len(products)),
		slog.Int("commits", commits),
		slog.Uint64("generation", gen),
		slog.Duration("took", time.Since(start)))

	out.Successf("indexed %d products (generation %d)", len(products), gen)
	return nil
}
