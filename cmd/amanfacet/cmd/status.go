package cmd

import (
	"context"
	"io/fs"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanfacet/internal/catalog"
	"github.com/Aman-CERP/amanfacet/internal/store"
	"github.com/Aman-CERP/amanfacet/internal/ui"
)

func newStatusCmd(a *app) *cobra.Command {
	var (
		jsonOutput bool
		history    int
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index size, generation, and commit history",
		Long: `Display information about the product index including:
  - Document count and committed generation
  - On-disk location and size
  - Facet fields and which of them are multi-valued
  - The writer lease kind
  - Recent commits from the ledger, when enabled`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info, err := collectStatus(cmd.Context(), a, history)
			if err != nil {
				return err
			}
			r := ui.NewStatusRenderer(cmd.OutOrStdout(), a.colorOff(cmd.OutOrStdout()))
			if jsonOutput {
				return r.RenderJSON(info)
			}
			return r.Render(info)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().IntVar(&history, "history", 5, "Number of recent commits to show")

	return cmd
}

func collectStatus(ctx context.Context, a *app, history int) (ui.StatusInfo, error) {
	reg, svc, err := a.openCatalog(ctx)
	if err != nil {
		return ui.StatusInfo{}, err
	}
	defer func() { _ = reg.Close() }()

	stats, err := svc.Index.Stats()
	if err != nil {
		return ui.StatusInfo{}, err
	}

	info := ui.StatusInfo{
		Index:       stats.Name,
		Path:        stats.Path,
		InMemory:    stats.InMemory,
		Documents:   stats.DocumentCount,
		Generation:  stats.Generation,
		Facets:      svc.Engine.Facets(),
		MultiValued: catalog.Config.MultiValuedFields(),
		Lease:       reg.Config().Lease.Kind,
	}
	sort.Strings(info.Facets)
	if stats.InMemory {
		info.Lease = "none"
	} else {
		info.SizeBytes = dirSize(stats.Path)
	}

	if svc.Ledger != nil && history > 0 {
		records, err := svc.Ledger.History(ctx, stats.Name, history)
		if err != nil {
			return info, err
		}
		for _, rec := range records {
			info.Commits = append(info.Commits, commitStatus(rec))
		}
	}
	return info, nil
}

func commitStatus(rec store.CommitRecord) ui.CommitStatus {
	c := ui.CommitStatus{
		Generation: rec.Generation,
		Status:     rec.Status,
		Puts:       rec.Puts,
		Deletes:    rec.Deletes,
		Documents:  rec.DocCount,
		FinishedAt: rec.FinishedAt,
		Error:      rec.Error,
	}
	if !rec.FinishedAt.IsZero() {
		c.Took = rec.FinishedAt.Sub(rec.StartedAt)
	}
	return c
}

// dirSize sums regular file sizes under path; unreadable entries count zero.
func dirSize(path string) int64 {
	var total int64
	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
