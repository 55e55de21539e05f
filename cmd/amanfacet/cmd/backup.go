package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanfacet/internal/backup"
	"github.com/Aman-CERP/amanfacet/internal/catalog"
	"github.com/Aman-CERP/amanfacet/internal/ui"
)

func (a *app) archiveStore() (backup.ObjectStore, string, error) {
	cfg, err := a.loadedConfig()
	if err != nil {
		return nil, "", err
	}
	st, err := backup.FromConfig(cfg.Backup)
	if err != nil {
		return nil, "", err
	}
	return st, cfg.Backup.Prefix, nil
}

func newExportCmd(a *app) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Archive every product to the backup store",
		Long: `Export writes the committed products of the current generation to a
compressed archive in the configured backup store (backup.store:
local, s3 or minio).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			st, prefix, err := a.archiveStore()
			if err != nil {
				return err
			}
			reg, svc, err := a.openCatalog(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = reg.Close() }()

			r, err := svc.Readers.Acquire(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = svc.Readers.Release(r) }()

			m, err := backup.Export(ctx, st, r, backup.WithPrefix(prefix), backup.WithLogger(a.logger))
			if err != nil {
				return err
			}

			out := a.printer(cmd.OutOrStdout())
			if jsonOutput {
				return out.JSON(m)
			}
			out.Successf("exported %d products at generation %d", m.Documents, m.Generation)
			out.KeyValue("Archive", m.Key)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the manifest as JSON")
	return cmd
}

func newRestoreCmd(a *app) *cobra.Command {
	var commitEvery int

	cmd := &cobra.Command{
		Use:   "restore [KEY]",
		Short: "Replay an archive into the index",
		Long: `Restore upserts every product of an archive into the index. Products
with the same sku are replaced; others are left alone. Without KEY the
newest archive of the index is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, prefix, err := a.archiveStore()
			if err != nil {
				return err
			}

			var key string
			if len(args) == 1 {
				key = args[0]
			} else {
				latest, err := backup.Latest(ctx, st, prefix, catalog.IndexName)
				if err != nil {
					return err
				}
				key = latest.Key
			}

			reg, svc, err := a.openCatalog(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = reg.Close() }()

			stats, err := backup.Restore[catalog.Product](ctx, st, key, svc.Writer,
				backup.WithCommitEvery(commitEvery), backup.WithLogger(a.logger))
			if err != nil {
				return err
			}
			out := a.printer(cmd.OutOrStdout())
			out.Successf("restored %d products from %s (generation %d)", stats.Documents, key, stats.Generation)
			if stats.Manifest.Index != catalog.IndexName {
				out.Warningf("archive was taken from index %q", stats.Manifest.Index)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&commitEvery, "commit-every", backup.DefaultCommitEvery, "Products per commit")
	return cmd
}

func newArchivesCmd(a *app) *cobra.Command {
	var prune int

	cmd := &cobra.Command{
		Use:   "archives",
		Short: "List archives in the backup store",
		Long:  `List the product archives oldest first. With --prune N, delete all but the newest N.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			st, prefix, err := a.archiveStore()
			if err != nil {
				return err
			}
			out := a.printer(cmd.OutOrStdout())

			if cmd.Flags().Changed("prune") {
				deleted, err := backup.Prune(ctx, st, prefix, catalog.IndexName, prune)
				if err != nil {
					return err
				}
				out.Successf("pruned %d archives", len(deleted))
			}

			objs, err := backup.Archives(ctx, st, prefix, catalog.IndexName)
			if err != nil {
				return err
			}
			if len(objs) == 0 {
				out.Status("", "no archives")
				return nil
			}
			for _, obj := range objs {
				out.Statusf("", "%s  %8s  %s", obj.Modified.Local().Format("2006-01-02 15:04:05"), ui.FormatBytes(obj.Size), obj.Key)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&prune, "prune", 0, "Keep only the newest N archives")
	return cmd
}
