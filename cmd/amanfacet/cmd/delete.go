package cmd

import (
	"github.com/spf13/cobra"
)

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete SKU...",
		Short: "Remove products by sku",
		Long:  `Delete removes the given skus in one commit. Unknown skus are ignored.`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			reg, svc, err := a.openCatalog(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = reg.Close() }()

			for _, sku := range args {
				if err := svc.Writer.Delete(ctx, sku); err != nil {
					svc.Writer.Rollback()
					return err
				}
			}
			gen, err := svc.Writer.Commit(ctx)
			if err != nil {
				return err
			}
			a.printer(cmd.OutOrStdout()).Successf("deleted %d skus (generation %d)", len(args), gen)
			return nil
		},
	}
}
