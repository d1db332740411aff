package app

import (
	"github.com/spf13/cobra"
)

func newHealthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Summarize the most recent sync runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, err := cmd.Flags().GetInt("limit")
			if err != nil {
				return err
			}
			d, err := loadDeps(cmd.Context())
			if err != nil {
				return err
			}
			defer d.close()

			h, err := d.service(nil).GetSyncHealth(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), h)
		},
	}
	cmd.Flags().Int("limit", 10, "Number of recent sync logs to inspect (1-100)")
	return cmd
}
