package app

import (
	"github.com/spf13/cobra"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync against the live feed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Usage()
		},
	}

	stations := &cobra.Command{
		Use:   "stations",
		Short: "Reconcile the station directory with the feed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			force, err := cmd.Flags().GetBool("force")
			if err != nil {
				return err
			}
			d, err := loadDeps(cmd.Context())
			if err != nil {
				return err
			}
			defer d.close()
			return printResult(cmd.OutOrStdout(), d.service(nil).SyncStations(cmd.Context(), force))
		},
	}
	stations.Flags().Bool("force", false, "Rewrite every known station even if unchanged")

	availability := &cobra.Command{
		Use:   "availability",
		Short: "Record one availability snapshot per known station",
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := loadDeps(cmd.Context())
			if err != nil {
				return err
			}
			defer d.close()
			return printResult(cmd.OutOrStdout(), d.service(nil).SyncAvailability(cmd.Context()))
		},
	}

	cmd.AddCommand(stations, availability)
	return cmd
}
