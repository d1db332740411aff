package app

import (
	"github.com/spf13/cobra"
)

func newReliabilityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reliability",
		Short: "Recalculate reliability scores",
		Long: `Recalculate reliability scores over the last --days-back days, for one station
or for every active station when --station-id is omitted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := loadDeps(cmd.Context())
			if err != nil {
				return err
			}
			defer d.close()
			svc := d.service(nil)

			daysBack, err := cmd.Flags().GetInt("days-back")
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("days-back") {
				daysBack = svc.DefaultDaysBack()
			}
			var stationID *int64
			if cmd.Flags().Changed("station-id") {
				id, err := cmd.Flags().GetInt64("station-id")
				if err != nil {
					return err
				}
				stationID = &id
			}

			r, err := svc.CalculateReliability(cmd.Context(), stationID, daysBack)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), r)
		},
	}
	cmd.Flags().Int64("station-id", 0, "Internal id of a single station")
	cmd.Flags().Int("days-back", 0, "Window length in days (default RELIABILITY_DAYS_BACK)")
	return cmd
}
