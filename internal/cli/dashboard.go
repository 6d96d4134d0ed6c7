package cli

import (
	"github.com/kiranshivaraju/licensectl/internal/service"
	"github.com/spf13/cobra"
)

func dashboardCmd() *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Show license totals and what expires next",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts []service.ReadOption
			if refresh {
				opts = append(opts, service.Fresh())
			}
			sum, err := appFrom(cmd).Services.Dashboard.Summary(cmd.Context(), opts...)
			if err != nil {
				return err
			}
			writeDashboard(cmd.OutOrStdout(), sum)
			return nil
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Bypass the cached summary")
	return cmd
}
