package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"slicesim/internal/dashboard"
)

var (
	dashOutDir string
	dashUID    string
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Render the Grafana dashboard for GreptimeDB slice metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := dashboard.RenderFile(dashOutDir, dashboard.Options{DatasourceUID: dashUID})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

func init() {
	dashboardCmd.Flags().StringVar(&dashOutDir, "out", "build", "Output directory")
	dashboardCmd.Flags().StringVar(&dashUID, "datasource-uid", "", "Grafana datasource UID (defaults to GREPTIMEDB_DATASOURCE_UID)")
}
