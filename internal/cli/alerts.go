package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"rank-alerts/internal/app"
)

var (
	alertsProject string
	alertsUnread  bool
	alertsLimit   int
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Display recent alerts for a project",
	RunE: func(cmd *cobra.Command, args []string) error {
		if alertsLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.AlertsOptions{
			ProjectID:  alertsProject,
			UnreadOnly: alertsUnread,
			Limit:      alertsLimit,
		}

		return getApp().Alerts(cmd.Context(), opts)
	},
}

func init() {
	alertsCmd.Flags().StringVar(&alertsProject, "project", "", "Project identifier")
	alertsCmd.Flags().BoolVar(&alertsUnread, "unread", false, "Only show unread alerts")
	alertsCmd.Flags().IntVar(&alertsLimit, "limit", 20, "Maximum alerts to display")
}
