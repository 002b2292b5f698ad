package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"rank-alerts/internal/app"
)

var (
	simulateProject   string
	simulateKeyword   string
	simulatePositions []int
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一段排名序列并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(simulatePositions) < 2 {
			return errors.New("--positions 至少需要两个值")
		}

		opts := app.SimulateOptions{
			ProjectID: simulateProject,
			Keyword:   simulateKeyword,
			Positions: simulatePositions,
		}
		return getApp().SimulateAlert(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateProject, "project", "demo", "Project identifier")
	simulateCmd.Flags().StringVar(&simulateKeyword, "keyword", "demo keyword", "Keyword label for the simulated series")
	simulateCmd.Flags().IntSliceVar(&simulatePositions, "positions", nil, "Position series to replay, 0 for unranked (e.g. 5,5,15)")
}
