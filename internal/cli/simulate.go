package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

var (
	simulateAddress string
	simulateScore   int
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次高风险筛查并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateScore < 0 || simulateScore > 100 {
			return errors.New("--score 必须在 0 到 100 之间")
		}
		return getApp().SimulateAlert(cmd.Context(), simulateAddress, simulateScore)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateAddress, "address", "0x000000000000000000000000000000000000dEaD", "模拟的地址")
	simulateCmd.Flags().IntVar(&simulateScore, "score", 90, "模拟 provider 返回的风险分")
}
