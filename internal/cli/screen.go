package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"chain-screening/internal/app"
)

var (
	screenChain   string
	screenContext string
	screenJSON    bool

	txFrom   string
	txTo     string
	txAmount string
)

var screenCmd = &cobra.Command{
	Use:   "screen <address>",
	Short: "Screen a single address against every enabled provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Screen(cmd.Context(), app.ScreenOptions{
			Address:     args[0],
			Chain:       screenChain,
			ContextFile: screenContext,
			JSON:        screenJSON,
		})
	},
}

var screenTxCmd = &cobra.Command{
	Use:   "screen-tx",
	Short: "Screen the sender and recipient of a transfer",
	RunE: func(cmd *cobra.Command, args []string) error {
		if txFrom == "" || txTo == "" {
			return fmt.Errorf("--from and --to must be provided")
		}
		amount := decimal.Zero
		if txAmount != "" {
			parsed, err := decimal.NewFromString(txAmount)
			if err != nil {
				return fmt.Errorf("invalid --amount value: %w", err)
			}
			amount = parsed
		}

		return getApp().ScreenTx(cmd.Context(), app.ScreenTxOptions{
			From:   txFrom,
			To:     txTo,
			Amount: amount,
			Chain:  screenChain,
			JSON:   screenJSON,
		})
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Report each provider's health",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Health(cmd.Context())
	},
}

func init() {
	for _, c := range []*cobra.Command{screenCmd, screenTxCmd} {
		c.Flags().StringVar(&screenChain, "chain", "ethereum", "Chain identifier")
		c.Flags().BoolVar(&screenJSON, "json", false, "Print the result as JSON")
	}
	screenCmd.Flags().StringVar(&screenContext, "context", "", "JSON file with entity, jurisdiction, owners and transactions")

	screenTxCmd.Flags().StringVar(&txFrom, "from", "", "Sender address")
	screenTxCmd.Flags().StringVar(&txTo, "to", "", "Recipient address")
	screenTxCmd.Flags().StringVar(&txAmount, "amount", "", "Transfer amount")
}
