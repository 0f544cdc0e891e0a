package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"chain-screening/internal/app"
)

var (
	batchInput   string
	batchCSVPath string
	batchChain   string
	batchWorkers int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Screen every address in a file and write a CSV report",
	RunE: func(cmd *cobra.Command, args []string) error {
		if batchInput == "" {
			return fmt.Errorf("--input must be provided")
		}
		if batchWorkers <= 0 {
			return fmt.Errorf("--workers must be greater than zero")
		}

		return getApp().Batch(cmd.Context(), app.BatchOptions{
			InputPath: batchInput,
			CSVPath:   batchCSVPath,
			Chain:     batchChain,
			Workers:   batchWorkers,
		})
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchInput, "input", "", "File with one address per line (# comments allowed)")
	batchCmd.Flags().StringVar(&batchCSVPath, "csv", "", "Path to write the CSV report (defaults to stdout)")
	batchCmd.Flags().StringVar(&batchChain, "chain", "ethereum", "Chain identifier")
	batchCmd.Flags().IntVar(&batchWorkers, "workers", 4, "Number of concurrent screenings")
}
