package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"chain-screening/internal/app"
	"chain-screening/internal/overrides"
)

var (
	overrideChains    string
	overrideReason    string
	overrideAddedBy   string
	overrideExpiresIn time.Duration
	overrideFile      string
	overrideOut       string
)

var overridesCmd = &cobra.Command{
	Use:   "overrides",
	Short: "Manage the operator blocklist and allowlist",
}

var overridesAddCmd = &cobra.Command{
	Use:   "add <blocklist|allowlist> <address>",
	Short: "Add or replace an override entry",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := overrides.ParseList(args[0])
		if err != nil {
			return err
		}
		var chains []string
		if overrideChains != "" {
			chains = strings.Split(overrideChains, ",")
		}
		return getApp().OverridesAdd(cmd.Context(), app.OverrideEntryOptions{
			List:      list,
			Address:   args[1],
			Chains:    chains,
			Reason:    overrideReason,
			AddedBy:   overrideAddedBy,
			ExpiresIn: overrideExpiresIn,
		})
	},
}

var overridesRemoveCmd = &cobra.Command{
	Use:   "remove <blocklist|allowlist> <address>",
	Short: "Remove an override entry",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := overrides.ParseList(args[0])
		if err != nil {
			return err
		}
		return getApp().OverridesRemove(cmd.Context(), list, args[1])
	},
}

var overridesShowCmd = &cobra.Command{
	Use:   "show <blocklist|allowlist>",
	Short: "Display an override list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := overrides.ParseList(args[0])
		if err != nil {
			return err
		}
		return getApp().OverridesShow(cmd.Context(), list)
	},
}

var overridesImportCmd = &cobra.Command{
	Use:   "import <blocklist|allowlist>",
	Short: "Bulk-load entries from a JSON or CSV file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := overrides.ParseList(args[0])
		if err != nil {
			return err
		}
		if overrideFile == "" {
			return fmt.Errorf("--file must be provided")
		}
		return getApp().OverridesImport(cmd.Context(), list, overrideFile)
	},
}

var overridesExportCmd = &cobra.Command{
	Use:   "export <blocklist|allowlist>",
	Short: "Write every entry, expired ones included, to a JSON or CSV file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := overrides.ParseList(args[0])
		if err != nil {
			return err
		}
		return getApp().OverridesExport(cmd.Context(), list, overrideOut)
	},
}

func init() {
	overridesAddCmd.Flags().StringVar(&overrideChains, "chains", "", "Comma-separated chains; empty applies to all chains")
	overridesAddCmd.Flags().StringVar(&overrideReason, "reason", "", "Why the address is listed")
	overridesAddCmd.Flags().StringVar(&overrideAddedBy, "added-by", "", "Operator adding the entry")
	overridesAddCmd.Flags().DurationVar(&overrideExpiresIn, "expires-in", 0, "Expire the entry after this duration")

	overridesImportCmd.Flags().StringVar(&overrideFile, "file", "", "Input file (.json or .csv)")
	overridesExportCmd.Flags().StringVar(&overrideOut, "out", "", "Output file (.json or .csv)")

	overridesCmd.AddCommand(overridesAddCmd, overridesRemoveCmd, overridesShowCmd, overridesImportCmd, overridesExportCmd)
}
