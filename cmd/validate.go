package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"packshare/internal/manager"
	"packshare/pkg/types"
)

// validateCmd represents the validate command
var validateCmd = &cobra.Command{
	Use:   "validate <connection-string>",
	Short: "Check a connection string without connecting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m := manager.New(cfg)
		defer m.Close()

		if err := m.ValidateConnectionString(args[0]); err != nil {
			return err
		}

		info, err := types.DecodeShareInfo(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Valid connection string\n  share code: %s\n  peer: %s\n", info.ShareCode, info.PeerID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
