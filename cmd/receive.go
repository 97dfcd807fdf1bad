package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"packshare/internal/app"
	"packshare/internal/ui"
)

type ReceiveFlags struct {
	OutputDir string
}

var receiveFlags ReceiveFlags

// receiveCmd represents the receive command
var receiveCmd = &cobra.Command{
	Use:   "receive <connection-string|share-code>",
	Short: "Receive a pack from a peer (responds to offer)",
	Long: `Receive a pack from a sharer. This will:

1. Decode the connection string (or join a relay share by its code)
2. Connect to the sharer
3. Pull every file chunk by chunk, verifying each file's hash
4. Write the files into the output directory

In direct mode the answer is printed for you to send back to the sharer,
unless a Firebase mailbox is configured.`,
	Args: cobra.ExactArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return validateReceiveFlags(&receiveFlags)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		logrus.Infof("Starting receiver, will save to: %s", receiveFlags.OutputDir)
		return runReceiveApp(&receiveFlags, args[0])
	},
}

// validateReceiveFlags validates the receive command flags
func validateReceiveFlags(flags *ReceiveFlags) error {
	if flags.OutputDir == "" {
		flags.OutputDir = viper.GetString("receive.out")
	}
	if flags.OutputDir == "" {
		return fmt.Errorf("output directory is required")
	}
	if err := os.MkdirAll(flags.OutputDir, 0755); err != nil {
		return fmt.Errorf("cannot create output directory '%s': %v", flags.OutputDir, err)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(receiveCmd)

	receiveCmd.Flags().StringVarP(&receiveFlags.OutputDir, "out", "o", "", "Directory to save the received files (required)")

	// Bind flags to viper for environment variable support
	viper.BindPFlag("receive.out", receiveCmd.Flags().Lookup("out"))
}

// runReceiveApp creates and runs the receive application
func runReceiveApp(flags *ReceiveFlags, source string) error {
	ctx := createContext()
	svc, err := createServices(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	opts := &app.ReceiverOptions{
		Source:     source,
		OutputDir:  flags.OutputDir,
		ShowAnswer: !svc.mailbox,
	}

	receiverApp := app.NewReceiverApp(svc.manager, ui.NewConsoleUI(), ui.NewProgressUI("Receiving"))
	return receiverApp.Run(ctx, opts)
}
