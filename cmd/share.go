package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"packshare/internal/app"
	"packshare/internal/ui"
)

type ShareFlags struct {
	Name        string
	Description string
	Creator     string
	Relay       bool
	Once        bool
}

var shareFlags ShareFlags

// shareCmd represents the share command
var shareCmd = &cobra.Command{
	Use:   "share <file>...",
	Short: "Share a pack of files (creates offer)",
	Long: `Share one or more files as a named pack. This will:

1. Hash the files and build the pack manifest
2. Generate a share code and encryption key
3. Print a connection string for the receiver
4. Serve the pack until interrupted

In direct mode you are asked for the receiver's answer unless a Firebase
mailbox is configured. In relay mode (--relay) the receiver only needs the
share code.`,
	Args: cobra.MinimumNArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return validateShareFlags(&shareFlags, args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		logrus.Infof("Starting share of %d files", len(args))
		return runShareApp(&shareFlags, args)
	},
}

func init() {
	rootCmd.AddCommand(shareCmd)

	shareCmd.Flags().StringVarP(&shareFlags.Name, "name", "n", "", "Pack name (defaults to the first file name)")
	shareCmd.Flags().StringVarP(&shareFlags.Description, "description", "d", "", "Pack description")
	shareCmd.Flags().StringVar(&shareFlags.Creator, "creator", "", "Pack creator")
	shareCmd.Flags().BoolVar(&shareFlags.Relay, "relay", false, "Share through the relay broker instead of a direct connection")
	shareCmd.Flags().BoolVar(&shareFlags.Once, "once", false, "Stop after the first completed transfer")

	viper.BindPFlag("share.creator", shareCmd.Flags().Lookup("creator"))
}

// validateShareFlags validates the share command flags
func validateShareFlags(flags *ShareFlags, files []string) error {
	if len(files) == 0 {
		return fmt.Errorf("at least one file is required")
	}
	if flags.Name == "" {
		flags.Name = filepath.Base(files[0])
	}
	if flags.Creator == "" {
		flags.Creator = viper.GetString("share.creator")
	}
	return nil
}

// runShareApp creates and runs the share application
func runShareApp(flags *ShareFlags, files []string) error {
	ctx := createContext()
	svc, err := createServices(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	opts := &app.SenderOptions{
		Name:        flags.Name,
		Description: flags.Description,
		Creator:     flags.Creator,
		FilePaths:   files,
		Relay:       flags.Relay,
		AwaitAnswer: !svc.mailbox,
		Once:        flags.Once,
	}

	return app.NewSenderApp(svc.manager, ui.NewConsoleUI()).Run(ctx, opts)
}
