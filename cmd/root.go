package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"packshare/internal/config"
	"packshare/internal/history"
	"packshare/internal/manager"
	"packshare/internal/signalling"
	"packshare/pkg/logging"
)

var (
	cfg     *config.Config
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "packshare",
	Short: "packshare - end-to-end encrypted P2P file pack transfer",
	Long: `packshare sends a named pack of files from one machine to another.

Direct mode uses a WebRTC data channel between the two peers; relay mode
tunnels the same encrypted protocol through a public pub/sub broker so that
neither side learns the other's network address.

Usage:
  Share files:      packshare share a.bin b.bin --name "My pack" [--relay]
  Receive a pack:   packshare receive <connection-string|share-code> --out ./downloads
  Check a string:   packshare validate <connection-string>`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		initConfig()

		loaded, err := config.Load(viper.GetViper())
		if err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		cfg = loaded

		logging.Init(cfg.Log.Level, cfg.Log.JSON)
		if used := viper.ConfigFileUsed(); used != "" {
			logrus.Debugf("Using config file: %s", used)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.packshare.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "log as JSON")

	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log.json", rootCmd.PersistentFlags().Lookup("log-json"))

	// Set up viper environment variable support
	viper.SetEnvPrefix("PACKSHARE")
	viper.AutomaticEnv()
}

// initConfig reads .env, the config file and environment variables
func initConfig() {
	// A missing .env is normal
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			logrus.Warnf("Could not find home directory: %v", err)
			return
		}

		// Search config in home directory with name ".packshare" (without extension)
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".packshare")
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound && cfgFile != "" {
			logrus.Warnf("Could not read config file: %v", err)
		}
	}
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// createContext creates a context that cancels on interrupt signals
func createContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nReceived interrupt signal, shutting down...")
		cancel()
	}()

	return ctx
}

// services holds the long-lived collaborators of one command run
type services struct {
	manager *manager.Manager
	history *history.Store
	mailbox bool
}

func (s *services) Close() {
	if err := s.manager.Close(); err != nil {
		logrus.Warnf("Error closing manager: %v", err)
	}
	if s.history != nil {
		if err := s.history.Close(); err != nil {
			logrus.Warnf("Error closing history: %v", err)
		}
	}
}

// createServices wires the manager with the optional mailbox and history store
func createServices(ctx context.Context) (*services, error) {
	var opts []manager.Option
	svc := &services{}

	if cfg.Firebase.Enabled {
		mailbox, err := signalling.NewFirebaseMailbox(ctx, &cfg.Firebase)
		if err != nil {
			return nil, fmt.Errorf("failed to set up answer mailbox: %w", err)
		}
		opts = append(opts, manager.WithMailbox(mailbox))
		svc.mailbox = true
	}

	if cfg.History.Enabled {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			return nil, err
		}
		opts = append(opts, manager.WithHistory(store))
		svc.history = store
	}

	svc.manager = manager.New(cfg, opts...)
	return svc, nil
}
