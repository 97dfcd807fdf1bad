package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"packshare/internal/broker"
)

var (
	brokerListen    string
	brokerKeepalive time.Duration
)

// brokerCmd represents the broker command
var brokerCmd = &cobra.Command{
	Use:   "broker",
	Short: "Run a self-hosted relay broker",
	Long: `Run a small publish/subscribe broker compatible with the subset of the ntfy
protocol that relay mode uses. Point relay.broker_url at it to keep relay
traffic off public infrastructure.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := createContext()

		srv := &http.Server{
			Addr:              brokerListen,
			Handler:           broker.New(brokerKeepalive).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logrus.Warnf("Broker shutdown: %v", err)
			}
		}()

		logrus.Infof("Broker listening on %s", brokerListen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(brokerCmd)
	brokerCmd.Flags().StringVar(&brokerListen, "listen", ":8080", "Address to listen on")
	brokerCmd.Flags().DurationVar(&brokerKeepalive, "keepalive", 45*time.Second, "Interval between keepalive events")
}
