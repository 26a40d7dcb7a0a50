package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/timmy/dataexec/internal/bus"
	"github.com/timmy/dataexec/internal/domain"
)

var watchURL string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print job results published on NATS until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		url := watchURL
		if url == "" {
			url = cfg.NATS.URL
		}
		if url == "" {
			return fmt.Errorf("no NATS url: set nats.url or pass --url")
		}

		client, err := bus.Connect(url, cfg.NATS.Subject)
		if err != nil {
			return err
		}
		defer client.Close()

		out := cmd.OutOrStdout()
		sub, err := client.SubscribeResults(func(ctx context.Context, result *domain.JobResult) {
			if err := printJSON(out, result); err != nil {
				cliLogger.WithError(err).Warn("failed to print result")
			}
		})
		if err != nil {
			return err
		}
		defer sub.Unsubscribe()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()
		return nil
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchURL, "url", "", "NATS url (default nats.url from config)")
	rootCmd.AddCommand(watchCmd)
}
