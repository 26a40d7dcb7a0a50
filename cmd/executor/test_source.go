package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/timmy/dataexec/internal/datasource"
	"github.com/timmy/dataexec/internal/domain"
)

var (
	testSourceType  string
	testSourceCreds map[string]string
	testTimeout     time.Duration
)

var testSourceCmd = &cobra.Command{
	Use:   "test-source",
	Short: "Test connectivity to a data source",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		creds := cfg.CredentialsFor(testSourceType).Merge(domain.Credentials(testSourceCreds))

		registry := datasource.NewRegistry(datasource.Options{
			SampleRows:     cfg.Executor.SampleRows,
			RequestTimeout: testTimeout,
		})
		ctx, cancel := context.WithTimeout(cmd.Context(), testTimeout)
		defer cancel()

		status := registry.TestConnection(ctx, testSourceType, creds)
		if err := printJSON(cmd.OutOrStdout(), status); err != nil {
			return err
		}
		if !status.Success {
			return fmt.Errorf("connection to %s failed: %s", testSourceType, status.Error)
		}
		return nil
	},
}

func init() {
	testSourceCmd.Flags().StringVar(&testSourceType, "type", "", "Data source type")
	testSourceCmd.Flags().StringToStringVar(&testSourceCreds, "cred", nil, "Credential as key=value, repeatable")
	testSourceCmd.Flags().DurationVar(&testTimeout, "timeout", 30*time.Second, "Connection test timeout")
	_ = testSourceCmd.MarkFlagRequired("type")
	rootCmd.AddCommand(testSourceCmd)
}
