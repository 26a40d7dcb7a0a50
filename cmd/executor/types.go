package main

import (
	"github.com/spf13/cobra"

	"github.com/timmy/dataexec/internal/datasource"
	"github.com/timmy/dataexec/internal/domain"
)

var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "List job types and data source types",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		registry := datasource.NewRegistry(datasource.DefaultOptions())
		sources := make(map[string][]string)
		for _, tag := range registry.SupportedTypes() {
			required, _ := registry.RequiredCredentials(tag)
			sources[tag] = required
		}
		return printJSON(cmd.OutOrStdout(), map[string]interface{}{
			"job_types":         domain.JobTypes,
			"data_source_types": sources,
		})
	},
}

func init() {
	rootCmd.AddCommand(typesCmd)
}
