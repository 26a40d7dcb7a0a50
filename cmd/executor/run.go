package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/timmy/dataexec/internal/app"
	"github.com/timmy/dataexec/internal/domain"
)

var (
	runWorkflowID string
	runSourceID   string
	runTimeout    time.Duration
	runMetadata   map[string]string
	runPersist    bool
)

var runCmd = &cobra.Command{
	Use:   "run <job_type> [data_source_path] [data_source_type] [tenant_id]",
	Short: "Create and execute one job, printing its result as JSON",
	Args:  cobra.RangeArgs(1, 4),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := buildRunSpec(args)
		if err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		executor, err := app.New(cfg, cliLogger)
		if err != nil {
			return err
		}
		defer executor.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		jobID, err := executor.Coordinator.Create(ctx, spec)
		if err != nil {
			return err
		}
		result, err := executor.Coordinator.Execute(ctx, jobID)
		if err != nil {
			return err
		}
		if err := printJSON(cmd.OutOrStdout(), result); err != nil {
			return err
		}
		if result.Status != domain.JobStatusCompleted {
			return fmt.Errorf("job %s %s: %s", result.JobID, result.Status, result.Error())
		}
		return nil
	},
}

func buildRunSpec(args []string) (*domain.JobSpec, error) {
	jobType, err := domain.ParseJobType(args[0])
	if err != nil {
		return nil, err
	}
	var path string
	if len(args) > 1 {
		path = args[1]
	}
	spec := domain.NewJobSpec(jobType, path)
	if len(args) > 2 {
		spec.DataSourceType = args[2]
	}
	if len(args) > 3 {
		spec.TenantID = args[3]
	}
	spec.CreatedBy = "cli"
	if runTimeout > 0 {
		spec.Timeout = runTimeout
	}
	for k, v := range runMetadata {
		spec.JobMetadata[k] = v
	}
	if runWorkflowID != "" {
		spec.JobMetadata[domain.MetadataKeyWorkflowID] = runWorkflowID
	}
	if runSourceID != "" {
		spec.JobMetadata[domain.MetadataKeySourceID] = runSourceID
	}
	if runPersist {
		spec.JobMetadata[domain.MetadataKeyPersist] = true
	}
	return spec, nil
}

func init() {
	runCmd.Flags().StringVar(&runWorkflowID, "workflow-id", "", "Workflow id used to persist extracted metadata")
	runCmd.Flags().StringVar(&runSourceID, "source-id", "", "Source id used to persist extracted metadata")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Job timeout (default from config)")
	runCmd.Flags().StringToStringVar(&runMetadata, "meta", nil, "Extra job metadata as key=value")
	runCmd.Flags().BoolVar(&runPersist, "persist", false, "Persist extracted metadata without a workflow id")
	rootCmd.AddCommand(runCmd)
}
