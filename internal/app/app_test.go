package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/dataexec/internal/config"
	"github.com/timmy/dataexec/internal/domain"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Executor: config.ExecutorConfig{
			MaxConcurrentJobs:  3,
			JobTimeout:         domain.DefaultJobTimeout,
			SampleBytes:        1 << 10,
			MaxEntriesAnalyzed: 5,
			PreviewEntries:     3,
			ListedEntries:      10,
			SampleRows:         100,
			FanoutWorkers:      2,
		},
		Store: config.StoreConfig{
			Driver: "sqlite",
			DB:     config.DatabaseConfig{Path: filepath.Join(dir, "jobs.db"), AutoMigrate: true},
		},
		MetadataWriter: config.MetadataWriterConfig{
			Enabled: true,
			DB:      config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(dir, "metadata.db"), AutoMigrate: true},
		},
		DataSources: map[string]map[string]string{
			"minio": {"endpoint": "localhost:9000", "access_key": "ak", "secret_key": "sk"},
		},
	}
}

func TestNewWiresServices(t *testing.T) {
	a, err := New(testConfig(t), nil)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	assert.Equal(t, 3, a.Coordinator.MaxConcurrentJobs())
	assert.NotNil(t, a.Catalog)
	assert.NotNil(t, a.SchemaCatalog())
	assert.Equal(t, "sk", a.Credentials("MinIO").Get("secret_key"))

	ctx := context.Background()
	report := a.Catalog.ValidateSchema(ctx)
	assert.Equal(t, "valid", report.Status)

	spec := domain.NewJobSpec(domain.JobTypeSchemaValidation, "")
	jobID, err := a.Coordinator.Create(ctx, spec)
	require.NoError(t, err)
	result, err := a.Coordinator.Execute(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, result.Status, result.Error())
}

func TestNewWithoutMetadataWriter(t *testing.T) {
	cfg := testConfig(t)
	cfg.MetadataWriter.Enabled = false
	cfg.Store.Driver = "memory"

	a, err := New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	assert.Nil(t, a.Catalog)
	assert.Nil(t, a.SchemaCatalog())
}
