package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: 9000\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Executor.MaxConcurrentJobs != 5 {
		t.Errorf("max_concurrent_jobs = %d, want 5", cfg.Executor.MaxConcurrentJobs)
	}
	if cfg.Executor.JobTimeout != 60*time.Minute {
		t.Errorf("job_timeout = %s, want 1h", cfg.Executor.JobTimeout)
	}
	if cfg.Executor.CleanupAfter != 30*24*time.Hour {
		t.Errorf("cleanup_after = %s", cfg.Executor.CleanupAfter)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("store driver = %q", cfg.Store.Driver)
	}
	if cfg.API.Timeout != 30*time.Second {
		t.Errorf("api timeout = %s", cfg.API.Timeout)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("EXECUTOR_MAX_CONCURRENT_JOBS", "2")
	t.Setenv("EXECUTOR_JOB_TIMEOUT_MINUTES", "15")
	t.Setenv("NUVYN_API_ENDPOINT", "https://catalog.example.com")
	t.Setenv("AWS_ACCESS_KEY_ID", "AKIA123")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "shh")

	cfg, err := Load(writeConfig(t, "executor:\n  allow_rerun: true\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Executor.MaxConcurrentJobs != 2 {
		t.Errorf("max_concurrent_jobs = %d, want 2", cfg.Executor.MaxConcurrentJobs)
	}
	if cfg.Executor.JobTimeout != 15*time.Minute {
		t.Errorf("job_timeout = %s, want 15m", cfg.Executor.JobTimeout)
	}
	if !cfg.Executor.AllowRerun {
		t.Error("allow_rerun from file not applied")
	}
	if cfg.API.Endpoint != "https://catalog.example.com" {
		t.Errorf("api endpoint = %q", cfg.API.Endpoint)
	}

	creds := cfg.CredentialsFor("AWS_S3")
	if creds["access_key_id"] != "AKIA123" || creds["secret_access_key"] != "shh" {
		t.Errorf("aws credentials = %v", creds.Mask())
	}
	if creds["region"] != "us-east-1" {
		t.Errorf("region = %q", creds["region"])
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"zero ceiling", func(c *Config) { c.Executor.MaxConcurrentJobs = 0 }, true},
		{"zero timeout", func(c *Config) { c.Executor.JobTimeout = 0 }, true},
		{"bad store", func(c *Config) { c.Store.Driver = "redis" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Executor: ExecutorConfig{MaxConcurrentJobs: 5, JobTimeout: time.Hour, SampleBytes: 1024, FanoutWorkers: 2},
				Store:    StoreConfig{Driver: "memory"},
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
