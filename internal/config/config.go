package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/timmy/dataexec/internal/domain"
)

type Config struct {
	Server         ServerConfig                 `mapstructure:"server"`
	Executor       ExecutorConfig               `mapstructure:"executor"`
	Store          StoreConfig                  `mapstructure:"store"`
	MetadataWriter MetadataWriterConfig         `mapstructure:"metadata_writer"`
	API            APIConfig                    `mapstructure:"api"`
	NATS           NATSConfig                   `mapstructure:"nats"`
	DataSources    map[string]map[string]string `mapstructure:"datasources"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

// ExecutorConfig bounds job execution and task sampling.
type ExecutorConfig struct {
	MaxConcurrentJobs  int           `mapstructure:"max_concurrent_jobs"`
	JobTimeout         time.Duration `mapstructure:"job_timeout"`
	CleanupAfter       time.Duration `mapstructure:"cleanup_after"`
	CleanupInterval    time.Duration `mapstructure:"cleanup_interval"`
	AllowRerun         bool          `mapstructure:"allow_rerun"`
	SampleBytes        int64         `mapstructure:"sample_bytes"`
	MaxEntriesAnalyzed int           `mapstructure:"max_entries_analyzed"`
	PreviewEntries     int           `mapstructure:"preview_entries"`
	ListedEntries      int           `mapstructure:"listed_entries"`
	SampleRows         int           `mapstructure:"sample_rows"`
	FanoutWorkers      int           `mapstructure:"fanout_workers"`
}

// StoreConfig selects the job store. Driver "memory" keeps state in process.
type StoreConfig struct {
	Driver string         `mapstructure:"driver"`
	DB     DatabaseConfig `mapstructure:"db"`
}

// MetadataWriterConfig enables persisting extracted metadata.
type MetadataWriterConfig struct {
	Enabled bool           `mapstructure:"enabled"`
	DB      DatabaseConfig `mapstructure:"db"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	URL             string        `mapstructure:"url"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN returns the connection string for the configured driver.
func (c DatabaseConfig) DSN() string {
	if c.Driver == "sqlite" || c.Driver == "" {
		return c.Path
	}
	return c.URL
}

// APIConfig points at the metadata catalogue receiving transmissions.
type APIConfig struct {
	Endpoint   string        `mapstructure:"endpoint"`
	APIKey     string        `mapstructure:"api_key"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RetryCount int           `mapstructure:"retry_count"`
}

// NATSConfig enables publishing terminal job results.
type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

// credentialEnv maps data source credential keys to environment variables.
var credentialEnv = map[string]string{
	"datasources.azure_blob.connection_string": "AZURE_STORAGE_CONNECTION_STRING",
	"datasources.azure_blob.account_name":      "AZURE_STORAGE_ACCOUNT_NAME",
	"datasources.azure_blob.account_key":       "AZURE_STORAGE_ACCOUNT_KEY",
	"datasources.azure_blob.sas_token":         "AZURE_STORAGE_SAS_TOKEN",
	"datasources.aws_s3.access_key_id":         "AWS_ACCESS_KEY_ID",
	"datasources.aws_s3.secret_access_key":     "AWS_SECRET_ACCESS_KEY",
	"datasources.aws_s3.session_token":         "AWS_SESSION_TOKEN",
	"datasources.aws_s3.region":                "AWS_DEFAULT_REGION",
	"datasources.minio.endpoint":               "MINIO_ENDPOINT",
	"datasources.minio.access_key":             "MINIO_ACCESS_KEY",
	"datasources.minio.secret_key":             "MINIO_SECRET_KEY",
	"datasources.minio.use_ssl":                "MINIO_USE_SSL",
	"datasources.database.host":                "DATABASE_HOST",
	"datasources.database.port":                "DATABASE_PORT",
	"datasources.database.username":            "DATABASE_USERNAME",
	"datasources.database.password":            "DATABASE_PASSWORD",
	"datasources.database.database":            "DATABASE_NAME",
	"datasources.database.type":                "DATABASE_TYPE",
	"datasources.qdrant.host":                  "QDRANT_HOST",
	"datasources.qdrant.port":                  "QDRANT_PORT",
	"datasources.qdrant.api_key":               "QDRANT_API_KEY",
}

func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.BindEnv("executor.max_concurrent_jobs", "EXECUTOR_MAX_CONCURRENT_JOBS")
	v.BindEnv("executor.allow_rerun", "EXECUTOR_ALLOW_RERUN")
	v.BindEnv("store.driver", "STORE_DRIVER")
	v.BindEnv("store.db.url", "STORE_DATABASE_URL")
	v.BindEnv("metadata_writer.db.url", "METADATA_DATABASE_URL")
	v.BindEnv("api.endpoint", "NUVYN_API_ENDPOINT")
	v.BindEnv("api.api_key", "NUVYN_API_KEY")
	v.BindEnv("nats.url", "NATS_URL")
	v.BindEnv("server.port", "PORT")
	for key, env := range credentialEnv {
		v.BindEnv(key, env)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// minute/day based variables kept from earlier deployments
	if m := v.GetInt("EXECUTOR_JOB_TIMEOUT_MINUTES"); m > 0 {
		cfg.Executor.JobTimeout = time.Duration(m) * time.Minute
	}
	if d := v.GetInt("EXECUTOR_CLEANUP_DAYS"); d > 0 {
		cfg.Executor.CleanupAfter = time.Duration(d) * 24 * time.Hour
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})

	v.SetDefault("executor.max_concurrent_jobs", 5)
	v.SetDefault("executor.job_timeout", domain.DefaultJobTimeout)
	v.SetDefault("executor.cleanup_after", 30*24*time.Hour)
	v.SetDefault("executor.cleanup_interval", time.Hour)
	v.SetDefault("executor.allow_rerun", false)
	v.SetDefault("executor.sample_bytes", 1<<20)
	v.SetDefault("executor.max_entries_analyzed", 5)
	v.SetDefault("executor.preview_entries", 3)
	v.SetDefault("executor.listed_entries", 10)
	v.SetDefault("executor.sample_rows", 1000)
	v.SetDefault("executor.fanout_workers", 4)

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.db.driver", "sqlite")
	v.SetDefault("store.db.path", "./data/jobs.db")
	v.SetDefault("store.db.max_idle_conns", 2)
	v.SetDefault("store.db.max_open_conns", 10)
	v.SetDefault("store.db.conn_max_lifetime", time.Hour)
	v.SetDefault("store.db.auto_migrate", true)

	v.SetDefault("metadata_writer.enabled", false)
	v.SetDefault("metadata_writer.db.driver", "sqlite")
	v.SetDefault("metadata_writer.db.path", "./data/metadata.db")
	v.SetDefault("metadata_writer.db.max_idle_conns", 2)
	v.SetDefault("metadata_writer.db.max_open_conns", 10)
	v.SetDefault("metadata_writer.db.conn_max_lifetime", time.Hour)
	v.SetDefault("metadata_writer.db.auto_migrate", true)

	v.SetDefault("api.timeout", 30*time.Second)
	v.SetDefault("api.retry_count", 3)

	v.SetDefault("nats.subject", "dataexec.jobs.results")

	v.SetDefault("datasources.aws_s3.region", "us-east-1")
}

// Validate rejects settings the executor cannot run with.
func (c *Config) Validate() error {
	e := c.Executor
	if e.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("executor: max_concurrent_jobs must be positive, got %d", e.MaxConcurrentJobs)
	}
	if e.JobTimeout <= 0 {
		return fmt.Errorf("executor: job_timeout must be positive, got %s", e.JobTimeout)
	}
	if e.SampleBytes <= 0 {
		return fmt.Errorf("executor: sample_bytes must be positive, got %d", e.SampleBytes)
	}
	if e.FanoutWorkers <= 0 {
		return fmt.Errorf("executor: fanout_workers must be positive, got %d", e.FanoutWorkers)
	}
	switch c.Store.Driver {
	case "memory", "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("store: unsupported driver %q", c.Store.Driver)
	}
	return nil
}

// CredentialsFor returns the configured credential bundle of a source type.
func (c *Config) CredentialsFor(tag string) domain.Credentials {
	creds := domain.Credentials{}
	for k, v := range c.DataSources[strings.ToLower(tag)] {
		creds[k] = v
	}
	return creds
}
