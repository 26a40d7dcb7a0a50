// Package app wires configuration into the executor's services. Both the
// HTTP server and the CLI build on it.
package app

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/timmy/dataexec/internal/bus"
	"github.com/timmy/dataexec/internal/config"
	"github.com/timmy/dataexec/internal/datasource"
	"github.com/timmy/dataexec/internal/domain"
	"github.com/timmy/dataexec/internal/logger"
	"github.com/timmy/dataexec/internal/repository"
	"github.com/timmy/dataexec/internal/service"
)

// Version is recorded on executor runs and reported by /health.
const Version = "1.0.0"

// App holds the long-lived services of one executor process.
type App struct {
	Config      *config.Config
	Logger      *logger.Logger
	Registry    *datasource.Registry
	Coordinator *service.Coordinator
	// Catalog is nil when no metadata database is configured.
	Catalog *repository.MetadataCatalog

	closers []func()
}

// Credentials returns the configured credential bundle of a source type.
func (a *App) Credentials(tag string) domain.Credentials {
	return a.Config.CredentialsFor(tag)
}

// SchemaCatalog returns Catalog as an interface that is nil when Catalog is.
func (a *App) SchemaCatalog() service.SchemaCatalog {
	if a.Catalog == nil {
		return nil
	}
	return a.Catalog
}

// Close releases database pools and the NATS connection in reverse order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// New builds the job store, metadata catalogue, connector registry, task
// bodies and coordinator described by cfg.
func New(cfg *config.Config, log *logger.Logger) (*App, error) {
	if log == nil {
		log = logger.GetDefault()
	}
	a := &App{Config: cfg, Logger: log}

	store, err := a.openStore(cfg.Store)
	if err != nil {
		a.Close()
		return nil, err
	}

	var (
		writer    domain.MetadataWriter
		notifiers []service.Notifier
	)
	if cfg.MetadataWriter.Enabled {
		db, err := repository.InitDB(&cfg.MetadataWriter.DB, repository.CatalogModels()...)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to open metadata database: %w", err)
		}
		a.addDB(db)
		a.Catalog = repository.NewMetadataCatalog(db, Version)
		writer = a.Catalog
		notifiers = append(notifiers, service.NewRunAuditor(a.Catalog))
		log.Info("Metadata writer enabled")
	}

	if cfg.NATS.URL != "" {
		nc, err := bus.Connect(cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			// results are still stored; publishing is best effort
			log.WithError(err).Warn("Failed to connect to NATS, results will not be published")
		} else {
			a.closers = append(a.closers, nc.Close)
			notifiers = append(notifiers, nc)
			log.WithField("subject", cfg.NATS.Subject).Info("Publishing job results to NATS")
		}
	}

	e := cfg.Executor
	a.Registry = datasource.NewRegistry(datasource.Options{
		SampleRows:     e.SampleRows,
		RequestTimeout: cfg.API.Timeout,
	})
	opener := service.NewSourceOpener(a.Registry, a.Credentials)

	dispatcher := service.NewDispatcher(service.Tasks{
		MetadataExtraction: service.NewMetadataExtractor(opener, writer, service.ExtractorConfig{
			MaxEntries:  e.MaxEntriesAnalyzed,
			SampleBytes: e.SampleBytes,
			Workers:     e.FanoutWorkers,
		}),
		SchemaValidation: service.NewSchemaValidator(a.SchemaCatalog()),
		DataReading: service.NewDataReader(opener, service.ReaderConfig{
			ListedEntries:  e.ListedEntries,
			PreviewEntries: e.PreviewEntries,
		}),
		QualityAssessment: service.NewQualityAssessor(opener, e.MaxEntriesAnalyzed),
		APITransmission: service.NewAPITransmitter(service.TransmitterConfig{
			Endpoint:   cfg.API.Endpoint,
			APIKey:     cfg.API.APIKey,
			Timeout:    cfg.API.Timeout,
			RetryCount: cfg.API.RetryCount,
		}),
	})

	a.Coordinator = service.NewCoordinator(store, dispatcher, log, service.CoordinatorConfig{
		MaxConcurrentJobs: e.MaxConcurrentJobs,
		AllowRerun:        e.AllowRerun,
	}, notifiers...)

	log.WithFields(logger.Fields{
		"max_concurrent_jobs": e.MaxConcurrentJobs,
		"store":               cfg.Store.Driver,
		"source_types":        a.Registry.SupportedTypes(),
	}).Info("Executor initialized")
	return a, nil
}

func (a *App) openStore(cfg config.StoreConfig) (repository.JobStore, error) {
	if cfg.Driver == "memory" || cfg.Driver == "" {
		return repository.NewMemoryJobStore(), nil
	}
	dbCfg := cfg.DB
	dbCfg.Driver = cfg.Driver
	db, err := repository.InitDB(&dbCfg, repository.StoreModels()...)
	if err != nil {
		return nil, fmt.Errorf("failed to open job store: %w", err)
	}
	a.addDB(db)
	return repository.NewGormJobStore(db), nil
}

func (a *App) addDB(db *gorm.DB) {
	a.closers = append(a.closers, func() {
		if err := repository.Close(db); err != nil {
			a.Logger.WithError(err).Warn("Failed to close database")
		}
	})
}
