package datasource

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/timmy/dataexec/internal/domain"
	"github.com/timmy/dataexec/internal/logger"
)

// Options tune connector behaviour shared by all variants.
type Options struct {
	// SampleRows bounds the row projection of tabular samples.
	SampleRows int
	// RequestTimeout bounds HTTP round trips made outside a vendor SDK.
	RequestTimeout time.Duration
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{SampleRows: 1000, RequestTimeout: 30 * time.Second}
}

// Constructor builds an unconnected connector from a credential bundle.
type Constructor func(creds domain.Credentials, opts Options) DataSource

// CredentialLookup returns the configured credentials for a source type tag.
type CredentialLookup func(tag string) domain.Credentials

type registration struct {
	tag      string
	ctor     Constructor
	required []string
}

// Registry maps source type tags to connector constructors. Auto-detection
// walks variants in registration order.
type Registry struct {
	mu      sync.RWMutex
	entries []registration
	opts    Options
}

// NewRegistry returns a registry with every built-in variant registered.
func NewRegistry(opts Options) *Registry {
	if opts.SampleRows <= 0 {
		opts.SampleRows = DefaultOptions().SampleRows
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultOptions().RequestTimeout
	}
	r := &Registry{opts: opts}
	r.Register(TypeAzureBlob, NewAzureBlobSource, azureRequired...)
	r.Register(TypeAWSS3, NewS3Source, s3Required...)
	r.Register(TypeMinIO, NewMinIOSource, minioRequired...)
	r.Register(TypeDatabase, NewDatabaseSource, databaseRequired...)
	r.Register(TypeQdrant, NewQdrantSource, qdrantRequired...)
	return r
}

// Register adds or replaces a variant. New tags go to the end of the
// auto-detection order; replaced tags keep their position.
func (r *Registry) Register(tag string, ctor Constructor, required ...string) {
	tag = normalizeTag(tag)
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.entries {
		if r.entries[i].tag == tag {
			r.entries[i] = registration{tag: tag, ctor: ctor, required: required}
			return
		}
	}
	r.entries = append(r.entries, registration{tag: tag, ctor: ctor, required: required})
}

// SupportedTypes returns the registered tags in detection order.
func (r *Registry) SupportedTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, len(r.entries))
	for i, e := range r.entries {
		tags[i] = e.tag
	}
	return tags
}

// RequiredCredentials describes the credential alternatives of a tag.
func (r *Registry) RequiredCredentials(tag string) ([]string, bool) {
	reg, ok := r.lookup(tag)
	if !ok {
		return nil, false
	}
	return append([]string(nil), reg.required...), true
}

// Create builds a connector for tag and validates its credentials.
func (r *Registry) Create(tag string, creds domain.Credentials) (DataSource, error) {
	return r.create(tag, creds, "")
}

func (r *Registry) create(tag string, creds domain.Credentials, path string) (DataSource, error) {
	reg, ok := r.lookup(tag)
	if !ok {
		return nil, domain.NewErrUnknownSourceType(tag, r.SupportedTypes())
	}
	ds := reg.ctor(creds, r.opts)
	if path != "" {
		if pc, ok := ds.(PathCredentialer); ok {
			pc.AdoptPath(path)
		}
	}
	if !ds.ValidateCredentials() {
		return nil, domain.NewErrInvalidCredentials(reg.tag, reg.required)
	}
	return ds, nil
}

// AutoDetect returns the first variant that claims path and has valid
// credentials, or nil. A variant that claims the path but lacks credentials
// is logged and skipped.
func (r *Registry) AutoDetect(path string, creds domain.Credentials) DataSource {
	return r.AutoDetectWith(path, func(string) domain.Credentials { return creds })
}

// AutoDetectWith is AutoDetect with per-variant credentials.
func (r *Registry) AutoDetectWith(path string, lookup CredentialLookup) DataSource {
	r.mu.RLock()
	entries := append([]registration(nil), r.entries...)
	r.mu.RUnlock()

	for _, reg := range entries {
		creds := lookup(reg.tag)
		ds := reg.ctor(creds, r.opts)
		if !ds.CanHandle(path) {
			continue
		}
		if pc, ok := ds.(PathCredentialer); ok {
			pc.AdoptPath(path)
		}
		if ds.ValidateCredentials() {
			logger.With(logger.Fields{logger.FieldSourceType: reg.tag}).Debug(context.Background(), "auto-detected data source for %s", redactPath(path))
			return ds
		}
		logger.With(logger.Fields{
			logger.FieldSourceType: reg.tag,
			"credentials":          ds.MaskedCredentials(),
		}).Warn(context.Background(), "path matches %s but credentials are incomplete, trying next source type", reg.tag)
	}
	return nil
}

// Resolve returns a connector for path. An empty or "auto" tag means
// auto-detection.
func (r *Registry) Resolve(path, tag string, lookup CredentialLookup) (DataSource, error) {
	tag = normalizeTag(tag)
	if tag == "" || tag == domain.DefaultSourceType {
		if ds := r.AutoDetectWith(path, lookup); ds != nil {
			return ds, nil
		}
		return nil, domain.NewErrValidation("no data source type can handle path %s with the configured credentials", redactPath(path))
	}
	return r.create(tag, lookup(tag), path)
}

// TestConnection creates, connects and probes a connector, then disconnects.
func (r *Registry) TestConnection(ctx context.Context, tag string, creds domain.Credentials) ConnectionStatus {
	ds, err := r.Create(tag, creds)
	if err != nil {
		return ConnectionStatus{SourceType: normalizeTag(tag), Status: StatusFailed, Error: err.Error()}
	}
	defer ds.Disconnect(ctx)
	if err := ds.Connect(ctx); err != nil {
		return failed(ds.SourceType(), err)
	}
	return ds.TestConnection(ctx)
}

func (r *Registry) lookup(tag string) (registration, bool) {
	tag = normalizeTag(tag)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.tag == tag {
			return e, true
		}
	}
	return registration{}, false
}

func normalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

// redactPath drops the query string, which may carry a token.
func redactPath(path string) string {
	base, q := splitQuery(path)
	if len(q) == 0 {
		return base
	}
	return base + "?" + domain.MaskPlaceholder
}
