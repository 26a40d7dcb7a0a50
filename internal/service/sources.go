package service

import (
	"context"

	"github.com/timmy/dataexec/internal/datasource"
	"github.com/timmy/dataexec/internal/logger"
)

// SourceOpener resolves and connects a fresh connector per call. Connectors
// are never shared between jobs.
type SourceOpener struct {
	registry *datasource.Registry
	lookup   datasource.CredentialLookup
}

// NewSourceOpener creates an opener over registry.
// Parameters:
//   - registry: connector variants by source type.
//   - lookup: configured credentials per source type.
//
// Returns:
//   - *SourceOpener: opener resolving, validating and connecting sources.
func NewSourceOpener(registry *datasource.Registry, lookup datasource.CredentialLookup) *SourceOpener {
	return &SourceOpener{registry: registry, lookup: lookup}
}

// Open resolves path with tag ("auto" or empty means auto-detect) and
// connects. The caller must pass the connector to Close.
func (o *SourceOpener) Open(ctx context.Context, path, tag string) (datasource.DataSource, error) {
	ds, err := o.registry.Resolve(path, tag, o.lookup)
	if err != nil {
		return nil, err
	}
	if err := ds.Connect(ctx); err != nil {
		_ = ds.Disconnect(context.WithoutCancel(ctx))
		return nil, err
	}
	logger.CtxDebug(ctx, "connected to %s source", ds.SourceType())
	return ds, nil
}

// Close disconnects ds even when ctx is already cancelled.
func (o *SourceOpener) Close(ctx context.Context, ds datasource.DataSource) {
	if err := ds.Disconnect(context.WithoutCancel(ctx)); err != nil {
		logger.FromContext(ctx).WithError(err).Warnf("failed to disconnect %s", ds.SourceType())
	}
}
