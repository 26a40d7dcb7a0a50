package datasource

import (
	"context"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"

	"github.com/timmy/dataexec/internal/domain"
	"github.com/timmy/dataexec/internal/logger"
)

var minioRequired = []string{"endpoint+access_key+secret_key"}

// MinIOConfig is the typed credential bundle of the minio variant.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

func parseMinIOConfig(creds domain.Credentials) MinIOConfig {
	endpoint := creds.Get("endpoint", "minio_endpoint")
	useSSL := parseBool(creds.Get("use_ssl", "secure"))
	if strings.HasPrefix(endpoint, "https://") {
		useSSL = true
	}
	endpoint = strings.TrimPrefix(strings.TrimPrefix(endpoint, "https://"), "http://")
	endpoint = strings.TrimSuffix(endpoint, "/")
	return MinIOConfig{
		Endpoint:  endpoint,
		AccessKey: creds.Get("access_key", "access_key_id"),
		SecretKey: creds.Get("secret_key", "secret_access_key"),
		UseSSL:    useSSL,
		Bucket:    creds.Get("bucket", "bucket_name"),
	}
}

// objectStore is the subset of minio-go used by the connector.
type objectStore interface {
	ListBuckets(ctx context.Context) ([]string, error)
	ListObjects(ctx context.Context, bucket, prefix string) ([]minio.ObjectInfo, error)
	Stat(ctx context.Context, bucket, key string) (int64, error)
	Read(ctx context.Context, bucket, key string, max int64) ([]byte, error)
}

// MinIOSource reads objects from a MinIO server, addressed as
// minio://<bucket>/<prefix>.
type MinIOSource struct {
	cfg   MinIOConfig
	creds domain.Credentials
	store objectStore
}

// NewMinIOSource is the minio Constructor.
func NewMinIOSource(creds domain.Credentials, _ Options) DataSource {
	return &MinIOSource{cfg: parseMinIOConfig(creds), creds: creds}
}

func (m *MinIOSource) SourceType() string { return TypeMinIO }

// CanHandle accepts minio:// URIs.
func (m *MinIOSource) CanHandle(path string) bool {
	return strings.HasPrefix(strings.ToLower(path), "minio://")
}

func (m *MinIOSource) ValidateCredentials() bool {
	return m.cfg.Endpoint != "" && m.cfg.AccessKey != "" && m.cfg.SecretKey != ""
}

func (m *MinIOSource) MaskedCredentials() domain.Credentials {
	return m.creds.Mask()
}

// Connect creates the minio client from the static credentials.
func (m *MinIOSource) Connect(ctx context.Context) error {
	if m.store != nil {
		return nil
	}
	client, err := minio.New(m.cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(m.cfg.AccessKey, m.cfg.SecretKey, ""),
		Secure: m.cfg.UseSSL,
	})
	if err != nil {
		return domain.NewConnectionError(TypeMinIO, errors.Wrap(err, "create minio client"))
	}
	m.store = &sdkObjectStore{client: client}
	return nil
}

func (m *MinIOSource) Disconnect(ctx context.Context) error {
	m.store = nil
	return nil
}

// ListEntries returns minio:// URIs of the objects under path.
func (m *MinIOSource) ListEntries(ctx context.Context, path string) []string {
	if m.store == nil {
		return []string{}
	}
	bucket, prefix := m.location(path)
	if bucket == "" {
		logger.CtxWarn(ctx, "minio listing skipped: no bucket in %s", path)
		return []string{}
	}
	objects, err := m.store.ListObjects(ctx, bucket, prefix)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Warnf("failed to list minio://%s/%s", bucket, prefix)
		return []string{}
	}
	entries := []string{}
	for _, obj := range objects {
		if obj.Key == "" || strings.HasSuffix(obj.Key, "/") {
			continue
		}
		entries = append(entries, fmt.Sprintf("minio://%s/%s", bucket, obj.Key))
	}
	return entries
}

func (m *MinIOSource) EntrySize(ctx context.Context, id string) int64 {
	if m.store == nil {
		return 0
	}
	bucket, key := m.location(id)
	size, err := m.store.Stat(ctx, bucket, key)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Warnf("failed to stat %s", id)
		return 0
	}
	return size
}

func (m *MinIOSource) ReadSample(ctx context.Context, id string, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		return []byte{}, nil
	}
	if m.store == nil {
		return nil, errors.New("minio source is not connected")
	}
	bucket, key := m.location(id)
	b, err := m.store.Read(ctx, bucket, key, maxBytes)
	if err != nil {
		return nil, errors.Wrapf(err, "get %s", id)
	}
	return truncate(b, maxBytes), nil
}

// TestConnection lists buckets.
func (m *MinIOSource) TestConnection(ctx context.Context) ConnectionStatus {
	if m.store == nil {
		return failed(TypeMinIO, errors.New("not connected"))
	}
	buckets, err := m.store.ListBuckets(ctx)
	if err != nil {
		return failed(TypeMinIO, err)
	}
	return connected(TypeMinIO, fmt.Sprintf("%d buckets accessible", len(buckets)))
}

func (m *MinIOSource) location(path string) (string, string) {
	if strings.HasPrefix(strings.ToLower(path), "minio://") {
		return splitBucketKey(path[len("minio://"):])
	}
	if m.cfg.Bucket != "" {
		return m.cfg.Bucket, strings.TrimPrefix(path, "/")
	}
	return splitBucketKey(path)
}

type sdkObjectStore struct {
	client *minio.Client
}

func (s *sdkObjectStore) ListBuckets(ctx context.Context) ([]string, error) {
	buckets, err := s.client.ListBuckets(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(buckets))
	for _, b := range buckets {
		names = append(names, b.Name)
	}
	return names, nil
}

func (s *sdkObjectStore) ListObjects(ctx context.Context, bucket, prefix string) ([]minio.ObjectInfo, error) {
	var out []minio.ObjectInfo
	for obj := range s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		out = append(out, obj)
	}
	return out, nil
}

func (s *sdkObjectStore) Stat(ctx context.Context, bucket, key string) (int64, error) {
	info, err := s.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return 0, errors.Errorf("object %s/%s does not exist", bucket, key)
		}
		return 0, err
	}
	return info.Size, nil
}

func (s *sdkObjectStore) Read(ctx context.Context, bucket, key string, max int64) ([]byte, error) {
	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(0, max-1); err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, bucket, key, opts)
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	return readCapped(obj, max)
}
