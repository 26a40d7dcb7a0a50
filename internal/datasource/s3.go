package datasource

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"

	"github.com/timmy/dataexec/internal/domain"
	"github.com/timmy/dataexec/internal/logger"
)

var s3Required = []string{"access_key_id+secret_access_key", "presigned URL in path"}

// S3Config is the typed credential bundle of the aws_s3 variant.
type S3Config struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Region          string
	// Endpoint selects an S3-compatible service with path-style addressing.
	Endpoint string
	Bucket   string
}

func parseS3Config(creds domain.Credentials) S3Config {
	cfg := S3Config{
		AccessKeyID:     creds.Get("access_key_id", "aws_access_key_id"),
		SecretAccessKey: creds.Get("secret_access_key", "aws_secret_access_key"),
		SessionToken:    creds.Get("session_token", "aws_session_token"),
		Region:          creds.Get("region", "aws_region"),
		Endpoint:        creds.Get("endpoint", "endpoint_url"),
		Bucket:          creds.Get("bucket", "bucket_name"),
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	return cfg
}

// s3API is the subset of *s3.Client used by the connector.
type s3API interface {
	s3.ListObjectsV2APIClient
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListBuckets(ctx context.Context, in *s3.ListBucketsInput, optFns ...func(*s3.Options)) (*s3.ListBucketsOutput, error)
}

// S3Source reads objects from Amazon S3 or an S3-compatible endpoint.
type S3Source struct {
	cfg       S3Config
	creds     domain.Credentials
	presigned string
	opts      Options

	client s3API
	http   *rangeFetcher
}

// NewS3Source is the aws_s3 Constructor.
func NewS3Source(creds domain.Credentials, opts Options) DataSource {
	return &S3Source{cfg: parseS3Config(creds), creds: creds, opts: opts}
}

func (s *S3Source) SourceType() string { return TypeAWSS3 }

// CanHandle accepts s3:// URIs and amazonaws.com URLs.
func (s *S3Source) CanHandle(path string) bool {
	p := strings.ToLower(path)
	return strings.HasPrefix(p, "s3://") ||
		strings.Contains(p, "s3.amazonaws.com") ||
		strings.HasPrefix(p, "https://s3") ||
		(strings.Contains(p, "s3.") && strings.Contains(p, ".amazonaws.com"))
}

// AdoptPath keeps a presigned URL so it can be read without credentials.
func (s *S3Source) AdoptPath(path string) {
	if isPresignedS3URL(path) {
		s.presigned = path
	}
}

func isPresignedS3URL(path string) bool {
	if !strings.HasPrefix(strings.ToLower(path), "http") {
		return false
	}
	_, q := splitQuery(path)
	return q.Get("X-Amz-Signature") != "" || q.Get("Signature") != ""
}

func (s *S3Source) ValidateCredentials() bool {
	return s.presigned != "" || (s.cfg.AccessKeyID != "" && s.cfg.SecretAccessKey != "")
}

func (s *S3Source) MaskedCredentials() domain.Credentials {
	return s.creds.Mask()
}

// Connect builds the S3 client, or a range fetcher for presigned URLs.
// Parameters:
//   - ctx: context for loading the AWS configuration.
//
// Returns:
//   - error: *domain.ConnectionError if the configuration cannot be loaded.
func (s *S3Source) Connect(ctx context.Context) error {
	if s.client != nil || s.http != nil {
		return nil
	}
	if s.presigned != "" {
		s.http = newRangeFetcher(s.opts.RequestTimeout)
		return nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(s.cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.cfg.AccessKeyID,
			s.cfg.SecretAccessKey,
			s.cfg.SessionToken,
		)),
	)
	if err != nil {
		return domain.NewConnectionError(TypeAWSS3, errors.Wrap(err, "load aws config"))
	}

	s.client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if s.cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(s.cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return nil
}

func (s *S3Source) Disconnect(ctx context.Context) error {
	s.client = nil
	s.http = nil
	return nil
}

// ListEntries pages through the objects under path and returns s3:// URIs.
// Folder markers are skipped.
func (s *S3Source) ListEntries(ctx context.Context, path string) []string {
	if s.presigned != "" {
		return []string{s.presigned}
	}
	if s.client == nil {
		return []string{}
	}
	bucket, prefix := s.location(path)
	if bucket == "" {
		logger.CtxWarn(ctx, "s3 listing skipped: no bucket in %s", path)
		return []string{}
	}

	entries := []string{}
	pager := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			logger.FromContext(ctx).WithError(err).Warnf("failed to list s3://%s/%s", bucket, prefix)
			return []string{}
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == "" || strings.HasSuffix(key, "/") {
				continue
			}
			entries = append(entries, fmt.Sprintf("s3://%s/%s", bucket, key))
		}
	}
	return entries
}

// EntrySize returns the content length reported by HeadObject.
func (s *S3Source) EntrySize(ctx context.Context, id string) int64 {
	if s.http != nil && strings.HasPrefix(id, "http") {
		size, err := s.http.Size(ctx, id)
		if err != nil {
			logger.FromContext(ctx).WithError(err).Warn("failed to size presigned object")
			return 0
		}
		return size
	}
	if s.client == nil {
		return 0
	}
	bucket, key := s.location(id)
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		logger.FromContext(ctx).WithError(err).Warnf("failed to head %s", id)
		return 0
	}
	return aws.ToInt64(out.ContentLength)
}

// ReadSample fetches the first maxBytes bytes with a ranged GetObject.
func (s *S3Source) ReadSample(ctx context.Context, id string, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		return []byte{}, nil
	}
	if s.http != nil && strings.HasPrefix(id, "http") {
		return s.http.Read(ctx, id, maxBytes)
	}
	if s.client == nil {
		return nil, errors.New("s3 source is not connected")
	}
	bucket, key := s.location(id)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Range:  aws.String(fmt.Sprintf("bytes=0-%d", maxBytes-1)),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "get %s", id)
	}
	defer out.Body.Close()
	return readCapped(out.Body, maxBytes)
}

// TestConnection lists buckets, or sizes the presigned object.
func (s *S3Source) TestConnection(ctx context.Context) ConnectionStatus {
	if s.http != nil {
		if _, err := s.http.Size(ctx, s.presigned); err != nil {
			return failed(TypeAWSS3, err)
		}
		return connected(TypeAWSS3, "presigned object reachable")
	}
	if s.client == nil {
		return failed(TypeAWSS3, errors.New("not connected"))
	}
	out, err := s.client.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return failed(TypeAWSS3, err)
	}
	return connected(TypeAWSS3, fmt.Sprintf("%d buckets accessible", len(out.Buckets)))
}

// location resolves bucket and key (or prefix) from any accepted address form.
func (s *S3Source) location(path string) (string, string) {
	bucket, key := parseS3Location(path)
	if bucket == "" {
		bucket = s.cfg.Bucket
	}
	return bucket, key
}

func parseS3Location(path string) (string, string) {
	base, _ := splitQuery(path)
	lower := strings.ToLower(base)
	switch {
	case strings.HasPrefix(lower, "s3://"):
		return splitBucketKey(base[len("s3://"):])
	case strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "http://"):
		rest := base[strings.Index(base, "://")+3:]
		host, objPath := splitBucketKey(rest)
		hostLower := strings.ToLower(host)
		// path style: s3.amazonaws.com/bucket/key, s3.<region>.amazonaws.com/bucket/key
		if strings.HasPrefix(hostLower, "s3.") || strings.HasPrefix(hostLower, "s3-") {
			return splitBucketKey(objPath)
		}
		// virtual host style: bucket.s3.<region>.amazonaws.com/key
		if idx := strings.Index(hostLower, ".s3"); idx > 0 {
			return host[:idx], objPath
		}
		return splitBucketKey(objPath)
	default:
		return "", strings.TrimPrefix(base, "/")
	}
}
