// Package datasource provides connectors that list and sample entries from
// heterogeneous backends behind one DataSource interface.
package datasource

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"strings"

	"github.com/timmy/dataexec/internal/domain"
)

// Source type tags, in auto-detection order.
const (
	TypeAzureBlob = "azure_blob"
	TypeAWSS3     = "aws_s3"
	TypeMinIO     = "minio"
	TypeDatabase  = "database"
	TypeQdrant    = "qdrant"
)

// DataSource is a connector to one backend. Instances are not shared between
// jobs; every execution obtains its own and pairs Connect with Disconnect.
type DataSource interface {
	// SourceType returns the registry tag of the variant.
	SourceType() string

	// CanHandle reports whether path looks like an address of this backend.
	// It never performs I/O.
	CanHandle(path string) bool

	// ValidateCredentials reports whether the minimum credential keys are
	// present. It never performs I/O.
	ValidateCredentials() bool

	// Connect opens the backend client. Calling it twice is a no-op.
	// Failures are *domain.ConnectionError.
	Connect(ctx context.Context) error

	// Disconnect releases the backend client. Safe when not connected.
	Disconnect(ctx context.Context) error

	// ListEntries returns the addressable entries under path: object keys
	// for stores, table names for databases. Backend errors yield an empty
	// listing.
	ListEntries(ctx context.Context, path string) []string

	// EntrySize returns the byte size, or row count for tabular backends.
	// Lookup failures yield 0.
	EntrySize(ctx context.Context, id string) int64

	// ReadSample returns at most maxBytes bytes of the entry.
	ReadSample(ctx context.Context, id string, maxBytes int64) ([]byte, error)

	// TestConnection performs a read-only round trip.
	TestConnection(ctx context.Context) ConnectionStatus

	// MaskedCredentials returns the credential bundle with secrets masked.
	MaskedCredentials() domain.Credentials
}

// PathCredentialer is implemented by connectors that can take credentials
// embedded in a path, such as a SAS token or a presigned URL. Inline
// credentials win over configured ones.
type PathCredentialer interface {
	AdoptPath(path string)
}

// ConnectionStatus is the outcome of TestConnection.
type ConnectionStatus struct {
	Success    bool   `json:"success"`
	SourceType string `json:"source_type"`
	Status     string `json:"status"`
	Detail     string `json:"detail,omitempty"`
	Error      string `json:"error,omitempty"`
}

const (
	StatusConnected = "connected"
	StatusFailed    = "failed"
)

func connected(tag, detail string) ConnectionStatus {
	return ConnectionStatus{Success: true, SourceType: tag, Status: StatusConnected, Detail: detail}
}

func failed(tag string, err error) ConnectionStatus {
	return ConnectionStatus{Success: false, SourceType: tag, Status: StatusFailed, Error: err.Error()}
}

// readCapped reads at most max bytes from r.
func readCapped(r io.Reader, max int64) ([]byte, error) {
	if max <= 0 {
		return []byte{}, nil
	}
	var buf bytes.Buffer
	_, err := io.Copy(&buf, io.LimitReader(r, max))
	return buf.Bytes(), err
}

// truncate caps b at max bytes.
func truncate(b []byte, max int64) []byte {
	if max <= 0 {
		return []byte{}
	}
	if int64(len(b)) > max {
		return b[:max]
	}
	return b
}

// splitQuery separates "base?query" and parses the query.
func splitQuery(path string) (string, url.Values) {
	idx := strings.Index(path, "?")
	if idx < 0 {
		return path, url.Values{}
	}
	q, err := url.ParseQuery(path[idx+1:])
	if err != nil {
		return path[:idx], url.Values{}
	}
	return path[:idx], q
}

// splitBucketKey splits "bucket/some/key" into bucket and key.
func splitBucketKey(s string) (string, string) {
	s = strings.TrimPrefix(s, "/")
	if idx := strings.Index(s, "/"); idx >= 0 {
		return s[:idx], s[idx+1:]
	}
	return s, ""
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
