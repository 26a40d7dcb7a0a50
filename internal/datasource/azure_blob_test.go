package datasource

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/dataexec/internal/domain"
)

type fakeBlobStore struct {
	blobs        map[string][]byte // "container/name"
	listErr      error
	containerErr error
}

func (f *fakeBlobStore) ListContainers(ctx context.Context) ([]string, error) {
	if f.containerErr != nil {
		return nil, f.containerErr
	}
	seen := map[string]bool{}
	var out []string
	for k := range f.blobs {
		c, _ := splitBucketKey(k)
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeBlobStore) ListBlobs(ctx context.Context, container, prefix string) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []string
	for k := range f.blobs {
		c, name := splitBucketKey(k)
		if c == container && strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	return out, nil
}

func (f *fakeBlobStore) Size(ctx context.Context, container, name string) (int64, error) {
	b, ok := f.blobs[container+"/"+name]
	if !ok {
		return 0, errors.New("BlobNotFound")
	}
	return int64(len(b)), nil
}

func (f *fakeBlobStore) Read(ctx context.Context, container, name string, max int64) ([]byte, error) {
	b, ok := f.blobs[container+"/"+name]
	if !ok {
		return nil, errors.New("BlobNotFound")
	}
	return b, nil
}

type fakeBlobURL struct {
	data []byte
}

func (f fakeBlobURL) Size(ctx context.Context, blobURL string) (int64, error) {
	return int64(len(f.data)), nil
}

func (f fakeBlobURL) Read(ctx context.Context, blobURL string, max int64) ([]byte, error) {
	return f.data, nil
}

func TestAzureCredentialForms(t *testing.T) {
	tests := []struct {
		name  string
		creds domain.Credentials
		path  string
		want  bool
	}{
		{"connection string", domain.Credentials{"connection_string": "DefaultEndpointsProtocol=https;AccountName=a;AccountKey=k"}, "", true},
		{"account key", domain.Credentials{"account_name": "a", "account_key": "k"}, "", true},
		{"account sas", domain.Credentials{"account_name": "a", "sas_token": "?sv=1&sig=x"}, "", true},
		{"inline sas", domain.Credentials{}, "https://a.blob.core.windows.net/c/p?sv=1&sr=c&sig=x", true},
		{"account only", domain.Credentials{"account_name": "a"}, "", false},
		{"nothing", domain.Credentials{}, "https://a.blob.core.windows.net/c/p", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAzureBlobSource(tt.creds, DefaultOptions()).(*AzureBlobSource)
			if tt.path != "" {
				a.AdoptPath(tt.path)
			}
			assert.Equal(t, tt.want, a.ValidateCredentials())
		})
	}
}

func TestAzureInlineTokenWinsOverConfigured(t *testing.T) {
	a := NewAzureBlobSource(domain.Credentials{"account_name": "configured", "account_key": "k"}, DefaultOptions()).(*AzureBlobSource)
	a.AdoptPath("https://inline.blob.core.windows.net/raw?sv=1&sr=c&sig=x")
	assert.Equal(t, "inline", a.account())
	assert.Equal(t, "sv=1&sr=c&sig=x", a.pathSAS)
}

func TestAzureListAndSample(t *testing.T) {
	ctx := context.Background()
	a := NewAzureBlobSource(domain.Credentials{"account_name": "a", "account_key": "k"}, DefaultOptions()).(*AzureBlobSource)
	a.store = &fakeBlobStore{blobs: map[string][]byte{
		"raw/2024/a.csv": []byte("col1,col2\n1,2\n"),
		"raw/2024/b.csv": []byte("x"),
		"raw/other.txt":  []byte("y"),
		"curated/c.csv":  []byte("z"),
	}}

	entries := a.ListEntries(ctx, "https://a.blob.core.windows.net/raw/2024/")
	assert.ElementsMatch(t, []string{"raw/2024/a.csv", "raw/2024/b.csv"}, entries)

	all := a.ListEntries(ctx, "")
	assert.Len(t, all, 4)

	assert.Equal(t, int64(14), a.EntrySize(ctx, "raw/2024/a.csv"))
	assert.Equal(t, int64(0), a.EntrySize(ctx, "raw/missing"))

	sample, err := a.ReadSample(ctx, "raw/2024/a.csv", 4)
	require.NoError(t, err)
	assert.Equal(t, "col1", string(sample))
}

func TestAzureSingleBlobSAS(t *testing.T) {
	ctx := context.Background()
	path := "https://a.blob.core.windows.net/raw/file.csv?sv=1&sr=b&sig=x"
	a := NewAzureBlobSource(domain.Credentials{}, DefaultOptions()).(*AzureBlobSource)
	a.AdoptPath(path)
	require.True(t, a.ValidateCredentials())
	a.single = fakeBlobURL{data: []byte("a,b,c\n1,2,3\n")}
	require.NoError(t, a.Connect(ctx))

	assert.Equal(t, []string{path}, a.ListEntries(ctx, path))
	assert.Equal(t, int64(12), a.EntrySize(ctx, path))
	sample, err := a.ReadSample(ctx, path, 5)
	require.NoError(t, err)
	assert.Equal(t, "a,b,c", string(sample))
	assert.True(t, a.TestConnection(ctx).Success)
}

func TestAzureListFailureFallsBackToAddressedBlob(t *testing.T) {
	ctx := context.Background()
	path := "https://a.blob.core.windows.net/raw/file.csv?sv=1&sr=c&sig=x"
	a := NewAzureBlobSource(domain.Credentials{}, DefaultOptions()).(*AzureBlobSource)
	a.AdoptPath(path)
	a.store = &fakeBlobStore{listErr: errors.New("AuthorizationPermissionMismatch")}

	assert.Equal(t, []string{path}, a.ListEntries(ctx, path))
}

func TestAzureListFailureWithoutTokenIsEmpty(t *testing.T) {
	a := NewAzureBlobSource(domain.Credentials{"account_name": "a", "account_key": "k"}, DefaultOptions()).(*AzureBlobSource)
	a.store = &fakeBlobStore{listErr: errors.New("boom")}
	entries := a.ListEntries(context.Background(), "raw/")
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestParseAzureLocation(t *testing.T) {
	loc := parseAzureLocation("abfss://lake@acct.dfs.core.windows.net/bronze/events")
	assert.Equal(t, "acct", loc.account)
	assert.Equal(t, "lake", loc.container)
	assert.Equal(t, "bronze/events", loc.prefix)

	loc = parseAzureLocation("https://acct.blob.core.windows.net/raw/x.csv?sr=b&sig=s")
	assert.Equal(t, "acct", loc.account)
	assert.Equal(t, "raw", loc.container)
	assert.Equal(t, "x.csv", loc.prefix)
	assert.Equal(t, "b", loc.query.Get("sr"))
}
