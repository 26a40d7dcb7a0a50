package datasource

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/pkg/errors"

	"github.com/timmy/dataexec/internal/domain"
	"github.com/timmy/dataexec/internal/logger"
)

var azureRequired = []string{
	"connection_string",
	"account_name+account_key",
	"account_name+sas_token",
	"SAS token in path",
}

// AzureBlobConfig is the typed credential bundle of the azure_blob variant.
type AzureBlobConfig struct {
	ConnectionString string
	AccountName      string
	AccountKey       string
	SASToken         string
	Container        string
}

func parseAzureConfig(creds domain.Credentials) AzureBlobConfig {
	return AzureBlobConfig{
		ConnectionString: creds.Get("connection_string", "azure_storage_connection_string"),
		AccountName:      creds.Get("account_name", "storage_account", "azure_storage_account_name"),
		AccountKey:       creds.Get("account_key", "azure_storage_account_key"),
		SASToken:         strings.TrimPrefix(creds.Get("sas_token", "azure_storage_sas_token"), "?"),
		Container:        creds.Get("container_name", "container"),
	}
}

// blobStore is the account-level surface used by the connector.
type blobStore interface {
	ListContainers(ctx context.Context) ([]string, error)
	ListBlobs(ctx context.Context, container, prefix string) ([]string, error)
	Size(ctx context.Context, container, name string) (int64, error)
	Read(ctx context.Context, container, name string, max int64) ([]byte, error)
}

// blobURLReader reads a single blob addressed by a SAS URL.
type blobURLReader interface {
	Size(ctx context.Context, blobURL string) (int64, error)
	Read(ctx context.Context, blobURL string, max int64) ([]byte, error)
}

// AzureBlobSource reads blobs from an Azure Storage account.
type AzureBlobSource struct {
	cfg   AzureBlobConfig
	creds domain.Credentials

	// set by AdoptPath
	pathSAS       string
	pathAccount   string
	pathContainer string
	singleBlobURL string

	store  blobStore
	single blobURLReader
}

// NewAzureBlobSource is the azure_blob Constructor.
func NewAzureBlobSource(creds domain.Credentials, _ Options) DataSource {
	return &AzureBlobSource{cfg: parseAzureConfig(creds), creds: creds}
}

func (a *AzureBlobSource) SourceType() string { return TypeAzureBlob }

// CanHandle accepts blob.core.windows.net URLs and abfss:// URIs.
func (a *AzureBlobSource) CanHandle(path string) bool {
	p := strings.ToLower(path)
	return strings.Contains(p, "blob.core.windows.net") || strings.HasPrefix(p, "abfss://")
}

// AdoptPath takes the account, container and SAS token from path. A
// single-blob SAS URL is read directly.
func (a *AzureBlobSource) AdoptPath(path string) {
	loc := parseAzureLocation(path)
	a.pathAccount = loc.account
	a.pathContainer = loc.container
	if loc.query.Get("sig") == "" {
		return
	}
	_, rawQuery, _ := strings.Cut(path, "?")
	a.pathSAS = rawQuery
	if loc.query.Get("sr") == "b" {
		a.singleBlobURL = path
	}
}

func (a *AzureBlobSource) account() string {
	if a.pathAccount != "" {
		return a.pathAccount
	}
	return a.cfg.AccountName
}

// ValidateCredentials accepts a path SAS token, a connection string, or an
// account name with a key or SAS token.
func (a *AzureBlobSource) ValidateCredentials() bool {
	switch {
	case a.pathSAS != "" && a.account() != "":
		return true
	case a.cfg.ConnectionString != "":
		return true
	case a.cfg.AccountName != "" && (a.cfg.AccountKey != "" || a.cfg.SASToken != ""):
		return true
	}
	return false
}

func (a *AzureBlobSource) MaskedCredentials() domain.Credentials {
	return a.creds.Mask()
}

// Connect creates the blob service client from the strongest credential
// available.
// Parameters:
//   - ctx: unused; the azblob client connects lazily.
//
// Returns:
//   - error: *domain.ConnectionError if no client can be built.
func (a *AzureBlobSource) Connect(ctx context.Context) error {
	if a.store != nil || a.single != nil {
		return nil
	}
	if a.singleBlobURL != "" {
		a.single = sdkBlobURLReader{}
		return nil
	}

	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", a.account())
	var (
		client *azblob.Client
		err    error
	)
	switch {
	case a.pathSAS != "":
		client, err = azblob.NewClientWithNoCredential(serviceURL+"?"+a.pathSAS, nil)
	case a.cfg.ConnectionString != "":
		client, err = azblob.NewClientFromConnectionString(a.cfg.ConnectionString, nil)
	case a.cfg.AccountKey != "":
		var cred *azblob.SharedKeyCredential
		cred, err = azblob.NewSharedKeyCredential(a.cfg.AccountName, a.cfg.AccountKey)
		if err == nil {
			client, err = azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
		}
	case a.cfg.SASToken != "":
		client, err = azblob.NewClientWithNoCredential(serviceURL+"?"+a.cfg.SASToken, nil)
	default:
		err = errors.New("no usable azure credentials")
	}
	if err != nil {
		return domain.NewConnectionError(TypeAzureBlob, errors.Wrap(err, "create blob client"))
	}
	a.store = &sdkBlobStore{client: client}
	return nil
}

func (a *AzureBlobSource) Disconnect(ctx context.Context) error {
	a.store = nil
	a.single = nil
	return nil
}

// ListEntries returns container/blob names under path. Without a container
// every container is listed.
func (a *AzureBlobSource) ListEntries(ctx context.Context, path string) []string {
	if a.singleBlobURL != "" {
		return []string{a.singleBlobURL}
	}
	if a.store == nil {
		return []string{}
	}

	loc := parseAzureLocation(path)
	container := loc.container
	if container == "" {
		container = a.pathContainer
	}
	if container == "" {
		container = a.cfg.Container
	}

	var containers []string
	if container != "" {
		containers = []string{container}
	} else {
		names, err := a.store.ListContainers(ctx)
		if err != nil {
			logger.FromContext(ctx).WithError(err).Warn("failed to list azure containers")
			return a.degradedListing(path)
		}
		containers = names
	}

	entries := []string{}
	for _, c := range containers {
		names, err := a.store.ListBlobs(ctx, c, loc.prefix)
		if err != nil {
			logger.FromContext(ctx).WithError(err).Warnf("failed to list azure container %s", c)
			return a.degradedListing(path)
		}
		for _, n := range names {
			if strings.HasSuffix(n, "/") {
				continue
			}
			entries = append(entries, c+"/"+n)
		}
	}
	return entries
}

// degradedListing addresses a tokenised path as a single blob when the
// token does not allow listing.
func (a *AzureBlobSource) degradedListing(path string) []string {
	if strings.Contains(path, "?") && a.pathSAS != "" {
		return []string{path}
	}
	return []string{}
}

func (a *AzureBlobSource) EntrySize(ctx context.Context, id string) int64 {
	var (
		size int64
		err  error
	)
	if strings.HasPrefix(strings.ToLower(id), "http") {
		size, err = a.urlReader().Size(ctx, id)
	} else if a.store != nil {
		container, name := splitBucketKey(id)
		size, err = a.store.Size(ctx, container, name)
	} else {
		return 0
	}
	if err != nil {
		logger.FromContext(ctx).WithError(err).Warnf("failed to get properties of blob %s", redactPath(id))
		return 0
	}
	return size
}

func (a *AzureBlobSource) ReadSample(ctx context.Context, id string, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		return []byte{}, nil
	}
	if strings.HasPrefix(strings.ToLower(id), "http") {
		b, err := a.urlReader().Read(ctx, id, maxBytes)
		return truncate(b, maxBytes), err
	}
	if a.store == nil {
		return nil, errors.New("azure blob source is not connected")
	}
	container, name := splitBucketKey(id)
	b, err := a.store.Read(ctx, container, name, maxBytes)
	if err != nil {
		return nil, errors.Wrapf(err, "download %s", id)
	}
	return truncate(b, maxBytes), nil
}

func (a *AzureBlobSource) TestConnection(ctx context.Context) ConnectionStatus {
	if a.singleBlobURL != "" {
		if _, err := a.urlReader().Size(ctx, a.singleBlobURL); err != nil {
			return failed(TypeAzureBlob, err)
		}
		return connected(TypeAzureBlob, "blob reachable with SAS token")
	}
	if a.store == nil {
		return failed(TypeAzureBlob, errors.New("not connected"))
	}
	names, err := a.store.ListContainers(ctx)
	if err == nil {
		return connected(TypeAzureBlob, fmt.Sprintf("%d containers accessible", len(names)))
	}
	// container-scoped tokens cannot list the account
	if c := a.pathContainer; c != "" {
		if _, cerr := a.store.ListBlobs(ctx, c, ""); cerr == nil {
			return connected(TypeAzureBlob, fmt.Sprintf("container %s accessible", c))
		}
	}
	return failed(TypeAzureBlob, err)
}

func (a *AzureBlobSource) urlReader() blobURLReader {
	if a.single == nil {
		a.single = sdkBlobURLReader{}
	}
	return a.single
}

type azureLocation struct {
	account   string
	container string
	prefix    string
	query     url.Values
}

// parseAzureLocation accepts https://<account>.blob.core.windows.net/<container>/<prefix>,
// abfss://<container>@<account>.dfs.core.windows.net/<prefix> and <container>/<prefix>.
func parseAzureLocation(path string) azureLocation {
	base, q := splitQuery(path)
	loc := azureLocation{query: q}
	lower := strings.ToLower(base)
	switch {
	case strings.HasPrefix(lower, "abfss://"):
		rest := base[len("abfss://"):]
		authority, prefix := splitBucketKey(rest)
		container, host, _ := strings.Cut(authority, "@")
		loc.container = container
		loc.account, _, _ = strings.Cut(host, ".")
		loc.prefix = prefix
	case strings.Contains(lower, "://"):
		rest := base[strings.Index(base, "://")+3:]
		host, objPath := splitBucketKey(rest)
		loc.account, _, _ = strings.Cut(host, ".")
		loc.container, loc.prefix = splitBucketKey(objPath)
	default:
		loc.container, loc.prefix = splitBucketKey(base)
	}
	return loc
}

type sdkBlobStore struct {
	client *azblob.Client
}

func (s *sdkBlobStore) ListContainers(ctx context.Context) ([]string, error) {
	var names []string
	pager := s.client.NewListContainersPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range page.ContainerItems {
			if item.Name != nil {
				names = append(names, *item.Name)
			}
		}
	}
	return names, nil
}

func (s *sdkBlobStore) ListBlobs(ctx context.Context, container, prefix string) ([]string, error) {
	opts := &azblob.ListBlobsFlatOptions{}
	if prefix != "" {
		opts.Prefix = &prefix
	}
	var names []string
	pager := s.client.NewListBlobsFlatPager(container, opts)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name != nil {
				names = append(names, *item.Name)
			}
		}
	}
	return names, nil
}

func (s *sdkBlobStore) Size(ctx context.Context, container, name string) (int64, error) {
	props, err := s.client.ServiceClient().NewContainerClient(container).NewBlobClient(name).GetProperties(ctx, nil)
	if err != nil {
		return 0, err
	}
	if props.ContentLength == nil {
		return 0, nil
	}
	return *props.ContentLength, nil
}

func (s *sdkBlobStore) Read(ctx context.Context, container, name string, max int64) ([]byte, error) {
	resp, err := s.client.DownloadStream(ctx, container, name, &azblob.DownloadStreamOptions{
		Range: azblob.HTTPRange{Offset: 0, Count: max},
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return readCapped(resp.Body, max)
}

type sdkBlobURLReader struct{}

func (sdkBlobURLReader) Size(ctx context.Context, blobURL string) (int64, error) {
	client, err := blob.NewClientWithNoCredential(blobURL, nil)
	if err != nil {
		return 0, err
	}
	props, err := client.GetProperties(ctx, nil)
	if err != nil {
		return 0, err
	}
	if props.ContentLength == nil {
		return 0, nil
	}
	return *props.ContentLength, nil
}

func (sdkBlobURLReader) Read(ctx context.Context, blobURL string, max int64) ([]byte, error) {
	client, err := blob.NewClientWithNoCredential(blobURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.DownloadStream(ctx, &blob.DownloadStreamOptions{
		Range: blob.HTTPRange{Offset: 0, Count: max},
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return readCapped(resp.Body, max)
}
