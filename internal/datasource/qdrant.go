package datasource

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	grpccreds "google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/timmy/dataexec/internal/domain"
)

var qdrantRequired = []string{"host"}

const defaultQdrantPort = 6334

// QdrantConfig is the typed credential bundle of the qdrant variant.
type QdrantConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

func parseQdrantConfig(creds domain.Credentials) QdrantConfig {
	port, err := strconv.Atoi(creds.Get("port", "grpc_port"))
	if err != nil || port <= 0 {
		port = defaultQdrantPort
	}
	return QdrantConfig{
		Host:   creds.Get("host", "qdrant_host"),
		Port:   port,
		APIKey: creds.Get("api_key", "qdrant_api_key"),
		UseTLS: parseBool(creds.Get("use_tls")),
	}
}

// vectorStore is the gRPC surface used by the connector.
type vectorStore interface {
	ListCollections(ctx context.Context) ([]string, error)
	CountPoints(ctx context.Context, collection string) (uint64, error)
	ScrollPayloads(ctx context.Context, collection string, limit uint32) ([]map[string]interface{}, error)
	Close() error
}

// QdrantSource treats the collections of a Qdrant instance as entries,
// addressed as qdrant://host:port.
type QdrantSource struct {
	cfg        QdrantConfig
	creds      domain.Credentials
	sampleRows int

	store vectorStore
}

// NewQdrantSource is the qdrant Constructor.
func NewQdrantSource(creds domain.Credentials, opts Options) DataSource {
	rows := opts.SampleRows
	if rows <= 0 {
		rows = DefaultOptions().SampleRows
	}
	return &QdrantSource{cfg: parseQdrantConfig(creds), creds: creds, sampleRows: rows}
}

func (q *QdrantSource) SourceType() string { return TypeQdrant }

func (q *QdrantSource) CanHandle(path string) bool {
	return strings.HasPrefix(strings.ToLower(path), "qdrant://")
}

// AdoptPath takes host and port from qdrant://host:port when not configured.
func (q *QdrantSource) AdoptPath(path string) {
	if !q.CanHandle(path) || q.cfg.Host != "" {
		return
	}
	authority, _ := splitBucketKey(path[len("qdrant://"):])
	host, port, err := net.SplitHostPort(authority)
	if err != nil {
		q.cfg.Host = authority
		return
	}
	q.cfg.Host = host
	if p, err := strconv.Atoi(port); err == nil {
		q.cfg.Port = p
	}
}

func (q *QdrantSource) ValidateCredentials() bool {
	return q.cfg.Host != ""
}

func (q *QdrantSource) MaskedCredentials() domain.Credentials {
	return q.creds.Mask()
}

func (q *QdrantSource) Connect(ctx context.Context) error {
	if q.store != nil {
		return nil
	}
	store, err := dialQdrant(q.cfg)
	if err != nil {
		return domain.NewConnectionError(TypeQdrant, err)
	}
	q.store = store
	return nil
}

func (q *QdrantSource) Disconnect(ctx context.Context) error {
	if q.store == nil {
		return nil
	}
	err := q.store.Close()
	q.store = nil
	return err
}

// ListEntries returns collection names, narrowed to the one named in path.
func (q *QdrantSource) ListEntries(ctx context.Context, path string) []string {
	if q.store == nil {
		return []string{}
	}
	names, err := q.store.ListCollections(ctx)
	if err != nil {
		return []string{}
	}
	want := ""
	if q.CanHandle(path) {
		_, want = splitBucketKey(path[len("qdrant://"):])
		want = strings.Trim(want, "/")
	}
	if want == "" {
		return names
	}
	for _, n := range names {
		if n == want {
			return []string{n}
		}
	}
	return []string{}
}

// EntrySize returns the point count of collection.
func (q *QdrantSource) EntrySize(ctx context.Context, collection string) int64 {
	if q.store == nil {
		return 0
	}
	n, err := q.store.CountPoints(ctx, collection)
	if err != nil {
		return 0
	}
	return int64(n)
}

// ReadSample scrolls point payloads and encodes them as JSON lines.
func (q *QdrantSource) ReadSample(ctx context.Context, collection string, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		return []byte{}, nil
	}
	if q.store == nil {
		return nil, errors.New("qdrant source is not connected")
	}
	payloads, err := q.store.ScrollPayloads(ctx, collection, uint32(q.sampleRows))
	if err != nil {
		return nil, errors.Wrapf(err, "scroll %s", collection)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, p := range payloads {
		if err := enc.Encode(p); err != nil {
			return nil, err
		}
		if int64(buf.Len()) >= maxBytes {
			break
		}
	}
	return truncate(buf.Bytes(), maxBytes), nil
}

func (q *QdrantSource) TestConnection(ctx context.Context) ConnectionStatus {
	if q.store == nil {
		return failed(TypeQdrant, errors.New("not connected"))
	}
	names, err := q.store.ListCollections(ctx)
	if err != nil {
		return failed(TypeQdrant, err)
	}
	return connected(TypeQdrant, fmt.Sprintf("%d collections accessible", len(names)))
}

func apiKeyInterceptor(apiKey string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", apiKey)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

type grpcVectorStore struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
}

// dialQdrant opens a gRPC client. An API key implies TLS.
func dialQdrant(cfg QdrantConfig) (*grpcVectorStore, error) {
	var opts []grpc.DialOption
	if cfg.UseTLS || cfg.APIKey != "" {
		opts = append(opts, grpc.WithTransportCredentials(grpccreds.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})))
		if cfg.APIKey != "" {
			opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
		}
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)), opts...)
	if err != nil {
		return nil, errors.Wrap(err, "create qdrant client")
	}
	return &grpcVectorStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
	}, nil
}

func (g *grpcVectorStore) ListCollections(ctx context.Context) ([]string, error) {
	resp, err := g.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(resp.GetCollections()))
	for _, c := range resp.GetCollections() {
		names = append(names, c.GetName())
	}
	return names, nil
}

func (g *grpcVectorStore) CountPoints(ctx context.Context, collection string) (uint64, error) {
	exact := true
	resp, err := g.points.Count(ctx, &pb.CountPoints{CollectionName: collection, Exact: &exact})
	if err != nil {
		return 0, err
	}
	return resp.GetResult().GetCount(), nil
}

func (g *grpcVectorStore) ScrollPayloads(ctx context.Context, collection string, limit uint32) ([]map[string]interface{}, error) {
	resp, err := g.points.Scroll(ctx, &pb.ScrollPoints{
		CollectionName: collection,
		Limit:          &limit,
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, err
	}
	out := make([]map[string]interface{}, 0, len(resp.GetResult()))
	for _, point := range resp.GetResult() {
		row := make(map[string]interface{}, len(point.GetPayload()))
		for k, v := range point.GetPayload() {
			row[k] = payloadValue(v)
		}
		out = append(out, row)
	}
	return out, nil
}

func (g *grpcVectorStore) Close() error {
	return g.conn.Close()
}

func payloadValue(v *pb.Value) interface{} {
	switch kind := v.GetKind().(type) {
	case *pb.Value_StringValue:
		return kind.StringValue
	case *pb.Value_IntegerValue:
		return kind.IntegerValue
	case *pb.Value_DoubleValue:
		return kind.DoubleValue
	case *pb.Value_BoolValue:
		return kind.BoolValue
	case *pb.Value_ListValue:
		items := make([]interface{}, 0, len(kind.ListValue.GetValues()))
		for _, item := range kind.ListValue.GetValues() {
			items = append(items, payloadValue(item))
		}
		return items
	case *pb.Value_StructValue:
		fields := make(map[string]interface{}, len(kind.StructValue.GetFields()))
		for k, item := range kind.StructValue.GetFields() {
			fields[k] = payloadValue(item)
		}
		return fields
	default:
		return nil
	}
}
