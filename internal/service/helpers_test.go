package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"testing"

	"github.com/timmy/dataexec/internal/datasource"
	"github.com/timmy/dataexec/internal/domain"
	"github.com/timmy/dataexec/internal/logger"
	"github.com/timmy/dataexec/internal/repository"
)

const fakeType = "fake"

type fakeFile struct {
	id   string
	data []byte
}

// fakeBackend serves fixed listings per path. Paths containing "broken"
// refuse connections.
type fakeBackend struct {
	mu          sync.Mutex
	listings    map[string][]fakeFile
	connects    int
	disconnects int
	calls       int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{listings: map[string][]fakeFile{}}
}

func (b *fakeBackend) add(path string, files ...fakeFile) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listings[path] = append(b.listings[path], files...)
}

func (b *fakeBackend) touch() {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
}

func (b *fakeBackend) stats() (connects, disconnects, calls int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connects, b.disconnects, b.calls
}

func (b *fakeBackend) file(id string) (fakeFile, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, files := range b.listings {
		for _, f := range files {
			if f.id == id {
				return f, true
			}
		}
	}
	return fakeFile{}, false
}

type fakeSource struct {
	b     *fakeBackend
	creds domain.Credentials
	path  string
}

func (s *fakeSource) SourceType() string                    { return fakeType }
func (s *fakeSource) CanHandle(path string) bool            { return strings.HasPrefix(path, "fake://") }
func (s *fakeSource) ValidateCredentials() bool             { return s.creds.Has("token") }
func (s *fakeSource) AdoptPath(path string)                 { s.path = path }
func (s *fakeSource) MaskedCredentials() domain.Credentials { return s.creds.Mask() }

func (s *fakeSource) Connect(ctx context.Context) error {
	s.b.touch()
	if strings.Contains(s.path, "broken") {
		return domain.NewConnectionError(fakeType, errors.New("connection refused"))
	}
	s.b.mu.Lock()
	s.b.connects++
	s.b.mu.Unlock()
	return nil
}

func (s *fakeSource) Disconnect(ctx context.Context) error {
	s.b.mu.Lock()
	s.b.disconnects++
	s.b.mu.Unlock()
	return nil
}

func (s *fakeSource) ListEntries(ctx context.Context, path string) []string {
	s.b.touch()
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	out := []string{}
	for _, f := range s.b.listings[path] {
		out = append(out, f.id)
	}
	return out
}

func (s *fakeSource) EntrySize(ctx context.Context, id string) int64 {
	f, _ := s.b.file(id)
	return int64(len(f.data))
}

func (s *fakeSource) ReadSample(ctx context.Context, id string, maxBytes int64) ([]byte, error) {
	f, ok := s.b.file(id)
	if !ok {
		return nil, errors.New("no such entry")
	}
	if int64(len(f.data)) > maxBytes {
		return f.data[:maxBytes], nil
	}
	return f.data, nil
}

func (s *fakeSource) TestConnection(ctx context.Context) datasource.ConnectionStatus {
	return datasource.ConnectionStatus{Success: true, SourceType: fakeType, Status: datasource.StatusConnected}
}

func newTestOpener(b *fakeBackend) *SourceOpener {
	reg := datasource.NewRegistry(datasource.DefaultOptions())
	reg.Register(fakeType, func(creds domain.Credentials, _ datasource.Options) datasource.DataSource {
		return &fakeSource{b: b, creds: creds}
	}, "token")
	return NewSourceOpener(reg, func(string) domain.Credentials {
		return domain.Credentials{"token": "t0ken"}
	})
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.White)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

type writeCall struct {
	workflowID string
	sourceID   string
	payload    domain.JSONMap
}

type recordingWriter struct {
	mu    sync.Mutex
	calls []writeCall
	ok    bool
}

func (w *recordingWriter) Write(_ context.Context, payload domain.JSONMap, workflowID, sourceID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, writeCall{workflowID, sourceID, payload})
	return w.ok
}

type recordingNotifier struct {
	mu      sync.Mutex
	results []*domain.JobResult
}

func (n *recordingNotifier) JobFinished(_ context.Context, r *domain.JobResult) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.results = append(n.results, r)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.results)
}

func okTask(payload domain.JSONMap) Task {
	return TaskFunc(func(context.Context, *domain.JobSpec) (domain.JSONMap, error) {
		return payload, nil
	})
}

func failTask(msg string) Task {
	return TaskFunc(func(context.Context, *domain.JobSpec) (domain.JSONMap, error) {
		return nil, errors.New(msg)
	})
}

// blockingTask waits for release or cancellation.
func blockingTask(release <-chan struct{}) Task {
	return TaskFunc(func(ctx context.Context, _ *domain.JobSpec) (domain.JSONMap, error) {
		select {
		case <-release:
			return domain.JSONMap{"released": true}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
}

func uniformTasks(t Task) Tasks {
	return Tasks{
		MetadataExtraction: t,
		SchemaValidation:   t,
		DataReading:        t,
		QualityAssessment:  t,
		APITransmission:    t,
	}
}

func newTestCoordinator(tasks Tasks, cfg CoordinatorConfig, notifiers ...Notifier) *Coordinator {
	return NewCoordinator(repository.NewMemoryJobStore(), NewDispatcher(tasks), logger.NewDefault(), cfg, notifiers...)
}

func createJob(t *testing.T, c *Coordinator, jobType domain.JobType) string {
	t.Helper()
	id, err := c.Create(context.Background(), domain.NewJobSpec(jobType, "fake://bucket/data"))
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	return id
}
