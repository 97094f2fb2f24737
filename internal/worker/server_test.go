package worker

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dunamismax/folio/internal/domain"
	"github.com/dunamismax/folio/internal/pipeline"
	"github.com/dunamismax/folio/internal/queue"
	"github.com/dunamismax/folio/internal/store"
	"github.com/dunamismax/folio/internal/webhook"
	"github.com/hibiken/asynq"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestMain(m *testing.M) {
	api.DisableConfigDir()
	os.Exit(m.Run())
}

func TestRecordUsageWritesUsageLog(t *testing.T) {
	jobStore := store.NewMemoryJobStore()
	require.NoError(t, jobStore.Create(context.Background(), domain.Job{
		ID:         "job-1",
		UserID:     "user-1",
		Status:     domain.JobStatusProcessing,
		SourceType: domain.SourceTypeLocalDir,
		InputPath:  "/in",
		OutputPath: "/out.pdf",
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}))

	usageStore := &captureUsageStore{}
	s := &Server{
		logger:     zerolog.Nop(),
		jobStore:   jobStore,
		usageStore: usageStore,
		metrics:    newMetrics(),
	}

	s.recordUsage(context.Background(), "job-1", pipeline.Result{
		OutputBytes: 4_096,
		Pages: []pipeline.PageInfo{
			{Name: "a.png", Width: 10, Height: 10},
			{Name: "b.jpg", Width: 20, Height: 20},
		},
	}, 250*time.Millisecond)

	require.True(t, usageStore.called)
	assert.Equal(t, "user-1", usageStore.log.UserID)
	assert.Equal(t, 2, usageStore.log.PagesRendered)
	assert.EqualValues(t, 500, usageStore.log.PixelsProcessed)
	assert.EqualValues(t, 4_096, usageStore.log.OutputBytes)
	assert.EqualValues(t, 250, usageStore.log.ComputeTimeMS)
}

func TestRecordUsageDefaultsAnonymousAndMinimumCompute(t *testing.T) {
	usageStore := &captureUsageStore{}
	s := &Server{
		logger:     zerolog.Nop(),
		usageStore: usageStore,
		metrics:    newMetrics(),
	}

	s.recordUsage(context.Background(), "job-2", pipeline.Result{
		Pages: []pipeline.PageInfo{{Width: 5, Height: 5}},
	}, 0)

	assert.Equal(t, "anonymous", usageStore.log.UserID)
	assert.EqualValues(t, 1, usageStore.log.ComputeTimeMS)
}

func TestHandleConvertDocumentLocalDir(t *testing.T) {
	ctx := context.Background()
	inputDir := t.TempDir()
	writePNG(t, filepath.Join(inputDir, "b.png"), 40, 30)
	writePNG(t, filepath.Join(inputDir, "a.png"), 30, 40)
	require.NoError(t, os.WriteFile(filepath.Join(inputDir, "notes.txt"), []byte("skip"), 0o644))
	outputPath := filepath.Join(t.TempDir(), "out.pdf")

	jobs := store.NewMemoryJobStore()
	seedJob(t, jobs, "job-local", inputDir, outputPath, "https://hooks.example.test/folio")
	hooks := &captureWebhook{}
	s := newTestWorker(t, jobs, hooks)

	task := newTask(t, "job-local", domain.SourceTypeLocalDir, inputDir, outputPath, "https://hooks.example.test/folio")
	require.NoError(t, s.handleConvertDocument(ctx, task))

	pages, err := api.PageCountFile(outputPath)
	require.NoError(t, err)
	assert.Equal(t, 2, pages)

	job, ok, err := jobs.Get(ctx, "job-local")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.JobStatusSucceeded, job.Status)
	assert.Equal(t, 2, job.PageCount)

	usage := jobs.UsageLogs()
	require.Len(t, usage, 1)
	assert.Equal(t, 2, usage[0].PagesRendered)
	assert.EqualValues(t, 2*40*30, usage[0].PixelsProcessed)

	require.Len(t, hooks.events, 1)
	assert.Equal(t, webhook.EventConversionCompleted, hooks.events[0])
}

func TestHandleConvertDocumentEmptyFolderSkipsRetry(t *testing.T) {
	ctx := context.Background()
	inputDir := t.TempDir()
	outputPath := filepath.Join(t.TempDir(), "out.pdf")

	jobs := store.NewMemoryJobStore()
	seedJob(t, jobs, "job-empty", inputDir, outputPath, "https://hooks.example.test/folio")
	hooks := &captureWebhook{}
	s := newTestWorker(t, jobs, hooks)

	task := newTask(t, "job-empty", domain.SourceTypeLocalDir, inputDir, outputPath, "https://hooks.example.test/folio")
	err := s.handleConvertDocument(ctx, task)
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	_, statErr := os.Stat(outputPath)
	assert.True(t, os.IsNotExist(statErr), "output must not be created")

	job, _, err := jobs.Get(ctx, "job-empty")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Empty(t, jobs.UsageLogs())

	require.Len(t, hooks.events, 1)
	assert.Equal(t, webhook.EventConversionFailed, hooks.events[0])
}

func TestHandleConvertDocumentRejectsOutputOutsideRoot(t *testing.T) {
	ctx := context.Background()
	inputDir := t.TempDir()
	writePNG(t, filepath.Join(inputDir, "a.png"), 10, 10)
	outputPath := filepath.Join(t.TempDir(), "escaped.pdf")

	jobs := store.NewMemoryJobStore()
	seedJob(t, jobs, "job-escape", inputDir, outputPath, "")
	s := newTestWorker(t, jobs, nil)
	confined, err := pipeline.NewConfinedLocalProcessor("", t.TempDir())
	require.NoError(t, err)
	s.localProcessor = confined

	err = s.handleConvertDocument(ctx, newTask(t, "job-escape", domain.SourceTypeLocalDir, inputDir, outputPath, ""))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrPathOutsideRoot))
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	_, statErr := os.Stat(outputPath)
	assert.True(t, os.IsNotExist(statErr))

	job, _, err := jobs.Get(ctx, "job-escape")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
}

func TestHandleConvertDocumentRejectsBadPayload(t *testing.T) {
	s := newTestWorker(t, store.NewMemoryJobStore(), nil)
	err := s.handleConvertDocument(context.Background(), asynq.NewTask(queue.TypeConvertDocument, []byte(`{}`)))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestHandleConvertDocumentUnsupportedSource(t *testing.T) {
	jobs := store.NewMemoryJobStore()
	seedJob(t, jobs, "job-ftp", "/in", "/out.pdf", "")
	s := newTestWorker(t, jobs, nil)

	err := s.handleConvertDocument(context.Background(), newTask(t, "job-ftp", "ftp", "/in", "/out.pdf", ""))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
	assert.True(t, errors.Is(err, pipeline.ErrUnsupportedSourceType))
}

func newTestWorker(t *testing.T, jobs *store.MemoryJobStore, hooks webhookSender) *Server {
	t.Helper()
	local, err := pipeline.NewLocalProcessor()
	require.NoError(t, err)
	return &Server{
		logger:         zerolog.Nop(),
		sem:            make(chan struct{}, 1),
		localProcessor: local,
		webhookClient:  hooks,
		jobStore:       jobs,
		usageStore:     jobs,
		metrics:        newMetrics(),
		tracer:         noop.NewTracerProvider().Tracer("test"),
	}
}

func seedJob(t *testing.T, jobs *store.MemoryJobStore, id, input, output, hook string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, jobs.Create(context.Background(), domain.Job{
		ID:         id,
		UserID:     "user-1",
		Status:     domain.JobStatusQueued,
		SourceType: domain.SourceTypeLocalDir,
		InputPath:  input,
		OutputPath: output,
		WebhookURL: hook,
		CreatedAt:  now,
		UpdatedAt:  now,
	}))
}

func newTask(t *testing.T, id, sourceType, input, output, hook string) *asynq.Task {
	t.Helper()
	task, err := queue.NewConvertDocumentTask(queue.ConvertDocumentPayload{
		JobID:       id,
		SourceType:  sourceType,
		InputPath:   input,
		OutputPath:  output,
		WebhookURL:  hook,
		RequestedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	return task
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 6), G: uint8(y * 6), B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

type captureUsageStore struct {
	called bool
	log    domain.UsageLog
}

func (s *captureUsageStore) CreateUsageLog(_ context.Context, usage domain.UsageLog) error {
	s.called = true
	s.log = usage
	return nil
}

type captureWebhook struct {
	mu     sync.Mutex
	events []string
}

func (c *captureWebhook) Send(_ context.Context, _ string, event string, _ any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}
