package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/folio/internal/config"
	"github.com/dunamismax/folio/internal/domain"
	"github.com/dunamismax/folio/internal/pipeline"
	"github.com/dunamismax/folio/internal/queue"
	"github.com/dunamismax/folio/internal/storage"
	"github.com/dunamismax/folio/internal/store"
	"github.com/dunamismax/folio/internal/webhook"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	logger          zerolog.Logger
	server          *asynq.Server
	sem             chan struct{}
	localProcessor  *pipeline.Processor
	objectProcessor *pipeline.Processor
	webhookClient   webhookSender
	jobStore        store.JobStore
	usageStore      store.UsageStore
	metrics         *metrics
	tracer          trace.Tracer
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

func NewServer(
	logger zerolog.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	storageClient *storage.Client,
	webhookClient *webhook.Client,
	jobStore store.JobStore,
	usageStore store.UsageStore,
) (*Server, error) {
	if storageClient == nil {
		return nil, errors.New("storage client is required")
	}

	localProcessor, err := pipeline.NewConfinedLocalProcessor(workerCfg.LocalInputRoot, workerCfg.LocalOutputDir)
	if err != nil {
		return nil, fmt.Errorf("initialize local processor: %w", err)
	}
	objectProcessor, err := pipeline.NewObjectStoreProcessor(storageClient)
	if err != nil {
		return nil, fmt.Errorf("initialize object-store processor: %w", err)
	}

	if usageStore == nil {
		if jobAndUsageStore, ok := jobStore.(store.UsageStore); ok {
			usageStore = jobAndUsageStore
		}
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				Logger:   asynqLogger{logger: logger.With().Str("component", "asynq").Logger()},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Error().
						Err(err).
						Str("task_type", task.Type()).
						Int("retry", retried).
						Int("max_retry", maxRetry).
						Msg("task failed")
				}),
			},
		),
		sem:             make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		localProcessor:  localProcessor,
		objectProcessor: objectProcessor,
		webhookClient:   webhookClient,
		jobStore:        jobStore,
		usageStore:      usageStore,
		metrics:         newMetrics(),
		tracer:          otel.Tracer("folio/worker"),
	}
	return s, nil
}

// Start begins pulling conversion tasks in the background. Call Shutdown to
// stop; in-flight tasks are given asynq's shutdown timeout to finish.
func (s *Server) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeConvertDocument, s.handleConvertDocument)
	return s.server.Start(mux)
}

func (s *Server) Shutdown() {
	s.server.Shutdown()
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleConvertDocument(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	payload, err := queue.ParseConvertDocumentPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}
	log := s.logger.With().Str("job_id", payload.JobID).Str("source_type", payload.SourceType).Logger()

	ctx, span := s.tracer.Start(ctx, "worker.convert_document", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.source_type", payload.SourceType),
		attribute.String("job.input_path", payload.InputPath),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(payload.SourceType, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(payload.SourceType, outcome).Inc()
	}()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	log.Info().Str("input_path", payload.InputPath).Msg("converting")
	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusProcessing)

	request := pipeline.Request{
		JobID:      payload.JobID,
		SourceType: payload.SourceType,
		InputPath:  payload.InputPath,
		OutputPath: payload.OutputPath,
	}

	var result pipeline.Result
	switch payload.SourceType {
	case domain.SourceTypeLocalDir:
		result, err = s.localProcessor.Process(ctx, request)
	case domain.SourceTypeS3Prefix:
		result, err = s.objectProcessor.Process(ctx, request)
	default:
		err = fmt.Errorf("%w: %s", pipeline.ErrUnsupportedSourceType, payload.SourceType)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "conversion failed")

		permanent := errors.Is(err, pipeline.ErrNoImagesFound) ||
			errors.Is(err, pipeline.ErrUnsupportedSourceType) ||
			errors.Is(err, domain.ErrPathOutsideRoot)
		if !permanent && !finalAttempt(ctx) {
			log.Warn().Err(err).Msg("conversion failed, will retry")
			s.updateJobStatus(ctx, payload.JobID, domain.JobStatusQueued)
			return fmt.Errorf("convert: %w", err)
		}

		log.Error().Err(err).Msg("conversion failed")
		s.updateJobStatus(ctx, payload.JobID, domain.JobStatusFailed)
		s.dispatchWebhook(ctx, payload, webhook.EventConversionFailed, map[string]any{
			"job_id":       payload.JobID,
			"status":       domain.JobStatusFailed,
			"source_type":  payload.SourceType,
			"input_path":   payload.InputPath,
			"requested_at": payload.RequestedAt,
			"failed_at":    time.Now().UTC(),
			"error":        err.Error(),
		})
		if permanent {
			return fmt.Errorf("convert: %w: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("convert: %w", err)
	}

	log.Info().Int("pages", len(result.Pages)).Str("location", result.Location).Msg("conversion complete")
	s.setPageCount(ctx, payload.JobID, len(result.Pages))
	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusSucceeded)
	s.recordUsage(ctx, payload.JobID, result, time.Since(startedAt))

	s.dispatchWebhook(ctx, payload, webhook.EventConversionCompleted, map[string]any{
		"job_id":       payload.JobID,
		"status":       domain.JobStatusSucceeded,
		"source_type":  payload.SourceType,
		"input_path":   payload.InputPath,
		"output_path":  result.Location,
		"page_count":   len(result.Pages),
		"pages":        result.Pages,
		"requested_at": payload.RequestedAt,
		"completed_at": time.Now().UTC(),
	})

	outcome = domain.JobStatusSucceeded
	span.SetAttributes(attribute.Int("job.pages", len(result.Pages)))
	span.SetStatus(codes.Ok, "converted")
	return nil
}

// finalAttempt reports whether asynq will not retry the current task again.
// Outside a task context it reports true.
func finalAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}

func (s *Server) updateJobStatus(ctx context.Context, jobID, status string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Str("status", status).Msg("job status update failed")
	}
}

func (s *Server) setPageCount(ctx context.Context, jobID string, pages int) {
	if s.jobStore == nil {
		return
	}
	if err := s.jobStore.SetPageCount(ctx, jobID, pages); err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("page count update failed")
	}
}

// dispatchWebhook delivers a job event. Delivery failures are logged only;
// the document has already been written and a retry would rebuild it.
func (s *Server) dispatchWebhook(ctx context.Context, payload queue.ConvertDocumentPayload, event string, body map[string]any) {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return
	}
	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.logger.Warn().Err(err).Str("job_id", payload.JobID).Str("event", event).Msg("webhook delivery failed")
	}
}

func (s *Server) recordUsage(ctx context.Context, jobID string, result pipeline.Result, computeDuration time.Duration) {
	if s.usageStore == nil {
		return
	}

	userID := "anonymous"
	if s.jobStore != nil {
		job, ok, err := s.jobStore.Get(ctx, jobID)
		if err != nil {
			s.logger.Warn().Err(err).Str("job_id", jobID).Msg("usage lookup failed")
		} else if ok && strings.TrimSpace(job.UserID) != "" {
			userID = job.UserID
		}
	}

	var pixelsProcessed int64
	for _, page := range result.Pages {
		pixelsProcessed += int64(page.Width) * int64(page.Height)
	}

	computeTimeMS := max(computeDuration.Milliseconds(), 1)

	usage := domain.UsageLog{
		UserID:          userID,
		JobID:           jobID,
		PagesRendered:   len(result.Pages),
		PixelsProcessed: pixelsProcessed,
		OutputBytes:     int64(result.OutputBytes),
		ComputeTimeMS:   computeTimeMS,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.usageStore.CreateUsageLog(ctx, usage); err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("usage log write failed")
		return
	}

	s.metrics.pagesRenderedTotal.Add(float64(usage.PagesRendered))
	s.metrics.pixelsProcessedTotal.Add(float64(pixelsProcessed))
	s.metrics.outputBytesTotal.Add(float64(usage.OutputBytes))
	s.metrics.computeTimeMSTotal.Add(float64(computeTimeMS))
}
