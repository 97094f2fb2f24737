package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/dunamismax/folio/internal/domain"
	"github.com/dunamismax/folio/internal/id"
	"github.com/dunamismax/folio/internal/pipeline"
	"github.com/dunamismax/folio/internal/queue"
	"github.com/dunamismax/folio/internal/storage"
	"github.com/dunamismax/folio/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	logger                zerolog.Logger
	queueClient           queueEnqueuer
	jobStore              store.JobStore
	storage               objectStorage
	presignTTL            time.Duration
	localOutputDir        string
	localInputRoot        string
	rateLimiter           RateLimiter
	rateLimitUserIDHeader string
	tracer                trace.Tracer
	metrics               *metrics
	router                chi.Router
}

type Options struct {
	Storage               objectStorage
	PresignTTL            time.Duration
	LocalOutputDir        string
	LocalInputRoot        string
	RateLimiter           RateLimiter
	RateLimitUserIDHeader string
	Tracer                trace.Tracer
}

type queueEnqueuer interface {
	Queue() string
	EnqueueConvertDocument(ctx context.Context, payload queue.ConvertDocumentPayload) (*asynq.TaskInfo, error)
}

type objectStorage interface {
	PresignedPutURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	HasObjects(ctx context.Context, prefix string) (bool, error)
}

func NewServer(logger zerolog.Logger, queueClient queueEnqueuer, jobStore store.JobStore, opts Options) *Server {
	if opts.PresignTTL <= 0 {
		opts.PresignTTL = 15 * time.Minute
	}
	if opts.Storage == nil {
		opts.Storage = unavailableObjectStorage{}
	}
	if strings.TrimSpace(opts.RateLimitUserIDHeader) == "" {
		opts.RateLimitUserIDHeader = "X-User-ID"
	}
	if strings.TrimSpace(opts.LocalOutputDir) == "" {
		opts.LocalOutputDir = "./.folio-output"
	}

	s := &Server{
		logger:                logger,
		queueClient:           queueClient,
		jobStore:              jobStore,
		storage:               opts.Storage,
		presignTTL:            opts.PresignTTL,
		localOutputDir:        opts.LocalOutputDir,
		localInputRoot:        opts.LocalInputRoot,
		rateLimiter:           opts.RateLimiter,
		rateLimitUserIDHeader: opts.RateLimitUserIDHeader,
		tracer:                opts.Tracer,
		metrics:               newMetrics(),
	}
	s.routes()
	return s
}

type unavailableObjectStorage struct{}

func (unavailableObjectStorage) PresignedPutURL(_ context.Context, _ string, _ time.Duration) (string, error) {
	return "", errors.New("object storage is unavailable")
}

func (unavailableObjectStorage) HasObjects(_ context.Context, _ string) (bool, error) {
	return false, errors.New("object storage is unavailable")
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.withTracing)
	r.Use(s.metrics.withHTTPMetrics)
	r.Use(s.withRateLimit)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", s.metrics.metricsHandler())
	r.Route("/v1/conversions", func(r chi.Router) {
		r.Post("/", s.handleCreateJob)
		r.Route("/{jobID}", func(r chi.Router) {
			r.Get("/", s.handleGetJob)
			r.Post("/start", s.handleStartJob)
			r.Post("/uploads/{name}", s.handlePresignUpload)
		})
	})
	s.router = r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now().UTC()
	jobID := id.New()
	sourceType := strings.ToLower(strings.TrimSpace(req.SourceType))

	job := domain.Job{
		ID:         jobID,
		UserID:     strings.TrimSpace(r.Header.Get(s.rateLimitUserIDHeader)),
		Status:     domain.JobStatusCreated,
		SourceType: sourceType,
		InputPath:  strings.TrimSpace(req.InputPath),
		OutputPath: strings.TrimSpace(req.OutputPath),
		WebhookURL: strings.TrimSpace(req.WebhookURL),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	switch sourceType {
	case domain.SourceTypeS3Prefix:
		if job.InputPath == "" {
			job.InputPath = storage.DirPrefix(path.Join("uploads", jobID))
		}
		if job.OutputPath == "" {
			job.OutputPath = path.Join("outputs", jobID, "document.pdf")
		}
	default:
		if job.OutputPath == "" {
			job.OutputPath = jobID + ".pdf"
		}
		out, err := domain.ResolveUnder(s.localOutputDir, job.OutputPath)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("output_path must stay inside the output directory: %s", req.OutputPath))
			return
		}
		job.OutputPath = out
		if s.localInputRoot != "" {
			in, err := domain.ResolveUnder(s.localInputRoot, job.InputPath)
			if err != nil {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("input_path must stay inside the input root: %s", req.InputPath))
				return
			}
			job.InputPath = in
		}
	}

	if err := s.jobStore.Create(r.Context(), job); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("create job failed")
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	resp := map[string]any{
		"job_id":      job.ID,
		"status":      job.Status,
		"source_type": job.SourceType,
		"input_path":  job.InputPath,
		"output_path": job.OutputPath,
		"start_url":   fmt.Sprintf("/v1/conversions/%s/start", job.ID),
	}
	if sourceType == domain.SourceTypeS3Prefix {
		resp["upload_url_template"] = fmt.Sprintf("/v1/conversions/%s/uploads/{name}", job.ID)
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handlePresignUpload hands out a presigned PUT URL for one page image of an
// s3_prefix job.
func (s *Server) handlePresignUpload(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	if job.SourceType != domain.SourceTypeS3Prefix {
		writeError(w, http.StatusConflict, "uploads are only accepted for source_type=s3_prefix")
		return
	}
	if job.Status != domain.JobStatusCreated {
		writeError(w, http.StatusConflict, "job has already been started")
		return
	}

	name := chi.URLParam(r, "name")
	if name == "" || strings.ContainsAny(name, `/\`) || !pipeline.IsCandidate(name) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("not an accepted image file name: %q", name))
		return
	}

	objectKey := storage.DirPrefix(job.InputPath) + name
	url, err := s.storage.PresignedPutURL(r.Context(), objectKey, s.presignTTL)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("generate presigned url failed")
		writeError(w, http.StatusInternalServerError, "failed to generate upload URL")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"object_key":        objectKey,
		"presigned_put_url": url,
		"expires_at":        time.Now().UTC().Add(s.presignTTL),
	})
}

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	if job.Status != domain.JobStatusCreated {
		writeError(w, http.StatusConflict, fmt.Sprintf("job is already %s", job.Status))
		return
	}

	if err := s.verifySourceExists(r.Context(), job); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	payload := queue.ConvertDocumentPayload{
		JobID:       job.ID,
		SourceType:  job.SourceType,
		InputPath:   job.InputPath,
		OutputPath:  job.OutputPath,
		WebhookURL:  job.WebhookURL,
		RequestedAt: time.Now().UTC(),
	}

	taskInfo, err := s.queueClient.EnqueueConvertDocument(r.Context(), payload)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			writeError(w, http.StatusConflict, "job is already queued")
			return
		}
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("enqueue failed")
		writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(s.queueClient.Queue()).Inc()

	if _, err := s.jobStore.UpdateStatus(r.Context(), job.ID, domain.JobStatusQueued); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("update status failed")
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":      job.ID,
		"status":      domain.JobStatusQueued,
		"queue":       taskInfo.Queue,
		"task_id":     taskInfo.ID,
		"state":       taskInfo.State.String(),
		"enqueued_at": taskInfo.NextProcessAt,
	})
}

func (s *Server) loadJob(w http.ResponseWriter, r *http.Request) (domain.Job, bool) {
	jobID := chi.URLParam(r, "jobID")
	if !id.Valid(jobID) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid job id: %q", jobID))
		return domain.Job{}, false
	}

	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("fetch job failed")
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return domain.Job{}, false
	}
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return domain.Job{}, false
	}
	return job, true
}

func (s *Server) verifySourceExists(ctx context.Context, job domain.Job) error {
	switch job.SourceType {
	case domain.SourceTypeLocalDir:
		info, err := os.Stat(job.InputPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("input directory is missing: %s", job.InputPath)
			}
			return fmt.Errorf("input directory check failed: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("input path is not a directory: %s", job.InputPath)
		}
		return nil
	default:
		ok, err := s.storage.HasObjects(ctx, storage.DirPrefix(job.InputPath))
		if err != nil {
			return fmt.Errorf("input prefix check failed: %w", err)
		}
		if !ok {
			return fmt.Errorf("no objects uploaded under %s", job.InputPath)
		}
		return nil
	}
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
