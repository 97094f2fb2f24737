package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dunamismax/folio/internal/domain"
)

// SQLJobStore backs jobs and usage logs with database/sql. Queries are
// written with $n placeholders; rebind adapts them per driver.
type SQLJobStore struct {
	db     *sql.DB
	rebind func(string) string
}

func openSQLJobStore(ctx context.Context, driver, dsn, schema string, rebind func(string) string) (*SQLJobStore, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s connection: %w", driver, err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	if rebind == nil {
		rebind = func(q string) string { return q }
	}
	store := &SQLJobStore{db: db, rebind: rebind}
	if err := store.ensureSchema(ctx, schema); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLJobStore) ensureSchema(ctx context.Context, schema string) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *SQLJobStore) Close() error {
	return s.db.Close()
}

func (s *SQLJobStore) Create(ctx context.Context, job domain.Job) error {
	_, err := s.db.ExecContext(
		ctx,
		s.rebind(`INSERT INTO jobs (id, user_id, status, source_type, input_path, output_path, webhook_url, page_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`),
		job.ID,
		job.UserID,
		job.Status,
		job.SourceType,
		job.InputPath,
		job.OutputPath,
		job.WebhookURL,
		job.PageCount,
		job.CreatedAt.UTC(),
		job.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *SQLJobStore) Get(ctx context.Context, id string) (domain.Job, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		s.rebind(`SELECT id, user_id, status, source_type, input_path, output_path, webhook_url, page_count, created_at, updated_at
		 FROM jobs
		 WHERE id = $1`),
		id,
	)

	var job domain.Job
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.Status,
		&job.SourceType,
		&job.InputPath,
		&job.OutputPath,
		&job.WebhookURL,
		&job.PageCount,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Job{}, false, nil
		}
		return domain.Job{}, false, fmt.Errorf("query job: %w", err)
	}

	return job, true, nil
}

func (s *SQLJobStore) UpdateStatus(ctx context.Context, id, status string) (domain.Job, error) {
	res, err := s.db.ExecContext(
		ctx,
		s.rebind(`UPDATE jobs
		 SET status = $1, updated_at = $2
		 WHERE id = $3`),
		status,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return domain.Job{}, fmt.Errorf("update job status: %w", err)
	}
	if err := requireRow(res); err != nil {
		return domain.Job{}, err
	}

	job, ok, err := s.Get(ctx, id)
	if err != nil {
		return domain.Job{}, err
	}
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}
	return job, nil
}

func (s *SQLJobStore) SetPageCount(ctx context.Context, id string, pages int) error {
	res, err := s.db.ExecContext(
		ctx,
		s.rebind(`UPDATE jobs
		 SET page_count = $1, updated_at = $2
		 WHERE id = $3`),
		pages,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("update job page count: %w", err)
	}
	return requireRow(res)
}

func (s *SQLJobStore) CreateUsageLog(ctx context.Context, usage domain.UsageLog) error {
	_, err := s.db.ExecContext(
		ctx,
		s.rebind(`INSERT INTO usage_logs (user_id, job_id, pages_rendered, pixels_processed, output_bytes, compute_time_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`),
		usage.UserID,
		usage.JobID,
		usage.PagesRendered,
		usage.PixelsProcessed,
		usage.OutputBytes,
		usage.ComputeTimeMS,
		usage.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert usage log: %w", err)
	}
	return nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}
