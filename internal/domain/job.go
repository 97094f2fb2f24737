package domain

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"

	SourceTypeLocalDir = "local_dir"
	SourceTypeS3Prefix = "s3_prefix"
)

type CreateJobRequest struct {
	SourceType string `json:"source_type"`
	InputPath  string `json:"input_path,omitempty"`
	OutputPath string `json:"output_path,omitempty"`
	WebhookURL string `json:"webhook_url,omitempty"`
}

type Job struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id,omitempty"`
	Status     string    `json:"status"`
	SourceType string    `json:"source_type"`
	InputPath  string    `json:"input_path"`
	OutputPath string    `json:"output_path"`
	WebhookURL string    `json:"webhook_url,omitempty"`
	PageCount  int       `json:"page_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Terminal reports whether the job can no longer change status.
func (j Job) Terminal() bool {
	return j.Status == JobStatusSucceeded || j.Status == JobStatusFailed
}

func (r CreateJobRequest) Validate() error {
	sourceType := strings.ToLower(strings.TrimSpace(r.SourceType))
	if sourceType == "" {
		return errors.New("source_type is required")
	}
	if sourceType != SourceTypeLocalDir && sourceType != SourceTypeS3Prefix {
		return fmt.Errorf("unsupported source_type: %s", r.SourceType)
	}
	if sourceType == SourceTypeLocalDir && strings.TrimSpace(r.InputPath) == "" {
		return errors.New("input_path is required for source_type=local_dir")
	}
	if out := strings.TrimSpace(r.OutputPath); out != "" && !strings.HasSuffix(strings.ToLower(out), ".pdf") {
		return fmt.Errorf("output_path must end in .pdf: %s", r.OutputPath)
	}
	if hook := strings.TrimSpace(r.WebhookURL); hook != "" {
		u, err := url.Parse(hook)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("webhook_url must be an absolute http(s) URL: %s", r.WebhookURL)
		}
	}
	return nil
}
