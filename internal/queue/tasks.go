package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const TypeConvertDocument = "document:convert"

type ConvertDocumentPayload struct {
	JobID       string    `json:"job_id"`
	SourceType  string    `json:"source_type"`
	InputPath   string    `json:"input_path"`
	OutputPath  string    `json:"output_path"`
	WebhookURL  string    `json:"webhook_url,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

func NewConvertDocumentTask(payload ConvertDocumentPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal convert payload: %w", err)
	}
	return asynq.NewTask(TypeConvertDocument, body), nil
}

func ParseConvertDocumentPayload(task *asynq.Task) (ConvertDocumentPayload, error) {
	var payload ConvertDocumentPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ConvertDocumentPayload{}, fmt.Errorf("unmarshal convert payload: %w", err)
	}
	if payload.JobID == "" {
		return ConvertDocumentPayload{}, fmt.Errorf("convert payload is missing job_id")
	}
	return payload, nil
}
