package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dunamismax/folio/internal/domain"
	"github.com/dunamismax/folio/internal/storage"
)

const contentTypePDF = "application/pdf"

// ObjectStoreSource treats the objects directly below req.InputPath as the
// folder's entries.
type ObjectStoreSource struct {
	Storage *storage.Client
}

func (s ObjectStoreSource) List(ctx context.Context, req Request) ([]string, error) {
	if s.Storage == nil {
		return nil, errors.New("storage client is required")
	}
	if !strings.EqualFold(req.SourceType, domain.SourceTypeS3Prefix) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}
	return s.Storage.ListNames(ctx, storage.DirPrefix(req.InputPath))
}

func (s ObjectStoreSource) Open(ctx context.Context, req Request, name string) (io.ReadCloser, error) {
	if s.Storage == nil {
		return nil, errors.New("storage client is required")
	}
	return s.Storage.OpenObject(ctx, storage.DirPrefix(req.InputPath)+name)
}

type ObjectStoreSink struct {
	Storage *storage.Client
}

func (s ObjectStoreSink) Write(ctx context.Context, req Request, document []byte) (string, error) {
	if s.Storage == nil {
		return "", errors.New("storage client is required")
	}
	key := strings.TrimPrefix(strings.TrimSpace(req.OutputPath), "/")
	if key == "" {
		return "", errors.New("output object key is required")
	}
	if err := s.Storage.WriteObject(ctx, key, document, contentTypePDF); err != nil {
		return "", err
	}
	return key, nil
}

func NewObjectStoreProcessor(client *storage.Client) (*Processor, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	return NewProcessor(ObjectStoreSource{Storage: client}, ObjectStoreSink{Storage: client})
}
