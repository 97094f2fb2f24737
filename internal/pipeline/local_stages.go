package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/folio/internal/domain"
)

// LocalDirSource lists the regular entries directly inside req.InputPath.
// A non-empty Root confines InputPath to that directory.
type LocalDirSource struct {
	Root string
}

func (s LocalDirSource) List(ctx context.Context, req Request) ([]string, error) {
	if !strings.EqualFold(req.SourceType, domain.SourceTypeLocalDir) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Root != "" && !domain.WithinRoot(s.Root, req.InputPath) {
		return nil, fmt.Errorf("input dir %s: %w", req.InputPath, domain.ErrPathOutsideRoot)
	}

	entries, err := os.ReadDir(req.InputPath)
	if err != nil {
		return nil, fmt.Errorf("read input dir %s: %w", req.InputPath, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}

func (LocalDirSource) Open(_ context.Context, req Request, name string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(req.InputPath, name))
	if err != nil {
		return nil, fmt.Errorf("open input file: %w", err)
	}
	return f, nil
}

// LocalFileSink writes the document to req.OutputPath, replacing any file
// already there. The parent directory must exist. A non-empty Root confines
// OutputPath to that directory.
type LocalFileSink struct {
	Root string
}

func (s LocalFileSink) Write(_ context.Context, req Request, document []byte) (string, error) {
	if s.Root != "" && !domain.WithinRoot(s.Root, req.OutputPath) {
		return "", fmt.Errorf("output file %s: %w", req.OutputPath, domain.ErrPathOutsideRoot)
	}
	if err := os.WriteFile(req.OutputPath, document, 0o644); err != nil {
		return "", fmt.Errorf("write output file: %w", err)
	}
	return req.OutputPath, nil
}
