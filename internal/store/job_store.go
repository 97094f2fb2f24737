package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dunamismax/folio/internal/domain"
)

var ErrJobNotFound = errors.New("job not found")

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

type JobStore interface {
	Create(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, bool, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.Job, error)
	SetPageCount(ctx context.Context, id string, pages int) error
}

type UsageStore interface {
	CreateUsageLog(ctx context.Context, usage domain.UsageLog) error
}

// Store is what the services need from a backend.
type Store interface {
	JobStore
	UsageStore
	Close() error
}

// Open returns the backend named by driver. dsn is ignored for memory.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverMemory:
		return NewMemoryJobStore(), nil
	case DriverPostgres:
		return NewPostgresJobStore(ctx, dsn)
	case DriverSQLite, "sqlite":
		return NewSQLiteJobStore(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
}
