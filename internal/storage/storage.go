package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/romangod6/docs-crawler/internal/models"
)

var (
	// ErrNotFound is returned when a source or document does not exist.
	ErrNotFound = errors.New("not found")
	// ErrSourceRunning is returned by ClaimSource for a source already claimed.
	ErrSourceRunning = errors.New("source is already running")
)

type Store interface {
	Initialize() error
	Close() error

	// Source operations
	CreateSource(ctx context.Context, source *models.Source) error
	GetSource(ctx context.Context, id uuid.UUID) (*models.Source, error)
	ListSources(ctx context.Context) ([]*models.Source, error)
	// UpdateSource writes the configuration fields of source. Run state
	// (status, last/next run, errors) is only changed by ClaimSource and
	// RecordRun.
	UpdateSource(ctx context.Context, source *models.Source) error
	DeleteSource(ctx context.Context, id uuid.UUID) error
	// ClaimSource atomically moves a source that is not Running to Running.
	ClaimSource(ctx context.Context, id uuid.UUID) error
	// RecordRun writes the run state of source.
	RecordRun(ctx context.Context, source *models.Source) error

	// Document operations
	UpsertDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id uuid.UUID) (*models.Document, error)
	ListDocuments(ctx context.Context, limit, offset int) ([]*models.Document, error)
	SearchDocuments(ctx context.Context, query string, limit, offset int) ([]*models.Document, error)
	ListDocumentsBySource(ctx context.Context, sourceID uuid.UUID, limit, offset int) ([]*models.Document, error)
}

// Open connects to the configured database. driver is "sqlite" or
// "postgres"; url is a file path or a connection string respectively.
func Open(driver, url string) (Store, error) {
	switch driver {
	case "sqlite", "sqlite3":
		return NewSQLiteStore(url)
	case "postgres", "postgresql":
		return NewPostgresStore(url)
	default:
		return nil, fmt.Errorf("unsupported database driver: %q", driver)
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalJSON(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
