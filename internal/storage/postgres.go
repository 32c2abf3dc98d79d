package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/romangod6/docs-crawler/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an existing connection pool.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Initialize() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS sources (
            id UUID PRIMARY KEY,
            name VARCHAR(255) NOT NULL,
            base_url VARCHAR(2048) NOT NULL,
            user_agent VARCHAR(512),
            crawl_interval VARCHAR(64),
            max_pages INTEGER NOT NULL DEFAULT 0,
            include_patterns TEXT[],
            exclude_patterns TEXT[],
            status VARCHAR(32) NOT NULL,
            last_run TIMESTAMP,
            next_run TIMESTAMP,
            errors TEXT[],
            created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
            updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE TABLE IF NOT EXISTS documents (
            id UUID PRIMARY KEY,
            source_id UUID NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
            url VARCHAR(2048) UNIQUE NOT NULL,
            title TEXT NOT NULL,
            description TEXT,
            content TEXT NOT NULL,
            headings JSONB,
            code_blocks JSONB,
            score DOUBLE PRECISION,
            lastmod TIMESTAMP,
            created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
            updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE INDEX IF NOT EXISTS idx_documents_source_id ON documents(source_id)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_url ON documents(url)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_fts ON documents USING GIN (to_tsvector('english', title || ' ' || content))`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}

	return nil
}

const postgresSourceColumns = `id, name, base_url, user_agent, crawl_interval, max_pages, include_patterns,
            exclude_patterns, status, last_run, next_run, errors, created_at, updated_at`

func (s *PostgresStore) CreateSource(ctx context.Context, source *models.Source) error {
	query := `
        INSERT INTO sources (` + postgresSourceColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
    `

	_, err := s.db.ExecContext(ctx, query,
		source.ID,
		source.Name,
		source.BaseURL,
		source.UserAgent,
		source.CrawlInterval,
		source.MaxPages,
		pq.Array(source.IncludePatterns),
		pq.Array(source.ExcludePatterns),
		source.Status,
		source.LastRun,
		source.NextRun,
		pq.Array(source.Errors),
		source.CreatedAt,
		source.UpdatedAt,
	)

	return err
}

func (s *PostgresStore) UpdateSource(ctx context.Context, source *models.Source) error {
	query := `
        UPDATE sources SET
            name = $2, base_url = $3, user_agent = $4, crawl_interval = $5, max_pages = $6,
            include_patterns = $7, exclude_patterns = $8, updated_at = $9
        WHERE id = $1
    `

	res, err := s.db.ExecContext(ctx, query,
		source.ID,
		source.Name,
		source.BaseURL,
		source.UserAgent,
		source.CrawlInterval,
		source.MaxPages,
		pq.Array(source.IncludePatterns),
		pq.Array(source.ExcludePatterns),
		source.UpdatedAt,
	)
	if err != nil {
		return err
	}

	return requireAffected(res)
}

func (s *PostgresStore) ClaimSource(ctx context.Context, id uuid.UUID) error {
	query := `
        UPDATE sources SET status = $2, updated_at = NOW()
        WHERE id = $1 AND status <> $2
    `

	res, err := s.db.ExecContext(ctx, query, id, models.SourceStatusRunning)
	if err != nil {
		return err
	}
	if err := requireAffected(res); !errors.Is(err, ErrNotFound) {
		return err
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM sources WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrSourceRunning
}

func (s *PostgresStore) RecordRun(ctx context.Context, source *models.Source) error {
	query := `
        UPDATE sources SET status = $2, last_run = $3, next_run = $4, errors = $5, updated_at = $6
        WHERE id = $1
    `

	res, err := s.db.ExecContext(ctx, query,
		source.ID,
		source.Status,
		source.LastRun,
		source.NextRun,
		pq.Array(source.Errors),
		source.UpdatedAt,
	)
	if err != nil {
		return err
	}

	return requireAffected(res)
}

func (s *PostgresStore) GetSource(ctx context.Context, id uuid.UUID) (*models.Source, error) {
	query := `SELECT ` + postgresSourceColumns + ` FROM sources WHERE id = $1`

	source, err := scanPostgresSource(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return source, err
}

func (s *PostgresStore) ListSources(ctx context.Context) ([]*models.Source, error) {
	query := `SELECT ` + postgresSourceColumns + ` FROM sources ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sources := []*models.Source{}
	for rows.Next() {
		source, err := scanPostgresSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, source)
	}

	return sources, rows.Err()
}

func scanPostgresSource(row scanner) (*models.Source, error) {
	source := &models.Source{}
	var userAgent, interval sql.NullString
	var lastRun, nextRun sql.NullTime

	err := row.Scan(
		&source.ID,
		&source.Name,
		&source.BaseURL,
		&userAgent,
		&interval,
		&source.MaxPages,
		pq.Array(&source.IncludePatterns),
		pq.Array(&source.ExcludePatterns),
		&source.Status,
		&lastRun,
		&nextRun,
		pq.Array(&source.Errors),
		&source.CreatedAt,
		&source.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	source.UserAgent = userAgent.String
	source.CrawlInterval = interval.String
	source.LastRun = timePtr(lastRun)
	source.NextRun = timePtr(nextRun)
	return source, nil
}

func (s *PostgresStore) DeleteSource(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sources WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

const postgresDocumentColumns = `id, source_id, url, title, description, content, headings, code_blocks,
            score, lastmod, created_at, updated_at`

// UpsertDocument inserts doc or, when its URL is already stored, refreshes
// the stored row. doc.ID and doc.CreatedAt are set from the stored row.
func (s *PostgresStore) UpsertDocument(ctx context.Context, doc *models.Document) error {
	query := `
        INSERT INTO documents (` + postgresDocumentColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
        ON CONFLICT (url) DO UPDATE SET
            source_id = EXCLUDED.source_id,
            title = EXCLUDED.title,
            description = EXCLUDED.description,
            content = EXCLUDED.content,
            headings = EXCLUDED.headings,
            code_blocks = EXCLUDED.code_blocks,
            score = EXCLUDED.score,
            lastmod = EXCLUDED.lastmod,
            updated_at = EXCLUDED.updated_at
        RETURNING id, created_at
    `

	headings, err := marshalJSON(doc.Headings)
	if err != nil {
		return err
	}
	codeBlocks, err := marshalJSON(doc.CodeBlocks)
	if err != nil {
		return err
	}

	return s.db.QueryRowContext(ctx, query,
		doc.ID,
		doc.SourceID,
		doc.URL,
		doc.Title,
		doc.Description,
		doc.Content,
		headings,
		codeBlocks,
		doc.Score,
		doc.LastMod,
		doc.CreatedAt,
		doc.UpdatedAt,
	).Scan(&doc.ID, &doc.CreatedAt)
}

func (s *PostgresStore) GetDocument(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	query := `SELECT ` + postgresDocumentColumns + ` FROM documents WHERE id = $1`

	doc, err := scanPostgresDocument(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return doc, err
}

func (s *PostgresStore) ListDocuments(ctx context.Context, limit, offset int) ([]*models.Document, error) {
	query := `
        SELECT ` + postgresDocumentColumns + `
        FROM documents
        ORDER BY created_at DESC
        LIMIT $1 OFFSET $2
    `

	return s.queryDocuments(ctx, query, limit, offset)
}

func (s *PostgresStore) SearchDocuments(ctx context.Context, query string, limit, offset int) ([]*models.Document, error) {
	sqlQuery := `
        SELECT ` + postgresDocumentColumns + `
        FROM documents
        WHERE to_tsvector('english', title || ' ' || content) @@ plainto_tsquery('english', $1)
        ORDER BY ts_rank(to_tsvector('english', title || ' ' || content), plainto_tsquery('english', $1)) DESC
        LIMIT $2 OFFSET $3
    `

	return s.queryDocuments(ctx, sqlQuery, query, limit, offset)
}

func (s *PostgresStore) ListDocumentsBySource(ctx context.Context, sourceID uuid.UUID, limit, offset int) ([]*models.Document, error) {
	query := `
        SELECT ` + postgresDocumentColumns + `
        FROM documents
        WHERE source_id = $1
        ORDER BY score ASC NULLS LAST, url
        LIMIT $2 OFFSET $3
    `

	return s.queryDocuments(ctx, query, sourceID, limit, offset)
}

func (s *PostgresStore) queryDocuments(ctx context.Context, query string, args ...any) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := []*models.Document{}
	for rows.Next() {
		doc, err := scanPostgresDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}

	return docs, rows.Err()
}

func scanPostgresDocument(row scanner) (*models.Document, error) {
	doc := &models.Document{}
	var description sql.NullString
	var headings, codeBlocks []byte
	var score sql.NullFloat64
	var lastMod sql.NullTime

	err := row.Scan(
		&doc.ID,
		&doc.SourceID,
		&doc.URL,
		&doc.Title,
		&description,
		&doc.Content,
		&headings,
		&codeBlocks,
		&score,
		&lastMod,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	doc.Description = description.String
	if score.Valid {
		doc.Score = &score.Float64
	}
	doc.LastMod = timePtr(lastMod)
	if err := unmarshalJSON(headings, &doc.Headings); err != nil {
		return nil, fmt.Errorf("decode headings of %s: %w", doc.URL, err)
	}
	if err := unmarshalJSON(codeBlocks, &doc.CodeBlocks); err != nil {
		return nil, fmt.Errorf("decode code blocks of %s: %w", doc.URL, err)
	}

	return doc, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
