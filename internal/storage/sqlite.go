package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/romangod6/docs-crawler/internal/models"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	// sqlite allows a single writer at a time.
	db.SetMaxOpenConns(1)

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Initialize() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS sources (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            base_url TEXT NOT NULL,
            user_agent TEXT,
            crawl_interval TEXT,
            max_pages INTEGER NOT NULL DEFAULT 0,
            include_patterns TEXT,
            exclude_patterns TEXT,
            status TEXT NOT NULL,
            last_run DATETIME,
            next_run DATETIME,
            errors TEXT,
            created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE TABLE IF NOT EXISTS documents (
            id TEXT PRIMARY KEY,
            source_id TEXT NOT NULL,
            url TEXT UNIQUE NOT NULL,
            title TEXT NOT NULL,
            description TEXT,
            content TEXT NOT NULL,
            headings TEXT,
            code_blocks TEXT,
            score REAL,
            lastmod DATETIME,
            created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
            FOREIGN KEY(source_id) REFERENCES sources(id)
        )`,
		`CREATE INDEX IF NOT EXISTS idx_documents_source_id ON documents(source_id)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_url ON documents(url)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}

	return nil
}

const sqliteSourceColumns = `id, name, base_url, user_agent, crawl_interval, max_pages, include_patterns,
            exclude_patterns, status, last_run, next_run, errors, created_at, updated_at`

func (s *SQLiteStore) CreateSource(ctx context.Context, source *models.Source) error {
	query := `
        INSERT INTO sources (` + sqliteSourceColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `

	args, err := sqliteSourceArgs(source)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, query, append([]any{source.ID.String()}, append(args, source.CreatedAt, source.UpdatedAt)...)...)
	return err
}

func (s *SQLiteStore) UpdateSource(ctx context.Context, source *models.Source) error {
	query := `
        UPDATE sources SET
            name = ?, base_url = ?, user_agent = ?, crawl_interval = ?, max_pages = ?,
            include_patterns = ?, exclude_patterns = ?, updated_at = ?
        WHERE id = ?
    `

	args, err := sqliteSourceArgs(source)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, query, append(args[:7:7], source.UpdatedAt, source.ID.String())...)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *SQLiteStore) ClaimSource(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sources SET status = ?, updated_at = ? WHERE id = ? AND status <> ?`,
		models.SourceStatusRunning, time.Now(), id.String(), models.SourceStatusRunning)
	if err != nil {
		return err
	}
	if err := requireAffected(res); !errors.Is(err, ErrNotFound) {
		return err
	}
	return s.claimMiss(ctx, id)
}

func (s *SQLiteStore) claimMiss(ctx context.Context, id uuid.UUID) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM sources WHERE id = ?`, id.String()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrSourceRunning
}

func (s *SQLiteStore) RecordRun(ctx context.Context, source *models.Source) error {
	errs, err := marshalJSON(source.Errors)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sources SET status = ?, last_run = ?, next_run = ?, errors = ?, updated_at = ? WHERE id = ?`,
		source.Status, source.LastRun, source.NextRun, errs, source.UpdatedAt, source.ID.String())
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// sqliteSourceArgs returns the mutable source columns from name to errors.
func sqliteSourceArgs(source *models.Source) ([]any, error) {
	include, err := marshalJSON(source.IncludePatterns)
	if err != nil {
		return nil, err
	}
	exclude, err := marshalJSON(source.ExcludePatterns)
	if err != nil {
		return nil, err
	}
	errs, err := marshalJSON(source.Errors)
	if err != nil {
		return nil, err
	}
	return []any{
		source.Name,
		source.BaseURL,
		source.UserAgent,
		source.CrawlInterval,
		source.MaxPages,
		include,
		exclude,
		source.Status,
		source.LastRun,
		source.NextRun,
		errs,
	}, nil
}

func (s *SQLiteStore) GetSource(ctx context.Context, id uuid.UUID) (*models.Source, error) {
	query := `SELECT ` + sqliteSourceColumns + ` FROM sources WHERE id = ?`

	source, err := scanSQLiteSource(s.db.QueryRowContext(ctx, query, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return source, err
}

func (s *SQLiteStore) ListSources(ctx context.Context) ([]*models.Source, error) {
	query := `SELECT ` + sqliteSourceColumns + ` FROM sources ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sources := []*models.Source{}
	for rows.Next() {
		source, err := scanSQLiteSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, source)
	}

	return sources, rows.Err()
}

func scanSQLiteSource(row scanner) (*models.Source, error) {
	var (
		source                 models.Source
		idStr                  string
		userAgent, interval    sql.NullString
		include, exclude, errs sql.NullString
		lastRun, nextRun       sql.NullTime
	)

	err := row.Scan(
		&idStr,
		&source.Name,
		&source.BaseURL,
		&userAgent,
		&interval,
		&source.MaxPages,
		&include,
		&exclude,
		&source.Status,
		&lastRun,
		&nextRun,
		&errs,
		&source.CreatedAt,
		&source.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	source.ID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("invalid source id %q: %w", idStr, err)
	}
	source.UserAgent = userAgent.String
	source.CrawlInterval = interval.String
	source.LastRun = timePtr(lastRun)
	source.NextRun = timePtr(nextRun)
	for dst, raw := range map[*[]string]sql.NullString{
		&source.IncludePatterns: include,
		&source.ExcludePatterns: exclude,
		&source.Errors:          errs,
	} {
		if err := unmarshalJSON([]byte(raw.String), dst); err != nil {
			return nil, fmt.Errorf("decode source %s: %w", idStr, err)
		}
	}

	return &source, nil
}

func (s *SQLiteStore) DeleteSource(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE source_id = ?`, id.String()); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, id.String())
	if err != nil {
		return err
	}
	if err := requireAffected(res); err != nil {
		return err
	}
	return tx.Commit()
}

const sqliteDocumentColumns = `id, source_id, url, title, description, content, headings, code_blocks,
            score, lastmod, created_at, updated_at`

// UpsertDocument inserts doc or, when its URL is already stored, refreshes
// the stored row. doc.ID and doc.CreatedAt are set from the stored row.
func (s *SQLiteStore) UpsertDocument(ctx context.Context, doc *models.Document) error {
	query := `
        INSERT INTO documents (` + sqliteDocumentColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(url) DO UPDATE SET
            source_id = excluded.source_id,
            title = excluded.title,
            description = excluded.description,
            content = excluded.content,
            headings = excluded.headings,
            code_blocks = excluded.code_blocks,
            score = excluded.score,
            lastmod = excluded.lastmod,
            updated_at = excluded.updated_at
    `

	headings, err := marshalJSON(doc.Headings)
	if err != nil {
		return err
	}
	codeBlocks, err := marshalJSON(doc.CodeBlocks)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, query,
		doc.ID.String(),
		doc.SourceID.String(),
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
	)
	if err != nil {
		return err
	}

	var idStr string
	err = s.db.QueryRowContext(ctx, `SELECT id, created_at FROM documents WHERE url = ?`, doc.URL).Scan(&idStr, &doc.CreatedAt)
	if err != nil {
		return err
	}
	doc.ID, err = uuid.Parse(idStr)
	return err
}

func (s *SQLiteStore) GetDocument(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	query := `SELECT ` + sqliteDocumentColumns + ` FROM documents WHERE id = ?`

	doc, err := scanSQLiteDocument(s.db.QueryRowContext(ctx, query, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return doc, err
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, limit, offset int) ([]*models.Document, error) {
	query := `
        SELECT ` + sqliteDocumentColumns + `
        FROM documents
        ORDER BY created_at DESC
        LIMIT ? OFFSET ?
    `

	return s.queryDocuments(ctx, query, limit, offset)
}

func (s *SQLiteStore) SearchDocuments(ctx context.Context, searchTerm string, limit, offset int) ([]*models.Document, error) {
	query := `
        SELECT ` + sqliteDocumentColumns + `
        FROM documents
        WHERE title LIKE ? OR content LIKE ?
        ORDER BY created_at DESC
        LIMIT ? OFFSET ?
    `

	searchPattern := "%" + searchTerm + "%"
	return s.queryDocuments(ctx, query, searchPattern, searchPattern, limit, offset)
}

func (s *SQLiteStore) ListDocumentsBySource(ctx context.Context, sourceID uuid.UUID, limit, offset int) ([]*models.Document, error) {
	query := `
        SELECT ` + sqliteDocumentColumns + `
        FROM documents
        WHERE source_id = ?
        ORDER BY score IS NULL, score, url
        LIMIT ? OFFSET ?
    `

	return s.queryDocuments(ctx, query, sourceID.String(), limit, offset)
}

func (s *SQLiteStore) queryDocuments(ctx context.Context, query string, args ...any) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := []*models.Document{}
	for rows.Next() {
		doc, err := scanSQLiteDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}

	return docs, rows.Err()
}

func scanSQLiteDocument(row scanner) (*models.Document, error) {
	var (
		doc                  models.Document
		idStr, sourceIDStr   string
		description          sql.NullString
		headings, codeBlocks sql.NullString
		score                sql.NullFloat64
		lastMod              sql.NullTime
	)

	err := row.Scan(
		&idStr,
		&sourceIDStr,
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

	if doc.ID, err = uuid.Parse(idStr); err != nil {
		return nil, fmt.Errorf("invalid document id %q: %w", idStr, err)
	}
	if doc.SourceID, err = uuid.Parse(sourceIDStr); err != nil {
		return nil, fmt.Errorf("invalid source id %q: %w", sourceIDStr, err)
	}
	doc.Description = description.String
	if score.Valid {
		doc.Score = &score.Float64
	}
	doc.LastMod = timePtr(lastMod)
	if err := unmarshalJSON([]byte(headings.String), &doc.Headings); err != nil {
		return nil, fmt.Errorf("decode headings of %s: %w", doc.URL, err)
	}
	if err := unmarshalJSON([]byte(codeBlocks.String), &doc.CodeBlocks); err != nil {
		return nil, fmt.Errorf("decode code blocks of %s: %w", doc.URL, err)
	}

	return &doc, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
