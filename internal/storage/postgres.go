package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"html"
	"time"

	"github.com/dshanske/wordpress-webmention/internal/models"
	"github.com/dshanske/wordpress-webmention/internal/urlutil"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

//go:embed migrations/*.sql
var migrations embed.FS

const uniqueViolation = "23505"

// mentionSelectColumns lists columns for SELECT queries on mentions
const mentionSelectColumns = `id, document_id, source_url, title, body_html, raw_body, type,
	approval_state, parent_id, crosspost_link, created_at, updated_at`

// PostgresStore persists documents and mentions in PostgreSQL
type PostgresStore struct {
	db         *sqlx.DB
	normalizer *urlutil.Normalizer
}

// Ensure PostgresStore implements the store interfaces
var (
	_ DocumentStore = (*PostgresStore)(nil)
	_ MentionStore  = (*PostgresStore)(nil)
)

// NewPostgresStore wraps an open database handle
func NewPostgresStore(db *sqlx.DB, siteURL string) *PostgresStore {
	return &PostgresStore{
		db:         db,
		normalizer: urlutil.NewNormalizer(siteURL),
	}
}

// OpenPostgres connects to dsn and verifies the connection
func OpenPostgres(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// Migrate applies the embedded schema
func (s *PostgresStore) Migrate(ctx context.Context) error {
	schema, err := migrations.ReadFile("migrations/001_init.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, string(schema)); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	logrus.Info("Database schema is up to date")
	return nil
}

func (s *PostgresStore) ResolveURL(ctx context.Context, url string) (string, error) {
	var id string
	err := s.db.GetContext(ctx, &id, `SELECT id FROM documents WHERE normalized_url = $1`, s.normalizer.Key(url))
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve url: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	err := s.db.GetContext(ctx, &doc, `SELECT id, url, content, format, pings_open FROM documents WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &doc, nil
}

func (s *PostgresStore) SaveDocument(ctx context.Context, doc *models.Document) error {
	query := `
		INSERT INTO documents (id, url, normalized_url, content, format, pings_open)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET url = EXCLUDED.url, normalized_url = EXCLUDED.normalized_url, content = EXCLUDED.content,
			format = EXCLUDED.format, pings_open = EXCLUDED.pings_open
	`
	_, err := s.db.ExecContext(ctx, query,
		doc.ID, doc.URL, s.normalizer.Key(doc.URL), doc.Content, doc.Format, doc.PingsOpen)
	if err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindBySourceURL(ctx context.Context, documentID, sourceURL string) (*models.Mention, error) {
	query := `SELECT ` + mentionSelectColumns + ` FROM mentions WHERE document_id = $1 AND source_url = $2 LIMIT 1`
	return s.findOne(ctx, query, documentID, sourceURL)
}

func (s *PostgresStore) FindByCrossPostLink(ctx context.Context, documentID, link string) (*models.Mention, error) {
	query := `SELECT ` + mentionSelectColumns + ` FROM mentions WHERE document_id = $1 AND crosspost_link = $2 LIMIT 1`
	return s.findOne(ctx, query, documentID, link)
}

// FindByNormalizedSource looks a mention up by the key of the unique index
func (s *PostgresStore) FindByNormalizedSource(ctx context.Context, documentID, sourceURL string) (*models.Mention, error) {
	query := `SELECT ` + mentionSelectColumns + ` FROM mentions WHERE document_id = $1 AND normalized_source = $2 LIMIT 1`
	return s.findOne(ctx, query, documentID, s.normalizedSource(sourceURL))
}

func (s *PostgresStore) findOne(ctx context.Context, query string, args ...interface{}) (*models.Mention, error) {
	var m models.Mention
	err := s.db.GetContext(ctx, &m, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query mention: %w", err)
	}
	return &m, nil
}

// InsertMention stores a new mention. The unique index on document and
// normalized source is the final guard against concurrent duplicates.
func (s *PostgresStore) InsertMention(ctx context.Context, mention *models.Mention) error {
	query := `
		INSERT INTO mentions (id, document_id, source_url, normalized_source, title, body_html, raw_body,
			type, approval_state, parent_id, crosspost_link)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`

	id := uuid.NewString()
	row := s.db.QueryRowxContext(ctx, query,
		id, mention.TargetDocumentID, mention.SourceURL, s.normalizedSource(mention.SourceURL),
		mention.Title, mention.BodyHTML, mention.RawBody, mention.Type, mention.ApprovalState,
		mention.ParentMentionID, mention.CrossPostLink)

	if err := row.Scan(&mention.CreatedAt, &mention.UpdatedAt); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("mention for %s on document %s: %w", mention.SourceURL, mention.TargetDocumentID, ErrDuplicate)
		}
		return fmt.Errorf("failed to insert mention: %w", err)
	}

	mention.ID = id
	return nil
}

func (s *PostgresStore) UpdateMention(ctx context.Context, mention *models.Mention) error {
	query := `
		UPDATE mentions
		SET source_url = $2, normalized_source = $3, title = $4, body_html = $5, raw_body = $6,
			type = $7, approval_state = $8, parent_id = $9, crosspost_link = $10, updated_at = NOW()
		WHERE id = $1
	`

	result, err := s.db.ExecContext(ctx, query,
		mention.ID, mention.SourceURL, s.normalizedSource(mention.SourceURL), mention.Title,
		mention.BodyHTML, mention.RawBody, mention.Type, mention.ApprovalState,
		mention.ParentMentionID, mention.CrossPostLink)
	return execRequireRows(result, err, fmt.Errorf("mention %s: %w", mention.ID, ErrNotFound))
}

func (s *PostgresStore) GetMention(ctx context.Context, id string) (*models.Mention, error) {
	m, err := s.findOne(ctx, `SELECT `+mentionSelectColumns+` FROM mentions WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("mention %s: %w", id, ErrNotFound)
	}
	return m, nil
}

func (s *PostgresStore) ListMentions(ctx context.Context, documentID string) ([]models.Mention, error) {
	query := `SELECT ` + mentionSelectColumns + ` FROM mentions WHERE document_id = $1 ORDER BY created_at ASC`

	mentions := []models.Mention{}
	if err := s.db.SelectContext(ctx, &mentions, query, documentID); err != nil {
		return nil, fmt.Errorf("failed to list mentions: %w", err)
	}
	return mentions, nil
}

func (s *PostgresStore) normalizedSource(sourceURL string) string {
	return s.normalizer.Key(html.UnescapeString(sourceURL))
}

// execRequireRows validates that an ExecContext result affected at least one row
func execRequireRows(result sql.Result, err, notFoundErr error) error {
	if err != nil {
		return fmt.Errorf("failed to execute statement: %w", err)
	}
	n, affectedErr := result.RowsAffected()
	if affectedErr != nil {
		return affectedErr
	}
	if n == 0 {
		return notFoundErr
	}
	return nil
}
