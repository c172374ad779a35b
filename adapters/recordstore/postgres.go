package recordstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Skryldev/image-uploader/core"
	apperrors "github.com/Skryldev/image-uploader/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS images (
    id                UUID PRIMARY KEY,
    url               TEXT        NOT NULL,
    filename          TEXT        NOT NULL,
    original_filename TEXT        NOT NULL,
    size_bytes        BIGINT      NOT NULL DEFAULT 0,
    width             INTEGER     NOT NULL DEFAULT 0,
    height            INTEGER     NOT NULL DEFAULT 0,
    mime_type         TEXT        NOT NULL,
    upload_service    TEXT        NOT NULL,
    category          TEXT        NOT NULL DEFAULT 'general',
    is_active         BOOLEAN     NOT NULL DEFAULT TRUE,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS images_category_idx ON images (category) WHERE is_active;
`

const columns = `id, url, filename, original_filename, size_bytes, width, height,
    mime_type, upload_service, category, is_active, created_at, updated_at`

// Postgres stores image records in the images table.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to dsn and verifies the connection.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, apperrors.New(apperrors.CategoryConfig, "recordstore.postgres", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, apperrors.New(apperrors.CategoryStorage, "recordstore.postgres", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, apperrors.New(apperrors.CategoryStorage, "recordstore.postgres.ping",
			errors.Join(apperrors.ErrStorageUnavailable, err))
	}
	return NewPostgresFromPool(pool), nil
}

// NewPostgresFromPool wraps an existing pool.
func NewPostgresFromPool(pool *pgxpool.Pool) *Postgres { return &Postgres{pool: pool} }

// EnsureSchema creates the images table if it is missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, schema)
	return err
}

// Close releases the pool.
func (p *Postgres) Close() { p.pool.Close() }

func (p *Postgres) Save(ctx context.Context, meta core.ImageMetadata) (*core.ImageRecord, error) {
	const query = `
        INSERT INTO images (id, url, filename, original_filename, size_bytes, width, height,
                            mime_type, upload_service, category)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        RETURNING ` + columns

	row := p.pool.QueryRow(ctx, query,
		uuid.New(),
		meta.URL,
		meta.Filename,
		meta.OriginalFilename,
		meta.SizeBytes,
		meta.Width,
		meta.Height,
		meta.MIMEType,
		meta.UploadService,
		meta.Category,
	)
	return scanRecord(row)
}

func (p *Postgres) Update(ctx context.Context, id string, patch core.RecordPatch) (*core.ImageRecord, error) {
	const query = `
        UPDATE images
           SET filename   = COALESCE($2, filename),
               category   = COALESCE($3, category),
               url        = COALESCE($4, url),
               updated_at = now()
         WHERE id = $1 AND is_active
        RETURNING ` + columns

	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrNotFound, id)
	}
	rec, err := scanRecord(p.pool.QueryRow(ctx, query, uid, patch.Filename, patch.Category, patch.URL))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrNotFound, id)
	}
	return rec, err
}

func (p *Postgres) SoftDelete(ctx context.Context, id string) (*core.ImageRecord, error) {
	const query = `
        UPDATE images SET is_active = FALSE, updated_at = now()
         WHERE id = $1 AND is_active
        RETURNING ` + columns

	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrNotFound, id)
	}
	rec, err := scanRecord(p.pool.QueryRow(ctx, query, uid))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrNotFound, id)
	}
	return rec, err
}

func (p *Postgres) Query(ctx context.Context, f core.RecordFilter) ([]*core.ImageRecord, error) {
	where, args := buildWhere(f)
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM images %s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		columns, where, len(args)-1, len(args))

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*core.ImageRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// buildWhere renders the filter as a WHERE clause over positional args.
func buildWhere(f core.RecordFilter) (string, []any) {
	conditions := []string{"is_active"}
	var args []any
	if f.Category != "" {
		args = append(args, f.Category)
		conditions = append(conditions, fmt.Sprintf("category = $%d", len(args)))
	}
	if f.Service != "" {
		args = append(args, f.Service)
		conditions = append(conditions, fmt.Sprintf("upload_service = $%d", len(args)))
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		args = append(args, "%"+s+"%")
		conditions = append(conditions, fmt.Sprintf("(filename ILIKE $%d OR original_filename ILIKE $%d)", len(args), len(args)))
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

func scanRecord(row pgx.Row) (*core.ImageRecord, error) {
	var (
		rec core.ImageRecord
		id  uuid.UUID
	)
	err := row.Scan(
		&id,
		&rec.URL,
		&rec.Filename,
		&rec.OriginalFilename,
		&rec.SizeBytes,
		&rec.Width,
		&rec.Height,
		&rec.MIMEType,
		&rec.UploadService,
		&rec.Category,
		&rec.IsActive,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.ID = id.String()
	return &rec, nil
}

var _ core.RecordStore = (*Postgres)(nil)
