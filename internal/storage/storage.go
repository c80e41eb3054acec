package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"imagevault/internal/models"
)

// Storage is the Postgres record store.
type Storage struct {
	pool *pgxpool.Pool
}

// NewStorage connects to Postgres and brings the schema up to date.
func NewStorage(ctx context.Context, dsn string, logger *zap.Logger) (*Storage, error) {
	const op = "storage.NewStorage"

	if err := RunMigrations(dsn, logger); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	return &Storage{pool: pool}, nil
}

func (s *Storage) Close() {
	s.pool.Close()
}

const imageColumns = `id, owner_id, title, mime_type, size, original_size, processed_size, path,
	thumbnail_path, is_public, encrypted, thumbnail_exists, processing_status, processing_time, created_at`

func (s *Storage) CreateImage(ctx context.Context, img *models.Image) error {
	const op = "storage.CreateImage"

	err := s.pool.QueryRow(ctx,
		`INSERT INTO images (id, owner_id, title, mime_type, size, original_size, processed_size, path,
			thumbnail_path, is_public, encrypted, thumbnail_exists, processing_status, processing_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at`,
		img.ID, img.OwnerID, img.Title, img.MimeType, img.Size, img.OriginalSize, img.ProcessedSize, img.Path,
		img.ThumbnailPath, img.IsPublic, img.Encrypted, img.ThumbnailExists, string(img.Status), img.ProcessingTime,
	).Scan(&img.CreatedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Storage) GetImage(ctx context.Context, id uuid.UUID) (*models.Image, error) {
	const op = "storage.GetImage"

	img, err := scanImage(s.pool.QueryRow(ctx, `SELECT `+imageColumns+` FROM images WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return img, nil
}

// UpdateImage writes only the fields set in upd.
func (s *Storage) UpdateImage(ctx context.Context, id uuid.UUID, upd models.ImageUpdate) error {
	const op = "storage.UpdateImage"

	if upd.Status != nil {
		return fmt.Errorf("%s: %w: status changes go through TransitionImage", op, models.ErrInvalidTransition)
	}
	if upd.Empty() {
		return nil
	}
	sets, args := assignments(upd, 1)
	args = append([]any{id}, args...)

	tag, err := s.pool.Exec(ctx, `UPDATE images SET `+strings.Join(sets, ", ")+` WHERE id = $1`, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TransitionImage applies upd only while the image is still in status from.
func (s *Storage) TransitionImage(ctx context.Context, id uuid.UUID, from models.ProcessingStatus, upd models.ImageUpdate) error {
	const op = "storage.TransitionImage"

	if err := checkTransition(from, upd); err != nil {
		return err
	}
	sets, args := assignments(upd, 2)
	if len(sets) == 0 {
		return fmt.Errorf("%s: empty update", op)
	}
	args = append([]any{id, string(from)}, args...)

	tag, err := s.pool.Exec(ctx,
		`UPDATE images SET `+strings.Join(sets, ", ")+` WHERE id = $1 AND processing_status = $2`, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var current string
	err = s.pool.QueryRow(ctx, `SELECT processing_status FROM images WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: image %s is %s, expected %s", ErrStatusConflict, id, current, from)
}

// DeleteImage removes the image; its history goes with it via ON DELETE CASCADE.
func (s *Storage) DeleteImage(ctx context.Context, id uuid.UUID) error {
	const op = "storage.DeleteImage"

	tag, err := s.pool.Exec(ctx, `DELETE FROM images WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// assignments renders "column = $n" pairs for the set fields of upd,
// numbering placeholders after offset.
func assignments(upd models.ImageUpdate, offset int) ([]string, []any) {
	var (
		sets []string
		args []any
	)
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, offset+len(args)))
	}

	if upd.Title != nil {
		add("title", *upd.Title)
	}
	if upd.IsPublic != nil {
		add("is_public", *upd.IsPublic)
	}
	if upd.Status != nil {
		add("processing_status", string(*upd.Status))
	}
	if upd.ProcessedSize != nil {
		add("processed_size", *upd.ProcessedSize)
	}
	if upd.Encrypted != nil {
		add("encrypted", *upd.Encrypted)
	}
	if upd.ThumbnailExists != nil {
		add("thumbnail_exists", *upd.ThumbnailExists)
	}
	if upd.ThumbnailPath != nil {
		add("thumbnail_path", *upd.ThumbnailPath)
	}
	if upd.ProcessingTime != nil {
		add("processing_time", *upd.ProcessingTime)
	}
	if upd.Path != nil {
		add("path", *upd.Path)
	}
	return sets, args
}

func scanImage(row pgx.Row) (*models.Image, error) {
	var (
		img    models.Image
		status string
	)
	if err := row.Scan(
		&img.ID, &img.OwnerID, &img.Title, &img.MimeType, &img.Size, &img.OriginalSize, &img.ProcessedSize,
		&img.Path, &img.ThumbnailPath, &img.IsPublic, &img.Encrypted, &img.ThumbnailExists, &status,
		&img.ProcessingTime, &img.CreatedAt,
	); err != nil {
		return nil, err
	}

	parsed, err := models.ParseProcessingStatus(status)
	if err != nil {
		return nil, err
	}
	img.Status = parsed
	return &img, nil
}
