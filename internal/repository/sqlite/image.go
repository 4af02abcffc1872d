package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/gallerybox/gallerybox/internal/domain"
)

// imageRepo implements domain.ImageRepository using SQLite.
type imageRepo struct {
	db *sql.DB
}

const imageColumns = "id, filename, url, label, created_at"

func (r *imageRepo) Create(ctx context.Context, image *domain.ImageRecord) error {
	if image.Label == "" {
		image.Label = domain.DefaultLabel
	}
	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx,
		"INSERT INTO images (filename, url, label, created_at) VALUES (?, ?, ?, ?)",
		image.Filename, image.URL, image.Label, now,
	)
	if err != nil {
		return fmt.Errorf("insert image: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}

	image.ID = id
	image.CreatedAt = now
	return nil
}

func (r *imageRepo) GetByID(ctx context.Context, id int64) (*domain.ImageRecord, error) {
	img := &domain.ImageRecord{}
	err := r.db.QueryRowContext(ctx,
		"SELECT "+imageColumns+" FROM images WHERE id = ?", id,
	).Scan(&img.ID, &img.Filename, &img.URL, &img.Label, &img.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get image: %w", err)
	}
	return img, nil
}

func (r *imageRepo) List(ctx context.Context, offset, limit int) ([]domain.ImageRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+imageColumns+" FROM images ORDER BY id LIMIT ? OFFSET ?",
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	defer rows.Close()
	return scanImages(rows)
}

func (r *imageRepo) ListAll(ctx context.Context) ([]domain.ImageRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+imageColumns+" FROM images ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list all images: %w", err)
	}
	defer rows.Close()
	return scanImages(rows)
}

func (r *imageRepo) ListByIDs(ctx context.Context, ids []int64) ([]domain.ImageRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT "+imageColumns+" FROM images WHERE id IN ("+placeholders+") ORDER BY id",
		args...)
	if err != nil {
		return nil, fmt.Errorf("list images by ids: %w", err)
	}
	defer rows.Close()
	return scanImages(rows)
}

func (r *imageRepo) ListByLabels(ctx context.Context, labels []string) ([]domain.ImageRecord, error) {
	if len(labels) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(labels))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(labels))
	for i, l := range labels {
		args[i] = l
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT "+imageColumns+" FROM images WHERE label IN ("+placeholders+") ORDER BY id",
		args...)
	if err != nil {
		return nil, fmt.Errorf("list images by labels: %w", err)
	}
	defer rows.Close()
	return scanImages(rows)
}

func (r *imageRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM images").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count images: %w", err)
	}
	return count, nil
}

func (r *imageRepo) UpdateLabel(ctx context.Context, id int64, label string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE images SET label = ? WHERE id = ?", label, id)
	if err != nil {
		return fmt.Errorf("update image label: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *imageRepo) DeleteAll(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM images"); err != nil {
		return fmt.Errorf("delete all images: %w", err)
	}
	return nil
}

func scanImages(rows *sql.Rows) ([]domain.ImageRecord, error) {
	var images []domain.ImageRecord
	for rows.Next() {
		var img domain.ImageRecord
		if err := rows.Scan(&img.ID, &img.Filename, &img.URL, &img.Label, &img.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		images = append(images, img)
	}
	return images, rows.Err()
}
