package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/gallerybox/gallerybox/internal/domain"
	"github.com/google/uuid"
)

// UploadFile is one incoming image in a direct upload batch.
type UploadFile struct {
	Name string // Original client filename, used only for its extension
	Data []byte
}

// ImageService orchestrates direct uploads, listing, labeling and clearing.
type ImageService struct {
	images  domain.ImageRepository
	blobs   domain.BlobStore
	baseURL string
}

// NewImageService creates a new ImageService. baseURL is the externally
// visible base used to build absolute image URLs.
func NewImageService(images domain.ImageRepository, blobs domain.BlobStore, baseURL string) *ImageService {
	return &ImageService{
		images:  images,
		blobs:   blobs,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Upload stores each file and returns the generated filenames. The batch is
// all-or-nothing: the first failure aborts and surfaces the error, keeping
// interactive uploads consistent with their response.
func (s *ImageService) Upload(ctx context.Context, files []UploadFile) ([]string, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no files in upload", domain.ErrInvalidInput)
	}

	filenames := make([]string, 0, len(files))
	for _, f := range files {
		filename := OpaqueFilename(f.Name)

		// Blob first, record second: a crash in between leaves an orphan
		// blob rather than a record pointing at nothing.
		if err := s.blobs.Save(ctx, filename, f.Data); err != nil {
			return nil, fmt.Errorf("save blob for %s: %w", f.Name, err)
		}

		record := &domain.ImageRecord{
			Filename: filename,
			URL:      "/uploads/" + filename,
			Label:    domain.DefaultLabel,
		}
		if err := s.images.Create(ctx, record); err != nil {
			// Best-effort cleanup of the stored blob.
			s.blobs.Delete(ctx, filename)
			return nil, fmt.Errorf("create record for %s: %w", f.Name, err)
		}

		filenames = append(filenames, filename)
	}

	return filenames, nil
}

// List returns one page of records, ordered by id ascending, with URLs made
// absolute against the configured base, plus the total record count.
func (s *ImageService) List(ctx context.Context, page, limit int) ([]domain.ImageRecord, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}

	records, err := s.images.List(ctx, (page-1)*limit, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list images: %w", err)
	}
	total, err := s.images.Count(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("count images: %w", err)
	}

	for i := range records {
		records[i].URL = s.baseURL + records[i].URL
	}
	return records, total, nil
}

// UpdateLabel overwrites the label of the record with the given id.
// Last write wins; the label is free text and not validated.
func (s *ImageService) UpdateLabel(ctx context.Context, id int64, label string) error {
	if err := s.images.UpdateLabel(ctx, id, label); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("update label: %w", err)
	}
	return nil
}

// Clear wipes all records and blobs. Idempotent; clearing an empty gallery
// succeeds.
func (s *ImageService) Clear(ctx context.Context) error {
	if err := s.images.DeleteAll(ctx); err != nil {
		return fmt.Errorf("clear records: %w", err)
	}
	if err := s.blobs.DeleteAll(ctx); err != nil {
		return fmt.Errorf("clear blobs: %w", err)
	}
	return nil
}

// OpaqueFilename generates a collision-resistant storage name preserving the
// original file's extension.
func OpaqueFilename(original string) string {
	return uuid.NewString() + path.Ext(original)
}
