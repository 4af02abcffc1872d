package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gallerybox/gallerybox/internal/archive"
	"github.com/gallerybox/gallerybox/internal/domain"
	"github.com/google/uuid"
)

// ExportService builds zip archives from stored images.
type ExportService struct {
	images domain.ImageRepository
	blobs  domain.BlobStore
}

// NewExportService creates a new ExportService.
func NewExportService(images domain.ImageRepository, blobs domain.BlobStore) *ExportService {
	return &ExportService{images: images, blobs: blobs}
}

// ExportAll streams a zip of every stored image to w, each entry placed
// under a top-level directory named after its label. When labels are given,
// only records carrying one of those labels are included. Returns
// domain.ErrNoImages, before writing anything, when the archive would come
// out empty.
func (s *ExportService) ExportAll(ctx context.Context, w io.Writer, labels ...string) error {
	var (
		records []domain.ImageRecord
		err     error
	)
	if len(labels) > 0 {
		records, err = s.images.ListByLabels(ctx, labels)
	} else {
		records, err = s.images.ListAll(ctx)
	}
	if err != nil {
		return fmt.Errorf("query export records: %w", err)
	}

	return s.write(ctx, w, records, func(r *domain.ImageRecord) string {
		return r.Label + "/" + r.Filename
	})
}

// ExportByIDs streams a flat zip of the images whose ids are in ids.
// Unknown ids are silently absent from the result. Returns
// domain.ErrNoImages when the intersection with existing records is empty.
func (s *ExportService) ExportByIDs(ctx context.Context, w io.Writer, ids []int64) error {
	records, err := s.images.ListByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("query export records: %w", err)
	}

	return s.write(ctx, w, records, func(r *domain.ImageRecord) string {
		return r.Filename
	})
}

// ExportAllToFile writes the label-grouped archive to a uniquely named file
// in dir and returns its path. Used in spool mode where the archive is
// served from disk and purged later by the janitor.
func (s *ExportService) ExportAllToFile(ctx context.Context, dir string, labels ...string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create spool dir: %w", err)
	}

	path := filepath.Join(dir, "images_"+uuid.NewString()+".zip")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create spool file: %w", err)
	}

	if err := s.ExportAll(ctx, f, labels...); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close spool file: %w", err)
	}
	return path, nil
}

// write streams records into a zip on w, naming each entry via pathFor.
// Records whose blob is gone are skipped with a warning; a missing blob is
// an incomplete archive, not a failure. When nothing ends up in the archive
// at all, either because no records matched or because every blob was gone,
// domain.ErrNoImages is returned before any byte reaches w.
func (s *ExportService) write(ctx context.Context, w io.Writer, records []domain.ImageRecord, pathFor func(*domain.ImageRecord) string) error {
	if len(records) == 0 {
		return domain.ErrNoImages
	}

	zw := archive.NewWriter(w)
	for i := range records {
		record := &records[i]
		data, err := s.blobs.Open(ctx, record.Filename)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				slog.Warn("blob missing during export, skipping", "filename", record.Filename, "id", record.ID)
				continue
			}
			return fmt.Errorf("read blob %s: %w", record.Filename, err)
		}
		if err := zw.Add(pathFor(record), bytes.NewReader(data)); err != nil {
			return err
		}
	}
	if zw.Entries() == 0 {
		// Every matching record pointed at a vanished blob. The writer has
		// not emitted anything yet, so the caller can still answer cleanly.
		return domain.ErrNoImages
	}
	return zw.Close()
}
