package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/gallerybox/gallerybox/internal/archive"
	"github.com/gallerybox/gallerybox/internal/domain"
	"golang.org/x/sync/errgroup"
)

// defaultIngestWorkers bounds concurrent blob-write+record-insert pairs
// during background ingestion.
const defaultIngestWorkers = 4

// IngestService runs the bulk zip ingestion pipeline: validate the archive,
// clear all prior gallery state, acknowledge, then extract and persist the
// surviving entries in the background.
type IngestService struct {
	images  domain.ImageRepository
	blobs   domain.BlobStore
	workers int

	wg sync.WaitGroup
}

// NewIngestService creates a new IngestService.
func NewIngestService(images domain.ImageRepository, blobs domain.BlobStore) *IngestService {
	return &IngestService{
		images:  images,
		blobs:   blobs,
		workers: defaultIngestWorkers,
	}
}

// Start validates data as a zip archive, clears the gallery and kicks off
// background persistence. It returns once the clear phase is done; the
// caller gets no completion signal for the extract+persist phase, whose
// outcome is observable only through subsequent listings and logs.
//
// Concurrent Start calls are not serialized; overlapping bulk ingestions
// interleave destructively. That matches the replace-everything semantics
// of the endpoint rather than guarding against it.
func (s *IngestService) Start(data []byte) error {
	reader, err := archive.NewReader(data)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := s.images.DeleteAll(ctx); err != nil {
		return fmt.Errorf("clear records: %w", err)
	}
	if err := s.blobs.DeleteAll(ctx); err != nil {
		return fmt.Errorf("clear blobs: %w", err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(reader)
	}()

	return nil
}

// Wait blocks until all in-flight background ingestion has finished. Used
// by graceful shutdown and by tests; callers of Start never need it.
func (s *IngestService) Wait() {
	s.wg.Wait()
}

func (s *IngestService) run(reader *archive.Reader) {
	// Detached from the originating request on purpose; the background
	// phase has no cancellation.
	ctx := context.Background()

	g := new(errgroup.Group)
	g.SetLimit(s.workers)

	ingested := 0
	for {
		entry, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// A single unreadable entry is terminal to that entry only.
			slog.Error("read archive entry", "error", err)
			continue
		}

		ingested++
		g.Go(func() error {
			if err := s.persist(ctx, entry); err != nil {
				slog.Error("ingest archive entry", "name", entry.Name, "error", err)
			}
			// Entry failures never abort the batch.
			return nil
		})
	}

	g.Wait()
	slog.Info("bulk ingestion finished", "entries", ingested)
}

func (s *IngestService) persist(ctx context.Context, entry *archive.Entry) error {
	filename := OpaqueFilename(entry.Name)

	// Blob before record, so a failure leaves garbage, not a dangling record.
	if err := s.blobs.Save(ctx, filename, entry.Data); err != nil {
		return fmt.Errorf("save blob: %w", err)
	}

	record := &domain.ImageRecord{
		Filename: filename,
		URL:      "/uploads/" + filename,
		Label:    domain.DefaultLabel,
	}
	if err := s.images.Create(ctx, record); err != nil {
		return fmt.Errorf("create record: %w", err)
	}
	return nil
}
