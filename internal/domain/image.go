package domain

import (
	"context"
	"time"
)

// DefaultLabel is the label assigned to images that have not been labeled yet.
const DefaultLabel = "unlabeled"

// ImageRecord holds metadata about one stored image.
type ImageRecord struct {
	ID        int64
	Filename  string // Generated opaque storage name, unique
	URL       string // Relative path to the blob, e.g. "/uploads/<filename>"
	Label     string // User-assigned free text, DefaultLabel until set
	CreatedAt time.Time
}

// ImageRepository handles image metadata persistence.
type ImageRepository interface {
	Create(ctx context.Context, image *ImageRecord) error
	GetByID(ctx context.Context, id int64) (*ImageRecord, error)
	// List returns records ordered by id ascending.
	List(ctx context.Context, offset, limit int) ([]ImageRecord, error)
	ListAll(ctx context.Context) ([]ImageRecord, error)
	ListByIDs(ctx context.Context, ids []int64) ([]ImageRecord, error)
	ListByLabels(ctx context.Context, labels []string) ([]ImageRecord, error)
	Count(ctx context.Context) (int, error)
	// UpdateLabel overwrites the label of an existing record.
	// Returns ErrNotFound when no record has the given id.
	UpdateLabel(ctx context.Context, id int64, label string) error
	DeleteAll(ctx context.Context) error
}

// BlobStore abstracts raw image byte storage keyed by opaque filename.
// The initial implementation stores files on the local filesystem so they
// can be served statically; the interface allows swapping to S3 or another
// backend later.
type BlobStore interface {
	Save(ctx context.Context, key string, data []byte) error
	Open(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	DeleteAll(ctx context.Context) error
	Exists(ctx context.Context, key string) (bool, error)
}
