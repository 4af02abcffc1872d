package archive

import (
	"archive/zip"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

// Writer builds a zip archive incrementally, writing entries through to the
// underlying writer as they are added. Nothing is written until the first
// entry, so callers can still abort cleanly when no entries exist.
type Writer struct {
	zw      *zip.Writer
	entries int
}

// NewWriter wraps w in a zip writer using the faster klauspost deflate
// implementation for compression.
func NewWriter(w io.Writer) *Writer {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestSpeed)
	})
	return &Writer{zw: zw}
}

// Add streams one entry into the archive under the given path.
func (w *Writer) Add(name string, r io.Reader) error {
	ew, err := w.zw.Create(name)
	if err != nil {
		return fmt.Errorf("create archive entry %s: %w", name, err)
	}
	if _, err := io.Copy(ew, r); err != nil {
		return fmt.Errorf("write archive entry %s: %w", name, err)
	}
	w.entries++
	return nil
}

// Entries returns the number of entries added so far.
func (w *Writer) Entries() int {
	return w.entries
}

// Close flushes the central directory. Must be called for the archive to be
// readable.
func (w *Writer) Close() error {
	if err := w.zw.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	return nil
}
