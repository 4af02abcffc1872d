// Package archive reads uploaded zip archives and builds export archives.
package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/gallerybox/gallerybox/internal/domain"
)

// imageExtensions is the allow-list of archive entry extensions that are
// treated as images. Matching is case-insensitive.
var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
}

// macosMetadataPrefix marks resource-fork folders that macOS zips carry.
const macosMetadataPrefix = "__MACOSX"

// Entry is one image file extracted from an archive.
type Entry struct {
	Name string // Original path inside the archive
	Data []byte
}

// Reader walks the image entries of a zip archive in a single pass,
// skipping directories, hidden files, system metadata and non-image
// extensions. It is not restartable.
type Reader struct {
	files []*zip.File
	pos   int
}

// NewReader parses the given bytes as a zip archive. Invalid input yields
// domain.ErrMalformedArchive.
func NewReader(data []byte) (*Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedArchive, err)
	}
	return &Reader{files: zr.File}, nil
}

// Next returns the next surviving entry, or io.EOF when the archive is
// exhausted. Filtered-out entries are skipped silently.
func (r *Reader) Next() (*Entry, error) {
	for r.pos < len(r.files) {
		f := r.files[r.pos]
		r.pos++

		if !keep(f) {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open archive entry %s: %w", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read archive entry %s: %w", f.Name, err)
		}

		return &Entry{Name: f.Name, Data: data}, nil
	}
	return nil, io.EOF
}

func keep(f *zip.File) bool {
	name := f.Name
	if f.FileInfo().IsDir() {
		return false
	}
	if strings.HasPrefix(name, macosMetadataPrefix) {
		slog.Debug("skipping system metadata entry", "name", name)
		return false
	}
	if strings.HasPrefix(path.Base(name), ".") {
		slog.Debug("skipping hidden entry", "name", name)
		return false
	}
	if !imageExtensions[strings.ToLower(path.Ext(name))] {
		slog.Debug("skipping non-image entry", "name", name)
		return false
	}
	return true
}
