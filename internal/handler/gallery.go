// Package handler exposes the gallery over HTTP using echo.
package handler

import (
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gallerybox/gallerybox/internal/domain"
	"github.com/gallerybox/gallerybox/internal/service"
	"github.com/labstack/echo/v4"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// GalleryHandler handles all gallery endpoints.
type GalleryHandler struct {
	images  *service.ImageService
	ingest  *service.IngestService
	export  *service.ExportService
	janitor *service.Janitor

	// spoolDir, when set, switches export downloads from in-memory
	// streaming to serve-from-disk with delayed cleanup.
	spoolDir  string
	exportTTL time.Duration
}

// NewGalleryHandler creates a new GalleryHandler.
func NewGalleryHandler(images *service.ImageService, ingest *service.IngestService, export *service.ExportService, janitor *service.Janitor, spoolDir string, exportTTL time.Duration) *GalleryHandler {
	return &GalleryHandler{
		images:    images,
		ingest:    ingest,
		export:    export,
		janitor:   janitor,
		spoolDir:  spoolDir,
		exportTTL: exportTTL,
	}
}

type imageDTO struct {
	ID    int64  `json:"id"`
	URL   string `json:"url"`
	Label string `json:"label"`
}

// handleUpload accepts a multipart batch of image files and stores each one.
// The batch is all-or-nothing: any failure aborts the request.
// POST /upload
func (h *GalleryHandler) handleUpload(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "expected multipart form data"})
	}

	headers := form.File["images"]
	if len(headers) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "no images provided"})
	}

	files := make([]service.UploadFile, 0, len(headers))
	for _, fh := range headers {
		data, err := readFormFile(fh)
		if err != nil {
			slog.Error("read uploaded file", "filename", fh.Filename, "error", err)
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to read uploaded file"})
		}
		files = append(files, service.UploadFile{Name: fh.Filename, Data: data})
	}

	filenames, err := h.images.Upload(c.Request().Context(), files)
	if err != nil {
		slog.Error("upload images", "count", len(files), "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to upload images"})
	}

	slog.Info("uploaded images", "count", len(filenames))
	return c.JSON(http.StatusOK, echo.Map{"filenames": filenames})
}

// handleListImages returns one page of the gallery ordered by id.
// GET /images?page=&limit=
func (h *GalleryHandler) handleListImages(c echo.Context) error {
	page := queryInt(c, "page", 1)
	limit := queryInt(c, "limit", defaultPageLimit)
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	records, total, err := h.images.List(c.Request().Context(), page, limit)
	if err != nil {
		slog.Error("list images", "page", page, "limit", limit, "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list images"})
	}

	images := make([]imageDTO, 0, len(records))
	for _, r := range records {
		images = append(images, imageDTO{ID: r.ID, URL: r.URL, Label: r.Label})
	}
	return c.JSON(http.StatusOK, echo.Map{"images": images, "total": total})
}

// handleUploadZip accepts a zip archive, clears the gallery and kicks off
// background ingestion. The response only acknowledges the start; results
// become visible through the listing endpoint as entries land.
// POST /upload-zip
func (h *GalleryHandler) handleUploadZip(c echo.Context) error {
	fh, err := c.FormFile("zipfile")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "no zip file provided"})
	}

	data, err := readFormFile(fh)
	if err != nil {
		slog.Error("read zip upload", "filename", fh.Filename, "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to read zip file"})
	}
	slog.Info("received zip upload", "filename", fh.Filename, "size", len(data))

	if err := h.ingest.Start(data); err != nil {
		if errors.Is(err, domain.ErrMalformedArchive) {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "not a valid zip archive"})
		}
		slog.Error("start ingestion", "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to start ingestion"})
	}

	return c.JSON(http.StatusAccepted, echo.Map{"message": "started"})
}

// handleUpdateLabel overwrites the label of one image.
// POST /update-label
func (h *GalleryHandler) handleUpdateLabel(c echo.Context) error {
	var req struct {
		ImageID int64  `json:"image_id"`
		Label   string `json:"label"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	if err := h.images.UpdateLabel(c.Request().Context(), req.ImageID, req.Label); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "image not found"})
		}
		slog.Error("update label", "id", req.ImageID, "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to update label"})
	}

	return c.JSON(http.StatusOK, echo.Map{"message": "label updated"})
}

// handleDownloadAll streams a zip of the whole gallery grouped into
// label-named directories. An optional comma-separated labels query scopes
// the export to those labels.
// GET /download-all-images?labels=
func (h *GalleryHandler) handleDownloadAll(c echo.Context) error {
	var labels []string
	if raw := c.QueryParam("labels"); raw != "" {
		labels = splitLabels(raw)
	}

	if h.spoolDir != "" {
		return h.downloadSpooled(c, labels)
	}

	return h.stream(c, "labeled_images.zip", func(w io.Writer) error {
		return h.export.ExportAll(c.Request().Context(), w, labels...)
	})
}

// handleDownloadSelected streams a flat zip of the images with the given
// ids. Ids without a record are ignored; missing blobs are skipped.
// POST /download-selected-images
func (h *GalleryHandler) handleDownloadSelected(c echo.Context) error {
	var req struct {
		SelectedIDs []int64 `json:"selectedIds"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if len(req.SelectedIDs) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "no image ids selected"})
	}

	return h.stream(c, "selected_images.zip", func(w io.Writer) error {
		return h.export.ExportByIDs(c.Request().Context(), w, req.SelectedIDs)
	})
}

// handleClearImages wipes every record and blob.
// POST /clear-images
func (h *GalleryHandler) handleClearImages(c echo.Context) error {
	if err := h.images.Clear(c.Request().Context()); err != nil {
		slog.Error("clear images", "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to clear images"})
	}
	slog.Info("cleared all images")
	return c.JSON(http.StatusOK, echo.Map{"message": "all images cleared"})
}

// handleHealthz reports liveness.
// GET /healthz
func (h *GalleryHandler) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}

// stream writes a zip archive straight onto the response. Headers are set
// up front but the status line is only committed by the archive's first
// byte, so an empty selection can still produce a clean 404.
func (h *GalleryHandler) stream(c echo.Context, filename string, build func(io.Writer) error) error {
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "application/zip")
	res.Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+filename+`"`)

	err := build(res)
	if err == nil {
		return nil
	}
	if res.Committed {
		// Too late to change the status; the archive is truncated.
		slog.Error("export failed mid-stream", "error", err)
		return nil
	}
	res.Header().Del(echo.HeaderContentType)
	res.Header().Del(echo.HeaderContentDisposition)
	if errors.Is(err, domain.ErrNoImages) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "no images to export"})
	}
	slog.Error("export images", "error", err)
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to export images"})
}

// downloadSpooled writes the archive to the spool directory, serves it from
// disk and schedules its removal after the configured delay.
func (h *GalleryHandler) downloadSpooled(c echo.Context, labels []string) error {
	path, err := h.export.ExportAllToFile(c.Request().Context(), h.spoolDir, labels...)
	if err != nil {
		if errors.Is(err, domain.ErrNoImages) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "no images to export"})
		}
		slog.Error("spool export archive", "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to export images"})
	}

	h.janitor.Schedule(path, h.exportTTL)
	return c.Attachment(path, "labeled_images.zip")
}

func readFormFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func queryInt(c echo.Context, name string, fallback int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return fallback
	}
	return v
}

func splitLabels(raw string) []string {
	var labels []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			labels = append(labels, part)
		}
	}
	return labels
}
