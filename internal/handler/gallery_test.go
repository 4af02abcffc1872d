package handler_test

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gallerybox/gallerybox/internal/blob"
	"github.com/gallerybox/gallerybox/internal/handler"
	"github.com/gallerybox/gallerybox/internal/repository/sqlite"
	"github.com/gallerybox/gallerybox/internal/service"
	"github.com/labstack/echo/v4"
)

const testBaseURL = "http://gallery.test"

type testServer struct {
	e      *echo.Echo
	ingest *service.IngestService
}

func newTestServer(t *testing.T, spoolDir string, exportTTL time.Duration) *testServer {
	t.Helper()

	db, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	blobs, err := blob.NewFSStore(filepath.Join(t.TempDir(), "uploads"))
	if err != nil {
		t.Fatalf("create blob store: %v", err)
	}

	images := db.Images()
	imageService := service.NewImageService(images, blobs, testBaseURL)
	ingestService := service.NewIngestService(images, blobs)
	exportService := service.NewExportService(images, blobs)
	janitor := service.NewJanitor()
	t.Cleanup(janitor.Stop)

	h := handler.NewGalleryHandler(imageService, ingestService, exportService, janitor, spoolDir, exportTTL)
	e := handler.NewRouter(h, blobs.Root(), []string{"*"})

	return &testServer{e: e, ingest: ingestService}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

// multipartBody builds a multipart form with the given field→(filename,
// content) files.
func multipartBody(t *testing.T, field string, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for filename, content := range files {
		fw, err := mw.CreateFormFile(field, filename)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := fw.Write([]byte(content)); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func uploadImages(t *testing.T, s *testServer, files map[string]string) []string {
	t.Helper()
	body, contentType := multipartBody(t, "images", files)
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set(echo.HeaderContentType, contentType)
	rec := s.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("upload: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Filenames []string `json:"filenames"`
	}
	decodeJSON(t, rec, &resp)
	return resp.Filenames
}

type listResponse struct {
	Images []struct {
		ID    int64  `json:"id"`
		URL   string `json:"url"`
		Label string `json:"label"`
	} `json:"images"`
	Total int `json:"total"`
}

func listImages(t *testing.T, s *testServer, query string) listResponse {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/images"+query, nil)
	rec := s.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp listResponse
	decodeJSON(t, rec, &resp)
	return resp
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, "", time.Minute)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestUpload(t *testing.T) {
	s := newTestServer(t, "", time.Minute)

	filenames := uploadImages(t, s, map[string]string{
		"cat.png": "cat bytes",
		"dog.jpg": "dog bytes",
	})
	if len(filenames) != 2 {
		t.Fatalf("expected 2 filenames, got %d", len(filenames))
	}

	resp := listImages(t, s, "")
	if resp.Total != 2 {
		t.Fatalf("expected total 2, got %d", resp.Total)
	}
}

func TestUpload_NoFiles(t *testing.T) {
	s := newTestServer(t, "", time.Minute)

	body, contentType := multipartBody(t, "images", nil)
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set(echo.HeaderContentType, contentType)
	rec := s.do(req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestListImages_PaginationAndURLs(t *testing.T) {
	s := newTestServer(t, "", time.Minute)
	uploadImages(t, s, map[string]string{
		"a.png": "a",
		"b.png": "b",
		"c.png": "c",
	})

	resp := listImages(t, s, "?page=1&limit=2")
	if resp.Total != 3 {
		t.Fatalf("expected total 3, got %d", resp.Total)
	}
	if len(resp.Images) != 2 {
		t.Fatalf("expected 2 images on page, got %d", len(resp.Images))
	}
	for i, img := range resp.Images {
		if !strings.HasPrefix(img.URL, testBaseURL+"/uploads/") {
			t.Errorf("expected absolute URL, got %q", img.URL)
		}
		if img.Label != "unlabeled" {
			t.Errorf("expected default label, got %q", img.Label)
		}
		if i > 0 && resp.Images[i-1].ID >= img.ID {
			t.Error("expected ids in ascending order")
		}
	}

	page2 := listImages(t, s, "?page=2&limit=2")
	if len(page2.Images) != 1 {
		t.Fatalf("expected 1 image on page 2, got %d", len(page2.Images))
	}
}

func TestUploadZip(t *testing.T) {
	s := newTestServer(t, "", time.Minute)

	data := buildZip(t, map[string]string{
		"cat.png":            "cat",
		"__MACOSX/._cat.png": "fork",
		".hidden.jpg":        "hidden",
		"dog.PNG":            "dog",
		"notes.txt":          "text",
	})
	body, contentType := multipartBody(t, "zipfile", map[string]string{"upload.zip": string(data)})

	req := httptest.NewRequest(http.MethodPost, "/upload-zip", body)
	req.Header.Set(echo.HeaderContentType, contentType)
	rec := s.do(req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Message string `json:"message"`
	}
	decodeJSON(t, rec, &resp)
	if resp.Message != "started" {
		t.Fatalf("expected started message, got %q", resp.Message)
	}

	// The listing catches up once background ingestion drains.
	s.ingest.Wait()
	list := listImages(t, s, "")
	if list.Total != 2 {
		t.Fatalf("expected total 2 after ingestion, got %d", list.Total)
	}
}

func TestUploadZip_ReplacesDirectUploads(t *testing.T) {
	s := newTestServer(t, "", time.Minute)
	uploadImages(t, s, map[string]string{"old.png": "old"})

	data := buildZip(t, map[string]string{"new.png": "new"})
	body, contentType := multipartBody(t, "zipfile", map[string]string{"upload.zip": string(data)})
	req := httptest.NewRequest(http.MethodPost, "/upload-zip", body)
	req.Header.Set(echo.HeaderContentType, contentType)
	if rec := s.do(req); rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}

	s.ingest.Wait()
	list := listImages(t, s, "")
	if list.Total != 1 {
		t.Fatalf("expected bulk ingest to replace gallery, total=%d", list.Total)
	}
}

func TestUploadZip_Malformed(t *testing.T) {
	s := newTestServer(t, "", time.Minute)

	body, contentType := multipartBody(t, "zipfile", map[string]string{"bad.zip": "not a zip"})
	req := httptest.NewRequest(http.MethodPost, "/upload-zip", body)
	req.Header.Set(echo.HeaderContentType, contentType)
	rec := s.do(req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUpdateLabel(t *testing.T) {
	s := newTestServer(t, "", time.Minute)
	uploadImages(t, s, map[string]string{"a.png": "a"})
	id := listImages(t, s, "").Images[0].ID

	update := func(id int64, label string) *httptest.ResponseRecorder {
		payload, _ := json.Marshal(map[string]any{"image_id": id, "label": label})
		req := httptest.NewRequest(http.MethodPost, "/update-label", bytes.NewReader(payload))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		return s.do(req)
	}

	if rec := update(id, "cats"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := listImages(t, s, "").Images[0].Label; got != "cats" {
		t.Fatalf("expected label cats, got %q", got)
	}

	// Relabeling overwrites in place.
	if rec := update(id, "dogs"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	list := listImages(t, s, "")
	if list.Total != 1 || list.Images[0].Label != "dogs" {
		t.Fatalf("expected single record labeled dogs, got total=%d label=%q", list.Total, list.Images[0].Label)
	}
}

func TestUpdateLabel_NotFound(t *testing.T) {
	s := newTestServer(t, "", time.Minute)

	payload, _ := json.Marshal(map[string]any{"image_id": 1234, "label": "cats"})
	req := httptest.NewRequest(http.MethodPost, "/update-label", bytes.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := s.do(req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func readZipNames(t *testing.T, data []byte) []string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open downloaded archive: %v", err)
	}
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	return names
}

func TestDownloadSelected(t *testing.T) {
	s := newTestServer(t, "", time.Minute)
	uploadImages(t, s, map[string]string{"a.png": "a", "b.png": "b", "c.png": "c"})
	list := listImages(t, s, "")

	payload, _ := json.Marshal(map[string]any{
		"selectedIds": []int64{list.Images[0].ID, list.Images[2].ID, 9999},
	})
	req := httptest.NewRequest(http.MethodPost, "/download-selected-images", bytes.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := s.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "application/zip" {
		t.Fatalf("expected zip content type, got %q", ct)
	}

	names := readZipNames(t, rec.Body.Bytes())
	if len(names) != 2 {
		t.Fatalf("expected 2 entries (intersection with existing ids), got %d", len(names))
	}
	for _, name := range names {
		if strings.ContainsRune(name, '/') {
			t.Fatalf("expected flat archive, got %q", name)
		}
	}
}

func TestDownloadSelected_NoneSelected(t *testing.T) {
	s := newTestServer(t, "", time.Minute)

	payload, _ := json.Marshal(map[string]any{"selectedIds": []int64{}})
	req := httptest.NewRequest(http.MethodPost, "/download-selected-images", bytes.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if rec := s.do(req); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestDownloadAll_GroupedByLabel(t *testing.T) {
	s := newTestServer(t, "", time.Minute)
	uploadImages(t, s, map[string]string{"a.png": "a", "b.png": "b"})
	list := listImages(t, s, "")

	payload, _ := json.Marshal(map[string]any{"image_id": list.Images[0].ID, "label": "cats"})
	req := httptest.NewRequest(http.MethodPost, "/update-label", bytes.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if rec := s.do(req); rec.Code != http.StatusOK {
		t.Fatalf("label update failed: %d", rec.Code)
	}

	rec := s.do(httptest.NewRequest(http.MethodGet, "/download-all-images", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	names := readZipNames(t, rec.Body.Bytes())
	if len(names) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(names))
	}
	dirs := map[string]bool{}
	for _, name := range names {
		parts := strings.SplitN(name, "/", 2)
		if len(parts) != 2 {
			t.Fatalf("expected label directory in %q", name)
		}
		dirs[parts[0]] = true
	}
	if !dirs["cats"] || !dirs["unlabeled"] {
		t.Fatalf("expected cats and unlabeled directories, got %v", dirs)
	}

	// Scoped to one label.
	rec = s.do(httptest.NewRequest(http.MethodGet, "/download-all-images?labels=cats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if names := readZipNames(t, rec.Body.Bytes()); len(names) != 1 {
		t.Fatalf("expected 1 scoped entry, got %d", len(names))
	}
}

func TestDownloadAll_Empty(t *testing.T) {
	s := newTestServer(t, "", time.Minute)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/download-all-images", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for empty gallery, got %d", rec.Code)
	}
	var resp struct {
		Error string `json:"error"`
	}
	decodeJSON(t, rec, &resp)
	if resp.Error == "" {
		t.Fatal("expected error payload")
	}
}

func TestDownloadAll_Spooled(t *testing.T) {
	spoolDir := t.TempDir()
	s := newTestServer(t, spoolDir, 30*time.Millisecond)
	uploadImages(t, s, map[string]string{"a.png": "a"})

	rec := s.do(httptest.NewRequest(http.MethodGet, "/download-all-images", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if names := readZipNames(t, rec.Body.Bytes()); len(names) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(names))
	}

	// The spooled archive is purged after the TTL even though it was
	// downloaded successfully.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		entries, err := os.ReadDir(spoolDir)
		if err != nil {
			t.Fatalf("read spool dir: %v", err)
		}
		if len(entries) == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("spooled archive was not cleaned up")
}

func TestClearImages_Idempotent(t *testing.T) {
	s := newTestServer(t, "", time.Minute)
	uploadImages(t, s, map[string]string{"a.png": "a", "b.png": "b"})

	for i := 0; i < 2; i++ {
		rec := s.do(httptest.NewRequest(http.MethodPost, "/clear-images", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("clear %d: expected 200, got %d", i+1, rec.Code)
		}
		if list := listImages(t, s, ""); list.Total != 0 {
			t.Fatalf("clear %d: expected empty gallery, got %d", i+1, list.Total)
		}
	}
}

func TestStaticUploads(t *testing.T) {
	s := newTestServer(t, "", time.Minute)
	filenames := uploadImages(t, s, map[string]string{"a.png": "the image bytes"})

	rec := s.do(httptest.NewRequest(http.MethodGet, "/uploads/"+filenames[0], nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 serving blob, got %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if string(body) != "the image bytes" {
		t.Fatalf("unexpected blob body %q", body)
	}
}
