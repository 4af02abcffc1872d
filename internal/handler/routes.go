package handler

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// maxUploadSize bounds request bodies; bulk zip uploads are the largest.
const maxUploadSize = "200M"

// NewRouter builds the echo instance: middleware, routes and the static
// mount serving uploaded blobs.
func NewRouter(h *GalleryHandler, uploadDir string, allowedOrigins []string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(maxUploadSize))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: allowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
	}))
	e.Use(requestLogger())

	e.GET("/healthz", h.handleHealthz)
	e.POST("/upload", h.handleUpload)
	e.GET("/images", h.handleListImages)
	e.POST("/upload-zip", h.handleUploadZip)
	e.POST("/update-label", h.handleUpdateLabel)
	e.GET("/download-all-images", h.handleDownloadAll)
	e.POST("/download-selected-images", h.handleDownloadSelected)
	e.POST("/clear-images", h.handleClearImages)

	e.Static("/uploads", uploadDir)

	return e
}

// requestLogger bridges echo's request logging into slog.
func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus: true,
		LogMethod: true,
		LogURI:    true,
		LogError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				slog.Error("request", "method", v.Method, "uri", v.URI, "status", v.Status, "error", v.Error)
			} else {
				slog.Info("request", "method", v.Method, "uri", v.URI, "status", v.Status)
			}
			return nil
		},
	})
}
