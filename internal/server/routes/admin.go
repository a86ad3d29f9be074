package routes

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/insightlab/causal/backend/internal/queue"
	"github.com/insightlab/causal/backend/internal/server/middleware"
	"github.com/insightlab/causal/backend/internal/storage"
	"github.com/insightlab/causal/backend/pkg/causal"
	"github.com/insightlab/causal/backend/pkg/logger"
	"github.com/insightlab/causal/backend/pkg/store"

	_ "github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// ReloadGraphHandler reloads the graph from its source and reports the new
// snapshot. A failed reload keeps serving the previous graph.
func ReloadGraphHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App

	g, err := app.Reload(c.Request().Context(), "api")
	if errors.Is(err, causal.ErrNoSource) {
		return c.JSON(http.StatusConflict, map[string]string{"error": "Graph has no source to reload from"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to reload graph"})
	}
	return c.JSON(http.StatusOK, graphInfo(app, g))
}

type importResponse struct {
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id,omitempty"`
	BucketKey     string `json:"bucket_key,omitempty"`
}

// ImportGraphHandler queues a graph import for the worker. The document is
// either uploaded as multipart field "file", which is stored in the bucket
// first, or referenced by "bucket_key" in a JSON body.
func ImportGraphHandler(c echo.Context) error {
	type importBody struct {
		BucketKey string `json:"bucket_key" validate:"required"`
	}

	app := c.(*middleware.AppContext).App
	if app.Queue == nil {
		return c.JSON(http.StatusServiceUnavailable, importResponse{Message: "Import queue not configured"})
	}

	ctx := c.Request().Context()
	correlationID, err := gonanoid.New()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, importResponse{Message: "Internal server error"})
	}

	var bucketKey string
	if fileHeader, err := c.FormFile("file"); err == nil {
		if app.S3 == nil || app.Bucket == "" {
			return c.JSON(http.StatusServiceUnavailable, importResponse{Message: "Object storage not configured"})
		}

		file, err := fileHeader.Open()
		if err != nil {
			return c.JSON(http.StatusBadRequest, importResponse{Message: "Invalid upload"})
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return c.JSON(http.StatusBadRequest, importResponse{Message: "Invalid upload"})
		}

		format := store.FormatFromPath(fileHeader.Filename)
		if _, err := store.ParseDefinition(data, format); err != nil {
			return c.JSON(http.StatusBadRequest, importResponse{Message: "Invalid graph document: " + err.Error()})
		}

		ext := filepath.Ext(fileHeader.Filename)
		if ext == "" {
			ext = ".json"
		}
		bucketKey = "imports/" + correlationID + ext
		if err := storage.PutFile(ctx, app.S3, app.Bucket, bucketKey, data); err != nil {
			logger.Error("[Server] Failed to upload graph document", "key", bucketKey, "err", err)
			return c.JSON(http.StatusInternalServerError, importResponse{Message: "Failed to store upload"})
		}
	} else {
		data := new(importBody)
		if err := c.Bind(data); err != nil {
			return c.JSON(http.StatusBadRequest, importResponse{Message: "Invalid request body"})
		}
		if err := c.Validate(data); err != nil {
			return c.JSON(http.StatusBadRequest, importResponse{Message: "Invalid request body"})
		}
		bucketKey = data.BucketKey
	}

	msg, err := json.Marshal(queue.ImportMessage{
		CorrelationID: correlationID,
		BucketKey:     bucketKey,
		RequestedAt:   time.Now().UTC(),
	})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, importResponse{Message: "Internal server error"})
	}
	if err := queue.PublishFIFO(ctx, app.Queue, queue.ImportQueue, msg); err != nil {
		logger.Error("[Server] Failed to enqueue graph import", "correlation_id", correlationID, "err", err)
		return c.JSON(http.StatusInternalServerError, importResponse{Message: "Failed to enqueue import"})
	}

	logger.Info("[Server] Graph import queued", "correlation_id", correlationID, "bucket_key", bucketKey)
	return c.JSON(http.StatusAccepted, importResponse{
		Message:       "Import queued",
		CorrelationID: correlationID,
		BucketKey:     bucketKey,
	})
}
