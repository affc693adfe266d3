package handlers

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/speech-insights/internal/pipeline"
	"github.com/codebuildervaibhav/speech-insights/internal/queue"
	"github.com/codebuildervaibhav/speech-insights/internal/stage"
	"github.com/codebuildervaibhav/speech-insights/internal/storage"
	"github.com/codebuildervaibhav/speech-insights/internal/types"
)

// Runner executes a pipeline run synchronously.
type Runner interface {
	Run(ctx context.Context, audioID int64) (*pipeline.Outcome, error)
	Locker() pipeline.Locker
}

// Enqueuer schedules a pipeline run in the background.
type Enqueuer interface {
	Enqueue(job *queue.Job) error
}

// AudioHandler handles audio intake, listing, deletion and processing triggers
type AudioHandler struct {
	store     *storage.SQLStore
	files     *storage.AudioFiles
	runner    Runner
	jobs      Enqueuer
	maxSizeMB int
	allowed   []string
	log       *logrus.Entry
}

// NewAudioHandler creates a new audio handler
func NewAudioHandler(store *storage.SQLStore, files *storage.AudioFiles, runner Runner, jobs Enqueuer, maxSizeMB int, allowed []string, log *logrus.Entry) *AudioHandler {
	if len(allowed) == 0 {
		allowed = stage.DefaultAudioFormats
	}
	return &AudioHandler{
		store:     store,
		files:     files,
		runner:    runner,
		jobs:      jobs,
		maxSizeMB: maxSizeMB,
		allowed:   allowed,
		log:       log.WithField("handler", "audio"),
	}
}

// Upload stores an uploaded file and creates a pending record.
// With process=true the pipeline is queued straight away.
func (h *AudioHandler) Upload(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "No file uploaded", "ERR_NO_FILE")
	}

	maxSize := int64(h.maxSizeMB) * 1024 * 1024
	if h.maxSizeMB > 0 && file.Size > maxSize {
		return errorJSON(c, fiber.StatusBadRequest, fmt.Sprintf("File too large (max %dMB)", h.maxSizeMB), "ERR_FILE_TOO_LARGE")
	}
	if file.Size == 0 {
		return errorJSON(c, fiber.StatusBadRequest, "Uploaded file is empty", "ERR_EMPTY_FILE")
	}
	if !stage.ValidateAudioFormat(file.Filename, h.allowed) {
		return errorJSON(c, fiber.StatusBadRequest, "Unsupported audio format", "ERR_INVALID_FORMAT")
	}

	original := storage.SanitizeFilename(file.Filename)
	stored, path, err := h.files.Allocate(original)
	if err != nil {
		return storeError(c, h.log, err)
	}
	if err := c.SaveFile(file, path); err != nil {
		h.log.WithError(err).Error("Failed to save uploaded file")
		return errorJSON(c, fiber.StatusInternalServerError, "Failed to save file", "ERR_SAVE_FAILED")
	}

	rec := &types.AudioRecord{
		OriginalFilename: original,
		StoredFilename:   stored,
		FilePath:         path,
		SizeBytes:        file.Size,
		Format:           strings.TrimPrefix(strings.ToLower(filepath.Ext(original)), "."),
	}
	if err := h.store.Create(c.UserContext(), rec); err != nil {
		_ = h.files.Remove(path)
		return storeError(c, h.log, err)
	}
	h.log.WithFields(logrus.Fields{"audio_id": rec.ID, "file": original, "size_bytes": rec.SizeBytes}).Info("audio uploaded")

	resp := fiber.Map{"audio": rec}
	if c.QueryBool("process") {
		job := queue.NewJob(rec.ID, queue.SourceUpload)
		if err := h.jobs.Enqueue(job); err != nil {
			resp["process_error"] = err.Error()
		} else {
			resp["job_id"] = job.ID
		}
	}
	return c.Status(fiber.StatusCreated).JSON(resp)
}

// List returns records newest first, optionally filtered by status.
func (h *AudioHandler) List(c *fiber.Ctx) error {
	status := types.Status(c.Query("status"))
	if status != "" && !status.Valid() {
		return errorJSON(c, fiber.StatusBadRequest, "Unknown status filter", "ERR_INVALID_STATUS")
	}
	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > 500 {
		return errorJSON(c, fiber.StatusBadRequest, "limit must be between 1 and 500", "ERR_INVALID_LIMIT")
	}
	offset := c.QueryInt("offset", 0)
	if offset < 0 {
		return errorJSON(c, fiber.StatusBadRequest, "offset must not be negative", "ERR_INVALID_OFFSET")
	}

	records, total, err := h.store.List(c.UserContext(), storage.ListFilter{Status: status, Limit: limit, Offset: offset})
	if err != nil {
		return storeError(c, h.log, err)
	}
	return c.JSON(fiber.Map{
		"items":  records,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// Get returns one record.
func (h *AudioHandler) Get(c *fiber.Ctx) error {
	id, ok := audioID(c)
	if !ok {
		return nil
	}
	rec, err := h.store.Get(c.UserContext(), id)
	if err != nil {
		return storeError(c, h.log, err)
	}
	return c.JSON(rec)
}

// Delete removes a record, its results and its file. A record with a run in
// flight is refused.
func (h *AudioHandler) Delete(c *fiber.Ctx) error {
	id, ok := audioID(c)
	if !ok {
		return nil
	}
	ctx := c.UserContext()

	unlock, held, err := h.runner.Locker().TryLock(ctx, id)
	if err != nil {
		return storeError(c, h.log, err)
	}
	if !held {
		return storeError(c, h.log, types.ErrConflict)
	}
	defer unlock()

	rec, err := h.store.Get(ctx, id)
	if err != nil {
		return storeError(c, h.log, err)
	}
	if err := h.store.Delete(ctx, id); err != nil {
		return storeError(c, h.log, err)
	}
	if err := h.files.Remove(rec.FilePath); err != nil {
		h.log.WithError(err).WithField("audio_id", id).Warn("Failed to remove audio file")
	}
	h.log.WithField("audio_id", id).Info("audio deleted")
	return c.SendStatus(fiber.StatusNoContent)
}

// Process starts a pipeline run. With wait=true it blocks until the run is
// terminal and returns the outcome; otherwise the run is queued and 202 is
// returned at once with the record's current status. A record whose run is
// in flight is refused with 409 either way.
func (h *AudioHandler) Process(c *fiber.Ctx) error {
	id, ok := audioID(c)
	if !ok {
		return nil
	}
	ctx := c.UserContext()

	if c.QueryBool("wait") {
		out, err := h.runner.Run(ctx, id)
		if err != nil {
			return storeError(c, h.log, err)
		}
		return c.JSON(out)
	}

	rec, err := h.store.Get(ctx, id)
	if err != nil {
		return storeError(c, h.log, err)
	}
	// a queued job would only be dropped by the worker, so refuse up front
	unlock, free, err := h.runner.Locker().TryLock(ctx, id)
	if err != nil {
		return storeError(c, h.log, err)
	}
	if !free {
		return storeError(c, h.log, types.ErrConflict)
	}
	unlock()

	job := queue.NewJob(id, queue.SourceProcess)
	if err := h.jobs.Enqueue(job); err != nil {
		if errors.Is(err, queue.ErrQueueFull) || errors.Is(err, queue.ErrStopped) {
			return errorJSON(c, fiber.StatusServiceUnavailable, err.Error(), "ERR_QUEUE_UNAVAILABLE")
		}
		return storeError(c, h.log, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"audio_id": id,
		"job_id":   job.ID,
		"status":   rec.Status,
		"message":  "Processing queued",
	})
}
