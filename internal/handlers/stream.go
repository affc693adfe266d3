package handlers

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/speech-insights/internal/analysis"
	"github.com/codebuildervaibhav/speech-insights/internal/queue"
	"github.com/codebuildervaibhav/speech-insights/internal/storage"
	"github.com/codebuildervaibhav/speech-insights/internal/types"
)

// Progress is pushed to analysis watchers whenever something changes.
type Progress struct {
	AudioID            int64                              `json:"audio_id"`
	Status             types.Status                       `json:"status"`
	ProcessingComplete bool                               `json:"processing_complete"`
	ErrorMessage       *string                            `json:"error_message,omitempty"`
	Stages             map[types.StageKind]analysis.State `json:"stages"`
}

// NewProgress summarizes a composite view for watchers.
func NewProgress(view *analysis.CompositeView) *Progress {
	return &Progress{
		AudioID:            view.Audio.ID,
		Status:             view.Audio.Status,
		ProcessingComplete: view.ProcessingComplete,
		ErrorMessage:       view.Audio.ErrorMessage,
		Stages:             view.StageStates(),
	}
}

// Same reports whether o carries the same status and stage states.
func (p *Progress) Same(o *Progress) bool {
	if o == nil || p.Status != o.Status || len(p.Stages) != len(o.Stages) {
		return false
	}
	for k, s := range p.Stages {
		if o.Stages[k] != s {
			return false
		}
	}
	return true
}

// StreamHandler handles WebSocket connections: live analysis progress and
// chunked audio ingest
type StreamHandler struct {
	reader       *analysis.Reader
	store        *storage.SQLStore
	files        *storage.AudioFiles
	jobs         Enqueuer
	maxSizeMB    int
	pollInterval time.Duration
	log          *logrus.Entry
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(reader *analysis.Reader, store *storage.SQLStore, files *storage.AudioFiles, jobs Enqueuer, maxSizeMB int, pollInterval time.Duration, log *logrus.Entry) *StreamHandler {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &StreamHandler{
		reader:       reader,
		store:        store,
		files:        files,
		jobs:         jobs,
		maxSizeMB:    maxSizeMB,
		pollInterval: pollInterval,
		log:          log.WithField("handler", "stream"),
	}
}

// Watch pushes a Progress message each time the record's state changes and
// closes once the record reaches a terminal status.
func (h *StreamHandler) Watch(c *websocket.Conn) {
	defer c.Close()

	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		_ = c.WriteJSON(fiber.Map{"error": "Invalid audio id", "code": "ERR_INVALID_ID"})
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// the client never sends anything useful; a read error means it left
	go func() {
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	var last *Progress
	for {
		view, err := h.reader.GetFullAnalysis(ctx, id)
		switch {
		case errors.Is(err, types.ErrNotFound):
			_ = c.WriteJSON(fiber.Map{"error": "Audio record not found", "code": "ERR_NOT_FOUND"})
			return
		case err != nil:
			if ctx.Err() == nil {
				h.log.WithError(err).WithField("audio_id", id).Error("watch read failed")
			}
			return
		}

		p := NewProgress(view)
		if !p.Same(last) {
			if err := c.WriteJSON(p); err != nil {
				return
			}
			last = p
		}
		if p.Status.Terminal() {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Ingest receives audio over a WebSocket: an optional text message names the
// recording, binary messages carry audio, and "END" finishes the upload. The
// recording is stored, a record is created and processing is queued.
func (h *StreamHandler) Ingest(c *websocket.Conn) {
	defer c.Close()

	var (
		buffer      bytes.Buffer
		requestName string
		maxSize     = int64(h.maxSizeMB) * 1024 * 1024
	)

	for {
		messageType, message, err := c.ReadMessage()
		if err != nil {
			h.log.WithError(err).Debug("stream closed before END")
			return
		}

		if messageType == websocket.TextMessage {
			msg := string(message)
			if msg == "END" {
				break
			}
			if len(msg) > 0 && len(msg) < 200 {
				requestName = msg
			}
			continue
		}

		if messageType == websocket.BinaryMessage {
			buffer.Write(message)
			if maxSize > 0 && int64(buffer.Len()) > maxSize {
				_ = c.WriteJSON(fiber.Map{"error": "Stream too large", "code": "ERR_FILE_TOO_LARGE"})
				return
			}
		}
	}

	if buffer.Len() == 0 {
		_ = c.WriteJSON(fiber.Map{"error": "No audio data received", "code": "ERR_EMPTY_FILE"})
		return
	}
	if requestName == "" {
		requestName = "stream_recording"
	}

	original := storage.SanitizeFilename(requestName) + ".webm"
	stored, path, err := h.files.Allocate(original)
	if err == nil {
		err = os.WriteFile(path, buffer.Bytes(), 0644)
	}
	if err != nil {
		h.log.WithError(err).Error("Failed to save stream buffer")
		_ = c.WriteJSON(fiber.Map{"error": "Failed to save stream", "code": "ERR_SAVE_FAILED"})
		return
	}

	rec := &types.AudioRecord{
		OriginalFilename: original,
		StoredFilename:   stored,
		FilePath:         path,
		SizeBytes:        int64(buffer.Len()),
		Format:           "webm",
	}
	ctx := context.Background()
	if err := h.store.Create(ctx, rec); err != nil {
		_ = h.files.Remove(path)
		h.log.WithError(err).Error("Failed to create record for stream")
		_ = c.WriteJSON(fiber.Map{"error": "Internal server error", "code": "ERR_INTERNAL"})
		return
	}
	h.log.WithFields(logrus.Fields{"audio_id": rec.ID, "size_bytes": rec.SizeBytes}).Info("stream saved")

	resp := fiber.Map{"audio_id": rec.ID, "status": rec.Status}
	job := queue.NewJob(rec.ID, queue.SourceUpload)
	if err := h.jobs.Enqueue(job); err != nil {
		resp["process_error"] = err.Error()
	} else {
		resp["job_id"] = job.ID
	}
	_ = c.WriteJSON(resp)
}
