package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/speech-insights/internal/queue"
	"github.com/codebuildervaibhav/speech-insights/internal/storage"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// StatsSource reports worker pool counters.
type StatsSource interface {
	Stats() queue.Stats
}

// LogSource returns recently captured log lines.
type LogSource interface {
	GetLogs() []string
}

// SystemHandler serves health and log endpoints
type SystemHandler struct {
	store *storage.SQLStore
	pool  StatsSource
	logs  LogSource
	log   *logrus.Entry
}

// NewSystemHandler creates a new system handler. pool and logs may be nil.
func NewSystemHandler(store *storage.SQLStore, pool StatsSource, logs LogSource, log *logrus.Entry) *SystemHandler {
	return &SystemHandler{
		store: store,
		pool:  pool,
		logs:  logs,
		log:   log.WithField("handler", "system"),
	}
}

// Health reports database reachability, record counts and queue counters.
func (h *SystemHandler) Health(c *fiber.Ctx) error {
	ctx := c.UserContext()
	if err := h.store.Ping(ctx); err != nil {
		h.log.WithError(err).Warn("health check: database unreachable")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status":  "unhealthy",
			"version": Version,
			"error":   "database unreachable",
		})
	}

	resp := fiber.Map{
		"status":  "healthy",
		"version": Version,
	}
	if counts, err := h.store.CountByStatus(ctx); err == nil {
		resp["records"] = counts
	} else {
		h.log.WithError(err).Warn("health check: count failed")
	}
	if h.pool != nil {
		resp["queue"] = h.pool.Stats()
	}
	return c.JSON(resp)
}

// Logs returns the captured server logs.
func (h *SystemHandler) Logs(c *fiber.Ctx) error {
	logs := []string{}
	if h.logs != nil {
		logs = h.logs.GetLogs()
	}
	return c.JSON(fiber.Map{"logs": logs})
}
