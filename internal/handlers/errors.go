package handlers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/speech-insights/internal/types"
)

func errorJSON(c *fiber.Ctx, status int, msg, code string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": msg,
		"code":  code,
	})
}

// storeError maps domain errors to HTTP responses and logs anything unexpected.
func storeError(c *fiber.Ctx, log *logrus.Entry, err error) error {
	switch {
	case errors.Is(err, types.ErrNotFound):
		return errorJSON(c, fiber.StatusNotFound, "Audio record not found", "ERR_NOT_FOUND")
	case errors.Is(err, types.ErrConflict):
		return errorJSON(c, fiber.StatusConflict, "A pipeline run is already in progress for this record", "ERR_CONFLICT")
	}
	log.WithError(err).WithField("path", c.Path()).Error("request failed")
	return errorJSON(c, fiber.StatusInternalServerError, "Internal server error", "ERR_INTERNAL")
}

// audioID parses the :id route parameter; ok is false once a 400 has been sent.
func audioID(c *fiber.Ctx) (id int64, ok bool) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		_ = errorJSON(c, fiber.StatusBadRequest, "Invalid audio id", "ERR_INVALID_ID")
		return 0, false
	}
	return id, true
}
