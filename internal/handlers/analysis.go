package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/speech-insights/internal/analysis"
	"github.com/codebuildervaibhav/speech-insights/internal/export"
	"github.com/codebuildervaibhav/speech-insights/internal/storage"
	"github.com/codebuildervaibhav/speech-insights/internal/types"
)

const xlsxMime = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// AnalysisHandler serves composite views and per-stage results
type AnalysisHandler struct {
	reader *analysis.Reader
	store  *storage.SQLStore
	log    *logrus.Entry
}

// NewAnalysisHandler creates a new analysis handler
func NewAnalysisHandler(reader *analysis.Reader, store *storage.SQLStore, log *logrus.Entry) *AnalysisHandler {
	return &AnalysisHandler{
		reader: reader,
		store:  store,
		log:    log.WithField("handler", "analysis"),
	}
}

// Full returns everything known about a record so far.
func (h *AnalysisHandler) Full(c *fiber.Ctx) error {
	id, ok := audioID(c)
	if !ok {
		return nil
	}
	view, err := h.reader.GetFullAnalysis(c.UserContext(), id)
	if err != nil {
		return storeError(c, h.log, err)
	}
	return c.JSON(view)
}

// Transcript returns the transcription stage.
func (h *AnalysisHandler) Transcript(c *fiber.Ctx) error {
	id, ok := audioID(c)
	if !ok {
		return nil
	}
	v, err := h.reader.GetTranscript(c.UserContext(), id)
	if err != nil {
		return storeError(c, h.log, err)
	}
	return c.Status(stateStatus(v.State)).JSON(v)
}

// Sentiment returns the sentiment stage.
func (h *AnalysisHandler) Sentiment(c *fiber.Ctx) error {
	id, ok := audioID(c)
	if !ok {
		return nil
	}
	v, err := h.reader.GetSentiment(c.UserContext(), id)
	if err != nil {
		return storeError(c, h.log, err)
	}
	return c.Status(stateStatus(v.State)).JSON(v)
}

// Entities returns the entity stage, optionally filtered with ?label=ORG.
func (h *AnalysisHandler) Entities(c *fiber.Ctx) error {
	id, ok := audioID(c)
	if !ok {
		return nil
	}
	v, err := h.reader.GetEntities(c.UserContext(), id, c.Query("label"))
	if err != nil {
		return storeError(c, h.log, err)
	}
	return c.Status(stateStatus(v.State)).JSON(v)
}

// Summary returns the summary stage.
func (h *AnalysisHandler) Summary(c *fiber.Ctx) error {
	id, ok := audioID(c)
	if !ok {
		return nil
	}
	v, err := h.reader.GetSummary(c.UserContext(), id)
	if err != nil {
		return storeError(c, h.log, err)
	}
	return c.Status(stateStatus(v.State)).JSON(v)
}

// ExportXLSX downloads a workbook of the most recent records.
func (h *AnalysisHandler) ExportXLSX(c *fiber.Ctx) error {
	status := types.Status(c.Query("status"))
	if status != "" && !status.Valid() {
		return errorJSON(c, fiber.StatusBadRequest, "Unknown status filter", "ERR_INVALID_STATUS")
	}
	limit := c.QueryInt("limit", 500)
	if limit < 1 || limit > 5000 {
		return errorJSON(c, fiber.StatusBadRequest, "limit must be between 1 and 5000", "ERR_INVALID_LIMIT")
	}

	ctx := c.UserContext()
	records, _, err := h.store.List(ctx, storage.ListFilter{Status: status, Limit: limit})
	if err != nil {
		return storeError(c, h.log, err)
	}

	views := make([]*analysis.CompositeView, 0, len(records))
	for _, rec := range records {
		view, err := h.reader.GetFullAnalysis(ctx, rec.ID)
		if errors.Is(err, types.ErrNotFound) {
			// deleted between List and read
			continue
		}
		if err != nil {
			return storeError(c, h.log, err)
		}
		views = append(views, view)
	}

	var buf bytes.Buffer
	if err := export.WriteWorkbook(&buf, views); err != nil {
		return storeError(c, h.log, err)
	}

	c.Set(fiber.HeaderContentType, xlsxMime)
	c.Set(fiber.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename="analysis_%s.xlsx"`, time.Now().Format("20060102_150405")))
	return c.Send(buf.Bytes())
}

// stateStatus maps accessor states to HTTP codes: data is 200, work still
// pending is 202 and a failed stage or run is 422. The body always carries
// the state.
func stateStatus(s analysis.State) int {
	switch s {
	case analysis.StateNotReady:
		return fiber.StatusAccepted
	case analysis.StateStageFailed, analysis.StatePipelineFailed:
		return fiber.StatusUnprocessableEntity
	}
	return fiber.StatusOK
}
