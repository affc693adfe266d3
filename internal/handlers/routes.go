package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/speech-insights/internal/analysis"
	"github.com/codebuildervaibhav/speech-insights/internal/storage"
)

// Deps carries everything the HTTP surface needs.
type Deps struct {
	Store          *storage.SQLStore
	Files          *storage.AudioFiles
	Reader         *analysis.Reader
	Runner         Runner
	Jobs           Enqueuer
	Pool           StatsSource
	Logs           LogSource
	MaxFileSizeMB  int
	AllowedFormats []string
	PollInterval   time.Duration
	Log            *logrus.Entry
}

// Register mounts every route on app.
func Register(app *fiber.App, d Deps) {
	audio := NewAudioHandler(d.Store, d.Files, d.Runner, d.Jobs, d.MaxFileSizeMB, d.AllowedFormats, d.Log)
	an := NewAnalysisHandler(d.Reader, d.Store, d.Log)
	stream := NewStreamHandler(d.Reader, d.Store, d.Files, d.Jobs, d.MaxFileSizeMB, d.PollInterval, d.Log)
	system := NewSystemHandler(d.Store, d.Pool, d.Logs, d.Log)

	app.Get("/health", system.Health)
	app.Get("/logs", system.Logs)

	v1 := app.Group("/api/v1")

	v1.Post("/audio", audio.Upload)
	v1.Get("/audio", audio.List)
	v1.Get("/audio/:id", audio.Get)
	v1.Delete("/audio/:id", audio.Delete)
	v1.Post("/audio/:id/process", audio.Process)

	v1.Get("/analysis/export.xlsx", an.ExportXLSX)
	v1.Get("/analysis/:id", an.Full)
	v1.Get("/analysis/:id/transcript", an.Transcript)
	v1.Get("/analysis/:id/sentiment", an.Sentiment)
	v1.Get("/analysis/:id/entities", an.Entities)
	v1.Get("/analysis/:id/summary", an.Summary)

	ws := app.Group("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	ws.Get("/analysis/:id", websocket.New(stream.Watch))
	ws.Get("/stream", websocket.New(stream.Ingest))
}
