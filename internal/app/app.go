// Package app assembles the service from configuration. The server, the
// command line analyzer and the MCP server share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/speech-insights/internal/analysis"
	"github.com/codebuildervaibhav/speech-insights/internal/config"
	"github.com/codebuildervaibhav/speech-insights/internal/export"
	"github.com/codebuildervaibhav/speech-insights/internal/pipeline"
	"github.com/codebuildervaibhav/speech-insights/internal/recovery"
	"github.com/codebuildervaibhav/speech-insights/internal/stage"
	"github.com/codebuildervaibhav/speech-insights/internal/stage/lexical"
	"github.com/codebuildervaibhav/speech-insights/internal/stage/remote"
	"github.com/codebuildervaibhav/speech-insights/internal/storage"
)

// App holds the wired components.
type App struct {
	Config       *config.Config
	Log          *logrus.Entry
	Store        *storage.SQLStore
	Files        *storage.AudioFiles
	Stages       stage.Set
	Orchestrator *pipeline.Orchestrator
	Reader       *analysis.Reader
	Exporters    []export.Exporter

	closers []func(context.Context) error
}

// Build opens storage, constructs the stage set and the orchestrator, and
// connects whichever exporters are configured. Exporters that fail to
// connect are logged and skipped.
func Build(ctx context.Context, cfg *config.Config, log *logrus.Entry) (*App, error) {
	if err := recovery.EnsureDirs(cfg.Storage.UploadDir, cfg.Storage.TempDir); err != nil {
		return nil, err
	}

	store, err := storage.Open(ctx, storage.Options{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	a := &App{
		Config: cfg,
		Log:    log,
		Store:  store,
		Files:  storage.NewAudioFiles(cfg.Storage.UploadDir),
		Reader: analysis.NewReader(store),
	}
	a.closers = append(a.closers, func(context.Context) error { return store.Close() })

	locker, err := NewLocker(cfg, store)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}

	a.Stages = BuildStages(cfg, log)
	a.closers = append(a.closers, func(context.Context) error { return a.Stages.Close() })

	a.Orchestrator, err = pipeline.New(store, a.Stages, locker, PipelineConfig(cfg), log)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}

	a.Exporters = a.buildExporters(ctx)
	return a, nil
}

// BuildStages picks a backend for every stage. All remote stages share one
// client.
func BuildStages(cfg *config.Config, log *logrus.Entry) stage.Set {
	var client *remote.Client
	remoteClient := func() *remote.Client {
		if client == nil {
			client = remote.NewClient(remote.Options{
				BaseURL:         cfg.Stages.Remote.BaseURL,
				APIKey:          cfg.Stages.Remote.APIKey,
				SummaryMinChars: cfg.Pipeline.SummaryMinChars,
			}, log)
		}
		return client
	}

	var set stage.Set
	if cfg.Stages.Transcription == "remote" {
		set.Transcriber = remoteClient()
	} else {
		set.Transcriber = stage.NewWhisperTranscriber(stage.WhisperOptions{
			Model:   cfg.Stages.Whisper.Model,
			Device:  cfg.Stages.Whisper.Device,
			Python:  cfg.Stages.Whisper.Python,
			TempDir: cfg.Storage.TempDir,
		}, log.WithField("module", "whisper"))
	}
	if cfg.Stages.Sentiment == "remote" {
		set.Sentiment = remoteClient()
	} else {
		set.Sentiment = lexical.NewSentimentAnalyzer()
	}
	if cfg.Stages.Entity == "remote" {
		set.Entity = remoteClient()
	} else {
		set.Entity = lexical.NewEntityExtractor()
	}
	if cfg.Stages.Summary == "remote" {
		set.Summarizer = remoteClient()
	} else {
		set.Summarizer = lexical.NewSummarizer(cfg.Pipeline.SummaryMinChars)
	}
	return set
}

// NewLocker returns the run lock for the configured mode. Local mode returns
// nil so the orchestrator falls back to its in-process lock.
func NewLocker(cfg *config.Config, store *storage.SQLStore) (pipeline.Locker, error) {
	if cfg.Pipeline.LockMode != "postgres" {
		return nil, nil
	}
	l, err := storage.NewAdvisoryLocker(store)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// PipelineConfig maps configuration onto orchestrator settings.
func PipelineConfig(cfg *config.Config) pipeline.Config {
	return pipeline.Config{
		TranscriptionTimeout: cfg.Pipeline.TranscriptionTimeout,
		SentimentTimeout:     cfg.Pipeline.SentimentTimeout,
		EntityTimeout:        cfg.Pipeline.EntityTimeout,
		SummaryTimeout:       cfg.Pipeline.SummaryTimeout,
		MaxAttempts:          cfg.Pipeline.MaxAttempts,
		RetryDelay:           cfg.Pipeline.RetryDelay,
		KeyPhraseCount:       cfg.Pipeline.KeyPhraseCount,
	}
}

func (a *App) buildExporters(ctx context.Context) []export.Exporter {
	cfg := a.Config.Export
	var out []export.Exporter

	if cfg.LocalDir != "" {
		out = append(out, export.NewLocalExporter(cfg.LocalDir))
		a.Log.WithField("dir", cfg.LocalDir).Info("local export enabled")
	}

	if cfg.GoogleDrive.CredentialsFile != "" {
		if _, err := os.Stat(cfg.GoogleDrive.CredentialsFile); err == nil {
			de, err := export.NewDriveExporter(ctx, export.DriveOptions{
				CredentialsFile: cfg.GoogleDrive.CredentialsFile,
				TokenFile:       cfg.GoogleDrive.TokenFile,
				FolderName:      cfg.GoogleDrive.FolderName,
			}, a.Log)
			if err != nil {
				a.Log.WithError(err).Warn("Google Drive not available; analyses will not be uploaded")
			} else {
				out = append(out, de)
				a.Log.Info("Google Drive export enabled")
			}
		} else {
			a.Log.Info("Google Drive credentials not found; Drive export disabled")
		}
	}

	if cfg.Mongo.URI != "" {
		m, err := export.NewMongoArchive(ctx, cfg.Mongo.URI, cfg.Mongo.Database, cfg.Mongo.Collection)
		if err != nil {
			a.Log.WithError(err).Warn("MongoDB archive not available")
		} else {
			out = append(out, m)
			a.closers = append(a.closers, m.Close)
			a.Log.WithField("collection", cfg.Mongo.Collection).Info("MongoDB archive enabled")
		}
	}
	return out
}

// Close releases everything Build opened, newest first.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
