package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/codebuildervaibhav/speech-insights/internal/config"
	"github.com/codebuildervaibhav/speech-insights/internal/export"
	"github.com/codebuildervaibhav/speech-insights/internal/stage"
	"github.com/codebuildervaibhav/speech-insights/internal/stage/lexical"
	"github.com/codebuildervaibhav/speech-insights/internal/stage/remote"
)

func quietLog() *logrus.Entry {
	l, _ := test.NewNullLogger()
	return logrus.NewEntry(l)
}

func TestBuildStagesLocal(t *testing.T) {
	set := BuildStages(config.Default(), quietLog())
	if err := set.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if _, ok := set.Transcriber.(*stage.WhisperTranscriber); !ok {
		t.Errorf("transcriber: got %T, want *stage.WhisperTranscriber", set.Transcriber)
	}
	if _, ok := set.Sentiment.(*lexical.SentimentAnalyzer); !ok {
		t.Errorf("sentiment: got %T, want *lexical.SentimentAnalyzer", set.Sentiment)
	}
	if _, ok := set.Entity.(*lexical.EntityExtractor); !ok {
		t.Errorf("entity: got %T, want *lexical.EntityExtractor", set.Entity)
	}
	if _, ok := set.Summarizer.(*lexical.Summarizer); !ok {
		t.Errorf("summarizer: got %T, want *lexical.Summarizer", set.Summarizer)
	}
}

func TestBuildStagesRemoteShareClient(t *testing.T) {
	cfg := config.Default()
	cfg.Stages.Transcription = "remote"
	cfg.Stages.Summary = "remote"
	cfg.Stages.Remote.BaseURL = "http://models.internal"

	set := BuildStages(cfg, quietLog())
	tc, ok := set.Transcriber.(*remote.Client)
	if !ok {
		t.Fatalf("transcriber: got %T, want *remote.Client", set.Transcriber)
	}
	sc, ok := set.Summarizer.(*remote.Client)
	if !ok {
		t.Fatalf("summarizer: got %T, want *remote.Client", set.Summarizer)
	}
	if tc != sc {
		t.Error("remote stages should share one client")
	}
	if _, ok := set.Sentiment.(*lexical.SentimentAnalyzer); !ok {
		t.Errorf("sentiment: got %T, want lexical", set.Sentiment)
	}
}

func TestPipelineConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Pipeline.MaxAttempts = 4
	cfg.Pipeline.RetryDelay = 3 * time.Second

	pc := PipelineConfig(cfg)
	if pc.MaxAttempts != 4 {
		t.Errorf("MaxAttempts: got %d, want 4", pc.MaxAttempts)
	}
	if pc.RetryDelay != 3*time.Second {
		t.Errorf("RetryDelay: got %v, want 3s", pc.RetryDelay)
	}
	if pc.TranscriptionTimeout != 10*time.Minute {
		t.Errorf("TranscriptionTimeout: got %v, want 10m", pc.TranscriptionTimeout)
	}
	if pc.KeyPhraseCount != 5 {
		t.Errorf("KeyPhraseCount: got %d, want 5", pc.KeyPhraseCount)
	}
}

func TestNewLockerLocalIsNil(t *testing.T) {
	l, err := NewLocker(config.Default(), nil)
	if err != nil {
		t.Fatalf("NewLocker: %v", err)
	}
	if l != nil {
		t.Errorf("got %T, want nil for local mode", l)
	}
}

func TestBuildWithMemoryStore(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Database.DSN = ":memory:"
	cfg.Storage.UploadDir = filepath.Join(dir, "audio")
	cfg.Storage.TempDir = filepath.Join(dir, "temp")
	cfg.Export.LocalDir = filepath.Join(dir, "out")
	cfg.Export.GoogleDrive.CredentialsFile = filepath.Join(dir, "missing.json")

	ctx := context.Background()
	a, err := Build(ctx, cfg, quietLog())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer a.Close(ctx)

	if err := a.Store.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
	if a.Orchestrator == nil || a.Reader == nil || a.Files == nil {
		t.Fatal("Build left components unset")
	}
	if len(a.Exporters) != 1 {
		t.Fatalf("exporters: got %d, want 1", len(a.Exporters))
	}
	if _, ok := a.Exporters[0].(*export.LocalExporter); !ok {
		t.Errorf("exporter: got %T, want *export.LocalExporter", a.Exporters[0])
	}
	if err := a.Close(ctx); err != nil {
		t.Errorf("Close: %v", err)
	}
}
