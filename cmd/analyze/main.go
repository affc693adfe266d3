// Command analyze runs the pipeline on local audio files without the HTTP
// server and prints each composite view as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/speech-insights/internal/analysis"
	"github.com/codebuildervaibhav/speech-insights/internal/app"
	"github.com/codebuildervaibhav/speech-insights/internal/config"
	"github.com/codebuildervaibhav/speech-insights/internal/export"
	"github.com/codebuildervaibhav/speech-insights/internal/logger"
	"github.com/codebuildervaibhav/speech-insights/internal/stage"
	"github.com/codebuildervaibhav/speech-insights/internal/storage"
	"github.com/codebuildervaibhav/speech-insights/internal/types"
)

func main() {
	var (
		configPath     = flag.String("config", envOr("CONFIG_PATH", "config/config.yaml"), "path to the YAML config")
		xlsxPath       = flag.String("xlsx", "", "also write the analyses to this Excel workbook")
		skipExport     = flag.Bool("no-export", false, "do not run the configured exporters")
		authorizeDrive = flag.Bool("authorize-drive", false, "run the Google Drive OAuth flow and cache the token")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <audio file>...\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	// logs go to stderr so stdout stays valid JSON
	log := logger.New(logger.Options{
		Environment: cfg.Logging.Environment,
		Level:       cfg.Logging.Level,
		Output:      os.Stderr,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *authorizeDrive {
		gd := cfg.Export.GoogleDrive
		if err := export.AuthorizeDrive(ctx, gd.CredentialsFile, gd.TokenFile, os.Stdin, os.Stdout); err != nil {
			log.WithError(err).Fatal("Drive authorization failed")
		}
		return
	}

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	a, err := app.Build(ctx, cfg, log.Entry)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize")
	}

	exporters := a.Exporters
	if *skipExport {
		exporters = nil
	}

	var views []*analysis.CompositeView
	failed := false
	for _, path := range flag.Args() {
		view, err := analyzeFile(ctx, a, path, log.WithField("file", path))
		if err != nil {
			log.WithError(err).WithField("file", path).Error("analysis aborted")
			failed = true
			continue
		}
		if view.Audio.Status == types.StatusFailed {
			failed = true
		}
		views = append(views, view)

		for _, ex := range exporters {
			if err := ex.Export(ctx, view); err != nil {
				log.WithError(err).WithField("exporter", ex.Name()).Warn("export failed")
			}
		}
		if err := printJSON(os.Stdout, view); err != nil {
			log.WithError(err).Fatal("write output")
		}
	}

	if *xlsxPath != "" && len(views) > 0 {
		if err := writeWorkbook(*xlsxPath, views); err != nil {
			log.WithError(err).Fatal("write workbook")
		}
		log.WithField("path", *xlsxPath).Info("workbook written")
	}
	if err := a.Close(context.Background()); err != nil {
		log.WithError(err).Warn("cleanup failed")
	}
	if failed {
		os.Exit(1)
	}
}

// analyzeFile copies path into upload storage, creates a record and runs the
// pipeline on it synchronously.
func analyzeFile(ctx context.Context, a *app.App, path string, log *logrus.Entry) (*analysis.CompositeView, error) {
	if !stage.ValidateAudioFormat(path, a.Config.Limits.AllowedExtensions) {
		return nil, fmt.Errorf("unsupported audio format %q", filepath.Ext(path))
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("%s is empty", path)
	}

	original := storage.SanitizeFilename(path)
	stored, dest, err := a.Files.Allocate(original)
	if err != nil {
		return nil, err
	}
	if err := copyFile(path, dest); err != nil {
		return nil, err
	}

	rec := &types.AudioRecord{
		OriginalFilename: original,
		StoredFilename:   stored,
		FilePath:         dest,
		SizeBytes:        info.Size(),
		Format:           strings.TrimPrefix(strings.ToLower(filepath.Ext(original)), "."),
	}
	if err := a.Store.Create(ctx, rec); err != nil {
		_ = a.Files.Remove(dest)
		return nil, err
	}
	log = log.WithField("audio_id", rec.ID)
	log.Info("processing")

	out, err := a.Orchestrator.Run(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	log.WithField("status", out.Status).Info("done")
	return a.Reader.GetFullAnalysis(ctx, rec.ID)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func writeWorkbook(path string, views []*analysis.CompositeView) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := export.WriteWorkbook(f, views); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
