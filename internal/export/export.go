// Package export ships finished analyses out of the service: dated files on
// local disk or Google Drive, a MongoDB archive, and XLSX reports.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/codebuildervaibhav/speech-insights/internal/analysis"
	"github.com/codebuildervaibhav/speech-insights/internal/storage"
)

// Exporter publishes a composite view somewhere outside the database.
type Exporter interface {
	Name() string
	Export(ctx context.Context, view *analysis.CompositeView) error
}

// datePath returns the YYYY/MM/DD elements used by the file exporters.
func datePath(t time.Time) []string {
	return []string{
		fmt.Sprintf("%d", t.Year()),
		fmt.Sprintf("%02d", t.Month()),
		fmt.Sprintf("%02d", t.Day()),
	}
}

// baseName builds 20250123_143022_team_call from the upload name.
func baseName(view *analysis.CompositeView, now time.Time) string {
	name := storage.SanitizeFilename(view.Audio.OriginalFilename)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	name = strings.ReplaceAll(name, " ", "_")
	if name == "" {
		name = fmt.Sprintf("audio_%d", view.Audio.ID)
	}
	return fmt.Sprintf("%s_%s", now.Format("20060102_150405"), name)
}

// transcriptText is the body of the .txt export; empty until transcription succeeds.
func transcriptText(view *analysis.CompositeView) string {
	if view.Transcript == nil {
		return ""
	}
	return view.Transcript.FullText
}

func analysisJSON(view *analysis.CompositeView) ([]byte, error) {
	data, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal analysis: %w", err)
	}
	return data, nil
}
