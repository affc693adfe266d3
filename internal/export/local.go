package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/codebuildervaibhav/speech-insights/internal/analysis"
)

// LocalExporter writes transcripts and analysis JSON to the local filesystem
type LocalExporter struct {
	outputDir string
	now       func() time.Time
}

// NewLocalExporter creates a new local exporter
func NewLocalExporter(outputDir string) *LocalExporter {
	return &LocalExporter{
		outputDir: outputDir,
		now:       time.Now,
	}
}

// Name implements Exporter.
func (le *LocalExporter) Name() string { return "local" }

// Export implements Exporter.
func (le *LocalExporter) Export(ctx context.Context, view *analysis.CompositeView) error {
	_, err := le.Save(view)
	return err
}

// Save writes outputs/2025/01/23/20250123_143022_name.txt and the matching
// _analysis.json, returning the text file path.
func (le *LocalExporter) Save(view *analysis.CompositeView) (string, error) {
	now := le.now()
	dateDir := filepath.Join(append([]string{le.outputDir}, datePath(now)...)...)
	if err := os.MkdirAll(dateDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create date directory: %v", err)
	}

	base := baseName(view, now)
	txtPath := filepath.Join(dateDir, base+".txt")
	jsonPath := filepath.Join(dateDir, base+"_analysis.json")

	if err := os.WriteFile(txtPath, []byte(transcriptText(view)), 0644); err != nil {
		return "", fmt.Errorf("failed to save transcript: %v", err)
	}

	data, err := analysisJSON(view)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(jsonPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to save analysis: %v", err)
	}
	return txtPath, nil
}
