package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/codebuildervaibhav/speech-insights/internal/analysis"
)

// WorkbookSheet is the sheet name used by WriteWorkbook.
const WorkbookSheet = "Analysis"

// WorkbookHeader lists the report columns in order.
var WorkbookHeader = []string{
	"Audio ID", "Filename", "Status", "Language", "Words", "Sentiment",
	"Confidence", "Entities", "Key Phrases", "Summary", "Error",
}

// WriteWorkbook writes an XLSX report with one row per view.
func WriteWorkbook(w io.Writer, views []*analysis.CompositeView) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), WorkbookSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	header := make([]interface{}, len(WorkbookHeader))
	for i, h := range WorkbookHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(WorkbookSheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, v := range views {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := workbookRow(v)
		if err := f.SetSheetRow(WorkbookSheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if err := f.SetPanes(WorkbookSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func workbookRow(v *analysis.CompositeView) []interface{} {
	var (
		language, sentiment, summary, errMsg string
		words, entities                      int
		confidence                           float64
		phrases                              []string
	)
	if t := v.Transcript; t != nil {
		if t.Language != nil {
			language = *t.Language
		}
		words = t.WordCount
	}
	if s := v.Sentiment; s != nil {
		sentiment = string(s.OverallSentiment)
		confidence = s.Confidence
	}
	if e := v.Entities; e != nil {
		entities = len(e.Entities)
	}
	if s := v.Summary; s != nil {
		summary = s.Summary
		phrases = s.KeyPhrases
	}
	if v.Audio.ErrorMessage != nil {
		errMsg = *v.Audio.ErrorMessage
	}
	return []interface{}{
		v.Audio.ID, v.Audio.OriginalFilename, string(v.Audio.Status), language, words,
		sentiment, confidence, entities, strings.Join(phrases, ", "), summary, errMsg,
	}
}
