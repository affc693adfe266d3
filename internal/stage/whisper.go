package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/speech-insights/internal/types"
)

// WhisperTranscriber wraps Python's OpenAI Whisper for transcription
type WhisperTranscriber struct {
	modelName string
	device    string
	python    string
	tempDir   string
	log       *logrus.Entry
}

// WhisperOptions configures the subprocess.
type WhisperOptions struct {
	Model   string // tiny | base | small | medium | large
	Device  string
	Python  string
	TempDir string
}

// NewWhisperTranscriber creates a new transcriber using Python Whisper
func NewWhisperTranscriber(opts WhisperOptions, log *logrus.Entry) *WhisperTranscriber {
	if opts.Python == "" {
		opts.Python = "python"
	}
	if opts.TempDir == "" {
		opts.TempDir = "temp"
	}
	log.WithFields(logrus.Fields{
		"model":  opts.Model,
		"device": opts.Device,
	}).Info("whisper transcriber configured; availability is verified on first run")

	return &WhisperTranscriber{
		modelName: modelName(opts.Model),
		device:    opts.Device,
		python:    opts.Python,
		tempDir:   opts.TempDir,
		log:       log,
	}
}

// modelName accepts either a bare model name or a ggml-style path.
func modelName(model string) string {
	for _, name := range []string{"tiny", "base", "small", "medium", "large"} {
		if strings.Contains(model, name) {
			return name
		}
	}
	return "small"
}

// Transcribe normalizes the audio and runs Whisper on it.
// Unreadable audio is reported as a decode error.
func (wt *WhisperTranscriber) Transcribe(ctx context.Context, audioPath string) (*types.Transcript, error) {
	started := time.Now()

	if _, err := os.Stat(audioPath); err != nil {
		return nil, types.NewDecodeError(fmt.Errorf("open audio: %w", err))
	}

	normalized, err := NormalizeAudio(ctx, audioPath, wt.tempDir)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, types.NewDecodeError(err)
	}
	defer os.Remove(normalized)

	// Each run gets its own output dir so concurrent runs never collide.
	outDir := filepath.Join(wt.tempDir, "whisper_"+uuid.New().String())
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("create whisper output dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	args := []string{"-m", "whisper",
		normalized,
		"--model", wt.modelName,
		"--output_dir", outDir,
		"--output_format", "json",
		"--word_timestamps", "True",
		"--fp16", "False",
	}
	if wt.device != "" {
		args = append(args, "--device", wt.device)
	}
	cmd := exec.CommandContext(ctx, wt.python, args...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, types.NewModelError(fmt.Errorf("whisper failed: %v: %s", err, lastLine(output)))
	}

	baseName := strings.TrimSuffix(filepath.Base(normalized), filepath.Ext(normalized))
	jsonData, err := os.ReadFile(filepath.Join(outDir, baseName+".json"))
	if err != nil {
		return nil, types.NewModelError(fmt.Errorf("read whisper output: %w", err))
	}

	transcript, err := ParseWhisperJSON(jsonData)
	if err != nil {
		return nil, types.NewModelError(err)
	}
	transcript.ProcessingTimeSeconds = round2(time.Since(started).Seconds())

	wt.log.WithFields(logrus.Fields{
		"segments": len(transcript.Segments),
		"words":    transcript.WordCount,
		"duration": transcript.DurationSeconds,
	}).Info("transcription completed")
	return transcript, nil
}

// whisperOutput matches Python Whisper's JSON output format
type whisperOutput struct {
	Text     string           `json:"text"`
	Language string           `json:"language"`
	Segments []whisperSegment `json:"segments"`
}

type whisperSegment struct {
	ID    int           `json:"id"`
	Start float64       `json:"start"`
	End   float64       `json:"end"`
	Text  string        `json:"text"`
	Words []whisperWord `json:"words"`
}

type whisperWord struct {
	Word        string  `json:"word"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Probability float64 `json:"probability"`
}

// ParseWhisperJSON converts Whisper's JSON output into a Transcript.
func ParseWhisperJSON(data []byte) (*types.Transcript, error) {
	var out whisperOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse whisper JSON: %w", err)
	}

	segments := make([]types.Segment, len(out.Segments))
	for i, seg := range out.Segments {
		s := types.Segment{
			ID:    seg.ID,
			Start: seg.Start,
			End:   seg.End,
			Text:  strings.TrimSpace(seg.Text),
		}
		for _, w := range seg.Words {
			s.Words = append(s.Words, types.WordTimestamp{
				Word:       strings.TrimSpace(w.Word),
				Start:      w.Start,
				End:        w.End,
				Confidence: w.Probability,
			})
		}
		segments[i] = s
	}

	var duration float64
	if len(segments) > 0 {
		duration = segments[len(segments)-1].End
	}

	text := strings.TrimSpace(out.Text)
	t := &types.Transcript{
		FullText:        text,
		Segments:        segments,
		WordCount:       len(strings.Fields(text)),
		DurationSeconds: duration,
	}
	if out.Language != "" {
		lang := out.Language
		t.Language = &lang
	}
	return t, nil
}

func lastLine(b []byte) string {
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	return lines[len(lines)-1]
}

func round2(f float64) float64 {
	return float64(int64(f*100+0.5)) / 100
}
