package stage

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// DefaultAudioFormats are the extensions accepted when none are configured.
var DefaultAudioFormats = []string{"mp3", "wav", "m4a", "flac", "ogg", "webm", "aac"}

// NormalizeAudio converts any audio file to 16kHz mono WAV format
func NormalizeAudio(ctx context.Context, inputPath, tempDir string) (string, error) {
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	outputPath := filepath.Join(tempDir, fmt.Sprintf("normalized_%s.wav", uuid.New().String()))

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", inputPath,
		"-ar", "16000", // 16kHz sample rate
		"-ac", "1", // Mono
		"-c:a", "pcm_s16le", // 16-bit PCM
		"-y",
		outputPath,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		os.Remove(outputPath)
		return "", fmt.Errorf("ffmpeg failed: %v: %s", err, lastLine(output))
	}

	return outputPath, nil
}

// ValidateAudioFormat checks if the file extension is in the allowed list.
// An empty list falls back to DefaultAudioFormats.
func ValidateAudioFormat(filename string, allowed []string) bool {
	if len(allowed) == 0 {
		allowed = DefaultAudioFormats
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	if ext == "" {
		return false
	}
	for _, format := range allowed {
		if ext == strings.TrimPrefix(strings.ToLower(format), ".") {
			return true
		}
	}
	return false
}
