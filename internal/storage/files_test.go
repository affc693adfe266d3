package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestAllocateUsesDatedDirs(t *testing.T) {
	dir := t.TempDir()
	f := NewAudioFiles(dir)
	f.now = func() time.Time { return time.Date(2025, 1, 23, 14, 30, 22, 0, time.UTC) }

	stored, path, err := f.Allocate("Team Call.MP3")
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if !strings.HasSuffix(stored, ".mp3") {
		t.Errorf("stored = %s, want .mp3 suffix", stored)
	}
	want := filepath.Join(dir, "2025", "01", "23", stored)
	if path != want {
		t.Errorf("path = %s, want %s", path, want)
	}
	if info, err := os.Stat(filepath.Dir(path)); err != nil || !info.IsDir() {
		t.Errorf("date directory not created: %v", err)
	}

	other, _, _ := f.Allocate("Team Call.MP3")
	if other == stored {
		t.Error("two allocations returned the same name")
	}
}

func TestRemoveMissingFile(t *testing.T) {
	f := NewAudioFiles(t.TempDir())
	if err := f.Remove(filepath.Join(t.TempDir(), "gone.wav")); err != nil {
		t.Errorf("Remove: %v", err)
	}
	if err := f.Remove(""); err != nil {
		t.Errorf("Remove empty: %v", err)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"podcast episode":   "podcast episode",
		"../../etc/passwd":  "passwd",
		`C:\Users\me\a.wav`: "a.wav",
		"what?.wav":         "what_.wav",
		"":                  "untitled",
		"..":                "untitled",
	}
	for in, want := range tests {
		if got := SanitizeFilename(in); got != want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
	if got := SanitizeFilename(strings.Repeat("x", 150)); len(got) != 100 {
		t.Errorf("long name truncated to %d bytes, want 100", len(got))
	}
}
