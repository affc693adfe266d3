package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/codebuildervaibhav/speech-insights/internal/stage"
	"github.com/codebuildervaibhav/speech-insights/internal/types"
)

var (
	_ stage.Transcriber       = (*Client)(nil)
	_ stage.SentimentAnalyzer = (*Client)(nil)
	_ stage.EntityExtractor   = (*Client)(nil)
	_ stage.Summarizer        = (*Client)(nil)
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	log, _ := logtest.NewNullLogger()
	return NewClient(Options{BaseURL: srv.URL + "/", APIKey: "secret", SummaryMinChars: 20}, logrus.NewEntry(log))
}

func writeAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "call.wav")
	if err := os.WriteFile(path, []byte("RIFF....WAVE"), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestTranscribe(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transcribe" {
			t.Errorf("path = %s, want /transcribe", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("authorization = %q", got)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			http.Error(w, "no file", http.StatusBadRequest)
			return
		}
		file.Close()
		if header.Filename != "call.wav" {
			t.Errorf("filename = %s", header.Filename)
		}
		w.Write([]byte(`{"full_text":" hello world ","language":"en","segments":[{"id":0,"text":"hello world","start":0,"end":1.5}]}`))
	}))

	tr, err := c.Transcribe(context.Background(), writeAudio(t))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.FullText != "hello world" || tr.WordCount != 2 {
		t.Errorf("got %q / %d words", tr.FullText, tr.WordCount)
	}
	if tr.Language == nil || *tr.Language != "en" || len(tr.Segments) != 1 {
		t.Errorf("transcript = %+v", tr)
	}
}

func TestTranscribeErrorKinds(t *testing.T) {
	tests := []struct {
		name   string
		status int
		kind   types.ErrorKind
	}{
		{"rejected audio", http.StatusUnprocessableEntity, types.KindDecode},
		{"server failure", http.StatusInternalServerError, types.KindModel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			_, err := c.Transcribe(context.Background(), writeAudio(t))
			if got := types.AsStageError(err); got == nil || got.Kind != tt.kind {
				t.Errorf("err = %v, want kind %s", err, tt.kind)
			}
		})
	}
}

func TestTranscribeMissingFile(t *testing.T) {
	c := newTestClient(t, http.NotFoundHandler())
	_, err := c.Transcribe(context.Background(), filepath.Join(t.TempDir(), "missing.wav"))
	if se := types.AsStageError(err); se == nil || se.Kind != types.KindDecode {
		t.Errorf("err = %v, want decode error", err)
	}
}

func TestTranscribeDeadline(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Transcribe(ctx, writeAudio(t))
	if se := types.AsStageError(err); se == nil || se.Kind != types.KindTimeout {
		t.Errorf("err = %v, want timeout", err)
	}
}

func TestEmptyTextSkipsServer(t *testing.T) {
	var calls int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	ctx := context.Background()

	s, err := c.AnalyzeSentiment(ctx, "", nil)
	if err != nil || s.OverallSentiment != types.SentimentNeutral || s.Confidence != 0 {
		t.Errorf("sentiment = %+v, %v", s, err)
	}
	e, err := c.ExtractEntities(ctx, " ")
	if err != nil || len(e.Entities) != 0 || e.EntityCounts == nil {
		t.Errorf("entities = %+v, %v", e, err)
	}
	sum, err := c.Summarize(ctx, "too short", 5, nil)
	if err != nil || sum.Summary != "too short" || len(sum.KeyPhrases) != 0 {
		t.Errorf("summary = %+v, %v", sum, err)
	}
	if n := atomic.LoadInt32(&calls); n != 0 {
		t.Errorf("server called %d times, want 0", n)
	}
}

func TestSentiment(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Text     string          `json:"text"`
			Segments []types.Segment `json:"segments"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body.Text != "The quick brown fox" || len(body.Segments) != 1 {
			t.Errorf("body = %+v", body)
		}
		w.Write([]byte(`{"overall_sentiment":"neutral","confidence":0.8,"scores":{"positive":0.1,"negative":0.1,"neutral":0.8}}`))
	}))

	s, err := c.AnalyzeSentiment(context.Background(), "The quick brown fox", []types.Segment{{Text: "The quick brown fox"}})
	if err != nil {
		t.Fatalf("AnalyzeSentiment: %v", err)
	}
	if s.OverallSentiment != types.SentimentNeutral || s.Confidence != 0.8 || s.Scores.Neutral != 0.8 {
		t.Errorf("got %+v", s)
	}
}

func TestSentimentUnknownLabel(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"overall_sentiment":"LABEL_2","confidence":0.9}`))
	}))
	_, err := c.AnalyzeSentiment(context.Background(), "fine", nil)
	if se := types.AsStageError(err); se == nil || se.Kind != types.KindModel {
		t.Errorf("err = %v, want model error", err)
	}
}

func TestEntitiesRecountLabels(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// server-side counts are wrong on purpose
		w.Write([]byte(`{"entities":[{"text":"Alice","label":"PERSON"},{"text":"Bob","label":"PERSON"}],"entity_counts":{"PERSON":7}}`))
	}))
	e, err := c.ExtractEntities(context.Background(), "Alice met Bob")
	if err != nil {
		t.Fatalf("ExtractEntities: %v", err)
	}
	if e.EntityCounts["PERSON"] != 2 {
		t.Errorf("count[PERSON] = %d, want 2", e.EntityCounts["PERSON"])
	}
}

func TestSummarizeDedupesKeyPhrases(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"summary":"short","key_phrases":["refund request","refund request","late delivery"]}`))
	}))
	s, err := c.Summarize(context.Background(), strings.Repeat("long text ", 5), 3, nil)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if len(s.KeyPhrases) != 2 || s.KeyPhrases[0] != "refund request" || s.KeyPhrases[1] != "late delivery" {
		t.Errorf("key phrases = %v", s.KeyPhrases)
	}
}

func TestBadJSONIsModelError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>`))
	}))
	_, err := c.ExtractEntities(context.Background(), "Alice")
	var se *types.StageError
	if !errors.As(err, &se) || se.Kind != types.KindModel {
		t.Errorf("err = %v, want model error", err)
	}
}
