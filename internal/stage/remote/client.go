// Package remote adapts an HTTP model server to the stage interfaces.
//
// The server exposes one endpoint per stage:
//
//	POST /transcribe  multipart "file"          -> Transcript
//	POST /sentiment   {"text","segments"}       -> Sentiment
//	POST /entities    {"text"}                  -> Entities
//	POST /summarize   {"text","key_phrase_count","segments"} -> Summary
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/speech-insights/internal/types"
)

// Client calls a model server over HTTP. One Client serves all four stages.
type Client struct {
	baseURL    string
	apiKey     string
	minChars   int
	httpClient *http.Client
	log        *logrus.Entry
}

// Options configures a Client.
type Options struct {
	BaseURL string
	APIKey  string
	// SummaryMinChars is the shortest text sent for summarization.
	SummaryMinChars int
	HTTPClient      *http.Client
}

// NewClient creates a model server client
func NewClient(opts Options, log *logrus.Entry) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		// per-call deadlines come from the context
		hc = &http.Client{Transport: http.DefaultTransport}
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		minChars:   opts.SummaryMinChars,
		httpClient: hc,
		log:        log.WithField("module", "remote"),
	}
}

// Transcribe uploads the audio file. A 4xx answer means the server could not
// read the audio.
func (c *Client) Transcribe(ctx context.Context, audioPath string) (*types.Transcript, error) {
	started := time.Now()

	f, err := os.Open(audioPath)
	if err != nil {
		return nil, types.NewDecodeError(fmt.Errorf("open audio: %w", err))
	}
	defer f.Close()

	var b bytes.Buffer
	w := multipart.NewWriter(&b)
	part, err := w.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, types.NewDecodeError(fmt.Errorf("read audio: %w", err))
	}
	_ = w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transcribe", &b)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var t types.Transcript
	if err := c.do(req, &t, true); err != nil {
		return nil, err
	}
	t.FullText = strings.TrimSpace(t.FullText)
	if t.Segments == nil {
		t.Segments = []types.Segment{}
	}
	if t.WordCount == 0 {
		t.WordCount = len(strings.Fields(t.FullText))
	}
	if t.ProcessingTimeSeconds == 0 {
		t.ProcessingTimeSeconds = time.Since(started).Seconds()
	}
	return &t, nil
}

// AnalyzeSentiment answers empty text locally with a zero-confidence neutral.
func (c *Client) AnalyzeSentiment(ctx context.Context, text string, segments []types.Segment) (*types.Sentiment, error) {
	if strings.TrimSpace(text) == "" {
		return types.NeutralSentiment(), nil
	}
	var s types.Sentiment
	body := map[string]any{"text": text, "segments": segments}
	if err := c.postJSON(ctx, "/sentiment", body, &s); err != nil {
		return nil, err
	}
	switch s.OverallSentiment {
	case types.SentimentPositive, types.SentimentNegative, types.SentimentNeutral:
	default:
		return nil, types.NewModelError(fmt.Errorf("unknown sentiment label %q", s.OverallSentiment))
	}
	return &s, nil
}

// ExtractEntities recomputes the label counts from the returned list.
func (c *Client) ExtractEntities(ctx context.Context, text string) (*types.Entities, error) {
	if strings.TrimSpace(text) == "" {
		return types.NewEntities(nil), nil
	}
	var e types.Entities
	if err := c.postJSON(ctx, "/entities", map[string]any{"text": text}, &e); err != nil {
		return nil, err
	}
	return types.NewEntities(e.Entities), nil
}

// Summarize returns short text unchanged without calling the server.
func (c *Client) Summarize(ctx context.Context, text string, keyPhraseCount int, segments []types.Segment) (*types.Summary, error) {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < c.minChars || text == "" {
		return &types.Summary{Summary: text, KeyPhrases: []string{}}, nil
	}
	var s types.Summary
	body := map[string]any{"text": text, "key_phrase_count": keyPhraseCount, "segments": segments}
	if err := c.postJSON(ctx, "/summarize", body, &s); err != nil {
		return nil, err
	}
	s.KeyPhrases = unique(s.KeyPhrases)
	return &s, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, target any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, target, false)
}

// do sends req and decodes a JSON answer. Transport failures and 5xx are model
// errors; 4xx is a decode error only when rejectIsDecode is set.
func (c *Client) do(req *http.Request, target any, rejectIsDecode bool) error {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return ctxErr
		}
		return types.NewModelError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.NewModelError(fmt.Errorf("read response: %w", err))
	}

	c.log.WithFields(logrus.Fields{
		"path":   req.URL.Path,
		"status": resp.StatusCode,
	}).Debug("model server call")

	switch {
	case resp.StatusCode >= 500:
		return types.NewModelError(fmt.Errorf("server error %d: %s", resp.StatusCode, snippet(body)))
	case resp.StatusCode >= 400:
		err := fmt.Errorf("request rejected %d: %s", resp.StatusCode, snippet(body))
		if rejectIsDecode {
			return types.NewDecodeError(err)
		}
		return types.NewModelError(err)
	}

	if err := json.Unmarshal(body, target); err != nil {
		return types.NewModelError(fmt.Errorf("json decode error: %v body=%s", err, snippet(body)))
	}
	return nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

func unique(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
