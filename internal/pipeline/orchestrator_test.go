package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/codebuildervaibhav/speech-insights/internal/stage"
	"github.com/codebuildervaibhav/speech-insights/internal/stage/lexical"
	"github.com/codebuildervaibhav/speech-insights/internal/storage"
	"github.com/codebuildervaibhav/speech-insights/internal/types"
)

// script hands out one scripted error per call and counts calls.
type script struct {
	mu    sync.Mutex
	calls int
	errs  []error
	delay time.Duration // slept without watching ctx
}

func (s *script) next() error {
	s.mu.Lock()
	s.calls++
	n := s.calls
	delay := s.delay
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if n <= len(s.errs) {
		return s.errs[n-1]
	}
	return nil
}

func (s *script) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeTranscriber struct {
	script
	text string
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audioPath string) (*types.Transcript, error) {
	if err := f.next(); err != nil {
		return nil, err
	}
	return &types.Transcript{
		FullText:  f.text,
		Segments:  []types.Segment{{ID: 0, Text: f.text, Start: 0, End: 2}},
		WordCount: len(strings.Fields(f.text)),
	}, nil
}

type fakeSentiment struct {
	script
	result *types.Sentiment
}

func (f *fakeSentiment) AnalyzeSentiment(ctx context.Context, text string, segments []types.Segment) (*types.Sentiment, error) {
	if err := f.next(); err != nil {
		return nil, err
	}
	if f.result != nil {
		return f.result, nil
	}
	return lexical.NewSentimentAnalyzer().AnalyzeSentiment(ctx, text, segments)
}

type fakeEntities struct {
	script
	result *types.Entities
}

func (f *fakeEntities) ExtractEntities(ctx context.Context, text string) (*types.Entities, error) {
	if err := f.next(); err != nil {
		return nil, err
	}
	if f.result != nil {
		return f.result, nil
	}
	return lexical.NewEntityExtractor().ExtractEntities(ctx, text)
}

type fakeSummarizer struct {
	script
}

func (f *fakeSummarizer) Summarize(ctx context.Context, text string, n int, segments []types.Segment) (*types.Summary, error) {
	if err := f.next(); err != nil {
		return nil, err
	}
	return lexical.NewSummarizer(lexical.DefaultMinChars).Summarize(ctx, text, n, segments)
}

type fixture struct {
	store *storage.SQLStore
	orch  *Orchestrator
	tr    *fakeTranscriber
	sent  *fakeSentiment
	ent   *fakeEntities
	sum   *fakeSummarizer
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	store, err := storage.Open(context.Background(), storage.Options{Driver: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	f := &fixture{
		store: store,
		tr:    &fakeTranscriber{text: "Hi, my name is Sarah Connor and I work at Acme Corp."},
		sent:  &fakeSentiment{},
		ent:   &fakeEntities{},
		sum:   &fakeSummarizer{},
	}
	log, _ := test.NewNullLogger()
	f.orch, err = New(store, stage.Set{
		Transcriber: f.tr,
		Sentiment:   f.sent,
		Entity:      f.ent,
		Summarizer:  f.sum,
	}, nil, cfg, log.WithField("test", t.Name()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return f
}

func (f *fixture) create(t *testing.T) int64 {
	t.Helper()
	rec := &types.AudioRecord{
		OriginalFilename: "call.wav",
		StoredFilename:   "stored.wav",
		FilePath:         "/tmp/stored.wav",
		Format:           "wav",
	}
	if err := f.store.Create(context.Background(), rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return rec.ID
}

func (f *fixture) results(t *testing.T, id int64) map[types.StageKind]*types.StageResult {
	t.Helper()
	all, err := f.store.GetAll(context.Background(), id)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	return all
}

func checkTerminalInvariant(t *testing.T, rec *types.AudioRecord) {
	t.Helper()
	if rec.Status.Terminal() != (rec.ProcessedAt != nil) {
		t.Errorf("status %s with processed_at %v", rec.Status, rec.ProcessedAt)
	}
	if (rec.Status == types.StatusFailed) != (rec.ErrorMessage != nil) {
		t.Errorf("status %s with error_message %v", rec.Status, rec.ErrorMessage)
	}
}

func TestRunCompletes(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	id := f.create(t)

	out, err := f.orch.Run(context.Background(), id)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Status != types.StatusCompleted {
		t.Fatalf("status = %s, want completed", out.Status)
	}
	if out.ProcessedAt == nil || out.ErrorMessage != nil {
		t.Errorf("processed_at = %v, error_message = %v", out.ProcessedAt, out.ErrorMessage)
	}

	rec, _ := f.store.Get(context.Background(), id)
	checkTerminalInvariant(t, rec)

	all := f.results(t, id)
	if len(all) != len(types.AllStages) {
		t.Fatalf("got %d results, want %d", len(all), len(types.AllStages))
	}
	for _, kind := range types.AllStages {
		if !all[kind].Succeeded() {
			t.Errorf("%s status = %s, want succeeded", kind, all[kind].Status)
		}
		if out.Stages[kind].Attempts != 1 {
			t.Errorf("%s attempts = %d, want 1", kind, out.Stages[kind].Attempts)
		}
	}

	var ents types.Entities
	if err := json.Unmarshal(all[types.StageEntity].Payload, &ents); err != nil {
		t.Fatalf("decode entities: %v", err)
	}
	counts := types.CountLabels(ents.Entities)
	for label, n := range ents.EntityCounts {
		if counts[label] != n {
			t.Errorf("entity_counts[%s] = %d, want %d", label, n, counts[label])
		}
	}
	if len(counts) != len(ents.EntityCounts) {
		t.Errorf("entity_counts has %d labels, want %d", len(ents.EntityCounts), len(counts))
	}
}

func TestRunRecountsEntities(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.ent.result = &types.Entities{
		Entities:     []types.Entity{{Text: "Acme Corp", Label: "ORG"}},
		EntityCounts: map[string]int{"ORG": 5, "PERSON": 2},
	}
	id := f.create(t)

	if _, err := f.orch.Run(context.Background(), id); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var ents types.Entities
	if err := json.Unmarshal(f.results(t, id)[types.StageEntity].Payload, &ents); err != nil {
		t.Fatalf("decode entities: %v", err)
	}
	want := map[string]int{"ORG": 1}
	if !reflect.DeepEqual(ents.EntityCounts, want) {
		t.Errorf("entity_counts = %v, want %v", ents.EntityCounts, want)
	}
}

func TestRunNeutralSentimentScenario(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.tr.text = "The quick brown fox"
	f.sent.result = &types.Sentiment{
		OverallSentiment: types.SentimentNeutral,
		Confidence:       0.8,
		Scores:           types.SentimentScores{Positive: 0.1, Negative: 0.1, Neutral: 0.8},
	}
	id := f.create(t)

	out, err := f.orch.Run(context.Background(), id)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Status != types.StatusCompleted {
		t.Fatalf("status = %s, want completed", out.Status)
	}

	res, ok, err := f.store.GetResult(context.Background(), id, types.StageSentiment)
	if err != nil || !ok {
		t.Fatalf("GetResult = %v, %v", ok, err)
	}
	var s types.Sentiment
	if err := json.Unmarshal(res.Payload, &s); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s.OverallSentiment != types.SentimentNeutral || s.Confidence != 0.8 {
		t.Errorf("sentiment = %s/%v, want neutral/0.8", s.OverallSentiment, s.Confidence)
	}
}

func TestRunEmptyTranscriptCompletes(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.tr.text = ""
	id := f.create(t)

	out, err := f.orch.Run(context.Background(), id)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Status != types.StatusCompleted {
		t.Fatalf("status = %s, want completed (%v)", out.Status, out.ErrorMessage)
	}

	all := f.results(t, id)
	var ents types.Entities
	if err := json.Unmarshal(all[types.StageEntity].Payload, &ents); err != nil {
		t.Fatalf("decode entities: %v", err)
	}
	if len(ents.Entities) != 0 || len(ents.EntityCounts) != 0 {
		t.Errorf("entities = %+v, want empty", ents)
	}
	var s types.Sentiment
	if err := json.Unmarshal(all[types.StageSentiment].Payload, &s); err != nil {
		t.Fatalf("decode sentiment: %v", err)
	}
	if s.OverallSentiment != types.SentimentNeutral || s.Confidence != 0 {
		t.Errorf("sentiment = %s/%v, want neutral/0", s.OverallSentiment, s.Confidence)
	}
}

func TestRunTranscriptionFailureSkipsDownstream(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.tr.errs = []error{types.NewDecodeError(errors.New("not an audio file"))}
	id := f.create(t)

	out, err := f.orch.Run(context.Background(), id)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Status != types.StatusFailed {
		t.Fatalf("status = %s, want failed", out.Status)
	}
	if out.ErrorMessage == nil || !strings.HasPrefix(*out.ErrorMessage, "transcription: ") {
		t.Errorf("error_message = %v, want transcription prefix", out.ErrorMessage)
	}

	all := f.results(t, id)
	if len(all) != 1 {
		t.Errorf("got %d results, want only transcription", len(all))
	}
	if all[types.StageTranscription].Succeeded() {
		t.Error("transcription result marked succeeded")
	}
	if f.tr.count() != 1 {
		t.Errorf("decode error retried: %d calls, want 1", f.tr.count())
	}
	for _, s := range []*script{&f.sent.script, &f.ent.script, &f.sum.script} {
		if s.count() != 0 {
			t.Errorf("downstream stage called %d times, want 0", s.count())
		}
	}

	rec, _ := f.store.Get(context.Background(), id)
	checkTerminalInvariant(t, rec)
}

func TestRunPartialDownstreamFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAttempts = 1
	f := newFixture(t, cfg)
	f.sent.errs = []error{types.NewModelError(errors.New("backend unavailable"))}
	id := f.create(t)

	out, err := f.orch.Run(context.Background(), id)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Status != types.StatusFailed {
		t.Fatalf("status = %s, want failed", out.Status)
	}
	want := "sentiment: model error: backend unavailable"
	if out.ErrorMessage == nil || *out.ErrorMessage != want {
		t.Errorf("error_message = %v, want %q", out.ErrorMessage, want)
	}

	all := f.results(t, id)
	for _, kind := range []types.StageKind{types.StageTranscription, types.StageEntity, types.StageSummary} {
		if !all[kind].Succeeded() {
			t.Errorf("%s not succeeded", kind)
		}
	}
	if r := all[types.StageSentiment]; r == nil || r.Succeeded() || r.ErrorDetail == "" {
		t.Errorf("sentiment result = %+v, want failed with detail", r)
	}
}

func TestRunJoinsFailuresInStageOrder(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAttempts = 1
	f := newFixture(t, cfg)
	f.sum.errs = []error{types.NewModelError(errors.New("summary down"))}
	f.sent.errs = []error{types.NewModelError(errors.New("sentiment down"))}
	id := f.create(t)

	out, err := f.orch.Run(context.Background(), id)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := "sentiment: model error: sentiment down; summary: model error: summary down"
	if out.ErrorMessage == nil || *out.ErrorMessage != want {
		t.Errorf("error_message = %v, want %q", out.ErrorMessage, want)
	}
}

func TestRunRetriesTransientFailures(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.sent.errs = []error{types.NewModelError(errors.New("flaky"))}
	f.ent.errs = []error{context.DeadlineExceeded}
	f.sum.errs = []error{types.NewModelError(errors.New("down")), types.NewModelError(errors.New("still down"))}
	id := f.create(t)

	out, err := f.orch.Run(context.Background(), id)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	tests := []struct {
		kind     types.StageKind
		calls    int
		status   types.ResultStatus
		attempts int
	}{
		{types.StageSentiment, f.sent.count(), types.ResultSucceeded, 2},
		{types.StageEntity, f.ent.count(), types.ResultSucceeded, 2},
		{types.StageSummary, f.sum.count(), types.ResultFailed, 2},
	}
	for _, tt := range tests {
		if tt.calls != tt.attempts {
			t.Errorf("%s calls = %d, want %d", tt.kind, tt.calls, tt.attempts)
		}
		got := out.Stages[tt.kind]
		if got.Status != tt.status || got.Attempts != tt.attempts {
			t.Errorf("%s = %s after %d attempts, want %s after %d", tt.kind, got.Status, got.Attempts, tt.status, tt.attempts)
		}
	}

	res, _, _ := f.store.GetResult(context.Background(), id, types.StageSummary)
	if res.Attempts != 2 {
		t.Errorf("persisted attempts = %d, want 2", res.Attempts)
	}
	if out.ErrorMessage == nil || *out.ErrorMessage != "summary: model error: still down" {
		t.Errorf("error_message = %v", out.ErrorMessage)
	}
}

func TestRunTimeoutOnStageIgnoringContext(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EntityTimeout = 20 * time.Millisecond
	f := newFixture(t, cfg)
	f.ent.delay = 200 * time.Millisecond
	id := f.create(t)

	start := time.Now()
	out, err := f.orch.Run(context.Background(), id)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// two attempts, each abandoned at the budget
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Errorf("run took %v, want stage budget enforced", elapsed)
	}
	got := out.Stages[types.StageEntity]
	if got.Status != types.ResultFailed || got.Attempts != 2 {
		t.Errorf("entity = %s after %d attempts, want failed after 2", got.Status, got.Attempts)
	}
	if !strings.Contains(got.Error, "timeout error") {
		t.Errorf("entity error = %q, want timeout", got.Error)
	}
}

func TestRunRecoversStagePanic(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAttempts = 1
	f := newFixture(t, cfg)
	f.orch.stages.Summarizer = panicSummarizer{}
	id := f.create(t)

	out, err := f.orch.Run(context.Background(), id)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := out.Stages[types.StageSummary]; got.Status != types.ResultFailed || !strings.Contains(got.Error, "panicked") {
		t.Errorf("summary = %+v, want failed panic", got)
	}
}

type panicSummarizer struct{}

func (panicSummarizer) Summarize(context.Context, string, int, []types.Segment) (*types.Summary, error) {
	panic("model weights missing")
}

func TestRunRerunOverwrites(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	id := f.create(t)

	first, err := f.orch.Run(context.Background(), id)
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	time.Sleep(2 * time.Millisecond)

	f.tr.text = "The package arrived damaged and support was rude."
	second, err := f.orch.Run(context.Background(), id)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if !second.ProcessedAt.After(*first.ProcessedAt) {
		t.Errorf("processed_at %v not after %v", second.ProcessedAt, first.ProcessedAt)
	}

	res, _, _ := f.store.GetResult(context.Background(), id, types.StageTranscription)
	var tr types.Transcript
	if err := json.Unmarshal(res.Payload, &tr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tr.FullText != f.tr.text {
		t.Errorf("transcript = %q, want %q", tr.FullText, f.tr.text)
	}
	if n := len(f.results(t, id)); n != 4 {
		t.Errorf("got %d results, want 4", n)
	}
}

func TestRunNotFound(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	if _, err := f.orch.Run(context.Background(), 404); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRunConflict(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	id := f.create(t)

	unlock, ok, _ := f.orch.Locker().TryLock(context.Background(), id)
	if !ok {
		t.Fatal("could not take lock")
	}
	_, err := f.orch.Run(context.Background(), id)
	if !errors.Is(err, types.ErrConflict) || !IsStructural(err) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
	rec, _ := f.store.Get(context.Background(), id)
	if rec.Status != types.StatusPending {
		t.Errorf("status = %s, want pending untouched", rec.Status)
	}

	unlock()
	if _, err := f.orch.Run(context.Background(), id); err != nil {
		t.Errorf("Run after unlock: %v", err)
	}
}

func TestRunConcurrentCallsSerialize(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.tr.delay = 50 * time.Millisecond
	id := f.create(t)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		conflicts int
	)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.orch.Run(context.Background(), id); errors.Is(err, types.ErrConflict) {
				mu.Lock()
				conflicts++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if conflicts != 2 {
		t.Errorf("conflicts = %d, want 2", conflicts)
	}
}

func TestRunCancelledLeavesProcessing(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.sum.delay = 200 * time.Millisecond
	id := f.create(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if _, err := f.orch.Run(ctx, id); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context deadline", err)
	}
	rec, err := f.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != types.StatusProcessing || rec.ProcessedAt != nil {
		t.Errorf("status = %s processed_at = %v, want processing/nil", rec.Status, rec.ProcessedAt)
	}
	if f.orch.locker.(*LocalLocker).Held(id) {
		t.Error("lock still held after cancelled run")
	}
}

func TestStaleRuns(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	id := f.create(t)
	if _, err := f.store.BeginRun(context.Background(), id); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}

	f.orch.now = func() time.Time { return time.Now().Add(time.Hour) }
	stale, err := f.orch.StaleRuns(context.Background(), 30*time.Minute)
	if err != nil {
		t.Fatalf("StaleRuns: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != id {
		t.Fatalf("stale = %+v, want record %d", stale, id)
	}

	if _, err := f.orch.Run(context.Background(), id); err != nil {
		t.Fatalf("Run: %v", err)
	}
	stale, _ = f.orch.StaleRuns(context.Background(), 30*time.Minute)
	if len(stale) != 0 {
		t.Errorf("stale after rerun = %d, want 0", len(stale))
	}
}

func TestNewRejectsIncompleteSet(t *testing.T) {
	log, _ := test.NewNullLogger()
	_, err := New(nil, stage.Set{Transcriber: &fakeTranscriber{}}, nil, DefaultConfig(), log.WithField("test", t.Name()))
	if err == nil {
		t.Error("New accepted a set without downstream stages")
	}
}

func TestLocalLockerUnlockIdempotent(t *testing.T) {
	l := NewLocalLocker()
	unlock, ok, _ := l.TryLock(context.Background(), 7)
	if !ok {
		t.Fatal("first TryLock failed")
	}
	if _, ok, _ := l.TryLock(context.Background(), 7); ok {
		t.Error("second TryLock succeeded while held")
	}
	unlock()
	again, ok, _ := l.TryLock(context.Background(), 7)
	if !ok {
		t.Fatal("TryLock after unlock failed")
	}
	unlock() // stale unlock must not release the new holder
	if !l.Held(7) {
		t.Error("stale unlock released a newer lock")
	}
	again()
}
