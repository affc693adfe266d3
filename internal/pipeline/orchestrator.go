// Package pipeline drives an audio record through the analysis stages.
//
// A run takes the per-record lock, resets the record to processing, runs
// transcription as a gate and then fans out to sentiment, entity and summary
// extraction concurrently. Every stage result is persisted before the
// terminal status is written, so a reader never observes a completed record
// with a missing result.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/codebuildervaibhav/speech-insights/internal/stage"
	"github.com/codebuildervaibhav/speech-insights/internal/types"
)

// Store is the persistence the orchestrator writes through.
type Store interface {
	BeginRun(ctx context.Context, id int64) (*types.AudioRecord, error)
	Finish(ctx context.Context, id int64, status types.Status, errMsg *string) (*types.AudioRecord, error)
	UpsertResult(ctx context.Context, res *types.StageResult) error
	ListStale(ctx context.Context, before time.Time) ([]types.AudioRecord, error)
}

// Config holds per-stage budgets and the retry policy.
type Config struct {
	TranscriptionTimeout time.Duration
	SentimentTimeout     time.Duration
	EntityTimeout        time.Duration
	SummaryTimeout       time.Duration

	// MaxAttempts bounds calls per stage, the first one included.
	// Only model and timeout failures are retried.
	MaxAttempts int
	RetryDelay  time.Duration

	KeyPhraseCount int
}

// DefaultConfig returns the documented defaults: one retry, no delay.
func DefaultConfig() Config {
	return Config{
		TranscriptionTimeout: 10 * time.Minute,
		SentimentTimeout:     2 * time.Minute,
		EntityTimeout:        time.Minute,
		SummaryTimeout:       2 * time.Minute,
		MaxAttempts:          2,
		KeyPhraseCount:       5,
	}
}

func (c Config) timeout(kind types.StageKind) time.Duration {
	switch kind {
	case types.StageTranscription:
		return c.TranscriptionTimeout
	case types.StageSentiment:
		return c.SentimentTimeout
	case types.StageEntity:
		return c.EntityTimeout
	case types.StageSummary:
		return c.SummaryTimeout
	}
	return 0
}

// Orchestrator sequences the stages for one record at a time per audio ID
type Orchestrator struct {
	store  Store
	stages stage.Set
	locker Locker
	cfg    Config
	log    *logrus.Entry
	now    func() time.Time
}

// New creates an orchestrator. A nil locker means in-process locking.
func New(store Store, stages stage.Set, locker Locker, cfg Config, log *logrus.Entry) (*Orchestrator, error) {
	if err := stages.Validate(); err != nil {
		return nil, err
	}
	if locker == nil {
		locker = NewLocalLocker()
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Orchestrator{
		store:  store,
		stages: stages,
		locker: locker,
		cfg:    cfg,
		log:    log.WithField("module", "pipeline"),
		now:    time.Now,
	}, nil
}

// Locker returns the lock used to serialize runs, so callers such as record
// deletion can respect it.
func (o *Orchestrator) Locker() Locker {
	return o.locker
}

// StageOutcome summarizes one stage of a run.
type StageOutcome struct {
	Status   types.ResultStatus `json:"status"`
	Attempts int                `json:"attempts"`
	Error    string             `json:"error,omitempty"`
	Duration time.Duration      `json:"duration_ns"`
}

// Outcome is the result of a completed Run.
type Outcome struct {
	AudioID      int64                            `json:"audio_id"`
	Status       types.Status                     `json:"status"`
	ErrorMessage *string                          `json:"error_message"`
	ProcessedAt  *time.Time                       `json:"processed_at"`
	Stages       map[types.StageKind]StageOutcome `json:"stages"`
}

// Run processes one record synchronously and returns once its status is
// terminal. ErrNotFound and ErrConflict are the only failures that describe
// the record; stage failures are reported in the Outcome.
//
// If ctx ends mid-run no terminal status is written and the record stays in
// processing for the recovery sweep to pick up.
func (o *Orchestrator) Run(ctx context.Context, audioID int64) (*Outcome, error) {
	unlock, ok, err := o.locker.TryLock(ctx, audioID)
	if err != nil {
		return nil, fmt.Errorf("lock audio %d: %w", audioID, err)
	}
	if !ok {
		return nil, types.ErrConflict
	}
	defer unlock()

	log := o.log.WithField("audio_id", audioID)

	rec, err := o.store.BeginRun(ctx, audioID)
	if err != nil {
		return nil, err
	}
	log.WithField("file", rec.OriginalFilename).Info("pipeline run started")

	outcome := &Outcome{
		AudioID: audioID,
		Stages:  make(map[types.StageKind]StageOutcome, len(types.AllStages)),
	}

	transcript, so, err := runStage(ctx, o, types.StageTranscription, func(ctx context.Context) (*types.Transcript, error) {
		return o.stages.Transcriber.Transcribe(ctx, rec.FilePath)
	})
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if perr := o.persist(ctx, audioID, types.StageTranscription, transcript, so, err); perr != nil {
		return nil, perr
	}
	outcome.Stages[types.StageTranscription] = so

	if err != nil {
		// downstream stages need the text
		msg := fmt.Sprintf("%s: %s", types.StageTranscription, so.Error)
		return o.finish(ctx, log, outcome, types.StatusFailed, &msg)
	}

	failures := o.runDownstream(ctx, audioID, transcript, outcome)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if failures.err != nil {
		return nil, failures.err
	}

	if len(failures.messages) > 0 {
		msg := strings.Join(failures.messages, "; ")
		return o.finish(ctx, log, outcome, types.StatusFailed, &msg)
	}
	return o.finish(ctx, log, outcome, types.StatusCompleted, nil)
}

type downstreamFailures struct {
	messages []string // in stage order
	err      error    // storage failure
}

// runDownstream runs the three text stages concurrently. Each persists its own
// result; the call returns once all results are written.
func (o *Orchestrator) runDownstream(ctx context.Context, audioID int64, t *types.Transcript, outcome *Outcome) downstreamFailures {
	type slot struct {
		so      StageOutcome
		failed  bool
		saveErr error
	}
	var (
		wg    sync.WaitGroup
		slots = make([]slot, len(types.DownstreamStages))
	)

	for i, kind := range types.DownstreamStages {
		wg.Add(1)
		go func(i int, kind types.StageKind) {
			defer wg.Done()

			var (
				payload any
				so      StageOutcome
				err     error
			)
			switch kind {
			case types.StageSentiment:
				payload, so, err = runStage(ctx, o, kind, func(ctx context.Context) (*types.Sentiment, error) {
					return o.stages.Sentiment.AnalyzeSentiment(ctx, t.FullText, t.Segments)
				})
			case types.StageEntity:
				payload, so, err = runStage(ctx, o, kind, func(ctx context.Context) (*types.Entities, error) {
					e, err := o.stages.Entity.ExtractEntities(ctx, t.FullText)
					if err != nil || e == nil {
						return e, err
					}
					// counts are derived from the list, whatever the backend reported
					return types.NewEntities(e.Entities), nil
				})
			case types.StageSummary:
				payload, so, err = runStage(ctx, o, kind, func(ctx context.Context) (*types.Summary, error) {
					return o.stages.Summarizer.Summarize(ctx, t.FullText, o.cfg.KeyPhraseCount, t.Segments)
				})
			}
			if ctx.Err() != nil {
				return
			}
			slots[i] = slot{so: so, failed: err != nil}
			slots[i].saveErr = o.persist(ctx, audioID, kind, payload, so, err)
		}(i, kind)
	}
	wg.Wait()

	var f downstreamFailures
	for i, kind := range types.DownstreamStages {
		s := slots[i]
		if s.saveErr != nil && f.err == nil {
			f.err = s.saveErr
		}
		outcome.Stages[kind] = s.so
		if s.failed {
			f.messages = append(f.messages, fmt.Sprintf("%s: %s", kind, s.so.Error))
		}
	}
	return f
}

// persist writes the stage result, succeeded when stageErr is nil.
func (o *Orchestrator) persist(ctx context.Context, audioID int64, kind types.StageKind, payload any, so StageOutcome, stageErr error) error {
	res := &types.StageResult{
		AudioID:  audioID,
		Stage:    kind,
		Status:   so.Status,
		Attempts: so.Attempts,
	}
	if stageErr != nil {
		res.ErrorDetail = so.Error
	} else {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s result: %w", kind, err)
		}
		res.Payload = data
	}
	if err := o.store.UpsertResult(ctx, res); err != nil {
		return fmt.Errorf("persist %s result: %w", kind, err)
	}
	return nil
}

func (o *Orchestrator) finish(ctx context.Context, log *logrus.Entry, outcome *Outcome, status types.Status, msg *string) (*Outcome, error) {
	rec, err := o.store.Finish(ctx, outcome.AudioID, status, msg)
	if err != nil {
		return nil, fmt.Errorf("finish run: %w", err)
	}
	outcome.Status = rec.Status
	outcome.ErrorMessage = rec.ErrorMessage
	outcome.ProcessedAt = rec.ProcessedAt

	entry := log.WithField("status", status)
	if msg != nil {
		entry.WithField("error", *msg).Warn("pipeline run failed")
	} else {
		entry.Info("pipeline run completed")
	}
	return outcome, nil
}

// StaleRuns lists records left in processing with no progress for olderThan.
// Passing each one back to Run restarts it from scratch.
func (o *Orchestrator) StaleRuns(ctx context.Context, olderThan time.Duration) ([]types.AudioRecord, error) {
	return o.store.ListStale(ctx, o.now().Add(-olderThan))
}

// IsStructural reports whether err describes the request rather than a stage.
func IsStructural(err error) bool {
	return errors.Is(err, types.ErrNotFound) || errors.Is(err, types.ErrConflict)
}
