// Package analysis serves the read side: partial-tolerant views of a record
// and whatever stage results it has so far.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/codebuildervaibhav/speech-insights/internal/types"
)

// Store is the read access the reader needs. Snapshot must return the record
// and its results as of a single point in time.
type Store interface {
	Snapshot(ctx context.Context, audioID int64) (*types.AudioRecord, map[types.StageKind]*types.StageResult, error)
}

// CompositeView is the aggregated analysis of one record. Stage fields are
// nil until that stage has succeeded.
type CompositeView struct {
	Audio              *types.AudioRecord         `json:"audio"`
	Transcript         *types.Transcript          `json:"transcript"`
	Sentiment          *types.Sentiment           `json:"sentiment"`
	Entities           *types.Entities            `json:"entities"`
	Summary            *types.Summary             `json:"summary"`
	ProcessingComplete bool                       `json:"processing_complete"`
	Failures           map[types.StageKind]string `json:"failures,omitempty"`
}

// State tells a caller why a stage accessor has or lacks data.
type State string

// Accessor states
const (
	StateAvailable      State = "available"
	StateNotReady       State = "not_ready"
	StateStageFailed    State = "stage_failed"
	StatePipelineFailed State = "pipeline_failed"
)

// StageView is the outcome of a single-stage accessor.
type StageView[T any] struct {
	AudioID int64        `json:"audio_id"`
	Stage   string       `json:"stage"`
	State   State        `json:"state"`
	Status  types.Status `json:"status"`
	Data    *T           `json:"data,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// Reader answers analysis queries. It never writes.
type Reader struct {
	store Store
}

// NewReader creates a reader over store.
func NewReader(store Store) *Reader {
	return &Reader{store: store}
}

// GetFullAnalysis returns the record plus every stage result that exists.
// Only a missing record is an error.
func (r *Reader) GetFullAnalysis(ctx context.Context, audioID int64) (*CompositeView, error) {
	rec, results, err := r.store.Snapshot(ctx, audioID)
	if err != nil {
		return nil, err
	}

	view := &CompositeView{
		Audio:              rec,
		ProcessingComplete: rec.Status == types.StatusCompleted,
	}
	for _, kind := range types.AllStages {
		res := results[kind]
		switch {
		case res == nil:
			continue
		case !res.Succeeded():
			if view.Failures == nil {
				view.Failures = make(map[types.StageKind]string)
			}
			view.Failures[kind] = res.ErrorDetail
			continue
		}

		var derr error
		switch kind {
		case types.StageTranscription:
			view.Transcript, derr = decode[types.Transcript](res)
		case types.StageSentiment:
			view.Sentiment, derr = decode[types.Sentiment](res)
		case types.StageEntity:
			view.Entities, derr = decode[types.Entities](res)
			if derr == nil {
				view.Entities = types.NewEntities(view.Entities.Entities)
			}
		case types.StageSummary:
			view.Summary, derr = decode[types.Summary](res)
		}
		if derr != nil {
			return nil, derr
		}
	}
	return view, nil
}

// GetTranscript returns the transcription stage outcome.
func (r *Reader) GetTranscript(ctx context.Context, audioID int64) (*StageView[types.Transcript], error) {
	return getStage[types.Transcript](ctx, r.store, audioID, types.StageTranscription)
}

// GetSentiment returns the sentiment stage outcome.
func (r *Reader) GetSentiment(ctx context.Context, audioID int64) (*StageView[types.Sentiment], error) {
	return getStage[types.Sentiment](ctx, r.store, audioID, types.StageSentiment)
}

// GetEntities returns the entity stage outcome, restricted to label when it
// is non-empty. Counts always match the returned list.
func (r *Reader) GetEntities(ctx context.Context, audioID int64, label string) (*StageView[types.Entities], error) {
	v, err := getStage[types.Entities](ctx, r.store, audioID, types.StageEntity)
	if err != nil {
		return nil, err
	}
	if v.Data != nil {
		if label != "" {
			v.Data = v.Data.Filter(label)
		} else {
			v.Data = types.NewEntities(v.Data.Entities)
		}
	}
	return v, nil
}

// GetSummary returns the summary stage outcome.
func (r *Reader) GetSummary(ctx context.Context, audioID int64) (*StageView[types.Summary], error) {
	return getStage[types.Summary](ctx, r.store, audioID, types.StageSummary)
}

func getStage[T any](ctx context.Context, store Store, audioID int64, kind types.StageKind) (*StageView[T], error) {
	rec, results, err := store.Snapshot(ctx, audioID)
	if err != nil {
		return nil, err
	}

	res := results[kind]
	v := &StageView[T]{
		AudioID: audioID,
		Stage:   string(kind),
		State:   stageState(rec, res),
		Status:  rec.Status,
	}
	switch v.State {
	case StateAvailable:
		data, err := decode[T](res)
		if err != nil {
			return nil, err
		}
		v.Data = data
	case StateStageFailed:
		v.Error = res.ErrorDetail
	case StatePipelineFailed:
		if rec.ErrorMessage != nil {
			v.Error = *rec.ErrorMessage
		}
	}
	return v, nil
}

func stageState(rec *types.AudioRecord, res *types.StageResult) State {
	switch {
	case res.Succeeded():
		return StateAvailable
	case res != nil:
		return StateStageFailed
	case rec.Status == types.StatusFailed:
		// the run ended without reaching this stage
		return StatePipelineFailed
	}
	return StateNotReady
}

// StageStates reports the accessor state of every stage in the view.
func (v *CompositeView) StageStates() map[types.StageKind]State {
	states := make(map[types.StageKind]State, len(types.AllStages))
	for _, kind := range types.AllStages {
		var present bool
		switch kind {
		case types.StageTranscription:
			present = v.Transcript != nil
		case types.StageSentiment:
			present = v.Sentiment != nil
		case types.StageEntity:
			present = v.Entities != nil
		case types.StageSummary:
			present = v.Summary != nil
		}
		switch _, failed := v.Failures[kind]; {
		case present:
			states[kind] = StateAvailable
		case failed:
			states[kind] = StateStageFailed
		case v.Audio.Status == types.StatusFailed:
			states[kind] = StatePipelineFailed
		default:
			states[kind] = StateNotReady
		}
	}
	return states
}

func decode[T any](res *types.StageResult) (*T, error) {
	var out T
	if err := json.Unmarshal(res.Payload, &out); err != nil {
		return nil, fmt.Errorf("decode %s result for audio %d: %w", res.Stage, res.AudioID, err)
	}
	return &out, nil
}
