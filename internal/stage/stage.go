// Package stage defines the analysis capabilities the pipeline drives.
//
// Each capability is an interface so that local and remote model backends can
// be swapped without touching orchestration. Implementations own any loaded
// model state and must be safe for concurrent use.
package stage

import (
	"context"
	"errors"

	"github.com/codebuildervaibhav/speech-insights/internal/types"
)

// Transcriber turns an audio file into a transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (*types.Transcript, error)
}

// SentimentAnalyzer classifies the polarity of a transcript.
// Empty text yields neutral with zero confidence, never an error.
type SentimentAnalyzer interface {
	AnalyzeSentiment(ctx context.Context, text string, segments []types.Segment) (*types.Sentiment, error)
}

// EntityExtractor finds named entities in a transcript.
// Empty text yields an empty list and an empty count map.
type EntityExtractor interface {
	ExtractEntities(ctx context.Context, text string) (*types.Entities, error)
}

// Summarizer condenses a transcript. Text shorter than the backend's minimum
// length is returned as its own summary with no key phrases.
type Summarizer interface {
	Summarize(ctx context.Context, text string, keyPhraseCount int, segments []types.Segment) (*types.Summary, error)
}

// Set bundles one implementation of every stage.
type Set struct {
	Transcriber Transcriber
	Sentiment   SentimentAnalyzer
	Entity      EntityExtractor
	Summarizer  Summarizer
}

// Validate reports a missing stage.
func (s Set) Validate() error {
	switch {
	case s.Transcriber == nil:
		return errors.New("stage set: transcriber is nil")
	case s.Sentiment == nil:
		return errors.New("stage set: sentiment analyzer is nil")
	case s.Entity == nil:
		return errors.New("stage set: entity extractor is nil")
	case s.Summarizer == nil:
		return errors.New("stage set: summarizer is nil")
	}
	return nil
}

// Closer is implemented by stages holding resources that must be released at shutdown.
type Closer interface {
	Close() error
}

// Close releases every stage that holds resources.
func (s Set) Close() error {
	var errs []error
	for _, st := range []any{s.Transcriber, s.Sentiment, s.Entity, s.Summarizer} {
		if c, ok := st.(Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
