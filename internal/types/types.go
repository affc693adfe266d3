package types

import (
	"sort"
	"time"
)

// Status is the lifecycle state of an AudioRecord.
type Status string

// Record status constants
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s ends a pipeline run.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// StageKind identifies one analysis stage.
type StageKind string

// Stage kinds, in execution order
const (
	StageTranscription StageKind = "transcription"
	StageSentiment     StageKind = "sentiment"
	StageEntity        StageKind = "entity"
	StageSummary       StageKind = "summary"
)

// AllStages lists every stage in execution order.
var AllStages = []StageKind{StageTranscription, StageSentiment, StageEntity, StageSummary}

// DownstreamStages are the stages fed by the transcript.
var DownstreamStages = []StageKind{StageSentiment, StageEntity, StageSummary}

// Valid reports whether k is a known stage.
func (k StageKind) Valid() bool {
	for _, s := range AllStages {
		if s == k {
			return true
		}
	}
	return false
}

// ResultStatus is the outcome of one stage.
type ResultStatus string

// Stage result status constants
const (
	ResultSucceeded ResultStatus = "succeeded"
	ResultFailed    ResultStatus = "failed"
)

// AudioRecord represents one uploaded file and its processing lifecycle
type AudioRecord struct {
	ID               int64      `json:"id"`
	OriginalFilename string     `json:"original_filename"`
	StoredFilename   string     `json:"stored_filename"`
	FilePath         string     `json:"-"`
	SizeBytes        int64      `json:"size_bytes"`
	DurationSeconds  *float64   `json:"duration_seconds"`
	Format           string     `json:"format,omitempty"`
	Status           Status     `json:"status"`
	ErrorMessage     *string    `json:"error_message"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	ProcessedAt      *time.Time `json:"processed_at"`
}

// StageResult is the persisted output (or failure) of one stage for one record
type StageResult struct {
	AudioID     int64        `json:"audio_id"`
	Stage       StageKind    `json:"stage"`
	Status      ResultStatus `json:"status"`
	Payload     []byte       `json:"payload,omitempty"`
	ErrorDetail string       `json:"error_detail,omitempty"`
	Attempts    int          `json:"attempts"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Succeeded reports whether the stage produced a payload.
func (r *StageResult) Succeeded() bool {
	return r != nil && r.Status == ResultSucceeded
}

// WordTimestamp is one word with its timing inside a segment
type WordTimestamp struct {
	Word       string  `json:"word"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

// Segment represents a timestamped segment of transcription
type Segment struct {
	ID    int             `json:"id"`
	Text  string          `json:"text"`
	Start float64         `json:"start"`
	End   float64         `json:"end"`
	Words []WordTimestamp `json:"words,omitempty"`
}

// Transcript is the output of the transcription stage
type Transcript struct {
	FullText              string    `json:"full_text"`
	Language              *string   `json:"language"`
	Segments              []Segment `json:"segments"`
	WordCount             int       `json:"word_count"`
	DurationSeconds       float64   `json:"duration_seconds,omitempty"`
	ProcessingTimeSeconds float64   `json:"processing_time_seconds"`
}

// SentimentLabel is the polarity assigned by the sentiment stage.
type SentimentLabel string

// Sentiment labels
const (
	SentimentPositive SentimentLabel = "positive"
	SentimentNegative SentimentLabel = "negative"
	SentimentNeutral  SentimentLabel = "neutral"
)

// SentimentScores holds per-label probabilities.
type SentimentScores struct {
	Positive float64 `json:"positive"`
	Negative float64 `json:"negative"`
	Neutral  float64 `json:"neutral"`
}

// SegmentSentiment is the sentiment of one transcript segment
type SegmentSentiment struct {
	Text       string         `json:"text"`
	Sentiment  SentimentLabel `json:"sentiment"`
	Confidence float64        `json:"confidence"`
	Start      *float64       `json:"start,omitempty"`
	End        *float64       `json:"end,omitempty"`
}

// Sentiment is the output of the sentiment stage
type Sentiment struct {
	OverallSentiment  SentimentLabel     `json:"overall_sentiment"`
	Confidence        float64            `json:"confidence"`
	Scores            SentimentScores    `json:"scores"`
	SegmentSentiments []SegmentSentiment `json:"segment_sentiments,omitempty"`
}

// NeutralSentiment is returned for empty input.
func NeutralSentiment() *Sentiment {
	return &Sentiment{OverallSentiment: SentimentNeutral}
}

// Entity is one named entity found in the transcript
type Entity struct {
	Text       string   `json:"text"`
	Label      string   `json:"label"`
	StartChar  *int     `json:"start_char,omitempty"`
	EndChar    *int     `json:"end_char,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Entities is the output of the entity stage
type Entities struct {
	Entities     []Entity       `json:"entities"`
	EntityCounts map[string]int `json:"entity_counts"`
}

// NewEntities builds an Entities payload with counts derived from the list.
func NewEntities(list []Entity) *Entities {
	if list == nil {
		list = []Entity{}
	}
	return &Entities{Entities: list, EntityCounts: CountLabels(list)}
}

// CountLabels tallies entities per label.
func CountLabels(list []Entity) map[string]int {
	counts := make(map[string]int)
	for _, e := range list {
		counts[e.Label]++
	}
	return counts
}

// Filter returns a payload restricted to one label.
func (e *Entities) Filter(label string) *Entities {
	var out []Entity
	for _, ent := range e.Entities {
		if ent.Label == label {
			out = append(out, ent)
		}
	}
	return NewEntities(out)
}

// Labels returns the distinct labels in sorted order.
func (e *Entities) Labels() []string {
	labels := make([]string, 0, len(e.EntityCounts))
	for l := range e.EntityCounts {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}

// Summary is the output of the summary stage
type Summary struct {
	Summary     string   `json:"summary"`
	KeyPhrases  []string `json:"key_phrases"`
	ActionItems []string `json:"action_items,omitempty"`
	Topics      []string `json:"topics,omitempty"`
}
