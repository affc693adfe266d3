package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/codebuildervaibhav/speech-insights/internal/pipeline"
)

// Job sources
const (
	SourceUpload   = "upload"
	SourceProcess  = "process"
	SourceRecovery = "recovery"
)

// Job represents one queued pipeline run
type Job struct {
	ID        string
	AudioID   int64
	Source    string
	CreatedAt time.Time

	// Set before Done is closed.
	Outcome *pipeline.Outcome
	Err     error

	done chan struct{}
}

// NewJob creates a new job with default values
func NewJob(audioID int64, source string) *Job {
	return &Job{
		ID:        uuid.New().String(),
		AudioID:   audioID,
		Source:    source,
		CreatedAt: time.Now(),
		done:      make(chan struct{}),
	}
}

// Done is closed once the job has been run, exported, or dropped.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

func (j *Job) finish(out *pipeline.Outcome, err error) {
	j.Outcome, j.Err = out, err
	close(j.done)
}
