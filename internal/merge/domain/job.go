package domain

import (
	"fmt"
	"io"
	"time"
)

// JobStatus definition merge job status
type JobStatus string

const (
	// JobPending job created, nothing checked yet
	JobPending JobStatus = "pending"
	// JobResolving validating inputs and resolving quality
	JobResolving JobStatus = "resolving"
	// JobNormalizing transcoding every input to the common profile
	JobNormalizing JobStatus = "normalizing"
	// JobConcatenating joining the normalized intermediates
	JobConcatenating JobStatus = "concatenating"
	// JobPublishing moving the output to durable storage
	JobPublishing JobStatus = "publishing"
	// JobDone output published
	JobDone JobStatus = "done"
	// JobFailed terminal failure
	JobFailed JobStatus = "failed"
)

var nextStatus = map[JobStatus]JobStatus{
	JobPending:       JobResolving,
	JobResolving:     JobNormalizing,
	JobNormalizing:   JobConcatenating,
	JobConcatenating: JobPublishing,
	JobPublishing:    JobDone,
}

// IsTerminal reports whether no further transition is allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobDone || s == JobFailed
}

// Job one merge request.
type Job struct {
	ID         string
	Inputs     int
	Params     QualityParameters
	Status     JobStatus
	OutputPath string
	URL        string
	CreatedAt  time.Time
}

// NewJob create a pending job
func NewJob(id string, inputs int, now time.Time) *Job {
	return &Job{ID: id, Inputs: inputs, Status: JobPending, CreatedAt: now}
}

// Transition moves the job forward. Failed is reachable from any
// non-terminal state, everything else follows the pipeline order.
func (j *Job) Transition(to JobStatus) error {
	if j.Status.IsTerminal() {
		return fmt.Errorf("job %s: transition %s -> %s from terminal state", j.ID, j.Status, to)
	}
	if to != JobFailed && nextStatus[j.Status] != to {
		return fmt.Errorf("job %s: invalid transition %s -> %s", j.ID, j.Status, to)
	}
	j.Status = to
	return nil
}

// UploadedVideo one file as received from the caller, in upload order.
type UploadedVideo struct {
	FileName string
	File     io.Reader
}

// MergeReq usecase merge request
type MergeReq struct {
	Videos  []UploadedVideo
	Quality QualitySelection
}

// MergeRes usecase merge response
type MergeRes struct {
	JobID string
	URL   string
}

// InputAsset one uploaded video materialized in the workspace.
type InputAsset struct {
	// Index 1-based upload position
	Index int
	Name  string
	Path  string
	Size  int64
}

// NormalizedAsset derived 1:1 from an InputAsset, valid while the workspace lives.
type NormalizedAsset struct {
	Index int
	Path  string
	// Duration of the source in seconds, 0 when it could not be probed
	Duration float64
}

// ManifestEntry one line of the concat manifest
type ManifestEntry struct {
	Index int
	Path  string
}

// Manifest ordered normalized assets driving the concat step
type Manifest struct {
	Path    string
	Entries []ManifestEntry
}

// MediaInfo what the prober reports about a file. Width and Height are the
// displayed size; Rotation is the stored display rotation in degrees.
type MediaInfo struct {
	Width      int
	Height     int
	Rotation   int
	Duration   float64
	VideoCodec string
	AudioCodec string
}
