package domain

import "time"

// EventType job lifecycle event
type EventType string

const (
	// EventAccepted job passed validation and got a workspace
	EventAccepted EventType = "accepted"
	// EventDone output published
	EventDone EventType = "done"
	// EventFailed job ended in Failed
	EventFailed EventType = "failed"
)

// JobRecord 定義合併工作模型
type JobRecord struct {
	ID           string `gorm:"primaryKey;size:36"`
	Status       string `gorm:"index;size:16"`
	Inputs       int
	Format       string `gorm:"size:8"`
	Resolution   string `gorm:"size:16"`
	URL          string
	ErrorKind    string `gorm:"size:16"`
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	FinishedAt   *time.Time
}

// JobSnapshot public view of a job, cached and returned by the status lookup.
type JobSnapshot struct {
	JobID     string    `json:"job_id"`
	Status    JobStatus `json:"status"`
	Inputs    int       `json:"inputs"`
	URL       string    `json:"url,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot converts the stored record to its public view
func (r JobRecord) Snapshot() JobSnapshot {
	return JobSnapshot{
		JobID:     r.ID,
		Status:    JobStatus(r.Status),
		Inputs:    r.Inputs,
		URL:       r.URL,
		ErrorKind: r.ErrorKind,
		Error:     r.ErrorMessage,
		UpdatedAt: r.UpdatedAt,
	}
}

// JobEvent message published on accepted / done / failed
type JobEvent struct {
	Type EventType `json:"type"`
	JobSnapshot
}
