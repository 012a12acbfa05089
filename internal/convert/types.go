package convert

import (
	"errors"
	"time"
)

// Sentinel errors shared across stores and queues.
var (
	// ErrNotFound signals that a job or blob does not exist.
	ErrNotFound = errors.New("not found")
	// ErrQueueClosed is returned by queues that no longer yield work.
	ErrQueueClosed = errors.New("queue closed")
)

// JobStatus represents the lifecycle state of a conversion job.
type JobStatus string

// Job status values shared by the API, the push channel, and the client.
const (
	StatusPending    JobStatus = "PENDING"
	StatusProcessing JobStatus = "PROCESSING"
	StatusCompleted  JobStatus = "COMPLETED"
	StatusFailed     JobStatus = "FAILED"
)

// IsTerminal reports whether no further transitions follow the status.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Known reports whether s is one of the four lifecycle values.
func (s JobStatus) Known() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// Conversion types understood by the default engine registry.
const (
	ConversionPDFToDOCX = "pdf_to_docx"
	ConversionDOCXToPDF = "docx_to_pdf"
)

// Job is the metadata persisted for each uploaded file.
type Job struct {
	ID             string     `json:"id"`
	Status         JobStatus  `json:"status"`
	ConversionType string     `json:"conversion_type"`
	SourceName     string     `json:"source_name"`
	InputKey       string     `json:"input_key"`
	FileName       string     `json:"file_name,omitempty"`
	Email          string     `json:"email,omitempty"`
	Checksum       string     `json:"checksum,omitempty"`
	ErrorText      string     `json:"error_text,omitempty"`
	Submitted      time.Time  `json:"submitted_at"`
	Started        *time.Time `json:"started_at,omitempty"`
	Finished       *time.Time `json:"finished_at,omitempty"`
}

// Update is a status notification. The push channel frames and the status
// endpoint body share this shape.
type Update struct {
	TaskID   string    `json:"task_id,omitempty"`
	Status   JobStatus `json:"status"`
	FileName string    `json:"file_name,omitempty"`
	Message  string    `json:"message,omitempty"`
}

// Attributes are the message attributes subscribers can filter on.
func (u Update) Attributes() map[string]string {
	attrs := map[string]string{"task_id": u.TaskID, "status": string(u.Status)}
	if u.FileName != "" {
		attrs["file_name"] = u.FileName
	}
	return attrs
}

// UpdateFor builds the notification describing the job's current state.
func UpdateFor(job Job) Update {
	upd := Update{TaskID: job.ID, Status: job.Status}
	if job.Status == StatusCompleted {
		upd.FileName = job.FileName
	}
	return upd
}

// StatusChange carries what a worker learned when moving a job forward.
type StatusChange struct {
	Status    JobStatus
	FileName  string
	Checksum  string
	ErrorText string
}

// QueueItem wraps a job ready to convert.
type QueueItem struct {
	JobID          string
	ConversionType string
	InputKey       string
	SourceName     string
	Attempt        int
	Submitted      int64
}
