package convert

import (
	"context"
	"io"
	"time"
)

// JobStore persists job metadata.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJobStatus(ctx context.Context, jobID string, change StatusChange) error
	GetJob(ctx context.Context, jobID string) (Job, error)
}

// BlobStore keeps uploaded inputs and converted outputs.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
	GetObject(ctx context.Context, path string) (io.ReadCloser, error)
}

// Publisher pushes payloads to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Notifier delivers status updates to interested parties.
type Notifier interface {
	Notify(ctx context.Context, update Update) error
}

// Queue provides enqueue/dequeue semantics for conversion jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Hasher computes digests of converted outputs.
type Hasher interface {
	HashReader(r io.Reader) (string, int64, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}
