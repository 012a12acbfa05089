package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/realtime-file-converter/internal/convert"
)

// JobStore provides an in-memory implementation for development/testing.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]convert.Job
	now  func() time.Time
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[string]convert.Job),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job convert.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	if job.Status == "" {
		job.Status = convert.StatusPending
	}
	s.jobs[job.ID] = job
	return nil
}

// UpdateJobStatus applies a status change to a job.
func (s *JobStore) UpdateJobStatus(_ context.Context, jobID string, change convert.StatusChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %q: %w", jobID, convert.ErrNotFound)
	}
	job.Status = change.Status
	job.ErrorText = change.ErrorText
	if change.FileName != "" {
		job.FileName = change.FileName
	}
	if change.Checksum != "" {
		job.Checksum = change.Checksum
	}
	now := s.now()
	if change.Status == convert.StatusProcessing && job.Started == nil {
		job.Started = pointerTime(now)
	}
	if change.Status.IsTerminal() {
		job.Finished = pointerTime(now)
	}
	s.jobs[jobID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (convert.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return convert.Job{}, fmt.Errorf("job %q: %w", jobID, convert.ErrNotFound)
	}
	return job, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
