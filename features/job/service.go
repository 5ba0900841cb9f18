package job

import (
	"context"
	"fmt"
	"log/slog"
)

// Service wraps the repository with the submit and admin operations used by
// the webhook intake and the jobs API.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

type Submission struct {
	JobID     int64 `json:"jobId,omitempty"`
	Duplicate bool  `json:"duplicate,omitempty"`
}

// Submit schedules a job for the event unless one already exists for its
// natural key. A duplicate is an expected outcome, not an error; the store's
// unique constraint decides, never a pre-check.
func (s *Service) Submit(ctx context.Context, ev Event) (*Submission, error) {
	key := ev.NaturalKey()

	id, created, err := s.repo.Enqueue(ctx, key, ev.Kind, ev.Payload)
	if err != nil {
		return nil, err
	}
	if !created {
		slog.InfoContext(ctx, "duplicate event ignored", "natural_key", key)
		return &Submission{Duplicate: true}, nil
	}

	slog.InfoContext(ctx, "job enqueued", "job_id", id, "natural_key", key, "kind", ev.Kind)
	return &Submission{JobID: id}, nil
}

// Retry resubmits a failed job as a fresh queued job under a derived natural
// key. The original row stays failed; terminal states never regress.
func (s *Service) Retry(ctx context.Context, id int64) (*Submission, error) {
	j, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if j.Status != StatusFailed {
		return nil, ErrNotRetryable
	}

	key := fmt.Sprintf("%s:r%d", j.NaturalKey, j.RetryCount)
	newID, created, err := s.repo.Enqueue(ctx, key, j.Kind, j.Payload)
	if err != nil {
		return nil, err
	}
	if !created {
		slog.InfoContext(ctx, "retry already scheduled", "job_id", id, "natural_key", key)
		return &Submission{Duplicate: true}, nil
	}

	slog.InfoContext(ctx, "failed job resubmitted", "job_id", id, "new_job_id", newID, "natural_key", key)
	return &Submission{JobID: newID}, nil
}

func (s *Service) List(ctx context.Context, status Status, limit int) ([]Job, error) {
	return s.repo.ListByStatus(ctx, status, limit)
}

func (s *Service) Counts(ctx context.Context) (map[Status]int, error) {
	return s.repo.CountByStatus(ctx)
}
