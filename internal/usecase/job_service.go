package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"FinFuse/internal/domain/models"
	domrepo "FinFuse/internal/domain/repository"
	"FinFuse/pkg/queue"
)

// ErrDeadLettersDisabled is returned when no dead-letter store is configured.
var ErrDeadLettersDisabled = errors.New("dead-letter store not configured")

// JobService is the request-facing side of the job queue.
type JobService struct {
	jobs        JobQueue
	reporter    domrepo.OutcomeReporter
	deadLetters queue.DeadLetterReader
}

func NewJobService(jobs JobQueue, reporter domrepo.OutcomeReporter) *JobService {
	return &JobService{jobs: jobs, reporter: reporter}
}

// Enqueue admits a job described by wire input.
func (s *JobService) Enqueue(ctx context.Context, req *models.EnqueueJobRequest) (queue.Job, error) {
	lane, err := queue.ParseLane(req.Lane)
	if err != nil {
		return queue.Job{}, err
	}
	opts := queue.EnqueueOptions{
		Priority:       req.Priority,
		MaxAttempts:    req.MaxAttempts,
		IdempotencyKey: strings.TrimSpace(req.IdempotencyKey),
	}
	if len(req.Payload) > 0 {
		opts.Payload = req.Payload
	}
	if req.Backoff != "" {
		kind, err := queue.ParseBackoffKind(req.Backoff)
		if err != nil {
			return queue.Job{}, err
		}
		opts.Backoff = &queue.BackoffPolicy{Kind: kind, Base: time.Duration(req.BackoffBaseMS) * time.Millisecond}
	}
	h, err := s.jobs.Enqueue(ctx, lane, opts)
	if err != nil {
		return queue.Job{}, err
	}
	return s.jobs.Job(h.ID)
}

// SetDeadLetters enables DeadLetters.
func (s *JobService) SetDeadLetters(r queue.DeadLetterReader) { s.deadLetters = r }

// DeadLetters lists the most recent exhausted jobs of lane.
func (s *JobService) DeadLetters(ctx context.Context, lane string, limit int) ([]queue.DeadLetter, error) {
	l, err := queue.ParseLane(lane)
	if err != nil {
		return nil, err
	}
	if s.deadLetters == nil {
		return nil, ErrDeadLettersDisabled
	}
	return s.deadLetters.List(ctx, l, int64(limit))
}

func (s *JobService) Get(id string) (queue.Job, error) { return s.jobs.Job(id) }

func (s *JobService) Counts(lane string) (queue.Counts, error) {
	l, err := queue.ParseLane(lane)
	if err != nil {
		return queue.Counts{}, err
	}
	return s.jobs.GetCounts(l)
}

func (s *JobService) Status() queue.Status { return s.jobs.Status() }

// ReportOutcome forwards an execution outcome for jobID.
func (s *JobService) ReportOutcome(ctx context.Context, jobID string, req *models.JobOutcomeRequest) error {
	if strings.TrimSpace(jobID) == "" {
		return models.NewValidationError("jobId", "job id is required")
	}
	if err := s.reporter.ReportJobOutcome(ctx, models.JobOutcome{JobID: jobID, Attempt: req.Attempt, Success: req.Success, Details: req.Details}); err != nil {
		return fmt.Errorf("report outcome: %w", err)
	}
	return nil
}
