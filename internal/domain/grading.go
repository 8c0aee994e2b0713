package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"example.com/cpd/internal/observability"
)

// CreateAssessment validates and stores an assessment definition.
func (s *Service) CreateAssessment(ctx context.Context, a Assessment) (*Assessment, error) {
	a.Title = strings.TrimSpace(a.Title)
	a.Category = strings.ToLower(strings.TrimSpace(a.Category))
	if err := a.Validate(); err != nil {
		return nil, err
	}
	if a.ActivityID != "" {
		if _, err := s.activeActivity(ctx, a.ActivityID); err != nil {
			return nil, err
		}
	}
	a.ID = uuid.NewString()
	a.Active = true
	a.CreatedAt = s.now()
	if err := s.repo.CreateAssessment(ctx, a); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAssessment returns the learner-safe view of an active assessment.
func (s *Service) GetAssessment(ctx context.Context, id string) (*PublicAssessment, error) {
	a, err := s.activeAssessment(ctx, id)
	if err != nil {
		return nil, err
	}
	view := a.Public()
	return &view, nil
}

func (s *Service) activeAssessment(ctx context.Context, id string) (*Assessment, error) {
	a, err := s.repo.GetAssessment(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil || !a.Active {
		return nil, notFound("assessment", id)
	}
	return a, nil
}

// AttemptStatus reports how many attempts the learner has used.
func (s *Service) AttemptStatus(ctx context.Context, learnerID, assessmentID string) (*AttemptStatus, error) {
	a, err := s.activeAssessment(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	used, err := s.repo.CountAttempts(ctx, learnerID, assessmentID)
	if err != nil {
		return nil, err
	}
	return &AttemptStatus{AssessmentID: a.ID, Used: used, Max: a.MaxAttempts, Remaining: max(a.MaxAttempts-used, 0)}, nil
}

// SubmitInput is a learner's answer sheet.
type SubmitInput struct {
	LearnerID    string
	AssessmentID string
	Answers      []int
	StartedAt    time.Time
}

// SubmitResult is returned after grading. Issuance is set when the pass produced a certificate;
// IssuanceErr is set when the attempt was stored but the cascade failed and can be retried.
type SubmitResult struct {
	Attempt     AssessmentAttempt
	Results     []QuestionResult
	Status      AttemptStatus
	Issuance    *Issuance
	IssuanceErr error
}

// SubmitAttempt grades a submission, stores it under the attempt ceiling and, on a pass that awards
// hours, runs the issuance cascade.
func (s *Service) SubmitAttempt(ctx context.Context, in SubmitInput) (res *SubmitResult, err error) {
	ctx, span := s.startSpan(ctx, "SubmitAttempt", attribute.String("assessment_id", in.AssessmentID))
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(in.LearnerID) == "" {
		return nil, ErrUnauthorized
	}
	a, err := s.activeAssessment(ctx, in.AssessmentID)
	if err != nil {
		return nil, err
	}

	// An exhausted learner learns that first, whatever the payload. RecordAttempt rechecks atomically.
	prior, err := s.repo.CountAttempts(ctx, in.LearnerID, a.ID)
	if err != nil {
		return nil, err
	}
	if prior >= a.MaxAttempts {
		observability.RecordAttemptRejected("exhausted")
		return nil, &AttemptsExhaustedError{Used: prior, Max: a.MaxAttempts}
	}

	grading, err := Grade(*a, in.Answers)
	if err != nil {
		observability.RecordAttemptRejected("malformed")
		return nil, err
	}

	now := s.now()
	started := in.StartedAt.UTC()
	if started.IsZero() || started.After(now) {
		started = now
	}
	timedOut := a.TimeLimit > 0 && now.Sub(started) > a.TimeLimit+TimeLimitGrace

	answers := make([]int, len(in.Answers))
	copy(answers, in.Answers)
	attempt := AssessmentAttempt{
		ID:           uuid.NewString(),
		LearnerID:    in.LearnerID,
		AssessmentID: a.ID,
		Answers:      answers,
		Score:        grading.Score,
		Passed:       grading.Passed && !timedOut,
		TimedOut:     timedOut,
		StartedAt:    started,
		CompletedAt:  now,
	}

	used, err := s.repo.RecordAttempt(ctx, attempt, a.MaxAttempts)
	if err != nil {
		if errors.Is(err, ErrAttemptsExhausted) {
			observability.RecordAttemptRejected("exhausted")
		}
		return nil, err
	}
	observability.RecordAttemptGraded(attempt.Passed)

	res = &SubmitResult{
		Attempt: attempt,
		Results: grading.Results,
		Status:  AttemptStatus{AssessmentID: a.ID, Used: used, Max: a.MaxAttempts, Remaining: max(a.MaxAttempts-used, 0)},
	}
	if !attempt.Passed || a.Hours <= 0 {
		return res, nil
	}

	issuance, issueErr := s.issue(ctx, attempt, *a)
	if issueErr != nil {
		s.log.Error("issuance cascade failed", "attempt_id", attempt.ID, "learner_id", attempt.LearnerID, "error", issueErr)
		res.IssuanceErr = issueErr
		return res, nil
	}
	res.Issuance = issuance
	return res, nil
}
