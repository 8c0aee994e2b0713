package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"example.com/cpd/internal/observability"
)

// IssueForAttempt re-runs the issuance cascade for an already stored passing attempt. It is idempotent on
// the attempt id, so a cascade that failed after grading can be retried without grading again.
func (s *Service) IssueForAttempt(ctx context.Context, actor Actor, attemptID string) (*Issuance, error) {
	attempt, err := s.repo.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt == nil {
		return nil, notFound("attempt", attemptID)
	}
	if !actor.owns(attempt.LearnerID) {
		return nil, ErrUnauthorized
	}
	if !attempt.Passed {
		return nil, validationf("attempt %s did not pass", attemptID)
	}
	a, err := s.repo.GetAssessment(ctx, attempt.AssessmentID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, notFound("assessment", attempt.AssessmentID)
	}
	if a.Hours <= 0 {
		return nil, validationf("assessment %s awards no hours", a.ID)
	}
	return s.issue(ctx, *attempt, *a)
}

// issue creates the credit record and certificate for a passing attempt in one repository transaction.
// Code collisions regenerate the code; transient storage failures retry the same candidate.
func (s *Service) issue(ctx context.Context, attempt AssessmentAttempt, a Assessment) (out *Issuance, err error) {
	ctx, span := s.startSpan(ctx, "IssuanceCascade", attribute.String("attempt_id", attempt.ID))
	defer func() { endSpan(span, err) }()

	existing, err := s.repo.FindIssuanceByAttempt(ctx, attempt.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		observability.RecordCertificateIssued(true, time.Time{})
		return existing, nil
	}

	activityType := ActivityTypeOther
	if a.ActivityID != "" {
		if activity, err := s.repo.GetActivity(ctx, a.ActivityID); err == nil && activity != nil {
			activityType = activity.Type
		}
	}

	for i := 0; i < s.codeAttempts; i++ {
		now := s.now()
		code, err := s.codes(now)
		if err != nil {
			return nil, fmt.Errorf("generate certificate code: %w", err)
		}
		candidate := s.buildIssuance(attempt, a, activityType, code, now)

		stored, replay, err := s.storeIssuance(ctx, candidate)
		if errors.Is(err, ErrCodeCollision) {
			observability.RecordCodeCollision()
			s.log.Warn("certificate code collision, regenerating", "attempt_id", attempt.ID, "try", i+1)
			continue
		}
		if err != nil {
			return nil, err
		}
		observability.RecordCertificateIssued(replay, stored.Certificate.IssuedAt)
		if !replay {
			s.applyDefaultAllocation(ctx, stored.CreditRecord)
		}
		return stored, nil
	}
	return nil, ErrCodeGenerationExhausted
}

func (s *Service) storeIssuance(ctx context.Context, candidate Issuance) (*Issuance, bool, error) {
	var (
		stored *Issuance
		replay bool
	)
	op := func() error {
		var err error
		stored, replay, err = s.repo.IssueCredit(ctx, candidate)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrTransient) {
			observability.RecordIssuanceRetry()
			return err
		}
		return backoff.Permanent(err)
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), uint64(s.issuanceRetries)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, false, err
	}
	return stored, replay, nil
}

func (s *Service) buildIssuance(attempt AssessmentAttempt, a Assessment, activityType ActivityType, code string, now time.Time) Issuance {
	provider := strings.TrimSpace(a.Provider)
	if provider == "" {
		provider = "platform"
	}
	score := attempt.Score
	record := CreditRecord{
		ID:              uuid.NewString(),
		LearnerID:       attempt.LearnerID,
		Title:           a.Title,
		Provider:        provider,
		ActivityType:    activityType,
		Hours:           a.Hours,
		Date:            now,
		Status:          RecordCompleted,
		Category:        a.Category,
		Provenance:      ProvenancePlatform,
		SourceAttemptID: attempt.ID,
		CreatedAt:       now,
	}
	cert := Certificate{
		ID:              uuid.NewString(),
		LearnerID:       attempt.LearnerID,
		Code:            code,
		Title:           a.Title,
		Hours:           a.Hours,
		Category:        a.Category,
		Provider:        provider,
		CompletedAt:     attempt.CompletedAt,
		IssuedAt:        now,
		VerificationURL: s.verificationURL(code),
		CreditRecordID:  record.ID,
		Status:          CertificateActive,
		Metadata: CertificateMetadata{
			AssessmentID: a.ID,
			AttemptID:    attempt.ID,
			Score:        &score,
		},
	}
	return Issuance{AttemptID: attempt.ID, CreditRecord: record, Certificate: cert}
}

func (s *Service) verificationURL(code string) string {
	return s.verifyBaseURL + "/verify/" + code
}
