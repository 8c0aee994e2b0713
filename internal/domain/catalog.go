package domain

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// CreateActivity stores a new draft activity at version 1.
func (s *Service) CreateActivity(ctx context.Context, in ActivityInput) (*Activity, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	now := s.now()
	activity := Activity{
		ID:           uuid.NewString(),
		Title:        strings.TrimSpace(in.Title),
		Provider:     strings.TrimSpace(in.Provider),
		Type:         in.Type,
		PublishState: PublishStateDraft,
		Version:      1,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.CreateActivity(ctx, activity); err != nil {
		return nil, err
	}
	return &activity, nil
}

// GetActivity returns an activity, including retired ones so certificates can still reference them.
func (s *Service) GetActivity(ctx context.Context, id string) (*Activity, error) {
	activity, err := s.repo.GetActivity(ctx, id)
	if err != nil {
		return nil, err
	}
	if activity == nil {
		return nil, notFound("activity", id)
	}
	return activity, nil
}

func (s *Service) activeActivity(ctx context.Context, id string) (*Activity, error) {
	activity, err := s.GetActivity(ctx, id)
	if err != nil {
		return nil, err
	}
	if !activity.Active {
		return nil, notFound("activity", id)
	}
	return activity, nil
}

// UpdateActivity edits an active activity and increments its version. expectedVersion guards against
// lost updates from a stale editor.
func (s *Service) UpdateActivity(ctx context.Context, id string, in ActivityInput, expectedVersion int) (*Activity, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	activity, err := s.activeActivity(ctx, id)
	if err != nil {
		return nil, err
	}
	if expectedVersion != 0 && expectedVersion != activity.Version {
		return nil, ErrVersionConflict
	}
	prev := activity.Version
	activity.Title = strings.TrimSpace(in.Title)
	activity.Provider = strings.TrimSpace(in.Provider)
	activity.Type = in.Type
	activity.Version++
	activity.UpdatedAt = s.now()
	if err := s.repo.UpdateActivity(ctx, *activity, prev); err != nil {
		return nil, err
	}
	return activity, nil
}

// PublishActivity records the approver and publication time.
func (s *Service) PublishActivity(ctx context.Context, id, approver string) (*Activity, error) {
	if strings.TrimSpace(approver) == "" {
		return nil, validationf("approver is required")
	}
	activity, err := s.activeActivity(ctx, id)
	if err != nil {
		return nil, err
	}
	if activity.PublishState == PublishStatePublished {
		return activity, nil
	}
	now := s.now()
	prev := activity.Version
	activity.PublishState = PublishStatePublished
	activity.PublishedAt = &now
	activity.PublishedBy = approver
	activity.UpdatedAt = now
	if err := s.repo.UpdateActivity(ctx, *activity, prev); err != nil {
		return nil, err
	}
	return activity, nil
}

// RetireActivity soft-deletes an activity. Retired activities confer no credit.
func (s *Service) RetireActivity(ctx context.Context, id string) (*Activity, error) {
	activity, err := s.GetActivity(ctx, id)
	if err != nil {
		return nil, err
	}
	if !activity.Active {
		return activity, nil
	}
	prev := activity.Version
	activity.Active = false
	activity.UpdatedAt = s.now()
	if err := s.repo.UpdateActivity(ctx, *activity, prev); err != nil {
		return nil, err
	}
	s.invalidate(ctx, id)
	return activity, nil
}

// AddCreditMapping validates and stores a mapping for an active activity.
func (s *Service) AddCreditMapping(ctx context.Context, activityID string, mapping CreditMapping) (*CreditMapping, error) {
	if _, err := s.activeActivity(ctx, activityID); err != nil {
		return nil, err
	}
	mapping.Normalize()
	if err := mapping.Validate(); err != nil {
		return nil, err
	}
	mapping.ID = uuid.NewString()
	mapping.ActivityID = activityID
	mapping.Active = true
	mapping.CreatedAt = s.now()
	if err := s.repo.CreateMapping(ctx, mapping); err != nil {
		return nil, err
	}
	s.invalidate(ctx, activityID)
	return &mapping, nil
}

// DeactivateMapping stops a mapping from resolving without deleting it.
func (s *Service) DeactivateMapping(ctx context.Context, id string) (*CreditMapping, error) {
	mapping, err := s.repo.GetMapping(ctx, id)
	if err != nil {
		return nil, err
	}
	if mapping == nil {
		return nil, notFound("mapping", id)
	}
	if mapping.Active {
		if err := s.repo.SetMappingActive(ctx, id, false); err != nil {
			return nil, err
		}
		mapping.Active = false
		s.invalidate(ctx, mapping.ActivityID)
	}
	return mapping, nil
}

// ListMappings returns every mapping of an activity, active or not.
func (s *Service) ListMappings(ctx context.Context, activityID string) ([]CreditMapping, error) {
	if _, err := s.GetActivity(ctx, activityID); err != nil {
		return nil, err
	}
	return s.repo.ListMappings(ctx, activityID)
}

// ResolveCredit returns the mappings of an active activity that apply in the learner's jurisdiction.
func (s *Service) ResolveCredit(ctx context.Context, activityID string, where Jurisdiction) (out []CreditMapping, err error) {
	ctx, span := s.startSpan(ctx, "ResolveCredit", attribute.String("activity_id", activityID), attribute.String("country", where.Country))
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(where.Country) == "" {
		return nil, validationf("country is required")
	}
	if _, err := s.activeActivity(ctx, activityID); err != nil {
		return nil, err
	}
	mappings, err := s.mappings.ListMappings(ctx, activityID)
	if err != nil {
		return nil, err
	}
	return ResolveCredit(mappings, where), nil
}

func (s *Service) invalidate(ctx context.Context, activityID string) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.InvalidateMappings(ctx, activityID); err != nil {
		s.log.Warn("mapping cache invalidation failed", "activity_id", activityID, "error", err)
	}
}
