package domain

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// AttachRule decodes and validates a rule configuration and attaches it to an activity instance.
func (s *Service) AttachRule(ctx context.Context, instanceID string, ruleType RuleType, rawConfig []byte) (*CompletionRule, error) {
	if strings.TrimSpace(instanceID) == "" {
		return nil, validationf("instance id is required")
	}
	cfg, err := DecodeRuleConfig(ruleType, rawConfig)
	if err != nil {
		return nil, err
	}
	if quiz, ok := cfg.(QuizPassConfig); ok {
		assessment, err := s.repo.GetAssessment(ctx, quiz.QuizID)
		if err != nil {
			return nil, err
		}
		if assessment == nil {
			return nil, notFound("assessment", quiz.QuizID)
		}
	}
	rule := CompletionRule{
		ID:         uuid.NewString(),
		InstanceID: instanceID,
		Config:     cfg,
		CreatedAt:  s.now(),
	}
	if err := s.repo.CreateRule(ctx, rule); err != nil {
		return nil, err
	}
	return &rule, nil
}

// AddEvidence links an uploaded file to an activity instance owned by the actor.
func (s *Service) AddEvidence(ctx context.Context, actor Actor, instanceID, fileName string) (*EvidenceFile, error) {
	if strings.TrimSpace(fileName) == "" {
		return nil, validationf("file name is required")
	}
	learnerID, err := s.authorizeInstance(ctx, actor, instanceID)
	if err != nil {
		return nil, err
	}
	file := EvidenceFile{
		ID:         uuid.NewString(),
		InstanceID: instanceID,
		LearnerID:  learnerID,
		FileName:   strings.TrimSpace(fileName),
		UploadedAt: s.now(),
	}
	if err := s.repo.AddEvidence(ctx, file); err != nil {
		return nil, err
	}
	return &file, nil
}

// EvaluateCompletion evaluates every rule attached to the instance for the learner.
// An instance without rules is complete by default.
func (s *Service) EvaluateCompletion(ctx context.Context, actor Actor, instanceID string) (result CompletionResult, err error) {
	ctx, span := s.startSpan(ctx, "EvaluateCompletion", attribute.String("instance_id", instanceID))
	defer func() { endSpan(span, err) }()

	learnerID, err := s.authorizeInstance(ctx, actor, instanceID)
	if err != nil {
		return CompletionResult{}, err
	}
	rules, err := s.repo.ListRules(ctx, instanceID)
	if err != nil {
		return CompletionResult{}, err
	}
	return EvaluateRules(ctx, s.repo, learnerID, rules)
}

// authorizeInstance resolves whose progress an instance id refers to. A credit record belongs to its
// learner and only they (or an admin) may touch it; any other instance id is evaluated for the caller.
func (s *Service) authorizeInstance(ctx context.Context, actor Actor, instanceID string) (string, error) {
	if strings.TrimSpace(instanceID) == "" {
		return "", validationf("instance id is required")
	}
	record, err := s.repo.GetCreditRecord(ctx, instanceID)
	if err != nil {
		return "", err
	}
	if record == nil {
		return actor.LearnerID, nil
	}
	if !actor.owns(record.LearnerID) {
		return "", ErrUnauthorized
	}
	return record.LearnerID, nil
}
