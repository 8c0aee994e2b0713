package domain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// RuleType selects which RuleConfig variant a CompletionRule carries.
type RuleType string

const (
	RuleQuizPass       RuleType = "quiz_pass"
	RuleEvidenceUpload RuleType = "evidence_upload"
)

// RuleConfig is the typed configuration of a completion rule. Each RuleType has exactly one variant.
type RuleConfig interface {
	RuleType() RuleType
	validate() error
}

// QuizPassConfig passes when the learner holds a passing attempt on QuizID.
// MinScore, when set, replaces the assessment's own pass mark.
type QuizPassConfig struct {
	QuizID   string `json:"quizId"`
	MinScore *int   `json:"minScore,omitempty"`
}

func (QuizPassConfig) RuleType() RuleType { return RuleQuizPass }

func (c QuizPassConfig) validate() error {
	if strings.TrimSpace(c.QuizID) == "" {
		return validationf("quiz_pass requires quizId")
	}
	if c.MinScore != nil && (*c.MinScore < 0 || *c.MinScore > 100) {
		return validationf("quiz_pass minScore must be within 0..100")
	}
	return nil
}

// EvidenceUploadConfig passes when at least MinFiles evidence files are linked to the instance.
type EvidenceUploadConfig struct {
	MinFiles int `json:"minFiles"`
}

func (EvidenceUploadConfig) RuleType() RuleType { return RuleEvidenceUpload }

func (c EvidenceUploadConfig) validate() error {
	if c.MinFiles < 1 {
		return validationf("evidence_upload minFiles must be at least 1")
	}
	return nil
}

// DecodeRuleConfig parses the stored configuration document for a rule type.
// Unknown fields are rejected so typos surface at write time.
func DecodeRuleConfig(ruleType RuleType, raw []byte) (RuleConfig, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var cfg RuleConfig
	switch ruleType {
	case RuleQuizPass:
		var c QuizPassConfig
		if err := dec.Decode(&c); err != nil {
			return nil, validationf("quiz_pass config: %v", err)
		}
		cfg = c
	case RuleEvidenceUpload:
		var c EvidenceUploadConfig
		if err := dec.Decode(&c); err != nil {
			return nil, validationf("evidence_upload config: %v", err)
		}
		cfg = c
	default:
		return nil, validationf("unknown rule type %q", ruleType)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EncodeRuleConfig serialises a config for storage.
func EncodeRuleConfig(cfg RuleConfig) ([]byte, error) {
	if cfg == nil {
		return nil, validationf("rule config is required")
	}
	return json.Marshal(cfg)
}

// CompletionRule is a precondition attached to one activity instance.
type CompletionRule struct {
	ID         string
	InstanceID string
	Config     RuleConfig
	CreatedAt  time.Time
}

// Type returns the rule's discriminator.
func (r CompletionRule) Type() RuleType {
	if r.Config == nil {
		return ""
	}
	return r.Config.RuleType()
}

// RuleResult is the outcome of one rule.
type RuleResult struct {
	RuleID string
	Type   RuleType
	Passed bool
	Detail string
}

// CompletionResult aggregates rule outcomes. Rules are AND-combined; an empty rule set passes.
type CompletionResult struct {
	Rules                  []RuleResult
	AllPassed              bool
	EligibleForCertificate bool
}

// CompletionFacts supplies the learner state rules are evaluated against.
type CompletionFacts interface {
	HasPassingAttempt(ctx context.Context, learnerID, assessmentID string, minScore *int) (bool, error)
	CountEvidence(ctx context.Context, instanceID, learnerID string) (int, error)
}

// EvaluateRules checks every rule for the learner and AND-combines the results.
func EvaluateRules(ctx context.Context, facts CompletionFacts, learnerID string, rules []CompletionRule) (CompletionResult, error) {
	result := CompletionResult{Rules: make([]RuleResult, 0, len(rules)), AllPassed: true}
	for _, rule := range rules {
		rr, err := evaluateRule(ctx, facts, learnerID, rule)
		if err != nil {
			return CompletionResult{}, fmt.Errorf("evaluate rule %s: %w", rule.ID, err)
		}
		if !rr.Passed {
			result.AllPassed = false
		}
		result.Rules = append(result.Rules, rr)
	}
	result.EligibleForCertificate = result.AllPassed
	return result, nil
}

func evaluateRule(ctx context.Context, facts CompletionFacts, learnerID string, rule CompletionRule) (RuleResult, error) {
	rr := RuleResult{RuleID: rule.ID, Type: rule.Type()}
	switch cfg := rule.Config.(type) {
	case QuizPassConfig:
		ok, err := facts.HasPassingAttempt(ctx, learnerID, cfg.QuizID, cfg.MinScore)
		if err != nil {
			return rr, err
		}
		rr.Passed = ok
		if !ok {
			rr.Detail = "no passing attempt for assessment " + cfg.QuizID
		}
	case EvidenceUploadConfig:
		n, err := facts.CountEvidence(ctx, rule.InstanceID, learnerID)
		if err != nil {
			return rr, err
		}
		rr.Passed = n >= cfg.MinFiles
		rr.Detail = fmt.Sprintf("%d of %d files uploaded", n, cfg.MinFiles)
	default:
		return rr, fmt.Errorf("unsupported rule config %T", rule.Config)
	}
	return rr, nil
}
