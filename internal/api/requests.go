package api

import (
	"encoding/json"
	"time"

	"example.com/cpd/internal/domain"
)

// ActivityRequest is the payload for creating or editing an activity.
type ActivityRequest struct {
	Title           string `json:"title" validate:"required,max=300"`
	Provider        string `json:"provider" validate:"max=200"`
	Type            string `json:"type" validate:"required,oneof=video webinar article podcast workshop course conference other"`
	ExpectedVersion int    `json:"expected_version" validate:"gte=0"`
}

func (r ActivityRequest) toInput() domain.ActivityInput {
	return domain.ActivityInput{Title: r.Title, Provider: r.Provider, Type: domain.ActivityType(r.Type)}
}

// MappingRequest is the payload for POST /v1/activities/{id}/mappings.
type MappingRequest struct {
	Unit             string   `json:"unit" validate:"required,oneof=hours points"`
	Amount           float64  `json:"amount" validate:"gt=0"`
	Category         string   `json:"category" validate:"required,max=100"`
	Structured       bool     `json:"structured"`
	Country          string   `json:"country" validate:"required,min=2,max=4"`
	AllowedStates    []string `json:"allowed_states" validate:"omitempty,dive,required,max=8"`
	ExcludedStates   []string `json:"excluded_states" validate:"omitempty,dive,required,max=8"`
	ValidationMethod string   `json:"validation_method" validate:"required,oneof=quiz attendance other"`
}

func (r MappingRequest) toMapping() domain.CreditMapping {
	return domain.CreditMapping{
		Unit:             domain.CreditUnit(r.Unit),
		Amount:           r.Amount,
		Category:         r.Category,
		Structured:       r.Structured,
		Country:          r.Country,
		AllowedStates:    r.AllowedStates,
		ExcludedStates:   r.ExcludedStates,
		ValidationMethod: domain.ValidationMethod(r.ValidationMethod),
	}
}

// RuleRequest attaches a completion rule. Config is decoded per rule type.
type RuleRequest struct {
	Type   string          `json:"type" validate:"required,oneof=quiz_pass evidence_upload"`
	Config json.RawMessage `json:"config" validate:"required"`
}

// EvidenceRequest records an uploaded evidence file.
type EvidenceRequest struct {
	FileName string `json:"file_name" validate:"required,max=500"`
}

// QuestionRequest is one question in an assessment definition.
type QuestionRequest struct {
	Prompt       string   `json:"prompt" validate:"required"`
	Options      []string `json:"options" validate:"min=2,dive,required"`
	CorrectIndex int      `json:"correct_index" validate:"gte=0"`
	Explanation  string   `json:"explanation"`
}

// AssessmentRequest is the payload for POST /v1/assessments.
type AssessmentRequest struct {
	ActivityID       string            `json:"activity_id" validate:"omitempty,uuid"`
	Title            string            `json:"title" validate:"required,max=300"`
	Provider         string            `json:"provider" validate:"max=200"`
	PassMark         int               `json:"pass_mark" validate:"gte=0,lte=100"`
	MaxAttempts      int               `json:"max_attempts" validate:"gte=1"`
	TimeLimitSeconds int               `json:"time_limit_seconds" validate:"gte=0"`
	Hours            float64           `json:"hours" validate:"gte=0"`
	Category         string            `json:"category" validate:"max=100"`
	Questions        []QuestionRequest `json:"questions" validate:"required,min=1,dive"`
}

func (r AssessmentRequest) toAssessment() domain.Assessment {
	questions := make([]domain.Question, len(r.Questions))
	for i, q := range r.Questions {
		questions[i] = domain.Question{Prompt: q.Prompt, Options: q.Options, CorrectIndex: q.CorrectIndex, Explanation: q.Explanation}
	}
	return domain.Assessment{
		ActivityID:  r.ActivityID,
		Title:       r.Title,
		Provider:    r.Provider,
		PassMark:    r.PassMark,
		MaxAttempts: r.MaxAttempts,
		TimeLimit:   time.Duration(r.TimeLimitSeconds) * time.Second,
		Hours:       r.Hours,
		Category:    r.Category,
		Questions:   questions,
	}
}

// SubmitRequest is a learner's answer sheet.
type SubmitRequest struct {
	Answers   []int      `json:"answers" validate:"required"`
	StartedAt *time.Time `json:"started_at"`
}

// CreditRecordRequest logs an externally earned credit.
type CreditRecordRequest struct {
	Title        string     `json:"title" validate:"required,max=300"`
	Provider     string     `json:"provider" validate:"max=200"`
	ActivityType string     `json:"activity_type" validate:"omitempty,oneof=video webinar article podcast workshop course conference other"`
	Hours        float64    `json:"hours" validate:"gt=0"`
	Date         *time.Time `json:"date" validate:"required"`
	Status       string     `json:"status" validate:"omitempty,oneof=completed in_progress planned"`
	Category     string     `json:"category" validate:"max=100"`
}

func (r CreditRecordRequest) toInput() domain.CreditRecordInput {
	in := domain.CreditRecordInput{
		Title:        r.Title,
		Provider:     r.Provider,
		ActivityType: domain.ActivityType(r.ActivityType),
		Hours:        r.Hours,
		Status:       domain.RecordStatus(r.Status),
		Category:     r.Category,
	}
	if r.Date != nil {
		in.Date = *r.Date
	}
	return in
}

// AllocationRequest is one credential's share of a record.
type AllocationRequest struct {
	CredentialGrantID string  `json:"credential_grant_id" validate:"required"`
	Hours             float64 `json:"hours" validate:"gte=0"`
}

// AllocationsRequest replaces the full allocation set of a record. An empty list clears it.
type AllocationsRequest struct {
	Allocations []AllocationRequest `json:"allocations" validate:"dive"`
}

func (r AllocationsRequest) toInputs() []domain.AllocationInput {
	out := make([]domain.AllocationInput, len(r.Allocations))
	for i, a := range r.Allocations {
		out[i] = domain.AllocationInput{CredentialGrantID: a.CredentialGrantID, Hours: a.Hours}
	}
	return out
}

// CredentialRequest adds a credential grant for the learner.
type CredentialRequest struct {
	CredentialName  string     `json:"credential_name" validate:"required,max=200"`
	Country         string     `json:"country" validate:"required,min=2,max=4"`
	State           string     `json:"state" validate:"max=8"`
	RequiredHours   float64    `json:"required_hours" validate:"gte=0"`
	BaselineHours   float64    `json:"baseline_hours" validate:"gte=0"`
	RenewalDeadline *time.Time `json:"renewal_deadline"`
	Primary         bool       `json:"primary"`
}

func (r CredentialRequest) toInput() domain.CredentialGrantInput {
	return domain.CredentialGrantInput{
		CredentialName:  r.CredentialName,
		Country:         r.Country,
		State:           r.State,
		RequiredHours:   r.RequiredHours,
		BaselineHours:   r.BaselineHours,
		RenewalDeadline: r.RenewalDeadline,
		Primary:         r.Primary,
	}
}

// RevokeRequest carries the reason recorded on a revoked certificate.
type RevokeRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}
