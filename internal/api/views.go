package api

import (
	"time"

	"example.com/cpd/internal/domain"
)

// ActivityView is the catalog representation of an activity.
type ActivityView struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Provider     string     `json:"provider,omitempty"`
	Type         string     `json:"type"`
	PublishState string     `json:"publish_state"`
	Version      int        `json:"version"`
	Active       bool       `json:"active"`
	PublishedAt  *time.Time `json:"published_at,omitempty"`
	PublishedBy  string     `json:"published_by,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func toActivityView(a domain.Activity) ActivityView {
	return ActivityView{
		ID:           a.ID,
		Title:        a.Title,
		Provider:     a.Provider,
		Type:         string(a.Type),
		PublishState: string(a.PublishState),
		Version:      a.Version,
		Active:       a.Active,
		PublishedAt:  a.PublishedAt,
		PublishedBy:  a.PublishedBy,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

// MappingView describes one credit mapping.
type MappingView struct {
	ID               string    `json:"id"`
	ActivityID       string    `json:"activity_id"`
	Unit             string    `json:"unit"`
	Amount           float64   `json:"amount"`
	Category         string    `json:"category"`
	Structured       bool      `json:"structured"`
	Country          string    `json:"country"`
	AllowedStates    []string  `json:"allowed_states,omitempty"`
	ExcludedStates   []string  `json:"excluded_states,omitempty"`
	ValidationMethod string    `json:"validation_method"`
	Active           bool      `json:"active"`
	CreatedAt        time.Time `json:"created_at"`
}

func toMappingViews(in []domain.CreditMapping) []MappingView {
	out := make([]MappingView, 0, len(in))
	for _, m := range in {
		out = append(out, toMappingView(m))
	}
	return out
}

func toMappingView(m domain.CreditMapping) MappingView {
	return MappingView{
		ID:               m.ID,
		ActivityID:       m.ActivityID,
		Unit:             string(m.Unit),
		Amount:           m.Amount,
		Category:         m.Category,
		Structured:       m.Structured,
		Country:          m.Country,
		AllowedStates:    m.AllowedStates,
		ExcludedStates:   m.ExcludedStates,
		ValidationMethod: string(m.ValidationMethod),
		Active:           m.Active,
		CreatedAt:        m.CreatedAt,
	}
}

// RuleView describes an attached completion rule.
type RuleView struct {
	ID         string            `json:"id"`
	InstanceID string            `json:"instance_id"`
	Type       string            `json:"type"`
	Config     domain.RuleConfig `json:"config"`
	CreatedAt  time.Time         `json:"created_at"`
}

// CompletionView is the evaluation of every rule on an instance.
type CompletionView struct {
	Rules                  []RuleResultView `json:"rules"`
	AllPassed              bool             `json:"all_passed"`
	EligibleForCertificate bool             `json:"eligible_for_certificate"`
}

// RuleResultView is the outcome of one rule.
type RuleResultView struct {
	RuleID string `json:"rule_id"`
	Type   string `json:"type"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

func toCompletionView(r domain.CompletionResult) CompletionView {
	out := CompletionView{
		Rules:                  make([]RuleResultView, 0, len(r.Rules)),
		AllPassed:              r.AllPassed,
		EligibleForCertificate: r.EligibleForCertificate,
	}
	for _, rr := range r.Rules {
		out.Rules = append(out.Rules, RuleResultView{RuleID: rr.RuleID, Type: string(rr.Type), Passed: rr.Passed, Detail: rr.Detail})
	}
	return out
}

// EvidenceView describes a linked evidence file.
type EvidenceView struct {
	ID         string    `json:"id"`
	InstanceID string    `json:"instance_id"`
	FileName   string    `json:"file_name"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// AssessmentView is the author-facing assessment returned on creation.
type AssessmentView struct {
	ID               string         `json:"id"`
	ActivityID       string         `json:"activity_id,omitempty"`
	Title            string         `json:"title"`
	PassMark         int            `json:"pass_mark"`
	MaxAttempts      int            `json:"max_attempts"`
	TimeLimitSeconds int            `json:"time_limit_seconds,omitempty"`
	Hours            float64        `json:"hours"`
	Category         string         `json:"category,omitempty"`
	Questions        []QuestionView `json:"questions"`
}

// QuestionView omits the answer key unless the caller authored the assessment.
type QuestionView struct {
	Prompt       string   `json:"prompt"`
	Options      []string `json:"options"`
	CorrectIndex *int     `json:"correct_index,omitempty"`
	Explanation  string   `json:"explanation,omitempty"`
}

func toAssessmentView(a domain.Assessment) AssessmentView {
	out := AssessmentView{
		ID:               a.ID,
		ActivityID:       a.ActivityID,
		Title:            a.Title,
		PassMark:         a.PassMark,
		MaxAttempts:      a.MaxAttempts,
		TimeLimitSeconds: int(a.TimeLimit / time.Second),
		Hours:            a.Hours,
		Category:         a.Category,
		Questions:        make([]QuestionView, len(a.Questions)),
	}
	for i, q := range a.Questions {
		idx := q.CorrectIndex
		out.Questions[i] = QuestionView{Prompt: q.Prompt, Options: q.Options, CorrectIndex: &idx, Explanation: q.Explanation}
	}
	return out
}

func toPublicAssessmentView(a domain.PublicAssessment) AssessmentView {
	out := AssessmentView{
		ID:               a.ID,
		Title:            a.Title,
		PassMark:         a.PassMark,
		MaxAttempts:      a.MaxAttempts,
		TimeLimitSeconds: int(a.TimeLimit / time.Second),
		Hours:            a.Hours,
		Category:         a.Category,
		Questions:        make([]QuestionView, len(a.Questions)),
	}
	for i, q := range a.Questions {
		out.Questions[i] = QuestionView{Prompt: q.Prompt, Options: q.Options}
	}
	return out
}

// AttemptStatusView reports the attempt ceiling for one learner.
type AttemptStatusView struct {
	AssessmentID string `json:"assessment_id"`
	Used         int    `json:"used"`
	Max          int    `json:"max"`
	Remaining    int    `json:"remaining"`
}

func toAttemptStatusView(s domain.AttemptStatus) AttemptStatusView {
	return AttemptStatusView{AssessmentID: s.AssessmentID, Used: s.Used, Max: s.Max, Remaining: s.Remaining}
}

// SubmitResponse is returned after grading a submission.
type SubmitResponse struct {
	AttemptID     string               `json:"attempt_id"`
	Score         int                  `json:"score"`
	Passed        bool                 `json:"passed"`
	TimedOut      bool                 `json:"timed_out"`
	Results       []QuestionResultView `json:"results"`
	Attempts      AttemptStatusView    `json:"attempts"`
	Certificate   *CertificateView     `json:"certificate,omitempty"`
	CreditRecord  *CreditRecordView    `json:"credit_record,omitempty"`
	IssuanceError string               `json:"issuance_error,omitempty"`
}

// QuestionResultView is per-question feedback shown after grading.
type QuestionResultView struct {
	Index        int    `json:"index"`
	Selected     int    `json:"selected"`
	CorrectIndex int    `json:"correct_index"`
	Correct      bool   `json:"correct"`
	Explanation  string `json:"explanation,omitempty"`
}

func toSubmitResponse(res domain.SubmitResult) SubmitResponse {
	out := SubmitResponse{
		AttemptID: res.Attempt.ID,
		Score:     res.Attempt.Score,
		Passed:    res.Attempt.Passed,
		TimedOut:  res.Attempt.TimedOut,
		Results:   make([]QuestionResultView, 0, len(res.Results)),
		Attempts:  toAttemptStatusView(res.Status),
	}
	for _, r := range res.Results {
		out.Results = append(out.Results, QuestionResultView{
			Index: r.Index, Selected: r.Selected, CorrectIndex: r.CorrectIndex, Correct: r.Correct, Explanation: r.Explanation,
		})
	}
	if res.Issuance != nil {
		out.Certificate, out.CreditRecord = issuanceViews(*res.Issuance)
	}
	if res.IssuanceErr != nil {
		out.IssuanceError = res.IssuanceErr.Error()
	}
	return out
}

// IssuanceView pairs the credit record and certificate produced by one attempt.
type IssuanceView struct {
	AttemptID    string            `json:"attempt_id"`
	Certificate  *CertificateView  `json:"certificate"`
	CreditRecord *CreditRecordView `json:"credit_record"`
}

func issuanceViews(is domain.Issuance) (*CertificateView, *CreditRecordView) {
	cert := toCertificateView(is.Certificate)
	rec := toCreditRecordView(is.CreditRecord)
	return &cert, &rec
}

// CreditRecordView is a ledger entry.
type CreditRecordView struct {
	ID              string             `json:"id"`
	LearnerID       string             `json:"learner_id"`
	Title           string             `json:"title"`
	Provider        string             `json:"provider,omitempty"`
	ActivityType    string             `json:"activity_type"`
	Hours           float64            `json:"hours"`
	Date            time.Time          `json:"date"`
	Status          string             `json:"status"`
	Category        string             `json:"category,omitempty"`
	Provenance      string             `json:"provenance"`
	SourceAttemptID string             `json:"source_attempt_id,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	Allocations     *AllocationSetView `json:"allocations,omitempty"`
}

func toCreditRecordView(r domain.CreditRecord) CreditRecordView {
	return CreditRecordView{
		ID:              r.ID,
		LearnerID:       r.LearnerID,
		Title:           r.Title,
		Provider:        r.Provider,
		ActivityType:    string(r.ActivityType),
		Hours:           r.Hours,
		Date:            r.Date,
		Status:          string(r.Status),
		Category:        r.Category,
		Provenance:      string(r.Provenance),
		SourceAttemptID: r.SourceAttemptID,
		CreatedAt:       r.CreatedAt,
	}
}

// ListCreditRecordsResponse packages a page of records.
type ListCreditRecordsResponse struct {
	Items      []CreditRecordView `json:"items"`
	NextCursor string             `json:"next_cursor,omitempty"`
}

// AllocationSetView shows how a record's hours are split across credentials.
type AllocationSetView struct {
	CreditRecordID   string           `json:"credit_record_id"`
	RecordHours      float64          `json:"record_hours"`
	AllocatedHours   float64          `json:"allocated_hours"`
	UnallocatedHours float64          `json:"unallocated_hours"`
	Allocations      []AllocationView `json:"allocations"`
}

// AllocationView is one credential's share.
type AllocationView struct {
	ID                string  `json:"id"`
	CredentialGrantID string  `json:"credential_grant_id"`
	Hours             float64 `json:"hours"`
}

func toAllocationSetView(s domain.AllocationSet) AllocationSetView {
	out := AllocationSetView{
		CreditRecordID:   s.CreditRecordID,
		RecordHours:      s.RecordHours,
		AllocatedHours:   s.AllocatedHours,
		UnallocatedHours: s.UnallocatedHours,
		Allocations:      make([]AllocationView, 0, len(s.Allocations)),
	}
	for _, a := range s.Allocations {
		out.Allocations = append(out.Allocations, AllocationView{ID: a.ID, CredentialGrantID: a.CredentialGrantID, Hours: a.Hours})
	}
	return out
}

// CredentialView is a learner's licence or registration.
type CredentialView struct {
	ID              string     `json:"id"`
	CredentialName  string     `json:"credential_name"`
	Country         string     `json:"country"`
	State           string     `json:"state,omitempty"`
	RequiredHours   float64    `json:"required_hours"`
	BaselineHours   float64    `json:"baseline_hours"`
	RenewalDeadline *time.Time `json:"renewal_deadline,omitempty"`
	Primary         bool       `json:"primary"`
	CreatedAt       time.Time  `json:"created_at"`
}

func toCredentialView(g domain.CredentialGrant) CredentialView {
	return CredentialView{
		ID:              g.ID,
		CredentialName:  g.CredentialName,
		Country:         g.Country,
		State:           g.State,
		RequiredHours:   g.RequiredHours,
		BaselineHours:   g.BaselineHours,
		RenewalDeadline: g.RenewalDeadline,
		Primary:         g.Primary,
		CreatedAt:       g.CreatedAt,
	}
}

// ProgressView reports progress toward one credential's renewal.
type ProgressView struct {
	Credential     CredentialView `json:"credential"`
	AllocatedHours float64        `json:"allocated_hours"`
	EarnedHours    float64        `json:"earned_hours"`
	RemainingHours float64        `json:"remaining_hours"`
	Percent        float64        `json:"percent"`
	DaysToDeadline *int           `json:"days_to_deadline,omitempty"`
}

// CertificateView is a certificate as shown to its owner or a verifier.
type CertificateView struct {
	ID               string     `json:"id"`
	Code             string     `json:"code"`
	LearnerID        string     `json:"learner_id,omitempty"`
	Title            string     `json:"title"`
	CredentialName   string     `json:"credential_name,omitempty"`
	Hours            float64    `json:"hours"`
	Category         string     `json:"category,omitempty"`
	Provider         string     `json:"provider,omitempty"`
	CompletedAt      time.Time  `json:"completed_at"`
	IssuedAt         time.Time  `json:"issued_at"`
	VerificationURL  string     `json:"verification_url"`
	CreditRecordID   string     `json:"credit_record_id,omitempty"`
	Status           string     `json:"status"`
	RevokedAt        *time.Time `json:"revoked_at,omitempty"`
	RevocationReason string     `json:"revocation_reason,omitempty"`
	AssessmentID     string     `json:"assessment_id,omitempty"`
	AttemptID        string     `json:"attempt_id,omitempty"`
	Score            *int       `json:"score,omitempty"`
}

func toCertificateView(c domain.Certificate) CertificateView {
	return CertificateView{
		ID:               c.ID,
		Code:             c.Code,
		LearnerID:        c.LearnerID,
		Title:            c.Title,
		CredentialName:   c.CredentialName,
		Hours:            c.Hours,
		Category:         c.Category,
		Provider:         c.Provider,
		CompletedAt:      c.CompletedAt,
		IssuedAt:         c.IssuedAt,
		VerificationURL:  c.VerificationURL,
		CreditRecordID:   c.CreditRecordID,
		Status:           string(c.Status),
		RevokedAt:        c.RevokedAt,
		RevocationReason: c.RevocationReason,
		AssessmentID:     c.Metadata.AssessmentID,
		AttemptID:        c.Metadata.AttemptID,
		Score:            c.Metadata.Score,
	}
}

// VerificationView is the public answer for GET /v1/verify/{code}. Learner and
// ledger identifiers are withheld.
type VerificationView struct {
	Valid       bool             `json:"valid"`
	Status      string           `json:"status"`
	Certificate *CertificateView `json:"certificate,omitempty"`
}

func toVerificationView(v domain.Verification) VerificationView {
	out := VerificationView{Valid: v.Valid, Status: string(v.Status)}
	if v.Certificate != nil {
		cert := toCertificateView(*v.Certificate)
		cert.LearnerID = ""
		cert.CreditRecordID = ""
		cert.AttemptID = ""
		cert.AssessmentID = ""
		cert.Score = nil
		out.Certificate = &cert
	}
	return out
}
