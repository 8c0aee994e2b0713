package domain

import (
	"strings"
	"time"
)

// RecordStatus is the completion state of a credit record.
type RecordStatus string

const (
	RecordCompleted  RecordStatus = "completed"
	RecordInProgress RecordStatus = "in_progress"
	RecordPlanned    RecordStatus = "planned"
)

// Provenance records how a credit record entered the system.
type Provenance string

const (
	ProvenanceManual   Provenance = "manual"
	ProvenancePlatform Provenance = "platform"
	ProvenanceImported Provenance = "imported"
)

// CreditRecord is one logged CPD activity in a learner's ledger.
type CreditRecord struct {
	ID              string
	LearnerID       string
	Title           string
	Provider        string
	ActivityType    ActivityType
	Hours           float64
	Date            time.Time
	Status          RecordStatus
	Category        string
	Provenance      Provenance
	SourceAttemptID string
	CreatedAt       time.Time
}

// CreditRecordInput is a manually logged record.
type CreditRecordInput struct {
	Title        string
	Provider     string
	ActivityType ActivityType
	Hours        float64
	Date         time.Time
	Status       RecordStatus
	Category     string
}

func (in CreditRecordInput) validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return validationf("title is required")
	}
	if !(in.Hours > 0) {
		return validationf("hours must be positive")
	}
	if in.ActivityType != "" && !in.ActivityType.Valid() {
		return validationf("unknown activity type %q", in.ActivityType)
	}
	switch in.Status {
	case RecordCompleted, RecordInProgress, RecordPlanned:
	default:
		return validationf("unknown status %q", in.Status)
	}
	if in.Date.IsZero() {
		return validationf("date is required")
	}
	return nil
}

// CertificateStatus is active until revoked. Revocation never deletes.
type CertificateStatus string

const (
	CertificateActive  CertificateStatus = "active"
	CertificateRevoked CertificateStatus = "revoked"

	// CertificateNotFound is only reported by verification for unknown codes.
	CertificateNotFound CertificateStatus = "not_found"
)

// Certificate is externally verifiable proof that a credit record was earned.
type Certificate struct {
	ID               string
	LearnerID        string
	Code             string
	Title            string
	CredentialName   string
	Hours            float64
	Category         string
	Provider         string
	CompletedAt      time.Time
	IssuedAt         time.Time
	VerificationURL  string
	CreditRecordID   string
	Status           CertificateStatus
	RevokedAt        *time.Time
	RevocationReason string
	Metadata         CertificateMetadata
}

// CertificateMetadata captures how the certificate was earned.
type CertificateMetadata struct {
	AssessmentID string `json:"assessmentId,omitempty"`
	AttemptID    string `json:"attemptId,omitempty"`
	Score        *int   `json:"score,omitempty"`
}

// Issuance is the credit record and certificate pair created by one passing attempt.
type Issuance struct {
	AttemptID    string
	CreditRecord CreditRecord
	Certificate  Certificate
}

// Verification is the public answer to a certificate lookup. A missing or revoked code is not an error.
type Verification struct {
	Valid       bool
	Status      CertificateStatus
	Certificate *Certificate
}

// CredentialGrant is a professional credential a learner holds in one jurisdiction.
type CredentialGrant struct {
	ID              string
	LearnerID       string
	CredentialName  string
	Country         string
	State           string
	RequiredHours   float64
	BaselineHours   float64
	RenewalDeadline *time.Time
	Primary         bool
	CreatedAt       time.Time
}

// Jurisdiction returns where the credential is held.
func (g CredentialGrant) Jurisdiction() Jurisdiction {
	return Jurisdiction{Country: g.Country, State: g.State}
}

// CredentialGrantInput carries the fields of a new grant.
type CredentialGrantInput struct {
	CredentialName  string
	Country         string
	State           string
	RequiredHours   float64
	BaselineHours   float64
	RenewalDeadline *time.Time
	Primary         bool
}

func (in CredentialGrantInput) validate() error {
	if strings.TrimSpace(in.CredentialName) == "" {
		return validationf("credential name is required")
	}
	if strings.TrimSpace(in.Country) == "" {
		return validationf("country is required")
	}
	if in.RequiredHours < 0 || in.BaselineHours < 0 {
		return validationf("hours cannot be negative")
	}
	return nil
}

// EvidenceFile is a file linked to an activity instance. The bytes live in an external store.
type EvidenceFile struct {
	ID         string
	InstanceID string
	LearnerID  string
	FileName   string
	UploadedAt time.Time
}

// Cursor models the pagination token for credit record listings.
type Cursor struct {
	Date time.Time
	ID   string
}
