package domain

import "context"

// Lookups return (nil, nil) when a row does not exist; the Service turns that into ErrNotFound.

// CatalogRepository persists activities and their credit mappings.
type CatalogRepository interface {
	CreateActivity(ctx context.Context, activity Activity) error
	GetActivity(ctx context.Context, id string) (*Activity, error)
	// UpdateActivity stores the activity if the stored version still equals expectedVersion,
	// otherwise it returns ErrVersionConflict.
	UpdateActivity(ctx context.Context, activity Activity, expectedVersion int) error
	CreateMapping(ctx context.Context, mapping CreditMapping) error
	GetMapping(ctx context.Context, id string) (*CreditMapping, error)
	SetMappingActive(ctx context.Context, id string, active bool) error
	ListMappings(ctx context.Context, activityID string) ([]CreditMapping, error)
}

// AssessmentRepository persists assessments and graded attempts.
type AssessmentRepository interface {
	CreateAssessment(ctx context.Context, assessment Assessment) error
	GetAssessment(ctx context.Context, id string) (*Assessment, error)
	// RecordAttempt counts the learner's prior attempts and inserts the new one as a single atomic unit.
	// used includes the new attempt. When maxAttempts are already used it returns
	// *AttemptsExhaustedError and stores nothing.
	RecordAttempt(ctx context.Context, attempt AssessmentAttempt, maxAttempts int) (used int, err error)
	GetAttempt(ctx context.Context, id string) (*AssessmentAttempt, error)
	CountAttempts(ctx context.Context, learnerID, assessmentID string) (int, error)
	HasPassingAttempt(ctx context.Context, learnerID, assessmentID string, minScore *int) (bool, error)
}

// RuleRepository persists completion rules and the evidence they inspect.
type RuleRepository interface {
	CreateRule(ctx context.Context, rule CompletionRule) error
	ListRules(ctx context.Context, instanceID string) ([]CompletionRule, error)
	AddEvidence(ctx context.Context, file EvidenceFile) error
	CountEvidence(ctx context.Context, instanceID, learnerID string) (int, error)
}

// LedgerRepository persists credit records, certificates, credentials and allocations.
type LedgerRepository interface {
	CreateCreditRecord(ctx context.Context, record CreditRecord) error
	GetCreditRecord(ctx context.Context, id string) (*CreditRecord, error)
	ListCreditRecords(ctx context.Context, learnerID string, cursor *Cursor, limit int) ([]CreditRecord, *Cursor, error)

	// IssueCredit stores the record and certificate in one transaction. If the attempt was already issued
	// it returns the stored pair with replay=true. A duplicate certificate code yields ErrCodeCollision
	// with nothing stored.
	IssueCredit(ctx context.Context, issuance Issuance) (stored *Issuance, replay bool, err error)
	FindIssuanceByAttempt(ctx context.Context, attemptID string) (*Issuance, error)

	GetCertificate(ctx context.Context, id string) (*Certificate, error)
	GetCertificateByCode(ctx context.Context, code string) (*Certificate, error)
	ListCertificates(ctx context.Context, learnerID string) ([]Certificate, error)
	RevokeCertificate(ctx context.Context, cert Certificate) error

	CreateGrant(ctx context.Context, grant CredentialGrant) error
	ListGrants(ctx context.Context, learnerID string) ([]CredentialGrant, error)

	// ReplaceAllocations locks the record, runs validate with the owner's grants and swaps the whole
	// allocation set. Readers observe either the previous set or the new one.
	ReplaceAllocations(ctx context.Context, recordID string, validate AllocationValidator, allocations []CreditAllocation) (*AllocationSet, error)
	ListAllocations(ctx context.Context, recordID string) ([]CreditAllocation, error)
	AllocatedHoursByGrant(ctx context.Context, learnerID string) (map[string]float64, error)
}

// Repository is the full storage contract the Service depends on.
type Repository interface {
	CatalogRepository
	AssessmentRepository
	RuleRepository
	LedgerRepository
}

// MappingSource lists credit mappings for an activity. The cache package wraps it.
type MappingSource interface {
	ListMappings(ctx context.Context, activityID string) ([]CreditMapping, error)
}

// MappingInvalidator drops cached mapping definitions after a write.
type MappingInvalidator interface {
	InvalidateMappings(ctx context.Context, activityID string) error
}
