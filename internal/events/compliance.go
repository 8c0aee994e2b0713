// Package events defines the compliance event payloads published through the outbox.
package events

import "time"

// Event types carried in the outbox event_type column and the Kafka event_type header.
const (
	TypeCreditIssued        = "credit.issued"
	TypeCertificateRevoked  = "certificate.revoked"
	TypeAllocationsReplaced = "allocations.replaced"
)

// Route names the Kafka topic and Schema Registry subject for an event type.
type Route struct {
	Topic         string
	SchemaSubject string
}

// Routes maps every event type to its destination.
var Routes = map[string]Route{
	TypeCreditIssued: {
		Topic:         "cpd_credit_issued",
		SchemaSubject: "cpd_credit_issued-value",
	},
	TypeCertificateRevoked: {
		Topic:         "cpd_certificate_revoked",
		SchemaSubject: "cpd_certificate_revoked-value",
	},
	TypeAllocationsReplaced: {
		Topic:         "cpd_allocations_replaced",
		SchemaSubject: "cpd_allocations_replaced-value",
	},
}

// Topics lists every topic the outbox publishes to.
func Topics() []string {
	return []string{
		Routes[TypeCreditIssued].Topic,
		Routes[TypeCertificateRevoked].Topic,
		Routes[TypeAllocationsReplaced].Topic,
	}
}

// CreditIssued is emitted when a passing attempt produces a credit record and certificate.
type CreditIssued struct {
	CertificateID   string    `json:"certificate_id"`
	CertificateCode string    `json:"certificate_code"`
	CreditRecordID  string    `json:"credit_record_id"`
	LearnerID       string    `json:"learner_id"`
	AssessmentID    string    `json:"assessment_id"`
	AttemptID       string    `json:"attempt_id"`
	Hours           float64   `json:"hours"`
	Category        string    `json:"category"`
	IssuedAt        time.Time `json:"issued_at"`
}

// CertificateRevoked is emitted once per certificate when it is revoked.
type CertificateRevoked struct {
	CertificateID   string    `json:"certificate_id"`
	CertificateCode string    `json:"certificate_code"`
	LearnerID       string    `json:"learner_id"`
	Reason          string    `json:"reason,omitempty"`
	RevokedAt       time.Time `json:"revoked_at"`
}

// AllocationShare is one credential's portion of a credit record.
type AllocationShare struct {
	CredentialGrantID string  `json:"credential_grant_id"`
	Hours             float64 `json:"hours"`
}

// AllocationsReplaced carries the full allocation set after a replacement.
type AllocationsReplaced struct {
	CreditRecordID string            `json:"credit_record_id"`
	LearnerID      string            `json:"learner_id"`
	RecordHours    float64           `json:"record_hours"`
	AllocatedHours float64           `json:"allocated_hours"`
	Allocations    []AllocationShare `json:"allocations"`
	ReplacedAt     time.Time         `json:"replaced_at"`
}
