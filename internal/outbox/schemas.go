package outbox

import "example.com/cpd/internal/events"

// SchemaCatalogEntry maps event type to schema definition.
type SchemaCatalogEntry struct {
	Schema string
}

var schemaCatalog = map[string]SchemaCatalogEntry{
	events.TypeCreditIssued:        {Schema: creditIssuedSchema},
	events.TypeCertificateRevoked:  {Schema: certificateRevokedSchema},
	events.TypeAllocationsReplaced: {Schema: allocationsReplacedSchema},
}

const creditIssuedSchema = `{
  "type": "object",
  "title": "CreditIssued",
  "properties": {
    "certificate_id": {"type": "string"},
    "certificate_code": {"type": "string", "pattern": "^CERT-[0-9]{4}-[a-z0-9]{8}$"},
    "credit_record_id": {"type": "string"},
    "learner_id": {"type": "string"},
    "assessment_id": {"type": "string"},
    "attempt_id": {"type": "string"},
    "hours": {"type": "number", "minimum": 0},
    "category": {"type": "string"},
    "issued_at": {"type": "string", "format": "date-time"}
  },
  "required": ["certificate_id", "certificate_code", "credit_record_id", "learner_id", "attempt_id", "hours", "issued_at"],
  "additionalProperties": false
}`

const certificateRevokedSchema = `{
  "type": "object",
  "title": "CertificateRevoked",
  "properties": {
    "certificate_id": {"type": "string"},
    "certificate_code": {"type": "string"},
    "learner_id": {"type": "string"},
    "reason": {"type": "string"},
    "revoked_at": {"type": "string", "format": "date-time"}
  },
  "required": ["certificate_id", "certificate_code", "learner_id", "revoked_at"],
  "additionalProperties": false
}`

const allocationsReplacedSchema = `{
  "type": "object",
  "title": "AllocationsReplaced",
  "properties": {
    "credit_record_id": {"type": "string"},
    "learner_id": {"type": "string"},
    "record_hours": {"type": "number"},
    "allocated_hours": {"type": "number"},
    "allocations": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "credential_grant_id": {"type": "string"},
          "hours": {"type": "number", "minimum": 0}
        },
        "required": ["credential_grant_id", "hours"],
        "additionalProperties": false
      }
    },
    "replaced_at": {"type": "string", "format": "date-time"}
  },
  "required": ["credit_record_id", "learner_id", "record_hours", "allocated_hours", "allocations", "replaced_at"],
  "additionalProperties": false
}`
