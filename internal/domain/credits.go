package domain

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"example.com/cpd/internal/observability"
)

const (
	defaultRecordPageSize = 50
	maxRecordPageSize     = 200
)

// RecordView is a credit record with its current allocation state.
type RecordView struct {
	Record      CreditRecord
	Allocations AllocationSet
}

// LogCreditRecord stores a manually logged record and applies the default allocation.
func (s *Service) LogCreditRecord(ctx context.Context, actor Actor, in CreditRecordInput) (*CreditRecord, error) {
	if actor.LearnerID == "" {
		return nil, ErrUnauthorized
	}
	in.Title = strings.TrimSpace(in.Title)
	in.Provider = strings.TrimSpace(in.Provider)
	in.Category = strings.ToLower(strings.TrimSpace(in.Category))
	if in.Status == "" {
		in.Status = RecordCompleted
	}
	in.Hours = roundHours(in.Hours)
	if err := in.validate(); err != nil {
		return nil, err
	}
	activityType := in.ActivityType
	if activityType == "" {
		activityType = ActivityTypeOther
	}

	now := s.now()
	record := CreditRecord{
		ID:           uuid.NewString(),
		LearnerID:    actor.LearnerID,
		Title:        in.Title,
		Provider:     in.Provider,
		ActivityType: activityType,
		Hours:        in.Hours,
		Date:         in.Date.UTC(),
		Status:       in.Status,
		Category:     in.Category,
		Provenance:   ProvenanceManual,
		CreatedAt:    now,
	}
	if err := s.repo.CreateCreditRecord(ctx, record); err != nil {
		return nil, err
	}
	s.applyDefaultAllocation(ctx, record)
	return &record, nil
}

// GetCreditRecord returns a record the actor owns together with its allocations.
func (s *Service) GetCreditRecord(ctx context.Context, actor Actor, id string) (*RecordView, error) {
	record, err := s.ownedRecord(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	allocs, err := s.repo.ListAllocations(ctx, id)
	if err != nil {
		return nil, err
	}
	return &RecordView{Record: *record, Allocations: NewAllocationSet(*record, allocs)}, nil
}

// ListCreditRecords pages through a learner's ledger, newest first.
func (s *Service) ListCreditRecords(ctx context.Context, actor Actor, cursor *Cursor, limit int) ([]CreditRecord, *Cursor, error) {
	if actor.LearnerID == "" {
		return nil, nil, ErrUnauthorized
	}
	if limit <= 0 {
		limit = defaultRecordPageSize
	}
	if limit > maxRecordPageSize {
		limit = maxRecordPageSize
	}
	return s.repo.ListCreditRecords(ctx, actor.LearnerID, cursor, limit)
}

func (s *Service) ownedRecord(ctx context.Context, actor Actor, id string) (*CreditRecord, error) {
	record, err := s.repo.GetCreditRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, notFound("credit record", id)
	}
	if !actor.owns(record.LearnerID) {
		return nil, ErrUnauthorized
	}
	return record, nil
}

// SetAllocations replaces the full allocation set of a credit record. Either every allocation is
// accepted or none is, and the previous set stays in place on failure.
func (s *Service) SetAllocations(ctx context.Context, actor Actor, recordID string, inputs []AllocationInput) (out *AllocationSet, err error) {
	ctx, span := s.startSpan(ctx, "SetAllocations", attribute.String("credit_record_id", recordID))
	defer func() { endSpan(span, err) }()

	if _, err := s.ownedRecord(ctx, actor, recordID); err != nil {
		return nil, err
	}
	out, err = s.replaceAllocations(ctx, recordID, inputs, func(record CreditRecord) error {
		if !actor.owns(record.LearnerID) {
			return ErrUnauthorized
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	observability.RecordAllocationReplaced()
	return out, nil
}

func (s *Service) replaceAllocations(ctx context.Context, recordID string, inputs []AllocationInput, check func(CreditRecord) error) (*AllocationSet, error) {
	now := s.now()
	allocations := make([]CreditAllocation, 0, len(inputs))
	for _, in := range inputs {
		allocations = append(allocations, CreditAllocation{
			ID:                uuid.NewString(),
			CreditRecordID:    recordID,
			CredentialGrantID: strings.TrimSpace(in.CredentialGrantID),
			Hours:             roundHours(in.Hours),
			CreatedAt:         now,
		})
	}
	validate := func(record CreditRecord, ownerGrants []CredentialGrant) error {
		if check != nil {
			if err := check(record); err != nil {
				return err
			}
		}
		return ValidateAllocations(record, ownerGrants, inputs)
	}
	return s.repo.ReplaceAllocations(ctx, recordID, validate, allocations)
}

// applyDefaultAllocation gives a new record's full hours to the learner's only credential.
// Failures are logged; the record itself is already stored.
func (s *Service) applyDefaultAllocation(ctx context.Context, record CreditRecord) {
	grants, err := s.repo.ListGrants(ctx, record.LearnerID)
	if err != nil {
		s.log.Warn("default allocation skipped", "credit_record_id", record.ID, "error", err)
		return
	}
	inputs := DefaultAllocation(record, grants)
	if len(inputs) == 0 {
		return
	}
	if _, err := s.replaceAllocations(ctx, record.ID, inputs, nil); err != nil {
		s.log.Warn("default allocation failed", "credit_record_id", record.ID, "error", err)
		return
	}
	observability.RecordAllocationReplaced()
}

// AddCredentialGrant records a credential the actor holds.
func (s *Service) AddCredentialGrant(ctx context.Context, actor Actor, in CredentialGrantInput) (*CredentialGrant, error) {
	if actor.LearnerID == "" {
		return nil, ErrUnauthorized
	}
	in.CredentialName = strings.TrimSpace(in.CredentialName)
	if err := in.validate(); err != nil {
		return nil, err
	}
	grant := CredentialGrant{
		ID:              uuid.NewString(),
		LearnerID:       actor.LearnerID,
		CredentialName:  in.CredentialName,
		Country:         normalizeCode(in.Country),
		State:           normalizeCode(in.State),
		RequiredHours:   in.RequiredHours,
		BaselineHours:   in.BaselineHours,
		RenewalDeadline: in.RenewalDeadline,
		Primary:         in.Primary,
		CreatedAt:       s.now(),
	}
	if err := s.repo.CreateGrant(ctx, grant); err != nil {
		return nil, err
	}
	return &grant, nil
}

// ListCredentialGrants returns the actor's credentials.
func (s *Service) ListCredentialGrants(ctx context.Context, actor Actor) ([]CredentialGrant, error) {
	if actor.LearnerID == "" {
		return nil, ErrUnauthorized
	}
	return s.repo.ListGrants(ctx, actor.LearnerID)
}

// CredentialProgress reports progress toward each of the actor's credentials, primary first.
func (s *Service) CredentialProgress(ctx context.Context, actor Actor) ([]CredentialProgress, error) {
	grants, err := s.ListCredentialGrants(ctx, actor)
	if err != nil {
		return nil, err
	}
	allocated, err := s.repo.AllocatedHoursByGrant(ctx, actor.LearnerID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]CredentialProgress, 0, len(grants))
	for _, g := range grants {
		out = append(out, ComputeProgress(g, allocated[g.ID], now))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Grant.Primary && !out[j].Grant.Primary
	})
	return out, nil
}

// VerifyCertificate is the public lookup behind verification links. Unknown codes are reported as
// invalid rather than as errors.
func (s *Service) VerifyCertificate(ctx context.Context, code string) (*Verification, error) {
	code = strings.TrimSpace(code)
	if !ValidCode(code) {
		return &Verification{Valid: false, Status: CertificateNotFound}, nil
	}
	cert, err := s.repo.GetCertificateByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if cert == nil {
		return &Verification{Valid: false, Status: CertificateNotFound}, nil
	}
	return &Verification{Valid: cert.Status == CertificateActive, Status: cert.Status, Certificate: cert}, nil
}

// RevokeCertificate marks a certificate revoked. Revoking twice keeps the first revocation.
func (s *Service) RevokeCertificate(ctx context.Context, actor Actor, id, reason string) (*Certificate, error) {
	if !actor.Admin {
		return nil, ErrUnauthorized
	}
	cert, err := s.repo.GetCertificate(ctx, id)
	if err != nil {
		return nil, err
	}
	if cert == nil {
		return nil, notFound("certificate", id)
	}
	if cert.Status == CertificateRevoked {
		return cert, nil
	}
	now := s.now()
	cert.Status = CertificateRevoked
	cert.RevokedAt = &now
	cert.RevocationReason = strings.TrimSpace(reason)
	if err := s.repo.RevokeCertificate(ctx, *cert); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, notFound("certificate", id)
		}
		return nil, err
	}
	// A concurrent revocation may have won; report what is stored.
	stored, err := s.repo.GetCertificate(ctx, id)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, notFound("certificate", id)
	}
	s.log.Info("certificate revoked", "certificate_id", stored.ID, "learner_id", stored.LearnerID)
	return stored, nil
}

// ListCertificates returns the actor's certificates, newest first.
func (s *Service) ListCertificates(ctx context.Context, actor Actor) ([]Certificate, error) {
	if actor.LearnerID == "" {
		return nil, ErrUnauthorized
	}
	return s.repo.ListCertificates(ctx, actor.LearnerID)
}
