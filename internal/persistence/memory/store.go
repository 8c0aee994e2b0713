// Package memory provides an in-process domain.Repository for local development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"example.com/cpd/internal/domain"
)

// Store keeps every aggregate in maps guarded by a single mutex. Multi-step operations run under the
// write lock, which gives them the same atomicity the postgres repository gets from transactions.
type Store struct {
	mu sync.RWMutex

	activities  map[string]domain.Activity
	mappings    map[string]domain.CreditMapping
	mappingIDs  map[string][]string
	assessments map[string]domain.Assessment
	attempts    map[string]domain.AssessmentAttempt
	attemptIDs  map[string][]string
	rules       map[string][]domain.CompletionRule
	evidence    map[string][]domain.EvidenceFile

	records      map[string]domain.CreditRecord
	certificates map[string]domain.Certificate
	certByCode   map[string]string
	issuances    map[string]issuanceRef
	grants       map[string]domain.CredentialGrant
	allocations  map[string][]domain.CreditAllocation
}

type issuanceRef struct {
	recordID      string
	certificateID string
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		activities:   make(map[string]domain.Activity),
		mappings:     make(map[string]domain.CreditMapping),
		mappingIDs:   make(map[string][]string),
		assessments:  make(map[string]domain.Assessment),
		attempts:     make(map[string]domain.AssessmentAttempt),
		attemptIDs:   make(map[string][]string),
		rules:        make(map[string][]domain.CompletionRule),
		evidence:     make(map[string][]domain.EvidenceFile),
		records:      make(map[string]domain.CreditRecord),
		certificates: make(map[string]domain.Certificate),
		certByCode:   make(map[string]string),
		issuances:    make(map[string]issuanceRef),
		grants:       make(map[string]domain.CredentialGrant),
		allocations:  make(map[string][]domain.CreditAllocation),
	}
}

var _ domain.Repository = (*Store)(nil)

func attemptKey(learnerID, assessmentID string) string {
	return learnerID + "/" + assessmentID
}

func missing(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, domain.ErrNotFound)
}

// CreateActivity implements domain.CatalogRepository.
func (s *Store) CreateActivity(ctx context.Context, activity domain.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activities[activity.ID] = activity
	return nil
}

// GetActivity implements domain.CatalogRepository.
func (s *Store) GetActivity(ctx context.Context, id string) (*domain.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	activity, ok := s.activities[id]
	if !ok {
		return nil, nil
	}
	return &activity, nil
}

// UpdateActivity implements domain.CatalogRepository.
func (s *Store) UpdateActivity(ctx context.Context, activity domain.Activity, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.activities[activity.ID]
	if !ok {
		return missing("activity", activity.ID)
	}
	if stored.Version != expectedVersion {
		return domain.ErrVersionConflict
	}
	s.activities[activity.ID] = activity
	return nil
}

// CreateMapping implements domain.CatalogRepository.
func (s *Store) CreateMapping(ctx context.Context, mapping domain.CreditMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mappings[mapping.ID] = cloneMapping(mapping)
	s.mappingIDs[mapping.ActivityID] = append(s.mappingIDs[mapping.ActivityID], mapping.ID)
	return nil
}

// GetMapping implements domain.CatalogRepository.
func (s *Store) GetMapping(ctx context.Context, id string) (*domain.CreditMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.mappings[id]
	if !ok {
		return nil, nil
	}
	m = cloneMapping(m)
	return &m, nil
}

// SetMappingActive implements domain.CatalogRepository.
func (s *Store) SetMappingActive(ctx context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mappings[id]
	if !ok {
		return missing("mapping", id)
	}
	m.Active = active
	s.mappings[id] = m
	return nil
}

// ListMappings implements domain.CatalogRepository.
func (s *Store) ListMappings(ctx context.Context, activityID string) ([]domain.CreditMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.mappingIDs[activityID]
	out := make([]domain.CreditMapping, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneMapping(s.mappings[id]))
	}
	return out, nil
}

// CreateAssessment implements domain.AssessmentRepository.
func (s *Store) CreateAssessment(ctx context.Context, assessment domain.Assessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assessments[assessment.ID] = cloneAssessment(assessment)
	return nil
}

// GetAssessment implements domain.AssessmentRepository.
func (s *Store) GetAssessment(ctx context.Context, id string) (*domain.Assessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assessments[id]
	if !ok {
		return nil, nil
	}
	a = cloneAssessment(a)
	return &a, nil
}

// RecordAttempt implements domain.AssessmentRepository.
func (s *Store) RecordAttempt(ctx context.Context, attempt domain.AssessmentAttempt, maxAttempts int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := attemptKey(attempt.LearnerID, attempt.AssessmentID)
	used := len(s.attemptIDs[key])
	if used >= maxAttempts {
		return used, &domain.AttemptsExhaustedError{Used: used, Max: maxAttempts}
	}
	attempt.Answers = append([]int(nil), attempt.Answers...)
	s.attempts[attempt.ID] = attempt
	s.attemptIDs[key] = append(s.attemptIDs[key], attempt.ID)
	return used + 1, nil
}

// GetAttempt implements domain.AssessmentRepository.
func (s *Store) GetAttempt(ctx context.Context, id string) (*domain.AssessmentAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.attempts[id]
	if !ok {
		return nil, nil
	}
	a.Answers = append([]int(nil), a.Answers...)
	return &a, nil
}

// CountAttempts implements domain.AssessmentRepository.
func (s *Store) CountAttempts(ctx context.Context, learnerID, assessmentID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.attemptIDs[attemptKey(learnerID, assessmentID)]), nil
}

// HasPassingAttempt implements domain.AssessmentRepository. A minScore replaces the stored pass flag.
func (s *Store) HasPassingAttempt(ctx context.Context, learnerID, assessmentID string, minScore *int) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.attemptIDs[attemptKey(learnerID, assessmentID)] {
		a := s.attempts[id]
		if minScore == nil && a.Passed {
			return true, nil
		}
		if minScore != nil && !a.TimedOut && a.Score >= *minScore {
			return true, nil
		}
	}
	return false, nil
}

// CreateRule implements domain.RuleRepository.
func (s *Store) CreateRule(ctx context.Context, rule domain.CompletionRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[rule.InstanceID] = append(s.rules[rule.InstanceID], rule)
	return nil
}

// ListRules implements domain.RuleRepository.
func (s *Store) ListRules(ctx context.Context, instanceID string) ([]domain.CompletionRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.CompletionRule(nil), s.rules[instanceID]...), nil
}

// AddEvidence implements domain.RuleRepository.
func (s *Store) AddEvidence(ctx context.Context, file domain.EvidenceFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evidence[file.InstanceID] = append(s.evidence[file.InstanceID], file)
	return nil
}

// CountEvidence implements domain.RuleRepository.
func (s *Store) CountEvidence(ctx context.Context, instanceID, learnerID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, f := range s.evidence[instanceID] {
		if f.LearnerID == learnerID {
			n++
		}
	}
	return n, nil
}

// CreateCreditRecord implements domain.LedgerRepository.
func (s *Store) CreateCreditRecord(ctx context.Context, record domain.CreditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ID] = record
	return nil
}

// GetCreditRecord implements domain.LedgerRepository.
func (s *Store) GetCreditRecord(ctx context.Context, id string) (*domain.CreditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

// ListCreditRecords implements domain.LedgerRepository. Records are ordered by date then id, newest first.
func (s *Store) ListCreditRecords(ctx context.Context, learnerID string, cursor *domain.Cursor, limit int) ([]domain.CreditRecord, *domain.Cursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []domain.CreditRecord
	for _, r := range s.records {
		if r.LearnerID != learnerID {
			continue
		}
		if cursor != nil && !before(r, *cursor) {
			continue
		}
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].Date.Equal(all[j].Date) {
			return all[i].Date.After(all[j].Date)
		}
		return all[i].ID > all[j].ID
	})
	if limit <= 0 || len(all) <= limit {
		return all, nil, nil
	}
	page := all[:limit]
	last := page[len(page)-1]
	return page, &domain.Cursor{Date: last.Date, ID: last.ID}, nil
}

func before(r domain.CreditRecord, c domain.Cursor) bool {
	if r.Date.Equal(c.Date) {
		return r.ID < c.ID
	}
	return r.Date.Before(c.Date)
}

// IssueCredit implements domain.LedgerRepository.
func (s *Store) IssueCredit(ctx context.Context, issuance domain.Issuance) (*domain.Issuance, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing := s.issuanceLocked(issuance.AttemptID); existing != nil {
		return existing, true, nil
	}
	if _, taken := s.certByCode[issuance.Certificate.Code]; taken {
		return nil, false, domain.ErrCodeCollision
	}
	s.records[issuance.CreditRecord.ID] = issuance.CreditRecord
	s.certificates[issuance.Certificate.ID] = issuance.Certificate
	s.certByCode[issuance.Certificate.Code] = issuance.Certificate.ID
	s.issuances[issuance.AttemptID] = issuanceRef{recordID: issuance.CreditRecord.ID, certificateID: issuance.Certificate.ID}
	out := issuance
	return &out, false, nil
}

// FindIssuanceByAttempt implements domain.LedgerRepository.
func (s *Store) FindIssuanceByAttempt(ctx context.Context, attemptID string) (*domain.Issuance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.issuanceLocked(attemptID), nil
}

func (s *Store) issuanceLocked(attemptID string) *domain.Issuance {
	ref, ok := s.issuances[attemptID]
	if !ok {
		return nil
	}
	return &domain.Issuance{
		AttemptID:    attemptID,
		CreditRecord: s.records[ref.recordID],
		Certificate:  s.certificates[ref.certificateID],
	}
}

// GetCertificate implements domain.LedgerRepository.
func (s *Store) GetCertificate(ctx context.Context, id string) (*domain.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.certificates[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

// GetCertificateByCode implements domain.LedgerRepository.
func (s *Store) GetCertificateByCode(ctx context.Context, code string) (*domain.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.certByCode[code]
	if !ok {
		return nil, nil
	}
	c := s.certificates[id]
	return &c, nil
}

// ListCertificates implements domain.LedgerRepository.
func (s *Store) ListCertificates(ctx context.Context, learnerID string) ([]domain.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []domain.Certificate{}
	for _, c := range s.certificates {
		if c.LearnerID == learnerID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].IssuedAt.Equal(out[j].IssuedAt) {
			return out[i].IssuedAt.After(out[j].IssuedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// RevokeCertificate implements domain.LedgerRepository.
func (s *Store) RevokeCertificate(ctx context.Context, cert domain.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.certificates[cert.ID]
	if !ok {
		return missing("certificate", cert.ID)
	}
	if stored.Status == domain.CertificateRevoked {
		return nil
	}
	stored.Status = cert.Status
	stored.RevokedAt = cert.RevokedAt
	stored.RevocationReason = cert.RevocationReason
	s.certificates[cert.ID] = stored
	return nil
}

// CreateGrant implements domain.LedgerRepository.
func (s *Store) CreateGrant(ctx context.Context, grant domain.CredentialGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants[grant.ID] = grant
	return nil
}

// ListGrants implements domain.LedgerRepository.
func (s *Store) ListGrants(ctx context.Context, learnerID string) ([]domain.CredentialGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.grantsLocked(learnerID), nil
}

func (s *Store) grantsLocked(learnerID string) []domain.CredentialGrant {
	out := []domain.CredentialGrant{}
	for _, g := range s.grants {
		if g.LearnerID == learnerID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ReplaceAllocations implements domain.LedgerRepository.
func (s *Store) ReplaceAllocations(ctx context.Context, recordID string, validate domain.AllocationValidator, allocations []domain.CreditAllocation) (*domain.AllocationSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[recordID]
	if !ok {
		return nil, missing("credit record", recordID)
	}
	if validate != nil {
		if err := validate(record, s.grantsLocked(record.LearnerID)); err != nil {
			return nil, err
		}
	}
	stored := append([]domain.CreditAllocation(nil), allocations...)
	s.allocations[recordID] = stored
	set := domain.NewAllocationSet(record, append([]domain.CreditAllocation(nil), stored...))
	return &set, nil
}

// ListAllocations implements domain.LedgerRepository.
func (s *Store) ListAllocations(ctx context.Context, recordID string) ([]domain.CreditAllocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.CreditAllocation(nil), s.allocations[recordID]...), nil
}

// AllocatedHoursByGrant implements domain.LedgerRepository.
func (s *Store) AllocatedHoursByGrant(ctx context.Context, learnerID string) (map[string]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]float64)
	for recordID, allocs := range s.allocations {
		if s.records[recordID].LearnerID != learnerID {
			continue
		}
		for _, a := range allocs {
			out[a.CredentialGrantID] += a.Hours
		}
	}
	return out, nil
}

func cloneMapping(m domain.CreditMapping) domain.CreditMapping {
	m.AllowedStates = append([]string(nil), m.AllowedStates...)
	m.ExcludedStates = append([]string(nil), m.ExcludedStates...)
	return m
}

func cloneAssessment(a domain.Assessment) domain.Assessment {
	questions := make([]domain.Question, len(a.Questions))
	for i, q := range a.Questions {
		q.Options = append([]string(nil), q.Options...)
		questions[i] = q
	}
	a.Questions = questions
	return a
}
