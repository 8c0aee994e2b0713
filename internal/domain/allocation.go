package domain

import (
	"math"
	"strings"
	"time"
)

// hoursEpsilon tolerates float noise when comparing hour sums stored as NUMERIC(10,2).
const hoursEpsilon = 1e-6

// AllocationInput is one requested share of a credit record.
type AllocationInput struct {
	CredentialGrantID string
	Hours             float64
}

// CreditAllocation assigns part of a credit record to a held credential.
type CreditAllocation struct {
	ID                string
	CreditRecordID    string
	CredentialGrantID string
	Hours             float64
	CreatedAt         time.Time
}

// AllocationSet is the complete allocation state of a credit record.
type AllocationSet struct {
	CreditRecordID   string
	RecordHours      float64
	AllocatedHours   float64
	UnallocatedHours float64
	Allocations      []CreditAllocation
}

// NewAllocationSet summarises allocations against the record total.
func NewAllocationSet(record CreditRecord, allocations []CreditAllocation) AllocationSet {
	sum := 0.0
	for _, a := range allocations {
		sum += a.Hours
	}
	if allocations == nil {
		allocations = []CreditAllocation{}
	}
	return AllocationSet{
		CreditRecordID:   record.ID,
		RecordHours:      record.Hours,
		AllocatedHours:   roundHours(sum),
		UnallocatedHours: roundHours(math.Max(record.Hours-sum, 0)),
		Allocations:      allocations,
	}
}

// AllocationValidator runs inside the replacing transaction with the locked record and the owner's grants.
type AllocationValidator func(record CreditRecord, ownerGrants []CredentialGrant) error

// ValidateAllocations checks a full replacement set against the record and the owner's grants.
// Hours are compared at stored precision, so the sum checked is the sum persisted.
func ValidateAllocations(record CreditRecord, ownerGrants []CredentialGrant, inputs []AllocationInput) error {
	owned := make(map[string]struct{}, len(ownerGrants))
	for _, g := range ownerGrants {
		if g.LearnerID == record.LearnerID {
			owned[g.ID] = struct{}{}
		}
	}

	seen := make(map[string]struct{}, len(inputs))
	sum := 0.0
	for _, in := range inputs {
		id := strings.TrimSpace(in.CredentialGrantID)
		if id == "" {
			return validationf("credential grant id is required")
		}
		if _, ok := owned[id]; !ok {
			return ErrUnauthorized
		}
		if _, dup := seen[id]; dup {
			return validationf("credential grant %s allocated more than once", id)
		}
		seen[id] = struct{}{}
		if in.Hours < 0 || math.IsNaN(in.Hours) || math.IsInf(in.Hours, 0) {
			return validationf("allocation hours must be zero or positive")
		}
		sum += roundHours(in.Hours)
	}
	if sum > record.Hours+hoursEpsilon {
		return &AllocationExceedsRecordError{Requested: roundHours(sum), Available: record.Hours}
	}
	return nil
}

// DefaultAllocation returns the allocation applied to a newly logged record: the full hours to the only
// held credential, or nothing when the learner holds zero or several credentials.
func DefaultAllocation(record CreditRecord, grants []CredentialGrant) []AllocationInput {
	if len(grants) != 1 {
		return nil
	}
	return []AllocationInput{{CredentialGrantID: grants[0].ID, Hours: record.Hours}}
}

// CredentialProgress reports how far a learner is toward one credential's requirement.
type CredentialProgress struct {
	Grant          CredentialGrant
	AllocatedHours float64
	EarnedHours    float64
	RemainingHours float64
	Percent        float64
	DaysToDeadline *int
}

// ComputeProgress combines a grant's baseline with its allocated hours.
func ComputeProgress(grant CredentialGrant, allocated float64, now time.Time) CredentialProgress {
	earned := grant.BaselineHours + allocated
	p := CredentialProgress{
		Grant:          grant,
		AllocatedHours: roundHours(allocated),
		EarnedHours:    roundHours(earned),
		RemainingHours: roundHours(math.Max(grant.RequiredHours-earned, 0)),
		Percent:        100,
	}
	if grant.RequiredHours > 0 {
		p.Percent = math.Min(math.Round(earned/grant.RequiredHours*1000)/10, 100)
	}
	if grant.RenewalDeadline != nil {
		days := int(math.Ceil(grant.RenewalDeadline.Sub(now).Hours() / 24))
		p.DaysToDeadline = &days
	}
	return p
}

func roundHours(h float64) float64 {
	return math.Round(h*100) / 100
}
