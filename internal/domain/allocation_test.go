package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValidateAllocations(t *testing.T) {
	record := CreditRecord{ID: "rec-1", LearnerID: "learner-1", Hours: 6}
	grants := []CredentialGrant{
		{ID: "g-ca", LearnerID: "learner-1"},
		{ID: "g-ny", LearnerID: "learner-1"},
	}

	err := ValidateAllocations(record, grants, []AllocationInput{{"g-ca", 4}, {"g-ny", 3}})
	require.ErrorIs(t, err, ErrAllocationExceedsRecord)
	var exceeded *AllocationExceedsRecordError
	require.ErrorAs(t, err, &exceeded)
	require.Equal(t, 7.0, exceeded.Requested)
	require.Equal(t, 6.0, exceeded.Available)

	require.NoError(t, ValidateAllocations(record, grants, []AllocationInput{{"g-ca", 4}, {"g-ny", 2}}))
	require.NoError(t, ValidateAllocations(record, grants, []AllocationInput{{"g-ca", 6}}))
	require.NoError(t, ValidateAllocations(record, grants, nil))
}

func TestValidateAllocationsSumsStoredPrecision(t *testing.T) {
	record := CreditRecord{ID: "rec-1", LearnerID: "learner-1", Hours: 1}
	grants := []CredentialGrant{
		{ID: "g-ca", LearnerID: "learner-1"},
		{ID: "g-ny", LearnerID: "learner-1"},
	}

	// 0.335 and 0.665 are stored as 0.34 and 0.67.
	err := ValidateAllocations(record, grants, []AllocationInput{{"g-ca", 0.335}, {"g-ny", 0.665}})
	var exceeded *AllocationExceedsRecordError
	require.ErrorAs(t, err, &exceeded)
	require.InDelta(t, 1.01, exceeded.Requested, 1e-9)
	require.Equal(t, 1.0, exceeded.Available)

	require.NoError(t, ValidateAllocations(record, grants, []AllocationInput{{"g-ca", 0.334}, {"g-ny", 0.666}}))
}

func TestValidateAllocationsRejects(t *testing.T) {
	record := CreditRecord{ID: "rec-1", LearnerID: "learner-1", Hours: 6}
	grants := []CredentialGrant{
		{ID: "g-ca", LearnerID: "learner-1"},
		{ID: "g-other", LearnerID: "learner-2"},
	}

	require.ErrorIs(t, ValidateAllocations(record, grants, []AllocationInput{{"g-ca", -1}}), ErrValidation)
	require.ErrorIs(t, ValidateAllocations(record, grants, []AllocationInput{{"g-other", 1}}), ErrUnauthorized)
	require.ErrorIs(t, ValidateAllocations(record, grants, []AllocationInput{{"missing", 1}}), ErrUnauthorized)
	require.ErrorIs(t, ValidateAllocations(record, grants, []AllocationInput{{"g-ca", 1}, {"g-ca", 1}}), ErrValidation)
	require.ErrorIs(t, ValidateAllocations(record, grants, []AllocationInput{{"", 1}}), ErrValidation)
}

func TestDefaultAllocation(t *testing.T) {
	record := CreditRecord{ID: "rec-1", LearnerID: "learner-1", Hours: 2.5}

	require.Nil(t, DefaultAllocation(record, nil))
	require.Equal(t, []AllocationInput{{CredentialGrantID: "g-1", Hours: 2.5}},
		DefaultAllocation(record, []CredentialGrant{{ID: "g-1"}}))
	require.Nil(t, DefaultAllocation(record, []CredentialGrant{{ID: "g-1"}, {ID: "g-2"}}))
}

func TestNewAllocationSet(t *testing.T) {
	record := CreditRecord{ID: "rec-1", Hours: 6}
	set := NewAllocationSet(record, []CreditAllocation{{Hours: 4}, {Hours: 1.5}})
	require.Equal(t, 5.5, set.AllocatedHours)
	require.Equal(t, 0.5, set.UnallocatedHours)

	empty := NewAllocationSet(record, nil)
	require.NotNil(t, empty.Allocations)
	require.Equal(t, 6.0, empty.UnallocatedHours)
}

func TestComputeProgress(t *testing.T) {
	now := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	deadline := now.Add(36 * time.Hour)
	grant := CredentialGrant{ID: "g-1", RequiredHours: 40, BaselineHours: 10, RenewalDeadline: &deadline}

	p := ComputeProgress(grant, 12, now)
	require.Equal(t, 22.0, p.EarnedHours)
	require.Equal(t, 18.0, p.RemainingHours)
	require.Equal(t, 55.0, p.Percent)
	require.NotNil(t, p.DaysToDeadline)
	require.Equal(t, 2, *p.DaysToDeadline)

	done := ComputeProgress(grant, 50, now)
	require.Equal(t, 0.0, done.RemainingHours)
	require.Equal(t, 100.0, done.Percent)
}
