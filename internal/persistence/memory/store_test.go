package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/cpd/internal/domain"
)

func issuanceFor(attemptID, code string) domain.Issuance {
	return domain.Issuance{
		AttemptID:    attemptID,
		CreditRecord: domain.CreditRecord{ID: "rec-" + attemptID, LearnerID: "learner-1", Hours: 1, SourceAttemptID: attemptID},
		Certificate:  domain.Certificate{ID: "cert-" + attemptID, LearnerID: "learner-1", Code: code, CreditRecordID: "rec-" + attemptID},
	}
}

func TestIssueCreditReplayAndCollision(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	stored, replay, err := store.IssueCredit(ctx, issuanceFor("att-1", "CERT-2026-aaaaaaaa"))
	require.NoError(t, err)
	require.False(t, replay)
	require.Equal(t, "cert-att-1", stored.Certificate.ID)

	again := issuanceFor("att-1", "CERT-2026-bbbbbbbb")
	again.Certificate.ID = "cert-other"
	stored, replay, err = store.IssueCredit(ctx, again)
	require.NoError(t, err)
	require.True(t, replay)
	require.Equal(t, "cert-att-1", stored.Certificate.ID)

	_, _, err = store.IssueCredit(ctx, issuanceFor("att-2", "CERT-2026-aaaaaaaa"))
	require.ErrorIs(t, err, domain.ErrCodeCollision)
	rec, err := store.GetCreditRecord(ctx, "rec-att-2")
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestRecordAttemptCeiling(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	for i, id := range []string{"a1", "a2"} {
		used, err := store.RecordAttempt(ctx, domain.AssessmentAttempt{ID: id, LearnerID: "l", AssessmentID: "q"}, 2)
		require.NoError(t, err)
		require.Equal(t, i+1, used)
	}
	_, err := store.RecordAttempt(ctx, domain.AssessmentAttempt{ID: "a3", LearnerID: "l", AssessmentID: "q"}, 2)
	require.ErrorIs(t, err, domain.ErrAttemptsExhausted)
	got, err := store.GetAttempt(ctx, "a3")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestReplaceAllocationsKeepsPreviousSetOnRejection(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	require.NoError(t, store.CreateCreditRecord(ctx, domain.CreditRecord{ID: "rec-1", LearnerID: "l", Hours: 3, Date: time.Now()}))

	_, err := store.ReplaceAllocations(ctx, "rec-1", nil, []domain.CreditAllocation{{ID: "x", CreditRecordID: "rec-1", CredentialGrantID: "g", Hours: 2}})
	require.NoError(t, err)

	reject := func(domain.CreditRecord, []domain.CredentialGrant) error { return domain.ErrAllocationExceedsRecord }
	_, err = store.ReplaceAllocations(ctx, "rec-1", reject, nil)
	require.ErrorIs(t, err, domain.ErrAllocationExceedsRecord)

	allocs, err := store.ListAllocations(ctx, "rec-1")
	require.NoError(t, err)
	require.Len(t, allocs, 1)

	_, err = store.ReplaceAllocations(ctx, "missing", nil, nil)
	require.ErrorIs(t, err, domain.ErrNotFound)
}
