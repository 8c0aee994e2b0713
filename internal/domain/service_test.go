package domain_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"

	"example.com/cpd/internal/domain"
	"example.com/cpd/internal/persistence/memory"
)

var testNow = time.Date(2026, time.February, 10, 9, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// codeQueue hands out fixed codes in order and then falls back to random ones.
type codeQueue struct {
	mu    sync.Mutex
	codes []string
}

func (q *codeQueue) Next(now time.Time) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.codes) == 0 {
		return domain.RandomCode(now)
	}
	code := q.codes[0]
	q.codes = q.codes[1:]
	return code, nil
}

type flakyStore struct {
	*memory.Store
	transientFailures int32
	calls             int32
}

func (f *flakyStore) IssueCredit(ctx context.Context, issuance domain.Issuance) (*domain.Issuance, bool, error) {
	atomic.AddInt32(&f.calls, 1)
	if atomic.AddInt32(&f.transientFailures, -1) >= 0 {
		return nil, false, fmt.Errorf("serialization failure: %w", domain.ErrTransient)
	}
	return f.Store.IssueCredit(ctx, issuance)
}

func zeroBackOff() backoff.BackOff { return &backoff.ZeroBackOff{} }

func newTestService(t *testing.T, repo domain.Repository, opts ...domain.Option) (*domain.Service, *clock) {
	t.Helper()
	c := &clock{now: testNow}
	base := []domain.Option{
		domain.WithClock(c.Now),
		domain.WithIssuanceRetries(3, zeroBackOff),
		domain.WithVerifyBaseURL("https://verify.test/"),
	}
	return domain.NewService(repo, append(base, opts...)...), c
}

func seedAssessment(t *testing.T, svc *domain.Service, maxAttempts int, timeLimit time.Duration) *domain.Assessment {
	t.Helper()
	q := func(prompt string) domain.Question {
		return domain.Question{Prompt: prompt, Options: []string{"a", "b", "c"}, CorrectIndex: 1}
	}
	a, err := svc.CreateAssessment(context.Background(), domain.Assessment{
		Title:       "Ethics refresher",
		Provider:    "Board Academy",
		PassMark:    70,
		MaxAttempts: maxAttempts,
		TimeLimit:   timeLimit,
		Hours:       1.5,
		Category:    "Ethics",
		Questions:   []domain.Question{q("one"), q("two"), q("three")},
	})
	require.NoError(t, err)
	return a
}

func submit(t *testing.T, svc *domain.Service, learnerID, assessmentID string, answers ...int) (*domain.SubmitResult, error) {
	t.Helper()
	return svc.SubmitAttempt(context.Background(), domain.SubmitInput{
		LearnerID:    learnerID,
		AssessmentID: assessmentID,
		Answers:      answers,
		StartedAt:    testNow,
	})
}

func TestResolveCreditThroughService(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, memory.NewStore())

	activity, err := svc.CreateActivity(ctx, domain.ActivityInput{Title: "Boundaries webinar", Type: domain.ActivityTypeWebinar})
	require.NoError(t, err)
	require.Equal(t, 1, activity.Version)

	_, err = svc.AddCreditMapping(ctx, activity.ID, domain.CreditMapping{
		Unit: domain.CreditUnitHours, Amount: 1, Category: "ethics", Country: "us",
		AllowedStates: []string{"ca"}, ValidationMethod: domain.ValidationQuiz,
	})
	require.NoError(t, err)
	_, err = svc.AddCreditMapping(ctx, activity.ID, domain.CreditMapping{
		Unit: domain.CreditUnitHours, Amount: 1, Category: "general", Country: domain.InternationalCountry,
		ValidationMethod: domain.ValidationAttendance,
	})
	require.NoError(t, err)

	_, err = svc.AddCreditMapping(ctx, activity.ID, domain.CreditMapping{
		Unit: domain.CreditUnitHours, Amount: 1, Category: "ethics", Country: "US",
		AllowedStates: []string{"CA"}, ExcludedStates: []string{"TX"}, ValidationMethod: domain.ValidationQuiz,
	})
	require.ErrorIs(t, err, domain.ErrAmbiguousMapping)

	got, err := svc.ResolveCredit(ctx, activity.ID, domain.Jurisdiction{Country: "US", State: "CA"})
	require.NoError(t, err)
	require.Len(t, got, 2)

	got, err = svc.ResolveCredit(ctx, activity.ID, domain.Jurisdiction{Country: "US", State: "TX"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, domain.InternationalCountry, got[0].Country)

	_, err = svc.ResolveCredit(ctx, activity.ID, domain.Jurisdiction{})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.RetireActivity(ctx, activity.ID)
	require.NoError(t, err)
	_, err = svc.ResolveCredit(ctx, activity.ID, domain.Jurisdiction{Country: "US", State: "CA"})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeactivatedMappingStopsResolving(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, memory.NewStore())
	activity, err := svc.CreateActivity(ctx, domain.ActivityInput{Title: "Podcast", Type: domain.ActivityTypePodcast})
	require.NoError(t, err)
	m, err := svc.AddCreditMapping(ctx, activity.ID, domain.CreditMapping{
		Unit: domain.CreditUnitPoints, Amount: 2, Category: "general", Country: "GB", ValidationMethod: domain.ValidationOther,
	})
	require.NoError(t, err)

	_, err = svc.DeactivateMapping(ctx, m.ID)
	require.NoError(t, err)
	got, err := svc.ResolveCredit(ctx, activity.ID, domain.Jurisdiction{Country: "GB"})
	require.NoError(t, err)
	require.Empty(t, got)

	all, err := svc.ListMappings(ctx, activity.ID)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.False(t, all[0].Active)
}

func TestUpdateActivityVersioning(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, memory.NewStore())
	activity, err := svc.CreateActivity(ctx, domain.ActivityInput{Title: "Course", Type: domain.ActivityTypeCourse})
	require.NoError(t, err)

	updated, err := svc.UpdateActivity(ctx, activity.ID, domain.ActivityInput{Title: "Course v2", Type: domain.ActivityTypeCourse}, 1)
	require.NoError(t, err)
	require.Equal(t, 2, updated.Version)

	_, err = svc.UpdateActivity(ctx, activity.ID, domain.ActivityInput{Title: "Stale", Type: domain.ActivityTypeCourse}, 1)
	require.ErrorIs(t, err, domain.ErrVersionConflict)

	published, err := svc.PublishActivity(ctx, activity.ID, "editor-1")
	require.NoError(t, err)
	require.Equal(t, domain.PublishStatePublished, published.PublishState)
	require.Equal(t, "editor-1", published.PublishedBy)
	require.NotNil(t, published.PublishedAt)
}

func TestPassingAttemptIssuesCertificate(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc, _ := newTestService(t, store)
	learner := domain.Actor{LearnerID: "learner-1"}

	grant, err := svc.AddCredentialGrant(ctx, learner, domain.CredentialGrantInput{CredentialName: "LCSW", Country: "us", State: "ca", RequiredHours: 36})
	require.NoError(t, err)

	a := seedAssessment(t, svc, 3, 0)
	res, err := submit(t, svc, "learner-1", a.ID, 1, 1, 1)
	require.NoError(t, err)
	require.NoError(t, res.IssuanceErr)
	require.Equal(t, 100, res.Attempt.Score)
	require.True(t, res.Attempt.Passed)
	require.Equal(t, 1, res.Status.Used)
	require.Equal(t, 2, res.Status.Remaining)
	require.NotNil(t, res.Issuance)

	cert := res.Issuance.Certificate
	record := res.Issuance.CreditRecord
	require.True(t, domain.ValidCode(cert.Code), cert.Code)
	require.Equal(t, "CERT-2026-", cert.Code[:10])
	require.Equal(t, "https://verify.test/verify/"+cert.Code, cert.VerificationURL)
	require.Equal(t, record.ID, cert.CreditRecordID)
	require.Equal(t, domain.CertificateActive, cert.Status)
	require.Equal(t, res.Attempt.ID, cert.Metadata.AttemptID)
	require.Equal(t, 100, *cert.Metadata.Score)
	require.Equal(t, domain.ProvenancePlatform, record.Provenance)
	require.Equal(t, res.Attempt.ID, record.SourceAttemptID)
	require.Equal(t, 1.5, record.Hours)
	require.Equal(t, "ethics", record.Category)

	view, err := svc.GetCreditRecord(ctx, learner, record.ID)
	require.NoError(t, err)
	require.Len(t, view.Allocations.Allocations, 1)
	require.Equal(t, grant.ID, view.Allocations.Allocations[0].CredentialGrantID)
	require.Equal(t, 0.0, view.Allocations.UnallocatedHours)

	progress, err := svc.CredentialProgress(ctx, learner)
	require.NoError(t, err)
	require.Len(t, progress, 1)
	require.Equal(t, 1.5, progress[0].AllocatedHours)

	again, err := svc.IssueForAttempt(ctx, learner, res.Attempt.ID)
	require.NoError(t, err)
	require.Equal(t, cert.ID, again.Certificate.ID)
	require.Equal(t, record.ID, again.CreditRecord.ID)

	certs, err := svc.ListCertificates(ctx, learner)
	require.NoError(t, err)
	require.Len(t, certs, 1)
}

func TestFailingAttemptIssuesNothing(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, memory.NewStore())
	a := seedAssessment(t, svc, 3, 0)

	res, err := submit(t, svc, "learner-1", a.ID, 0, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 0, res.Attempt.Score)
	require.False(t, res.Attempt.Passed)
	require.Nil(t, res.Issuance)

	_, err = svc.IssueForAttempt(ctx, domain.Actor{LearnerID: "learner-1"}, res.Attempt.ID)
	require.ErrorIs(t, err, domain.ErrValidation)

	certs, err := svc.ListCertificates(ctx, domain.Actor{LearnerID: "learner-1"})
	require.NoError(t, err)
	require.Empty(t, certs)
}

func TestEachPassingAttemptGetsItsOwnCertificate(t *testing.T) {
	svc, _ := newTestService(t, memory.NewStore())
	a := seedAssessment(t, svc, 3, 0)

	first, err := submit(t, svc, "learner-1", a.ID, 1, 1, 1)
	require.NoError(t, err)
	second, err := submit(t, svc, "learner-1", a.ID, 1, 1, 0)
	require.NoError(t, err)
	require.NotNil(t, first.Issuance)
	require.NotNil(t, second.Issuance)
	require.NotEqual(t, first.Issuance.Certificate.Code, second.Issuance.Certificate.Code)
	require.NotEqual(t, first.Issuance.CreditRecord.ID, second.Issuance.CreditRecord.ID)
}

func TestAttemptCeiling(t *testing.T) {
	svc, _ := newTestService(t, memory.NewStore())
	a := seedAssessment(t, svc, 2, 0)

	_, err := submit(t, svc, "learner-1", a.ID, 0, 1)
	require.ErrorIs(t, err, domain.ErrMalformedSubmission)

	_, err = submit(t, svc, "learner-1", a.ID, 0, 0, 0)
	require.NoError(t, err)
	res, err := submit(t, svc, "learner-1", a.ID, 0, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 0, res.Status.Remaining)

	_, err = submit(t, svc, "learner-1", a.ID, 1, 1, 1)
	require.ErrorIs(t, err, domain.ErrAttemptsExhausted)
	var exhausted *domain.AttemptsExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, 2, exhausted.Max)

	_, err = submit(t, svc, "learner-1", a.ID, 1)
	require.ErrorIs(t, err, domain.ErrAttemptsExhausted)
	require.NotErrorIs(t, err, domain.ErrMalformedSubmission)

	status, err := svc.AttemptStatus(context.Background(), "learner-1", a.ID)
	require.NoError(t, err)
	require.Equal(t, 2, status.Used)

	_, err = submit(t, svc, "learner-2", a.ID, 1, 1, 1)
	require.NoError(t, err)
}

func TestAttemptCeilingUnderConcurrency(t *testing.T) {
	svc, _ := newTestService(t, memory.NewStore())
	a := seedAssessment(t, svc, 3, 0)

	var (
		wg        sync.WaitGroup
		accepted  int32
		exhausted int32
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := submit(t, svc, "learner-1", a.ID, 1, 1, 1)
			switch {
			case err == nil:
				atomic.AddInt32(&accepted, 1)
			case errors.Is(err, domain.ErrAttemptsExhausted):
				atomic.AddInt32(&exhausted, 1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(3), accepted)
	require.Equal(t, int32(9), exhausted)

	certs, err := svc.ListCertificates(context.Background(), domain.Actor{LearnerID: "learner-1"})
	require.NoError(t, err)
	require.Len(t, certs, 3)
}

func TestTimedOutAttemptCountsButFails(t *testing.T) {
	svc, clk := newTestService(t, memory.NewStore())
	a := seedAssessment(t, svc, 2, 10*time.Minute)

	clk.Advance(10*time.Minute + domain.TimeLimitGrace + time.Second)
	res, err := submit(t, svc, "learner-1", a.ID, 1, 1, 1)
	require.NoError(t, err)
	require.True(t, res.Attempt.TimedOut)
	require.False(t, res.Attempt.Passed)
	require.Equal(t, 100, res.Attempt.Score)
	require.Nil(t, res.Issuance)
	require.Equal(t, 1, res.Status.Used)
}

func TestCodeCollisionRegenerates(t *testing.T) {
	queue := &codeQueue{codes: []string{"CERT-2026-aaaaaaaa", "CERT-2026-aaaaaaaa", "CERT-2026-bbbbbbbb"}}
	svc, _ := newTestService(t, memory.NewStore(), domain.WithCodeGenerator(queue.Next))
	a := seedAssessment(t, svc, 3, 0)

	first, err := submit(t, svc, "learner-1", a.ID, 1, 1, 1)
	require.NoError(t, err)
	require.Equal(t, "CERT-2026-aaaaaaaa", first.Issuance.Certificate.Code)

	second, err := submit(t, svc, "learner-2", a.ID, 1, 1, 1)
	require.NoError(t, err)
	require.NoError(t, second.IssuanceErr)
	require.Equal(t, "CERT-2026-bbbbbbbb", second.Issuance.Certificate.Code)
}

func TestCodeGenerationExhausted(t *testing.T) {
	ctx := context.Background()
	fixed := func(time.Time) (string, error) { return "CERT-2026-aaaaaaaa", nil }
	svc, _ := newTestService(t, memory.NewStore(), domain.WithCodeGenerator(fixed), domain.WithCodeAttempts(3))
	a := seedAssessment(t, svc, 3, 0)

	_, err := submit(t, svc, "learner-1", a.ID, 1, 1, 1)
	require.NoError(t, err)

	res, err := submit(t, svc, "learner-2", a.ID, 1, 1, 1)
	require.NoError(t, err)
	require.True(t, res.Attempt.Passed)
	require.Nil(t, res.Issuance)
	require.ErrorIs(t, res.IssuanceErr, domain.ErrCodeGenerationExhausted)

	records, _, err := svc.ListCreditRecords(ctx, domain.Actor{LearnerID: "learner-2"}, nil, 10)
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestTransientIssuanceFailureIsRetried(t *testing.T) {
	store := &flakyStore{Store: memory.NewStore(), transientFailures: 2}
	svc, _ := newTestService(t, store)
	a := seedAssessment(t, svc, 3, 0)

	res, err := submit(t, svc, "learner-1", a.ID, 1, 1, 1)
	require.NoError(t, err)
	require.NoError(t, res.IssuanceErr)
	require.NotNil(t, res.Issuance)
	require.Equal(t, int32(3), atomic.LoadInt32(&store.calls))
}

func TestIssuanceRetryAfterTransientExhaustion(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Store: memory.NewStore(), transientFailures: 10}
	svc, _ := newTestService(t, store)
	a := seedAssessment(t, svc, 3, 0)
	learner := domain.Actor{LearnerID: "learner-1"}

	res, err := submit(t, svc, "learner-1", a.ID, 1, 1, 1)
	require.NoError(t, err)
	require.ErrorIs(t, res.IssuanceErr, domain.ErrTransient)

	atomic.StoreInt32(&store.transientFailures, 0)
	issued, err := svc.IssueForAttempt(ctx, learner, res.Attempt.ID)
	require.NoError(t, err)
	require.Equal(t, res.Attempt.ID, issued.AttemptID)

	_, err = svc.IssueForAttempt(ctx, domain.Actor{LearnerID: "learner-2"}, res.Attempt.ID)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestHoursAreCheckedAtStoredPrecision(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc, _ := newTestService(t, store)
	learner := domain.Actor{LearnerID: "learner-1"}

	_, err := svc.LogCreditRecord(ctx, learner, domain.CreditRecordInput{Title: "Webinar", Hours: 0.004, Date: testNow})
	require.ErrorIs(t, err, domain.ErrValidation)
	records, _, err := store.ListCreditRecords(ctx, "learner-1", nil, 10)
	require.NoError(t, err)
	require.Empty(t, records)

	record, err := svc.LogCreditRecord(ctx, learner, domain.CreditRecordInput{Title: "Webinar", Hours: 1.004, Date: testNow})
	require.NoError(t, err)
	require.Equal(t, 1.0, record.Hours)

	ca, err := svc.AddCredentialGrant(ctx, learner, domain.CredentialGrantInput{CredentialName: "LCSW", Country: "US", State: "CA"})
	require.NoError(t, err)
	ny, err := svc.AddCredentialGrant(ctx, learner, domain.CredentialGrantInput{CredentialName: "LCSW", Country: "US", State: "NY"})
	require.NoError(t, err)

	_, err = svc.SetAllocations(ctx, learner, record.ID, []domain.AllocationInput{
		{CredentialGrantID: ca.ID, Hours: 0.335}, {CredentialGrantID: ny.ID, Hours: 0.665},
	})
	require.ErrorIs(t, err, domain.ErrAllocationExceedsRecord)

	view, err := svc.GetCreditRecord(ctx, learner, record.ID)
	require.NoError(t, err)
	require.Empty(t, view.Allocations.Allocations)
}

func TestSetAllocationsIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, memory.NewStore())
	learner := domain.Actor{LearnerID: "learner-1"}

	record, err := svc.LogCreditRecord(ctx, learner, domain.CreditRecordInput{
		Title: "Ethics conference", ActivityType: domain.ActivityTypeConference, Hours: 6, Date: testNow, Category: "ethics",
	})
	require.NoError(t, err)
	require.Equal(t, domain.ProvenanceManual, record.Provenance)

	ca, err := svc.AddCredentialGrant(ctx, learner, domain.CredentialGrantInput{CredentialName: "LCSW", Country: "US", State: "CA", RequiredHours: 36})
	require.NoError(t, err)
	ny, err := svc.AddCredentialGrant(ctx, learner, domain.CredentialGrantInput{CredentialName: "LCSW", Country: "US", State: "NY", RequiredHours: 36})
	require.NoError(t, err)

	set, err := svc.SetAllocations(ctx, learner, record.ID, []domain.AllocationInput{
		{CredentialGrantID: ca.ID, Hours: 4}, {CredentialGrantID: ny.ID, Hours: 2},
	})
	require.NoError(t, err)
	require.Equal(t, 6.0, set.AllocatedHours)

	_, err = svc.SetAllocations(ctx, learner, record.ID, []domain.AllocationInput{
		{CredentialGrantID: ca.ID, Hours: 4}, {CredentialGrantID: ny.ID, Hours: 3},
	})
	require.ErrorIs(t, err, domain.ErrAllocationExceedsRecord)

	view, err := svc.GetCreditRecord(ctx, learner, record.ID)
	require.NoError(t, err)
	require.Len(t, view.Allocations.Allocations, 2)
	require.Equal(t, 6.0, view.Allocations.AllocatedHours)

	_, err = svc.SetAllocations(ctx, learner, record.ID, []domain.AllocationInput{{CredentialGrantID: ca.ID, Hours: -1}})
	require.ErrorIs(t, err, domain.ErrValidation)

	other := domain.Actor{LearnerID: "learner-2"}
	foreign, err := svc.AddCredentialGrant(ctx, other, domain.CredentialGrantInput{CredentialName: "LPC", Country: "US"})
	require.NoError(t, err)
	_, err = svc.SetAllocations(ctx, learner, record.ID, []domain.AllocationInput{{CredentialGrantID: foreign.ID, Hours: 1}})
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = svc.SetAllocations(ctx, other, record.ID, nil)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	cleared, err := svc.SetAllocations(ctx, learner, record.ID, nil)
	require.NoError(t, err)
	require.Empty(t, cleared.Allocations)
	require.Equal(t, 6.0, cleared.UnallocatedHours)
}

func TestLoggedRecordWithSeveralGrantsStaysUnallocated(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, memory.NewStore())
	learner := domain.Actor{LearnerID: "learner-1"}
	for _, state := range []string{"CA", "NY"} {
		_, err := svc.AddCredentialGrant(ctx, learner, domain.CredentialGrantInput{CredentialName: "LCSW", Country: "US", State: state})
		require.NoError(t, err)
	}
	record, err := svc.LogCreditRecord(ctx, learner, domain.CreditRecordInput{Title: "Article", Hours: 1, Date: testNow})
	require.NoError(t, err)

	view, err := svc.GetCreditRecord(ctx, learner, record.ID)
	require.NoError(t, err)
	require.Empty(t, view.Allocations.Allocations)
	require.Equal(t, 1.0, view.Allocations.UnallocatedHours)
}

func TestListCreditRecordsPaginates(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, memory.NewStore())
	learner := domain.Actor{LearnerID: "learner-1"}
	for i := 0; i < 5; i++ {
		_, err := svc.LogCreditRecord(ctx, learner, domain.CreditRecordInput{
			Title: fmt.Sprintf("record %d", i), Hours: 1, Date: testNow.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
	}

	page, cursor, err := svc.ListCreditRecords(ctx, learner, nil, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, "record 4", page[0].Title)
	require.NotNil(t, cursor)

	var titles []string
	for cursor != nil {
		page, cursor, err = svc.ListCreditRecords(ctx, learner, cursor, 2)
		require.NoError(t, err)
		for _, r := range page {
			titles = append(titles, r.Title)
		}
	}
	require.Equal(t, []string{"record 2", "record 1", "record 0"}, titles)
}

func TestCompletionRules(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, memory.NewStore())
	learner := domain.Actor{LearnerID: "learner-1"}
	a := seedAssessment(t, svc, 3, 0)

	record, err := svc.LogCreditRecord(ctx, learner, domain.CreditRecordInput{Title: "Workshop", Hours: 2, Date: testNow})
	require.NoError(t, err)

	empty, err := svc.EvaluateCompletion(ctx, learner, record.ID)
	require.NoError(t, err)
	require.True(t, empty.AllPassed)

	_, err = svc.AttachRule(ctx, record.ID, domain.RuleQuizPass, []byte(`{"quizId":"`+a.ID+`"}`))
	require.NoError(t, err)
	_, err = svc.AttachRule(ctx, record.ID, domain.RuleEvidenceUpload, []byte(`{"minFiles":1}`))
	require.NoError(t, err)
	_, err = svc.AttachRule(ctx, record.ID, domain.RuleQuizPass, []byte(`{"quizId":"missing"}`))
	require.ErrorIs(t, err, domain.ErrNotFound)

	res, err := svc.EvaluateCompletion(ctx, learner, record.ID)
	require.NoError(t, err)
	require.False(t, res.AllPassed)

	_, err = submit(t, svc, "learner-1", a.ID, 1, 1, 1)
	require.NoError(t, err)
	_, err = svc.AddEvidence(ctx, learner, record.ID, "attendance.pdf")
	require.NoError(t, err)

	res, err = svc.EvaluateCompletion(ctx, learner, record.ID)
	require.NoError(t, err)
	require.True(t, res.AllPassed)
	require.True(t, res.EligibleForCertificate)

	_, err = svc.EvaluateCompletion(ctx, domain.Actor{LearnerID: "learner-2"}, record.ID)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = svc.AddEvidence(ctx, domain.Actor{LearnerID: "learner-2"}, record.ID, "x.pdf")
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestEvidenceCountsOnlyTheLearnersUploads(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, memory.NewStore())
	alice := domain.Actor{LearnerID: "alice"}
	bob := domain.Actor{LearnerID: "bob"}

	_, err := svc.AttachRule(ctx, "course-42", domain.RuleEvidenceUpload, []byte(`{"minFiles":1}`))
	require.NoError(t, err)
	_, err = svc.AddEvidence(ctx, alice, "course-42", "alice.pdf")
	require.NoError(t, err)

	res, err := svc.EvaluateCompletion(ctx, alice, "course-42")
	require.NoError(t, err)
	require.True(t, res.AllPassed)

	res, err = svc.EvaluateCompletion(ctx, bob, "course-42")
	require.NoError(t, err)
	require.False(t, res.AllPassed)
	require.Equal(t, "0 of 1 files uploaded", res.Rules[0].Detail)
}

// staleCertStore serves one outdated certificate read, as a revoker racing another would see.
type staleCertStore struct {
	*memory.Store
	stale *domain.Certificate
}

func (s *staleCertStore) GetCertificate(ctx context.Context, id string) (*domain.Certificate, error) {
	if s.stale != nil {
		c := *s.stale
		s.stale = nil
		return &c, nil
	}
	return s.Store.GetCertificate(ctx, id)
}

func TestRevokeCertificateReportsTheWinningRevocation(t *testing.T) {
	ctx := context.Background()
	store := &staleCertStore{Store: memory.NewStore()}
	svc, clk := newTestService(t, store)
	a := seedAssessment(t, svc, 3, 0)
	res, err := submit(t, svc, "learner-1", a.ID, 1, 1, 1)
	require.NoError(t, err)
	active := res.Issuance.Certificate
	admin := domain.Actor{LearnerID: "admin-1", Admin: true}

	first, err := svc.RevokeCertificate(ctx, admin, active.ID, "issued in error")
	require.NoError(t, err)

	store.stale = &active
	clk.Advance(time.Hour)
	second, err := svc.RevokeCertificate(ctx, admin, active.ID, "duplicate")
	require.NoError(t, err)
	require.Equal(t, domain.CertificateRevoked, second.Status)
	require.Equal(t, "issued in error", second.RevocationReason)
	require.True(t, first.RevokedAt.Equal(*second.RevokedAt))
}

func TestVerifyAndRevokeCertificate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, memory.NewStore())
	a := seedAssessment(t, svc, 3, 0)
	res, err := submit(t, svc, "learner-1", a.ID, 1, 1, 1)
	require.NoError(t, err)
	code := res.Issuance.Certificate.Code

	v, err := svc.VerifyCertificate(ctx, code)
	require.NoError(t, err)
	require.True(t, v.Valid)
	require.Equal(t, domain.CertificateActive, v.Status)

	_, err = svc.RevokeCertificate(ctx, domain.Actor{LearnerID: "learner-1"}, res.Issuance.Certificate.ID, "fraud")
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	admin := domain.Actor{LearnerID: "admin-1", Admin: true}
	revoked, err := svc.RevokeCertificate(ctx, admin, res.Issuance.Certificate.ID, "issued in error")
	require.NoError(t, err)
	require.Equal(t, domain.CertificateRevoked, revoked.Status)
	require.NotNil(t, revoked.RevokedAt)

	again, err := svc.RevokeCertificate(ctx, admin, res.Issuance.Certificate.ID, "second reason")
	require.NoError(t, err)
	require.Equal(t, "issued in error", again.RevocationReason)

	v, err = svc.VerifyCertificate(ctx, code)
	require.NoError(t, err)
	require.False(t, v.Valid)
	require.Equal(t, domain.CertificateRevoked, v.Status)

	v, err = svc.VerifyCertificate(ctx, "CERT-2026-zzzzzzzz")
	require.NoError(t, err)
	require.False(t, v.Valid)
	require.Equal(t, domain.CertificateNotFound, v.Status)

	v, err = svc.VerifyCertificate(ctx, "not-a-code")
	require.NoError(t, err)
	require.False(t, v.Valid)
	require.Nil(t, v.Certificate)
}
