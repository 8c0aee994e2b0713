package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"example.com/cpd/internal/domain"
)

// questionDoc is the stored JSON shape of a question.
type questionDoc struct {
	Prompt       string   `json:"prompt"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correctIndex"`
	Explanation  string   `json:"explanation,omitempty"`
}

func encodeQuestions(qs []domain.Question) ([]byte, error) {
	docs := make([]questionDoc, len(qs))
	for i, q := range qs {
		docs[i] = questionDoc{Prompt: q.Prompt, Options: q.Options, CorrectIndex: q.CorrectIndex, Explanation: q.Explanation}
	}
	return json.Marshal(docs)
}

func decodeQuestions(raw []byte) ([]domain.Question, error) {
	var docs []questionDoc
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, err
	}
	qs := make([]domain.Question, len(docs))
	for i, d := range docs {
		qs[i] = domain.Question{Prompt: d.Prompt, Options: d.Options, CorrectIndex: d.CorrectIndex, Explanation: d.Explanation}
	}
	return qs, nil
}

const assessmentColumns = `assessment_id, activity_id, title, provider, pass_mark, max_attempts, time_limit_seconds, hours, category, active, questions, created_at`

func scanAssessment(row rowScanner) (*domain.Assessment, error) {
	var (
		a          domain.Assessment
		activityID *string
		limitSecs  int
		questions  []byte
	)
	if err := row.Scan(&a.ID, &activityID, &a.Title, &a.Provider, &a.PassMark, &a.MaxAttempts, &limitSecs, &a.Hours, &a.Category, &a.Active, &questions, &a.CreatedAt); err != nil {
		return nil, err
	}
	if activityID != nil {
		a.ActivityID = *activityID
	}
	a.TimeLimit = time.Duration(limitSecs) * time.Second
	qs, err := decodeQuestions(questions)
	if err != nil {
		return nil, err
	}
	a.Questions = qs
	return &a, nil
}

// CreateAssessment implements domain.AssessmentRepository.
func (r *Repository) CreateAssessment(ctx context.Context, a domain.Assessment) error {
	questions, err := encodeQuestions(a.Questions)
	if err != nil {
		return err
	}
	var activityID any
	if a.ActivityID != "" {
		activityID = a.ActivityID
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO assessments (`+assessmentColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		a.ID, activityID, a.Title, a.Provider, a.PassMark, a.MaxAttempts, int(a.TimeLimit/time.Second), a.Hours, a.Category, a.Active, questions, a.CreatedAt,
	)
	return err
}

// GetAssessment implements domain.AssessmentRepository.
func (r *Repository) GetAssessment(ctx context.Context, id string) (*domain.Assessment, error) {
	if !validID(id) {
		return nil, nil
	}
	a, err := scanAssessment(r.pool.QueryRow(ctx, `SELECT `+assessmentColumns+` FROM assessments WHERE assessment_id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

const attemptColumns = `attempt_id, learner_id, assessment_id, answers, score, passed, timed_out, started_at, completed_at`

func scanAttempt(row rowScanner) (*domain.AssessmentAttempt, error) {
	var (
		a       domain.AssessmentAttempt
		answers []byte
	)
	if err := row.Scan(&a.ID, &a.LearnerID, &a.AssessmentID, &answers, &a.Score, &a.Passed, &a.TimedOut, &a.StartedAt, &a.CompletedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(answers, &a.Answers); err != nil {
		return nil, err
	}
	return &a, nil
}

// RecordAttempt implements domain.AssessmentRepository. A transaction-scoped advisory lock on the
// learner/assessment pair serialises concurrent submissions so the count and insert cannot interleave.
func (r *Repository) RecordAttempt(ctx context.Context, attempt domain.AssessmentAttempt, maxAttempts int) (int, error) {
	answers, err := json.Marshal(attempt.Answers)
	if err != nil {
		return 0, err
	}

	var used int
	err = r.inTx(ctx, func(tx pgx.Tx) error {
		if err := advisoryLock(ctx, tx, "attempts:"+attempt.LearnerID+":"+attempt.AssessmentID); err != nil {
			return err
		}
		if err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM assessment_attempts WHERE learner_id=$1 AND assessment_id=$2`,
			attempt.LearnerID, attempt.AssessmentID,
		).Scan(&used); err != nil {
			return err
		}
		if used >= maxAttempts {
			return &domain.AttemptsExhaustedError{Used: used, Max: maxAttempts}
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO assessment_attempts (`+attemptColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			attempt.ID, attempt.LearnerID, attempt.AssessmentID, answers, attempt.Score, attempt.Passed, attempt.TimedOut, attempt.StartedAt, attempt.CompletedAt,
		); err != nil {
			return err
		}
		used++
		return nil
	})
	if err != nil {
		return used, err
	}
	return used, nil
}

// GetAttempt implements domain.AssessmentRepository.
func (r *Repository) GetAttempt(ctx context.Context, id string) (*domain.AssessmentAttempt, error) {
	if !validID(id) {
		return nil, nil
	}
	a, err := scanAttempt(r.pool.QueryRow(ctx, `SELECT `+attemptColumns+` FROM assessment_attempts WHERE attempt_id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

// CountAttempts implements domain.AssessmentRepository.
func (r *Repository) CountAttempts(ctx context.Context, learnerID, assessmentID string) (int, error) {
	if !validID(assessmentID) {
		return 0, nil
	}
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM assessment_attempts WHERE learner_id=$1 AND assessment_id=$2`,
		learnerID, assessmentID,
	).Scan(&n)
	return n, err
}

// HasPassingAttempt implements domain.AssessmentRepository. A minScore replaces the stored pass flag.
func (r *Repository) HasPassingAttempt(ctx context.Context, learnerID, assessmentID string, minScore *int) (bool, error) {
	if !validID(assessmentID) {
		return false, nil
	}
	query := `SELECT EXISTS (SELECT 1 FROM assessment_attempts WHERE learner_id=$1 AND assessment_id=$2 AND passed)`
	args := []any{learnerID, assessmentID}
	if minScore != nil {
		query = `SELECT EXISTS (SELECT 1 FROM assessment_attempts WHERE learner_id=$1 AND assessment_id=$2 AND NOT timed_out AND score >= $3)`
		args = append(args, *minScore)
	}
	var ok bool
	err := r.pool.QueryRow(ctx, query, args...).Scan(&ok)
	return ok, err
}
