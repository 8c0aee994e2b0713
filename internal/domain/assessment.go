package domain

import (
	"math"
	"strings"
	"time"
)

// TimeLimitGrace absorbs client clock skew and submission latency on timed assessments.
const TimeLimitGrace = 30 * time.Second

// Question is a single multiple-choice item. CorrectIndex and Explanation are never exposed before grading.
type Question struct {
	Prompt       string
	Options      []string
	CorrectIndex int
	Explanation  string
}

// Assessment is an attempt-limited quiz that may award CPD hours on pass.
type Assessment struct {
	ID          string
	ActivityID  string
	Title       string
	Provider    string
	PassMark    int
	MaxAttempts int
	TimeLimit   time.Duration
	Hours       float64
	Category    string
	Active      bool
	Questions   []Question
	CreatedAt   time.Time
}

// Validate checks an assessment definition before it is stored.
func (a Assessment) Validate() error {
	if strings.TrimSpace(a.Title) == "" {
		return validationf("title is required")
	}
	if a.PassMark < 0 || a.PassMark > 100 {
		return validationf("pass mark must be within 0..100")
	}
	if a.MaxAttempts < 1 {
		return validationf("max attempts must be at least 1")
	}
	if a.TimeLimit < 0 {
		return validationf("time limit cannot be negative")
	}
	if a.Hours < 0 {
		return validationf("hours cannot be negative")
	}
	if a.Hours > 0 && strings.TrimSpace(a.Category) == "" {
		return validationf("category is required when hours are awarded")
	}
	if len(a.Questions) == 0 {
		return validationf("at least one question is required")
	}
	for i, q := range a.Questions {
		if strings.TrimSpace(q.Prompt) == "" {
			return validationf("question %d: prompt is required", i)
		}
		if len(q.Options) < 2 {
			return validationf("question %d: at least two options are required", i)
		}
		if q.CorrectIndex < 0 || q.CorrectIndex >= len(q.Options) {
			return validationf("question %d: correct index out of range", i)
		}
	}
	return nil
}

// PublicQuestion is the learner-facing view of a question.
type PublicQuestion struct {
	Prompt  string
	Options []string
}

// PublicAssessment is what a learner sees before submitting.
type PublicAssessment struct {
	ID          string
	Title       string
	PassMark    int
	MaxAttempts int
	TimeLimit   time.Duration
	Hours       float64
	Category    string
	Questions   []PublicQuestion
}

// Public strips answers and explanations.
func (a Assessment) Public() PublicAssessment {
	qs := make([]PublicQuestion, len(a.Questions))
	for i, q := range a.Questions {
		opts := make([]string, len(q.Options))
		copy(opts, q.Options)
		qs[i] = PublicQuestion{Prompt: q.Prompt, Options: opts}
	}
	return PublicAssessment{
		ID:          a.ID,
		Title:       a.Title,
		PassMark:    a.PassMark,
		MaxAttempts: a.MaxAttempts,
		TimeLimit:   a.TimeLimit,
		Hours:       a.Hours,
		Category:    a.Category,
		Questions:   qs,
	}
}

// AssessmentAttempt is an immutable graded submission.
type AssessmentAttempt struct {
	ID           string
	LearnerID    string
	AssessmentID string
	Answers      []int
	Score        int
	Passed       bool
	TimedOut     bool
	StartedAt    time.Time
	CompletedAt  time.Time
}

// QuestionResult is per-question feedback returned after grading.
type QuestionResult struct {
	Index        int
	Selected     int
	CorrectIndex int
	Correct      bool
	Explanation  string
}

// Grading is the outcome of scoring a submission.
type Grading struct {
	Score   int
	Passed  bool
	Results []QuestionResult
}

// Grade scores answers against the assessment. Score is the rounded percentage of correct answers.
func Grade(a Assessment, answers []int) (Grading, error) {
	if len(a.Questions) == 0 {
		return Grading{}, ErrMalformedSubmission
	}
	if len(answers) != len(a.Questions) {
		return Grading{}, fmtMalformed("expected %d answers, got %d", len(a.Questions), len(answers))
	}

	correct := 0
	results := make([]QuestionResult, len(a.Questions))
	for i, q := range a.Questions {
		ok := answers[i] == q.CorrectIndex
		if ok {
			correct++
		}
		results[i] = QuestionResult{
			Index:        i,
			Selected:     answers[i],
			CorrectIndex: q.CorrectIndex,
			Correct:      ok,
			Explanation:  q.Explanation,
		}
	}

	score := int(math.Round(float64(correct) / float64(len(a.Questions)) * 100))
	return Grading{Score: score, Passed: score >= a.PassMark, Results: results}, nil
}

// AttemptStatus summarises ceiling usage for a learner on one assessment.
type AttemptStatus struct {
	AssessmentID string
	Used         int
	Max          int
	Remaining    int
}
