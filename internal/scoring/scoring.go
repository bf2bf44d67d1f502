// Package scoring computes correctness and the per-category breakdown of
// a finished session. It is pure: no I/O, no clock.
package scoring

import (
	"math"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// Result is the outcome of scoring one answer set.
type Result struct {
	TotalQuestions    int                `json:"total_questions"`
	AnsweredQuestions int                `json:"answered_questions"`
	CorrectCount      int                `json:"correct_count"`
	Score             float64            `json:"score"`
	CategoryScores    map[string]float64 `json:"category_scores"`
}

type tally struct {
	correct, total int
}

// Score grades questions against answers keyed by question id. Answers to
// questions outside the set are ignored.
func Score(questions []model.Question, answers map[uuid.UUID]model.UserAnswer) Result {
	res := Result{
		TotalQuestions: len(questions),
		CategoryScores: make(map[string]float64),
	}
	categories := make(map[string]*tally)

	for i := range questions {
		q := &questions[i]
		name := q.CategoryName()
		c, ok := categories[name]
		if !ok {
			c = &tally{}
			categories[name] = c
		}
		c.total++

		a, ok := answers[q.ID]
		if !ok || !a.HasAnswer() {
			continue
		}
		res.AnsweredQuestions++

		payload, err := model.DecodeAnswer(a.Answer)
		if err != nil || payload == nil {
			continue
		}
		if IsCorrect(q, payload) {
			res.CorrectCount++
			c.correct++
		}
	}

	res.Score = percent(res.CorrectCount, res.TotalQuestions)
	for name, c := range categories {
		res.CategoryScores[name] = percent(c.correct, c.total)
	}
	return res
}

// IsCorrect applies the grading rule of the question type. Unknown types
// are never correct.
func IsCorrect(q *model.Question, a *model.AnswerPayload) bool {
	switch q.Type {
	case model.QuestionMultipleChoice:
		return a.Value != nil && q.CorrectAnswer != nil && *a.Value == *q.CorrectAnswer
	case model.QuestionMultipleSelect:
		return sameSet(a.Values, q.CorrectAnswers)
	case model.QuestionMatching:
		return samePairs(a.Pairs, q.CorrectPairs)
	default:
		return false
	}
}

// sameSet compares selections as sets. An empty key never matches.
func sameSet(got, want []int) bool {
	if len(want) == 0 {
		return false
	}
	w := make(map[int]struct{}, len(want))
	for _, v := range want {
		w[v] = struct{}{}
	}
	g := make(map[int]struct{}, len(got))
	for _, v := range got {
		if _, ok := w[v]; !ok {
			return false
		}
		g[v] = struct{}{}
	}
	return len(g) == len(w)
}

// samePairs requires every left item mapped to its right item and nothing extra.
func samePairs(got, want map[string]int) bool {
	if len(want) == 0 || len(got) != len(want) {
		return false
	}
	for left, right := range want {
		v, ok := got[left]
		if !ok || v != right {
			return false
		}
	}
	return true
}

// percent returns 100*n/d rounded to one decimal, 0 when d is 0.
func percent(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return math.Round(float64(n)*1000/float64(d)) / 10
}
