package model

import (
	"encoding/json"

	"github.com/google/uuid"
)

// QuestionType tags the content and answer shape of a question.
type QuestionType string

const (
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionMultipleSelect QuestionType = "multiple_select"
	QuestionMatching       QuestionType = "matching"
)

// UncategorizedName labels questions without a category in score breakdowns.
const UncategorizedName = "Uncategorized"

// QuestionCategory groups questions for the per-category breakdown.
type QuestionCategory struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Color string    `json:"color,omitempty"`
}

// Question is type-tagged exam content, including its answer key.
type Question struct {
	ID             uuid.UUID         `json:"id"`
	CategoryID     *uuid.UUID        `json:"category_id,omitempty"`
	Category       *QuestionCategory `json:"category,omitempty"`
	Type           QuestionType      `json:"type"`
	Question       string            `json:"question"`
	Options        []string          `json:"options,omitempty"`
	CorrectAnswer  *int              `json:"correct_answer,omitempty"`
	CorrectAnswers []int             `json:"correct_answers,omitempty"`
	LeftItems      []string          `json:"left_items,omitempty"`
	RightItems     []string          `json:"right_items,omitempty"`
	CorrectPairs   map[string]int    `json:"correct_pairs,omitempty"`
	ImageURL       *string           `json:"image_url,omitempty"`
	OrderIndex     int               `json:"order_index"`
}

// CategoryName returns the breakdown bucket of the question.
func (q *Question) CategoryName() string {
	if q.Category == nil || q.Category.Name == "" {
		return UncategorizedName
	}
	return q.Category.Name
}

// QuestionOption is one choice as shown to a participant. Index always
// refers to the stored option position, whatever the display order.
type QuestionOption struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// QuestionView is a question without its answer key.
type QuestionView struct {
	ID         uuid.UUID        `json:"id"`
	Type       QuestionType     `json:"type"`
	Question   string           `json:"question"`
	Category   string           `json:"category"`
	Options    []QuestionOption `json:"options,omitempty"`
	LeftItems  []string         `json:"left_items,omitempty"`
	RightItems []string         `json:"right_items,omitempty"`
	ImageURL   *string          `json:"image_url,omitempty"`
}

// View strips the answer key and lays options out in the given order.
// A nil or mismatched order keeps the stored order.
func (q *Question) View(optionOrder []int) QuestionView {
	v := QuestionView{
		ID:         q.ID,
		Type:       q.Type,
		Question:   q.Question,
		Category:   q.CategoryName(),
		LeftItems:  q.LeftItems,
		RightItems: q.RightItems,
		ImageURL:   q.ImageURL,
	}
	if len(optionOrder) != len(q.Options) {
		optionOrder = nil
	}
	v.Options = make([]QuestionOption, len(q.Options))
	for i := range q.Options {
		idx := i
		if optionOrder != nil {
			idx = optionOrder[i]
		}
		v.Options[i] = QuestionOption{Index: idx, Text: q.Options[idx]}
	}
	return v
}

// AnswerPayload is the decoded shape of a stored answer. Which field is
// meaningful depends on the question type.
type AnswerPayload struct {
	Value  *int           `json:"value,omitempty"`
	Values []int          `json:"values,omitempty"`
	Pairs  map[string]int `json:"pairs,omitempty"`
}

// DecodeAnswer parses a raw answer. Null or empty input yields nil.
func DecodeAnswer(raw json.RawMessage) (*AnswerPayload, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var p AnswerPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
