package orchestrator

import (
	"context"
	"strings"

	"github.com/ashureev/fincomply/internal/apperr"
	"github.com/ashureev/fincomply/internal/rag"
)

// QuestionResult echoes the inputs alongside the answer.
type QuestionResult struct {
	Title    string
	Summary  string
	Question string
	Answer   string
}

// AnswerQuestion asks a one-off question about a title and summary. Nothing is stored.
func (s *Service) AnswerQuestion(ctx context.Context, title, summary, question string) (*QuestionResult, error) {
	if strings.TrimSpace(title) == "" || strings.TrimSpace(summary) == "" || strings.TrimSpace(question) == "" {
		return nil, apperr.InvalidRequest("sebi-title, sebi-summary, and user-question are required")
	}

	answer, err := s.answer(ctx, rag.AnswerRequest{Title: title, Summary: summary, Question: question})
	if err != nil {
		return nil, err
	}

	return &QuestionResult{
		Title:    title,
		Summary:  summary,
		Question: question,
		Answer:   answer.UserAnswer,
	}, nil
}
