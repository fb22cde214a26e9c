package orchestrator

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ashureev/fincomply/internal/apperr"
	"github.com/ashureev/fincomply/internal/domain"
	"github.com/ashureev/fincomply/internal/metrics"
)

// IngestResult describes the community thread created from a circular body.
type IngestResult struct {
	Title    string
	Summary  string
	Date     string
	ThreadID string
}

// CreateThreadFromContext summarizes body and opens a community thread seeded
// with the summary as its first AI message.
func (s *Service) CreateThreadFromContext(ctx context.Context, body, requesterID string) (*IngestResult, error) {
	if strings.TrimSpace(body) == "" {
		return nil, apperr.InvalidRequest("body is required")
	}
	if !s.store.ValidID(requesterID) {
		return nil, apperr.InvalidRequest("Invalid userId")
	}

	summary, err := s.rag.Summarize(ctx, body)
	if err != nil {
		if _, ok := apperr.As(err); ok {
			return nil, err
		}
		return nil, apperr.UpstreamUnavailable("RAG API request failed", err)
	}
	if summary == nil || summary.Title == "" || summary.Summary == "" {
		return nil, apperr.UpstreamContract("RAG summary response missing required fields")
	}

	now := s.now()
	thread := &domain.Thread{
		UserID:    requesterID,
		Title:     summary.Title,
		Mode:      domain.ModeCommunity,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.InsertThread(ctx, thread); err != nil {
		return nil, storeError("create thread", err)
	}
	metrics.RecordThreadCreated(string(thread.Mode))

	seed := &domain.Message{
		ThreadID:   thread.ID,
		UserID:     requesterID,
		SenderType: domain.SenderAI,
		Content:    summary.Summary,
		CreatedAt:  now,
	}
	if err := s.store.InsertMessage(ctx, seed); err != nil {
		return nil, storeError("save summary message", err)
	}

	slog.Info("community thread created from context", "thread_id", thread.ID, "user_id", requesterID)
	return &IngestResult{
		Title:    summary.Title,
		Summary:  summary.Summary,
		Date:     summary.Date,
		ThreadID: thread.ID,
	}, nil
}
