package orchestrator

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ashureev/fincomply/internal/apperr"
	"github.com/ashureev/fincomply/internal/domain"
	"github.com/ashureev/fincomply/internal/metrics"
	"github.com/ashureev/fincomply/internal/store"
)

// CreateThread opens an empty thread owned by ownerID.
func (s *Service) CreateThread(ctx context.Context, ownerID, title string, mode domain.ThreadMode) (*domain.Thread, error) {
	if strings.TrimSpace(title) == "" || !mode.Valid() {
		return nil, apperr.InvalidRequest("title and valid mode are required")
	}
	if !s.store.ValidID(ownerID) {
		return nil, apperr.InvalidRequest("Invalid userId")
	}

	now := s.now()
	thread := &domain.Thread{
		UserID:    ownerID,
		Title:     title,
		Mode:      mode,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.InsertThread(ctx, thread); err != nil {
		return nil, storeError("create thread", err)
	}
	metrics.RecordThreadCreated(string(mode))
	return thread, nil
}

// ListThreads returns the threads visible to requesterID in mode: every community
// thread, or the requester's own personal threads.
func (s *Service) ListThreads(ctx context.Context, requesterID string, mode domain.ThreadMode) ([]*domain.Thread, error) {
	filter := domain.ThreadFilter{Mode: mode, Limit: store.DefaultThreadLimit}
	switch mode {
	case domain.ModeCommunity:
	case domain.ModePersonal:
		filter.UserID = requesterID
	default:
		return nil, apperr.InvalidRequest("mode must be 'community' or 'personal'")
	}

	threads, err := s.store.ListThreads(ctx, filter)
	if err != nil {
		return nil, storeError("list threads", err)
	}
	return threads, nil
}

// ThreadMessages returns a thread's messages oldest first, under the same access
// rule as Submit.
func (s *Service) ThreadMessages(ctx context.Context, threadID, requesterID string) (*domain.Thread, []*domain.Message, error) {
	thread, err := s.authorizedThread(ctx, threadID, requesterID)
	if err != nil {
		return nil, nil, err
	}
	messages, err := s.store.ListMessages(ctx, thread.ID, store.DefaultMessageLimit)
	if err != nil {
		return nil, nil, storeError("list messages", err)
	}
	return thread, messages, nil
}

// Authorize checks that requesterID may read threadID.
func (s *Service) Authorize(ctx context.Context, threadID, requesterID string) (*domain.Thread, error) {
	return s.authorizedThread(ctx, threadID, requesterID)
}

type seedThread struct {
	title    string
	prompt   string
	response string
}

var communitySeeds = []seedThread{
	{
		title:    "Clarification on recent SEBI circulars",
		prompt:   "Can someone summarize the most impactful SEBI circulars from the last quarter?",
		response: "Here’s a concise overview of key circular themes: tighter disclosures, enhanced governance checks, and stronger investor grievance redressal timelines.",
	},
	{
		title:    "LODR compliance for board meetings",
		prompt:   "What are the must-do disclosures before and after board meetings under LODR?",
		response: "Pre-intimation for results/meetings and post-outcome disclosures are critical. Timelines depend on the event type, but same-day or next-day is common.",
	},
	{
		title:    "KYC updates for existing clients",
		prompt:   "How often should KYC updates be performed for retail investors?",
		response: "Periodic updates vary by risk category. Low-risk clients can be less frequent, while high-risk accounts require more regular refreshes.",
	},
}

var seedCitations = []domain.Citation{
	{Title: "SEBI Official Website", Source: "SEBI"},
	{Title: "Compliance Handbook 2025", Source: "SEBI"},
}

// SeedCommunityThreads creates the demo community threads, owned by ownerID,
// when no community thread exists yet. It reports whether anything was created.
func (s *Service) SeedCommunityThreads(ctx context.Context, ownerID string) (bool, error) {
	existing, err := s.store.ListThreads(ctx, domain.ThreadFilter{Mode: domain.ModeCommunity, Limit: 1})
	if err != nil {
		return false, storeError("list threads", err)
	}
	if len(existing) > 0 {
		return false, nil
	}

	for _, seed := range communitySeeds {
		thread, err := s.CreateThread(ctx, ownerID, seed.title, domain.ModeCommunity)
		if err != nil {
			return false, err
		}
		messages := []*domain.Message{
			{ThreadID: thread.ID, UserID: ownerID, SenderType: domain.SenderUser, Content: seed.prompt, CreatedAt: s.now()},
			{ThreadID: thread.ID, UserID: ownerID, SenderType: domain.SenderAI, Content: seed.response,
				Citations: append([]domain.Citation(nil), seedCitations...), CreatedAt: s.now()},
		}
		for _, msg := range messages {
			if err := s.store.InsertMessage(ctx, msg); err != nil {
				return false, storeError("save seed message", err)
			}
		}
	}
	slog.Info("seeded community threads", "count", len(communitySeeds), "owner_id", ownerID)
	return true, nil
}

// RaiseDoubt records a question against a thread the requester can read.
func (s *Service) RaiseDoubt(ctx context.Context, threadID, requesterID, question string) (*domain.CommunityDoubt, error) {
	question = strings.TrimSpace(question)
	if threadID == "" || question == "" {
		return nil, apperr.InvalidRequest("threadId and question are required")
	}
	thread, err := s.authorizedThread(ctx, threadID, requesterID)
	if err != nil {
		return nil, err
	}

	doubt := &domain.CommunityDoubt{
		ThreadID:  thread.ID,
		UserID:    requesterID,
		Question:  question,
		CreatedAt: s.now(),
	}
	if err := s.store.InsertDoubt(ctx, doubt); err != nil {
		return nil, storeError("save community doubt", err)
	}
	return doubt, nil
}

// ListDoubts returns doubts newest first, optionally for a single thread.
func (s *Service) ListDoubts(ctx context.Context, threadID string) ([]*domain.CommunityDoubt, error) {
	if threadID != "" && !s.store.ValidID(threadID) {
		return nil, apperr.InvalidRequest("Invalid threadId")
	}
	doubts, err := s.store.ListDoubts(ctx, threadID, store.DefaultDoubtLimit)
	if err != nil {
		return nil, storeError("list community doubts", err)
	}
	return doubts, nil
}
