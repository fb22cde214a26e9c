// Package orchestrator runs message submission, context ingestion and direct
// question answering against the thread store and the RAG service.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/fincomply/internal/apperr"
	"github.com/ashureev/fincomply/internal/domain"
	"github.com/ashureev/fincomply/internal/metrics"
	"github.com/ashureev/fincomply/internal/rag"
	"github.com/ashureev/fincomply/internal/store"
)

// ThreadStore is the persistence the orchestrator needs.
type ThreadStore interface {
	ValidID(id string) bool
	FindThread(ctx context.Context, threadID string) (*domain.Thread, error)
	InsertThread(ctx context.Context, thread *domain.Thread) error
	ListThreads(ctx context.Context, filter domain.ThreadFilter) ([]*domain.Thread, error)
	TouchThread(ctx context.Context, threadID string, at time.Time) error
	InsertMessage(ctx context.Context, msg *domain.Message) error
	ListMessages(ctx context.Context, threadID string, limit int) ([]*domain.Message, error)
	InsertDoubt(ctx context.Context, doubt *domain.CommunityDoubt) error
	ListDoubts(ctx context.Context, threadID string, limit int) ([]*domain.CommunityDoubt, error)
}

// AnswerService is the RAG capability.
type AnswerService interface {
	Answer(ctx context.Context, req rag.AnswerRequest) (*rag.Answer, error)
	Summarize(ctx context.Context, body string) (*rag.Summary, error)
}

// Publisher receives every message persisted to a thread. Publish must not block.
type Publisher interface {
	Publish(threadID string, msg *domain.Message)
}

// Service coordinates thread operations.
type Service struct {
	store     ThreadStore
	rag       AnswerService
	publisher Publisher
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher sets the live feed publisher.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a Service.
func New(threads ThreadStore, answers AnswerService, opts ...Option) *Service {
	s := &Service{
		store: threads,
		rag:   answers,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubmitResult holds both persisted messages and the raw answer.
type SubmitResult struct {
	UserMessage *domain.Message
	AIMessage   *domain.Message
	Answer      *rag.Answer
}

// Submit records text as the requester's message in the thread, asks the RAG
// service for an answer grounded on the thread's context and records the answer.
func (s *Service) Submit(ctx context.Context, threadID, requesterID, text string) (result *SubmitResult, err error) {
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = apperr.KindOf(err).String()
		}
		metrics.RecordSubmission(outcome)
	}()

	if threadID == "" || strings.TrimSpace(text) == "" {
		return nil, apperr.InvalidRequest("threadId and content are required")
	}

	thread, err := s.authorizedThread(ctx, threadID, requesterID)
	if err != nil {
		return nil, err
	}

	userMsg := &domain.Message{
		ThreadID:   thread.ID,
		UserID:     requesterID,
		SenderType: domain.SenderUser,
		Content:    text,
		Citations:  []domain.Citation{},
		CreatedAt:  s.now(),
	}
	if err := s.store.InsertMessage(ctx, userMsg); err != nil {
		return nil, storeError("save user message", err)
	}
	s.publish(userMsg)

	title, summary := ResolveContext(thread)
	answer, err := s.answer(ctx, rag.AnswerRequest{Title: title, Summary: summary, Question: text})
	if err != nil {
		slog.Warn("answer service failed", "thread_id", thread.ID, "user_message_id", userMsg.ID, "error", err)
		return nil, err
	}

	aiMsg := &domain.Message{
		ThreadID:   thread.ID,
		UserID:     requesterID,
		SenderType: domain.SenderAI,
		Content:    answer.UserAnswer,
		Citations:  MapCitations(answer.Sources),
		CreatedAt:  s.now(),
	}
	if err := s.store.InsertMessage(ctx, aiMsg); err != nil {
		return nil, storeError("save ai message", err)
	}
	s.publish(aiMsg)

	if err := s.store.TouchThread(ctx, thread.ID, s.now()); err != nil {
		slog.Warn("failed to bump thread recency", "thread_id", thread.ID, "error", err)
	}

	return &SubmitResult{UserMessage: userMsg, AIMessage: aiMsg, Answer: answer}, nil
}

// authorizedThread loads the thread and applies the access rule for requesterID.
func (s *Service) authorizedThread(ctx context.Context, threadID, requesterID string) (*domain.Thread, error) {
	if !s.store.ValidID(threadID) || !s.store.ValidID(requesterID) {
		return nil, apperr.InvalidRequest("Invalid threadId or userId")
	}

	thread, err := s.store.FindThread(ctx, threadID)
	if err != nil {
		return nil, storeError("load thread", err)
	}
	if thread == nil {
		return nil, apperr.NotFound("Thread not found")
	}
	if !thread.CanAccess(requesterID) {
		return nil, apperr.Forbidden("Forbidden")
	}
	return thread, nil
}

// answer calls the RAG service and never returns a nil answer without an error.
func (s *Service) answer(ctx context.Context, req rag.AnswerRequest) (*rag.Answer, error) {
	answer, err := s.rag.Answer(ctx, req)
	if err != nil {
		if _, ok := apperr.As(err); ok {
			return nil, err
		}
		return nil, apperr.UpstreamUnavailable("RAG API request failed", err)
	}
	if answer == nil {
		answer = &rag.Answer{}
	}
	return answer, nil
}

func (s *Service) publish(msg *domain.Message) {
	if s.publisher != nil {
		s.publisher.Publish(msg.ThreadID, msg)
	}
}

// MapCitations converts retrieved sources into message citations, keeping order.
// The result is never nil.
func MapCitations(sources []rag.Source) []domain.Citation {
	citations := make([]domain.Citation, 0, len(sources))
	for _, src := range sources {
		source := src.SourceURL
		if source == "" {
			source = src.Category
		}
		citations = append(citations, domain.Citation{Title: src.DocumentTitle, Source: source})
	}
	return citations
}

// storeError classifies a store failure.
func storeError(op string, err error) error {
	switch {
	case errors.Is(err, store.ErrInvalidID):
		return apperr.InvalidRequest("Invalid threadId or userId")
	case errors.Is(err, store.ErrNotFound):
		return apperr.NotFound("Thread not found")
	default:
		return apperr.Internal(op, err)
	}
}
