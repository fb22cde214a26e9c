package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/fincomply/internal/apperr"
	"github.com/ashureev/fincomply/internal/domain"
	"github.com/ashureev/fincomply/internal/rag"
	"github.com/ashureev/fincomply/internal/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRAG struct {
	mu           sync.Mutex
	answer       *rag.Answer
	answerErr    error
	summary      *rag.Summary
	summaryErr   error
	answerCalls  []rag.AnswerRequest
	summaryCalls []string
}

func (f *fakeRAG) Answer(_ context.Context, req rag.AnswerRequest) (*rag.Answer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answerCalls = append(f.answerCalls, req)
	return f.answer, f.answerErr
}

func (f *fakeRAG) Summarize(_ context.Context, body string) (*rag.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaryCalls = append(f.summaryCalls, body)
	return f.summary, f.summaryErr
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []*domain.Message
}

func (p *recordingPublisher) Publish(_ string, msg *domain.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
}

// stepClock returns a time one second later on every call.
func stepClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	current := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Second)
		return current
	}
}

type fixture struct {
	store *store.SQLiteStore
	rag   *fakeRAG
	pub   *recordingPublisher
	svc   *Service
	start time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "orchestrator.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	f := &fixture{
		store: s,
		rag:   &fakeRAG{answer: &rag.Answer{}},
		pub:   &recordingPublisher{},
		start: time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = New(s, f.rag, WithPublisher(f.pub), WithClock(stepClock(f.start)))
	return f
}

func (f *fixture) thread(t *testing.T, owner string, mode domain.ThreadMode, attrs map[string]any) *domain.Thread {
	t.Helper()
	th := &domain.Thread{
		UserID:     owner,
		Title:      "Thread title",
		Mode:       mode,
		Attributes: attrs,
		CreatedAt:  f.start,
		UpdatedAt:  f.start,
	}
	require.NoError(t, f.store.InsertThread(context.Background(), th))
	return th
}

func (f *fixture) messages(t *testing.T, threadID string) []*domain.Message {
	t.Helper()
	msgs, err := f.store.ListMessages(context.Background(), threadID, 0)
	require.NoError(t, err)
	return msgs
}

func TestSubmitPersonalThreadAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner, stranger := uuid.NewString(), uuid.NewString()
	th := f.thread(t, owner, domain.ModePersonal, nil)

	_, err := f.svc.Submit(ctx, th.ID, stranger, "Can I see this?")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
	assert.Equal(t, 403, apperr.StatusOf(err))
	assert.Empty(t, f.messages(t, th.ID))
	assert.Empty(t, f.rag.answerCalls)

	res, err := f.svc.Submit(ctx, th.ID, owner, "My question")
	require.NoError(t, err)
	assert.Equal(t, domain.SenderUser, res.UserMessage.SenderType)
	assert.Equal(t, domain.SenderAI, res.AIMessage.SenderType)
}

func TestSubmitCommunityThreadOpenToAnyUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	creator := uuid.NewString()
	th := f.thread(t, creator, domain.ModeCommunity, nil)

	for _, user := range []string{creator, uuid.NewString(), uuid.NewString()} {
		_, err := f.svc.Submit(ctx, th.ID, user, "Hello")
		require.NoError(t, err)
	}
	assert.Len(t, f.messages(t, th.ID), 6)
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := uuid.NewString()
	th := f.thread(t, owner, domain.ModePersonal, nil)

	tests := []struct {
		name     string
		threadID string
		userID   string
		text     string
		kind     apperr.Kind
	}{
		{"empty text", th.ID, owner, "", apperr.KindInvalidRequest},
		{"whitespace text", th.ID, owner, " \n\t ", apperr.KindInvalidRequest},
		{"empty thread id", "", owner, "hi", apperr.KindInvalidRequest},
		{"malformed thread id", "not-an-id", owner, "hi", apperr.KindInvalidRequest},
		{"malformed user id", th.ID, "nobody", "hi", apperr.KindInvalidRequest},
		{"unknown thread", uuid.NewString(), owner, "hi", apperr.KindNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Submit(ctx, tt.threadID, tt.userID, tt.text)
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperr.KindOf(err))
		})
	}

	assert.Empty(t, f.messages(t, th.ID))
	assert.Empty(t, f.rag.answerCalls)
	assert.Empty(t, f.pub.messages)
}

func TestSubmitPersistsBothMessagesAndBumpsThread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := uuid.NewString()
	th := f.thread(t, owner, domain.ModePersonal, nil)

	f.rag.answer = &rag.Answer{
		UserAnswer: "LODR governs listed entities.",
		Sources:    []rag.Source{{DocumentTitle: "SEBI LODR", Category: "Regulations", SourceURL: "https://sebi.gov.in/lodr"}},
	}

	res, err := f.svc.Submit(ctx, th.ID, owner, "What is LODR?")
	require.NoError(t, err)

	msgs := f.messages(t, th.ID)
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.SenderUser, msgs[0].SenderType)
	assert.Equal(t, "What is LODR?", msgs[0].Content)
	assert.Equal(t, domain.SenderAI, msgs[1].SenderType)
	assert.Equal(t, "LODR governs listed entities.", msgs[1].Content)
	assert.Equal(t, owner, msgs[1].UserID)
	require.Len(t, msgs[1].Citations, 1)
	assert.Equal(t, domain.Citation{Title: "SEBI LODR", Source: "https://sebi.gov.in/lodr"}, msgs[1].Citations[0])
	assert.False(t, msgs[1].CreatedAt.Before(msgs[0].CreatedAt))

	assert.Equal(t, msgs[0].ID, res.UserMessage.ID)
	assert.Equal(t, msgs[1].ID, res.AIMessage.ID)
	assert.Same(t, f.rag.answer, res.Answer)

	after, err := f.store.FindThread(ctx, th.ID)
	require.NoError(t, err)
	assert.True(t, after.UpdatedAt.After(th.UpdatedAt))

	require.Len(t, f.pub.messages, 2)
	assert.Equal(t, res.UserMessage.ID, f.pub.messages[0].ID)
	assert.Equal(t, res.AIMessage.ID, f.pub.messages[1].ID)
}

func TestSubmitStoresTextVerbatim(t *testing.T) {
	f := newFixture(t)
	owner := uuid.NewString()
	th := f.thread(t, owner, domain.ModePersonal, nil)
	text := "  Reg 17(2):\n  how often?  "

	res, err := f.svc.Submit(context.Background(), th.ID, owner, text)
	require.NoError(t, err)
	assert.Equal(t, text, res.UserMessage.Content)
	assert.Equal(t, text, f.rag.answerCalls[0].Question)

	msgs := f.messages(t, th.ID)
	require.Len(t, msgs, 2)
	assert.Equal(t, text, msgs[0].Content)

	// The returned user message matches what a later read yields.
	assert.NotNil(t, res.UserMessage.Citations)
	assert.Equal(t, msgs[0].Citations, res.UserMessage.Citations)
}

func TestSubmitDefaultsMissingAnswerFields(t *testing.T) {
	f := newFixture(t)
	owner := uuid.NewString()
	th := f.thread(t, owner, domain.ModePersonal, nil)
	f.rag.answer = &rag.Answer{}

	res, err := f.svc.Submit(context.Background(), th.ID, owner, "Anything?")
	require.NoError(t, err)
	assert.Equal(t, "", res.AIMessage.Content)
	assert.NotNil(t, res.AIMessage.Citations)
	assert.Empty(t, res.AIMessage.Citations)

	msgs := f.messages(t, th.ID)
	require.Len(t, msgs, 2)
	assert.NotNil(t, msgs[1].Citations)
	assert.Empty(t, msgs[1].Citations)
}

func TestSubmitUpstreamFailureKeepsUserMessage(t *testing.T) {
	f := newFixture(t)
	owner := uuid.NewString()
	th := f.thread(t, owner, domain.ModePersonal, nil)
	f.rag.answerErr = apperr.UpstreamUnavailable("RAG API request failed (500): boom", nil)

	_, err := f.svc.Submit(context.Background(), th.ID, owner, "Will this fail?")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindUpstreamUnavailable))

	msgs := f.messages(t, th.ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.SenderUser, msgs[0].SenderType)
}

func TestSubmitUnclassifiedUpstreamErrorIsUnavailable(t *testing.T) {
	f := newFixture(t)
	owner := uuid.NewString()
	th := f.thread(t, owner, domain.ModePersonal, nil)
	f.rag.answerErr = errors.New("connection reset")

	_, err := f.svc.Submit(context.Background(), th.ID, owner, "hi")
	assert.True(t, apperr.Is(err, apperr.KindUpstreamUnavailable))
}

type touchFailStore struct {
	ThreadStore
}

func (touchFailStore) TouchThread(context.Context, string, time.Time) error {
	return errors.New("write conflict")
}

func TestSubmitSwallowsTouchFailure(t *testing.T) {
	f := newFixture(t)
	owner := uuid.NewString()
	th := f.thread(t, owner, domain.ModePersonal, nil)
	f.rag.answer = &rag.Answer{UserAnswer: "fine"}

	svc := New(touchFailStore{f.store}, f.rag)
	res, err := svc.Submit(context.Background(), th.ID, owner, "hi")
	require.NoError(t, err)
	assert.Equal(t, "fine", res.AIMessage.Content)
	assert.Len(t, f.messages(t, th.ID), 2)
}

func TestSubmitUsesLegacyContextAliases(t *testing.T) {
	f := newFixture(t)
	owner := uuid.NewString()
	th := f.thread(t, owner, domain.ModeCommunity, map[string]any{
		"sebiUpdateTitle": "Revised KYC norms",
		"sebiUpdateText":  "Periodic KYC refresh by risk category.",
	})

	_, err := f.svc.Submit(context.Background(), th.ID, owner, "How often?")
	require.NoError(t, err)

	require.Len(t, f.rag.answerCalls, 1)
	assert.Equal(t, rag.AnswerRequest{
		Title:    "Revised KYC norms",
		Summary:  "Periodic KYC refresh by risk category.",
		Question: "How often?",
	}, f.rag.answerCalls[0])
}

func TestMapCitations(t *testing.T) {
	got := MapCitations([]rag.Source{
		{DocumentTitle: "A", SourceURL: "https://a", Category: "circular"},
		{DocumentTitle: "B", Category: "master circular"},
	})
	assert.Equal(t, []domain.Citation{
		{Title: "A", Source: "https://a"},
		{Title: "B", Source: "master circular"},
	}, got)

	assert.Equal(t, []domain.Citation{}, MapCitations(nil))
}
