package orchestrator

import (
	"context"
	"testing"

	"github.com/ashureev/fincomply/internal/apperr"
	"github.com/ashureev/fincomply/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndListThreads(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := uuid.NewString(), uuid.NewString()

	_, err := f.svc.CreateThread(ctx, alice, "Alice private", domain.ModePersonal)
	require.NoError(t, err)
	_, err = f.svc.CreateThread(ctx, bob, "Bob private", domain.ModePersonal)
	require.NoError(t, err)
	shared, err := f.svc.CreateThread(ctx, bob, "Open question", domain.ModeCommunity)
	require.NoError(t, err)

	personal, err := f.svc.ListThreads(ctx, alice, domain.ModePersonal)
	require.NoError(t, err)
	require.Len(t, personal, 1)
	assert.Equal(t, "Alice private", personal[0].Title)

	community, err := f.svc.ListThreads(ctx, alice, domain.ModeCommunity)
	require.NoError(t, err)
	require.Len(t, community, 1)
	assert.Equal(t, shared.ID, community[0].ID)

	_, err = f.svc.ListThreads(ctx, alice, "archived")
	assert.True(t, apperr.Is(err, apperr.KindInvalidRequest))

	_, err = f.svc.CreateThread(ctx, alice, " ", domain.ModePersonal)
	assert.True(t, apperr.Is(err, apperr.KindInvalidRequest))
	_, err = f.svc.CreateThread(ctx, alice, "x", "group")
	assert.True(t, apperr.Is(err, apperr.KindInvalidRequest))
}

func TestThreadMessagesAccessRule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner, stranger := uuid.NewString(), uuid.NewString()
	th := f.thread(t, owner, domain.ModePersonal, nil)
	_, err := f.svc.Submit(ctx, th.ID, owner, "first")
	require.NoError(t, err)

	_, msgs, err := f.svc.ThreadMessages(ctx, th.ID, owner)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)

	_, _, err = f.svc.ThreadMessages(ctx, th.ID, stranger)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	_, _, err = f.svc.ThreadMessages(ctx, uuid.NewString(), owner)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, _, err = f.svc.ThreadMessages(ctx, "zzz", owner)
	assert.True(t, apperr.Is(err, apperr.KindInvalidRequest))
}

func TestSeedCommunityThreads(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := uuid.NewString()

	seeded, err := f.svc.SeedCommunityThreads(ctx, owner)
	require.NoError(t, err)
	assert.True(t, seeded)

	threads, err := f.svc.ListThreads(ctx, uuid.NewString(), domain.ModeCommunity)
	require.NoError(t, err)
	require.Len(t, threads, 3)

	titles := make([]string, 0, len(threads))
	for _, th := range threads {
		titles = append(titles, th.Title)
		msgs := f.messages(t, th.ID)
		require.Len(t, msgs, 2)
		assert.Equal(t, domain.SenderUser, msgs[0].SenderType)
		assert.Equal(t, domain.SenderAI, msgs[1].SenderType)
		assert.Equal(t, []domain.Citation{
			{Title: "SEBI Official Website", Source: "SEBI"},
			{Title: "Compliance Handbook 2025", Source: "SEBI"},
		}, msgs[1].Citations)
	}
	assert.ElementsMatch(t, []string{
		"Clarification on recent SEBI circulars",
		"LODR compliance for board meetings",
		"KYC updates for existing clients",
	}, titles)

	again, err := f.svc.SeedCommunityThreads(ctx, owner)
	require.NoError(t, err)
	assert.False(t, again)
}

func TestDoubts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner, other := uuid.NewString(), uuid.NewString()
	shared := f.thread(t, owner, domain.ModeCommunity, nil)
	private := f.thread(t, owner, domain.ModePersonal, nil)

	d, err := f.svc.RaiseDoubt(ctx, shared.ID, other, "  Does this apply to SME listings? ")
	require.NoError(t, err)
	assert.Equal(t, "Does this apply to SME listings?", d.Question)

	_, err = f.svc.RaiseDoubt(ctx, private.ID, other, "peek")
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	_, err = f.svc.RaiseDoubt(ctx, shared.ID, other, "  ")
	assert.True(t, apperr.Is(err, apperr.KindInvalidRequest))

	doubts, err := f.svc.ListDoubts(ctx, shared.ID)
	require.NoError(t, err)
	require.Len(t, doubts, 1)
	assert.Equal(t, d.ID, doubts[0].ID)

	all, err := f.svc.ListDoubts(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = f.svc.ListDoubts(ctx, "bogus")
	assert.True(t, apperr.Is(err, apperr.KindInvalidRequest))
}
