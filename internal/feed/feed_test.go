package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/fincomply/internal/apperr"
	"github.com/ashureev/fincomply/internal/domain"
	"github.com/ashureev/fincomply/internal/identity"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestHubPublishFansOut(t *testing.T) {
	defer goleak.VerifyNone(t)

	hub := NewHub()
	a := hub.Subscribe("t1")
	b := hub.Subscribe("t1")
	other := hub.Subscribe("t2")
	require.Equal(t, 2, hub.Subscribers("t1"))

	hub.Publish("t1", &domain.Message{ID: "m1", ThreadID: "t1", Content: "hello"})

	for _, sub := range []*Subscription{a, b} {
		select {
		case data := <-sub.C():
			var ev Event
			require.NoError(t, json.Unmarshal(data, &ev))
			assert.Equal(t, "message", ev.Type)
			assert.Equal(t, "m1", ev.Message.ID)
		default:
			t.Fatal("expected an event")
		}
	}
	select {
	case <-other.C():
		t.Fatal("other thread must not receive the event")
	default:
	}

	hub.Unsubscribe(a)
	hub.Unsubscribe(a)
	assert.Equal(t, 1, hub.Subscribers("t1"))
	_, open := <-a.C()
	assert.False(t, open)

	hub.Close()
	_, open = <-b.C()
	assert.False(t, open)
	assert.Nil(t, hub.Subscribe("t1"))
}

func TestHubPublishNeverBlocks(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("t1")
	defer hub.Unsubscribe(sub)

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*3; i++ {
			hub.Publish("t1", &domain.Message{ID: "m"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	assert.Len(t, sub.C(), subscriberBuffer)
}

func TestHubConcurrentAccess(t *testing.T) {
	hub := NewHub()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			sub := hub.Subscribe("t1")
			hub.Publish("t1", &domain.Message{ID: "m"})
			hub.Unsubscribe(sub)
		}()
		go func() {
			defer wg.Done()
			hub.Publish("t1", &domain.Message{ID: "m"})
			_ = hub.Subscribers("t1")
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, hub.Subscribers("t1"))
}

type fakeAuthorizer struct {
	err error
}

func (f fakeAuthorizer) Authorize(_ context.Context, threadID, _ string) (*domain.Thread, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Thread{ID: threadID}, nil
}

func newFeedServer(t *testing.T, hub *Hub, auth Authorizer) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(identity.WithUser(r.Context(), "u1", "u1@example.com")))
		})
	})
	NewHandler(hub, auth, []string{"*"}).RegisterRoutes(r)
	return httptest.NewServer(r)
}

func TestWebSocketStreamsThreadMessages(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	hub := NewHub()
	srv := newFeedServer(t, hub, fakeAuthorizer{})
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/threads/t1"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type":"ping"}`)))
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"pong"}`, string(data))

	require.Eventually(t, func() bool { return hub.Subscribers("t1") == 1 }, time.Second, 10*time.Millisecond)
	hub.Publish("t1", &domain.Message{ID: "m1", ThreadID: "t1", SenderType: domain.SenderAI, Content: "answer", Citations: []domain.Citation{}})

	_, data, err = conn.Read(ctx)
	require.NoError(t, err)
	var ev Event
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, "message", ev.Type)
	require.NotNil(t, ev.Message)
	assert.Equal(t, "answer", ev.Message.Content)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "bye"))
	require.Eventually(t, func() bool { return hub.Subscribers("t1") == 0 }, time.Second, 10*time.Millisecond)
}

func TestWebSocketRejectsUnauthorized(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"forbidden", apperr.Forbidden("Forbidden"), http.StatusForbidden},
		{"not found", apperr.NotFound("Thread not found"), http.StatusNotFound},
		{"invalid", apperr.InvalidRequest("Invalid threadId or userId"), http.StatusBadRequest},
		{"internal", apperr.Internal("load thread", assert.AnError), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := NewHub()
			srv := newFeedServer(t, hub, fakeAuthorizer{err: tt.err})
			defer srv.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/threads/t1"
			_, resp, err := websocket.Dial(ctx, url, nil)
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, 0, hub.Subscribers("t1"))
		})
	}
}
