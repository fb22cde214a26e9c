package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	tokens := NewTokens("secret", time.Hour, false)

	raw, err := tokens.Issue("user-1", "a@example.com")
	require.NoError(t, err)

	claims, err := tokens.Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "a@example.com", claims.Email)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, 5*time.Second)
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	tokens := NewTokens("secret", time.Hour, false)

	other, err := NewTokens("other-secret", time.Hour, false).Issue("user-1", "a@example.com")
	require.NoError(t, err)
	_, err = tokens.Verify(other)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))},
		UserID:           "user-1",
	})
	raw, err := expired.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = tokens.Verify(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = tokens.Verify("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddlewareResolvesCookieAndBearer(t *testing.T) {
	tokens := NewTokens("secret", time.Hour, false)
	raw, err := tokens.Issue("user-1", "a@example.com")
	require.NoError(t, err)

	var gotID, gotEmail string
	h := Middleware(tokens)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = UserIDFromContext(r.Context())
		gotEmail = EmailFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: raw})
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "user-1", gotID)
	assert.Equal(t, "a@example.com", gotEmail)

	gotID = ""
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "user-1", gotID)

	gotID = ""
	req = httptest.NewRequest(http.MethodGet, "/ws/threads/t1?token="+raw, nil)
	req.Header.Set("Upgrade", "websocket")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "user-1", gotID)

	gotID = "unchanged"
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer nope")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "", gotID)
}

func TestRequireUser(t *testing.T) {
	called := false
	h := RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Unauthorized"}`, rec.Body.String())
	assert.False(t, called)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithUser(req.Context(), "user-1", "a@example.com"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.True(t, called)
}

func TestCookies(t *testing.T) {
	tokens := NewTokens("secret", 2*time.Hour, true)

	rec := httptest.NewRecorder()
	tokens.SetCookie(rec, "abc")
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, CookieName, cookies[0].Name)
	assert.Equal(t, "abc", cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
	assert.True(t, cookies[0].Secure)
	assert.Equal(t, http.SameSiteLaxMode, cookies[0].SameSite)
	assert.Equal(t, 7200, cookies[0].MaxAge)

	rec = httptest.NewRecorder()
	tokens.ClearCookie(rec)
	cookies = rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "", cookies[0].Value)
	assert.Equal(t, -1, cookies[0].MaxAge)
}

func TestQueryTokenIgnoredOutsideFeedHandshake(t *testing.T) {
	tokens := NewTokens("secret", time.Hour, false)
	raw, err := tokens.Issue("user-1", "a@example.com")
	require.NoError(t, err)

	var gotID string
	h := Middleware(tokens)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = UserIDFromContext(r.Context())
	}))

	tests := []struct {
		name    string
		target  string
		upgrade string
	}{
		{"api route", "/api/threads?mode=community&token=" + raw, ""},
		{"api route with upgrade header", "/api/threads?token=" + raw, "websocket"},
		{"feed path without upgrade", "/ws/threads/t1?token=" + raw, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotID = "unchanged"
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.upgrade != "" {
				req.Header.Set("Upgrade", tt.upgrade)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			assert.Empty(t, gotID)
		})
	}
}
