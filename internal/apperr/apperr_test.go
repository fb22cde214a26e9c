package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindInvalidRequest, http.StatusBadRequest},
		{KindUnauthenticated, http.StatusUnauthorized},
		{KindForbidden, http.StatusForbidden},
		{KindNotFound, http.StatusNotFound},
		{KindConflict, http.StatusConflict},
		{KindUpstreamContract, http.StatusBadGateway},
		{KindUpstreamUnavailable, http.StatusBadGateway},
		{KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.kind.Status())
		})
	}
}

func TestAsThroughWrapping(t *testing.T) {
	base := Forbidden("forbidden")
	wrapped := fmt.Errorf("submit: %w", base)

	got, ok := As(wrapped)
	require.True(t, ok)
	assert.Same(t, base, got)
	assert.True(t, Is(wrapped, KindForbidden))
	assert.Equal(t, http.StatusForbidden, StatusOf(wrapped))
}

func TestUnclassifiedIsInternal(t *testing.T) {
	err := errors.New("disk on fire")
	assert.Equal(t, KindInternal, KindOf(err))
	assert.Equal(t, http.StatusInternalServerError, StatusOf(err))
}

func TestErrorMessageIncludesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := UpstreamUnavailable("rag answer request failed", cause)

	assert.Equal(t, "rag answer request failed: connection refused", err.Error())
	assert.ErrorIs(t, err, cause)
}
