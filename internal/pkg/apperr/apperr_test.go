package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindPredicatesSurviveWrapping(t *testing.T) {
	err := fmt.Errorf("approve join request: %w", Permission("insufficient_role", "moderator role required"))

	assert.True(t, IsPermission(err))
	assert.False(t, IsConflict(err))
	assert.Equal(t, KindPermission, KindOf(err))
}

func TestAllocatorFailureUnwrapsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := AllocatorFailure(cause)

	assert.True(t, IsAllocatorFailure(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: Validation("bad", "bad"), want: http.StatusBadRequest},
		{err: NotFound("missing", "missing"), want: http.StatusNotFound},
		{err: Permission("denied", "denied"), want: http.StatusForbidden},
		{err: Conflict("exists", "exists"), want: http.StatusConflict},
		{err: AllocatorFailure(nil), want: http.StatusServiceUnavailable},
		{err: errors.New("boom"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.err), tt.err.Error())
	}
}
