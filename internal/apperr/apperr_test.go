package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	base := New(InsufficientFunds, "Insufficient balance")
	wrapped := fmt.Errorf("debit: %w", base)

	assert.Equal(t, InsufficientFunds, KindOf(wrapped))
	assert.True(t, Is(wrapped, InsufficientFunds))
	assert.False(t, Is(wrapped, NotFound))
	assert.Equal(t, Internal, KindOf(errors.New("boom")))
}

func TestMessageOf(t *testing.T) {
	cause := errors.New("pq: connection refused")
	err := Wrap(Internal, "Failed to load user", cause)

	assert.Equal(t, "Failed to load user", MessageOf(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "Internal server error", MessageOf(cause))
	assert.Contains(t, err.Error(), "connection refused")
}
