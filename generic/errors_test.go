package generic

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesKindThroughWrapping(t *testing.T) {
	err := fmt.Errorf("handler: %w", NotFound("requests.get", "request %s not found", "r-1"))

	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.Contains(t, err.Error(), "requests.get: request r-1 not found")
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"policy", PolicyViolation("op", "nope"), KindPolicyViolation},
		{"state", InvalidState("op", "nope"), KindInvalidState},
		{"auth", Unauthorized("op", "nope"), KindUnauthorized},
		{"conflict", Conflict("op", "nope"), KindConflict},
		{"duplicate", fmt.Errorf("insert: %w", ErrDuplicate), KindConflict},
		{"idempotency", ErrDuplicateIdempotencyKey, KindConflict},
		{"plain", errors.New("disk full"), KindInternal},
		{"internal", Internal("op", errors.New("disk full")), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestInternal_KeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Internal("store.save", cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrInternal)
	assert.Equal(t, "store.save: connection reset", err.Error())
	assert.False(t, IsClientError(err))
	assert.True(t, IsClientError(PolicyViolation("op", "x")))
}

func TestIdempotencyKey(t *testing.T) {
	assert.Equal(t, "pto:r-1:settle:used", IdempotencyKey("pto", "r-1", "settle", FieldUsed))
	assert.Equal(t, "pto:r-1:settle", IdempotencyKey("pto", "r-1", "settle"))
}

func TestSumDeltas(t *testing.T) {
	entries := []Entry{
		{Field: FieldPending, Delta: Hours(16)},
		{Field: FieldPending, Delta: Hours(-16)},
		{Field: FieldUsed, Delta: Hours(16)},
	}

	assert.True(t, SumDeltas(entries, FieldPending).IsZero())
	assert.Equal(t, 16.0, SumDeltas(entries, FieldUsed).Float())
	assert.True(t, SumDeltas(nil, FieldTotal).IsZero())
}
