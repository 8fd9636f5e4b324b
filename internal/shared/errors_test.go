package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindErrorsMatchClassification(t *testing.T) {
	missing := NotFoundError("pricing: document not found")
	wrapped := fmt.Errorf("apply: %w", missing)

	require.ErrorIs(t, wrapped, missing)
	require.ErrorIs(t, wrapped, ErrNotFound)
	require.False(t, errors.Is(wrapped, ErrConflict))
	require.Equal(t, "pricing: document not found", missing.Error())

	require.ErrorIs(t, ConflictError("x"), ErrConflict)
	require.ErrorIs(t, ValidationError("y"), ErrValidation)
}

func TestIdempotencyConflictIsConflict(t *testing.T) {
	require.ErrorIs(t, ErrIdempotencyConflict, ErrConflict)
}

func TestNewPagination(t *testing.T) {
	p := NewPagination(0, 0, 45)
	require.Equal(t, 1, p.Page)
	require.Equal(t, 20, p.PerPage)
	require.Equal(t, 3, p.TotalPages)
	require.Equal(t, 0, p.Offset())

	p = NewPagination(3, 10, 45)
	require.Equal(t, 20, p.Offset())
	require.Equal(t, 5, p.TotalPages)

	p = NewPagination(1, 500, 10)
	require.Equal(t, 100, p.PerPage)
}
