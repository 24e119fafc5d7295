package apperr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Unwrap_PreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(Storage, "write photo row", cause)

	require.NotNil(t, err)
	assert.Equal(t, cause, errors.Unwrap(err))
	assert.True(t, errors.Is(err, cause))
}

func TestError_Error_FormatsKindAndMessage(t *testing.T) {
	err := New(NotFound, "photo 42 not found")
	assert.Equal(t, "not_found: photo 42 not found", err.Error())
}

func TestError_Is_MatchesByKind(t *testing.T) {
	a := New(Conflict, "indexing already running")
	b := New(Conflict, "a different message")
	c := New(Invalid, "bad request")

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
}

func TestKindOf_DefaultsToStorageForUnknownErrors(t *testing.T) {
	assert.Equal(t, Storage, KindOf(errors.New("boom")))
	assert.Equal(t, Unavailable, KindOf(Unavailablef("embedder down")))
}

func TestIsCancelled(t *testing.T) {
	assert.True(t, IsCancelled(New(Cancelled, "stop requested")))
	assert.False(t, IsCancelled(New(Fatal, "invariant violated")))
}

func TestWithDetail_ChainsAndAccumulates(t *testing.T) {
	err := New(Invalid, "bad filter").WithDetail("field", "folder").WithDetail("reason", "empty")
	assert.Equal(t, "folder", err.Details["field"])
	assert.Equal(t, "empty", err.Details["reason"])
}
